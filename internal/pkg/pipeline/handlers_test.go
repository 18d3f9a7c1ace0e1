package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/WebOleg/sepacollect/app/models"
	"github.com/WebOleg/sepacollect/app/repository"
	"github.com/WebOleg/sepacollect/internal/pkg/bicblacklist"
	"github.com/WebOleg/sepacollect/internal/pkg/config"
	"github.com/WebOleg/sepacollect/internal/pkg/database/dbtest"
	"github.com/WebOleg/sepacollect/internal/pkg/dedupe"
	"github.com/WebOleg/sepacollect/internal/pkg/gateway"
	"github.com/WebOleg/sepacollect/internal/pkg/iban"
	"github.com/WebOleg/sepacollect/internal/pkg/jobqueue"
	"github.com/WebOleg/sepacollect/internal/pkg/lock"
	"github.com/WebOleg/sepacollect/internal/pkg/vop"
)

var fixedNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	db       *gorm.DB
	repos    *repository.Repositories
	locks    lock.Manager
	sandbox  *gateway.Sandbox
	handlers *Handlers
}

func newFixture(t *testing.T, gw gateway.Gateway) *fixture {
	t.Helper()
	db := dbtest.Open(t)
	clock := func() time.Time { return fixedNow }
	cfg := config.Default()

	f := &fixture{
		db:      db,
		repos:   repository.NewRepositories(db, nil),
		locks:   lock.NewMemoryManager(clock),
		sandbox: gateway.NewSandbox(),
	}
	if gw == nil {
		gw = f.sandbox
	}
	f.handlers = NewHandlers(Deps{
		Repos:   f.repos,
		Dedupe:  dedupe.NewEngine(dedupe.NewRepository(db), cfg.Dedupe).WithClock(clock),
		Scorer:  vop.NewScorer(cfg.Vop, iban.NewValidator(), nil, vop.NewRepository(db)).WithClock(clock),
		Bics:    bicblacklist.NewEngine(bicblacklist.NewRepository(db), cfg.BicBlacklist).WithClock(clock),
		Gateway: gw,
		Locks:   f.locks,
	}).WithClock(clock)
	return f
}

func (f *fixture) debtor(t *testing.T, d *models.Debtor) *models.Debtor {
	t.Helper()
	if d.FirstName == "" {
		d.FirstName = "Max"
	}
	if d.LastName == "" {
		d.LastName = "Mustermann"
	}
	dbtest.Create(t, f.db, d)
	return d
}

func (f *fixture) reload(t *testing.T, id uint) *models.Debtor {
	t.Helper()
	d, err := f.repos.Debtor.GetByID(context.Background(), id)
	require.NoError(t, err)
	return d
}

func (f *fixture) lockAll(t *testing.T, phase string, ids ...uint) {
	t.Helper()
	for _, id := range ids {
		ok, err := f.locks.TryAcquire(context.Background(), lock.Key(phase, id), time.Hour)
		require.NoError(t, err)
		require.True(t, ok)
	}
}

func (f *fixture) assertUnlocked(t *testing.T, phase string, ids ...uint) {
	t.Helper()
	for _, id := range ids {
		held, err := f.locks.Exists(context.Background(), lock.Key(phase, id))
		require.NoError(t, err)
		assert.False(t, held, "lock for debtor %d still held", id)
	}
}

func verified() *models.VerificationStatus {
	s := models.VerificationStatusVerified
	return &s
}

func dueProfile(hash string, m models.BillingModel) *models.BillingProfile {
	due := fixedNow.Add(-time.Hour)
	return &models.BillingProfile{
		IBANHash:     hash,
		BillingModel: m,
		Amount:       2500,
		IntervalDays: 30,
		NextDueAt:    &due,
		IsActive:     true,
	}
}

func TestValidateChunk(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	good := f.debtor(t, &models.Debtor{IBAN: "de89 3704 0044 0532 0130 00"})
	badChecksum := f.debtor(t, &models.Debtor{IBAN: "DE89370400440532013001"})
	noEmail := f.debtor(t, &models.Debtor{IBAN: "NL91ABNA0417164300", Email: "not-an-email"})
	blacklisted := f.debtor(t, &models.Debtor{IBAN: "AT611904300234573201"})
	require.NoError(t, f.repos.Blacklist.Create(ctx, &models.Blacklist{IBAN: "AT61 1904 3002 3457 3201", Reason: "fraud"}))

	ids := []uint{good.ID, badChecksum.ID, noEmail.ID, blacklisted.ID, 9999}
	f.lockAll(t, config.JobKindValidation, ids...)

	report, err := f.handlers.ValidateChunk(ctx, ids)
	require.NoError(t, err)
	assert.Equal(t, Report{Processed: 4, Updated: 3, Skipped: 1}, report)

	stored := f.reload(t, good.ID)
	assert.Equal(t, models.ValidationStatusValid, stored.ValidationStatus)
	assert.Equal(t, "DE89370400440532013000", stored.IBAN)
	assert.Equal(t, iban.Hash("DE89370400440532013000"), stored.IBANHash)
	assert.True(t, stored.IBANValid)
	assert.Equal(t, "DE", stored.Country)
	assert.Equal(t, "37040044", stored.BankCode)
	assert.Equal(t, "COBADEFFXXX", stored.BIC)
	assert.NotEmpty(t, stored.BankName)
	require.NotNil(t, stored.ValidatedAt)

	stored = f.reload(t, badChecksum.ID)
	assert.Equal(t, models.ValidationStatusInvalid, stored.ValidationStatus)
	assert.False(t, stored.IBANValid)
	assert.Contains(t, stored.ValidationErrors, "iban")

	stored = f.reload(t, noEmail.ID)
	assert.Equal(t, models.ValidationStatusInvalid, stored.ValidationStatus)
	assert.Contains(t, stored.ValidationErrors, "email")

	stored = f.reload(t, blacklisted.ID)
	assert.Equal(t, models.DebtorStatusSkipped, stored.Status)
	assert.Equal(t, string(dedupe.ReasonBlacklisted), stored.SkipReason)

	f.assertUnlocked(t, config.JobKindValidation, ids...)
}

func TestValidateChunk_SkipsAlreadyValidated(t *testing.T) {
	f := newFixture(t, nil)
	d := f.debtor(t, &models.Debtor{IBAN: "DE89370400440532013000", ValidationStatus: models.ValidationStatusValid})

	report, err := f.handlers.ValidateChunk(context.Background(), []uint{d.ID})
	require.NoError(t, err)
	assert.Equal(t, Report{Processed: 1, Skipped: 1}, report)
}

func TestValidateChunk_BlacklistedEmail(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.repos.Blacklist.Create(ctx, &models.Blacklist{Email: " Fraud@Example.com "}))
	d := f.debtor(t, &models.Debtor{IBAN: "DE89370400440532013000", Email: "fraud@example.com"})

	report, err := f.handlers.ValidateChunk(ctx, []uint{d.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)

	stored := f.reload(t, d.ID)
	assert.Equal(t, string(dedupe.ReasonBlacklistedEmail), stored.SkipReason)
	assert.Equal(t, models.ValidationStatusValid, stored.ValidationStatus)
}

func TestVerifyChunk(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	top := f.debtor(t, &models.Debtor{IBAN: "DE89370400440532013000", ValidationStatus: models.ValidationStatusValid})
	foreign := f.debtor(t, &models.Debtor{IBAN: "GB29NWBK60161331926819", ValidationStatus: models.ValidationStatusValid})
	pending := f.debtor(t, &models.Debtor{IBAN: "NL91ABNA0417164300"})

	ids := []uint{top.ID, foreign.ID, pending.ID}
	f.lockAll(t, config.JobKindVerification, ids...)

	report, err := f.handlers.VerifyChunk(ctx, ids)
	require.NoError(t, err)
	assert.Equal(t, Report{Processed: 3, Updated: 2, Skipped: 1}, report)

	stored := f.reload(t, top.ID)
	require.NotNil(t, stored.VerificationStatus)
	assert.Equal(t, models.VerificationStatusVerified, *stored.VerificationStatus)
	assert.Equal(t, models.DebtorStatusReady, stored.Status)
	assert.NotNil(t, stored.VerifiedAt)

	stored = f.reload(t, foreign.ID)
	require.NotNil(t, stored.VerificationStatus)
	assert.Equal(t, models.VerificationStatusInconclusive, *stored.VerificationStatus)
	assert.Equal(t, models.DebtorStatusPending, stored.Status)

	assert.Nil(t, f.reload(t, pending.ID).VerificationStatus)

	var logs int64
	require.NoError(t, f.db.Model(&models.PayeeVerification{}).Count(&logs).Error)
	assert.Equal(t, int64(2), logs)

	f.assertUnlocked(t, config.JobKindVerification, ids...)
}

func TestVerifyChunk_RescoresUnsettledDebtors(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	inconclusive := models.VerificationStatusInconclusive
	retried := f.debtor(t, &models.Debtor{IBAN: "DE89370400440532013000",
		ValidationStatus: models.ValidationStatusValid, VerificationStatus: &inconclusive})
	done := f.debtor(t, &models.Debtor{IBAN: "DE89370400440532013000",
		ValidationStatus: models.ValidationStatusValid, VerificationStatus: verified()})

	ids := []uint{retried.ID, done.ID}
	f.lockAll(t, config.JobKindVerification, ids...)

	report, err := f.handlers.VerifyChunk(ctx, ids)
	require.NoError(t, err)
	assert.Equal(t, Report{Processed: 2, Updated: 1, Skipped: 1}, report)

	stored := f.reload(t, retried.ID)
	require.NotNil(t, stored.VerificationStatus)
	assert.Equal(t, models.VerificationStatusVerified, *stored.VerificationStatus)
	assert.Equal(t, models.DebtorStatusReady, stored.Status)
	assert.Nil(t, f.reload(t, done.ID).VerifiedAt)

	f.assertUnlocked(t, config.JobKindVerification, ids...)
}

func TestBillChunk(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	flywheel := dueProfile("p-flywheel", models.BillingModelFlywheel)
	legacy := dueProfile("p-legacy", models.BillingModelLegacy)
	future := dueProfile("p-future", models.BillingModelFlywheel)
	later := fixedNow.Add(24 * time.Hour)
	future.NextDueAt = &later
	blocked := dueProfile("p-blocked", models.BillingModelRecovery)
	dbtest.Create(t, f.db, flywheel, legacy, future, blocked,
		&models.BicBlacklist{BIC: "DEUTDE", IsPrefix: true, Source: "auto"})

	billed := f.debtor(t, &models.Debtor{
		IBAN: "DE89370400440532013000", BIC: "COBADEFFXXX", BillingProfileID: &flywheel.ID,
		ValidationStatus: models.ValidationStatusValid, VerificationStatus: verified(),
	})
	oneShot := f.debtor(t, &models.Debtor{
		IBAN: "NL91ABNA0417164300", BIC: "ABNANL2AXXX", BillingProfileID: &legacy.ID,
		ValidationStatus: models.ValidationStatusValid, VerificationStatus: verified(),
	})
	notDue := f.debtor(t, &models.Debtor{
		IBAN: "AT611904300234573201", BillingProfileID: &future.ID,
		ValidationStatus: models.ValidationStatusValid, VerificationStatus: verified(),
	})
	blockedBank := f.debtor(t, &models.Debtor{
		IBAN: "BE68539007547034", BIC: "DEUTDEFFXXX", BillingProfileID: &blocked.ID,
		ValidationStatus: models.ValidationStatusValid, VerificationStatus: verified(),
	})

	ids := []uint{billed.ID, oneShot.ID, notDue.ID, blockedBank.ID}
	f.lockAll(t, config.JobKindBilling, ids...)

	report, err := f.handlers.BillChunk(ctx, ids)
	require.NoError(t, err)
	assert.Equal(t, Report{Processed: 4, Updated: 2, Skipped: 2}, report)
	assert.Len(t, f.sandbox.Submitted(), 2)

	var attempts []models.BillingAttempt
	require.NoError(t, f.db.Order("id").Find(&attempts).Error)
	require.Len(t, attempts, 2)
	assert.Equal(t, billed.ID, attempts[0].DebtorID)
	assert.Equal(t, models.AttemptStatusPending, attempts[0].Status)
	assert.Equal(t, int64(2500), attempts[0].Amount)
	assert.Equal(t, "COBADEFFXXX", attempts[0].BIC)
	require.NotNil(t, attempts[0].TransactionID)
	assert.Contains(t, *attempts[0].TransactionID, "sbx_")

	assert.Equal(t, models.DebtorStatusBilled, f.reload(t, billed.ID).Status)

	p, err := f.repos.Profile.GetByID(ctx, flywheel.ID)
	require.NoError(t, err)
	require.NotNil(t, p.NextDueAt)
	assert.True(t, p.NextDueAt.Equal(fixedNow.AddDate(0, 0, 30)))
	assert.True(t, p.IsActive)

	p, err = f.repos.Profile.GetByID(ctx, legacy.ID)
	require.NoError(t, err)
	assert.False(t, p.IsActive)
	assert.Nil(t, p.NextDueAt)

	stored := f.reload(t, blockedBank.ID)
	assert.Equal(t, models.DebtorStatusSkipped, stored.Status)
	assert.Equal(t, SkipReasonBicBlacklisted, stored.SkipReason)

	// billing locks are left to expire
	held, err := f.locks.Exists(ctx, lock.Key(config.JobKindBilling, billed.ID))
	require.NoError(t, err)
	assert.True(t, held)
}

func TestBillChunk_ChargebackedIbanIsSkipped(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	profile := dueProfile("p-cb", models.BillingModelFlywheel)
	dbtest.Create(t, f.db, profile)
	earlier := f.debtor(t, &models.Debtor{IBAN: "DE89370400440532013000", IBANHash: iban.Hash("DE89370400440532013000")})
	dbtest.Create(t, f.db, &models.BillingAttempt{DebtorID: earlier.ID, Amount: 1000, Status: models.AttemptStatusChargebacked})

	d := f.debtor(t, &models.Debtor{
		IBAN: "DE89370400440532013000", IBANHash: iban.Hash("DE89370400440532013000"), BillingProfileID: &profile.ID,
		ValidationStatus: models.ValidationStatusValid, VerificationStatus: verified(),
	})

	report, err := f.handlers.BillChunk(ctx, []uint{d.ID})
	require.NoError(t, err)
	assert.Equal(t, Report{Processed: 1, Skipped: 1}, report)
	assert.Empty(t, f.sandbox.Submitted())
	assert.Equal(t, string(dedupe.ReasonChargebacked), f.reload(t, d.ID).SkipReason)
}

type failingGateway struct{}

func (failingGateway) Name() string { return "failing" }

func (failingGateway) SubmitDebit(context.Context, gateway.DebitRequest) (gateway.DebitResult, error) {
	return gateway.DebitResult{}, &gateway.ExternalServiceError{Service: "failing", Err: errors.New("timeout")}
}

func TestBillChunk_GatewayErrorIsCountedAndRecorded(t *testing.T) {
	f := newFixture(t, failingGateway{})
	ctx := context.Background()

	profile := dueProfile("p-err", models.BillingModelRecovery)
	dbtest.Create(t, f.db, profile)
	d := f.debtor(t, &models.Debtor{
		IBAN: "DE89370400440532013000", BillingProfileID: &profile.ID,
		ValidationStatus: models.ValidationStatusValid, VerificationStatus: verified(),
	})

	report, err := f.handlers.BillChunk(ctx, []uint{d.ID})
	require.NoError(t, err)
	assert.Equal(t, Report{Processed: 1, Failed: 1}, report)

	var attempt models.BillingAttempt
	require.NoError(t, f.db.First(&attempt).Error)
	assert.Equal(t, models.AttemptStatusError, attempt.Status)
	assert.Contains(t, attempt.ErrorMessage, "timeout")

	// the profile stays due so the next dispatch retries
	p, err := f.repos.Profile.GetByID(ctx, profile.ID)
	require.NoError(t, err)
	assert.True(t, p.IsDue(fixedNow))
	assert.Equal(t, models.DebtorStatusPending, f.reload(t, d.ID).Status)
}

// hookGateway runs during submission to interleave writes with a billing chunk
type hookGateway struct {
	during func()
}

func (hookGateway) Name() string { return "hook" }

func (g hookGateway) SubmitDebit(context.Context, gateway.DebitRequest) (gateway.DebitResult, error) {
	g.during()
	return gateway.DebitResult{TransactionID: "tx-hook", Status: gateway.StatusPending, CreatedAt: fixedNow}, nil
}

func TestBillChunk_KeepsChargedAmountRecordedMeanwhile(t *testing.T) {
	ctx := context.Background()
	profile := dueProfile("p-concurrent", models.BillingModelFlywheel)

	var f *fixture
	f = newFixture(t, hookGateway{during: func() {
		// an approval for an earlier cycle lands while the chunk is running
		require.NoError(t, f.repos.Profile.AddCharged(ctx, profile.ID, 1000))
	}})
	dbtest.Create(t, f.db, profile)
	d := f.debtor(t, &models.Debtor{
		IBAN: "DE89370400440532013000", BillingProfileID: &profile.ID,
		ValidationStatus: models.ValidationStatusValid, VerificationStatus: verified(),
	})

	report, err := f.handlers.BillChunk(ctx, []uint{d.ID})
	require.NoError(t, err)
	assert.Equal(t, Report{Processed: 1, Updated: 1}, report)

	p, err := f.repos.Profile.GetByID(ctx, profile.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), p.LifetimeChargedAmount)
	require.NotNil(t, p.NextDueAt)
	assert.True(t, p.NextDueAt.Equal(fixedNow.AddDate(0, 0, 30)))
	require.NotNil(t, p.LastBilledAt)
	assert.True(t, p.IsActive)
}

func TestBillChunk_UnrecordedDebitStillAdvancesProfile(t *testing.T) {
	ctx := context.Background()
	profile := dueProfile("p-unrecorded", models.BillingModelRecovery)

	var f *fixture
	f = newFixture(t, hookGateway{during: func() {
		require.NoError(t, f.db.Migrator().DropTable(&models.BillingAttempt{}))
	}})
	dbtest.Create(t, f.db, profile)
	d := f.debtor(t, &models.Debtor{
		IBAN: "DE89370400440532013000", BillingProfileID: &profile.ID,
		ValidationStatus: models.ValidationStatusValid, VerificationStatus: verified(),
	})

	report, err := f.handlers.BillChunk(ctx, []uint{d.ID})
	require.NoError(t, err)
	assert.Equal(t, Report{Processed: 1, Failed: 1}, report)

	p, err := f.repos.Profile.GetByID(ctx, profile.ID)
	require.NoError(t, err)
	assert.False(t, p.IsDue(fixedNow), "a submitted debit must not leave the profile due")
	require.NotNil(t, p.LastBilledAt)
}

type registry map[jobqueue.JobType]jobqueue.Handler

func (r registry) RegisterHandler(jobType jobqueue.JobType, handler jobqueue.Handler) {
	r[jobType] = handler
}

func TestRegister(t *testing.T) {
	f := newFixture(t, nil)
	reg := registry{}
	f.handlers.Register(reg)
	require.Len(t, reg, 3)

	d := f.debtor(t, &models.Debtor{IBAN: "DE89370400440532013000"})
	payload := jobqueue.ChunkJobPayload{Model: "flywheel", Phase: config.JobKindValidation, DebtorIDs: []uint{d.ID}}
	err := reg[jobqueue.JobTypeValidateChunk](context.Background(), &jobqueue.Job{ID: "job-1", Payload: payload.ToMap()})
	require.NoError(t, err)
	assert.Equal(t, models.ValidationStatusValid, f.reload(t, d.ID).ValidationStatus)

	err = reg[jobqueue.JobTypeBillChunk](context.Background(), &jobqueue.Job{ID: "job-2", Payload: map[string]interface{}{"debtor_ids": []uint{}}})
	assert.ErrorIs(t, err, jobqueue.ErrPermanent)

	err = reg[jobqueue.JobTypeVerifyChunk](context.Background(), &jobqueue.Job{ID: "job-3", Payload: map[string]interface{}{"debtor_ids": "nope"}})
	assert.ErrorIs(t, err, jobqueue.ErrPermanent)
}

func TestJobTypeFor(t *testing.T) {
	for _, phase := range Phases {
		_, ok := JobTypeFor(phase)
		assert.True(t, ok, phase)
	}
	_, ok := JobTypeFor("refund")
	assert.False(t, ok)
}
