package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/WebOleg/sepacollect/app/models"
	"github.com/WebOleg/sepacollect/internal/pkg/database/dbtest"
)

func seedDebtor(t *testing.T, db *gorm.DB, hash string, model models.BillingModel, mutate func(*models.Debtor, *models.BillingProfile)) *models.Debtor {
	t.Helper()
	due := time.Now().UTC().Add(-time.Hour)
	profile := &models.BillingProfile{
		IBANHash:     hash,
		BillingModel: model,
		Amount:       1000,
		IntervalDays: 30,
		IsActive:     true,
		NextDueAt:    &due,
	}
	debtor := &models.Debtor{
		FirstName: "Max",
		LastName:  "Mustermann",
		IBAN:      "DE89370400440532013000",
		IBANHash:  hash,
	}
	if mutate != nil {
		mutate(debtor, profile)
	}
	dbtest.Create(t, db, profile)
	debtor.BillingProfileID = &profile.ID
	dbtest.Create(t, db, debtor)
	return debtor
}

func ids(rows []Candidate) []uint {
	out := make([]uint, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.ID)
	}
	return out
}

func TestSelectCandidatesScopes(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewDebtorRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	pending := seedDebtor(t, db, "h1", models.BillingModelFlywheel, nil)
	valid := seedDebtor(t, db, "h2", models.BillingModelFlywheel, func(d *models.Debtor, _ *models.BillingProfile) {
		d.ValidationStatus = models.ValidationStatusValid
	})
	verified := seedDebtor(t, db, "h3", models.BillingModelFlywheel, func(d *models.Debtor, _ *models.BillingProfile) {
		d.ValidationStatus = models.ValidationStatusValid
		d.SetVerificationStatus(models.VerificationStatusVerified)
	})
	recovery := seedDebtor(t, db, "h4", models.BillingModelRecovery, nil)
	capped := seedDebtor(t, db, "h5", models.BillingModelFlywheel, func(d *models.Debtor, p *models.BillingProfile) {
		d.ValidationStatus = models.ValidationStatusValid
		d.SetVerificationStatus(models.VerificationStatusVerified)
		limit := int64(1500)
		p.LifetimeAmountCap = &limit
		p.LifetimeChargedAmount = 1000
	})
	notDue := seedDebtor(t, db, "h6", models.BillingModelFlywheel, func(d *models.Debtor, p *models.BillingProfile) {
		d.ValidationStatus = models.ValidationStatusValid
		d.SetVerificationStatus(models.VerificationStatusVerified)
		later := now.Add(48 * time.Hour)
		p.NextDueAt = &later
	})
	skipped := seedDebtor(t, db, "h7", models.BillingModelFlywheel, func(d *models.Debtor, _ *models.BillingProfile) {
		d.Status = models.DebtorStatusSkipped
	})

	t.Run("validation candidates", func(t *testing.T) {
		rows, err := repo.SelectCandidates(ctx, ForModel(models.BillingModelFlywheel), ProfileDue(now), Open(), NotValidated())
		require.NoError(t, err)
		assert.Equal(t, []uint{pending.ID}, ids(rows))
		assert.Equal(t, "h1", rows[0].IBANHash)
	})

	t.Run("verification candidates", func(t *testing.T) {
		rows, err := repo.SelectCandidates(ctx, ForModel(models.BillingModelFlywheel), ProfileActive(), Open(), Validated(), NotVerified())
		require.NoError(t, err)
		assert.Equal(t, []uint{valid.ID}, ids(rows))
	})

	t.Run("billing candidates", func(t *testing.T) {
		rows, err := repo.SelectCandidates(ctx,
			ForModel(models.BillingModelFlywheel), ProfileDue(now), UnderLifetimeCap(), Open(), Validated(), Verified())
		require.NoError(t, err)
		assert.Equal(t, []uint{verified.ID}, ids(rows))
		assert.NotContains(t, ids(rows), capped.ID)
		assert.NotContains(t, ids(rows), notDue.ID)
	})

	t.Run("models are isolated", func(t *testing.T) {
		rows, err := repo.SelectCandidates(ctx, ForModel(models.BillingModelRecovery))
		require.NoError(t, err)
		assert.Equal(t, []uint{recovery.ID}, ids(rows))
	})

	t.Run("skipped debtors are excluded", func(t *testing.T) {
		rows, err := repo.SelectCandidates(ctx, Open())
		require.NoError(t, err)
		assert.NotContains(t, ids(rows), skipped.ID)
	})
}

func TestNotVerifiedScope(t *testing.T) {
	tests := []struct {
		name   string
		status *models.VerificationStatus
		want   bool
	}{
		{"never checked", nil, true},
		{"pending", statusPtr(models.VerificationStatusPending), true},
		{"inconclusive", statusPtr(models.VerificationStatusInconclusive), true},
		{"rejected", statusPtr(models.VerificationStatusRejected), true},
		{"verified", statusPtr(models.VerificationStatusVerified), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := dbtest.Open(t)
			repo := NewDebtorRepository(db)
			d := seedDebtor(t, db, "nv", models.BillingModelFlywheel, func(d *models.Debtor, _ *models.BillingProfile) {
				d.ValidationStatus = models.ValidationStatusValid
				d.VerificationStatus = tt.status
			})

			rows, err := repo.SelectCandidates(context.Background(), Validated(), NotVerified())
			require.NoError(t, err)
			if tt.want {
				assert.Equal(t, []uint{d.ID}, ids(rows))
			} else {
				assert.Empty(t, rows)
			}
		})
	}
}

func statusPtr(s models.VerificationStatus) *models.VerificationStatus {
	return &s
}

func TestDebtorRepositoryMarkSkipped(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewDebtorRepository(db)
	ctx := context.Background()

	a := seedDebtor(t, db, "a", models.BillingModelLegacy, nil)
	b := seedDebtor(t, db, "b", models.BillingModelLegacy, nil)

	n, err := repo.MarkSkipped(ctx, []uint{a.ID}, "blacklisted")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DebtorStatusSkipped, got.Status)
	assert.Equal(t, "blacklisted", got.SkipReason)
	require.NotNil(t, got.BillingProfile)

	untouched, err := repo.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DebtorStatusPending, untouched.Status)

	n, err = repo.MarkSkipped(ctx, nil, "noop")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBillingProfileRepositoryAddCharged(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewBillingProfileRepository(db)
	ctx := context.Background()

	d := seedDebtor(t, db, "hash", models.BillingModelFlywheel, nil)
	require.NoError(t, repo.AddCharged(ctx, *d.BillingProfileID, 1000))
	require.NoError(t, repo.AddCharged(ctx, *d.BillingProfileID, 250))

	p, err := repo.GetByIBANHash(ctx, "hash")
	require.NoError(t, err)
	assert.Equal(t, int64(1250), p.LifetimeChargedAmount)
}

func TestBillingProfileRepositorySaveCycleKeepsChargedAmount(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewBillingProfileRepository(db)
	ctx := context.Background()

	d := seedDebtor(t, db, "cycle", models.BillingModelFlywheel, nil)
	stale, err := repo.GetByID(ctx, *d.BillingProfileID)
	require.NoError(t, err)

	require.NoError(t, repo.AddCharged(ctx, stale.ID, 700))

	now := time.Now().UTC().Truncate(time.Second)
	stale.Advance(now)
	stale.Amount = 1
	require.NoError(t, repo.SaveCycle(ctx, stale))

	p, err := repo.GetByID(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(700), p.LifetimeChargedAmount)
	assert.NotEqual(t, int64(1), p.Amount, "only cycle columns are written")
	require.NotNil(t, p.NextDueAt)
	assert.True(t, p.NextDueAt.Equal(*stale.NextDueAt))
	require.NotNil(t, p.LastBilledAt)
	assert.True(t, p.LastBilledAt.Equal(now))
}

func TestBillingAttemptRepositoryCountByStatusSince(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewBillingAttemptRepository(db)
	ctx := context.Background()

	for _, st := range []models.AttemptStatus{models.AttemptStatusApproved, models.AttemptStatusApproved, models.AttemptStatusDeclined} {
		require.NoError(t, repo.Create(ctx, &models.BillingAttempt{DebtorID: 1, Amount: 100, Status: st}))
	}

	counts, err := repo.CountByStatusSince(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[models.AttemptStatusApproved])
	assert.Equal(t, int64(1), counts[models.AttemptStatusDeclined])
}

func TestBlacklistRepositoryNormalises(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewBlacklistRepository(db)
	ctx := context.Background()

	entry := &models.Blacklist{IBAN: "de89 3704 0044 0532 0130 00", Email: " Fraud@Example.COM "}
	require.NoError(t, repo.Create(ctx, entry))
	assert.Equal(t, "DE89370400440532013000", entry.IBAN)
	assert.Equal(t, "fraud@example.com", entry.Email)
	assert.Equal(t, models.BlacklistSourceManual, entry.Source)

	ok, err := repo.ExistsForIBANHash(ctx, entry.IBANHash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.ExistsForIBANHash(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFactoryReturnsSingleton(t *testing.T) {
	db := dbtest.Open(t)
	f := NewFactory(db, nil)

	first := f.GetRepositories()
	require.NotNil(t, first.Debtor)
	assert.Same(t, first, f.GetRepositories())
}
