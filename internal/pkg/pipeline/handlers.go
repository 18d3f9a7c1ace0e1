// Package pipeline holds the per-phase job handlers that validate, verify and bill the
// debtors of one dispatched chunk.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/datatypes"

	"github.com/WebOleg/sepacollect/app/models"
	"github.com/WebOleg/sepacollect/app/repository"
	"github.com/WebOleg/sepacollect/internal/pkg/bicblacklist"
	"github.com/WebOleg/sepacollect/internal/pkg/config"
	"github.com/WebOleg/sepacollect/internal/pkg/dedupe"
	"github.com/WebOleg/sepacollect/internal/pkg/gateway"
	"github.com/WebOleg/sepacollect/internal/pkg/iban"
	"github.com/WebOleg/sepacollect/internal/pkg/jobqueue"
	"github.com/WebOleg/sepacollect/internal/pkg/lock"
	"github.com/WebOleg/sepacollect/internal/pkg/vop"
)

// SkipReasonBicBlacklisted is stored on debtors whose bank is on the BIC blacklist
const SkipReasonBicBlacklisted = "bic_blacklisted"

// Phases lists the pipeline phases in execution order
var Phases = []string{config.JobKindValidation, config.JobKindVerification, config.JobKindBilling}

// JobTypeFor returns the job type that processes chunks of the given phase
func JobTypeFor(phase string) (jobqueue.JobType, bool) {
	switch phase {
	case config.JobKindValidation:
		return jobqueue.JobTypeValidateChunk, true
	case config.JobKindVerification:
		return jobqueue.JobTypeVerifyChunk, true
	case config.JobKindBilling:
		return jobqueue.JobTypeBillChunk, true
	}
	return "", false
}

// Registry is the part of the job queue the handlers bind to
type Registry interface {
	RegisterHandler(jobType jobqueue.JobType, handler jobqueue.Handler)
}

// Deps are the collaborators of the chunk handlers
type Deps struct {
	Repos   *repository.Repositories
	IBAN    iban.Validator
	Dedupe  *dedupe.Engine
	Scorer  *vop.Scorer
	Bics    *bicblacklist.Engine
	Gateway gateway.Gateway
	Locks   lock.Manager
}

// Handlers processes chunks of debtor ids for each phase
type Handlers struct {
	repos    *repository.Repositories
	iban     iban.Validator
	dedupe   *dedupe.Engine
	scorer   *vop.Scorer
	bics     *bicblacklist.Engine
	gateway  gateway.Gateway
	locks    lock.Manager
	validate *validator.Validate
	now      func() time.Time
}

type outcome int

const (
	outcomeUpdated outcome = iota
	outcomeSkipped
)

// NewHandlers wires the handlers. A nil IBAN validator falls back to the static tables.
func NewHandlers(d Deps) *Handlers {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	ibanValidator := d.IBAN
	if ibanValidator == nil {
		ibanValidator = iban.NewValidator()
	}
	return &Handlers{
		repos:    d.Repos,
		iban:     ibanValidator,
		dedupe:   d.Dedupe,
		scorer:   d.Scorer,
		bics:     d.Bics,
		gateway:  d.Gateway,
		locks:    d.Locks,
		validate: v,
		now:      time.Now,
	}
}

// WithClock replaces the time source
func (h *Handlers) WithClock(now func() time.Time) *Handlers {
	h.now = now
	return h
}

// Register binds every chunk handler to its job type
func (h *Handlers) Register(r Registry) {
	r.RegisterHandler(jobqueue.JobTypeValidateChunk, h.jobHandler(h.ValidateChunk))
	r.RegisterHandler(jobqueue.JobTypeVerifyChunk, h.jobHandler(h.VerifyChunk))
	r.RegisterHandler(jobqueue.JobTypeBillChunk, h.jobHandler(h.BillChunk))
}

func (h *Handlers) jobHandler(fn func(context.Context, []uint) (Report, error)) jobqueue.Handler {
	return func(ctx context.Context, job *jobqueue.Job) error {
		payload, err := jobqueue.ChunkJobPayloadFromMap(job.Payload)
		if err != nil {
			return jobqueue.Permanent(fmt.Errorf("decode chunk payload: %w", err))
		}
		if len(payload.DebtorIDs) == 0 {
			return jobqueue.Permanent(errors.New("chunk has no debtor ids"))
		}
		report, err := fn(ctx, payload.DebtorIDs)
		if err != nil {
			return err
		}
		log.Infof("[Pipeline] Job %s %s:%s finished: %s", job.ID, payload.Model, payload.Phase, report)
		return nil
	}
}

// ValidateChunk validates IBAN and attributes of each debtor, fills bank metadata and
// re-applies the dedupe checks. The validation locks of the chunk are released afterwards.
func (h *Handlers) ValidateChunk(ctx context.Context, ids []uint) (Report, error) {
	defer h.release(ctx, config.JobKindValidation, ids)
	return h.process(ctx, config.JobKindValidation, ids, h.validateOne)
}

// VerifyChunk scores each validated debtor and stores the resulting verification status.
// The verification locks of the chunk are released afterwards.
func (h *Handlers) VerifyChunk(ctx context.Context, ids []uint) (Report, error) {
	defer h.release(ctx, config.JobKindVerification, ids)
	return h.process(ctx, config.JobKindVerification, ids, h.verifyOne)
}

// BillChunk submits a debit for every debtor that is still eligible when the job runs.
// Billing locks are left to expire so a debtor is not billed twice within the lock TTL.
func (h *Handlers) BillChunk(ctx context.Context, ids []uint) (Report, error) {
	return h.process(ctx, config.JobKindBilling, ids, h.billOne)
}

func (h *Handlers) process(ctx context.Context, phase string, ids []uint, fn func(context.Context, *models.Debtor) (outcome, error)) (Report, error) {
	var report Report
	debtors, err := h.repos.Debtor.FindByIDs(ctx, ids)
	if err != nil {
		return report, fmt.Errorf("load %s chunk: %w", phase, err)
	}

	for i := range debtors {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		d := &debtors[i]
		report.Processed++
		res, err := fn(ctx, d)
		switch {
		case err != nil:
			report.Failed++
			log.Errorf("[Pipeline] %s failed for debtor %d: %v", phase, d.ID, err)
		case res == outcomeSkipped:
			report.Skipped++
		default:
			report.Updated++
		}
	}

	if missing := len(ids) - len(debtors); missing > 0 {
		log.Warnf("[Pipeline] %d debtors of the %s chunk no longer exist", missing, phase)
	}
	log.Debugf("[Pipeline] %s chunk of %d: %s", phase, len(ids), report)
	return report, nil
}

func (h *Handlers) release(ctx context.Context, phase string, ids []uint) {
	if h.locks == nil {
		return
	}
	for _, id := range ids {
		if err := h.locks.Release(context.WithoutCancel(ctx), lock.Key(phase, id)); err != nil {
			log.Warnf("[Pipeline] Failed to release %s lock for debtor %d: %v", phase, id, err)
		}
	}
}

func (h *Handlers) validateOne(ctx context.Context, d *models.Debtor) (outcome, error) {
	if d.ValidationStatus == models.ValidationStatusValid || d.Status == models.DebtorStatusSkipped {
		return outcomeSkipped, nil
	}
	now := h.now().UTC()
	d.ValidatedAt = &now

	if err := h.validate.Struct(d); err != nil {
		var verr *ValidationError
		if !errors.As(NewValidationError(err), &verr) {
			return outcomeUpdated, err
		}
		d.ValidationStatus = models.ValidationStatusInvalid
		d.ValidationErrors = verr.Map()
		return outcomeUpdated, h.repos.Debtor.Save(ctx, d)
	}

	res := h.iban.Validate(d.IBAN)
	d.IBANHash = iban.Hash(d.IBAN)
	if !res.Valid {
		d.IBANValid = false
		d.ValidationStatus = models.ValidationStatusInvalid
		d.ValidationErrors = datatypes.JSONMap{"iban": res.Errors}
		return outcomeUpdated, h.repos.Debtor.Save(ctx, d)
	}

	d.IBAN = res.IBAN
	d.IBANValid = true
	d.Country = res.CountryCode
	d.BankCode = res.BankID
	if bank, ok := iban.LookupBank(res.CountryCode, res.BankID); ok {
		if d.BIC == "" {
			d.BIC = bank.BIC
		}
		if d.BankName == "" {
			d.BankName = bank.Name
		}
	}
	d.ValidationStatus = models.ValidationStatusValid
	d.ValidationErrors = nil

	skip, err := h.dedupe.CheckIban(ctx, d.IBAN, d.UploadID)
	if err != nil {
		return outcomeUpdated, fmt.Errorf("dedupe: %w", err)
	}
	if skip == nil {
		if skip, err = h.dedupe.CheckIdentity(ctx, d.Email, d.FirstName, d.LastName); err != nil {
			return outcomeUpdated, fmt.Errorf("dedupe identity: %w", err)
		}
	}
	if skip != nil {
		d.Status = models.DebtorStatusSkipped
		d.SkipReason = string(skip.Reason)
		if err := h.repos.Debtor.Save(ctx, d); err != nil {
			return outcomeSkipped, err
		}
		log.Infof("[Pipeline] Debtor %d skipped during validation: %s", d.ID, skip.Reason)
		return outcomeSkipped, nil
	}

	return outcomeUpdated, h.repos.Debtor.Save(ctx, d)
}

func (h *Handlers) verifyOne(ctx context.Context, d *models.Debtor) (outcome, error) {
	if !d.IsValidated() || d.Status == models.DebtorStatusSkipped {
		return outcomeSkipped, nil
	}
	if d.IsVerified() {
		return outcomeSkipped, nil
	}

	record, cached, err := h.scorer.Score(ctx, d, false)
	if err != nil {
		return outcomeUpdated, err
	}

	now := h.now().UTC()
	status := record.Result.DebtorStatus()
	d.SetVerificationStatus(status)
	d.VerifiedAt = &now
	if d.BIC == "" && record.BIC != "" {
		d.BIC = record.BIC
	}
	if status == models.VerificationStatusVerified && d.Status == models.DebtorStatusPending {
		d.Status = models.DebtorStatusReady
	}
	if cached {
		log.Debugf("[Pipeline] Debtor %d reused verification %d", d.ID, record.ID)
	}
	return outcomeUpdated, h.repos.Debtor.Save(ctx, d)
}

func (h *Handlers) billOne(ctx context.Context, d *models.Debtor) (outcome, error) {
	now := h.now().UTC()
	profile := d.BillingProfile
	switch {
	case d.Status == models.DebtorStatusSkipped, d.Status == models.DebtorStatusRecovered:
		return outcomeSkipped, nil
	case !d.IsVerified():
		return outcomeSkipped, nil
	case profile == nil || !profile.IsDue(now) || !profile.UnderLifetimeCap():
		return outcomeSkipped, nil
	}

	skip, err := h.dedupe.CheckIban(ctx, d.IBAN, d.UploadID)
	if err != nil {
		return outcomeUpdated, fmt.Errorf("dedupe: %w", err)
	}
	// recurring profiles are paced by next_due_at, only permanent bars stop billing here
	if skip != nil && skip.Permanent {
		return h.skip(ctx, d, string(skip.Reason))
	}

	if h.bics != nil {
		blocked, entry, err := h.bics.IsBlocked(ctx, d.BIC)
		if err != nil {
			return outcomeUpdated, err
		}
		if blocked {
			log.Infof("[Pipeline] Debtor %d not billed, BIC %s matches blacklist entry %s", d.ID, d.BIC, entry.BIC)
			return h.skip(ctx, d, SkipReasonBicBlacklisted)
		}
	}

	amount := profile.Amount
	if amount <= 0 {
		amount = d.Amount
	}
	attempt := &models.BillingAttempt{
		DebtorID:         d.ID,
		BillingProfileID: &profile.ID,
		UploadID:         d.UploadID,
		Amount:           amount,
		Currency:         profile.Currency,
		BIC:              d.BIC,
	}

	result, submitErr := h.gateway.SubmitDebit(ctx, gateway.DebitRequest{
		Reference: fmt.Sprintf("D%d-%d", d.ID, now.Unix()),
		IBAN:      d.IBAN,
		BIC:       d.BIC,
		Name:      d.FullName(),
		Amount:    amount,
		Currency:  profile.Currency,
	})
	if submitErr != nil {
		attempt.Status = models.AttemptStatusError
		attempt.ErrorMessage = submitErr.Error()
		if err := h.repos.Attempt.Create(ctx, attempt); err != nil {
			log.Errorf("[Pipeline] Failed to record errored attempt for debtor %d: %v", d.ID, err)
		}
		return outcomeUpdated, submitErr
	}

	if result.TransactionID != "" {
		txID := result.TransactionID
		attempt.TransactionID = &txID
	}
	if !result.CreatedAt.IsZero() {
		at := result.CreatedAt.UTC()
		attempt.GatewayCreatedAt = &at
	}
	switch result.Status {
	case gateway.StatusApproved:
		attempt.Status = models.AttemptStatusApproved
	case gateway.StatusDeclined:
		attempt.Status = models.AttemptStatusDeclined
		attempt.ErrorMessage = result.Message
	default:
		attempt.Status = models.AttemptStatusPending
	}
	profile.Advance(now)
	if err := h.repos.Attempt.Create(ctx, attempt); err != nil {
		log.Errorf("[Pipeline] Debit %s for debtor %d (%d %s, status %s) was submitted but not recorded: %v",
			result.TransactionID, d.ID, amount, profile.Currency, attempt.Status, err)
		// the debit is out, keep the debtor off the next run
		if serr := h.repos.Profile.SaveCycle(ctx, profile); serr != nil {
			log.Errorf("[Pipeline] Failed to advance profile %d after unrecorded debit %s: %v", profile.ID, result.TransactionID, serr)
		}
		return outcomeUpdated, fmt.Errorf("record attempt %s: %w", result.TransactionID, err)
	}

	if err := h.repos.Profile.SaveCycle(ctx, profile); err != nil {
		return outcomeUpdated, fmt.Errorf("advance profile: %w", err)
	}
	if attempt.Status == models.AttemptStatusApproved {
		if err := h.repos.Profile.AddCharged(ctx, profile.ID, amount); err != nil {
			return outcomeUpdated, fmt.Errorf("add charged amount: %w", err)
		}
	}

	d.Status = models.DebtorStatusBilled
	return outcomeUpdated, h.repos.Debtor.Save(ctx, d)
}

func (h *Handlers) skip(ctx context.Context, d *models.Debtor, reason string) (outcome, error) {
	d.Status = models.DebtorStatusSkipped
	d.SkipReason = reason
	return outcomeSkipped, h.repos.Debtor.Save(ctx, d)
}
