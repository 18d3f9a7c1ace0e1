package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/WebOleg/sepacollect/app/models"
)

var (
	// ErrUnknownOutcome is returned for event types the service cannot map to an attempt status.
	ErrUnknownOutcome = errors.New("unknown outcome")
	// ErrMissingIdentifiers is returned when provider or transaction id are empty.
	ErrMissingIdentifiers = errors.New("provider and transaction_id are required")
	// ErrAttemptNotFound is returned when no attempt carries the event's transaction id.
	ErrAttemptNotFound = errors.New("no attempt for transaction")
)

// Service records gateway outcomes and applies them to billing attempts.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a billing service from an injected repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db))
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// ParseOutcome maps a raw gateway event type onto an Outcome.
func ParseOutcome(raw string) (Outcome, error) {
	switch o := Outcome(strings.ToLower(strings.TrimSpace(raw))); o {
	case OutcomeApproved, OutcomeDeclined, OutcomeChargebacked, OutcomeError:
		return o, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownOutcome, raw)
}

// RecordOutcome persists the event once per (provider, event id) and applies it to the
// attempt identified by the transaction id. Replayed events are reported as duplicates
// and leave the attempt untouched.
func (s *Service) RecordOutcome(ctx context.Context, in OutcomeInput) (*OutcomeResult, error) {
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	txID := strings.TrimSpace(in.TransactionID)
	if provider == "" || txID == "" {
		return nil, ErrMissingIdentifiers
	}
	outcome, err := ParseOutcome(string(in.Outcome))
	if err != nil {
		return nil, err
	}

	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(txID + "|" + string(outcome) + "|" + in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	created, event, err := s.repo.CreateEventIfNotExists(ctx, &models.GatewayEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       string(outcome),
		TransactionID:   txID,
		PayloadJSON:     in.PayloadJSON,
	})
	if err != nil {
		return nil, err
	}
	result := &OutcomeResult{EventID: event.ID, Duplicate: !created}
	if !created {
		log.Debugf("[Billing] Duplicate event %s/%s ignored", provider, eventID)
		return result, nil
	}

	attemptID, applied, applyErr := s.apply(ctx, txID, outcome, in)
	result.AttemptID = attemptID
	result.Applied = applied

	errMsg := ""
	if applyErr != nil {
		errMsg = applyErr.Error()
	}
	if err := s.repo.MarkEventProcessed(ctx, event.ID, errMsg); err != nil {
		log.Errorf("[Billing] Failed to mark event %d processed: %v", event.ID, err)
	}
	if applyErr != nil {
		return result, applyErr
	}
	return result, nil
}

func (s *Service) apply(ctx context.Context, txID string, outcome Outcome, in OutcomeInput) (uint, bool, error) {
	attempt, err := s.repo.FindAttemptByTransactionID(ctx, txID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, false, fmt.Errorf("%w %s", ErrAttemptNotFound, txID)
		}
		return 0, false, err
	}

	previous := attempt.Status
	if in.GatewayCreatedAt != nil && attempt.GatewayCreatedAt == nil {
		at := in.GatewayCreatedAt.UTC()
		attempt.GatewayCreatedAt = &at
	}

	switch outcome {
	case OutcomeApproved:
		if previous == models.AttemptStatusChargebacked {
			// a late approval never overrides a chargeback
			return attempt.ID, false, nil
		}
		attempt.Status = models.AttemptStatusApproved
	case OutcomeDeclined:
		if previous.IsSettled() {
			return attempt.ID, false, nil
		}
		attempt.Status = models.AttemptStatusDeclined
		attempt.ErrorMessage = in.ReasonMessage
	case OutcomeChargebacked:
		occurred := s.now().UTC()
		if in.OccurredAt != nil {
			occurred = in.OccurredAt.UTC()
		}
		attempt.Status = models.AttemptStatusChargebacked
		attempt.ChargebackReasonCode = strings.ToUpper(strings.TrimSpace(in.ReasonCode))
		attempt.ChargebackReasonDescription = in.ReasonMessage
		attempt.ChargebackedAt = &occurred
	case OutcomeError:
		if previous.IsSettled() {
			return attempt.ID, false, nil
		}
		attempt.Status = models.AttemptStatusError
		attempt.ErrorMessage = in.ReasonMessage
	}

	if err := s.repo.SaveAttempt(ctx, attempt); err != nil {
		return attempt.ID, false, err
	}

	if outcome == OutcomeApproved && previous != models.AttemptStatusApproved && attempt.BillingProfileID != nil {
		if err := s.repo.AddCharged(ctx, *attempt.BillingProfileID, attempt.Amount); err != nil {
			return attempt.ID, true, err
		}
	}

	log.Infof("[Billing] Attempt %d %s -> %s (tx %s)", attempt.ID, previous, attempt.Status, txID)
	return attempt.ID, true, nil
}
