package billing

import "time"

// Outcome is the normalised event type reported by the gateway for a transaction.
type Outcome string

const (
	OutcomeApproved     Outcome = "approved"
	OutcomeDeclined     Outcome = "declined"
	OutcomeChargebacked Outcome = "chargebacked"
	OutcomeError        Outcome = "error"
)

// OutcomeInput is the provider-agnostic shape of one gateway notification.
type OutcomeInput struct {
	Provider         string
	ProviderEventID  string
	TransactionID    string
	Outcome          Outcome
	ReasonCode       string
	ReasonMessage    string
	GatewayCreatedAt *time.Time
	OccurredAt       *time.Time
	PayloadJSON      string
}

// OutcomeResult describes what RecordOutcome did with an event.
type OutcomeResult struct {
	EventID   uint `json:"event_id"`
	Duplicate bool `json:"duplicate"`
	AttemptID uint `json:"attempt_id,omitempty"`
	Applied   bool `json:"applied"`
}
