// Package gateway defines the payment-gateway collaborator used to submit SEPA direct debits.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the immediate answer of the gateway to a debit submission
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDeclined Status = "declined"
)

// DebitRequest describes one SEPA direct debit
type DebitRequest struct {
	Reference string
	IBAN      string
	BIC       string
	Name      string
	Amount    int64
	Currency  string
}

// DebitResult is the gateway's reply to SubmitDebit
type DebitResult struct {
	TransactionID string
	Status        Status
	Message       string
	CreatedAt     time.Time
}

// Gateway submits debits to the payment provider
type Gateway interface {
	Name() string
	SubmitDebit(ctx context.Context, req DebitRequest) (DebitResult, error)
}

// ExternalServiceError wraps a failure of a third-party collaborator
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

// IsExternal reports whether err originates from an external collaborator
func IsExternal(err error) bool {
	var ext *ExternalServiceError
	return errors.As(err, &ext)
}

// Sandbox accepts every well-formed debit as pending and remembers the submissions
type Sandbox struct {
	mu        sync.Mutex
	submitted []DebitRequest
	now       func() time.Time
}

// NewSandbox creates a sandbox gateway
func NewSandbox() *Sandbox {
	return &Sandbox{now: time.Now}
}

// Name implements Gateway
func (s *Sandbox) Name() string {
	return "sandbox"
}

// SubmitDebit implements Gateway
func (s *Sandbox) SubmitDebit(ctx context.Context, req DebitRequest) (DebitResult, error) {
	if err := ctx.Err(); err != nil {
		return DebitResult{}, &ExternalServiceError{Service: s.Name(), Err: err}
	}
	if req.Amount <= 0 {
		return DebitResult{Status: StatusDeclined, Message: "amount must be positive", CreatedAt: s.now().UTC()}, nil
	}
	if strings.TrimSpace(req.IBAN) == "" {
		return DebitResult{Status: StatusDeclined, Message: "missing iban", CreatedAt: s.now().UTC()}, nil
	}

	s.mu.Lock()
	s.submitted = append(s.submitted, req)
	s.mu.Unlock()

	return DebitResult{
		TransactionID: "sbx_" + uuid.New().String(),
		Status:        StatusPending,
		CreatedAt:     s.now().UTC(),
	}, nil
}

// Submitted returns a copy of all accepted requests
func (s *Sandbox) Submitted() []DebitRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]DebitRequest(nil), s.submitted...)
}
