package models

import (
	"time"

	"gorm.io/gorm"
)

// AttemptStatus is the outcome state of a billing attempt
type AttemptStatus string

const (
	AttemptStatusPending      AttemptStatus = "pending"
	AttemptStatusApproved     AttemptStatus = "approved"
	AttemptStatusDeclined     AttemptStatus = "declined"
	AttemptStatusChargebacked AttemptStatus = "chargebacked"
	AttemptStatusError        AttemptStatus = "error"
)

// IsSettled reports whether the attempt reached a final gateway outcome
func (s AttemptStatus) IsSettled() bool {
	return s == AttemptStatusApproved || s == AttemptStatusDeclined || s == AttemptStatusChargebacked
}

// BillingAttempt records one collection attempt against a debtor
type BillingAttempt struct {
	ID                          uint          `gorm:"primaryKey" json:"id"`
	DebtorID                    uint          `gorm:"not null;index" json:"debtor_id"`
	BillingProfileID            *uint         `gorm:"index" json:"billing_profile_id,omitempty"`
	UploadID                    *uint         `gorm:"index" json:"upload_id,omitempty"`
	TransactionID               *string       `gorm:"type:varchar(100);uniqueIndex" json:"transaction_id,omitempty"`
	Status                      AttemptStatus `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	Amount                      int64         `gorm:"not null" json:"amount"`
	Currency                    string        `gorm:"type:varchar(3);default:'EUR'" json:"currency"`
	BIC                         string        `gorm:"column:bic;type:varchar(11);default:'';index" json:"bic"`
	ChargebackReasonCode        string        `gorm:"type:varchar(10);default:''" json:"chargeback_reason_code"`
	ChargebackReasonDescription string        `gorm:"type:varchar(255);default:''" json:"chargeback_reason_description"`
	ErrorMessage                string        `gorm:"type:text" json:"error_message"`
	CreatedAt                   time.Time     `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt                   time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
	GatewayCreatedAt            *time.Time    `json:"gateway_created_at,omitempty"`
	ChargebackedAt              *time.Time    `json:"chargebacked_at,omitempty"`
}

// TableName returns the table name for BillingAttempt
func (BillingAttempt) TableName() string {
	return "billing_attempts"
}

// BeforeCreate sets default values before creating a new attempt
func (a *BillingAttempt) BeforeCreate(tx *gorm.DB) error {
	if a.Status == "" {
		a.Status = AttemptStatusPending
	}
	if a.Currency == "" {
		a.Currency = "EUR"
	}
	return nil
}

// EffectiveAt returns the gateway-reported timestamp when present, the local creation time otherwise
func (a *BillingAttempt) EffectiveAt() time.Time {
	if a.GatewayCreatedAt != nil {
		return *a.GatewayCreatedAt
	}
	return a.CreatedAt
}
