package models

import (
	"time"

	"gorm.io/gorm"
)

// BillingModel is the collection policy applied to a billing profile
type BillingModel string

const (
	BillingModelFlywheel BillingModel = "flywheel"
	BillingModelRecovery BillingModel = "recovery"
	BillingModelLegacy   BillingModel = "legacy"
)

// BillingModels lists every billing model in dispatch order
var BillingModels = []BillingModel{BillingModelFlywheel, BillingModelRecovery, BillingModelLegacy}

// IsValid reports whether m is a known billing model
func (m BillingModel) IsValid() bool {
	switch m {
	case BillingModelFlywheel, BillingModelRecovery, BillingModelLegacy:
		return true
	}
	return false
}

// BillingProfile holds the billing configuration for one unique IBAN
type BillingProfile struct {
	ID                    uint         `gorm:"primaryKey" json:"id"`
	IBANHash              string       `gorm:"column:iban_hash;type:varchar(64);not null;uniqueIndex" json:"iban_hash"`
	BillingModel          BillingModel `gorm:"type:varchar(20);not null;default:'legacy';index" json:"billing_model"`
	Amount                int64        `gorm:"not null;default:0" json:"amount"`
	Currency              string       `gorm:"type:varchar(3);default:'EUR'" json:"currency"`
	IntervalDays          int          `gorm:"default:30" json:"interval_days"`
	NextDueAt             *time.Time   `gorm:"index" json:"next_due_at,omitempty"`
	LifetimeAmountCap     *int64       `json:"lifetime_amount_cap,omitempty"`
	LifetimeChargedAmount int64        `gorm:"default:0" json:"lifetime_charged_amount"`
	IsActive              bool         `gorm:"default:true;index" json:"is_active"`
	LastBilledAt          *time.Time   `json:"last_billed_at,omitempty"`
	CreatedAt             time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for BillingProfile
func (BillingProfile) TableName() string {
	return "billing_profiles"
}

// BeforeCreate sets default values before creating a new profile
func (p *BillingProfile) BeforeCreate(tx *gorm.DB) error {
	if p.BillingModel == "" {
		p.BillingModel = BillingModelLegacy
	}
	if p.Currency == "" {
		p.Currency = "EUR"
	}
	return nil
}

// IsDue reports whether the profile is active and its next due date has been reached
func (p *BillingProfile) IsDue(now time.Time) bool {
	if p == nil || !p.IsActive || p.NextDueAt == nil {
		return false
	}
	return !p.NextDueAt.After(now)
}

// UnderLifetimeCap reports whether another charge of Amount still fits under the cap.
// A profile without a cap is always under it.
func (p *BillingProfile) UnderLifetimeCap() bool {
	if p == nil {
		return false
	}
	if p.LifetimeAmountCap == nil {
		return true
	}
	return p.LifetimeChargedAmount+p.Amount <= *p.LifetimeAmountCap
}

// Advance moves the profile to its next billing cycle after a submitted attempt.
// Legacy profiles are one-shot and get deactivated.
func (p *BillingProfile) Advance(now time.Time) {
	p.LastBilledAt = &now
	if p.BillingModel == BillingModelLegacy || p.IntervalDays <= 0 {
		p.IsActive = false
		p.NextDueAt = nil
		return
	}
	next := now.AddDate(0, 0, p.IntervalDays)
	p.NextDueAt = &next
}
