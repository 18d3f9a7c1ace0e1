package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ValidationStatus is the IBAN/attribute validation state of a debtor
type ValidationStatus string

const (
	ValidationStatusPending ValidationStatus = "pending"
	ValidationStatusValid   ValidationStatus = "valid"
	ValidationStatusInvalid ValidationStatus = "invalid"
)

// VerificationStatus is the payee-verification state of a debtor
type VerificationStatus string

const (
	VerificationStatusPending      VerificationStatus = "pending"
	VerificationStatusVerified     VerificationStatus = "verified"
	VerificationStatusInconclusive VerificationStatus = "inconclusive"
	VerificationStatusRejected     VerificationStatus = "rejected"
)

// DebtorStatus is the overall lifecycle status of a debtor
type DebtorStatus string

const (
	DebtorStatusPending   DebtorStatus = "pending"
	DebtorStatusReady     DebtorStatus = "ready"
	DebtorStatusSkipped   DebtorStatus = "skipped"
	DebtorStatusBilled    DebtorStatus = "billed"
	DebtorStatusRecovered DebtorStatus = "recovered"
	DebtorStatusFailed    DebtorStatus = "failed"
)

// Debtor is a person/account owed money, created on import
type Debtor struct {
	ID                 uint                `gorm:"primaryKey" json:"id"`
	UploadID           *uint               `gorm:"index" json:"upload_id,omitempty"`
	FirstName          string              `gorm:"type:varchar(100)" json:"first_name" validate:"required,max=100"`
	LastName           string              `gorm:"type:varchar(100)" json:"last_name" validate:"required,max=100"`
	Email              string              `gorm:"type:varchar(200);default:''" json:"email" validate:"omitempty,email"`
	IBAN               string              `gorm:"column:iban;type:varchar(64);not null" json:"iban" validate:"required"`
	IBANHash           string              `gorm:"column:iban_hash;type:varchar(64);index" json:"iban_hash"`
	IBANValid          bool                `gorm:"column:iban_valid;default:false" json:"iban_valid"`
	Country            string              `gorm:"type:varchar(2);default:''" json:"country"`
	BankCode           string              `gorm:"type:varchar(20);default:''" json:"bank_code"`
	BIC                string              `gorm:"column:bic;type:varchar(11);default:''" json:"bic"`
	BankName           string              `gorm:"type:varchar(200);default:''" json:"bank_name"`
	Amount             int64               `gorm:"default:0" json:"amount" validate:"gte=0"`
	Currency           string              `gorm:"type:varchar(3);default:'EUR'" json:"currency"`
	ValidationStatus   ValidationStatus    `gorm:"type:varchar(20);not null;default:'pending';index" json:"validation_status"`
	ValidationErrors   datatypes.JSONMap   `json:"validation_errors,omitempty"`
	ValidatedAt        *time.Time          `json:"validated_at,omitempty"`
	VerificationStatus *VerificationStatus `gorm:"type:varchar(20);index" json:"verification_status,omitempty"`
	VerifiedAt         *time.Time          `json:"verified_at,omitempty"`
	Status             DebtorStatus        `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	SkipReason         string              `gorm:"type:varchar(50);default:''" json:"skip_reason"`
	BillingProfileID   *uint               `gorm:"index" json:"billing_profile_id,omitempty"`
	BillingProfile     *BillingProfile     `gorm:"foreignKey:BillingProfileID" json:"billing_profile,omitempty"`
	CreatedAt          time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for Debtor
func (Debtor) TableName() string {
	return "debtors"
}

// BeforeCreate sets default values before creating a new debtor
func (d *Debtor) BeforeCreate(tx *gorm.DB) error {
	if d.ValidationStatus == "" {
		d.ValidationStatus = ValidationStatusPending
	}
	if d.Status == "" {
		d.Status = DebtorStatusPending
	}
	if d.Currency == "" {
		d.Currency = "EUR"
	}
	return nil
}

// FullName returns "first last" trimmed of empty parts
func (d *Debtor) FullName() string {
	switch {
	case d.FirstName == "":
		return d.LastName
	case d.LastName == "":
		return d.FirstName
	default:
		return d.FirstName + " " + d.LastName
	}
}

// IsValidated reports whether the debtor passed IBAN validation
func (d *Debtor) IsValidated() bool {
	return d.ValidationStatus == ValidationStatusValid
}

// IsVerified reports whether the debtor passed payee verification
func (d *Debtor) IsVerified() bool {
	return d.VerificationStatus != nil && *d.VerificationStatus == VerificationStatusVerified
}

// SetVerificationStatus assigns the verification status
func (d *Debtor) SetVerificationStatus(status VerificationStatus) {
	d.VerificationStatus = &status
}

// FindDebtorByID loads a debtor together with its billing profile
func FindDebtorByID(db *gorm.DB, id uint) (*Debtor, error) {
	var debtor Debtor
	err := db.Preload("BillingProfile").First(&debtor, id).Error
	return &debtor, err
}
