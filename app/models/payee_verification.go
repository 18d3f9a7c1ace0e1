package models

import (
	"time"

	"gorm.io/datatypes"
)

// VerificationResult is the classification band of a payee verification
type VerificationResult string

const (
	VerificationResultVerified       VerificationResult = "verified"
	VerificationResultLikelyVerified VerificationResult = "likely_verified"
	VerificationResultInconclusive   VerificationResult = "inconclusive"
	VerificationResultMismatch       VerificationResult = "mismatch"
	VerificationResultRejected       VerificationResult = "rejected"
)

// DebtorStatus maps a verification result onto the debtor's verification status
func (r VerificationResult) DebtorStatus() VerificationStatus {
	switch r {
	case VerificationResultVerified, VerificationResultLikelyVerified:
		return VerificationStatusVerified
	case VerificationResultInconclusive:
		return VerificationStatusInconclusive
	default:
		return VerificationStatusRejected
	}
}

// PayeeVerification is the append-only log of one scoring run (the VOP log)
type PayeeVerification struct {
	ID         uint               `gorm:"primaryKey" json:"id"`
	DebtorID   uint               `gorm:"not null;index" json:"debtor_id"`
	IBANHash   string             `gorm:"column:iban_hash;type:varchar(64);not null;index" json:"iban_hash"`
	IBANMasked string             `gorm:"column:iban_masked;type:varchar(64)" json:"iban_masked"`
	Score      int                `gorm:"not null;default:0" json:"score"`
	Result     VerificationResult `gorm:"type:varchar(20);not null;index" json:"result"`
	BankName   string             `gorm:"type:varchar(200);default:''" json:"bank_name"`
	BIC        string             `gorm:"column:bic;type:varchar(11);default:''" json:"bic"`
	Country    string             `gorm:"type:varchar(2);default:''" json:"country"`
	NameMatch  string             `gorm:"type:varchar(10);default:''" json:"name_match"`
	Breakdown  datatypes.JSONMap  `json:"breakdown,omitempty"`
	Meta       datatypes.JSONMap  `json:"meta,omitempty"`
	CreatedAt  time.Time          `gorm:"autoCreateTime;index" json:"created_at"`
}

// TableName returns the table name for PayeeVerification
func (PayeeVerification) TableName() string {
	return "payee_verifications"
}
