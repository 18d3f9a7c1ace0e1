package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/WebOleg/sepacollect/app/models"
)

// Scope is a composable candidate-selection predicate over the debtors/billing_profiles join
type Scope = func(*gorm.DB) *gorm.DB

// ForModel restricts to debtors whose profile uses the given billing model
func ForModel(m models.BillingModel) Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("billing_profiles.billing_model = ?", m)
	}
}

// ProfileActive restricts to active billing profiles
func ProfileActive() Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("billing_profiles.is_active = ?", true)
	}
}

// ProfileDue restricts to active profiles whose next due date has been reached
func ProfileDue(now time.Time) Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Scopes(ProfileActive()).
			Where("billing_profiles.next_due_at IS NOT NULL AND billing_profiles.next_due_at <= ?", now)
	}
}

// UnderLifetimeCap restricts to profiles that can take one more charge of their amount
func UnderLifetimeCap() Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("(billing_profiles.lifetime_amount_cap IS NULL OR " +
			"billing_profiles.lifetime_charged_amount + billing_profiles.amount <= billing_profiles.lifetime_amount_cap)")
	}
}

// Open excludes debtors in a terminal or skipped lifecycle state
func Open() Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("debtors.status NOT IN ?", []models.DebtorStatus{
			models.DebtorStatusSkipped,
			models.DebtorStatusRecovered,
		})
	}
}

// NotValidated restricts to debtors whose validation status is anything but valid
func NotValidated() Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("debtors.validation_status <> ?", models.ValidationStatusValid)
	}
}

// Validated restricts to debtors with a valid IBAN
func Validated() Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("debtors.validation_status = ?", models.ValidationStatusValid)
	}
}

// NotVerified restricts to debtors without a verified payee check. Inconclusive and
// failed results stay eligible and are re-scored on the next run.
func NotVerified() Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("(debtors.verification_status IS NULL OR debtors.verification_status <> ?)",
			models.VerificationStatusVerified)
	}
}

// Verified restricts to payee-verified debtors
func Verified() Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("debtors.verification_status = ?", models.VerificationStatusVerified)
	}
}
