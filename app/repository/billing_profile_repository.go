package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/WebOleg/sepacollect/app/models"
)

// billingProfileRepository implements the BillingProfileRepository interface
type billingProfileRepository struct {
	db *gorm.DB
}

// NewBillingProfileRepository creates a new billing profile repository instance
func NewBillingProfileRepository(db *gorm.DB) BillingProfileRepository {
	return &billingProfileRepository{db: db}
}

func (r *billingProfileRepository) GetByID(ctx context.Context, id uint) (*models.BillingProfile, error) {
	var profile models.BillingProfile
	if err := r.db.WithContext(ctx).First(&profile, id).Error; err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *billingProfileRepository) GetByIBANHash(ctx context.Context, ibanHash string) (*models.BillingProfile, error) {
	var profile models.BillingProfile
	if err := r.db.WithContext(ctx).Where("iban_hash = ?", ibanHash).First(&profile).Error; err != nil {
		return nil, err
	}
	return &profile, nil
}

// SaveCycle writes only the billing-cycle columns so concurrent AddCharged increments survive
func (r *billingProfileRepository) SaveCycle(ctx context.Context, profile *models.BillingProfile) error {
	return r.db.WithContext(ctx).Model(&models.BillingProfile{}).Where("id = ?", profile.ID).
		Updates(map[string]interface{}{
			"next_due_at":    profile.NextDueAt,
			"is_active":      profile.IsActive,
			"last_billed_at": profile.LastBilledAt,
		}).Error
}

// AddCharged increments the lifetime charged amount atomically
func (r *billingProfileRepository) AddCharged(ctx context.Context, id uint, amount int64) error {
	return r.db.WithContext(ctx).Model(&models.BillingProfile{}).Where("id = ?", id).
		UpdateColumn("lifetime_charged_amount", gorm.Expr("lifetime_charged_amount + ?", amount)).Error
}
