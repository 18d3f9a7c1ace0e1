package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/WebOleg/sepacollect/app/models"
)

// debtorRepository implements the DebtorRepository interface
type debtorRepository struct {
	db *gorm.DB
}

// NewDebtorRepository creates a new debtor repository instance
func NewDebtorRepository(db *gorm.DB) DebtorRepository {
	return &debtorRepository{db: db}
}

// GetByID retrieves a debtor with its billing profile
func (r *debtorRepository) GetByID(ctx context.Context, id uint) (*models.Debtor, error) {
	var debtor models.Debtor
	err := r.db.WithContext(ctx).Preload("BillingProfile").First(&debtor, id).Error
	if err != nil {
		return nil, err
	}
	return &debtor, nil
}

// FindByIDs retrieves debtors (with profiles) for a chunk of IDs
func (r *debtorRepository) FindByIDs(ctx context.Context, ids []uint) ([]models.Debtor, error) {
	var debtors []models.Debtor
	if len(ids) == 0 {
		return debtors, nil
	}
	err := r.db.WithContext(ctx).Preload("BillingProfile").
		Where("id IN ?", ids).Order("id ASC").Find(&debtors).Error
	return debtors, err
}

// SelectCandidates returns id/iban_hash pairs of debtors joined to their profile, filtered by scopes
func (r *debtorRepository) SelectCandidates(ctx context.Context, scopes ...Scope) ([]Candidate, error) {
	var rows []Candidate
	err := r.db.WithContext(ctx).
		Table("debtors").
		Select("debtors.id AS id, debtors.iban_hash AS iban_hash").
		Joins("JOIN billing_profiles ON billing_profiles.id = debtors.billing_profile_id").
		Scopes(scopes...).
		Order("debtors.id ASC").
		Scan(&rows).Error
	return rows, err
}

// Save persists all fields of a debtor
func (r *debtorRepository) Save(ctx context.Context, debtor *models.Debtor) error {
	return r.db.WithContext(ctx).Omit("BillingProfile").Save(debtor).Error
}

// UpdateFields applies a partial update
func (r *debtorRepository) UpdateFields(ctx context.Context, id uint, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&models.Debtor{}).Where("id = ?", id).Updates(fields).Error
}

// MarkSkipped flags debtors as skipped with the given reason
func (r *debtorRepository) MarkSkipped(ctx context.Context, ids []uint, reason string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx := r.db.WithContext(ctx).Model(&models.Debtor{}).Where("id IN ?", ids).Updates(map[string]interface{}{
		"status":      models.DebtorStatusSkipped,
		"skip_reason": reason,
	})
	return tx.RowsAffected, tx.Error
}
