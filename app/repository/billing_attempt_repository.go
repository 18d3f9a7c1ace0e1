package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/WebOleg/sepacollect/app/models"
)

// billingAttemptRepository implements the BillingAttemptRepository interface
type billingAttemptRepository struct {
	db *gorm.DB
}

// NewBillingAttemptRepository creates a new billing attempt repository instance
func NewBillingAttemptRepository(db *gorm.DB) BillingAttemptRepository {
	return &billingAttemptRepository{db: db}
}

func (r *billingAttemptRepository) Create(ctx context.Context, attempt *models.BillingAttempt) error {
	return r.db.WithContext(ctx).Create(attempt).Error
}

func (r *billingAttemptRepository) Save(ctx context.Context, attempt *models.BillingAttempt) error {
	return r.db.WithContext(ctx).Save(attempt).Error
}

func (r *billingAttemptRepository) GetByTransactionID(ctx context.Context, transactionID string) (*models.BillingAttempt, error) {
	var attempt models.BillingAttempt
	if err := r.db.WithContext(ctx).Where("transaction_id = ?", transactionID).First(&attempt).Error; err != nil {
		return nil, err
	}
	return &attempt, nil
}

// CountByStatusSince groups attempts created since the given time by status
func (r *billingAttemptRepository) CountByStatusSince(ctx context.Context, since time.Time) (map[models.AttemptStatus]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := r.db.WithContext(ctx).Model(&models.BillingAttempt{}).
		Select("status, COUNT(*) AS count").
		Where("created_at >= ?", since).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[models.AttemptStatus]int64, len(rows))
	for _, row := range rows {
		out[models.AttemptStatus(row.Status)] = row.Count
	}
	return out, nil
}
