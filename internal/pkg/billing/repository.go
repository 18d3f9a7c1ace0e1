package billing

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/WebOleg/sepacollect/app/models"
)

// Repository provides DB operations used by the billing service.
type Repository interface {
	CreateEventIfNotExists(ctx context.Context, event *models.GatewayEvent) (bool, *models.GatewayEvent, error)
	MarkEventProcessed(ctx context.Context, id uint, processingError string) error
	FindAttemptByTransactionID(ctx context.Context, transactionID string) (*models.BillingAttempt, error)
	SaveAttempt(ctx context.Context, attempt *models.BillingAttempt) error
	AddCharged(ctx context.Context, profileID uint, amount int64) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) CreateEventIfNotExists(ctx context.Context, event *models.GatewayEvent) (bool, *models.GatewayEvent, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.GatewayEvent
	if err := r.db.WithContext(ctx).Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkEventProcessed(ctx context.Context, id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.WithContext(ctx).Model(&models.GatewayEvent{}).Where("id = ?", id).Updates(updates).Error
}

func (r *gormRepository) FindAttemptByTransactionID(ctx context.Context, transactionID string) (*models.BillingAttempt, error) {
	var attempt models.BillingAttempt
	if err := r.db.WithContext(ctx).Where("transaction_id = ?", transactionID).First(&attempt).Error; err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (r *gormRepository) SaveAttempt(ctx context.Context, attempt *models.BillingAttempt) error {
	return r.db.WithContext(ctx).Save(attempt).Error
}

func (r *gormRepository) AddCharged(ctx context.Context, profileID uint, amount int64) error {
	return r.db.WithContext(ctx).Model(&models.BillingProfile{}).Where("id = ?", profileID).
		UpdateColumn("lifetime_charged_amount", gorm.Expr("lifetime_charged_amount + ?", amount)).Error
}
