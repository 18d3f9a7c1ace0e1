package vop

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/WebOleg/sepacollect/app/models"
)

// Repository persists and looks up verification records
type Repository interface {
	// LatestForHash returns the newest record for the hash created at or after since, or nil
	LatestForHash(ctx context.Context, ibanHash string, since time.Time) (*models.PayeeVerification, error)
	Create(ctx context.Context, record *models.PayeeVerification) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a verification repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) LatestForHash(ctx context.Context, ibanHash string, since time.Time) (*models.PayeeVerification, error) {
	var rec models.PayeeVerification
	err := r.db.WithContext(ctx).
		Where("iban_hash = ? AND created_at >= ?", ibanHash, since).
		Order("created_at DESC, id DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *gormRepository) Create(ctx context.Context, record *models.PayeeVerification) error {
	return r.db.WithContext(ctx).Create(record).Error
}
