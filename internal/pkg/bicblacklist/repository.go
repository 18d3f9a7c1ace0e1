package bicblacklist

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/WebOleg/sepacollect/app/models"
)

// Stats are the windowed outcome counts of one BIC
type Stats struct {
	BIC          string  `gorm:"column:bic" json:"bic"`
	Approved     int64   `json:"approved"`
	Chargebacked int64   `json:"chargebacked"`
	Total        int64   `json:"total"`
	CBRate       float64 `json:"cb_rate"`
}

// Repository provides the aggregation and blacklist writes used by the engine
type Repository interface {
	Aggregate(ctx context.Context, since time.Time, excludedCodes []string) ([]Stats, error)
	Entries(ctx context.Context) ([]models.BicBlacklist, error)
	// InsertIfAbsent reports false when an entry with the same (bic, is_prefix) already exists
	InsertIfAbsent(ctx context.Context, entry *models.BicBlacklist) (bool, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a BIC blacklist repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// Aggregate counts outcomes per BIC; spelling differences in case or padding count as one BIC
func (r *gormRepository) Aggregate(ctx context.Context, since time.Time, excludedCodes []string) ([]Stats, error) {
	cbCase := "SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS chargebacked"
	args := []interface{}{models.AttemptStatusApproved, models.AttemptStatusChargebacked}
	if len(excludedCodes) > 0 {
		cbCase = "SUM(CASE WHEN status = ? AND (chargeback_reason_code IS NULL OR chargeback_reason_code NOT IN ?) THEN 1 ELSE 0 END) AS chargebacked"
		args = append(args, excludedCodes)
	}

	var rows []Stats
	err := r.db.WithContext(ctx).Table("billing_attempts").
		Select("UPPER(TRIM(bic)) AS bic, SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS approved, "+cbCase, args...).
		Where("TRIM(bic) <> '' AND COALESCE(gateway_created_at, created_at) >= ?", since).
		Group("UPPER(TRIM(bic))").
		Order("UPPER(TRIM(bic))").
		Scan(&rows).Error
	return rows, err
}

func (r *gormRepository) Entries(ctx context.Context) ([]models.BicBlacklist, error) {
	var entries []models.BicBlacklist
	err := r.db.WithContext(ctx).Order("id ASC").Find(&entries).Error
	return entries, err
}

func (r *gormRepository) InsertIfAbsent(ctx context.Context, entry *models.BicBlacklist) (bool, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "bic"}, {Name: "is_prefix"}},
		DoNothing: true,
	}).Create(entry)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}
