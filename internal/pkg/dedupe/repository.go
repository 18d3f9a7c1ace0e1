package dedupe

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/WebOleg/sepacollect/app/models"
)

// Repository provides the bulk lookups used by the engine. Every method takes a set
// of IBAN hashes and issues a single query.
type Repository interface {
	BlacklistedHashes(ctx context.Context, hashes []string) ([]string, error)
	ChargebackedHashes(ctx context.Context, hashes []string) ([]string, error)
	RecoveredHashes(ctx context.Context, hashes []string, excludeUploadID *uint) ([]string, error)
	LastAttempts(ctx context.Context, hashes []string, since time.Time) (map[string]time.Time, error)
	EmailBlacklisted(ctx context.Context, email string) (bool, error)
	NameBlacklisted(ctx context.Context, firstName, lastName string) (bool, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a dedupe repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) BlacklistedHashes(ctx context.Context, hashes []string) ([]string, error) {
	var out []string
	err := r.db.WithContext(ctx).Model(&models.Blacklist{}).
		Distinct("iban_hash").
		Where("iban_hash IN ?", hashes).
		Pluck("iban_hash", &out).Error
	return out, err
}

func (r *gormRepository) ChargebackedHashes(ctx context.Context, hashes []string) ([]string, error) {
	var out []string
	err := r.db.WithContext(ctx).Table("billing_attempts").
		Distinct("debtors.iban_hash").
		Joins("JOIN debtors ON debtors.id = billing_attempts.debtor_id").
		Where("debtors.iban_hash IN ? AND billing_attempts.status = ?", hashes, models.AttemptStatusChargebacked).
		Pluck("debtors.iban_hash", &out).Error
	return out, err
}

func (r *gormRepository) RecoveredHashes(ctx context.Context, hashes []string, excludeUploadID *uint) ([]string, error) {
	var out []string
	q := r.db.WithContext(ctx).Model(&models.Debtor{}).
		Distinct("iban_hash").
		Where("iban_hash IN ? AND status = ?", hashes, models.DebtorStatusRecovered)
	if excludeUploadID != nil {
		q = q.Where("(upload_id IS NULL OR upload_id <> ?)", *excludeUploadID)
	}
	err := q.Pluck("iban_hash", &out).Error
	return out, err
}

// LastAttempts returns, per hash, the most recent attempt created at or after since
func (r *gormRepository) LastAttempts(ctx context.Context, hashes []string, since time.Time) (map[string]time.Time, error) {
	var rows []struct {
		IBANHash  string    `gorm:"column:iban_hash"`
		CreatedAt time.Time `gorm:"column:created_at"`
	}
	err := r.db.WithContext(ctx).Table("billing_attempts").
		Select("debtors.iban_hash AS iban_hash, billing_attempts.created_at AS created_at").
		Joins("JOIN debtors ON debtors.id = billing_attempts.debtor_id").
		Where("debtors.iban_hash IN ? AND billing_attempts.created_at >= ?", hashes, since).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make(map[string]time.Time, len(rows))
	for _, row := range rows {
		if last, ok := out[row.IBANHash]; !ok || row.CreatedAt.After(last) {
			out[row.IBANHash] = row.CreatedAt
		}
	}
	return out, nil
}

func (r *gormRepository) EmailBlacklisted(ctx context.Context, email string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Blacklist{}).Where("email = ?", email).Count(&count).Error
	return count > 0, err
}

func (r *gormRepository) NameBlacklisted(ctx context.Context, firstName, lastName string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Blacklist{}).
		Where("first_name = ? AND last_name = ?", firstName, lastName).
		Count(&count).Error
	return count > 0, err
}
