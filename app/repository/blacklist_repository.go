package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/WebOleg/sepacollect/app/models"
	"github.com/WebOleg/sepacollect/internal/pkg/iban"
	"github.com/WebOleg/sepacollect/internal/pkg/textnorm"
)

// blacklistRepository implements the BlacklistRepository interface
type blacklistRepository struct {
	db *gorm.DB
}

// NewBlacklistRepository creates a new blacklist repository instance
func NewBlacklistRepository(db *gorm.DB) BlacklistRepository {
	return &blacklistRepository{db: db}
}

// Create stores an entry, deriving the IBAN hash and normalising e-mail and names
func (r *blacklistRepository) Create(ctx context.Context, entry *models.Blacklist) error {
	if entry.IBAN != "" {
		entry.IBAN = iban.Normalize(entry.IBAN)
		entry.IBANHash = iban.Hash(entry.IBAN)
	}
	entry.Email = textnorm.Email(entry.Email)
	entry.FirstName = textnorm.Name(entry.FirstName)
	entry.LastName = textnorm.Name(entry.LastName)
	if entry.Source == "" {
		entry.Source = models.BlacklistSourceManual
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *blacklistRepository) ExistsForIBANHash(ctx context.Context, ibanHash string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Blacklist{}).Where("iban_hash = ?", ibanHash).Count(&count).Error
	return count > 0, err
}
