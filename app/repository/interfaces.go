package repository

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/WebOleg/sepacollect/app/models"
)

// Candidate is the slim projection used during dispatch candidate selection
type Candidate struct {
	ID       uint   `gorm:"column:id"`
	IBANHash string `gorm:"column:iban_hash"`
}

// DebtorRepository defines the interface for debtor-related database operations
type DebtorRepository interface {
	GetByID(ctx context.Context, id uint) (*models.Debtor, error)
	FindByIDs(ctx context.Context, ids []uint) ([]models.Debtor, error)
	SelectCandidates(ctx context.Context, scopes ...Scope) ([]Candidate, error)
	Save(ctx context.Context, debtor *models.Debtor) error
	UpdateFields(ctx context.Context, id uint, fields map[string]interface{}) error
	MarkSkipped(ctx context.Context, ids []uint, reason string) (int64, error)
}

// BillingProfileRepository defines the interface for billing profile operations
type BillingProfileRepository interface {
	GetByID(ctx context.Context, id uint) (*models.BillingProfile, error)
	GetByIBANHash(ctx context.Context, ibanHash string) (*models.BillingProfile, error)
	SaveCycle(ctx context.Context, profile *models.BillingProfile) error
	AddCharged(ctx context.Context, id uint, amount int64) error
}

// BillingAttemptRepository defines the interface for billing attempt operations
type BillingAttemptRepository interface {
	Create(ctx context.Context, attempt *models.BillingAttempt) error
	Save(ctx context.Context, attempt *models.BillingAttempt) error
	GetByTransactionID(ctx context.Context, transactionID string) (*models.BillingAttempt, error)
	CountByStatusSince(ctx context.Context, since time.Time) (map[models.AttemptStatus]int64, error)
}

// BlacklistRepository defines the interface for the general fraud list
type BlacklistRepository interface {
	Create(ctx context.Context, entry *models.Blacklist) error
	ExistsForIBANHash(ctx context.Context, ibanHash string) (bool, error)
}

// QueueRepository defines the interface for inspecting the shared Redis store
type QueueRepository interface {
	GetTTL(ctx context.Context, key string) (time.Duration, error)
	FindKeysByPatterns(ctx context.Context, patterns []string) ([]string, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	Debtor    DebtorRepository
	Profile   BillingProfileRepository
	Attempt   BillingAttemptRepository
	Blacklist BlacklistRepository
	Queue     QueueRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB, client *redis.Client) *Repositories {
	return &Repositories{
		Debtor:    NewDebtorRepository(db),
		Profile:   NewBillingProfileRepository(db),
		Attempt:   NewBillingAttemptRepository(db),
		Blacklist: NewBlacklistRepository(db),
		Queue:     NewQueueRepository(client),
	}
}
