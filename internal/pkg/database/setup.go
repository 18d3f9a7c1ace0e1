package database

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/WebOleg/sepacollect/app/models"
	"github.com/WebOleg/sepacollect/internal/pkg/env"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

// DB is the process-wide connection opened by SetupDatabase
var DB *gorm.DB

// GetDB returns the connection opened by SetupDatabase (nil before setup)
func GetDB() *gorm.DB {
	return DB
}

func SetupDatabase() error {
	var err error
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		env.GetEnv("DB_USER", ""),
		env.GetEnv("DB_PASSWORD", ""),
		env.GetEnv("DB_HOST", "127.0.0.1"),
		env.GetEnv("DB_PORT", "3306"),
		env.GetEnv("DB_NAME", ""),
	)

	logLevel := logger.Warn
	if env.IsDev() {
		logLevel = logger.Info
	}

	for i := 0; i < maxRetries; i++ {
		DB, err = gorm.Open(mysql.New(mysql.Config{
			DSN:                       dsn,
			DefaultStringSize:         256,
			SkipInitializeWithVersion: false,
		}), &gorm.Config{
			Logger:  logger.Default.LogMode(logLevel),
			NowFunc: func() time.Time { return time.Now().UTC() },
		})
		if err == nil {
			return AutoMigrate(DB)
		}

		log.Warnf("[Database] Failed to connect (try %d/%d): %v", i+1, maxRetries, err)
		if i < maxRetries-1 {
			log.Infof("[Database] Retrying in %v...", retryDelay)
			time.Sleep(retryDelay)
		}
	}

	return fmt.Errorf("failed to connect to database after %d tries: %w", maxRetries, err)
}

// AutoMigrate creates or updates the tables of every pipeline model
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.BillingProfile{},
		&models.Debtor{},
		&models.BillingAttempt{},
		&models.Blacklist{},
		&models.BicBlacklist{},
		&models.PayeeVerification{},
		&models.GatewayEvent{},
	)
}
