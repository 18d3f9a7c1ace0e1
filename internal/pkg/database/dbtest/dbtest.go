// Package dbtest opens isolated in-memory SQLite databases for repository and engine tests.
package dbtest

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/WebOleg/sepacollect/internal/pkg/database"
)

// Open returns a migrated in-memory database private to the calling test
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=UTC", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err, "open sqlite")
	require.NoError(t, database.AutoMigrate(db), "migrate sqlite")

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// a shared-cache memory database lives as long as one connection stays open
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	return db
}

// Create inserts each record and fails the test on the first error
func Create(t *testing.T, db *gorm.DB, records ...interface{}) {
	t.Helper()
	for _, record := range records {
		require.NoError(t, db.Create(record).Error)
	}
}
