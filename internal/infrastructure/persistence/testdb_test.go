package persistence

import (
	"testing"

	"github.com/erp/sync-engine/internal/infrastructure/persistence/models"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB opens an in-memory sqlite database with the full schema. The pool
// is pinned to a single connection; each sqlite :memory: connection would
// otherwise see its own empty database.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&models.CustomerModel{},
		&models.ProductModel{},
		&models.OrderModel{},
		&models.EntityMappingModel{},
		&models.ConflictModel{},
		&models.SessionModel{},
		&models.ErrorRecordModel{},
		&models.AttemptLogModel{},
		&models.CircuitBreakerModel{},
		&models.WebhookEventModel{},
		&models.BatchJobModel{},
		&models.BatchItemModel{},
		&models.BatchProgressLogModel{},
	))
	return db
}
