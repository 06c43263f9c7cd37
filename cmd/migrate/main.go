package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/erp/sync-engine/internal/infrastructure/config"
	"github.com/erp/sync-engine/internal/infrastructure/logger"
	"github.com/erp/sync-engine/internal/infrastructure/persistence"
	"github.com/erp/sync-engine/internal/infrastructure/persistence/models"
	"go.uber.org/zap"
)

func main() {
	var logLevel string
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	log, err := logger.New(&logger.Config{
		Level:  logLevel,
		Format: "console",
		Output: "stdout",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	db, err := persistence.NewDatabase(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() { _ = db.Close() }()

	log.Info("Running schema migration",
		zap.String("host", cfg.Database.Host),
		zap.String("database", cfg.Database.DBName),
	)

	if err := db.DB.AutoMigrate(
		// Local system of record
		&models.CustomerModel{},
		&models.ProductModel{},
		&models.OrderModel{},
		// Sync aggregate
		&models.EntityMappingModel{},
		&models.ConflictModel{},
		&models.SessionModel{},
		// Recovery aggregate
		&models.ErrorRecordModel{},
		&models.AttemptLogModel{},
		&models.CircuitBreakerModel{},
		// Webhook aggregate
		&models.WebhookEventModel{},
		// Batch aggregate
		&models.BatchJobModel{},
		&models.BatchItemModel{},
		&models.BatchProgressLogModel{},
	); err != nil {
		log.Fatal("Migration failed", zap.Error(err))
	}

	log.Info("Migration completed")
}
