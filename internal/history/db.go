// Package history records every channel run in a SQL database through gorm.
package history

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/prite36/multichannel-irrigation/internal/config"
	"github.com/prite36/multichannel-irrigation/internal/models"
)

// Connect opens the configured history database and migrates its schema.
// It returns nil when history is disabled.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch cfg.Database.Backend {
	case "none", "":
		return nil, nil
	case "postgres":
		dialector = postgres.Open(cfg.DSN())
	case "sqlite":
		dialector = sqlite.Open(cfg.Database.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown database backend: %s", cfg.Database.Backend)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Database.Backend, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetMaxOpenConns(4)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := Migrate(db); err != nil {
		Close(db)
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates the history table.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.IrrigationHistory{}); err != nil {
		return fmt.Errorf("migrate history: %w", err)
	}
	return nil
}

// Close releases database resources.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
