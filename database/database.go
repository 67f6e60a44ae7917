package database

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"agenti/config"
	"agenti/models"
)

// Connect opens the PostgreSQL pool and, when enabled, migrates the schema.
func Connect(cfg config.DB, log *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	log.Info("connected to database", zap.String("host", cfg.Host), zap.String("name", cfg.Name))

	if cfg.AutoMigrate {
		log.Info("starting auto-migration")
		if err := Migrate(db); err != nil {
			return nil, err
		}
		log.Info("auto migration completed")
	}

	return db, nil
}

// Migrate creates or updates every table the ledger uses.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.User{},
		&models.Branch{},
		&models.Vault{},
		&models.VaultMovement{},
		&models.Agent{},
		&models.WalletType{},
		&models.Wallet{},
		&models.CashSession{},
		&models.CashCount{},
		&models.CashCountDetail{},
		&models.Discrepancy{},
	); err != nil {
		return fmt.Errorf("auto-migrate database: %w", err)
	}
	return nil
}
