package database

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"neurobot/internal/config"
	"neurobot/internal/models"
)

// Models lists every persisted document, in migration order.
func Models() []any {
	return []any{
		&models.User{},
		&models.Product{},
		&models.Subscription{},
		&models.Package{},
		&models.Cart{},
		&models.Transaction{},
		&models.PromoCode{},
		&models.UsedPromoCode{},
	}
}

func DSN(cfg *config.Config) string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort)
}

func ConnectPostgres(cfg *config.Config, log logrus.FieldLogger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(DSN(cfg)), &gorm.Config{
		// duplicate keys surface as gorm.ErrDuplicatedKey for the store
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Info("Connected to PostgreSQL")

	if err := db.AutoMigrate(Models()...); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}
