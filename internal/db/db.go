package db

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"purrcast/internal/models"
)

// Open connects to Postgres and migrates the schema. The returned handle is
// owned by the caller.
func Open(dsn string, log logrus.FieldLogger) (*gorm.DB, error) {
	conn, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	log.Info("Database connection established")

	if err := Migrate(conn); err != nil {
		return nil, err
	}
	log.Info("Database migration completed")
	return conn, nil
}

// Migrate creates or updates every table the service reads or writes,
// including the unique indexes that guard upvotes and prediction buckets.
func Migrate(conn *gorm.DB) error {
	err := conn.AutoMigrate(
		&models.User{},
		&models.State{},
		&models.City{},
		&models.Post{},
		&models.Upvote{},
		&models.DailyPrediction{},
		&models.WeeklyPrediction{},
	)
	if err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	return nil
}
