package database

import (
	"blackfuzz/config"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// NewDBConnection opens the crash database and migrates its schema. It returns
// a nil *gorm.DB when no DATABASE_URL is configured.
func NewDBConnection(appConfig *config.AppConfig, logger *zap.Logger) (*gorm.DB, error) {
	connectionString := appConfig.DatabaseURL
	if connectionString == "" {
		logger.Debug("no database configured")
		return nil, nil
	}
	db, err := gorm.Open(postgres.Open(connectionString), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	if err := db.AutoMigrate(&CrashRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate crash records: %w", err)
	}
	logger.Debug("connected to database")
	return db, nil
}
