package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"licenseledger/internal/config"
)

// Connect opens and validates a Postgres-backed GORM connection pool,
// retrying with a fixed backoff per the configured attempt budget.
// Startup is the only place connection failures are retried; at request
// time a storage failure aborts the transaction and surfaces a 5xx.
func Connect(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*gorm.DB, error) {
	var (
		db      *gorm.DB
		lastErr error
	)

	for attempt := 1; attempt <= cfg.ConnectAttempts; attempt++ {
		logger.InfoContext(ctx, "connecting to database",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", cfg.ConnectAttempts))

		db, lastErr = open(ctx, cfg)
		if lastErr == nil {
			logger.InfoContext(ctx, "database connection established")
			return db, nil
		}

		logger.WarnContext(ctx, "database connection failed",
			slog.Int("attempt", attempt),
			slog.String("error", lastErr.Error()))

		if attempt < cfg.ConnectAttempts {
			select {
			case <-time.After(cfg.ConnectBackoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return nil, fmt.Errorf("database unreachable after %d attempts: %w", cfg.ConnectAttempts, lastErr)
}

func open(ctx context.Context, cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.URL), &gorm.Config{
		PrepareStmt:    true,
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("gorm sql db: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return db, nil
}

// Migrate creates or updates the ledger relations
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&userModel{},
		&licenseModel{},
		&userLicenseModel{},
		&deviceActivationModel{},
		&activityRecordModel{},
		&licenseStatsModel{},
	)
}
