package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/openlend/loan-matcher/internal/records"
)

// Store wraps the gorm connection and exposes the record store, the ingestion
// batch tracker, and the match ledger. All writes go through upserts keyed by
// a unique identity, so concurrent re-runs are safe without cross-run locks.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open connects to Postgres, verifies the connection, and migrates the schema.
func Open(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrap sql db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := New(db, logger)
	if err := s.Migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// New wraps an existing gorm connection. Used by tests with a SQLite database.
func New(db *gorm.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger}
}

// Migrate creates or updates the four tables: applicants, products, matches,
// ingestion batches.
func (s *Store) Migrate() error {
	err := s.db.AutoMigrate(
		&records.Applicant{},
		&records.Product{},
		&records.Match{},
		&records.IngestionBatch{},
	)
	if err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// Counts returns the current applicant and product totals.
func (s *Store) Counts(ctx context.Context) (applicants, products int64, err error) {
	if err = s.db.WithContext(ctx).Model(&records.Applicant{}).Count(&applicants).Error; err != nil {
		return 0, 0, fmt.Errorf("count applicants: %w", err)
	}
	if err = s.db.WithContext(ctx).Model(&records.Product{}).Count(&products).Error; err != nil {
		return 0, 0, fmt.Errorf("count products: %w", err)
	}
	return applicants, products, nil
}
