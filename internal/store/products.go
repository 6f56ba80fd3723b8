package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"github.com/openlend/loan-matcher/internal/records"
)

// UpsertProducts inserts catalog entries, updating rows whose (provider,
// name) pair already exists. The pipeline itself never calls this: the
// catalog is read-only input for a run.
func (s *Store) UpsertProducts(ctx context.Context, products []*records.Product) error {
	if len(products) == 0 {
		return nil
	}

	for _, p := range products {
		if err := p.Validate(); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	for _, p := range products {
		p.UpdatedAt = now
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "provider"}, {Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"interest_rate", "min_income", "min_credit_score", "max_credit_score",
			"min_age", "max_age", "required_employment_status",
			"min_amount", "max_amount", "complex_eligibility", "eligibility_notes",
			"updated_at",
		}),
	}).Create(&products).Error
	if err != nil {
		return fmt.Errorf("upsert products: %w", err)
	}

	return nil
}

// ListProducts returns the whole catalog.
func (s *Store) ListProducts(ctx context.Context) ([]*records.Product, error) {
	var products []*records.Product
	if err := s.db.WithContext(ctx).Order("provider, name").Find(&products).Error; err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return products, nil
}
