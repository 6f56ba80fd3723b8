package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"github.com/openlend/loan-matcher/internal/records"
)

// UpsertApplicants inserts the batch, updating the mutable fields of rows
// whose email already exists. Re-running ingestion over the same file is a
// no-op apart from the updated_at bump.
func (s *Store) UpsertApplicants(ctx context.Context, applicants []*records.Applicant) error {
	if len(applicants) == 0 {
		return nil
	}

	now := time.Now().UTC()
	for _, a := range applicants {
		a.UpdatedAt = now
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "email"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "monthly_income", "credit_score", "employment_status", "age", "updated_at",
		}),
	}).Create(&applicants).Error
	if err != nil {
		return fmt.Errorf("upsert applicants: %w", err)
	}

	return nil
}

// GetApplicantByEmail loads a single applicant by its external key.
func (s *Store) GetApplicantByEmail(ctx context.Context, email string) (*records.Applicant, error) {
	var a records.Applicant
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&a).Error; err != nil {
		return nil, fmt.Errorf("get applicant %q: %w", email, err)
	}
	return &a, nil
}
