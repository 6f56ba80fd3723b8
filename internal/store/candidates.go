package store

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/openlend/loan-matcher/internal/records"
)

// candidateRow is the flattened result of the hard-constraint join.
type candidateRow struct {
	ApplicantID      uint
	Email            string
	Name             string
	MonthlyIncome    decimal.Decimal
	CreditScore      int
	EmploymentStatus string
	Age              int

	ProductID                uint
	ProductName              string
	Provider                 string
	InterestRate             decimal.Decimal
	RequiredEmploymentStatus string
	ComplexEligibility       bool
	EligibilityNotes         string
}

// The whole point of the hard-constraint stage is that it runs as one
// relational predicate over the cross product, so the database eliminates the
// bulk of the search space before any per-pair code executes. An absent bound
// (NULL) matches every applicant on that dimension.
const hardFilterQuery = `
SELECT
    a.id                 AS applicant_id,
    a.email              AS email,
    a.name               AS name,
    a.monthly_income     AS monthly_income,
    a.credit_score       AS credit_score,
    a.employment_status  AS employment_status,
    a.age                AS age,
    p.id                 AS product_id,
    p.name               AS product_name,
    p.provider           AS provider,
    p.interest_rate      AS interest_rate,
    p.required_employment_status AS required_employment_status,
    p.complex_eligibility        AS complex_eligibility,
    p.eligibility_notes          AS eligibility_notes
FROM applicants a
CROSS JOIN products p
WHERE (p.min_income IS NULL OR a.monthly_income >= p.min_income)
  AND (p.min_credit_score IS NULL OR a.credit_score >= p.min_credit_score)
  AND (p.max_credit_score IS NULL OR a.credit_score <= p.max_credit_score)
  AND (p.min_age IS NULL OR a.age >= p.min_age)
  AND (p.max_age IS NULL OR a.age <= p.max_age)
ORDER BY a.id, p.id`

// HardFilterPairs evaluates every bound constraint of every product against
// every applicant in a single bulk query and returns the surviving pairs with
// full attribute snapshots. No score is attached yet.
func (s *Store) HardFilterPairs(ctx context.Context) (*records.CandidateSet, error) {
	var rows []candidateRow
	if err := s.db.WithContext(ctx).Raw(hardFilterQuery).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("hard-constraint query: %w", err)
	}

	set := &records.CandidateSet{Items: make([]*records.Candidate, 0, len(rows))}
	for _, row := range rows {
		set.Items = append(set.Items, &records.Candidate{
			Applicant: records.Applicant{
				ID:               row.ApplicantID,
				Email:            row.Email,
				Name:             row.Name,
				MonthlyIncome:    row.MonthlyIncome,
				CreditScore:      row.CreditScore,
				EmploymentStatus: row.EmploymentStatus,
				Age:              row.Age,
			},
			Product: records.Product{
				ID:                       row.ProductID,
				Name:                     row.ProductName,
				Provider:                 row.Provider,
				InterestRate:             row.InterestRate,
				RequiredEmploymentStatus: row.RequiredEmploymentStatus,
				ComplexEligibility:       row.ComplexEligibility,
				EligibilityNotes:         row.EligibilityNotes,
			},
			Stage:    "hard_constraints",
			Decision: records.DecisionPending,
		})
	}

	return set, nil
}
