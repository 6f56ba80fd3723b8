package records

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Applicant bounds enforced at ingestion. Rows outside these ranges are
// rejected, never clamped.
const (
	MinCreditScore = 300
	MaxCreditScore = 850
	MinAge         = 18
	MaxAge         = 100
)

// Batch statuses. Transitions are monotonic: a completed or failed batch
// never goes back to pending or processing.
const (
	BatchPending    = "pending"
	BatchProcessing = "processing"
	BatchCompleted  = "completed"
	BatchFailed     = "failed"
)

// Applicant is a loan applicant keyed by email. Re-ingesting the same email
// updates the mutable fields and bumps UpdatedAt.
type Applicant struct {
	ID               uint            `gorm:"primaryKey"`
	Email            string          `gorm:"uniqueIndex;size:320;not null"`
	Name             string          `gorm:"size:200"`
	MonthlyIncome    decimal.Decimal `gorm:"type:numeric(14,2)"`
	CreditScore      int
	EmploymentStatus string `gorm:"size:60"`
	Age              int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Product is a catalog entry. Nil bounds mean the dimension is unconstrained
// and matches every applicant.
type Product struct {
	ID                       uint             `gorm:"primaryKey"`
	Name                     string           `gorm:"uniqueIndex:idx_provider_name;size:200;not null"`
	Provider                 string           `gorm:"uniqueIndex:idx_provider_name;size:200;not null"`
	InterestRate             decimal.Decimal  `gorm:"type:numeric(6,3)"`
	MinIncome                *decimal.Decimal `gorm:"type:numeric(14,2)"`
	MinCreditScore           *int
	MaxCreditScore           *int
	MinAge                   *int
	MaxAge                   *int
	RequiredEmploymentStatus string          `gorm:"size:60"`
	MinAmount                decimal.Decimal `gorm:"type:numeric(14,2)"`
	MaxAmount                decimal.Decimal `gorm:"type:numeric(14,2)"`
	ComplexEligibility       bool
	EligibilityNotes         string `gorm:"size:2000"`
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

// Validate checks the internal consistency of a product definition.
func (p *Product) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("product name is required")
	}
	if strings.TrimSpace(p.Provider) == "" {
		return fmt.Errorf("product %q: provider is required", p.Name)
	}
	if p.InterestRate.IsNegative() || p.InterestRate.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("product %q: interest rate %s out of range (0-100)", p.Name, p.InterestRate)
	}
	if p.MinCreditScore != nil && p.MaxCreditScore != nil && *p.MinCreditScore > *p.MaxCreditScore {
		return fmt.Errorf("product %q: min credit score %d above max %d", p.Name, *p.MinCreditScore, *p.MaxCreditScore)
	}
	if p.MinAge != nil && p.MaxAge != nil && *p.MinAge > *p.MaxAge {
		return fmt.Errorf("product %q: min age %d above max %d", p.Name, *p.MinAge, *p.MaxAge)
	}
	if p.MaxAmount.IsPositive() && p.MinAmount.GreaterThan(p.MaxAmount) {
		return fmt.Errorf("product %q: min amount %s above max %s", p.Name, p.MinAmount, p.MaxAmount)
	}
	return nil
}

// Match is the persisted ledger row, unique per (applicant, product) pair.
// Only the notification step mutates it after creation.
type Match struct {
	ID               uint `gorm:"primaryKey"`
	ApplicantID      uint `gorm:"uniqueIndex:idx_match_pair;not null"`
	ProductID        uint `gorm:"uniqueIndex:idx_match_pair;not null"`
	Score            int
	MatchedAt        time.Time
	NotificationSent bool `gorm:"not null;default:false"`
	NotifiedAt       *time.Time
}

// IngestionBatch tracks an ingestion run. Counters are flushed incrementally
// so a crash mid-batch leaves a correct partial-progress record.
type IngestionBatch struct {
	ID               string `gorm:"primaryKey;size:36"`
	FileName         string `gorm:"size:500"`
	SourceRef        string `gorm:"size:1000"`
	TotalRecords     int
	ProcessedRecords int
	FailedRecords    int
	Status           string `gorm:"size:20;not null"`
	ErrorDetail      string `gorm:"size:4000"`
	CreatedAt        time.Time
	ProcessedAt      *time.Time
}

// Decision marks where a candidate pair stands within a pipeline run.
type Decision string

const (
	DecisionPending    Decision = "pending"
	DecisionAccepted   Decision = "accepted"
	DecisionAmbiguous  Decision = "ambiguous"
	DecisionUnresolved Decision = "unresolved"
)

// Candidate is a transient (applicant, product) pair under evaluation. It
// carries full attribute snapshots so the later stages never touch storage.
type Candidate struct {
	Applicant Applicant
	Product   Product
	Stage     string
	Score     int
	Decision  Decision
	Reason    string
}

// CandidateSet is the working set flowing between pipeline stages.
type CandidateSet struct {
	Items []*Candidate
}

func (s *CandidateSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Items)
}

// CountByDecision returns how many candidates currently hold the decision.
func (s *CandidateSet) CountByDecision(d Decision) int {
	count := 0
	for _, c := range s.Items {
		if c.Decision == d {
			count++
		}
	}
	return count
}

// WithDecision returns the candidates currently holding the decision.
func (s *CandidateSet) WithDecision(d Decision) []*Candidate {
	var out []*Candidate
	for _, c := range s.Items {
		if c.Decision == d {
			out = append(out, c)
		}
	}
	return out
}
