package records

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Outcome is the scorer's verdict for a single pair.
type Outcome int

const (
	OutcomeRejected Outcome = iota
	OutcomeAccepted
	OutcomeAmbiguous
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeAmbiguous:
		return "ambiguous"
	default:
		return "rejected"
	}
}

// Policy holds the fixed scoring constants for one pipeline run. It is an
// immutable value; different policy versions can be evaluated side by side.
type Policy struct {
	BaseScore            int
	CreditBonusThreshold int
	CreditBonus          int
	IncomeBonusThreshold decimal.Decimal
	IncomeBonus          int
	// AmbiguityCreditFloor routes high-credit applicants on products with
	// complex eligibility to arbitration instead of auto-accepting them.
	AmbiguityCreditFloor int
}

// DefaultPolicy returns the policy shipped with the service. The exact
// constants are tunable via configuration; the invariant that matters is that
// arbitration receives a small minority of scored pairs.
func DefaultPolicy() Policy {
	return Policy{
		BaseScore:            50,
		CreditBonusThreshold: 720,
		CreditBonus:          25,
		IncomeBonusThreshold: decimal.NewFromInt(5000),
		IncomeBonus:          15,
		AmbiguityCreditFloor: 760,
	}
}

// Evaluate applies the policy to a single pair. It is a pure function of its
// inputs: no I/O, no randomness, result independent of evaluation order.
func (p Policy) Evaluate(a *Applicant, prod *Product) (Outcome, int) {
	required := strings.TrimSpace(prod.RequiredEmploymentStatus)
	if required != "" && !strings.EqualFold(required, strings.TrimSpace(a.EmploymentStatus)) {
		return OutcomeRejected, 0
	}

	score := p.BaseScore
	if a.CreditScore >= p.CreditBonusThreshold {
		score += p.CreditBonus
	}
	if a.MonthlyIncome.GreaterThanOrEqual(p.IncomeBonusThreshold) {
		score += p.IncomeBonus
	}

	if prod.ComplexEligibility && a.CreditScore >= p.AmbiguityCreditFloor {
		return OutcomeAmbiguous, score
	}

	return OutcomeAccepted, score
}
