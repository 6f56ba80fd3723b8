package ai

import (
	"context"

	"github.com/openlend/loan-matcher/internal/records"
)

// Request carries everything an arbitration provider needs to judge one
// ambiguous pair: the applicant attributes, the product attributes, and the
// product's free-form eligibility metadata.
type Request struct {
	Applicant records.Applicant
	Product   records.Product
}

// Decision is the provider's verdict for a single pair.
type Decision struct {
	Accept bool
	Reason string
	Raw    string
}

// Arbiter resolves an ambiguous pair to accept or reject. Implementations
// must honor the context deadline; the caller treats an error or timeout as
// an unresolved pair, never as a match.
type Arbiter interface {
	Decide(ctx context.Context, req Request) (*Decision, error)
}
