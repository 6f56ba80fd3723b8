package pipeline

import (
	"context"

	"github.com/openlend/loan-matcher/internal/records"
	"github.com/openlend/loan-matcher/internal/store"
)

type hardConstraintFilter struct {
	store *store.Store
}

// NewHardConstraintFilter creates the first stage: a bulk relational filter
// that discards every pair violating a bound product constraint. It ignores
// its input set and sources candidates directly from the record store.
func NewHardConstraintFilter(s *store.Store) Stage {
	return &hardConstraintFilter{store: s}
}

func (f *hardConstraintFilter) Name() string { return "hard_constraints" }

func (f *hardConstraintFilter) Apply(ctx context.Context, _ *records.CandidateSet) (*records.CandidateSet, Step, error) {
	applicants, products, err := f.store.Counts(ctx)
	if err != nil {
		return nil, Step{}, &records.FatalError{Err: err}
	}

	set, err := f.store.HardFilterPairs(ctx)
	if err != nil {
		// A failure here is either storage gone or corrupt stored data.
		// Stage 1 correctness is load-bearing for the arbitration cost
		// bound, so the run aborts instead of skipping.
		return nil, Step{}, &records.FatalError{Err: err}
	}

	crossProduct := int(applicants * products)
	return set, Step{
		Initial: crossProduct,
		Dropped: crossProduct - set.Len(),
		Left:    set.Len(),
	}, nil
}
