package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/openlend/loan-matcher/internal/records"
	"github.com/openlend/loan-matcher/internal/store"
)

// Stage is a single reduction step applied to the candidate set.
type Stage interface {
	Name() string
	Apply(ctx context.Context, set *records.CandidateSet) (*records.CandidateSet, Step, error)
}

// Step describes the result of executing one stage.
type Step struct {
	Initial int
	Dropped int
	Left    int
}

// Summary reports what one run did, regardless of partial failures, so cost
// and completeness are always observable.
type Summary struct {
	Applicants          int64
	Products            int64
	CrossProduct        int64
	Stage1Pairs         int
	Accepted            int
	Ambiguous           int
	ArbitrationCalls    int
	ArbitrationAccepted int
	Unresolved          int
	Committed           int
	Duration            time.Duration
}

// callCounter is implemented by stages that talk to an external collaborator
// and need to expose how many calls they made.
type callCounter interface {
	Calls() int
}

// Runner executes the stages strictly in order. Nothing durable happens until
// Commit: aborting between stages discards only transient candidate sets.
type Runner struct {
	store  *store.Store
	logger *zap.Logger
	stages []Stage
}

func NewRunner(s *store.Store, logger *zap.Logger, stages ...Stage) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{store: s, logger: logger, stages: stages}
}

// Run executes the reduction pipeline and returns the final candidate set and
// the run summary. The set is not persisted; pass it to Commit to write the
// accepted pairs to the match ledger.
func (r *Runner) Run(ctx context.Context) (*records.CandidateSet, *Summary, error) {
	start := time.Now()

	applicants, products, err := r.store.Counts(ctx)
	if err != nil {
		return nil, nil, &records.FatalError{Err: err}
	}

	summary := &Summary{
		Applicants:   applicants,
		Products:     products,
		CrossProduct: applicants * products,
	}

	r.logger.Info("pipeline starting",
		zap.Int64("applicants", applicants),
		zap.Int64("products", products),
		zap.Int64("cross_product", summary.CrossProduct),
	)

	set := &records.CandidateSet{}
	for i, stage := range r.stages {
		if err := ctx.Err(); err != nil {
			return nil, nil, fmt.Errorf("run aborted before %s: %w", stage.Name(), err)
		}

		next, info, err := stage.Apply(ctx, set)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", stage.Name(), err)
		}

		r.logger.Info("pipeline step",
			zap.String("name", stage.Name()),
			zap.Int("initial", info.Initial),
			zap.Int("dropped", info.Dropped),
			zap.Int("left", info.Left),
		)

		set = next

		if i == 0 {
			summary.Stage1Pairs = set.Len()
		}

		// The ambiguous count peaks right after the scorer; arbitration
		// then converts those pairs to accepted, dropped, or unresolved.
		if amb := set.CountByDecision(records.DecisionAmbiguous); amb > summary.Ambiguous {
			summary.Ambiguous = amb
		}

		if counter, ok := stage.(callCounter); ok {
			summary.ArbitrationCalls += counter.Calls()
		}
		if reporter, ok := stage.(interface{ AcceptedByArbitration() int }); ok {
			summary.ArbitrationAccepted += reporter.AcceptedByArbitration()
		}
	}

	summary.Accepted = set.CountByDecision(records.DecisionAccepted)
	summary.Unresolved = set.CountByDecision(records.DecisionUnresolved)
	summary.Duration = time.Since(start)

	return set, summary, nil
}

// Commit upserts the accepted pairs into the match ledger. This is the only
// persisting step of a run, and it is idempotent per pair.
func (r *Runner) Commit(ctx context.Context, set *records.CandidateSet, summary *Summary) error {
	accepted := set.WithDecision(records.DecisionAccepted)
	if len(accepted) == 0 {
		r.logger.Info("nothing to commit")
		return nil
	}

	matches := make([]*records.Match, 0, len(accepted))
	for _, c := range accepted {
		matches = append(matches, &records.Match{
			ApplicantID: c.Applicant.ID,
			ProductID:   c.Product.ID,
			Score:       c.Score,
		})
	}

	if err := r.store.UpsertMatches(ctx, matches); err != nil {
		return &records.DependencyError{Op: "commit matches", Err: err}
	}

	if summary != nil {
		summary.Committed = len(matches)
	}

	r.logger.Info("matches committed", zap.Int("count", len(matches)))
	return nil
}
