package pipeline

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/openlend/loan-matcher/internal/records"
)

type deterministicScorer struct {
	policy  records.Policy
	workers int
}

// NewDeterministicScorer creates the second stage: a pure scorer applying the
// policy to every surviving pair. Evaluation is sharded across workers with
// index-partitioned output, so the result never depends on scheduling order.
func NewDeterministicScorer(policy records.Policy, workers int) Stage {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &deterministicScorer{policy: policy, workers: workers}
}

func (s *deterministicScorer) Name() string { return "deterministic_score" }

type scoredResult struct {
	outcome records.Outcome
	score   int
}

func (s *deterministicScorer) Apply(ctx context.Context, set *records.CandidateSet) (*records.CandidateSet, Step, error) {
	initial := set.Len()
	if initial == 0 {
		return set, Step{}, nil
	}

	// Each worker owns a disjoint slice of indexes and writes only to its
	// own result cells. Merging is a sequential pass afterwards; no locks.
	results := make([]scoredResult, initial)

	g, gctx := errgroup.WithContext(ctx)
	chunk := (initial + s.workers - 1) / s.workers
	for start := 0; start < initial; start += chunk {
		end := min(start+chunk, initial)
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				c := set.Items[i]
				outcome, score := s.policy.Evaluate(&c.Applicant, &c.Product)
				results[i] = scoredResult{outcome: outcome, score: score}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, Step{}, &records.FatalError{Err: err}
	}

	kept := make([]*records.Candidate, 0, initial)
	for i, c := range set.Items {
		res := results[i]
		if res.outcome == records.OutcomeRejected {
			continue
		}

		c.Stage = s.Name()
		c.Score = res.score
		c.Decision = records.DecisionAccepted
		if res.outcome == records.OutcomeAmbiguous {
			c.Decision = records.DecisionAmbiguous
		}
		kept = append(kept, c)
	}

	out := &records.CandidateSet{Items: kept}
	return out, Step{Initial: initial, Dropped: initial - len(kept), Left: len(kept)}, nil
}
