package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/openlend/loan-matcher/internal/ai"
	"github.com/openlend/loan-matcher/internal/records"
)

// ArbitrationConfig bounds the cost of the external evaluation stage.
type ArbitrationConfig struct {
	// MaxCalls is the hard cap on arbitration calls per run. Ambiguous
	// pairs beyond the cap are left unresolved without a call.
	MaxCalls int
	// Concurrency caps simultaneous in-flight calls.
	Concurrency int
	// CallTimeout applies to each individual call.
	CallTimeout time.Duration
}

const (
	defaultMaxCalls    = 100
	defaultConcurrency = 4
	defaultCallTimeout = 30 * time.Second
)

type selectiveArbitration struct {
	arbiter ai.Arbiter
	cfg     ArbitrationConfig
	logger  *zap.Logger

	calls    atomic.Int64
	accepted atomic.Int64
}

// NewSelectiveArbitration creates the third stage. Only pairs the scorer
// flagged as ambiguous are routed to the arbiter, so call volume scales with
// the ambiguous subset, never with the applicant-product cross product.
func NewSelectiveArbitration(arbiter ai.Arbiter, cfg ArbitrationConfig, logger *zap.Logger) Stage {
	if cfg.MaxCalls <= 0 {
		cfg.MaxCalls = defaultMaxCalls
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &selectiveArbitration{arbiter: arbiter, cfg: cfg, logger: logger}
}

func (s *selectiveArbitration) Name() string { return "selective_arbitration" }

// Calls reports how many arbitration calls the stage actually made.
func (s *selectiveArbitration) Calls() int { return int(s.calls.Load()) }

// AcceptedByArbitration reports how many pairs the arbiter accepted.
func (s *selectiveArbitration) AcceptedByArbitration() int { return int(s.accepted.Load()) }

func (s *selectiveArbitration) Apply(ctx context.Context, set *records.CandidateSet) (*records.CandidateSet, Step, error) {
	initial := set.Len()

	ambiguous := set.WithDecision(records.DecisionAmbiguous)
	if len(ambiguous) == 0 {
		return set, Step{Initial: initial, Dropped: 0, Left: initial}, nil
	}

	if s.arbiter == nil {
		// No provider configured: ambiguous pairs stay unresolved and are
		// picked up again on the next run.
		for _, c := range ambiguous {
			c.Decision = records.DecisionUnresolved
			c.Reason = "arbitration disabled"
		}
		s.logger.Info("arbiter is not configured; leaving ambiguous pairs unresolved",
			zap.Int("unresolved", len(ambiguous)),
		)
		return s.collect(set, initial), Step{Initial: initial, Dropped: 0, Left: set.Len()}, nil
	}

	eligible := ambiguous
	if len(eligible) > s.cfg.MaxCalls {
		for _, c := range eligible[s.cfg.MaxCalls:] {
			c.Decision = records.DecisionUnresolved
			c.Reason = "arbitration call budget exhausted"
		}
		s.logger.Warn("ambiguous pairs exceed call budget",
			zap.Int("ambiguous", len(eligible)),
			zap.Int("max_calls", s.cfg.MaxCalls),
		)
		eligible = eligible[:s.cfg.MaxCalls]
	}

	// Per-pair isolation: a failed or timed-out call marks its own pair
	// unresolved and must not cancel the siblings, so errors never
	// propagate out of the group.
	g := &errgroup.Group{}
	g.SetLimit(s.cfg.Concurrency)
	for _, c := range eligible {
		g.Go(func() error {
			s.decide(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	out := s.collect(set, initial)
	return out, Step{Initial: initial, Dropped: initial - out.Len(), Left: out.Len()}, nil
}

// decide resolves one pair. An error or timeout leaves the pair unresolved;
// it is never retried synchronously within the same run.
func (s *selectiveArbitration) decide(ctx context.Context, c *records.Candidate) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	s.calls.Add(1)
	decision, err := s.arbiter.Decide(callCtx, ai.Request{Applicant: c.Applicant, Product: c.Product})
	if err != nil {
		depErr := &records.DependencyError{Op: "arbitration call", Err: err}
		c.Decision = records.DecisionUnresolved
		c.Reason = depErr.Error()
		s.logger.Warn("arbitration failed",
			zap.String("applicant", c.Applicant.Email),
			zap.String("product", c.Product.Name),
			zap.Error(err),
		)
		return
	}

	c.Stage = s.Name()
	c.Reason = decision.Reason
	if decision.Accept {
		c.Decision = records.DecisionAccepted
		s.accepted.Add(1)
		s.logger.Info("pair accepted by arbitration",
			zap.String("applicant", c.Applicant.Email),
			zap.String("product", c.Product.Name),
			zap.String("reason", decision.Reason),
		)
		return
	}

	c.Decision = records.DecisionPending // rejected pairs are dropped below
	s.logger.Info("pair rejected by arbitration",
		zap.String("applicant", c.Applicant.Email),
		zap.String("product", c.Product.Name),
		zap.String("reason", decision.Reason),
	)
}

// collect rebuilds the set: accepted and unresolved pairs stay, arbitration
// rejections are dropped. Unresolved pairs are excluded from the ledger by
// Commit but remain visible for the run summary.
func (s *selectiveArbitration) collect(set *records.CandidateSet, capacity int) *records.CandidateSet {
	kept := make([]*records.Candidate, 0, capacity)
	for _, c := range set.Items {
		switch c.Decision {
		case records.DecisionAccepted, records.DecisionUnresolved:
			kept = append(kept, c)
		}
	}
	return &records.CandidateSet{Items: kept}
}
