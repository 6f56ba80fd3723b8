package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openlend/loan-matcher/internal/ai"
	"github.com/openlend/loan-matcher/internal/records"
)

type stubArbiter struct {
	calls   atomic.Int64
	accept  bool
	err     error
	blockOn bool // wait for the call context instead of answering
}

func (a *stubArbiter) Decide(ctx context.Context, req ai.Request) (*ai.Decision, error) {
	a.calls.Add(1)
	if a.blockOn {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if a.err != nil {
		return nil, a.err
	}
	return &ai.Decision{Accept: a.accept, Reason: "stub verdict"}, nil
}

func ambiguousSet(n int) *records.CandidateSet {
	items := make([]*records.Candidate, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, &records.Candidate{
			Applicant: records.Applicant{ID: uint(i + 1), Email: fmt.Sprintf("a%d@example.com", i)},
			Product:   records.Product{ID: 1, Name: "Complex Loan", Provider: "Anybank", ComplexEligibility: true},
			Decision:  records.DecisionAmbiguous,
		})
	}
	return &records.CandidateSet{Items: items}
}

func TestArbitrationRespectsCallBudget(t *testing.T) {
	arbiter := &stubArbiter{accept: true}
	stage := NewSelectiveArbitration(arbiter, ArbitrationConfig{MaxCalls: 3, Concurrency: 2}, nil)

	out, step, err := stage.Apply(context.Background(), ambiguousSet(5))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	if got := arbiter.calls.Load(); got != 3 {
		t.Fatalf("expected exactly 3 calls, got %d", got)
	}
	if step.Initial != 5 {
		t.Fatalf("expected initial 5, got %d", step.Initial)
	}

	accepted := out.CountByDecision(records.DecisionAccepted)
	unresolved := out.CountByDecision(records.DecisionUnresolved)
	if accepted != 3 || unresolved != 2 {
		t.Fatalf("expected 3 accepted and 2 unresolved, got %d/%d", accepted, unresolved)
	}
	for _, c := range out.WithDecision(records.DecisionUnresolved) {
		if !strings.Contains(c.Reason, "budget") {
			t.Fatalf("unresolved pair should name the budget, got %q", c.Reason)
		}
	}

	counter, ok := stage.(interface{ Calls() int })
	if !ok || counter.Calls() != 3 {
		t.Fatalf("stage should report 3 calls")
	}
}

func TestArbitrationRejectionsAreDropped(t *testing.T) {
	stage := NewSelectiveArbitration(&stubArbiter{accept: false}, ArbitrationConfig{}, nil)

	out, step, err := stage.Apply(context.Background(), ambiguousSet(4))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("rejected pairs must be dropped, got %d", out.Len())
	}
	if step.Dropped != 4 {
		t.Fatalf("expected 4 dropped, got %d", step.Dropped)
	}
}

func TestArbitrationCallErrorLeavesPairUnresolved(t *testing.T) {
	arbiter := &stubArbiter{err: errors.New("provider unavailable")}
	stage := NewSelectiveArbitration(arbiter, ArbitrationConfig{}, nil)

	set := ambiguousSet(2)
	// An already-accepted pair must pass through untouched.
	set.Items = append(set.Items, &records.Candidate{
		Applicant: records.Applicant{ID: 99, Email: "clear@example.com"},
		Product:   records.Product{ID: 1, Name: "Plain Loan", Provider: "Anybank"},
		Decision:  records.DecisionAccepted,
		Score:     75,
	})

	out, _, err := stage.Apply(context.Background(), set)
	if err != nil {
		t.Fatalf("call failures must not abort the stage: %v", err)
	}

	if got := out.CountByDecision(records.DecisionUnresolved); got != 2 {
		t.Fatalf("expected 2 unresolved, got %d", got)
	}
	if got := out.CountByDecision(records.DecisionAccepted); got != 1 {
		t.Fatalf("accepted pair must survive, got %d", got)
	}
	for _, c := range out.WithDecision(records.DecisionUnresolved) {
		if !strings.Contains(c.Reason, "provider unavailable") {
			t.Fatalf("unresolved reason should carry the cause, got %q", c.Reason)
		}
	}
}

func TestArbitrationTimeoutLeavesPairUnresolved(t *testing.T) {
	arbiter := &stubArbiter{blockOn: true}
	stage := NewSelectiveArbitration(arbiter, ArbitrationConfig{CallTimeout: 10 * time.Millisecond}, nil)

	out, _, err := stage.Apply(context.Background(), ambiguousSet(1))
	if err != nil {
		t.Fatalf("timeouts must not abort the stage: %v", err)
	}
	if got := out.CountByDecision(records.DecisionUnresolved); got != 1 {
		t.Fatalf("expected the timed-out pair unresolved, got %d", got)
	}
}

func TestArbitrationNilArbiterLeavesAllUnresolved(t *testing.T) {
	stage := NewSelectiveArbitration(nil, ArbitrationConfig{}, nil)

	out, step, err := stage.Apply(context.Background(), ambiguousSet(3))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := out.CountByDecision(records.DecisionUnresolved); got != 3 {
		t.Fatalf("expected all 3 unresolved, got %d", got)
	}
	if step.Left != 3 {
		t.Fatalf("expected 3 left, got %d", step.Left)
	}
	if counter, ok := stage.(interface{ Calls() int }); !ok || counter.Calls() != 0 {
		t.Fatalf("no calls should be made without a provider")
	}
}

func TestArbitrationNoAmbiguousIsPassthrough(t *testing.T) {
	arbiter := &stubArbiter{accept: true}
	stage := NewSelectiveArbitration(arbiter, ArbitrationConfig{}, nil)

	set := &records.CandidateSet{Items: []*records.Candidate{
		{Applicant: records.Applicant{ID: 1}, Product: records.Product{ID: 1}, Decision: records.DecisionAccepted, Score: 65},
	}}
	out, _, err := stage.Apply(context.Background(), set)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if out.Len() != 1 || arbiter.calls.Load() != 0 {
		t.Fatalf("clear pairs must pass through without calls")
	}
}
