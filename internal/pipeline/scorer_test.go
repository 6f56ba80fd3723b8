package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/openlend/loan-matcher/internal/records"
)

func scoredSet(n int) *records.CandidateSet {
	items := make([]*records.Candidate, 0, n)
	for i := 0; i < n; i++ {
		applicant := records.Applicant{
			ID:               uint(i + 1),
			Email:            fmt.Sprintf("a%d@example.com", i),
			CreditScore:      600 + i%250,
			MonthlyIncome:    decimal.NewFromInt(int64(2000 + i*100)),
			EmploymentStatus: "employed",
		}
		product := records.Product{ID: 1, Name: "Loan", Provider: "Anybank"}
		if i%7 == 0 {
			product.RequiredEmploymentStatus = "self-employed" // rejected by the policy
		}
		if i%5 == 0 {
			product.ComplexEligibility = true
		}
		items = append(items, &records.Candidate{
			Applicant: applicant,
			Product:   product,
			Decision:  records.DecisionPending,
		})
	}
	return &records.CandidateSet{Items: items}
}

func TestScorerDropsRejectedAndKeepsOrder(t *testing.T) {
	stage := NewDeterministicScorer(records.DefaultPolicy(), 1)

	out, step, err := stage.Apply(context.Background(), scoredSet(20))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	if step.Initial != 20 {
		t.Fatalf("expected initial 20, got %d", step.Initial)
	}
	if step.Dropped+step.Left != step.Initial {
		t.Fatalf("step counters do not add up: %+v", step)
	}
	if out.Len() != step.Left {
		t.Fatalf("set size %d does not match step.Left %d", out.Len(), step.Left)
	}

	var prev uint
	for _, c := range out.Items {
		if c.Product.RequiredEmploymentStatus == "self-employed" {
			t.Fatalf("rejected pair survived: applicant %d", c.Applicant.ID)
		}
		if c.Decision != records.DecisionAccepted && c.Decision != records.DecisionAmbiguous {
			t.Fatalf("unexpected decision %s", c.Decision)
		}
		if c.Applicant.ID <= prev {
			t.Fatalf("output order changed: %d after %d", c.Applicant.ID, prev)
		}
		prev = c.Applicant.ID
	}
}

func TestScorerResultIndependentOfWorkerCount(t *testing.T) {
	serial := NewDeterministicScorer(records.DefaultPolicy(), 1)
	parallel := NewDeterministicScorer(records.DefaultPolicy(), 3)

	a, _, err := serial.Apply(context.Background(), scoredSet(50))
	if err != nil {
		t.Fatalf("serial apply: %v", err)
	}
	b, _, err := parallel.Apply(context.Background(), scoredSet(50))
	if err != nil {
		t.Fatalf("parallel apply: %v", err)
	}

	if a.Len() != b.Len() {
		t.Fatalf("sizes differ: %d vs %d", a.Len(), b.Len())
	}
	for i := range a.Items {
		x, y := a.Items[i], b.Items[i]
		if x.Applicant.ID != y.Applicant.ID || x.Score != y.Score || x.Decision != y.Decision {
			t.Fatalf("item %d differs: %+v vs %+v", i, x, y)
		}
	}
}

func TestScorerEmptyInput(t *testing.T) {
	stage := NewDeterministicScorer(records.DefaultPolicy(), 4)

	out, step, err := stage.Apply(context.Background(), &records.CandidateSet{})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if out.Len() != 0 || step.Initial != 0 {
		t.Fatalf("expected empty passthrough, got %d items, step %+v", out.Len(), step)
	}
}
