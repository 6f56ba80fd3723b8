package gemini

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/openlend/loan-matcher/internal/ai"
	"github.com/openlend/loan-matcher/internal/records"
)

type stubGenerator struct {
	response   string
	err        error
	lastPrompt string
}

func (s *stubGenerator) GenerateContent(_ context.Context, prompt string) (string, error) {
	s.lastPrompt = prompt
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

func (s *stubGenerator) Model() string { return "stub-model" }

func testRequest() ai.Request {
	return ai.Request{
		Applicant: records.Applicant{
			Email:            "vip@example.com",
			MonthlyIncome:    decimal.NewFromInt(9000),
			CreditScore:      790,
			EmploymentStatus: "employed",
			Age:              41,
		},
		Product: records.Product{
			Name:             "Jumbo Mortgage",
			Provider:         "Anybank",
			InterestRate:     decimal.NewFromFloat(4.1),
			EligibilityNotes: "manual review for amounts over 500k",
		},
	}
}

func TestDecideParsesVerdict(t *testing.T) {
	cases := []struct {
		name     string
		response string
		accept   bool
		reason   string
	}{
		{
			name:     "plain accept",
			response: `{"accept": true, "reason": "strong credit history"}`,
			accept:   true,
			reason:   "strong credit history",
		},
		{
			name:     "plain reject",
			response: `{"accept": false, "reason": "income too volatile"}`,
			accept:   false,
			reason:   "income too volatile",
		},
		{
			name:     "markdown fenced",
			response: "```json\n{\"accept\": true, \"reason\": \"fits the notes\"}\n```",
			accept:   true,
			reason:   "fits the notes",
		},
		{
			name:     "accept as string",
			response: `{"accept": "yes", "reason": "ok"}`,
			accept:   true,
			reason:   "ok",
		},
		{
			name:     "missing fields default to reject",
			response: `{}`,
			accept:   false,
			reason:   "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			generator := &stubGenerator{response: tc.response}
			arbiter := NewArbiter(generator, zap.NewNop(), 0)

			decision, err := arbiter.Decide(context.Background(), testRequest())
			if err != nil {
				t.Fatalf("decide: %v", err)
			}
			if decision.Accept != tc.accept {
				t.Fatalf("expected accept=%v, got %v", tc.accept, decision.Accept)
			}
			if decision.Reason != tc.reason {
				t.Fatalf("expected reason %q, got %q", tc.reason, decision.Reason)
			}
			if decision.Raw != tc.response {
				t.Fatalf("raw response not preserved")
			}
		})
	}
}

func TestDecidePromptCarriesBothPayloads(t *testing.T) {
	generator := &stubGenerator{response: `{"accept": true, "reason": "ok"}`}
	arbiter := NewArbiter(generator, zap.NewNop(), 0)

	if _, err := arbiter.Decide(context.Background(), testRequest()); err != nil {
		t.Fatalf("decide: %v", err)
	}

	for _, want := range []string{"vip@example.com", "790", "Jumbo Mortgage", "manual review for amounts over 500k"} {
		if !strings.Contains(generator.lastPrompt, want) {
			t.Fatalf("prompt is missing %q", want)
		}
	}
	if strings.Contains(generator.lastPrompt, "{{APPLICANT_JSON}}") || strings.Contains(generator.lastPrompt, "{{PRODUCT_JSON}}") {
		t.Fatalf("prompt placeholders were not substituted")
	}
}

func TestDecidePropagatesGeneratorError(t *testing.T) {
	wantErr := errors.New("quota exceeded")
	arbiter := NewArbiter(&stubGenerator{err: wantErr}, zap.NewNop(), 0)

	_, err := arbiter.Decide(context.Background(), testRequest())
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected generator error, got %v", err)
	}
}

func TestDecideRejectsUnparsableResponse(t *testing.T) {
	arbiter := NewArbiter(&stubGenerator{response: "I cannot decide."}, zap.NewNop(), 0)

	if _, err := arbiter.Decide(context.Background(), testRequest()); err == nil {
		t.Fatalf("expected parse error for non-JSON response")
	}
}

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name string
		in   string
		out  string
	}{
		{"bare", `{"accept": true}`, `{"accept": true}`},
		{"fenced json", "```json\n{\"accept\": true}\n```", `{"accept": true}`},
		{"fenced plain", "```\n{\"accept\": true}\n```", `{"accept": true}`},
		{"stray backticks", "`{\"accept\": true}`", `{"accept": true}`},
		{"surrounding whitespace", "  \n{\"accept\": true}\n ", `{"accept": true}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := extractJSON(tc.in); got != tc.out {
				t.Fatalf("expected %q, got %q", tc.out, got)
			}
		})
	}
}

func TestCoerceBool(t *testing.T) {
	cases := []struct {
		in   any
		want bool
	}{
		{true, true},
		{false, false},
		{"true", true},
		{"YES", true},
		{"no", false},
		{float64(1), true},
		{float64(0), false},
		{nil, false},
	}

	for _, tc := range cases {
		if got := coerceBool(tc.in); got != tc.want {
			t.Fatalf("coerceBool(%v): expected %v, got %v", tc.in, tc.want, got)
		}
	}
}
