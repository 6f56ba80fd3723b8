package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	_ "embed"

	"go.uber.org/zap"

	"github.com/openlend/loan-matcher/internal/ai"
	"github.com/openlend/loan-matcher/internal/logger"
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, prompt string) (string, error)
	Model() string
}

//go:embed prompt.md
var promptTemplate string

const defaultMaxLogLength = 200

// Arbiter resolves ambiguous (applicant, product) pairs with a Gemini model.
// It implements ai.Arbiter.
type Arbiter struct {
	generator contentGenerator
	logger    *zap.Logger
	maxLogLen int
}

func NewArbiter(generator contentGenerator, log *zap.Logger, maxLogLength int) *Arbiter {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}

	model := ""
	if generator != nil {
		model = generator.Model()
	}

	return &Arbiter{
		generator: generator,
		logger:    logger.WithArbiterFields(log, "gemini", model),
		maxLogLen: maxLogLength,
	}
}

// Decide sends one pair to the model and parses the accept/reject verdict.
func (a *Arbiter) Decide(ctx context.Context, req ai.Request) (*ai.Decision, error) {
	applicantJSON, err := json.MarshalIndent(arbitrationApplicant(req), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal applicant payload: %w", err)
	}

	productJSON, err := json.MarshalIndent(arbitrationProduct(req), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal product payload: %w", err)
	}

	prompt := buildPrompt(string(applicantJSON), string(productJSON))

	a.logger.Debug("gemini arbitration request",
		zap.String("applicant", req.Applicant.Email),
		zap.String("product", req.Product.Name),
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", logger.TruncateForLog(prompt, a.maxLogLen)),
	)

	raw, err := a.generator.GenerateContent(ctx, prompt)
	if err != nil {
		return nil, err
	}

	a.logger.Debug("gemini arbitration response",
		zap.String("applicant", req.Applicant.Email),
		zap.String("product", req.Product.Name),
		zap.String("response_preview", logger.TruncateForLog(raw, a.maxLogLen)),
	)

	decision, err := parseResponse(raw)
	if err != nil {
		return nil, err
	}

	decision.Raw = raw
	return decision, nil
}

// arbitrationApplicant strips the applicant snapshot down to the fields the
// model should see.
func arbitrationApplicant(req ai.Request) map[string]any {
	return map[string]any{
		"email":             req.Applicant.Email,
		"monthly_income":    req.Applicant.MonthlyIncome.String(),
		"credit_score":      req.Applicant.CreditScore,
		"employment_status": req.Applicant.EmploymentStatus,
		"age":               req.Applicant.Age,
	}
}

func arbitrationProduct(req ai.Request) map[string]any {
	return map[string]any{
		"name":                       req.Product.Name,
		"provider":                   req.Product.Provider,
		"interest_rate":              req.Product.InterestRate.String(),
		"required_employment_status": req.Product.RequiredEmploymentStatus,
		"eligibility_notes":          req.Product.EligibilityNotes,
	}
}

func buildPrompt(applicantJSON, productJSON string) string {
	template := promptTemplate
	if strings.TrimSpace(template) == "" {
		template = "Applicant:\n{{APPLICANT_JSON}}\n\nProduct:\n{{PRODUCT_JSON}}\n\nJSON Response:"
	}
	prompt := strings.ReplaceAll(template, "{{APPLICANT_JSON}}", applicantJSON)
	prompt = strings.ReplaceAll(prompt, "{{PRODUCT_JSON}}", productJSON)
	return prompt
}

func parseResponse(raw string) (*ai.Decision, error) {
	cleaned := extractJSON(raw)

	var data map[string]any
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		return nil, fmt.Errorf("parse gemini response: %w", err)
	}

	return &ai.Decision{
		Accept: coerceBool(data["accept"]),
		Reason: coerceString(data["reason"]),
	}, nil
}

func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.Trim(raw, "`")
	return strings.TrimSpace(raw)
}

func coerceBool(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		lower := strings.ToLower(strings.TrimSpace(val))
		return lower == "true" || lower == "yes"
	case float64:
		return val != 0
	default:
		return false
	}
}

func coerceString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case fmt.Stringer:
		return strings.TrimSpace(val.String())
	default:
		if v == nil {
			return ""
		}
		bytes, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(bytes)
	}
}
