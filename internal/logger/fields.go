package logger

import (
	"strings"

	"go.uber.org/zap"
)

const (
	// FieldProvider is the structured log field key for the arbitration provider.
	FieldProvider = "arbiter_provider"
	// FieldModel is the structured log field key for the arbitration model.
	FieldModel = "arbiter_model"
)

// WithArbiterFields tags a logger with the arbitration provider and model.
// Empty values are skipped; a nil logger falls back to a no-op one.
func WithArbiterFields(log *zap.Logger, provider, model string) *zap.Logger {
	if log == nil {
		log = zap.NewNop()
	}

	fields := make([]zap.Field, 0, 2)
	if provider = strings.TrimSpace(provider); provider != "" {
		fields = append(fields, zap.String(FieldProvider, provider))
	}
	if model = strings.TrimSpace(model); model != "" {
		fields = append(fields, zap.String(FieldModel, model))
	}

	if len(fields) == 0 {
		return log
	}
	return log.With(fields...)
}
