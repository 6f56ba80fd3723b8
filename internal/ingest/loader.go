package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/openlend/loan-matcher/internal/records"
	"github.com/openlend/loan-matcher/internal/store"
)

const (
	defaultChunkSize = 200
	maxRecordedErrs  = 10
)

var requiredColumns = []string{"email", "monthly_income", "credit_score", "employment_status", "age"}

// Loader validates a tabular applicant stream and upserts it into the record
// store, tracking per-batch progress incrementally.
type Loader struct {
	store     *store.Store
	logger    *zap.Logger
	chunkSize int
}

// Result summarizes one ingestion run.
type Result struct {
	BatchID   string
	Status    string
	Total     int
	Processed int
	Failed    int
	Errors    []string
}

func New(s *store.Store, logger *zap.Logger, chunkSize int) *Loader {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{store: s, logger: logger, chunkSize: chunkSize}
}

// Run ingests one batch. Row-level validation failures are counted and
// recorded without aborting the stream; only an unreadable input (bad header,
// malformed encoding, truncated file) fails the whole batch. Re-running over
// the same file is safe: valid rows are upserted by email.
func (l *Loader) Run(ctx context.Context, fileName, sourceRef string, r io.Reader) (*Result, error) {
	batch, err := l.store.CreateBatch(ctx, fileName, sourceRef)
	if err != nil {
		return nil, &records.FatalError{Err: err}
	}
	if err := l.store.StartBatch(ctx, batch.ID); err != nil {
		return nil, &records.FatalError{Err: err}
	}

	result := &Result{BatchID: batch.ID}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	columns, err := l.readHeader(reader)
	if err != nil {
		return l.fail(ctx, result, err)
	}

	chunk := make([]*records.Applicant, 0, l.chunkSize)
	for {
		row, readErr := reader.Read()
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			// Anything the csv reader cannot recover from means the
			// stream itself is broken.
			return l.fail(ctx, result, fmt.Errorf("read input: %w", readErr))
		}

		result.Total++

		applicant, rowErr := parseRow(result.Total, columns, row)
		if rowErr != nil {
			result.Failed++
			l.recordError(result, rowErr)
			l.logger.Warn("row rejected",
				zap.String("batch_id", batch.ID),
				zap.Error(rowErr),
			)
			continue
		}

		chunk = append(chunk, applicant)
		if len(chunk) >= l.chunkSize {
			l.flush(ctx, result, chunk)
			chunk = chunk[:0]
		}
	}

	if len(chunk) > 0 {
		l.flush(ctx, result, chunk)
	}

	errDetail := strings.Join(result.Errors, "; ")
	if err := l.store.FinishBatch(ctx, batch.ID, records.BatchCompleted,
		result.Total, result.Processed, result.Failed, errDetail); err != nil {
		return nil, &records.FatalError{Err: err}
	}
	result.Status = records.BatchCompleted

	l.logger.Info("batch completed",
		zap.String("batch_id", batch.ID),
		zap.Int("total", result.Total),
		zap.Int("processed", result.Processed),
		zap.Int("failed", result.Failed),
	)

	return result, nil
}

// readHeader maps column names to indexes and verifies the required set is
// present. A missing required column fails the batch before any row is read.
func (l *Loader) readHeader(reader *csv.Reader) (map[string]int, error) {
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}

	for _, required := range requiredColumns {
		if _, ok := columns[required]; !ok {
			return nil, fmt.Errorf("missing required column %q", required)
		}
	}

	return columns, nil
}

// flush upserts a chunk and persists the running counters, so progress is
// durable after every chunk rather than only at the end. A storage failure on
// one chunk counts its rows as failed and the stream continues.
func (l *Loader) flush(ctx context.Context, result *Result, chunk []*records.Applicant) {
	if err := l.store.UpsertApplicants(ctx, chunk); err != nil {
		depErr := &records.DependencyError{Op: "upsert applicants", Err: err}
		result.Failed += len(chunk)
		l.recordError(result, depErr)
		l.logger.Error("chunk upsert failed",
			zap.String("batch_id", result.BatchID),
			zap.Int("rows", len(chunk)),
			zap.Error(err),
		)
	} else {
		result.Processed += len(chunk)
	}

	if err := l.store.UpdateBatchProgress(ctx, result.BatchID,
		result.Total, result.Processed, result.Failed); err != nil {
		l.logger.Warn("progress flush failed",
			zap.String("batch_id", result.BatchID),
			zap.Error(err),
		)
	}
}

func (l *Loader) recordError(result *Result, err error) {
	if len(result.Errors) < maxRecordedErrs {
		result.Errors = append(result.Errors, err.Error())
	}
}

// fail marks the batch terminally failed. Used only for stream-level
// problems; row-level problems never reach here.
func (l *Loader) fail(ctx context.Context, result *Result, cause error) (*Result, error) {
	result.Status = records.BatchFailed
	if err := l.store.FinishBatch(ctx, result.BatchID, records.BatchFailed,
		result.Total, result.Processed, result.Failed, cause.Error()); err != nil {
		l.logger.Error("marking batch failed", zap.String("batch_id", result.BatchID), zap.Error(err))
	}
	return result, &records.FatalError{Err: cause}
}

func parseRow(rowNum int, columns map[string]int, row []string) (*records.Applicant, error) {
	field := func(name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	email := field("email")
	if email == "" || !strings.Contains(email, "@") {
		return nil, &records.ValidationError{Row: rowNum, Field: "email", Reason: "not a valid address"}
	}

	income, err := decimal.NewFromString(field("monthly_income"))
	if err != nil {
		return nil, &records.ValidationError{Row: rowNum, Field: "monthly_income", Reason: "not a number"}
	}
	if income.IsNegative() {
		return nil, &records.ValidationError{Row: rowNum, Field: "monthly_income", Reason: "must not be negative"}
	}

	creditScore, err := strconv.Atoi(field("credit_score"))
	if err != nil {
		return nil, &records.ValidationError{Row: rowNum, Field: "credit_score", Reason: "not an integer"}
	}
	if creditScore < records.MinCreditScore || creditScore > records.MaxCreditScore {
		return nil, &records.ValidationError{
			Row:    rowNum,
			Field:  "credit_score",
			Reason: fmt.Sprintf("%d out of range (%d-%d)", creditScore, records.MinCreditScore, records.MaxCreditScore),
		}
	}

	age, err := strconv.Atoi(field("age"))
	if err != nil {
		return nil, &records.ValidationError{Row: rowNum, Field: "age", Reason: "not an integer"}
	}
	if age < records.MinAge || age > records.MaxAge {
		return nil, &records.ValidationError{
			Row:    rowNum,
			Field:  "age",
			Reason: fmt.Sprintf("%d out of range (%d-%d)", age, records.MinAge, records.MaxAge),
		}
	}

	return &records.Applicant{
		Email:            email,
		Name:             field("name"),
		MonthlyIncome:    income,
		CreditScore:      creditScore,
		EmploymentStatus: field("employment_status"),
		Age:              age,
	}, nil
}
