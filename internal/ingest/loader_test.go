package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/openlend/loan-matcher/internal/records"
	"github.com/openlend/loan-matcher/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	s := store.New(db, zap.NewNop())
	if err := s.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

const sampleCSV = `email,name,monthly_income,credit_score,employment_status,age
alice@example.com,Alice,5200.50,740,employed,34
bob@example.com,Bob,3100,680,self-employed,45
carol@example.com,Carol,4000,710,employed,150
dave@example.com,Dave,2800,655,unemployed,29
eve@example.com,Eve,6100,790,employed,52
`

func TestRunCountsRowFailuresWithoutAborting(t *testing.T) {
	s := newTestStore(t)
	loader := New(s, zap.NewNop(), 2)

	result, err := loader.Run(context.Background(), "applicants.csv", "applicants.csv", strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if result.Status != records.BatchCompleted {
		t.Fatalf("expected completed batch, got %s", result.Status)
	}
	if result.Total != 5 || result.Processed != 4 || result.Failed != 1 {
		t.Fatalf("expected 5/4/1, got %d/%d/%d", result.Total, result.Processed, result.Failed)
	}
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0], "age") {
		t.Fatalf("expected one recorded age error, got %v", result.Errors)
	}

	batch, err := s.GetBatch(context.Background(), result.BatchID)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if batch.Status != records.BatchCompleted {
		t.Fatalf("expected stored batch completed, got %s", batch.Status)
	}
	if batch.TotalRecords != 5 || batch.ProcessedRecords != 4 || batch.FailedRecords != 1 {
		t.Fatalf("stored counters mismatch: %d/%d/%d", batch.TotalRecords, batch.ProcessedRecords, batch.FailedRecords)
	}
	if batch.ProcessedAt == nil {
		t.Fatalf("expected processed_at to be stamped")
	}

	applicants, _, err := s.Counts(context.Background())
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if applicants != 4 {
		t.Fatalf("expected 4 applicants stored, got %d", applicants)
	}
}

func TestRunMissingRequiredColumnFailsBatch(t *testing.T) {
	s := newTestStore(t)
	loader := New(s, zap.NewNop(), 0)

	input := "email,name,monthly_income,employment_status,age\nalice@example.com,Alice,5200,employed,34\n"
	result, err := loader.Run(context.Background(), "bad.csv", "bad.csv", strings.NewReader(input))
	if err == nil {
		t.Fatalf("expected error for missing credit_score column")
	}

	var fatal *records.FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("expected FatalError, got %T: %v", err, err)
	}
	if !strings.Contains(err.Error(), "credit_score") {
		t.Fatalf("error should name the missing column: %v", err)
	}

	batch, getErr := s.GetBatch(context.Background(), result.BatchID)
	if getErr != nil {
		t.Fatalf("get batch: %v", getErr)
	}
	if batch.Status != records.BatchFailed {
		t.Fatalf("expected failed batch, got %s", batch.Status)
	}
	if batch.ErrorDetail == "" {
		t.Fatalf("expected error detail on failed batch")
	}

	applicants, _, err := s.Counts(context.Background())
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if applicants != 0 {
		t.Fatalf("expected no applicants from a failed batch, got %d", applicants)
	}
}

func TestRunIsIdempotentAcrossReRuns(t *testing.T) {
	s := newTestStore(t)
	loader := New(s, zap.NewNop(), 3)

	for i := 0; i < 2; i++ {
		if _, err := loader.Run(context.Background(), "applicants.csv", "applicants.csv", strings.NewReader(sampleCSV)); err != nil {
			t.Fatalf("run %d: %v", i+1, err)
		}
	}

	applicants, _, err := s.Counts(context.Background())
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if applicants != 4 {
		t.Fatalf("re-running the same file must not duplicate rows, got %d", applicants)
	}
}

func TestRunEmptyFileCompletes(t *testing.T) {
	s := newTestStore(t)
	loader := New(s, zap.NewNop(), 0)

	input := "email,name,monthly_income,credit_score,employment_status,age\n"
	result, err := loader.Run(context.Background(), "empty.csv", "empty.csv", strings.NewReader(input))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != records.BatchCompleted || result.Total != 0 {
		t.Fatalf("expected completed empty batch, got %s with %d rows", result.Status, result.Total)
	}
}

func TestParseRowValidation(t *testing.T) {
	columns := map[string]int{
		"email": 0, "name": 1, "monthly_income": 2,
		"credit_score": 3, "employment_status": 4, "age": 5,
	}

	cases := []struct {
		name  string
		row   []string
		field string
	}{
		{"missing at sign", []string{"not-an-email", "X", "1000", "700", "employed", "30"}, "email"},
		{"negative income", []string{"a@b.com", "X", "-5", "700", "employed", "30"}, "monthly_income"},
		{"income not a number", []string{"a@b.com", "X", "lots", "700", "employed", "30"}, "monthly_income"},
		{"credit below range", []string{"a@b.com", "X", "1000", "299", "employed", "30"}, "credit_score"},
		{"credit above range", []string{"a@b.com", "X", "1000", "851", "employed", "30"}, "credit_score"},
		{"age below range", []string{"a@b.com", "X", "1000", "700", "employed", "17"}, "age"},
		{"age above range", []string{"a@b.com", "X", "1000", "700", "employed", "101"}, "age"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseRow(1, columns, tc.row)
			var verr *records.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %T: %v", err, err)
			}
			if verr.Field != tc.field {
				t.Fatalf("expected field %q, got %q", tc.field, verr.Field)
			}
		})
	}

	applicant, err := parseRow(1, columns, []string{"a@b.com", "Ada", "1000.25", "300", "employed", "18"})
	if err != nil {
		t.Fatalf("boundary values must be accepted: %v", err)
	}
	if applicant.CreditScore != 300 || applicant.Age != 18 {
		t.Fatalf("unexpected parsed values: %+v", applicant)
	}
}
