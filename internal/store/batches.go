package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openlend/loan-matcher/internal/records"
)

// CreateBatch registers a new ingestion batch in the pending state and
// returns it.
func (s *Store) CreateBatch(ctx context.Context, fileName, sourceRef string) (*records.IngestionBatch, error) {
	batch := &records.IngestionBatch{
		ID:        uuid.NewString(),
		FileName:  fileName,
		SourceRef: sourceRef,
		Status:    records.BatchPending,
	}
	if err := s.db.WithContext(ctx).Create(batch).Error; err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}
	return batch, nil
}

// StartBatch moves a pending batch to processing. Terminal batches are left
// untouched.
func (s *Store) StartBatch(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).
		Model(&records.IngestionBatch{}).
		Where("id = ? AND status = ?", id, records.BatchPending).
		Update("status", records.BatchProcessing).Error
	if err != nil {
		return fmt.Errorf("start batch %s: %w", id, err)
	}
	return nil
}

// UpdateBatchProgress flushes the running counters. Called after every chunk
// so progress survives a crash mid-batch.
func (s *Store) UpdateBatchProgress(ctx context.Context, id string, total, processed, failed int) error {
	err := s.db.WithContext(ctx).
		Model(&records.IngestionBatch{}).
		Where("id = ? AND status = ?", id, records.BatchProcessing).
		Updates(map[string]any{
			"total_records":     total,
			"processed_records": processed,
			"failed_records":    failed,
		}).Error
	if err != nil {
		return fmt.Errorf("update batch %s progress: %w", id, err)
	}
	return nil
}

// FinishBatch records the terminal status and final counters. The status
// guard makes the transition monotonic: a batch that already completed or
// failed is never moved again.
func (s *Store) FinishBatch(ctx context.Context, id, status string, total, processed, failed int, errDetail string) error {
	if status != records.BatchCompleted && status != records.BatchFailed {
		return fmt.Errorf("finish batch %s: %q is not a terminal status", id, status)
	}

	now := time.Now().UTC()
	err := s.db.WithContext(ctx).
		Model(&records.IngestionBatch{}).
		Where("id = ? AND status NOT IN ?", id, []string{records.BatchCompleted, records.BatchFailed}).
		Updates(map[string]any{
			"status":            status,
			"total_records":     total,
			"processed_records": processed,
			"failed_records":    failed,
			"error_detail":      errDetail,
			"processed_at":      &now,
		}).Error
	if err != nil {
		return fmt.Errorf("finish batch %s: %w", id, err)
	}
	return nil
}

// GetBatch loads a batch by id.
func (s *Store) GetBatch(ctx context.Context, id string) (*records.IngestionBatch, error) {
	var batch records.IngestionBatch
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&batch).Error; err != nil {
		return nil, fmt.Errorf("get batch %s: %w", id, err)
	}
	return &batch, nil
}
