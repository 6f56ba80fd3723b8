package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"github.com/openlend/loan-matcher/internal/records"
)

// UpsertMatches commits accepted pairs to the ledger. The upsert is keyed by
// (applicant_id, product_id): a pair recorded by an earlier run gets its
// score and matched_at refreshed, while its notification state is left alone.
func (s *Store) UpsertMatches(ctx context.Context, matches []*records.Match) error {
	if len(matches) == 0 {
		return nil
	}

	now := time.Now().UTC()
	for _, m := range matches {
		if m.MatchedAt.IsZero() {
			m.MatchedAt = now
		}
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "applicant_id"}, {Name: "product_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"score", "matched_at"}),
	}).Create(&matches).Error
	if err != nil {
		return fmt.Errorf("upsert matches: %w", err)
	}

	return nil
}

// UnnotifiedMatches returns every match the notification collaborator has not
// yet confirmed, oldest first.
func (s *Store) UnnotifiedMatches(ctx context.Context) ([]*records.Match, error) {
	var matches []*records.Match
	err := s.db.WithContext(ctx).
		Where("notification_sent = ?", false).
		Order("matched_at, id").
		Find(&matches).Error
	if err != nil {
		return nil, fmt.Errorf("list unnotified matches: %w", err)
	}
	return matches, nil
}

// MarkNotified flips the notification flag and stamps the time. Calling it on
// an already-sent match is a no-op, not an error, so the collaborator may
// retry its callback freely.
func (s *Store) MarkNotified(ctx context.Context, matchID uint) error {
	now := time.Now().UTC()
	err := s.db.WithContext(ctx).
		Model(&records.Match{}).
		Where("id = ? AND notification_sent = ?", matchID, false).
		Updates(map[string]any{
			"notification_sent": true,
			"notified_at":       &now,
		}).Error
	if err != nil {
		return fmt.Errorf("mark match %d notified: %w", matchID, err)
	}
	return nil
}

// CountMatches returns the ledger size.
func (s *Store) CountMatches(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&records.Match{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count matches: %w", err)
	}
	return count, nil
}
