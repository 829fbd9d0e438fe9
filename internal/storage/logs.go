package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/conorfennell/knolprep/internal/domain"
)

// AppendLog records a review. Logs are never updated.
func (db *DB) AppendLog(ctx context.Context, l domain.ReviewLog) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	_, err := db.exec(ctx, `
		INSERT INTO review_logs (id, user_id, card_id, previous_mastery, new_mastery, time_spent_ms, revealed_answer, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, l.ID, l.UserID, l.CardID, string(l.Previous), string(l.New), l.TimeSpent.Milliseconds(), boolToInt(l.RevealedAnswer), toMillis(l.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to append review log for card %s: %w", l.CardID, err)
	}
	return nil
}

// CountLogsSince returns how many reviews userID logged at or after since.
func (db *DB) CountLogsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	err := db.queryRow(ctx, "SELECT COUNT(*) FROM review_logs WHERE user_id = ? AND created_at >= ?", userID, toMillis(since)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count review logs for user %s: %w", userID, err)
	}
	return n, nil
}
