package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/conorfennell/knolprep/internal/domain"
)

const overrideColumns = `user_id, card_id, mastery, review_count, interval_days, due_at,
	last_reviewed_at, last_submission, pass_rate, updated_at`

// GetOverrides returns the overrides of userID for the given cards, keyed by
// (user, card). Cards the user never touched are absent from the map.
func (db *DB) GetOverrides(ctx context.Context, userID string, cardIDs []string) (map[domain.OverrideKey]domain.Override, error) {
	out := make(map[domain.OverrideKey]domain.Override, len(cardIDs))
	for start := 0; start < len(cardIDs); start += existingIDsChunk {
		chunk := cardIDs[start:min(start+existingIDsChunk, len(cardIDs))]
		args := make([]any, 0, len(chunk)+1)
		args = append(args, userID)
		for _, id := range chunk {
			args = append(args, id)
		}

		overrides, err := db.listOverrides(ctx,
			"SELECT "+overrideColumns+" FROM card_overrides WHERE user_id = ? AND card_id IN ("+placeholders(len(chunk))+")",
			args...)
		if err != nil {
			return nil, err
		}
		for _, o := range overrides {
			out[o.Key()] = o
		}
	}
	return out, nil
}

// ListOverrides returns every override of userID.
func (db *DB) ListOverrides(ctx context.Context, userID string) ([]domain.Override, error) {
	return db.listOverrides(ctx, "SELECT "+overrideColumns+" FROM card_overrides WHERE user_id = ? ORDER BY card_id", userID)
}

// UpsertOverride stores the override under its (user, card) key. Repeating
// the same write is harmless and the last write wins.
func (db *DB) UpsertOverride(ctx context.Context, o domain.Override) error {
	var passRate sql.NullFloat64
	if o.PassRate != nil {
		passRate = sql.NullFloat64{Float64: *o.PassRate, Valid: true}
	}
	_, err := db.exec(ctx, `
		INSERT INTO card_overrides (`+overrideColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, card_id) DO UPDATE SET
			mastery = excluded.mastery,
			review_count = excluded.review_count,
			interval_days = excluded.interval_days,
			due_at = excluded.due_at,
			last_reviewed_at = excluded.last_reviewed_at,
			last_submission = excluded.last_submission,
			pass_rate = excluded.pass_rate,
			updated_at = excluded.updated_at
	`,
		o.UserID, o.CardID, string(o.Mastery), o.ReviewCount, o.IntervalDays,
		toMillis(o.DueAt), toMillis(o.LastReviewedAt), o.LastSubmission, passRate,
		toMillis(o.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert override for user %s card %s: %w", o.UserID, o.CardID, err)
	}
	return nil
}

func (db *DB) listOverrides(ctx context.Context, query string, args ...any) ([]domain.Override, error) {
	rows, err := db.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list overrides: %w", err)
	}
	defer rows.Close()

	var overrides []domain.Override
	for rows.Next() {
		var (
			o                                domain.Override
			mastery                          string
			dueAt, lastReviewedAt, updatedAt int64
			passRate                         sql.NullFloat64
		)
		if err := rows.Scan(
			&o.UserID, &o.CardID, &mastery, &o.ReviewCount, &o.IntervalDays,
			&dueAt, &lastReviewedAt, &o.LastSubmission, &passRate, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan override row: %w", err)
		}
		o.Mastery = domain.Mastery(mastery)
		o.DueAt = fromMillis(dueAt)
		o.LastReviewedAt = fromMillis(lastReviewedAt)
		o.UpdatedAt = fromMillis(updatedAt)
		if passRate.Valid {
			v := passRate.Float64
			o.PassRate = &v
		}
		overrides = append(overrides, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate overrides: %w", err)
	}
	return overrides, nil
}
