package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/conorfennell/knolprep/internal/domain"
)

// GetSession loads the persisted review session for key. It returns nil when
// no session was ever stored under that key.
func (db *DB) GetSession(ctx context.Context, key domain.SessionKey) (*domain.ReviewSession, error) {
	var (
		queue, filters string
		updatedAt      int64
		s              = domain.ReviewSession{Key: key}
	)
	err := db.queryRow(ctx, `
		SELECT queue, cursor_pos, filters, updated_at
		FROM review_sessions WHERE user_id = ? AND session_key = ?
	`, key.UserID, key.Identity()).Scan(&queue, &s.Cursor, &filters, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", key, err)
	}

	if s.Queue, err = unmarshalStrings(queue); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(filters), &s.Filters); err != nil {
		return nil, fmt.Errorf("failed to decode filters of session %s: %w", key, err)
	}
	s.UpdatedAt = fromMillis(updatedAt)
	return &s, nil
}

// PutSession stores the session under its key, replacing any previous one.
func (db *DB) PutSession(ctx context.Context, s *domain.ReviewSession) error {
	queue, err := marshalStrings(s.Queue)
	if err != nil {
		return err
	}
	filters, err := json.Marshal(s.Filters)
	if err != nil {
		return fmt.Errorf("failed to encode filters of session %s: %w", s.Key, err)
	}

	_, err = db.exec(ctx, `
		INSERT INTO review_sessions (user_id, session_key, queue, cursor_pos, filters, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, session_key) DO UPDATE SET
			queue = excluded.queue,
			cursor_pos = excluded.cursor_pos,
			filters = excluded.filters,
			updated_at = excluded.updated_at
	`, s.Key.UserID, s.Key.Identity(), queue, s.Cursor, string(filters), toMillis(s.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save session %s: %w", s.Key, err)
	}
	return nil
}

// DeleteSession removes the persisted session for key.
func (db *DB) DeleteSession(ctx context.Context, key domain.SessionKey) error {
	_, err := db.exec(ctx, "DELETE FROM review_sessions WHERE user_id = ? AND session_key = ?", key.UserID, key.Identity())
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", key, err)
	}
	return nil
}
