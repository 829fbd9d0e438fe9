package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Source represents a card source, either a local path or a Git URL.
type Source struct {
	ID          int64     `json:"id"`
	Path        string    `json:"path"`
	Type        string    `json:"type"` // local or git
	LastScanned time.Time `json:"last_scanned"`
}

// InsertSource inserts a new source path into the database and returns its ID.
func (db *DB) InsertSource(ctx context.Context, path, sourceType string) (int64, error) {
	var id int64
	err := db.queryRow(ctx, `
		INSERT INTO sources (path, type, last_scanned)
		VALUES (?, ?, 0)
		RETURNING id
	`, path, sourceType).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert source %s: %w", path, err)
	}
	return id, nil
}

// FindSourceByPath retrieves a source from the database by its path.
func (db *DB) FindSourceByPath(ctx context.Context, path string) (*Source, error) {
	var (
		s           Source
		lastScanned int64
	)
	err := db.queryRow(ctx, "SELECT id, path, type, last_scanned FROM sources WHERE path = ?", path).
		Scan(&s.ID, &s.Path, &s.Type, &lastScanned)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Source not found
		}
		return nil, fmt.Errorf("failed to find source by path %s: %w", path, err)
	}
	s.LastScanned = fromMillis(lastScanned)
	return &s, nil
}

// GetAllSources retrieves all stored sources from the database.
func (db *DB) GetAllSources(ctx context.Context) ([]Source, error) {
	rows, err := db.query(ctx, "SELECT id, path, type, last_scanned FROM sources ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to get all sources: %w", err)
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		var (
			s           Source
			lastScanned int64
		)
		if err := rows.Scan(&s.ID, &s.Path, &s.Type, &lastScanned); err != nil {
			return nil, fmt.Errorf("failed to scan source row: %w", err)
		}
		s.LastScanned = fromMillis(lastScanned)
		sources = append(sources, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sources: %w", err)
	}
	return sources, nil
}

// UpdateSourceLastScanned updates the last_scanned timestamp for a source.
func (db *DB) UpdateSourceLastScanned(ctx context.Context, sourceID int64, at time.Time) error {
	if _, err := db.exec(ctx, "UPDATE sources SET last_scanned = ? WHERE id = ?", toMillis(at), sourceID); err != nil {
		return fmt.Errorf("failed to update last scanned for source ID %d: %w", sourceID, err)
	}
	return nil
}

// DeleteSource removes a source and the cards imported from it.
func (db *DB) DeleteSource(ctx context.Context, sourceID int64) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delete of source ID %d: %w", sourceID, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, db.rebind("DELETE FROM cards WHERE source_id = ?"), sourceID); err != nil {
		return fmt.Errorf("failed to delete cards of source ID %d: %w", sourceID, err)
	}
	if _, err := tx.ExecContext(ctx, db.rebind("DELETE FROM sources WHERE id = ?"), sourceID); err != nil {
		return fmt.Errorf("failed to delete source ID %d: %w", sourceID, err)
	}
	return tx.Commit()
}

// GetCardIDsBySource returns the ids of all cards imported from a source.
func (db *DB) GetCardIDsBySource(ctx context.Context, sourceID int64) ([]string, error) {
	rows, err := db.query(ctx, "SELECT id FROM cards WHERE source_id = ? ORDER BY id", sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get cards for source ID %d: %w", sourceID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan card id for source ID %d: %w", sourceID, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cards for source ID %d: %w", sourceID, err)
	}
	return ids, nil
}
