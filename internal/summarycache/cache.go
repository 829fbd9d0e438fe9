// Package summarycache keeps a local SQLite mirror of the card catalog's
// summaries and advances it incrementally from the remote store.
package summarycache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
	_ "modernc.org/sqlite" // Registers the sqlite driver

	"github.com/conorfennell/knolprep/internal/domain"
	"github.com/conorfennell/knolprep/internal/storage"
)

const (
	// DefaultPageSize is the number of summaries pulled per sync round trip.
	DefaultPageSize = 500

	// MaxQueryPageSize bounds the page size of Page queries.
	MaxQueryPageSize = 200

	watermarkKey = "card_summary_watermark"
)

// Source is the remote catalog the cache mirrors.
type Source interface {
	ListSummariesSince(ctx context.Context, after storage.SyncCursor, limit int) ([]domain.CardSummary, error)
}

// OverrideLister returns a user's overrides.
type OverrideLister interface {
	ListOverrides(ctx context.Context, userID string) ([]domain.Override, error)
}

// Options configures a Cache.
type Options struct {
	PageSize  int
	Overrides OverrideLister
}

// Cache is the local summary mirror.
type Cache struct {
	conn      *sql.DB
	source    Source
	overrides OverrideLister
	pageSize  int
	group     singleflight.Group
}

// Open opens (or creates) the cache database at path.
func Open(ctx context.Context, path string, source Source, opts Options) (*Cache, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open summary cache: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if _, err := conn.ExecContext(ctx, schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create summary cache schema: %w", err)
	}

	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Cache{
		conn:      conn,
		source:    source,
		overrides: opts.Overrides,
		pageSize:  pageSize,
	}, nil
}

// Close closes the cache database.
func (c *Cache) Close() error {
	return c.conn.Close()
}

// Sync pulls every summary changed since the watermark. Each page is applied
// in its own transaction together with the advanced watermark, so a failure
// keeps everything committed so far. Concurrent calls share one run.
// It returns the number of rows pulled.
func (c *Cache) Sync(ctx context.Context) (int, error) {
	v, err, _ := c.group.Do("sync", func() (any, error) {
		return c.sync(ctx)
	})
	n, _ := v.(int)
	return n, err
}

func (c *Cache) sync(ctx context.Context) (int, error) {
	wm, err := c.Watermark(ctx)
	if err != nil {
		return 0, err
	}

	pulled := 0
	for {
		page, err := c.source.ListSummariesSince(ctx, wm, c.pageSize)
		if err != nil {
			return pulled, fmt.Errorf("failed to fetch summaries after %s: %w", formatCursor(wm), err)
		}
		if len(page) == 0 {
			break
		}

		last := page[len(page)-1]
		next := storage.SyncCursor{UpdatedAt: last.SyncCursor, ID: last.ID}
		if err := c.applyPage(ctx, page, next); err != nil {
			return pulled, err
		}
		wm = next
		pulled += len(page)

		if len(page) < c.pageSize {
			break
		}
	}

	if pulled > 0 {
		slog.Info("Synced card summary cache", "rows", pulled, "watermark", formatCursor(wm))
	}
	return pulled, nil
}

func (c *Cache) applyPage(ctx context.Context, page []domain.CardSummary, wm storage.SyncCursor) error {
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin cache transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO card_summary (id, category_l1, category_l2, category_l3, title, question,
			title_en, question_en, question_type, difficulty, frequency, tags, sync_cursor)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			category_l1 = excluded.category_l1,
			category_l2 = excluded.category_l2,
			category_l3 = excluded.category_l3,
			title = excluded.title,
			question = excluded.question,
			title_en = excluded.title_en,
			question_en = excluded.question_en,
			question_type = excluded.question_type,
			difficulty = excluded.difficulty,
			frequency = excluded.frequency,
			tags = excluded.tags,
			sync_cursor = excluded.sync_cursor
		WHERE excluded.sync_cursor >= card_summary.sync_cursor
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare summary upsert: %w", err)
	}
	defer stmt.Close()

	for _, s := range page {
		tags, err := json.Marshal(nonNil(s.Tags))
		if err != nil {
			return fmt.Errorf("failed to encode tags of %s: %w", s.ID, err)
		}
		_, err = stmt.ExecContext(ctx,
			s.ID, s.CategoryL1, s.CategoryL2, s.CategoryL3, s.Title, s.Question,
			s.TitleEN, s.QuestionEN, string(s.QuestionType), s.Difficulty, s.Frequency,
			string(tags), s.SyncCursor.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert summary %s: %w", s.ID, err)
		}
	}

	if err := setMeta(ctx, tx, watermarkKey, formatCursor(wm)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit summary page: %w", err)
	}
	return nil
}

// Watermark returns the position of the last committed sync page. A fresh
// cache returns the zero cursor.
func (c *Cache) Watermark(ctx context.Context) (storage.SyncCursor, error) {
	raw, ok, err := c.GetMeta(ctx, watermarkKey)
	if err != nil || !ok {
		return storage.SyncCursor{}, err
	}
	return parseCursor(raw)
}

// Reset drops every cached summary and the watermark.
func (c *Cache) Reset(ctx context.Context) error {
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin cache reset: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{"DELETE FROM card_summary", "DELETE FROM cache_meta"} {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("failed to reset summary cache: %w", err)
		}
	}
	return tx.Commit()
}

// GetMeta reads a cache metadata value.
func (c *Cache) GetMeta(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := c.conn.QueryRowContext(ctx, "SELECT value FROM cache_meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read cache meta %s: %w", key, err)
	}
	return value, true, nil
}

// SetMeta writes a cache metadata value.
func (c *Cache) SetMeta(ctx context.Context, key, value string) error {
	return setMeta(ctx, c.conn, key, value)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func setMeta(ctx context.Context, e execer, key, value string) error {
	_, err := e.ExecContext(ctx, `
		INSERT INTO cache_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write cache meta %s: %w", key, err)
	}
	return nil
}

// formatCursor encodes a cursor as "<unix millis>|<id>".
func formatCursor(c storage.SyncCursor) string {
	var ms int64
	if !c.UpdatedAt.IsZero() {
		ms = c.UpdatedAt.UnixMilli()
	}
	return strconv.FormatInt(ms, 10) + "|" + c.ID
}

func parseCursor(raw string) (storage.SyncCursor, error) {
	msPart, id, ok := strings.Cut(raw, "|")
	if !ok {
		return storage.SyncCursor{}, fmt.Errorf("malformed cache watermark %q", raw)
	}
	ms, err := strconv.ParseInt(msPart, 10, 64)
	if err != nil {
		return storage.SyncCursor{}, fmt.Errorf("malformed cache watermark %q: %w", raw, err)
	}
	var at time.Time
	if ms != 0 {
		at = time.UnixMilli(ms).UTC()
	}
	return storage.SyncCursor{UpdatedAt: at, ID: id}, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
