package summarycache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/conorfennell/knolprep/internal/domain"
	"github.com/conorfennell/knolprep/internal/storage"
)

// Filter narrows cached summaries. Zero values do not filter.
type Filter struct {
	Search       string
	CategoryL3ID string
}

// PageQuery selects one page of cached summaries. Page is 1-based.
type PageQuery struct {
	Filter
	Page     int
	PageSize int
}

// PageResult is one page plus the number of matching rows.
type PageResult struct {
	Items []domain.CardSummary `json:"items"`
	Total int                  `json:"total"`
}

// Progress counts solved cards among the matching cached rows.
type Progress struct {
	Solved int `json:"solved"`
	Total  int `json:"total"`
}

func (f Filter) where() (string, []any) {
	where, args := []string{"1 = 1"}, []any{}
	if f.Search != "" {
		like := storage.ContainsPattern(f.Search)
		where = append(where, "("+storage.SearchClause("title", "question", "title_en", "question_en")+")")
		args = append(args, like, like, like, like)
	}
	if f.CategoryL3ID != "" {
		where = append(where, "category_l3 = ?")
		args = append(args, f.CategoryL3ID)
	}
	return strings.Join(where, " AND "), args
}

// Page syncs and then serves one page of summaries ordered by id. When the
// sync fails the stale cache is served.
func (c *Cache) Page(ctx context.Context, q PageQuery) (PageResult, error) {
	c.syncOrServeStale(ctx)

	page := max(q.Page, 1)
	size := min(max(q.PageSize, 1), MaxQueryPageSize)
	where, args := q.Filter.where()

	var res PageResult
	if err := c.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM card_summary WHERE "+where, args...).Scan(&res.Total); err != nil {
		return res, fmt.Errorf("failed to count cached summaries: %w", err)
	}

	rows, err := c.conn.QueryContext(ctx, `
		SELECT id, category_l1, category_l2, category_l3, title, question, title_en, question_en,
			question_type, difficulty, frequency, tags, sync_cursor
		FROM card_summary WHERE `+where+`
		ORDER BY id ASC
		LIMIT ? OFFSET ?
	`, append(args, size, (page-1)*size)...)
	if err != nil {
		return res, fmt.Errorf("failed to query cached summaries: %w", err)
	}
	defer rows.Close()

	res.Items = []domain.CardSummary{}
	for rows.Next() {
		var (
			s            domain.CardSummary
			questionType string
			tags         string
			cursor       int64
		)
		err := rows.Scan(&s.ID, &s.CategoryL1, &s.CategoryL2, &s.CategoryL3, &s.Title, &s.Question,
			&s.TitleEN, &s.QuestionEN, &questionType, &s.Difficulty, &s.Frequency, &tags, &cursor)
		if err != nil {
			return res, fmt.Errorf("failed to scan cached summary: %w", err)
		}
		s.QuestionType = domain.QuestionType(questionType)
		s.SyncCursor = time.UnixMilli(cursor).UTC()
		if err := json.Unmarshal([]byte(tags), &s.Tags); err != nil {
			return res, fmt.Errorf("failed to decode tags of %s: %w", s.ID, err)
		}
		res.Items = append(res.Items, s)
	}
	if err := rows.Err(); err != nil {
		return res, fmt.Errorf("failed to iterate cached summaries: %w", err)
	}
	return res, nil
}

// Progress reports how many of the matching cached cards the user has
// solved. Without a user nothing is solved.
func (c *Cache) Progress(ctx context.Context, userID string, f Filter) (Progress, error) {
	c.syncOrServeStale(ctx)

	where, args := f.where()
	rows, err := c.conn.QueryContext(ctx, "SELECT id FROM card_summary WHERE "+where, args...)
	if err != nil {
		return Progress{}, fmt.Errorf("failed to query cached summaries: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return Progress{}, fmt.Errorf("failed to scan cached summary id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Progress{}, fmt.Errorf("failed to iterate cached summary ids: %w", err)
	}

	p := Progress{Total: len(ids)}
	if userID == "" || c.overrides == nil || len(ids) == 0 {
		return p, nil
	}

	overrides, err := c.overrides.ListOverrides(ctx, userID)
	if err != nil {
		return p, fmt.Errorf("failed to load overrides for %s: %w", userID, err)
	}
	solved := make(map[string]bool, len(overrides))
	for _, o := range overrides {
		if o.Solved() {
			solved[o.CardID] = true
		}
	}
	for _, id := range ids {
		if solved[id] {
			p.Solved++
		}
	}
	return p, nil
}

func (c *Cache) syncOrServeStale(ctx context.Context) {
	if _, err := c.Sync(ctx); err != nil {
		slog.Warn("Card summary sync failed, serving cached data", "error", err)
	}
}
