package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/conorfennell/knolprep/internal/domain"
)

const cardColumns = `id, category_l1, category_l2, category_l3, title, question, answer,
	title_en, question_en, answer_en, question_type, difficulty, frequency, tags,
	created_at, updated_at, source, external_id`

// existingIDsChunk bounds the number of bound parameters per IN query.
const existingIDsChunk = 500

// CardFilter narrows card listings. Zero values do not filter.
type CardFilter struct {
	// Search is a case-insensitive substring of the title or question.
	Search      string
	CategoryIDs []string
	IDs         []string
}

// Page is an offset/limit window. A zero Limit returns every row.
type Page struct {
	Offset int
	Limit  int
}

// SyncCursor is a position in the (updated_at, id) order of the catalog.
type SyncCursor struct {
	UpdatedAt time.Time
	ID        string
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// ContainsPattern returns a LIKE pattern matching s as a literal substring.
// Use it with SearchClause, which declares the escape character.
func ContainsPattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}

// SearchClause ORs a case-insensitive LIKE over columns, one placeholder per
// column. The database folds both sides.
func SearchClause(columns ...string) string {
	parts := make([]string, len(columns))
	for i, col := range columns {
		parts[i] = "LOWER(" + col + `) LIKE LOWER(?) ESCAPE '\'`
	}
	return strings.Join(parts, " OR ")
}

func (f CardFilter) where() (string, []any) {
	where, args := []string{"1 = 1"}, []any{}
	if f.Search != "" {
		like := ContainsPattern(f.Search)
		where = append(where, "("+SearchClause("title", "question", "title_en", "question_en")+")")
		args = append(args, like, like, like, like)
	}
	if len(f.CategoryIDs) > 0 {
		where = append(where, "category_l3 IN ("+placeholders(len(f.CategoryIDs))+")")
		for _, id := range f.CategoryIDs {
			args = append(args, id)
		}
	}
	if len(f.IDs) > 0 {
		where = append(where, "id IN ("+placeholders(len(f.IDs))+")")
		for _, id := range f.IDs {
			args = append(args, id)
		}
	}
	return strings.Join(where, " AND "), args
}

// ListCards returns the cards matching filter ordered by id, and the total
// number of matching cards regardless of page.
func (db *DB) ListCards(ctx context.Context, filter CardFilter, page Page) ([]domain.Card, int, error) {
	where, args := filter.where()

	var total int
	if err := db.queryRow(ctx, "SELECT COUNT(*) FROM cards WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count cards: %w", err)
	}

	query := "SELECT " + cardColumns + " FROM cards WHERE " + where + " ORDER BY id ASC"
	if page.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, page.Limit, page.Offset)
	}

	rows, err := db.query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list cards: %w", err)
	}
	defer rows.Close()

	var cards []domain.Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, 0, err
		}
		cards = append(cards, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate cards: %w", err)
	}
	return cards, total, nil
}

// GetCard retrieves a card by its id. It returns nil when the card does not exist.
func (db *DB) GetCard(ctx context.Context, id string) (*domain.Card, error) {
	row := db.queryRow(ctx, "SELECT "+cardColumns+" FROM cards WHERE id = ?", id)
	c, err := scanCard(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Card not found
		}
		return nil, fmt.Errorf("failed to find card %s: %w", id, err)
	}
	return &c, nil
}

// GetCardAnswer loads only the answer text of a card. found is false when
// the card does not exist.
func (db *DB) GetCardAnswer(ctx context.Context, id string) (answer string, found bool, err error) {
	err = db.queryRow(ctx, "SELECT answer FROM cards WHERE id = ?", id).Scan(&answer)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to load answer of card %s: %w", id, err)
	}
	return answer, true, nil
}

// UpsertCard inserts a card or replaces the catalog fields of an existing one.
// sourceID links imported cards to their source; 0 means none.
func (db *DB) UpsertCard(ctx context.Context, card domain.Card, sourceID int64) error {
	tags, err := marshalStrings(card.Tags)
	if err != nil {
		return err
	}
	if card.CreatedAt.IsZero() {
		card.CreatedAt = time.Now()
	}
	if card.UpdatedAt.IsZero() {
		card.UpdatedAt = card.CreatedAt
	}
	if card.QuestionType == "" {
		card.QuestionType = domain.QuestionTechnical
	}
	var source sql.NullInt64
	if sourceID != 0 {
		source = sql.NullInt64{Int64: sourceID, Valid: true}
	}

	_, err = db.exec(ctx, `
		INSERT INTO cards (`+cardColumns+`, source_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			category_l1 = excluded.category_l1,
			category_l2 = excluded.category_l2,
			category_l3 = excluded.category_l3,
			title = excluded.title,
			question = excluded.question,
			answer = excluded.answer,
			title_en = excluded.title_en,
			question_en = excluded.question_en,
			answer_en = excluded.answer_en,
			question_type = excluded.question_type,
			difficulty = excluded.difficulty,
			frequency = excluded.frequency,
			tags = excluded.tags,
			updated_at = excluded.updated_at,
			source = excluded.source,
			external_id = excluded.external_id,
			source_id = excluded.source_id
	`,
		card.ID, card.CategoryL1, card.CategoryL2, card.CategoryL3,
		card.Title, card.Question, card.Answer,
		card.TitleEN, card.QuestionEN, card.AnswerEN,
		string(card.QuestionType), card.Difficulty, card.Frequency, tags,
		toMillis(card.CreatedAt), toMillis(card.UpdatedAt),
		card.Source, card.ExternalID, source,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert card %s: %w", card.ID, err)
	}
	return nil
}

// DeleteCard removes a card from the catalog.
func (db *DB) DeleteCard(ctx context.Context, id string) error {
	if _, err := db.exec(ctx, "DELETE FROM cards WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete card with id %s: %w", id, err)
	}
	return nil
}

// ExistingCardIDs reports which of ids are present in the catalog.
func (db *DB) ExistingCardIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	existing := make(map[string]bool, len(ids))
	for start := 0; start < len(ids); start += existingIDsChunk {
		chunk := ids[start:min(start+existingIDsChunk, len(ids))]
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}

		rows, err := db.query(ctx, "SELECT id FROM cards WHERE id IN ("+placeholders(len(chunk))+")", args...)
		if err != nil {
			return nil, fmt.Errorf("failed to check card ids: %w", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan card id: %w", err)
			}
			existing[id] = true
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to iterate card ids: %w", err)
		}
	}
	return existing, nil
}

// ListSummariesSince returns up to limit card summaries positioned strictly
// after the cursor in (updated_at, id) order.
func (db *DB) ListSummariesSince(ctx context.Context, after SyncCursor, limit int) ([]domain.CardSummary, error) {
	ts := toMillis(after.UpdatedAt)
	rows, err := db.query(ctx, `
		SELECT `+cardColumns+` FROM cards
		WHERE updated_at > ? OR (updated_at = ? AND id > ?)
		ORDER BY updated_at ASC, id ASC
		LIMIT ?
	`, ts, ts, after.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list card summaries: %w", err)
	}
	defer rows.Close()

	var summaries []domain.CardSummary
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, c.Summary())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate card summaries: %w", err)
	}
	return summaries, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCard(s scanner) (domain.Card, error) {
	var (
		c                    domain.Card
		questionType, tags   string
		createdAt, updatedAt int64
	)
	err := s.Scan(
		&c.ID, &c.CategoryL1, &c.CategoryL2, &c.CategoryL3,
		&c.Title, &c.Question, &c.Answer,
		&c.TitleEN, &c.QuestionEN, &c.AnswerEN,
		&questionType, &c.Difficulty, &c.Frequency, &tags,
		&createdAt, &updatedAt,
		&c.Source, &c.ExternalID,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return c, err
		}
		return c, fmt.Errorf("failed to scan card row: %w", err)
	}
	c.QuestionType = domain.QuestionType(questionType)
	c.CreatedAt = fromMillis(createdAt)
	c.UpdatedAt = fromMillis(updatedAt)
	if c.Tags, err = unmarshalStrings(tags); err != nil {
		return c, err
	}
	return c, nil
}
