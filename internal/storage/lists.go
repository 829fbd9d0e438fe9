package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/conorfennell/knolprep/internal/domain"
)

const listColumns = "id, user_id, name, card_ids, is_default, created_at, updated_at"

// ListPatch describes a partial list update. Nil fields are left unchanged.
type ListPatch struct {
	Name    *string
	CardIDs []string
}

// ListLists returns the lists of a user, oldest first.
func (db *DB) ListLists(ctx context.Context, userID string) ([]domain.CardList, error) {
	rows, err := db.query(ctx, "SELECT "+listColumns+" FROM card_lists WHERE user_id = ? ORDER BY created_at ASC, id ASC", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list card lists for user %s: %w", userID, err)
	}
	defer rows.Close()

	var lists []domain.CardList
	for rows.Next() {
		l, err := scanList(rows)
		if err != nil {
			return nil, err
		}
		lists = append(lists, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate card lists: %w", err)
	}
	return lists, nil
}

// GetList retrieves a list by id. It returns nil when the list does not exist.
func (db *DB) GetList(ctx context.Context, id string) (*domain.CardList, error) {
	l, err := scanList(db.queryRow(ctx, "SELECT "+listColumns+" FROM card_lists WHERE id = ?", id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // List not found
		}
		return nil, fmt.Errorf("failed to find card list %s: %w", id, err)
	}
	return &l, nil
}

// CreateList inserts a new list. The caller assigns the id.
func (db *DB) CreateList(ctx context.Context, l domain.CardList) error {
	ids, err := marshalStrings(l.CardIDs)
	if err != nil {
		return err
	}
	_, err = db.exec(ctx, "INSERT INTO card_lists ("+listColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)",
		l.ID, l.UserID, l.Name, ids, boolToInt(l.IsDefault), toMillis(l.CreatedAt), toMillis(l.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to create card list %s: %w", l.Name, err)
	}
	return nil
}

// UpdateList applies patch to the list with the given id.
func (db *DB) UpdateList(ctx context.Context, id string, patch ListPatch, now time.Time) error {
	set, args := []string{"updated_at = ?"}, []any{toMillis(now)}
	if patch.Name != nil {
		set, args = append(set, "name = ?"), append(args, *patch.Name)
	}
	if patch.CardIDs != nil {
		ids, err := marshalStrings(patch.CardIDs)
		if err != nil {
			return err
		}
		set, args = append(set, "card_ids = ?"), append(args, ids)
	}
	args = append(args, id)

	if _, err := db.exec(ctx, "UPDATE card_lists SET "+strings.Join(set, ", ")+" WHERE id = ?", args...); err != nil {
		return fmt.Errorf("failed to update card list %s: %w", id, err)
	}
	return nil
}

// DeleteList removes a list.
func (db *DB) DeleteList(ctx context.Context, id string) error {
	if _, err := db.exec(ctx, "DELETE FROM card_lists WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete card list %s: %w", id, err)
	}
	return nil
}

func scanList(s scanner) (domain.CardList, error) {
	var (
		l                    domain.CardList
		ids                  string
		isDefault            int
		createdAt, updatedAt int64
	)
	if err := s.Scan(&l.ID, &l.UserID, &l.Name, &ids, &isDefault, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return l, err
		}
		return l, fmt.Errorf("failed to scan card list row: %w", err)
	}
	l.IsDefault = isDefault != 0
	l.CreatedAt = fromMillis(createdAt)
	l.UpdatedAt = fromMillis(updatedAt)
	var err error
	if l.CardIDs, err = unmarshalStrings(ids); err != nil {
		return l, err
	}
	return l, nil
}
