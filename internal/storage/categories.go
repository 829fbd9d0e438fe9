package storage

import (
	"context"
	"fmt"

	"github.com/conorfennell/knolprep/internal/domain"
)

// ListCategories returns the whole category tree ordered by level then id.
func (db *DB) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := db.query(ctx, "SELECT id, level, name, name_en, parent_id FROM categories ORDER BY level ASC, id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	var categories []domain.Category
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Level, &c.Name, &c.NameEN, &c.ParentID); err != nil {
			return nil, fmt.Errorf("failed to scan category row: %w", err)
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate categories: %w", err)
	}
	return categories, nil
}

// UpsertCategory inserts or renames a category.
func (db *DB) UpsertCategory(ctx context.Context, c domain.Category) error {
	_, err := db.exec(ctx, `
		INSERT INTO categories (id, level, name, name_en, parent_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			level = excluded.level,
			name = excluded.name,
			name_en = excluded.name_en,
			parent_id = excluded.parent_id
	`, c.ID, c.Level, c.Name, c.NameEN, c.ParentID)
	if err != nil {
		return fmt.Errorf("failed to upsert category %s: %w", c.ID, err)
	}
	return nil
}
