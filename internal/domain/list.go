package domain

import (
	"slices"
	"time"
)

const (
	// FavoritesListName is the name of the per-user default list.
	FavoritesListName = "favorites"
	// UploadsListName is the list that receives uploaded cards.
	UploadsListName = "uploads"
)

// CardList is a user-defined set of card ids. Insertion order is kept for
// display only.
type CardList struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	CardIDs   []string  `json:"card_ids"`
	IsDefault bool      `json:"is_default"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Protected reports whether the list must not be deleted.
func (l CardList) Protected() bool {
	return l.IsDefault || l.Name == UploadsListName
}

// WithCards returns the ids of l followed by any of ids not already present.
func (l CardList) WithCards(ids ...string) []string {
	out := slices.Clone(l.CardIDs)
	for _, id := range ids {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

// WithoutCards returns the ids of l minus ids.
func (l CardList) WithoutCards(ids ...string) []string {
	out := make([]string, 0, len(l.CardIDs))
	for _, id := range l.CardIDs {
		if !slices.Contains(ids, id) {
			out = append(out, id)
		}
	}
	return out
}
