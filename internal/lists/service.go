// Package lists manages the user-defined card lists, including the lazily
// created favorites list.
package lists

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conorfennell/knolprep/internal/domain"
	"github.com/conorfennell/knolprep/internal/storage"
)

var (
	// ErrProtectedList is returned when deleting or renaming a built-in list.
	ErrProtectedList = errors.New("list is protected")
	// ErrNotFound is returned for a list that does not exist or belongs to
	// another user.
	ErrNotFound = errors.New("list not found")
	// ErrDuplicateName is returned when a user already has a list of that name.
	ErrDuplicateName = errors.New("list name already in use")
	// ErrInvalidName is returned for a blank list name.
	ErrInvalidName = errors.New("list name must not be empty")
)

// Store is the persisted list store.
type Store interface {
	ListLists(ctx context.Context, userID string) ([]domain.CardList, error)
	GetList(ctx context.Context, id string) (*domain.CardList, error)
	CreateList(ctx context.Context, l domain.CardList) error
	UpdateList(ctx context.Context, id string, patch storage.ListPatch, now time.Time) error
	DeleteList(ctx context.Context, id string) error
}

// Service manages lists per user. Calls without a user return empty results.
type Service struct {
	store Store
	now   func() time.Time

	// Serializes the lazy creation of default lists.
	mu sync.Mutex
	// Serializes read-modify-write updates of lists.
	writes sync.Mutex
}

// NewService returns a Service. A nil now means time.Now.
func NewService(store Store, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{store: store, now: now}
}

// EnsureDefault creates the favorites list of userID unless it exists, and
// returns it.
func (s *Service) EnsureDefault(ctx context.Context, userID string) (*domain.CardList, error) {
	if userID == "" {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	lists, err := s.store.ListLists(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, l := range lists {
		if l.IsDefault {
			return &l, nil
		}
	}

	now := s.now()
	fav := domain.CardList{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      domain.FavoritesListName,
		CardIDs:   []string{},
		IsDefault: true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateList(ctx, fav); err != nil {
		return nil, fmt.Errorf("failed to create favorites for %s: %w", userID, err)
	}
	return &fav, nil
}

// List returns the lists of userID, creating the favorites list on first use.
func (s *Service) List(ctx context.Context, userID string) ([]domain.CardList, error) {
	if userID == "" {
		return []domain.CardList{}, nil
	}
	if _, err := s.EnsureDefault(ctx, userID); err != nil {
		return nil, err
	}
	return s.store.ListLists(ctx, userID)
}

// Get returns a list owned by userID.
func (s *Service) Get(ctx context.Context, userID, id string) (*domain.CardList, error) {
	l, err := s.store.GetList(ctx, id)
	if err != nil {
		return nil, err
	}
	if l == nil || userID == "" || l.UserID != userID {
		return nil, ErrNotFound
	}
	return l, nil
}

// Create adds a list named name holding cardIDs.
func (s *Service) Create(ctx context.Context, userID, name string, cardIDs []string) (*domain.CardList, error) {
	if userID == "" {
		return nil, ErrNotFound
	}
	s.writes.Lock()
	defer s.writes.Unlock()
	name, err := s.checkName(ctx, userID, name, "")
	if err != nil {
		return nil, err
	}

	now := s.now()
	l := domain.CardList{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		CardIDs:   domain.CardList{}.WithCards(cardIDs...),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateList(ctx, l); err != nil {
		return nil, err
	}
	return &l, nil
}

// Rename changes the name of a list. Built-in lists keep their names.
func (s *Service) Rename(ctx context.Context, userID, id, name string) (*domain.CardList, error) {
	s.writes.Lock()
	defer s.writes.Unlock()

	l, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if l.Protected() {
		return nil, ErrProtectedList
	}
	if name, err = s.checkName(ctx, userID, name, id); err != nil {
		return nil, err
	}
	if err := s.store.UpdateList(ctx, id, storage.ListPatch{Name: &name}, s.now()); err != nil {
		return nil, err
	}
	return s.Get(ctx, userID, id)
}

// AddCards appends cardIDs not yet in the list.
func (s *Service) AddCards(ctx context.Context, userID, id string, cardIDs ...string) (*domain.CardList, error) {
	return s.patchCards(ctx, userID, id, func(l domain.CardList) []string { return l.WithCards(cardIDs...) })
}

// RemoveCards drops cardIDs from the list.
func (s *Service) RemoveCards(ctx context.Context, userID, id string, cardIDs ...string) (*domain.CardList, error) {
	return s.patchCards(ctx, userID, id, func(l domain.CardList) []string { return l.WithoutCards(cardIDs...) })
}

// ToggleFavorite adds the card to the user's favorites, or removes it when
// it is already there. It reports whether the card is now a favorite.
func (s *Service) ToggleFavorite(ctx context.Context, userID, cardID string) (bool, error) {
	fav, err := s.EnsureDefault(ctx, userID)
	if err != nil || fav == nil {
		return false, err
	}
	var on bool
	_, err = s.patchCards(ctx, userID, fav.ID, func(l domain.CardList) []string {
		if slices.Contains(l.CardIDs, cardID) {
			return l.WithoutCards(cardID)
		}
		on = true
		return l.WithCards(cardID)
	})
	return on && err == nil, err
}

// Delete removes a list. Favorites and uploads cannot be deleted.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	l, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	if l.Protected() {
		return ErrProtectedList
	}
	return s.store.DeleteList(ctx, id)
}

func (s *Service) patchCards(ctx context.Context, userID, id string, next func(domain.CardList) []string) (*domain.CardList, error) {
	s.writes.Lock()
	defer s.writes.Unlock()

	l, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	ids := next(*l)
	if slices.Equal(ids, l.CardIDs) {
		return l, nil
	}
	if err := s.store.UpdateList(ctx, id, storage.ListPatch{CardIDs: ids}, s.now()); err != nil {
		return nil, err
	}
	return s.Get(ctx, userID, id)
}

// checkName trims name and rejects blanks, reserved names and names used by
// another list of the user.
func (s *Service) checkName(ctx context.Context, userID, name, exceptID string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrInvalidName
	}
	if strings.EqualFold(name, domain.FavoritesListName) {
		return "", fmt.Errorf("%q: %w", name, ErrDuplicateName)
	}
	lists, err := s.store.ListLists(ctx, userID)
	if err != nil {
		return "", err
	}
	for _, l := range lists {
		if l.ID != exceptID && strings.EqualFold(l.Name, name) {
			return "", fmt.Errorf("%q: %w", name, ErrDuplicateName)
		}
	}
	return name, nil
}
