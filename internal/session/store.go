// Package session persists resumable review sessions and revalidates them
// against the current catalog when they are restored.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/conorfennell/knolprep/internal/domain"
	"github.com/conorfennell/knolprep/internal/queue"
)

// ErrSuperseded is returned by Restore when a newer Create or Restore of the
// same key started while it was loading. The stale result is discarded.
var ErrSuperseded = errors.New("session load superseded")

// Repository is the persisted session store.
type Repository interface {
	GetSession(ctx context.Context, key domain.SessionKey) (*domain.ReviewSession, error)
	PutSession(ctx context.Context, s *domain.ReviewSession) error
	DeleteSession(ctx context.Context, key domain.SessionKey) error
}

// Catalog answers which card ids still exist.
type Catalog interface {
	ExistingCardIDs(ctx context.Context, ids []string) (map[string]bool, error)
}

// Options configures a Store.
type Options struct {
	// Debounce is the coalescing window of Save. Zero means DefaultDebounce.
	Debounce time.Duration
	// Now is the clock. Nil means time.Now.
	Now func() time.Time
}

// Store creates, restores and saves review sessions.
type Store struct {
	repo      Repository
	catalog   Catalog
	debouncer *Debouncer
	now       func() time.Time

	mu          sync.Mutex
	generations map[string]uint64
}

// NewStore returns a Store. Call Close on shutdown to flush pending saves.
func NewStore(repo Repository, catalog Catalog, opts Options) *Store {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		repo:        repo,
		catalog:     catalog,
		debouncer:   NewDebouncer(opts.Debounce, repo.PutSession),
		now:         now,
		generations: make(map[string]uint64),
	}
}

// Create builds a new session for key from cards and persists it before
// returning. Any session previously stored under key is replaced.
func (s *Store) Create(ctx context.Context, key domain.SessionKey, cards []domain.UserCard, filters domain.Filters) (*domain.ReviewSession, error) {
	s.bump(key)
	now := s.now()

	ordered := queue.Generate(cards, queue.OptionsFromFilters(filters, now))
	sess := &domain.ReviewSession{
		Key:       key,
		Queue:     queue.IDs(ordered),
		Cursor:    0,
		Filters:   filters,
		UpdatedAt: now,
	}
	if err := s.SaveImmediate(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Restore loads the session stored under key and drops queue entries whose
// card no longer exists, clamping the cursor into the shorter queue. A save
// of key still waiting in the debounce window is written first, so the
// newest state is the one restored. It returns nil when no session was
// stored. A session whose cards were all removed comes back with an empty
// queue and cursor 0.
func (s *Store) Restore(ctx context.Context, key domain.SessionKey) (*domain.ReviewSession, error) {
	gen := s.bump(key)

	if err := s.debouncer.FlushKey(ctx, key.String()); err != nil {
		return nil, fmt.Errorf("failed to flush pending save of session %s: %w", key, err)
	}
	sess, err := s.repo.GetSession(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to restore session %s: %w", key, err)
	}
	if sess == nil {
		return nil, nil
	}
	sess.Key = key

	existing, err := s.catalog.ExistingCardIDs(ctx, sess.Queue)
	if err != nil {
		return nil, fmt.Errorf("failed to validate session %s: %w", key, err)
	}

	kept := make([]string, 0, len(sess.Queue))
	for _, id := range sess.Queue {
		if existing[id] {
			kept = append(kept, id)
		}
	}
	pruned := len(kept) != len(sess.Queue)
	cursor := sess.Cursor
	sess.Queue = kept
	sess.ClampCursor()

	if !s.current(key, gen) {
		return nil, ErrSuperseded
	}

	if pruned || cursor != sess.Cursor {
		slog.Info("pruned stale cards from review session",
			"key", key.String(),
			"kept", len(kept),
			"cursor", sess.Cursor,
		)
		if err := s.SaveImmediate(ctx, sess); err != nil {
			return nil, err
		}
	}
	return sess, nil
}

// Save persists the session after the debounce window. Errors are logged.
func (s *Store) Save(sess *domain.ReviewSession) {
	c := sess.Clone()
	c.UpdatedAt = s.now()
	s.debouncer.Schedule(c.Key.String(), c)
}

// SaveImmediate cancels any pending debounced save of the session and writes
// it synchronously.
func (s *Store) SaveImmediate(ctx context.Context, sess *domain.ReviewSession) error {
	c := sess.Clone()
	c.UpdatedAt = s.now()
	err := s.debouncer.Do(c.Key.String(), func() error {
		return s.repo.PutSession(ctx, c)
	})
	if err != nil {
		return err
	}
	sess.UpdatedAt = c.UpdatedAt
	return nil
}

// Delete removes the session stored under key.
func (s *Store) Delete(ctx context.Context, key domain.SessionKey) error {
	s.bump(key)
	return s.debouncer.Do(key.String(), func() error {
		return s.repo.DeleteSession(ctx, key)
	})
}

// Flush writes all pending debounced saves.
func (s *Store) Flush(ctx context.Context) error {
	return s.debouncer.Flush(ctx)
}

// Close flushes pending saves. Saves after Close are written synchronously.
func (s *Store) Close(ctx context.Context) error {
	return s.debouncer.Close(ctx)
}

func (s *Store) bump(key domain.SessionKey) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generations[key.String()]++
	return s.generations[key.String()]
}

func (s *Store) current(key domain.SessionKey, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generations[key.String()] == gen
}
