// Package review wires the queue builder, session store and interaction
// state machine into the review flow of a user.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/conorfennell/knolprep/internal/domain"
	"github.com/conorfennell/knolprep/internal/queue"
	"github.com/conorfennell/knolprep/internal/reviewer"
	"github.com/conorfennell/knolprep/internal/scheduler"
	"github.com/conorfennell/knolprep/internal/session"
	"github.com/conorfennell/knolprep/internal/storage"
)

var (
	// ErrNotFound is returned for a scope that does not resolve, such as a
	// list of another user.
	ErrNotFound = errors.New("not found")
	// ErrNoSession is returned when stepping a session that was never started.
	ErrNoSession = errors.New("no review session")
)

// Store is the remote data the review flow reads and writes.
type Store interface {
	ListCards(ctx context.Context, filter storage.CardFilter, page storage.Page) ([]domain.Card, int, error)
	GetCardAnswer(ctx context.Context, id string) (string, bool, error)
	GetOverrides(ctx context.Context, userID string, cardIDs []string) (map[domain.OverrideKey]domain.Override, error)
	UpsertOverride(ctx context.Context, o domain.Override) error
	AppendLog(ctx context.Context, l domain.ReviewLog) error
	CountLogsSince(ctx context.Context, userID string, since time.Time) (int, error)
	GetList(ctx context.Context, id string) (*domain.CardList, error)
	ListCategories(ctx context.Context) ([]domain.Category, error)
}

// Sessions is the session store used by the service.
type Sessions interface {
	Create(ctx context.Context, key domain.SessionKey, cards []domain.UserCard, filters domain.Filters) (*domain.ReviewSession, error)
	Restore(ctx context.Context, key domain.SessionKey) (*domain.ReviewSession, error)
	Save(s *domain.ReviewSession)
	Delete(ctx context.Context, key domain.SessionKey) error
}

var _ Sessions = (*session.Store)(nil)

// StartRequest describes the session a user wants to review.
type StartRequest struct {
	Scope   domain.Scope
	Mode    domain.Mode
	Filters domain.Filters
	// Restart discards any stored session of the same scope and mode.
	Restart bool
}

// Stats summarizes a user's standing over the whole catalog.
type Stats struct {
	Total         int `json:"total"`
	Due           int `json:"due"`
	New           int `json:"new"`
	Solid         int `json:"solid"`
	Solved        int `json:"solved"`
	ReviewedToday int `json:"reviewed_today"`
}

// Service runs review sessions. Machines of started sessions are kept in
// memory so successive requests step the same machine.
type Service struct {
	store    Store
	sessions Sessions
	now      func() time.Time

	mu       sync.Mutex
	machines map[string]*reviewer.Machine
}

// NewService returns a Service. A nil now means time.Now.
func NewService(store Store, sessions Sessions, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:    store,
		sessions: sessions,
		now:      now,
		machines: make(map[string]*reviewer.Machine),
	}
}

// Start returns the live machine of the request's scope and mode, resumes
// its stored session, or builds a new one when there is none or a restart is
// requested. Without a user an idle, unregistered machine is returned.
func (s *Service) Start(ctx context.Context, userID string, req StartRequest) (*reviewer.Machine, error) {
	m := s.newMachine()
	if userID == "" {
		return m, nil
	}

	key := domain.SessionKey{UserID: userID, Scope: req.Scope, Mode: req.Mode}
	if !req.Restart {
		s.mu.Lock()
		live, ok := s.machines[key.String()]
		s.mu.Unlock()
		if ok {
			return live, nil
		}
		resumed, err := s.resume(ctx, key)
		if err != nil && !errors.Is(err, ErrNoSession) {
			return nil, err
		}
		if resumed != nil {
			return resumed, nil
		}
	}

	filters := req.Filters
	if req.Mode == domain.ModePractice {
		filters.OnlyDue = false
	}

	cards, err := s.scopeCards(ctx, userID, req.Scope)
	if err != nil {
		return nil, err
	}
	sess, err := s.sessions.Create(ctx, key, cards, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to create session %s: %w", key, err)
	}

	m.Load(sess, byID(cards))
	s.register(key, m)
	slog.Info("Started review session", "key", key.String(), "cards", len(sess.Queue))
	return m, nil
}

// Machine returns the machine of key, restoring the stored session when the
// machine is not in memory.
func (s *Service) Machine(ctx context.Context, key domain.SessionKey) (*reviewer.Machine, error) {
	if key.UserID == "" {
		return s.newMachine(), nil
	}
	s.mu.Lock()
	m, ok := s.machines[key.String()]
	s.mu.Unlock()
	if ok {
		return m, nil
	}
	return s.resume(ctx, key)
}

// Flip reveals the answer of the current card of key.
func (s *Service) Flip(ctx context.Context, key domain.SessionKey) (*reviewer.Machine, error) {
	m, err := s.Machine(ctx, key)
	if err != nil {
		return nil, err
	}
	return m, m.Flip(ctx)
}

// Submit rates the current card of key.
func (s *Service) Submit(ctx context.Context, key domain.SessionKey, mastery domain.Mastery) (*reviewer.Machine, error) {
	m, err := s.Machine(ctx, key)
	if err != nil {
		return nil, err
	}
	_, err = m.Submit(ctx, mastery)
	return m, err
}

// Navigate moves the cursor of key by one card forward or backward.
func (s *Service) Navigate(ctx context.Context, key domain.SessionKey, forward bool) (*reviewer.Machine, error) {
	m, err := s.Machine(ctx, key)
	if err != nil {
		return nil, err
	}
	if forward {
		return m, m.Next()
	}
	return m, m.Previous()
}

// End forgets the session of key, in memory and in the store.
func (s *Service) End(ctx context.Context, key domain.SessionKey) error {
	if key.UserID == "" {
		return nil
	}
	s.mu.Lock()
	delete(s.machines, key.String())
	s.mu.Unlock()
	return s.sessions.Delete(ctx, key)
}

// DueCount returns how many cards of the catalog the user can review now.
func (s *Service) DueCount(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, nil
	}
	cards, err := s.scopeCards(ctx, userID, domain.Scope{Kind: domain.ScopeAll})
	if err != nil {
		return 0, err
	}
	return len(queue.Generate(cards, queue.Options{OnlyDue: true, Now: s.now()})), nil
}

// Stats reports catalog-wide counts for the user.
func (s *Service) Stats(ctx context.Context, userID string) (Stats, error) {
	if userID == "" {
		return Stats{}, nil
	}
	now := s.now()
	cards, err := s.scopeCards(ctx, userID, domain.Scope{Kind: domain.ScopeAll})
	if err != nil {
		return Stats{}, err
	}

	st := Stats{Total: len(cards)}
	for _, c := range cards {
		switch {
		case c.Mastery == domain.MasterySolid:
			st.Solid++
		case scheduler.IsDue(c.DueAt, now):
			st.Due++
		}
		if c.Mastery == domain.MasteryNew {
			st.New++
		}
		if c.Override.Solved() {
			st.Solved++
		}
	}

	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if st.ReviewedToday, err = s.store.CountLogsSince(ctx, userID, midnight); err != nil {
		return Stats{}, err
	}
	return st, nil
}

func (s *Service) resume(ctx context.Context, key domain.SessionKey) (*reviewer.Machine, error) {
	sess, err := s.sessions.Restore(ctx, key)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrNoSession
	}

	var cards []domain.UserCard
	if len(sess.Queue) > 0 {
		cards, err = s.userCards(ctx, key.UserID, storage.CardFilter{IDs: sess.Queue})
		if err != nil {
			return nil, err
		}
	}
	m := s.newMachine()
	m.Load(sess, byID(cards))
	s.register(key, m)
	return m, nil
}

func (s *Service) register(key domain.SessionKey, m *reviewer.Machine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.machines[key.String()] = m
}

func (s *Service) newMachine() *reviewer.Machine {
	return reviewer.New(reviewer.Deps{
		Answers:   s.store,
		Overrides: s.store,
		Logs:      s.store,
		Sessions:  s.sessions,
		Now:       s.now,
	})
}

// scopeCards returns the cards of scope with the user's overrides applied.
func (s *Service) scopeCards(ctx context.Context, userID string, scope domain.Scope) ([]domain.UserCard, error) {
	var filter storage.CardFilter
	switch scope.Kind {
	case domain.ScopeAll:
	case domain.ScopeCategory:
		categories, err := s.store.ListCategories(ctx)
		if err != nil {
			return nil, err
		}
		filter.CategoryIDs = leafCategories(categories, scope.ID)
	case domain.ScopeList:
		list, err := s.store.GetList(ctx, scope.ID)
		if err != nil {
			return nil, err
		}
		if list == nil || list.UserID != userID {
			return nil, fmt.Errorf("list %s: %w", scope.ID, ErrNotFound)
		}
		if len(list.CardIDs) == 0 {
			return nil, nil
		}
		filter.IDs = list.CardIDs
	default:
		return nil, fmt.Errorf("unknown scope kind %q", scope.Kind)
	}
	return s.userCards(ctx, userID, filter)
}

func (s *Service) userCards(ctx context.Context, userID string, filter storage.CardFilter) ([]domain.UserCard, error) {
	cards, _, err := s.store.ListCards(ctx, filter, storage.Page{})
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(cards))
	for i, c := range cards {
		ids[i] = c.ID
	}
	overrides, err := s.store.GetOverrides(ctx, userID, ids)
	if err != nil {
		return nil, err
	}

	now := s.now()
	out := make([]domain.UserCard, len(cards))
	for i, c := range cards {
		if o, ok := overrides[domain.OverrideKey{UserID: userID, CardID: c.ID}]; ok {
			out[i] = domain.Effective(c, &o, now)
		} else {
			out[i] = domain.Effective(c, nil, now)
		}
	}
	return out, nil
}

// leafCategories returns the level 3 categories at or below id. An id that
// is not in the tree is taken as a level 3 id as is.
func leafCategories(categories []domain.Category, id string) []string {
	parent := make(map[string]string, len(categories))
	for _, c := range categories {
		parent[c.ID] = c.ParentID
	}
	if _, ok := parent[id]; !ok {
		return []string{id}
	}

	var leaves []string
	for _, c := range categories {
		if c.Level != 3 {
			continue
		}
		for at := c.ID; at != ""; at = parent[at] {
			if at == id {
				leaves = append(leaves, c.ID)
				break
			}
		}
	}
	if len(leaves) == 0 {
		// Keep the filter non-empty so an empty branch matches nothing.
		return []string{id}
	}
	return leaves
}

func byID(cards []domain.UserCard) map[string]domain.UserCard {
	out := make(map[string]domain.UserCard, len(cards))
	for _, c := range cards {
		out[c.Card.ID] = c
	}
	return out
}
