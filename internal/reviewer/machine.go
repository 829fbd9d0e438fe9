// Package reviewer implements the flip-and-rate interaction over a review
// session: show the question, reveal the answer, record a mastery rating and
// move on.
package reviewer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/conorfennell/knolprep/internal/domain"
	"github.com/conorfennell/knolprep/internal/scheduler"
)

var (
	// ErrNoCard is returned when the session has no current card.
	ErrNoCard = errors.New("no card to review")
	// ErrNotFlipped is returned when a rating is submitted before the answer
	// was revealed.
	ErrNotFlipped = errors.New("answer has not been revealed")
)

// State is the interaction state of a Machine.
type State int

const (
	// Idle means the queue is empty: nothing to review.
	Idle State = iota
	// Front shows the question of the current card.
	Front
	// Back shows the answer of the current card.
	Back
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Front:
		return "front"
	case Back:
		return "back"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// AnswerFetcher loads the answer text of a card.
type AnswerFetcher interface {
	GetCardAnswer(ctx context.Context, id string) (string, bool, error)
}

// OverrideStore persists per-user overrides.
type OverrideStore interface {
	UpsertOverride(ctx context.Context, o domain.Override) error
}

// LogSink receives review logs.
type LogSink interface {
	AppendLog(ctx context.Context, l domain.ReviewLog) error
}

// SessionSaver persists session progress, typically debounced.
type SessionSaver interface {
	Save(s *domain.ReviewSession)
}

// Deps are the collaborators of a Machine.
type Deps struct {
	Answers   AnswerFetcher
	Overrides OverrideStore
	Logs      LogSink
	Sessions  SessionSaver
	Now       func() time.Time
}

// Machine drives one review session. It is safe for concurrent use.
type Machine struct {
	deps Deps

	mu        sync.Mutex
	state     State
	session   *domain.ReviewSession
	cards     map[string]domain.UserCard
	answerErr error
	revealed  bool
	shownAt   time.Time
}

// New returns an idle machine.
func New(deps Deps) *Machine {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Machine{deps: deps, state: Idle}
}

// Load starts reviewing session. cards must hold every id of the queue.
func (m *Machine) Load(s *domain.ReviewSession, cards map[string]domain.UserCard) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.session = s.Clone()
	m.cards = make(map[string]domain.UserCard, len(cards))
	for id, c := range cards {
		m.cards[id] = c
	}
	m.session.ClampCursor()
	m.arrive()
}

// Flip reveals the answer of the current card, fetching it when it was not
// loaded with the card. A failed fetch leaves the machine on Back with the
// error available from AnswerErr.
func (m *Machine) Flip(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case Idle:
		return ErrNoCard
	case Back:
		return nil
	}

	m.state = Back
	m.revealed = true
	m.answerErr = nil

	id, _ := m.session.Current()
	card := m.cards[id]
	if card.Answer != "" || m.deps.Answers == nil {
		return nil
	}

	answer, found, err := m.deps.Answers.GetCardAnswer(ctx, id)
	switch {
	case err != nil:
		m.answerErr = fmt.Errorf("failed to fetch answer of %s: %w", id, err)
		slog.Warn("Answer fetch failed", "card", id, "error", err)
	case !found:
		m.answerErr = fmt.Errorf("card %s no longer exists", id)
	default:
		card.Answer = answer
		m.cards[id] = card
	}
	return nil
}

// Submit rates the current card. The card's schedule is recomputed and
// persisted, a review log is appended, and the machine moves on: a solid
// card leaves the queue, any other rating advances the cursor with
// wraparound. It returns the stored override.
func (m *Machine) Submit(ctx context.Context, mastery domain.Mastery) (domain.Override, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case Idle:
		return domain.Override{}, ErrNoCard
	case Front:
		return domain.Override{}, ErrNotFlipped
	}
	if !mastery.Valid() {
		return domain.Override{}, fmt.Errorf("invalid mastery %q", mastery)
	}

	now := m.deps.Now()
	id, _ := m.session.Current()
	card := m.cards[id]
	previous := card.Override

	next := previous
	next.UserID = m.session.Key.UserID
	next.CardID = id
	scheduler.ScheduleNext(scheduler.StateOf(previous), mastery, now).Apply(&next)

	if err := m.deps.Overrides.UpsertOverride(ctx, next); err != nil {
		return domain.Override{}, fmt.Errorf("failed to save override of %s: %w", id, err)
	}

	if m.deps.Logs != nil {
		entry := domain.ReviewLog{
			UserID:         next.UserID,
			CardID:         id,
			Previous:       previous.Mastery,
			New:            mastery,
			TimeSpent:      min(max(now.Sub(m.shownAt), 0), domain.MaxLoggedTimeSpent),
			RevealedAnswer: m.revealed,
			CreatedAt:      now,
		}
		if err := m.deps.Logs.AppendLog(ctx, entry); err != nil {
			slog.Warn("Failed to append review log", "card", id, "error", err)
		}
	}

	card.Override = next
	m.cards[id] = card

	if mastery == domain.MasterySolid {
		m.session.Queue = slices.Delete(m.session.Queue, m.session.Cursor, m.session.Cursor+1)
		delete(m.cards, id)
		m.session.ClampCursor()
	} else {
		m.session.Cursor = (m.session.Cursor + 1) % len(m.session.Queue)
	}

	m.arrive()
	m.save()
	return next, nil
}

// Next moves to the following card, wrapping at the end of the queue.
func (m *Machine) Next() error {
	return m.step(1)
}

// Previous moves to the preceding card, wrapping at the start of the queue.
func (m *Machine) Previous() error {
	return m.step(-1)
}

func (m *Machine) step(delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Idle {
		return ErrNoCard
	}
	n := len(m.session.Queue)
	m.session.Cursor = ((m.session.Cursor+delta)%n + n) % n
	m.arrive()
	m.save()
	return nil
}

// arrive shows the front of the card under the cursor.
func (m *Machine) arrive() {
	m.revealed = false
	m.answerErr = nil
	m.shownAt = m.deps.Now()
	if len(m.session.Queue) == 0 {
		m.state = Idle
		return
	}
	m.state = Front
}

func (m *Machine) save() {
	if m.deps.Sessions != nil {
		m.deps.Sessions.Save(m.session)
	}
}

// State returns the interaction state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Current returns the card under the cursor.
func (m *Machine) Current() (domain.UserCard, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current()
}

func (m *Machine) current() (domain.UserCard, bool) {
	if m.state == Idle {
		return domain.UserCard{}, false
	}
	id, ok := m.session.Current()
	if !ok {
		return domain.UserCard{}, false
	}
	c, ok := m.cards[id]
	return c, ok
}

// AnswerErr returns the error of the last answer fetch, if any.
func (m *Machine) AnswerErr() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.answerErr
}

// Session returns a copy of the session as currently reviewed.
func (m *Machine) Session() *domain.ReviewSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	return m.session.Clone()
}

// View is a consistent snapshot of the machine for presentation.
type View struct {
	State     string  `json:"state"`
	Card      *Card   `json:"card,omitempty"`
	Answer    *string `json:"answer,omitempty"`
	AnswerErr string  `json:"answer_error,omitempty"`
	Cursor    int     `json:"cursor"`
	Total     int     `json:"total"`
}

// Card is the presented part of the current card.
type Card struct {
	ID           string              `json:"id"`
	Title        string              `json:"title"`
	Question     string              `json:"question"`
	QuestionType domain.QuestionType `json:"question_type"`
	Difficulty   string              `json:"difficulty"`
	Tags         []string            `json:"tags"`
	Mastery      domain.Mastery      `json:"mastery"`
	ReviewCount  int                 `json:"review_count"`
	DueAt        time.Time           `json:"due_at"`
}

// Snapshot returns the current View. The answer is only included on Back.
func (m *Machine) Snapshot() View {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := View{State: m.state.String()}
	if m.session != nil {
		v.Cursor = m.session.Cursor
		v.Total = len(m.session.Queue)
	}
	uc, ok := m.current()
	if !ok {
		return v
	}
	v.Card = &Card{
		ID:           uc.Card.ID,
		Title:        uc.Title,
		Question:     uc.Question,
		QuestionType: uc.QuestionType,
		Difficulty:   uc.Difficulty,
		Tags:         uc.Tags,
		Mastery:      uc.Mastery,
		ReviewCount:  uc.ReviewCount,
		DueAt:        uc.DueAt,
	}
	if m.state == Back {
		if m.answerErr != nil {
			v.AnswerErr = m.answerErr.Error()
		} else {
			answer := uc.Answer
			v.Answer = &answer
		}
	}
	return v
}
