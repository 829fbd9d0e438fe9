package reviewer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/knolprep/internal/domain"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type recorder struct {
	mu        sync.Mutex
	overrides []domain.Override
	logs      []domain.ReviewLog
	saves     []*domain.ReviewSession
	answers   map[string]string
	answerErr error
	upsertErr error
}

func (r *recorder) GetCardAnswer(_ context.Context, id string) (string, bool, error) {
	if r.answerErr != nil {
		return "", false, r.answerErr
	}
	a, ok := r.answers[id]
	return a, ok, nil
}

func (r *recorder) UpsertOverride(_ context.Context, o domain.Override) error {
	if r.upsertErr != nil {
		return r.upsertErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides = append(r.overrides, o)
	return nil
}

func (r *recorder) AppendLog(_ context.Context, l domain.ReviewLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, l)
	return nil
}

func (r *recorder) Save(s *domain.ReviewSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves = append(r.saves, s.Clone())
}

func newMachine(t *testing.T, ids ...string) (*Machine, *recorder, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	rec := &recorder{answers: map[string]string{}}
	m := New(Deps{Answers: rec, Overrides: rec, Logs: rec, Sessions: rec, Now: clock.Now})

	cards := make(map[string]domain.UserCard, len(ids))
	for _, id := range ids {
		cards[id] = domain.Effective(domain.Card{ID: id, Question: "Q " + id, Answer: "A " + id}, nil, clock.now)
	}
	m.Load(&domain.ReviewSession{
		Key:   domain.SessionKey{UserID: "u1", Scope: domain.Scope{Kind: domain.ScopeAll}, Mode: domain.ModeReview},
		Queue: ids,
	}, cards)
	return m, rec, clock
}

func currentID(t *testing.T, m *Machine) string {
	t.Helper()
	c, ok := m.Current()
	require.True(t, ok)
	return c.Card.ID
}

func TestSubmitSolidGraduatesAndFuzzyAdvances(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newMachine(t, "A", "B", "C")

	require.NoError(t, m.Flip(ctx))
	_, err := m.Submit(ctx, domain.MasterySolid)
	require.NoError(t, err)

	s := m.Session()
	assert.Equal(t, []string{"B", "C"}, s.Queue)
	assert.Equal(t, 0, s.Cursor)
	assert.Equal(t, Front, m.State())

	require.NoError(t, m.Flip(ctx))
	_, err = m.Submit(ctx, domain.MasteryFuzzy)
	require.NoError(t, err)

	s = m.Session()
	assert.Equal(t, []string{"B", "C"}, s.Queue)
	assert.Equal(t, 1, s.Cursor)
	assert.Equal(t, "C", currentID(t, m))
}

func TestSubmitSolidOnLastCardClampsCursor(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newMachine(t, "A", "B")
	require.NoError(t, m.Previous())
	assert.Equal(t, "B", currentID(t, m))

	require.NoError(t, m.Flip(ctx))
	_, err := m.Submit(ctx, domain.MasterySolid)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Session().Cursor)
	assert.Equal(t, "A", currentID(t, m))
}

func TestQueueExhaustedBecomesIdle(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newMachine(t, "A")

	require.NoError(t, m.Flip(ctx))
	_, err := m.Submit(ctx, domain.MasterySolid)
	require.NoError(t, err)

	assert.Equal(t, Idle, m.State())
	assert.Empty(t, m.Session().Queue)
	assert.ErrorIs(t, m.Flip(ctx), ErrNoCard)
	assert.ErrorIs(t, m.Next(), ErrNoCard)
	_, err = m.Submit(ctx, domain.MasteryFuzzy)
	assert.ErrorIs(t, err, ErrNoCard)
}

func TestSubmitRequiresFlip(t *testing.T) {
	m, rec, _ := newMachine(t, "A")
	_, err := m.Submit(context.Background(), domain.MasteryFuzzy)
	assert.ErrorIs(t, err, ErrNotFlipped)
	assert.Empty(t, rec.overrides)
}

func TestSubmitPersistsOverrideAndLog(t *testing.T) {
	ctx := context.Background()
	m, rec, clock := newMachine(t, "A", "B")

	clock.Advance(30 * time.Second)
	require.NoError(t, m.Flip(ctx))
	o, err := m.Submit(ctx, domain.MasterySolid)
	require.NoError(t, err)

	assert.Equal(t, "u1", o.UserID)
	assert.Equal(t, "A", o.CardID)
	assert.Equal(t, domain.MasterySolid, o.Mastery)
	assert.Equal(t, 7, o.IntervalDays)
	assert.Equal(t, 1, o.ReviewCount)
	assert.Equal(t, clock.now.Add(7*24*time.Hour), o.DueAt)
	require.Len(t, rec.overrides, 1)

	require.Len(t, rec.logs, 1)
	l := rec.logs[0]
	assert.Equal(t, domain.MasteryNew, l.Previous)
	assert.Equal(t, domain.MasterySolid, l.New)
	assert.Equal(t, 30*time.Second, l.TimeSpent)
	assert.True(t, l.RevealedAnswer)

	require.NotEmpty(t, rec.saves)
	assert.Equal(t, []string{"B"}, rec.saves[len(rec.saves)-1].Queue)
}

func TestTimeSpentIsCapped(t *testing.T) {
	ctx := context.Background()
	m, rec, clock := newMachine(t, "A", "B")

	clock.Advance(time.Hour)
	require.NoError(t, m.Flip(ctx))
	_, err := m.Submit(ctx, domain.MasteryCanExplain)
	require.NoError(t, err)
	require.Len(t, rec.logs, 1)
	assert.Equal(t, domain.MaxLoggedTimeSpent, rec.logs[0].TimeSpent)
}

func TestSubmitFailureKeepsState(t *testing.T) {
	ctx := context.Background()
	m, rec, _ := newMachine(t, "A", "B")
	rec.upsertErr = errors.New("timeout")

	require.NoError(t, m.Flip(ctx))
	_, err := m.Submit(ctx, domain.MasteryFuzzy)
	require.Error(t, err)
	assert.Equal(t, Back, m.State())
	assert.Equal(t, "A", currentID(t, m))
	assert.Empty(t, rec.logs)
}

func TestFlipFetchesMissingAnswer(t *testing.T) {
	ctx := context.Background()
	m, rec, clock := newMachine(t)
	m.Load(&domain.ReviewSession{Queue: []string{"A"}}, map[string]domain.UserCard{
		"A": domain.Effective(domain.Card{ID: "A"}, nil, clock.now),
	})
	rec.answers["A"] = "fetched"

	require.NoError(t, m.Flip(ctx))
	v := m.Snapshot()
	assert.Equal(t, "back", v.State)
	require.NotNil(t, v.Answer)
	assert.Equal(t, "fetched", *v.Answer)
}

func TestFlipFetchFailureStaysOnBack(t *testing.T) {
	ctx := context.Background()
	m, rec, clock := newMachine(t)
	m.Load(&domain.ReviewSession{Queue: []string{"A"}}, map[string]domain.UserCard{
		"A": domain.Effective(domain.Card{ID: "A"}, nil, clock.now),
	})
	rec.answerErr = errors.New("offline")

	require.NoError(t, m.Flip(ctx))
	assert.Equal(t, Back, m.State())
	assert.Error(t, m.AnswerErr())

	v := m.Snapshot()
	assert.Nil(t, v.Answer)
	assert.Contains(t, v.AnswerErr, "offline")

	// The rating can still be submitted.
	_, err := m.Submit(ctx, domain.MasteryFuzzy)
	assert.NoError(t, err)
}

func TestNavigationWrapsAndResetsToFront(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newMachine(t, "A", "B", "C")

	tests := []struct {
		name string
		move func() error
		want string
	}{
		{"previous wraps to end", m.Previous, "C"},
		{"next wraps to start", m.Next, "A"},
		{"next", m.Next, "B"},
		{"previous", m.Previous, "A"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, m.Flip(ctx))
			require.NoError(t, tt.move())
			assert.Equal(t, tt.want, currentID(t, m))
			assert.Equal(t, Front, m.State())
			assert.Nil(t, m.Snapshot().Answer)
		})
	}
}

func TestLoadEmptyQueueIsIdle(t *testing.T) {
	m, _, _ := newMachine(t)
	assert.Equal(t, Idle, m.State())
	v := m.Snapshot()
	assert.Equal(t, "idle", v.State)
	assert.Nil(t, v.Card)
	assert.Equal(t, 0, v.Total)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "front", Front.String())
	assert.Equal(t, "State(7)", State(7).String())
}
