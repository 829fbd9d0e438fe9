package session

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

type fakeRepo struct {
	mu       sync.Mutex
	sessions map[string]*domain.ReviewSession
	puts     int
	failPut  error
	getGate  chan struct{}
	// putGate holds writes until closed; putStarted is signalled first.
	putGate    chan struct{}
	putStarted chan struct{}
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{sessions: make(map[string]*domain.ReviewSession)}
}

func (r *fakeRepo) GetSession(_ context.Context, key domain.SessionKey) (*domain.ReviewSession, error) {
	if r.getGate != nil {
		<-r.getGate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key.String()]
	if !ok {
		return nil, nil
	}
	return s.Clone(), nil
}

func (r *fakeRepo) PutSession(_ context.Context, s *domain.ReviewSession) error {
	if r.putGate != nil {
		select {
		case r.putStarted <- struct{}{}:
		default:
		}
		<-r.putGate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.puts++
	if r.failPut != nil {
		return r.failPut
	}
	r.sessions[s.Key.String()] = s.Clone()
	return nil
}

func (r *fakeRepo) DeleteSession(_ context.Context, key domain.SessionKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, key.String())
	return nil
}

func (r *fakeRepo) stored(key domain.SessionKey) *domain.ReviewSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[key.String()]; ok {
		return s.Clone()
	}
	return nil
}

func (r *fakeRepo) putCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.puts
}

type fakeCatalog map[string]bool

func (c fakeCatalog) ExistingCardIDs(_ context.Context, ids []string) (map[string]bool, error) {
	out := make(map[string]bool)
	for _, id := range ids {
		if c[id] {
			out[id] = true
		}
	}
	return out, nil
}

var testKey = domain.SessionKey{
	UserID: "u1",
	Scope:  domain.Scope{Kind: domain.ScopeAll},
	Mode:   domain.ModeReview,
}

func userCard(id string, dueAt time.Time) domain.UserCard {
	return domain.UserCard{
		Card:     domain.Card{ID: id},
		Override: domain.Override{CardID: id, Mastery: domain.MasteryNew, DueAt: dueAt},
	}
}

func TestCreatePersistsImmediately(t *testing.T) {
	repo := newFakeRepo()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewStore(repo, fakeCatalog{}, Options{Debounce: time.Hour, Now: func() time.Time { return now }})

	cards := []domain.UserCard{
		userCard("b", now.Add(time.Hour)),
		userCard("a", now.Add(-time.Hour)),
	}
	sess, err := store.Create(context.Background(), testKey, cards, domain.Filters{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, sess.Queue)
	assert.Equal(t, 0, sess.Cursor)

	stored := repo.stored(testKey)
	require.NotNil(t, stored)
	assert.Equal(t, []string{"a", "b"}, stored.Queue)
	assert.Equal(t, now, stored.UpdatedAt)
}

func TestRestorePrunesDeletedCards(t *testing.T) {
	tests := []struct {
		name       string
		queue      []string
		cursor     int
		existing   fakeCatalog
		wantQueue  []string
		wantCursor int
	}{
		{
			name:       "nothing removed",
			queue:      []string{"a", "b", "c"},
			cursor:     1,
			existing:   fakeCatalog{"a": true, "b": true, "c": true},
			wantQueue:  []string{"a", "b", "c"},
			wantCursor: 1,
		},
		{
			name:       "cursor clamped after tail removed",
			queue:      []string{"a", "b", "c"},
			cursor:     2,
			existing:   fakeCatalog{"a": true},
			wantQueue:  []string{"a"},
			wantCursor: 0,
		},
		{
			name:       "middle removed",
			queue:      []string{"a", "b", "c"},
			cursor:     1,
			existing:   fakeCatalog{"a": true, "c": true},
			wantQueue:  []string{"a", "c"},
			wantCursor: 1,
		},
		{
			name:       "all removed",
			queue:      []string{"a", "b"},
			cursor:     1,
			existing:   fakeCatalog{},
			wantQueue:  []string{},
			wantCursor: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeRepo()
			repo.sessions[testKey.String()] = &domain.ReviewSession{Key: testKey, Queue: tt.queue, Cursor: tt.cursor}
			store := NewStore(repo, tt.existing, Options{})

			sess, err := store.Restore(context.Background(), testKey)
			require.NoError(t, err)
			require.NotNil(t, sess)
			assert.Equal(t, tt.wantQueue, sess.Queue)
			assert.Equal(t, tt.wantCursor, sess.Cursor)

			again, err := store.Restore(context.Background(), testKey)
			require.NoError(t, err)
			assert.Equal(t, sess.Queue, again.Queue)
			assert.Equal(t, sess.Cursor, again.Cursor)

			stored := repo.stored(testKey)
			assert.ElementsMatch(t, tt.wantQueue, stored.Queue)
		})
	}
}

func TestRestoreMissing(t *testing.T) {
	store := NewStore(newFakeRepo(), fakeCatalog{}, Options{})
	sess, err := store.Restore(context.Background(), testKey)
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestRestoreSupersededByCreate(t *testing.T) {
	repo := newFakeRepo()
	repo.sessions[testKey.String()] = &domain.ReviewSession{Key: testKey, Queue: []string{"old"}}
	gate := make(chan struct{})
	repo.getGate = gate
	store := NewStore(repo, fakeCatalog{"old": true, "new": true}, Options{})

	done := make(chan error, 1)
	go func() {
		_, err := store.Restore(context.Background(), testKey)
		done <- err
	}()

	// Wait for Restore to take its generation before the newer Create.
	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.generations[testKey.String()] == 1
	}, time.Second, time.Millisecond)

	_, err := store.Create(context.Background(), testKey, []domain.UserCard{userCard("new", time.Time{})}, domain.Filters{})
	require.NoError(t, err)
	close(gate)

	assert.ErrorIs(t, <-done, ErrSuperseded)
	assert.Equal(t, []string{"new"}, repo.stored(testKey).Queue)
}

func TestSaveCoalescesBurst(t *testing.T) {
	repo := newFakeRepo()
	store := NewStore(repo, fakeCatalog{}, Options{Debounce: 30 * time.Millisecond})

	sess := &domain.ReviewSession{Key: testKey, Queue: []string{"a", "b", "c", "d"}}
	for i := range 4 {
		sess.Cursor = i
		store.Save(sess)
	}

	require.Eventually(t, func() bool { return repo.putCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, repo.stored(testKey).Cursor)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, repo.putCount())
}

func TestSaveImmediateCancelsPending(t *testing.T) {
	repo := newFakeRepo()
	store := NewStore(repo, fakeCatalog{}, Options{Debounce: 30 * time.Millisecond})

	sess := &domain.ReviewSession{Key: testKey, Queue: []string{"a", "b"}, Cursor: 0}
	store.Save(sess)
	sess.Cursor = 1
	require.NoError(t, store.SaveImmediate(context.Background(), sess))

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 1, repo.putCount())
	assert.Equal(t, 1, repo.stored(testKey).Cursor)
}

func TestFlushAndClose(t *testing.T) {
	repo := newFakeRepo()
	store := NewStore(repo, fakeCatalog{}, Options{Debounce: time.Hour})

	other := testKey
	other.Mode = domain.ModePractice
	store.Save(&domain.ReviewSession{Key: testKey, Queue: []string{"a"}})
	store.Save(&domain.ReviewSession{Key: other, Queue: []string{"b"}})
	assert.Equal(t, 2, store.debouncer.Pending())

	require.NoError(t, store.Close(context.Background()))
	assert.Equal(t, 0, store.debouncer.Pending())
	assert.NotNil(t, repo.stored(testKey))
	assert.NotNil(t, repo.stored(other))

	// After Close, saves are synchronous.
	store.Save(&domain.ReviewSession{Key: testKey, Queue: []string{"z"}})
	assert.Equal(t, []string{"z"}, repo.stored(testKey).Queue)
}

func TestFlushReportsWriteFailure(t *testing.T) {
	repo := newFakeRepo()
	repo.failPut = errors.New("disk full")
	store := NewStore(repo, fakeCatalog{}, Options{Debounce: time.Hour})

	store.Save(&domain.ReviewSession{Key: testKey})
	assert.EqualError(t, store.Flush(context.Background()), "disk full")
}

func TestDeleteDropsPendingSave(t *testing.T) {
	repo := newFakeRepo()
	store := NewStore(repo, fakeCatalog{}, Options{Debounce: 20 * time.Millisecond})

	store.Save(&domain.ReviewSession{Key: testKey, Queue: []string{"a"}})
	require.NoError(t, store.Delete(context.Background(), testKey))

	time.Sleep(60 * time.Millisecond)
	assert.Nil(t, repo.stored(testKey))
}

func TestRestoreWritesPendingSaveFirst(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	store := NewStore(repo, fakeCatalog{"a": true, "b": true, "c": true}, Options{Debounce: time.Hour})

	sess, err := store.Create(ctx, testKey, []domain.UserCard{
		userCard("a", time.Time{}), userCard("b", time.Time{}), userCard("c", time.Time{}),
	}, domain.Filters{})
	require.NoError(t, err)
	sess.Cursor = 2
	store.Save(sess)

	restored, err := store.Restore(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, 2, restored.Cursor)
	assert.Equal(t, 2, repo.stored(testKey).Cursor)
	assert.Zero(t, store.debouncer.Pending())
}

func TestInFlightWriteFinishesBeforeDelete(t *testing.T) {
	repo := newFakeRepo()
	repo.putGate = make(chan struct{})
	repo.putStarted = make(chan struct{}, 1)
	store := NewStore(repo, fakeCatalog{}, Options{Debounce: time.Millisecond})

	store.Save(&domain.ReviewSession{Key: testKey, Queue: []string{"a"}})
	<-repo.putStarted

	deleted := make(chan error, 1)
	go func() { deleted <- store.Delete(context.Background(), testKey) }()

	select {
	case <-deleted:
		t.Fatal("Delete returned while a write of the same session was in flight")
	case <-time.After(20 * time.Millisecond):
	}
	close(repo.putGate)

	require.NoError(t, <-deleted)
	assert.Nil(t, repo.stored(testKey))
}

func TestStaleDebouncedWriteIsDropped(t *testing.T) {
	repo := newFakeRepo()
	d := NewDebouncer(time.Hour, repo.PutSession)

	p := &pendingSave{session: &domain.ReviewSession{Key: testKey, Queue: []string{"old"}}}
	d.Cancel(testKey.String())

	// A write scheduled before the cancel is skipped.
	require.NoError(t, d.writeOnce(context.Background(), testKey.String(), p))
	assert.Nil(t, repo.stored(testKey))

	require.NoError(t, d.Do(testKey.String(), func() error {
		return repo.PutSession(context.Background(), &domain.ReviewSession{Key: testKey, Queue: []string{"new"}})
	}))
	assert.Equal(t, []string{"new"}, repo.stored(testKey).Queue)
}
