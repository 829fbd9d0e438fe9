package lists

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/knolprep/internal/domain"
	"github.com/conorfennell/knolprep/internal/storage"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := storage.Open(context.Background(), storage.SQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	return NewService(db, func() time.Time {
		now = now.Add(time.Second)
		return now
	})
}

func TestEnsureDefaultIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	first, err := svc.EnsureDefault(ctx, "u1")
	require.NoError(t, err)
	second, err := svc.EnsureDefault(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	lists, err := svc.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, lists, 1)
	assert.Equal(t, domain.FavoritesListName, lists[0].Name)
	assert.True(t, lists[0].IsDefault)
}

func TestListLifecycle(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	l, err := svc.Create(ctx, "u1", "  system design ", []string{"a", "b", "a"})
	require.NoError(t, err)
	assert.Equal(t, "system design", l.Name)
	assert.Equal(t, []string{"a", "b"}, l.CardIDs)

	l, err = svc.AddCards(ctx, "u1", l.ID, "b", "c")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, l.CardIDs)

	l, err = svc.RemoveCards(ctx, "u1", l.ID, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, l.CardIDs)

	l, err = svc.Rename(ctx, "u1", l.ID, "distributed systems")
	require.NoError(t, err)
	assert.Equal(t, "distributed systems", l.Name)

	require.NoError(t, svc.Delete(ctx, "u1", l.ID))
	_, err = svc.Get(ctx, "u1", l.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProtectedLists(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	fav, err := svc.EnsureDefault(ctx, "u1")
	require.NoError(t, err)
	uploads, err := svc.Create(ctx, "u1", domain.UploadsListName, nil)
	require.NoError(t, err)

	for _, id := range []string{fav.ID, uploads.ID} {
		assert.ErrorIs(t, svc.Delete(ctx, "u1", id), ErrProtectedList)
		_, err := svc.Rename(ctx, "u1", id, "other")
		assert.ErrorIs(t, err, ErrProtectedList)
	}
}

func TestNameValidation(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	_, err := svc.Create(ctx, "u1", "go", nil)
	require.NoError(t, err)

	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"blank", "   ", ErrInvalidName},
		{"duplicate ignores case", "GO", ErrDuplicateName},
		{"reserved", "Favorites", ErrDuplicateName},
		{"other user may reuse", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.wantErr == nil {
				_, err := svc.Create(ctx, "u2", "go", nil)
				assert.NoError(t, err)
				return
			}
			_, err := svc.Create(ctx, "u1", tt.input, nil)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestToggleFavorite(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	on, err := svc.ToggleFavorite(ctx, "u1", "card-1")
	require.NoError(t, err)
	assert.True(t, on)

	fav, err := svc.EnsureDefault(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"card-1"}, fav.CardIDs)

	on, err = svc.ToggleFavorite(ctx, "u1", "card-1")
	require.NoError(t, err)
	assert.False(t, on)

	fav, err = svc.EnsureDefault(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, fav.CardIDs)
}

func TestOtherUsersListsAreHidden(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	l, err := svc.Create(ctx, "u1", "mine", nil)
	require.NoError(t, err)

	_, err = svc.AddCards(ctx, "u2", l.ID, "x")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, "u2", l.ID), ErrNotFound)
}

func TestAnonymousUser(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	lists, err := svc.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, lists)

	on, err := svc.ToggleFavorite(ctx, "", "card-1")
	require.NoError(t, err)
	assert.False(t, on)
}

func TestConcurrentAddCardsKeepsEveryCard(t *testing.T) {
	ctx := context.Background()
	db, err := storage.Open(ctx, storage.SQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	svc := NewService(db, func() time.Time { return now })

	l, err := svc.Create(ctx, "u1", "batch", nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	want := make([]string, 20)
	for i := range want {
		want[i] = fmt.Sprintf("card-%02d", i)
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := svc.AddCards(ctx, "u1", l.ID, id)
			assert.NoError(t, err)
		}(want[i])
	}
	wg.Wait()

	got, err := svc.Get(ctx, "u1", l.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, want, got.CardIDs)
}
