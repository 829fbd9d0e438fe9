package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/knolprep/internal/domain"
	"github.com/conorfennell/knolprep/internal/importer"
	"github.com/conorfennell/knolprep/internal/lists"
	"github.com/conorfennell/knolprep/internal/review"
	"github.com/conorfennell/knolprep/internal/reviewer"
	"github.com/conorfennell/knolprep/internal/session"
	"github.com/conorfennell/knolprep/internal/storage"
	"github.com/conorfennell/knolprep/internal/summarycache"
)

const cardsFile = `T: Goroutine leaks
K: Backend/Go/Concurrency
D: medium
Q: How can a goroutine leak?
A: It blocks **forever**.
---
Q: What does close do on a channel?
A: Signals no more values.
`

func newTestServer(t *testing.T, opts Options) *Server {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	db, err := storage.Open(ctx, storage.SQLite, ":memory:")
	require.NoError(t, err)
	cache, err := summarycache.Open(ctx, ":memory:", db, summarycache.Options{Overrides: db})
	require.NoError(t, err)
	sessions := session.NewStore(db, db, session.Options{Debounce: time.Hour, Now: clock})
	t.Cleanup(func() {
		sessions.Close(context.Background())
		cache.Close()
		db.Close()
	})

	return NewServer(Deps{
		DB:       db,
		Cache:    cache,
		Review:   review.NewService(db, sessions, clock),
		Lists:    lists.NewService(db, clock),
		Importer: importer.New(db, nil, clock),
	}, opts)
}

// do sends a request as user and decodes a JSON response into out.
func do(t *testing.T, s *Server, method, target, user string, body, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if out != nil && rec.Code < 300 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

// seed imports cardsFile through the API and returns the cached summaries.
func seed(t *testing.T, s *Server) []domain.CardSummary {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "go"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go", "cards.md"), []byte(cardsFile), 0o644))

	var src storage.Source
	require.Equal(t, http.StatusCreated, do(t, s, "POST", "/api/sources", "", map[string]string{"path": dir}, &src))
	assert.Equal(t, importer.SourceLocal, src.Type)

	var report importer.Report
	require.Equal(t, http.StatusOK, do(t, s, "POST", "/api/sync", "", nil, &report))
	assert.Equal(t, 2, report.Upserted)

	var page summarycache.PageResult
	require.Equal(t, http.StatusOK, do(t, s, "GET", "/api/cards?page=1&page_size=10", "", nil, &page))
	require.Equal(t, 2, page.Total)
	return page.Items
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, Options{})
	var body map[string]string
	assert.Equal(t, http.StatusOK, do(t, s, "GET", "/healthz", "", nil, &body))
	assert.Equal(t, "ok", body["status"])
}

func TestCatalogEndpoints(t *testing.T) {
	s := newTestServer(t, Options{})
	items := seed(t, s)

	var leak domain.CardSummary
	for _, it := range items {
		if it.Title == "Goroutine leaks" {
			leak = it
		}
	}
	require.NotEmpty(t, leak.ID)

	var card cardResponse
	require.Equal(t, http.StatusOK, do(t, s, "GET", "/api/cards/"+leak.ID, "", nil, &card))
	assert.Equal(t, "How can a goroutine leak?", card.Question)
	assert.Equal(t, "medium", card.Difficulty)

	var answer struct {
		Format string `json:"format"`
		Answer string `json:"answer"`
	}
	require.Equal(t, http.StatusOK, do(t, s, "GET", "/api/cards/"+leak.ID+"/answer", "", nil, &answer))
	assert.Equal(t, "md", answer.Format)
	assert.Equal(t, "It blocks **forever**.", answer.Answer)

	require.Equal(t, http.StatusOK, do(t, s, "GET", "/api/cards/"+leak.ID+"/answer?format=html", "", nil, &answer))
	assert.Contains(t, answer.Answer, "<strong>forever</strong>")

	assert.Equal(t, http.StatusBadRequest, do(t, s, "GET", "/api/cards/"+leak.ID+"/answer?format=pdf", "", nil, nil))
	assert.Equal(t, http.StatusNotFound, do(t, s, "GET", "/api/cards/missing", "", nil, nil))
	assert.Equal(t, http.StatusNotFound, do(t, s, "GET", "/api/cards/missing/answer", "", nil, nil))

	var page summarycache.PageResult
	require.Equal(t, http.StatusOK, do(t, s, "GET", "/api/cards?search=channel", "", nil, &page))
	assert.Equal(t, 1, page.Total)
}

func TestReviewFlow(t *testing.T) {
	s := newTestServer(t, Options{})
	seed(t, s)

	var view reviewer.View
	require.Equal(t, http.StatusOK, do(t, s, "POST", "/api/review/start", "u1", map[string]any{"scope": "all"}, &view))
	assert.Equal(t, "front", view.State)
	assert.Equal(t, 2, view.Total)
	assert.Nil(t, view.Answer)

	assert.Equal(t, http.StatusConflict, do(t, s, "POST", "/api/review/submit", "u1", map[string]string{"mastery": "solid"}, nil))
	assert.Equal(t, http.StatusBadRequest, do(t, s, "POST", "/api/review/submit", "u1", map[string]string{"mastery": "great"}, nil))

	require.Equal(t, http.StatusOK, do(t, s, "POST", "/api/review/flip", "u1", nil, &view))
	assert.Equal(t, "back", view.State)
	require.NotNil(t, view.Answer)
	assert.NotEmpty(t, *view.Answer)

	require.Equal(t, http.StatusOK, do(t, s, "POST", "/api/review/submit", "u1", map[string]string{"mastery": "solid"}, &view))
	assert.Equal(t, "front", view.State)
	assert.Equal(t, 1, view.Total)

	require.Equal(t, http.StatusOK, do(t, s, "GET", "/api/review/current", "u1", nil, &view))
	assert.Equal(t, 1, view.Total)

	var stats review.Stats
	require.Equal(t, http.StatusOK, do(t, s, "GET", "/api/stats", "u1", nil, &stats))
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Solid)
	assert.Equal(t, 1, stats.ReviewedToday)

	var progress summarycache.Progress
	require.Equal(t, http.StatusOK, do(t, s, "GET", "/api/progress", "u1", nil, &progress))
	assert.Equal(t, summarycache.Progress{Solved: 1, Total: 2}, progress)

	assert.Equal(t, http.StatusNoContent, do(t, s, "DELETE", "/api/review/session", "u1", nil, nil))
	assert.Equal(t, http.StatusNotFound, do(t, s, "GET", "/api/review/current", "u1", nil, nil))
	assert.Equal(t, http.StatusBadRequest, do(t, s, "GET", "/api/review/current?scope=bogus", "u1", nil, nil))
}

func TestReviewWithoutUserIsIdle(t *testing.T) {
	s := newTestServer(t, Options{})
	seed(t, s)

	var view reviewer.View
	require.Equal(t, http.StatusOK, do(t, s, "POST", "/api/review/start", "", map[string]any{}, &view))
	assert.Equal(t, "idle", view.State)
	assert.Equal(t, http.StatusConflict, do(t, s, "POST", "/api/review/flip", "", nil, nil))
}

func TestListEndpoints(t *testing.T) {
	s := newTestServer(t, Options{})
	items := seed(t, s)

	assert.Equal(t, http.StatusUnauthorized, do(t, s, "POST", "/api/lists", "", map[string]string{"name": "x"}, nil))
	assert.Equal(t, http.StatusBadRequest, do(t, s, "POST", "/api/lists", "u1", map[string]string{}, nil))

	var l domain.CardList
	require.Equal(t, http.StatusCreated, do(t, s, "POST", "/api/lists", "u1", map[string]string{"name": "Tricky"}, &l))
	assert.Equal(t, http.StatusConflict, do(t, s, "POST", "/api/lists", "u1", map[string]string{"name": "tricky"}, nil))

	require.Equal(t, http.StatusOK, do(t, s, "POST", "/api/lists/"+l.ID+"/cards", "u1", map[string][]string{"card_ids": {items[0].ID}}, &l))
	assert.Equal(t, []string{items[0].ID}, l.CardIDs)

	var view reviewer.View
	require.Equal(t, http.StatusOK, do(t, s, "POST", "/api/review/start", "u1", map[string]any{"scope": "list:" + l.ID, "mode": "practice"}, &view))
	assert.Equal(t, 1, view.Total)

	require.Equal(t, http.StatusOK, do(t, s, "DELETE", "/api/lists/"+l.ID+"/cards/"+items[0].ID, "u1", nil, &l))
	assert.Empty(t, l.CardIDs)

	var fav map[string]bool
	require.Equal(t, http.StatusOK, do(t, s, "POST", "/api/cards/"+items[1].ID+"/favorite", "u1", nil, &fav))
	assert.True(t, fav["favorite"])

	var all []domain.CardList
	require.Equal(t, http.StatusOK, do(t, s, "GET", "/api/lists", "u1", nil, &all))
	require.Len(t, all, 2)
	for _, got := range all {
		if got.IsDefault {
			assert.Equal(t, http.StatusForbidden, do(t, s, "DELETE", "/api/lists/"+got.ID, "u1", nil, nil))
		}
	}

	assert.Equal(t, http.StatusNotFound, do(t, s, "PATCH", "/api/lists/"+l.ID, "u2", map[string]string{"name": "Mine"}, nil))
	require.Equal(t, http.StatusOK, do(t, s, "PATCH", "/api/lists/"+l.ID, "u1", map[string]string{"name": "Renamed"}, &l))
	assert.Equal(t, "Renamed", l.Name)
	assert.Equal(t, http.StatusNoContent, do(t, s, "DELETE", "/api/lists/"+l.ID, "u1", nil, nil))
}

func TestSourceEndpoints(t *testing.T) {
	s := newTestServer(t, Options{})
	seed(t, s)

	var sources []storage.Source
	require.Equal(t, http.StatusOK, do(t, s, "GET", "/api/sources", "", nil, &sources))
	require.Len(t, sources, 1)

	assert.Equal(t, http.StatusConflict, do(t, s, "POST", "/api/sources", "", map[string]string{"path": sources[0].Path}, nil))
	assert.Equal(t, http.StatusBadRequest, do(t, s, "POST", "/api/sources", "", map[string]string{"path": filepath.Join(t.TempDir(), "nope")}, nil))
	assert.Equal(t, http.StatusBadRequest, do(t, s, "DELETE", "/api/sources/abc", "", nil, nil))

	// Deleting a source drops its cards from the cache too.
	require.Equal(t, http.StatusNoContent, do(t, s, "DELETE", "/api/sources/"+strconv.FormatInt(sources[0].ID, 10), "", nil, nil))
	var page summarycache.PageResult
	require.Equal(t, http.StatusOK, do(t, s, "GET", "/api/cards", "", nil, &page))
	assert.Zero(t, page.Total)
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, Options{RateLimitRPS: 0.001, RateLimitBurst: 1})

	assert.Equal(t, http.StatusOK, do(t, s, "GET", "/healthz", "u1", nil, nil))
	assert.Equal(t, http.StatusTooManyRequests, do(t, s, "GET", "/healthz", "u1", nil, nil))
	// Other clients have their own budget.
	assert.Equal(t, http.StatusOK, do(t, s, "GET", "/healthz", "u2", nil, nil))
}

func TestBadJSONBody(t *testing.T) {
	s := newTestServer(t, Options{})
	req := httptest.NewRequest("POST", "/api/review/start", bytes.NewBufferString(`{"scope": `))
	req.Header.Set(UserHeader, "u1")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
