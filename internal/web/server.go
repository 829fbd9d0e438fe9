// Package web exposes the review backend as a JSON HTTP API.
//
// The caller is identified by the X-User-ID header, set by an
// authenticating proxy. Requests without it get neutral results.
package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/conorfennell/knolprep/internal/importer"
	"github.com/conorfennell/knolprep/internal/lists"
	"github.com/conorfennell/knolprep/internal/review"
	"github.com/conorfennell/knolprep/internal/reviewer"
	"github.com/conorfennell/knolprep/internal/session"
	"github.com/conorfennell/knolprep/internal/storage"
	"github.com/conorfennell/knolprep/internal/summarycache"
)

// UserHeader carries the authenticated user id.
const UserHeader = "X-User-ID"

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// Deps are the services behind the API.
type Deps struct {
	DB       *storage.DB
	Cache    *summarycache.Cache
	Review   *review.Service
	Lists    *lists.Service
	Importer *importer.Importer
}

// Options tunes the HTTP layer.
type Options struct {
	// RateLimitRPS of zero disables rate limiting.
	RateLimitRPS   float64
	RateLimitBurst int
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	deps     Deps
	router   *http.ServeMux
	handler  http.Handler
	validate *validator.Validate
}

// NewServer creates and configures a new server.
func NewServer(deps Deps, opts Options) *Server {
	s := &Server{
		deps:     deps,
		router:   http.NewServeMux(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	s.routes()

	s.handler = s.router
	if opts.RateLimitRPS > 0 {
		s.handler = newRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst).middleware(s.router)
	}
	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// routes sets up the routing for the server.
func (s *Server) routes() {
	s.router.HandleFunc("GET /healthz", s.handleHealth())

	// Catalog
	s.router.HandleFunc("GET /api/cards", s.handleListCards())
	s.router.HandleFunc("GET /api/cards/{id}", s.handleGetCard())
	s.router.HandleFunc("GET /api/cards/{id}/answer", s.handleGetAnswer())
	s.router.HandleFunc("POST /api/cards/{id}/favorite", s.handleToggleFavorite())
	s.router.HandleFunc("GET /api/progress", s.handleProgress())
	s.router.HandleFunc("POST /api/cache/sync", s.handleCacheSync())

	// Review
	s.router.HandleFunc("POST /api/review/start", s.handleStartReview())
	s.router.HandleFunc("GET /api/review/current", s.handleCurrentReview())
	s.router.HandleFunc("POST /api/review/flip", s.handleFlip())
	s.router.HandleFunc("POST /api/review/next", s.handleNavigate(true))
	s.router.HandleFunc("POST /api/review/previous", s.handleNavigate(false))
	s.router.HandleFunc("POST /api/review/submit", s.handleSubmit())
	s.router.HandleFunc("DELETE /api/review/session", s.handleEndReview())
	s.router.HandleFunc("GET /api/stats", s.handleStats())

	// Lists
	s.router.HandleFunc("GET /api/lists", s.handleGetLists())
	s.router.HandleFunc("POST /api/lists", s.handleCreateList())
	s.router.HandleFunc("PATCH /api/lists/{id}", s.handleRenameList())
	s.router.HandleFunc("DELETE /api/lists/{id}", s.handleDeleteList())
	s.router.HandleFunc("POST /api/lists/{id}/cards", s.handleAddListCards())
	s.router.HandleFunc("DELETE /api/lists/{id}/cards/{cardID}", s.handleRemoveListCard())

	// Source management routes
	s.router.HandleFunc("GET /api/sources", s.handleGetSources())
	s.router.HandleFunc("POST /api/sources", s.handlePostSource())
	s.router.HandleFunc("DELETE /api/sources/{id}", s.handleDeleteSource())
	s.router.HandleFunc("POST /api/sync", s.handlePostSync())
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.deps.DB.Ping(r.Context()); err != nil {
			slog.Error("Health check failed", "error", err)
			http.Error(w, "Database unavailable", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func userID(r *http.Request) string {
	return r.Header.Get(UserHeader)
}

// decode reads a JSON body into v and validates it.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		http.Error(w, "Invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		http.Error(w, "Invalid request: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to write response", "error", err)
	}
}

// writeError maps service errors to HTTP statuses. Unknown errors are logged
// and reported as 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	switch {
	case errors.Is(err, review.ErrNotFound), errors.Is(err, lists.ErrNotFound), errors.Is(err, review.ErrNoSession):
		status = http.StatusNotFound
	case errors.Is(err, lists.ErrProtectedList):
		status = http.StatusForbidden
	case errors.Is(err, lists.ErrInvalidName):
		status = http.StatusBadRequest
	case errors.Is(err, lists.ErrDuplicateName),
		errors.Is(err, importer.ErrSourceExists),
		errors.Is(err, reviewer.ErrNotFlipped),
		errors.Is(err, reviewer.ErrNoCard),
		errors.Is(err, session.ErrSuperseded):
		status = http.StatusConflict
	default:
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	http.Error(w, err.Error(), status)
}
