package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/conorfennell/knolprep/internal/importer"
	"github.com/conorfennell/knolprep/internal/storage"
)

func (s *Server) handleGetSources() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sources, err := s.deps.DB.GetAllSources(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		if sources == nil {
			sources = []storage.Source{}
		}
		writeJSON(w, http.StatusOK, sources)
	}
}

func (s *Server) handlePostSource() http.HandlerFunc {
	type request struct {
		Path string `json:"path" validate:"required"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if !s.decode(w, r, &req) {
			return
		}
		src, err := s.deps.Importer.AddSource(r.Context(), req.Path)
		if err != nil {
			if errors.Is(err, importer.ErrSourceExists) {
				writeError(w, r, err)
				return
			}
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusCreated, src)
	}
}

func (s *Server) handleDeleteSource() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			http.Error(w, "Invalid source ID", http.StatusBadRequest)
			return
		}
		if err := s.deps.DB.DeleteSource(r.Context(), id); err != nil {
			writeError(w, r, err)
			return
		}
		// The cache does not see deletions incrementally.
		if err := s.refreshCache(r.Context(), true); err != nil {
			slog.Warn("Cache refresh after source delete failed", "error", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handlePostSync reconciles all sources and brings the cache up to date.
func (s *Server) handlePostSync() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := s.deps.Importer.SyncAll(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		if err := s.refreshCache(r.Context(), report.Deleted > 0); err != nil {
			slog.Warn("Cache refresh after sync failed", "error", err)
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func (s *Server) refreshCache(ctx context.Context, reset bool) error {
	if reset {
		if err := s.deps.Cache.Reset(ctx); err != nil {
			return err
		}
	}
	_, err := s.deps.Cache.Sync(ctx)
	return err
}
