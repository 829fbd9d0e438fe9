package web

import (
	"net/http"

	"github.com/conorfennell/knolprep/internal/domain"
	"github.com/conorfennell/knolprep/internal/review"
	"github.com/conorfennell/knolprep/internal/reviewer"
)

// sessionKey reads the session identity from the scope and mode query
// parameters. Missing values mean all cards in review mode.
func sessionKey(r *http.Request) (domain.SessionKey, error) {
	q := r.URL.Query()
	return parseKey(userID(r), q.Get("scope"), q.Get("mode"))
}

func parseKey(user, rawScope, rawMode string) (domain.SessionKey, error) {
	key := domain.SessionKey{
		UserID: user,
		Scope:  domain.Scope{Kind: domain.ScopeAll},
		Mode:   domain.ModeReview,
	}
	if rawScope != "" {
		scope, err := domain.ParseScope(rawScope)
		if err != nil {
			return key, err
		}
		key.Scope = scope
	}
	if rawMode != "" {
		key.Mode = domain.Mode(rawMode)
	}
	return key, nil
}

func (s *Server) handleStartReview() http.HandlerFunc {
	type request struct {
		Scope   string   `json:"scope"`
		Mode    string   `json:"mode" validate:"omitempty,oneof=review practice"`
		OnlyDue *bool    `json:"only_due"`
		Mastery []string `json:"mastery" validate:"omitempty,dive,required"`
		Shuffle bool     `json:"shuffle"`
		Restart bool     `json:"restart"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if !s.decode(w, r, &req) {
			return
		}
		key, err := parseKey(userID(r), req.Scope, req.Mode)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		filters := domain.Filters{OnlyDue: true, Shuffle: req.Shuffle}
		if req.OnlyDue != nil {
			filters.OnlyDue = *req.OnlyDue
		}
		for _, raw := range req.Mastery {
			m, err := domain.ParseMastery(raw)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			filters.Mastery = append(filters.Mastery, m)
		}

		m, err := s.deps.Review.Start(r.Context(), key.UserID, review.StartRequest{
			Scope:   key.Scope,
			Mode:    key.Mode,
			Filters: filters,
			Restart: req.Restart,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, m.Snapshot())
	}
}

// withMachine adapts a review step into a handler that answers with the
// machine's view.
func (s *Server) withMachine(step func(r *http.Request, key domain.SessionKey) (*reviewer.Machine, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := sessionKey(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		m, err := step(r, key)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, m.Snapshot())
	}
}

func (s *Server) handleCurrentReview() http.HandlerFunc {
	return s.withMachine(func(r *http.Request, key domain.SessionKey) (*reviewer.Machine, error) {
		return s.deps.Review.Machine(r.Context(), key)
	})
}

func (s *Server) handleFlip() http.HandlerFunc {
	return s.withMachine(func(r *http.Request, key domain.SessionKey) (*reviewer.Machine, error) {
		return s.deps.Review.Flip(r.Context(), key)
	})
}

func (s *Server) handleNavigate(forward bool) http.HandlerFunc {
	return s.withMachine(func(r *http.Request, key domain.SessionKey) (*reviewer.Machine, error) {
		return s.deps.Review.Navigate(r.Context(), key, forward)
	})
}

func (s *Server) handleSubmit() http.HandlerFunc {
	type request struct {
		Mastery string `json:"mastery" validate:"required"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if !s.decode(w, r, &req) {
			return
		}
		mastery, err := domain.ParseMastery(req.Mastery)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.withMachine(func(r *http.Request, key domain.SessionKey) (*reviewer.Machine, error) {
			return s.deps.Review.Submit(r.Context(), key, mastery)
		})(w, r)
	}
}

func (s *Server) handleEndReview() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := sessionKey(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.deps.Review.End(r.Context(), key); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := s.deps.Review.Stats(r.Context(), userID(r))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}
