package web

import (
	"net/http"

	"github.com/conorfennell/knolprep/internal/domain"
)

func (s *Server) handleGetLists() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ls, err := s.deps.Lists.List(r.Context(), userID(r))
		if err != nil {
			writeError(w, r, err)
			return
		}
		if ls == nil {
			ls = []domain.CardList{}
		}
		writeJSON(w, http.StatusOK, ls)
	}
}

// requireUser answers 401 when the request carries no user.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	user := userID(r)
	if user == "" {
		http.Error(w, "Sign in to manage lists", http.StatusUnauthorized)
		return "", false
	}
	return user, true
}

func (s *Server) handleCreateList() http.HandlerFunc {
	type request struct {
		Name    string   `json:"name" validate:"required,max=100"`
		CardIDs []string `json:"card_ids" validate:"omitempty,dive,required"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := requireUser(w, r)
		if !ok {
			return
		}
		var req request
		if !s.decode(w, r, &req) {
			return
		}
		l, err := s.deps.Lists.Create(r.Context(), user, req.Name, req.CardIDs)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, l)
	}
}

func (s *Server) handleRenameList() http.HandlerFunc {
	type request struct {
		Name string `json:"name" validate:"required,max=100"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := requireUser(w, r)
		if !ok {
			return
		}
		var req request
		if !s.decode(w, r, &req) {
			return
		}
		l, err := s.deps.Lists.Rename(r.Context(), user, r.PathValue("id"), req.Name)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, l)
	}
}

func (s *Server) handleDeleteList() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := requireUser(w, r)
		if !ok {
			return
		}
		if err := s.deps.Lists.Delete(r.Context(), user, r.PathValue("id")); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleAddListCards() http.HandlerFunc {
	type request struct {
		CardIDs []string `json:"card_ids" validate:"required,min=1,dive,required"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := requireUser(w, r)
		if !ok {
			return
		}
		var req request
		if !s.decode(w, r, &req) {
			return
		}
		l, err := s.deps.Lists.AddCards(r.Context(), user, r.PathValue("id"), req.CardIDs...)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, l)
	}
}

func (s *Server) handleRemoveListCard() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := requireUser(w, r)
		if !ok {
			return
		}
		l, err := s.deps.Lists.RemoveCards(r.Context(), user, r.PathValue("id"), r.PathValue("cardID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, l)
	}
}
