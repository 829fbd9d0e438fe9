package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/conorfennell/knolprep/internal/domain"
	"github.com/conorfennell/knolprep/internal/render"
	"github.com/conorfennell/knolprep/internal/summarycache"
)

type cardResponse struct {
	ID           string              `json:"id"`
	CategoryL1   string              `json:"category_l1"`
	CategoryL2   string              `json:"category_l2"`
	CategoryL3   string              `json:"category_l3"`
	Title        string              `json:"title"`
	Question     string              `json:"question"`
	TitleEN      string              `json:"title_en,omitempty"`
	QuestionEN   string              `json:"question_en,omitempty"`
	QuestionType domain.QuestionType `json:"question_type"`
	Difficulty   string              `json:"difficulty"`
	Frequency    string              `json:"frequency"`
	Tags         []string            `json:"tags"`
	Source       string              `json:"source"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

func newCardResponse(c domain.Card) cardResponse {
	tags := c.Tags
	if tags == nil {
		tags = []string{}
	}
	return cardResponse{
		ID:           c.ID,
		CategoryL1:   c.CategoryL1,
		CategoryL2:   c.CategoryL2,
		CategoryL3:   c.CategoryL3,
		Title:        c.Title,
		Question:     c.Question,
		TitleEN:      c.TitleEN,
		QuestionEN:   c.QuestionEN,
		QuestionType: c.QuestionType,
		Difficulty:   c.Difficulty,
		Frequency:    c.Frequency,
		Tags:         tags,
		Source:       c.Source,
		UpdatedAt:    c.UpdatedAt,
	}
}

func cacheFilter(r *http.Request) summarycache.Filter {
	q := r.URL.Query()
	return summarycache.Filter{Search: q.Get("search"), CategoryL3ID: q.Get("category")}
}

// intParam returns the integer query parameter name, or def when it is
// absent or malformed.
func intParam(r *http.Request, name string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return def
	}
	return v
}

func (s *Server) handleListCards() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := s.deps.Cache.Page(r.Context(), summarycache.PageQuery{
			Filter:   cacheFilter(r),
			Page:     intParam(r, "page", 1),
			PageSize: intParam(r, "page_size", 50),
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) handleGetCard() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		card, err := s.deps.DB.GetCard(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		if card == nil {
			http.Error(w, "Card not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, newCardResponse(*card))
	}
}

// handleGetAnswer serves the answer on demand, as markdown or rendered HTML.
func (s *Server) handleGetAnswer() http.HandlerFunc {
	type response struct {
		ID     string `json:"id"`
		Format string `json:"format"`
		Answer string `json:"answer"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		answer, found, err := s.deps.DB.GetCardAnswer(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if !found {
			http.Error(w, "Card not found", http.StatusNotFound)
			return
		}

		format := r.URL.Query().Get("format")
		switch format {
		case "", "md":
			format = "md"
		case "html":
			if answer, err = render.Markdown(answer); err != nil {
				writeError(w, r, err)
				return
			}
		default:
			http.Error(w, "format must be md or html", http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, response{ID: id, Format: format, Answer: answer})
	}
}

func (s *Server) handleToggleFavorite() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := userID(r)
		if user == "" {
			http.Error(w, "Sign in to keep favorites", http.StatusUnauthorized)
			return
		}
		on, err := s.deps.Lists.ToggleFavorite(r.Context(), user, r.PathValue("id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"favorite": on})
	}
}

func (s *Server) handleProgress() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := s.deps.Cache.Progress(r.Context(), userID(r), cacheFilter(r))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func (s *Server) handleCacheSync() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := s.deps.Cache.Sync(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"synced": n})
	}
}
