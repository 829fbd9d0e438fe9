package domain

import "time"

// QuestionType separates technical questions from behavioral ones.
type QuestionType string

const (
	QuestionTechnical  QuestionType = "technical"
	QuestionBehavioral QuestionType = "behavioral"
)

// Card represents a single interview question in the shared catalog.
// Catalog fields never change per user; see Override for the user layer.
type Card struct {
	ID         string
	CategoryL1 string
	CategoryL2 string
	CategoryL3 string

	Title    string
	Question string
	Answer   string

	// Optional English variants of the text fields.
	TitleEN    string
	QuestionEN string
	AnswerEN   string

	QuestionType QuestionType
	Difficulty   string // easy, medium, hard
	Frequency    string // low, medium, high
	Tags         []string

	CreatedAt time.Time
	UpdatedAt time.Time

	// Source is the origin system (local, git, upload) and ExternalID the
	// identifier the card has there.
	Source     string
	ExternalID string
}

// Summary projects the card into its cache form. The answer is left out.
func (c Card) Summary() CardSummary {
	return CardSummary{
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
		Tags:         c.Tags,
		SyncCursor:   c.UpdatedAt,
	}
}

// CardSummary is the read-mostly projection mirrored by the local cache.
// SyncCursor is the raw upstream update time and is only used to resume syncs.
type CardSummary struct {
	ID           string       `json:"id"`
	CategoryL1   string       `json:"category_l1"`
	CategoryL2   string       `json:"category_l2"`
	CategoryL3   string       `json:"category_l3"`
	Title        string       `json:"title"`
	Question     string       `json:"question"`
	TitleEN      string       `json:"title_en,omitempty"`
	QuestionEN   string       `json:"question_en,omitempty"`
	QuestionType QuestionType `json:"question_type"`
	Difficulty   string       `json:"difficulty"`
	Frequency    string       `json:"frequency"`
	Tags         []string     `json:"tags"`
	SyncCursor   time.Time    `json:"-"`
}

// UserCard is a card as one user sees it: catalog fields plus that user's
// override, or the default override when the user never touched the card.
type UserCard struct {
	Card
	Override
}

// Effective merges a card with an optional override.
func Effective(card Card, o *Override, now time.Time) UserCard {
	if o == nil {
		d := DefaultOverride(card.ID, now)
		return UserCard{Card: card, Override: d}
	}
	return UserCard{Card: card, Override: *o}
}
