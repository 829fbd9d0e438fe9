package domain

import "time"

// OverrideKey identifies the per-user overlay of a card. There is at most one
// override per key; writes are upserts and the last one wins.
type OverrideKey struct {
	UserID string
	CardID string
}

// Override is the mutable per-user layer attached to a catalog card.
type Override struct {
	UserID         string
	CardID         string
	Mastery        Mastery
	ReviewCount    int
	IntervalDays   int
	DueAt          time.Time
	LastReviewedAt time.Time // zero when never reviewed
	LastSubmission string
	PassRate       *float64
	UpdatedAt      time.Time
}

// Key returns the upsert key of the override.
func (o Override) Key() OverrideKey {
	return OverrideKey{UserID: o.UserID, CardID: o.CardID}
}

// DefaultOverride is what a user sees for a card they never reviewed.
func DefaultOverride(cardID string, now time.Time) Override {
	return Override{
		CardID:       cardID,
		Mastery:      MasteryNew,
		ReviewCount:  0,
		IntervalDays: 0,
		DueAt:        now,
	}
}

// Solved reports whether the override counts toward solved progress.
func (o Override) Solved() bool {
	return o.ReviewCount > 0 || o.Mastery != MasteryNew
}
