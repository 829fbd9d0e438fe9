package domain

import "time"

// MaxLoggedTimeSpent caps the time recorded for a single review.
const MaxLoggedTimeSpent = 5 * time.Minute

// ReviewLog records a single mastery submission. Logs are append-only.
type ReviewLog struct {
	ID             string
	UserID         string
	CardID         string
	Previous       Mastery
	New            Mastery
	TimeSpent      time.Duration
	RevealedAnswer bool
	CreatedAt      time.Time
}
