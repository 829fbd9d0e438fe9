// Package scheduler computes the next review schedule of a card from the
// mastery tier the user just picked.
package scheduler

import (
	"fmt"
	"math"
	"time"

	"github.com/conorfennell/knolprep/internal/domain"
)

const (
	// FuzzyRelearnDelay is how soon a fuzzy card comes back, whatever its
	// interval bookkeeping says.
	FuzzyRelearnDelay = 10 * time.Minute

	// FuzzyIntervalDays is the interval recorded for fuzzy cards.
	FuzzyIntervalDays = 1

	CanExplainFloorDays = 1
	CanExplainFactor    = 2.0

	SolidFloorDays = 7
	SolidFactor    = 2.5

	day = 24 * time.Hour
)

// CardState is the part of a card's schedule the algorithm reads.
type CardState struct {
	IntervalDays int
	ReviewCount  int
}

// StateOf extracts the schedule state from an override.
func StateOf(o domain.Override) CardState {
	return CardState{IntervalDays: o.IntervalDays, ReviewCount: o.ReviewCount}
}

// Update is the result of a mastery submission.
type Update struct {
	Mastery        domain.Mastery
	IntervalDays   int
	DueAt          time.Time
	ReviewCount    int
	LastReviewedAt time.Time
}

// Apply copies the update onto an override.
func (u Update) Apply(o *domain.Override) {
	o.Mastery = u.Mastery
	o.IntervalDays = u.IntervalDays
	o.DueAt = u.DueAt
	o.ReviewCount = u.ReviewCount
	o.LastReviewedAt = u.LastReviewedAt
	o.UpdatedAt = u.LastReviewedAt
}

// ScheduleNext returns the schedule that follows rating a card m at now.
// It has no side effects and only depends on its arguments.
//
// Note that fuzzy records a one day interval but is due after ten minutes.
func ScheduleNext(state CardState, m domain.Mastery, now time.Time) Update {
	u := Update{
		Mastery:        m,
		ReviewCount:    state.ReviewCount + 1,
		LastReviewedAt: now,
	}

	switch m {
	case domain.MasteryNew:
		u.IntervalDays = 0
		u.DueAt = now
		return u
	case domain.MasteryFuzzy:
		u.IntervalDays = FuzzyIntervalDays
		u.DueAt = now.Add(FuzzyRelearnDelay)
		return u
	case domain.MasteryCanExplain:
		u.IntervalDays = grow(state.IntervalDays, CanExplainFloorDays, CanExplainFactor)
		u.DueAt = now.Add(time.Duration(u.IntervalDays) * day)
		return u
	case domain.MasterySolid:
		u.IntervalDays = grow(state.IntervalDays, SolidFloorDays, SolidFactor)
		u.DueAt = now.Add(time.Duration(u.IntervalDays) * day)
		return u
	}
	panic(fmt.Sprintf("scheduler: unhandled mastery %q", m))
}

// grow multiplies the previous interval by factor, starting from floor when
// the card has no interval yet, and never returns less than floor.
func grow(previous, floor int, factor float64) int {
	next := float64(floor)
	if previous != 0 {
		next = math.Round(float64(previous) * factor)
	}
	return max(floor, int(next))
}

// IsDue reports whether a card due at dueAt can be reviewed at now.
func IsDue(dueAt, now time.Time) bool {
	return !dueAt.After(now)
}
