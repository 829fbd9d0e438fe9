// Package queue builds the ordered list of cards a review session walks.
package queue

import (
	"math/rand/v2"
	"slices"
	"time"

	"github.com/conorfennell/knolprep/internal/domain"
	"github.com/conorfennell/knolprep/internal/scheduler"
)

// Options controls which cards enter the queue and in what order.
type Options struct {
	OnlyDue bool
	// Mastery keeps only cards at one of these tiers. Empty keeps all.
	Mastery []domain.Mastery
	Shuffle bool

	// Now is the reference time for OnlyDue. Zero means time.Now().
	Now time.Time
	// Rand drives the shuffle. Nil uses the global source.
	Rand *rand.Rand
}

// OptionsFromFilters converts a session filter snapshot.
func OptionsFromFilters(f domain.Filters, now time.Time) Options {
	return Options{
		OnlyDue: f.OnlyDue,
		Mastery: f.Mastery,
		Shuffle: f.Shuffle,
		Now:     now,
	}
}

// Generate filters and orders cards into a review queue. The stages run in
// this order: due filter, mastery filter, removal of solid cards, ordering.
//
// Solid cards never enter a queue, even when opts.Mastery asks for them.
// Without Shuffle the result is sorted by due time; cards due at the same
// time keep their input order. cards is never modified.
func Generate(cards []domain.UserCard, opts Options) []domain.UserCard {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	out := make([]domain.UserCard, 0, len(cards))
	for _, c := range cards {
		if opts.OnlyDue && !scheduler.IsDue(c.DueAt, now) {
			continue
		}
		if len(opts.Mastery) > 0 && !slices.Contains(opts.Mastery, c.Mastery) {
			continue
		}
		if c.Mastery == domain.MasterySolid {
			continue
		}
		out = append(out, c)
	}

	if opts.Shuffle {
		shuffle(out, opts.Rand)
		return out
	}

	slices.SortStableFunc(out, func(a, b domain.UserCard) int {
		return a.DueAt.Compare(b.DueAt)
	})
	return out
}

// shuffle is a Fisher-Yates permutation of cards in place.
func shuffle(cards []domain.UserCard, r *rand.Rand) {
	intn := rand.IntN
	if r != nil {
		intn = r.IntN
	}
	for i := len(cards) - 1; i > 0; i-- {
		j := intn(i + 1)
		cards[i], cards[j] = cards[j], cards[i]
	}
}

// IDs returns the card ids of cards in order.
func IDs(cards []domain.UserCard) []string {
	ids := make([]string, len(cards))
	for i, c := range cards {
		ids[i] = c.Card.ID
	}
	return ids
}
