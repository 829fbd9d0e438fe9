package domain

import "fmt"

// Mastery is a user's self-assessed confidence on a card. The tiers are
// ordered: New < Fuzzy < CanExplain < Solid.
type Mastery string

const (
	MasteryNew        Mastery = "new"
	MasteryFuzzy      Mastery = "fuzzy"
	MasteryCanExplain Mastery = "can_explain"
	MasterySolid      Mastery = "solid"
)

// Masteries lists every tier in ascending order.
var Masteries = []Mastery{MasteryNew, MasteryFuzzy, MasteryCanExplain, MasterySolid}

// ParseMastery accepts the stored form and the hyphenated form used by the
// web client ("can-explain").
func ParseMastery(s string) (Mastery, error) {
	switch s {
	case "new":
		return MasteryNew, nil
	case "fuzzy":
		return MasteryFuzzy, nil
	case "can_explain", "can-explain":
		return MasteryCanExplain, nil
	case "solid":
		return MasterySolid, nil
	}
	return "", fmt.Errorf("unknown mastery %q", s)
}

// Rank returns the position of m in the tier order, or -1 if m is unknown.
func (m Mastery) Rank() int {
	for i, v := range Masteries {
		if v == m {
			return i
		}
	}
	return -1
}

// Valid reports whether m is one of the known tiers.
func (m Mastery) Valid() bool {
	return m.Rank() >= 0
}
