package domain

import (
	"fmt"
	"strings"
	"time"
)

// ScopeKind selects which cards a review session draws from.
type ScopeKind string

const (
	ScopeAll      ScopeKind = "all"
	ScopeCategory ScopeKind = "category"
	ScopeList     ScopeKind = "list"
)

// Scope is all cards, one category or one user list.
type Scope struct {
	Kind ScopeKind
	ID   string
}

// ParseScope parses "all", "category:<id>" or "list:<id>".
func ParseScope(s string) (Scope, error) {
	if s == string(ScopeAll) {
		return Scope{Kind: ScopeAll}, nil
	}
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return Scope{}, fmt.Errorf("invalid scope %q", s)
	}
	switch ScopeKind(kind) {
	case ScopeCategory, ScopeList:
		return Scope{Kind: ScopeKind(kind), ID: id}, nil
	}
	return Scope{}, fmt.Errorf("invalid scope kind %q", kind)
}

func (s Scope) String() string {
	if s.Kind == ScopeAll {
		return string(ScopeAll)
	}
	return string(s.Kind) + ":" + s.ID
}

// Mode distinguishes scheduled review from free practice.
type Mode string

const (
	ModeReview   Mode = "review"
	ModePractice Mode = "practice"
)

// SessionKey identifies a review session. Sessions are persisted per user
// under the "scope:mode" identity.
type SessionKey struct {
	UserID string
	Scope  Scope
	Mode   Mode
}

// Identity returns the "scope:mode" form of the key.
func (k SessionKey) Identity() string {
	return k.Scope.String() + ":" + string(k.Mode)
}

func (k SessionKey) String() string {
	return k.UserID + "/" + k.Identity()
}

// Filters is the snapshot of options a session queue was built with.
type Filters struct {
	OnlyDue bool      `json:"only_due"`
	Mastery []Mastery `json:"mastery,omitempty"`
	Shuffle bool      `json:"shuffle"`
}

// ReviewSession is a resumable sitting over an ordered queue of card ids.
type ReviewSession struct {
	Key       SessionKey `json:"-"`
	Queue     []string   `json:"queue"`
	Cursor    int        `json:"cursor"`
	Filters   Filters    `json:"filters"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Clone returns a deep copy of the session.
func (s *ReviewSession) Clone() *ReviewSession {
	c := *s
	c.Queue = append([]string(nil), s.Queue...)
	c.Filters.Mastery = append([]Mastery(nil), s.Filters.Mastery...)
	return &c
}

// Current returns the card id under the cursor.
func (s *ReviewSession) Current() (string, bool) {
	if s.Cursor < 0 || s.Cursor >= len(s.Queue) {
		return "", false
	}
	return s.Queue[s.Cursor], true
}

// ClampCursor moves the cursor back into [0, len(Queue)), or to 0 when the
// queue is empty.
func (s *ReviewSession) ClampCursor() {
	if s.Cursor >= len(s.Queue) {
		s.Cursor = max(0, len(s.Queue)-1)
	}
	if s.Cursor < 0 {
		s.Cursor = 0
	}
}
