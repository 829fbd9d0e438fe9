// Package knol derives stable card ids from card content.
package knol

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/conorfennell/knolprep/internal/parser"
)

// Normalize concatenates the entry's content after cleaning each part.
// It trims whitespace, lowercases, and normalizes line endings for each field
// before joining them. Title, category and tags are metadata and do not take
// part, so recategorizing a card keeps its id and its review history.
func Normalize(e parser.Entry) string {
	normalizePart := func(part string) string {
		p := strings.ToLower(part)
		p = strings.TrimSpace(p)
		p = strings.ReplaceAll(p, "\r\n", "\n")
		return p
	}

	q := normalizePart(e.Question)
	a := normalizePart(e.Answer)
	c := normalizePart(e.Context)

	// We join with a newline to ensure separation between fields,
	// preventing accidental joining of words. e.g. "question" and "answer"
	// becoming "questionanswer".
	return strings.Join([]string{q, a, c}, "\n")
}

// Hash normalizes an entry and returns its SHA-256 hash as a hex string.
// The hash is the card id.
func Hash(e parser.Entry) string {
	normalized := Normalize(e)
	hashBytes := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("%x", hashBytes)
}
