// Package parser reads interview cards from markdown files.
//
// A card is a block of prefixed lines:
//
//	T: Goroutine leaks
//	K: backend/go/concurrency
//	G: go, concurrency
//	D: medium
//	Q: How can a goroutine leak?
//	A: It blocks forever on a channel
//	nobody closes.
//	C: Go runtime
//
// Only Q: is required. Q:, A: and C: may span several lines, the header
// lines T:, K:, G: and D: take one line each. Cards are separated by "---"
// or by the start of the next card.
package parser

import (
	"bufio"
	"io"
	"os"
	"strings"
)

const (
	questionPrefix   = "Q:"
	answerPrefix     = "A:"
	contextPrefix    = "C:"
	titlePrefix      = "T:"
	categoryPrefix   = "K:"
	tagsPrefix       = "G:"
	difficultyPrefix = "D:"
	separator        = "---"
)

// Entry is one parsed card.
type Entry struct {
	Title      string
	Category   string // "l1/l2/l3"
	Tags       []string
	Difficulty string
	Question   string
	Answer     string
	Context    string
}

// CategoryPath splits Category into its levels. It returns false unless the
// path has exactly three non-empty levels.
func (e Entry) CategoryPath() ([3]string, bool) {
	var path [3]string
	parts := strings.Split(e.Category, "/")
	if len(parts) != 3 {
		return path, false
	}
	for i, p := range parts {
		path[i] = strings.TrimSpace(p)
		if path[i] == "" {
			return path, false
		}
	}
	return path, true
}

type state int

const (
	seeking state = iota
	readingHeader
	readingQuestion
	readingAnswer
	readingContext
)

// ParseFile reads a file from the given path and extracts all entries.
func ParseFile(path string) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Parse(file)
}

// Parse reads from an io.Reader and extracts all entries.
func Parse(r io.Reader) ([]Entry, error) {
	scanner := bufio.NewScanner(r)
	var entries []Entry
	var current Entry
	var block []string
	currentState := seeking

	flushBlock := func() {
		if len(block) == 0 {
			return
		}
		content := strings.TrimRight(strings.Join(block, "\n"), "\n")
		switch currentState {
		case readingQuestion:
			current.Question = content
		case readingAnswer:
			current.Answer = content
		case readingContext:
			current.Context = content
		}
		block = nil
	}

	finishEntry := func() {
		flushBlock()
		if current.Question != "" {
			entries = append(entries, current)
		}
		current = Entry{}
		currentState = seeking
	}

	for scanner.Scan() {
		line := scanner.Text()

		if line == separator {
			finishEntry()
			continue
		}

		if prefix, value, ok := cutPrefix(line, titlePrefix, categoryPrefix, tagsPrefix, difficultyPrefix); ok {
			// A header after the question belongs to the next card.
			if current.Question != "" || currentState == readingQuestion {
				finishEntry()
			}
			flushBlock()
			currentState = readingHeader
			switch prefix {
			case titlePrefix:
				current.Title = strings.TrimSpace(value)
			case categoryPrefix:
				current.Category = strings.Trim(strings.TrimSpace(value), "/")
			case tagsPrefix:
				current.Tags = splitTags(value)
			case difficultyPrefix:
				current.Difficulty = strings.ToLower(strings.TrimSpace(value))
			}
			continue
		}

		if prefix, value, ok := cutPrefix(line, questionPrefix, answerPrefix, contextPrefix); ok {
			flushBlock()
			switch prefix {
			case questionPrefix:
				// A new question always starts a new card, keeping headers
				// read just before it.
				if current.Question != "" || currentState == readingAnswer || currentState == readingContext {
					finishEntry()
				}
				currentState = readingQuestion
			case answerPrefix:
				currentState = readingAnswer
			case contextPrefix:
				currentState = readingContext
			}
			block = append(block, value)
			continue
		}

		switch currentState {
		case readingQuestion, readingAnswer, readingContext:
			block = append(block, line)
		}
	}

	finishEntry() // Finish the very last card in the file

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}

// cutPrefix reports which of prefixes line starts with and returns the rest
// of the line without one leading space.
func cutPrefix(line string, prefixes ...string) (string, string, bool) {
	for _, p := range prefixes {
		if rest, ok := strings.CutPrefix(line, p); ok {
			return p, strings.TrimPrefix(rest, " "), true
		}
	}
	return "", "", false
}

func splitTags(value string) []string {
	var tags []string
	for _, t := range strings.Split(value, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
