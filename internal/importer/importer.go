// Package importer reconciles the card catalog with markdown sources, which
// are local directories or git repositories.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/conorfennell/knolprep/internal/domain"
	"github.com/conorfennell/knolprep/internal/gitsource"
	"github.com/conorfennell/knolprep/internal/knol"
	"github.com/conorfennell/knolprep/internal/parser"
	"github.com/conorfennell/knolprep/internal/storage"
)

// Source types.
const (
	SourceLocal = "local"
	SourceGit   = "git"
)

// ErrSourceExists is returned when adding a source that is already known.
var ErrSourceExists = errors.New("source already exists")

// Store is the catalog the importer writes to.
type Store interface {
	GetAllSources(ctx context.Context) ([]storage.Source, error)
	FindSourceByPath(ctx context.Context, path string) (*storage.Source, error)
	InsertSource(ctx context.Context, path, sourceType string) (int64, error)
	UpdateSourceLastScanned(ctx context.Context, sourceID int64, at time.Time) error
	GetCard(ctx context.Context, id string) (*domain.Card, error)
	UpsertCard(ctx context.Context, card domain.Card, sourceID int64) error
	DeleteCard(ctx context.Context, id string) error
	GetCardIDsBySource(ctx context.Context, sourceID int64) ([]string, error)
	UpsertCategory(ctx context.Context, c domain.Category) error
}

// GitSyncer brings a git working copy up to date and returns its path.
type GitSyncer interface {
	Sync(ctx context.Context, url string) (string, error)
}

var _ GitSyncer = gitsource.Repos{}

// Report summarizes one reconciliation.
type Report struct {
	Parsed    int `json:"parsed"`
	Upserted  int `json:"upserted"`
	Unchanged int `json:"unchanged"`
	Deleted   int `json:"deleted"`
	Errors    int `json:"errors"`
}

func (r *Report) add(o Report) {
	r.Parsed += o.Parsed
	r.Upserted += o.Upserted
	r.Unchanged += o.Unchanged
	r.Deleted += o.Deleted
	r.Errors += o.Errors
}

// entryRules are the constraints an entry must meet to become a card.
type entryRules struct {
	Question   string   `validate:"required,max=10000"`
	Answer     string   `validate:"max=50000"`
	Title      string   `validate:"max=200"`
	Difficulty string   `validate:"omitempty,oneof=easy medium hard"`
	Tags       []string `validate:"max=20,dive,max=50"`
}

// Importer reconciles sources into the catalog.
type Importer struct {
	store    Store
	git      GitSyncer
	validate *validator.Validate
	now      func() time.Time
}

// New returns an Importer. A nil now means time.Now.
func New(store Store, git GitSyncer, now func() time.Time) *Importer {
	if now == nil {
		now = time.Now
	}
	return &Importer{
		store:    store,
		git:      git,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      now,
	}
}

// AddSource registers a local directory or a git URL as a card source.
func (im *Importer) AddSource(ctx context.Context, pathOrURL string) (*storage.Source, error) {
	path, sourceType := pathOrURL, SourceGit
	if _, err := gitsource.LocalPath("", pathOrURL); err != nil {
		sourceType = SourceLocal
		abs, err := filepath.Abs(pathOrURL)
		if err != nil {
			return nil, fmt.Errorf("could not get absolute path for %s: %w", pathOrURL, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("invalid local source %s: %w", abs, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("invalid local source %s: not a directory", abs)
		}
		path = abs
	}

	existing, err := im.store.FindSourceByPath(ctx, path)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, fmt.Errorf("%s: %w", path, ErrSourceExists)
	}

	id, err := im.store.InsertSource(ctx, path, sourceType)
	if err != nil {
		return nil, err
	}
	slog.Info("Added source", "id", id, "type", sourceType, "path", path)
	return &storage.Source{ID: id, Path: path, Type: sourceType}, nil
}

// SyncAll reconciles every source. A failing source is logged and skipped.
func (im *Importer) SyncAll(ctx context.Context) (Report, error) {
	slog.Info("Starting sync process for all sources...")
	sources, err := im.store.GetAllSources(ctx)
	if err != nil {
		return Report{}, err
	}
	if len(sources) == 0 {
		slog.Info("No sources configured. Add one with --add-source <path/or/url.git>")
		return Report{}, nil
	}

	var total Report
	for _, source := range sources {
		r, err := im.SyncSource(ctx, source)
		total.add(r)
		if err != nil {
			if ctx.Err() != nil {
				return total, ctx.Err()
			}
			slog.Error("Error syncing source", "id", source.ID, "path", source.Path, "error", err)
			total.Errors++
		}
	}
	slog.Info("Sync process complete.",
		"upserted", total.Upserted,
		"deleted", total.Deleted,
		"errors", total.Errors,
	)
	return total, nil
}

// SyncSource reconciles one source.
func (im *Importer) SyncSource(ctx context.Context, source storage.Source) (Report, error) {
	slog.Info("Syncing source", "id", source.ID, "type", source.Type, "path", source.Path)

	root := source.Path
	switch source.Type {
	case SourceLocal:
	case SourceGit:
		if im.git == nil {
			return Report{}, fmt.Errorf("git sources are not supported")
		}
		localPath, err := im.git.Sync(ctx, source.Path)
		if err != nil {
			return Report{}, err
		}
		root = localPath
	default:
		return Report{}, fmt.Errorf("unknown source type %q", source.Type)
	}
	return im.reconcile(ctx, source, root)
}

// reconcile upserts every card found below root and deletes the cards of
// the source that are no longer there.
func (im *Importer) reconcile(ctx context.Context, source storage.Source, root string) (Report, error) {
	var report Report
	now := im.now()
	found := make(map[string]bool)
	categories := make(map[string]bool)

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return fs.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(strings.ToLower(d.Name()), ".md") {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		entries, parseErr := parser.ParseFile(path)
		if parseErr != nil {
			slog.Warn("Failed to parse file", "path", path, "error", parseErr)
			report.Errors++
			return nil
		}

		for i, e := range entries {
			report.Parsed++
			externalID := fmt.Sprintf("%s#%d", filepath.ToSlash(rel), i+1)
			if err := im.validate.Struct(entryRules{
				Question:   e.Question,
				Answer:     e.Answer,
				Title:      e.Title,
				Difficulty: e.Difficulty,
				Tags:       e.Tags,
			}); err != nil {
				slog.Warn("Skipping invalid card", "card", externalID, "error", err)
				report.Errors++
				continue
			}

			card := toCard(e, source.Type, externalID)
			if found[card.ID] {
				slog.Warn("Skipping duplicate card", "card", externalID, "id", card.ID)
				continue
			}
			found[card.ID] = true

			if err := im.ensureCategories(ctx, e, categories); err != nil {
				return err
			}
			changed, err := im.upsert(ctx, card, source.ID, now)
			if err != nil {
				return err
			}
			if changed {
				report.Upserted++
			} else {
				report.Unchanged++
			}
		}
		return nil
	})
	if walkErr != nil {
		return report, fmt.Errorf("error walking directory %s: %w", root, walkErr)
	}

	existing, err := im.store.GetCardIDsBySource(ctx, source.ID)
	if err != nil {
		return report, err
	}
	for _, id := range existing {
		if found[id] {
			continue
		}
		slog.Info("Orphaned card, deleting", "id", id)
		if err := im.store.DeleteCard(ctx, id); err != nil {
			slog.Warn("Failed to delete orphaned card", "id", id, "error", err)
			report.Errors++
			continue
		}
		report.Deleted++
	}

	if err := im.store.UpdateSourceLastScanned(ctx, source.ID, now); err != nil {
		slog.Warn("Failed to update last scanned for source", "source_id", source.ID, "error", err)
	}

	slog.Info("reconciliation complete",
		"path", root,
		"parsed_cards", report.Parsed,
		"upserted", report.Upserted,
		"orphaned_deleted", report.Deleted,
		"errors", report.Errors,
	)
	return report, nil
}

// upsert writes card unless the catalog already holds the same content.
// Unchanged cards keep their update time so caches do not refetch them.
func (im *Importer) upsert(ctx context.Context, card domain.Card, sourceID int64, now time.Time) (bool, error) {
	existing, err := im.store.GetCard(ctx, card.ID)
	if err != nil {
		return false, err
	}
	card.CreatedAt, card.UpdatedAt = now, now
	if existing != nil {
		if sameContent(*existing, card) {
			return false, nil
		}
		card.CreatedAt = existing.CreatedAt
	}
	return true, im.store.UpsertCard(ctx, card, sourceID)
}

func (im *Importer) ensureCategories(ctx context.Context, e parser.Entry, seen map[string]bool) error {
	path, ok := e.CategoryPath()
	if !ok {
		return nil
	}
	id := ""
	for level, name := range path {
		parent := id
		id = categoryID(path[:level+1])
		if seen[id] {
			continue
		}
		err := im.store.UpsertCategory(ctx, domain.Category{
			ID:       id,
			Level:    level + 1,
			Name:     name,
			ParentID: parent,
		})
		if err != nil {
			return err
		}
		seen[id] = true
	}
	return nil
}

func toCard(e parser.Entry, sourceType, externalID string) domain.Card {
	card := domain.Card{
		ID:           knol.Hash(e),
		Title:        e.Title,
		Question:     e.Question,
		Answer:       e.Answer,
		QuestionType: domain.QuestionTechnical,
		Difficulty:   e.Difficulty,
		Tags:         e.Tags,
		Source:       sourceType,
		ExternalID:   externalID,
	}
	if card.Title == "" {
		card.Title = defaultTitle(e.Question)
	}
	if e.Context != "" {
		card.Answer = strings.TrimSpace(card.Answer + "\n\n" + e.Context)
	}
	if slices.Contains(e.Tags, string(domain.QuestionBehavioral)) {
		card.QuestionType = domain.QuestionBehavioral
	}
	if path, ok := e.CategoryPath(); ok {
		card.CategoryL1 = categoryID(path[:1])
		card.CategoryL2 = categoryID(path[:2])
		card.CategoryL3 = categoryID(path[:3])
	}
	return card
}

// categoryID is the slug path of a category, e.g. "backend/go".
func categoryID(path []string) string {
	parts := make([]string, len(path))
	for i, p := range path {
		parts[i] = strings.Join(strings.Fields(strings.ToLower(p)), "-")
	}
	return strings.Join(parts, "/")
}

// defaultTitle is the first line of the question, shortened.
func defaultTitle(question string) string {
	title, _, _ := strings.Cut(question, "\n")
	title = strings.TrimSpace(title)
	if r := []rune(title); len(r) > 80 {
		title = string(r[:77]) + "..."
	}
	return title
}

func sameContent(a, b domain.Card) bool {
	return a.Title == b.Title &&
		a.Question == b.Question &&
		a.Answer == b.Answer &&
		a.CategoryL1 == b.CategoryL1 &&
		a.CategoryL2 == b.CategoryL2 &&
		a.CategoryL3 == b.CategoryL3 &&
		a.QuestionType == b.QuestionType &&
		a.Difficulty == b.Difficulty &&
		slices.Equal(a.Tags, b.Tags) &&
		a.Source == b.Source &&
		a.ExternalID == b.ExternalID
}
