package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/conorfennell/knolprep/internal/config"
	"github.com/conorfennell/knolprep/internal/gitsource"
	"github.com/conorfennell/knolprep/internal/importer"
	"github.com/conorfennell/knolprep/internal/lists"
	"github.com/conorfennell/knolprep/internal/review"
	"github.com/conorfennell/knolprep/internal/session"
	"github.com/conorfennell/knolprep/internal/storage"
	"github.com/conorfennell/knolprep/internal/summarycache"
	"github.com/conorfennell/knolprep/internal/web"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("Fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	fs := pflag.NewFlagSet("knolprep", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	addSource := fs.String("add-source", "", "Add a new source (local path or git URL) and exit")
	syncOnly := fs.Bool("sync", false, "Sync all sources, refresh the cache and exit")
	rebuildCache := fs.Bool("rebuild-cache", false, "Drop the summary cache and sync it from scratch before serving")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(fs)
	if err != nil {
		return err
	}
	slog.SetDefault(cfg.Log.Logger(os.Stderr))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(ctx, storage.Dialect(cfg.Database.Driver), cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	slog.Info("Database opened successfully", "driver", cfg.Database.Driver)

	cache, err := summarycache.Open(ctx, cfg.Cache.Path, db, summarycache.Options{
		PageSize:  cfg.Cache.PageSize,
		Overrides: db,
	})
	if err != nil {
		return err
	}
	defer cache.Close()

	imp := importer.New(db, gitsource.Repos{BaseDir: cfg.Sources.ReposDir}, nil)

	switch {
	case *addSource != "":
		src, err := imp.AddSource(ctx, *addSource)
		if err != nil {
			return err
		}
		fmt.Printf("Successfully added source: %s (type %s)\n", src.Path, src.Type)
		return nil
	case *syncOnly:
		report, err := imp.SyncAll(ctx)
		if err != nil {
			return err
		}
		if err := refreshCache(ctx, cache, report.Deleted > 0); err != nil {
			return err
		}
		fmt.Printf("Parsed %d cards: %d upserted, %d unchanged, %d deleted, %d errors.\n",
			report.Parsed, report.Upserted, report.Unchanged, report.Deleted, report.Errors)
		return nil
	}

	if err := refreshCache(ctx, cache, *rebuildCache); err != nil {
		// A stale cache is still served.
		slog.Warn("Initial cache sync failed", "error", err)
	}

	sessions := session.NewStore(db, db, session.Options{Debounce: cfg.Session.Debounce})
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := sessions.Close(flushCtx); err != nil {
			slog.Error("Failed to flush sessions", "error", err)
		}
	}()

	server := web.NewServer(web.Deps{
		DB:       db,
		Cache:    cache,
		Review:   review.NewService(db, sessions, nil),
		Lists:    lists.NewService(db, nil),
		Importer: imp,
	}, web.Options{
		RateLimitRPS:   cfg.Server.RateLimit.RPS,
		RateLimitBurst: cfg.Server.RateLimit.Burst,
	})
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Starting server", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		slog.Info("Shutting down server")
		return httpServer.Shutdown(shutdownCtx)
	})
	if cfg.Cache.SyncInterval > 0 {
		g.Go(func() error {
			syncPeriodically(gctx, cache, cfg.Cache.SyncInterval)
			return nil
		})
	}
	return g.Wait()
}

func refreshCache(ctx context.Context, cache *summarycache.Cache, reset bool) error {
	if reset {
		slog.Info("Resetting summary cache")
		if err := cache.Reset(ctx); err != nil {
			return err
		}
	}
	n, err := cache.Sync(ctx)
	if err != nil {
		return err
	}
	slog.Info("Summary cache synced", "rows", n)
	return nil
}

func syncPeriodically(ctx context.Context, cache *summarycache.Cache, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := cache.Sync(ctx); err != nil {
				slog.Warn("Background cache sync failed", "error", err)
			} else if n > 0 {
				slog.Debug("Background cache sync", "rows", n)
			}
		}
	}
}
