package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/p-n-ai/pai-lessons/internal/curriculum"
	"github.com/p-n-ai/pai-lessons/internal/httpapi"
	"github.com/p-n-ai/pai-lessons/internal/lesson"
	"github.com/p-n-ai/pai-lessons/internal/platform/cache"
	"github.com/p-n-ai/pai-lessons/internal/platform/config"
	"github.com/p-n-ai/pai-lessons/internal/platform/database"
	"github.com/p-n-ai/pai-lessons/internal/platform/lock"
	"github.com/p-n-ai/pai-lessons/internal/progress"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(newLogger(cfg.Log, os.Stdout))

	// Graceful shutdown on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		slog.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	srv := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:      a.handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}

// app holds the wired service and the connections it must release.
type app struct {
	handler http.Handler
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// newApp wires lessons, persistence, locking and the HTTP surface. Without
// a database URL progress lives in memory; without a cache URL locking is
// process-local.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}

	loader, err := curriculum.NewLoader(cfg.Lessons.Path, cfg.Lessons.DefaultThreshold)
	if err != nil {
		return nil, err
	}
	for _, issue := range loader.Issues() {
		slog.Warn("lesson skipped", "path", issue.Path, "error", issue.Err)
	}

	engineCfg := lesson.EngineConfig{
		Lessons:          loader,
		DefaultThreshold: cfg.Lessons.DefaultThreshold,
	}
	ready := map[string]httpapi.ReadyCheck{}

	if cfg.HasDatabase() {
		db, err := database.New(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		a.closers = append(a.closers, db.Close)

		if err := db.Migrate(ctx); err != nil {
			a.Close()
			return nil, err
		}
		store, err := progress.NewPostgresStore(db.Pool)
		if err != nil {
			a.Close()
			return nil, err
		}
		engineCfg.Progress = store
		engineCfg.Events = lesson.NewPostgresEventLogger(db.Pool)
		ready["database"] = db.HealthCheck
		slog.Info("progress persisted in postgres")
	} else {
		slog.Warn("LEARN_DATABASE_URL not set, progress is kept in memory")
	}

	if cfg.HasCache() {
		c, err := cache.New(ctx, cfg.Cache.URL, cfg.Cache.LockTTL())
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect cache: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := c.Close(); err != nil {
				slog.Warn("failed to close cache", "error", err)
			}
		})
		engineCfg.Locker = c.Locker()
		ready["cache"] = c.HealthCheck
		slog.Info("progress locks shared through cache", "lock_ttl", cfg.Cache.LockTTL())
	} else {
		engineCfg.Locker = lock.NewLocal()
	}

	engine, err := lesson.NewEngine(engineCfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.handler = httpapi.New(httpapi.Config{
		Engine:  engine,
		Lessons: loader,
		Ready:   ready,
		Metrics: cfg.Metrics.Enabled,
	}).Handler()
	return a, nil
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
