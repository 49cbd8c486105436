// Package httpapi exposes the lesson engine over HTTP and a WebSocket watch
// stream.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/p-n-ai/pai-lessons/internal/curriculum"
	"github.com/p-n-ai/pai-lessons/internal/lesson"
)

const readyTimeout = 2 * time.Second

// Catalog lists the lessons the service can serve.
type Catalog interface {
	Lesson(id string) (curriculum.Lesson, error)
	AllLessons() []curriculum.Lesson
}

// ReadyCheck reports whether a dependency is reachable.
type ReadyCheck func(ctx context.Context) error

// Config holds dependencies for the HTTP surface.
type Config struct {
	Engine  *lesson.Engine
	Lessons Catalog
	// Ready checks run on /readyz, keyed by dependency name.
	Ready   map[string]ReadyCheck
	Metrics bool
}

// Server routes HTTP requests to the lesson engine.
type Server struct {
	engine  *lesson.Engine
	lessons Catalog
	ready   map[string]ReadyCheck
	metrics bool
}

// New creates a Server.
func New(cfg Config) *Server {
	return &Server{
		engine:  cfg.Engine,
		lessons: cfg.Lessons,
		ready:   cfg.Ready,
		metrics: cfg.Metrics,
	}
}

// Handler returns the HTTP router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	if s.metrics {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	mux.HandleFunc("GET /v1/lessons", s.handleListLessons)
	mux.HandleFunc("GET /v1/lessons/{lessonID}", s.handleGetLesson)
	mux.HandleFunc("GET /v1/lessons/{lessonID}/audit.xlsx", s.handleAudit)

	mux.HandleFunc("GET /v1/lessons/{lessonID}/state", s.handleState)
	mux.HandleFunc("POST /v1/lessons/{lessonID}/progress", s.handleProgress)
	mux.HandleFunc("DELETE /v1/lessons/{lessonID}/progress", s.handleReset)
	mux.HandleFunc("POST /v1/lessons/{lessonID}/events", s.handleEvent)
	mux.HandleFunc("POST /v1/lessons/{lessonID}/diagnostics", s.handleDiagnostics)
	mux.HandleFunc("GET /v1/lessons/{lessonID}/plan", s.handlePlan)
	mux.HandleFunc("POST /v1/lessons/{lessonID}/augmentations/{augmentationID}/complete", s.handleCompleteAugmentation)
	mux.HandleFunc("GET /v1/lessons/{lessonID}/watch", s.handleWatch)
	return mux
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	failed := map[string]string{}
	for name, check := range s.ready {
		if err := check(ctx); err != nil {
			slog.Warn("readiness check failed", "dependency", name, "error", err)
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failed": failed})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}
