// Package lesson ties coverage, progression and augmentation planning to
// persisted learner progress.
package lesson

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/p-n-ai/pai-lessons/internal/augment"
	"github.com/p-n-ai/pai-lessons/internal/coverage"
	"github.com/p-n-ai/pai-lessons/internal/curriculum"
	"github.com/p-n-ai/pai-lessons/internal/diagnostic"
	"github.com/p-n-ai/pai-lessons/internal/lessonflow"
	"github.com/p-n-ai/pai-lessons/internal/platform/lock"
	"github.com/p-n-ai/pai-lessons/internal/progress"
)

const defaultThreshold = 0.9

var (
	// ErrInvalidInput marks requests the engine refuses to apply.
	ErrInvalidInput = errors.New("invalid input")
	// ErrAugmentationNotFound is returned when completing an augmentation
	// the learner was never assigned.
	ErrAugmentationNotFound = errors.New("augmentation not found")
)

// LessonSource resolves lesson descriptors by ID.
type LessonSource interface {
	Lesson(id string) (curriculum.Lesson, error)
}

// EngineConfig holds dependencies for the lesson engine.
type EngineConfig struct {
	Lessons  LessonSource
	Progress progress.Store
	Events   EventLogger
	// Locker serialises operations per (user, lesson). Use a distributed
	// locker when several replicas share one store.
	Locker           lock.Locker
	DefaultThreshold float64 // for lessons without threshold_pct (default 0.9)
	Now              func() time.Time
}

// Engine applies learner activity to lesson progress.
type Engine struct {
	lessons          LessonSource
	progress         progress.Store
	events           EventLogger
	locker           lock.Locker
	defaultThreshold float64
	now              func() time.Time
}

// NewEngine creates a lesson engine. Lessons is required; every other
// dependency falls back to an in-process implementation.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Lessons == nil {
		return nil, fmt.Errorf("lesson source is required")
	}
	store := cfg.Progress
	if store == nil {
		store = progress.NewMemoryStore()
	}
	events := cfg.Events
	if events == nil {
		events = NopEventLogger{}
	}
	locker := cfg.Locker
	if locker == nil {
		locker = lock.NewLocal()
	}
	threshold := cfg.DefaultThreshold
	if threshold <= 0 || threshold > 1 {
		threshold = defaultThreshold
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		lessons:          cfg.Lessons,
		progress:         store,
		events:           events,
		locker:           locker,
		defaultThreshold: threshold,
		now:              now,
	}, nil
}

// ReportWatch merges newly watched segments into the learner's coverage. A
// segment reaching the end of the video counts as the video ending.
func (e *Engine) ReportWatch(ctx context.Context, userID, lessonID string, segments []coverage.Segment) (*Snapshot, error) {
	l, key, err := e.resolve(userID, lessonID)
	if err != nil {
		return nil, err
	}

	accepted := coverage.Sanitize(segments, l.DurationSec)
	ended := false
	for _, s := range accepted {
		if s.End >= l.DurationSec {
			ended = true
		}
	}

	return e.withLock(ctx, key, func(ctx context.Context) (*Snapshot, error) {
		rec, err := e.progress.RecordWatch(ctx, key, progress.WatchUpdate{
			DurationSec:  l.DurationSec,
			ThresholdPct: e.threshold(l),
			Segments:     accepted,
			VideoEnded:   ended,
		})
		if err != nil {
			return nil, fmt.Errorf("record watch: %w", err)
		}
		segmentsMerged.Add(float64(len(accepted)))

		e.logEvent(key, EventWatchReported, map[string]any{
			"segments":       len(accepted),
			"unique_seconds": rec.UniqueSeconds,
			"video_ended":    rec.VideoEnded,
		})
		return e.refresh(ctx, l, rec, false)
	})
}

// Advance applies a progression event. Quiz and scoring events are implied
// by RecordDiagnostics and leave progress unchanged here. AUGMENT_DONE
// completes every outstanding augmentation while the learner is augmenting.
func (e *Engine) Advance(ctx context.Context, userID, lessonID string, event lessonflow.Event) (*Snapshot, error) {
	if !event.Valid() {
		return nil, fmt.Errorf("%w: unknown event %q", ErrInvalidInput, event)
	}
	l, key, err := e.resolve(userID, lessonID)
	if err != nil {
		return nil, err
	}

	return e.withLock(ctx, key, func(ctx context.Context) (*Snapshot, error) {
		switch event {
		case lessonflow.EventVideoEnded:
			rec, err := e.progress.RecordWatch(ctx, key, progress.WatchUpdate{
				DurationSec:  l.DurationSec,
				ThresholdPct: e.threshold(l),
				VideoEnded:   true,
			})
			if err != nil {
				return nil, fmt.Errorf("record video end: %w", err)
			}
			return e.refresh(ctx, l, rec, false)

		case lessonflow.EventAugmentDone:
			rec, err := e.load(ctx, l, key)
			if err != nil {
				return nil, err
			}
			if rec.CompletedAt == nil && facts(l, rec) == lessonflow.StateAugmenting {
				augs, err := e.progress.ListAugmentations(ctx, key)
				if err != nil {
					return nil, fmt.Errorf("list augmentations: %w", err)
				}
				now := e.now()
				for _, a := range augs {
					if a.Done() {
						continue
					}
					if _, err := e.progress.CompleteAugmentation(ctx, key, a.ID, now); err != nil {
						return nil, fmt.Errorf("complete augmentation: %w", err)
					}
				}
			}
			return e.current(ctx, l, key)

		default:
			return e.current(ctx, l, key)
		}
	})
}

// RecordDiagnostics stores per-objective results from a quiz or a scored
// chat. A later result for an objective replaces the earlier one.
func (e *Engine) RecordDiagnostics(ctx context.Context, userID, lessonID string, source diagnostic.Source, results []diagnostic.Result) (*Snapshot, error) {
	if source == "" {
		source = diagnostic.SourceQuiz
	}
	results, err := normalizeDiagnostics(source, results)
	if err != nil {
		return nil, err
	}
	l, key, err := e.resolve(userID, lessonID)
	if err != nil {
		return nil, err
	}

	return e.withLock(ctx, key, func(ctx context.Context) (*Snapshot, error) {
		rec, err := e.progress.SaveDiagnostics(ctx, key, e.threshold(l), source, results)
		if err != nil {
			return nil, fmt.Errorf("save diagnostics: %w", err)
		}
		e.logEvent(key, EventDiagnosticsRecorded, map[string]any{
			"source":  string(source),
			"results": len(results),
		})
		return e.refresh(ctx, l, rec, true)
	})
}

// Plan runs the augmentation planner over the learner's current diagnostics
// and returns its full trace together with the reconciled snapshot.
func (e *Engine) Plan(ctx context.Context, userID, lessonID string) (augment.Plan, *Snapshot, error) {
	l, key, err := e.resolve(userID, lessonID)
	if err != nil {
		return augment.Plan{}, nil, err
	}

	var plan augment.Plan
	snap, err := e.withLock(ctx, key, func(ctx context.Context) (*Snapshot, error) {
		rec, err := e.load(ctx, l, key)
		if err != nil {
			return nil, err
		}
		plan = augment.PlanAugmentations(l.PlannerInput(rec.Diagnostics))
		if rec.UpdatedAt.IsZero() {
			return e.snapshot(l, rec, nil), nil
		}
		return e.refresh(ctx, l, rec, true)
	})
	if err != nil {
		return augment.Plan{}, nil, err
	}
	return plan, snap, nil
}

// CompleteAugmentation marks an assigned augmentation as served. Completing
// the last one finishes the lesson.
func (e *Engine) CompleteAugmentation(ctx context.Context, userID, lessonID, augmentationID string) (*Snapshot, error) {
	if augmentationID == "" {
		return nil, fmt.Errorf("%w: augmentation id is required", ErrInvalidInput)
	}
	l, key, err := e.resolve(userID, lessonID)
	if err != nil {
		return nil, err
	}

	return e.withLock(ctx, key, func(ctx context.Context) (*Snapshot, error) {
		a, err := e.progress.CompleteAugmentation(ctx, key, augmentationID, e.now())
		if err != nil {
			if errors.Is(err, progress.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrAugmentationNotFound, augmentationID)
			}
			return nil, fmt.Errorf("complete augmentation: %w", err)
		}
		e.logEvent(key, EventAugmentationCompleted, map[string]any{
			"augmentation_id": a.ID,
			"objective_id":    a.ObjectiveID,
			"asset_ref":       a.AssetRef,
		})
		return e.current(ctx, l, key)
	})
}

// Snapshot returns the learner's derived progress without changing it. A
// learner with no recorded activity gets a fresh VIEWING snapshot.
func (e *Engine) Snapshot(ctx context.Context, userID, lessonID string) (*Snapshot, error) {
	l, key, err := e.resolve(userID, lessonID)
	if err != nil {
		return nil, err
	}
	rec, err := e.load(ctx, l, key)
	if err != nil {
		return nil, err
	}
	augs, err := e.progress.ListAugmentations(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("list augmentations: %w", err)
	}
	return e.snapshot(l, rec, augs), nil
}

// Reset discards the learner's progress through a lesson.
func (e *Engine) Reset(ctx context.Context, userID, lessonID string) error {
	_, key, err := e.resolve(userID, lessonID)
	if err != nil {
		return err
	}
	_, err = e.withLock(ctx, key, func(ctx context.Context) (*Snapshot, error) {
		if err := e.progress.Reset(ctx, key); err != nil {
			return nil, fmt.Errorf("reset progress: %w", err)
		}
		e.logEvent(key, EventProgressReset, nil)
		return nil, nil
	})
	return err
}

// refresh derives the state for rec, reconciles assigned augmentations and
// caches the state when it changed. Callers hold the key lock.
func (e *Engine) refresh(ctx context.Context, l curriculum.Lesson, rec *progress.Record, observe bool) (*Snapshot, error) {
	key := rec.Key()
	state := facts(l, rec)

	stored, err := e.progress.ListAugmentations(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("list augmentations: %w", err)
	}

	augs := stored
	switch {
	case state == lessonflow.StateAugmenting:
		plan := augment.PlanAugmentations(l.PlannerInput(rec.Diagnostics))
		augs, err = e.progress.SyncAugmentations(ctx, key, assignments(l.ID, plan))
		if err != nil {
			return nil, fmt.Errorf("sync augmentations: %w", err)
		}
		e.observePlan(key, plan, stored, augs, observe)

	case rec.CompletedAt == nil && len(stored) > 0:
		// Diagnostics no longer call for remediation.
		augs, err = e.progress.SyncAugmentations(ctx, key, nil)
		if err != nil {
			return nil, fmt.Errorf("sync augmentations: %w", err)
		}
	}

	state = settle(l, rec, state, augs)
	if state != rec.State {
		from := rec.State
		rec, err = e.progress.SaveState(ctx, key, state)
		if err != nil {
			return nil, fmt.Errorf("save state: %w", err)
		}
		stateTransitions.WithLabelValues(string(from), string(state)).Inc()
		slog.Info("lesson state changed",
			"user_id", key.UserID,
			"lesson_id", key.LessonID,
			"from", from,
			"to", state,
		)
		e.logEvent(key, EventStateChanged, map[string]any{
			"from": string(from),
			"to":   string(state),
		})
	}
	return e.snapshot(l, rec, augs), nil
}

func (e *Engine) observePlan(key progress.Key, plan augment.Plan, before, after []progress.AugmentationRecord, observe bool) {
	known := make(map[string]bool, len(before))
	for _, a := range before {
		known[a.ID] = true
	}
	added := 0
	for _, a := range after {
		if !known[a.ID] {
			added++
		}
	}
	augmentationsFired.Add(float64(added))

	if observe {
		for _, t := range plan.Trace {
			if !t.Fired() {
				ruleSkips.WithLabelValues(string(t.Outcome)).Inc()
			}
		}
	}
	if added == 0 && len(before) == len(after) {
		return
	}

	slog.Info("augmentations planned",
		"user_id", key.UserID,
		"lesson_id", key.LessonID,
		"assigned", len(after),
		"added", added,
	)
	e.logEvent(key, EventAugmentationsPlanned, map[string]any{
		"assigned": len(after),
		"added":    added,
		"trace":    plan.TraceLines(),
	})
}

// current re-derives the snapshot from the stored record.
func (e *Engine) current(ctx context.Context, l curriculum.Lesson, key progress.Key) (*Snapshot, error) {
	rec, err := e.load(ctx, l, key)
	if err != nil {
		return nil, err
	}
	if rec.UpdatedAt.IsZero() {
		return e.snapshot(l, rec, nil), nil
	}
	return e.refresh(ctx, l, rec, false)
}

// load returns the stored record, or an unsaved fresh one (zero UpdatedAt)
// when the learner has not started the lesson.
func (e *Engine) load(ctx context.Context, l curriculum.Lesson, key progress.Key) (*progress.Record, error) {
	rec, err := e.progress.Get(ctx, key)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, progress.ErrNotFound) {
		return nil, fmt.Errorf("get progress: %w", err)
	}
	return &progress.Record{
		UserID:       key.UserID,
		LessonID:     key.LessonID,
		Segments:     []coverage.Segment{},
		ThresholdPct: e.threshold(l),
		Diagnostics:  []diagnostic.Result{},
		State:        lessonflow.Initial,
	}, nil
}

func (e *Engine) resolve(userID, lessonID string) (curriculum.Lesson, progress.Key, error) {
	if userID == "" {
		return curriculum.Lesson{}, progress.Key{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	l, err := e.lessons.Lesson(lessonID)
	if err != nil {
		return curriculum.Lesson{}, progress.Key{}, fmt.Errorf("resolve lesson: %w", err)
	}
	return l, progress.Key{UserID: userID, LessonID: lessonID}, nil
}

func (e *Engine) withLock(ctx context.Context, key progress.Key, fn func(context.Context) (*Snapshot, error)) (*Snapshot, error) {
	unlock, err := e.locker.Lock(ctx, key.String())
	if err != nil {
		return nil, fmt.Errorf("lock progress %s: %w", key, err)
	}
	defer unlock()
	return fn(ctx)
}

func (e *Engine) threshold(l curriculum.Lesson) float64 {
	if l.ThresholdPct > 0 && l.ThresholdPct <= 1 {
		return l.ThresholdPct
	}
	return e.defaultThreshold
}

func (e *Engine) logEvent(key progress.Key, eventType EventType, data map[string]any) {
	if err := e.events.LogEvent(Event{
		UserID:    key.UserID,
		LessonID:  key.LessonID,
		EventType: eventType,
		Data:      data,
		CreatedAt: e.now(),
	}); err != nil {
		slog.Warn("failed to log lesson event", "type", eventType, "error", err)
	}
}

// normalizeDiagnostics validates results and returns a copy with levels in
// canonical form, so "met" and "MET" are the same level.
func normalizeDiagnostics(source diagnostic.Source, results []diagnostic.Result) ([]diagnostic.Result, error) {
	if source != diagnostic.SourceQuiz && source != diagnostic.SourceChat {
		return nil, fmt.Errorf("%w: unknown diagnostic source %q", ErrInvalidInput, source)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("%w: no diagnostic results", ErrInvalidInput)
	}

	out := make([]diagnostic.Result, len(results))
	for i, r := range results {
		if r.ObjectiveID == "" {
			return nil, fmt.Errorf("%w: result %d has no objective id", ErrInvalidInput, i)
		}
		level, err := diagnostic.ParseLevel(string(r.Level))
		if err != nil {
			return nil, fmt.Errorf("%w: result %d: %v", ErrInvalidInput, i, err)
		}
		r.Level = level
		if r.Score != nil {
			v := *r.Score
			if math.IsNaN(v) || v < 0 || v > 1 {
				return nil, fmt.Errorf("%w: result %d score %v is outside [0, 1]", ErrInvalidInput, i, v)
			}
			r.Score = diagnostic.Score(v)
		}
		out[i] = r
	}
	return out, nil
}
