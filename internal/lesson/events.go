package lesson

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const dbTimeout = 5 * time.Second

// EventType names something the engine did to a learner's progress.
type EventType string

const (
	EventWatchReported         EventType = "watch_reported"
	EventDiagnosticsRecorded   EventType = "diagnostics_recorded"
	EventStateChanged          EventType = "state_changed"
	EventAugmentationsPlanned  EventType = "augmentations_planned"
	EventAugmentationCompleted EventType = "augmentation_completed"
	EventProgressReset         EventType = "progress_reset"
)

// Event is one entry in a learner's lesson history.
type Event struct {
	UserID    string
	LessonID  string
	EventType EventType
	Data      map[string]any
	CreatedAt time.Time
}

func (e Event) validate() error {
	switch {
	case e.EventType == "":
		return errors.New("event_type is required")
	case e.UserID == "" || e.LessonID == "":
		return fmt.Errorf("%s event: user_id and lesson_id are required", e.EventType)
	}
	return nil
}

func (e Event) stamped() Event {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	return e
}

// EventLogger records engine events. Failures never fail the engine call
// that produced the event.
type EventLogger interface {
	LogEvent(event Event) error
}

// NopEventLogger drops every event.
type NopEventLogger struct{}

func (NopEventLogger) LogEvent(Event) error { return nil }

// MemoryEventLogger keeps events in process, mainly for tests.
type MemoryEventLogger struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryEventLogger() *MemoryEventLogger {
	return &MemoryEventLogger{}
}

func (l *MemoryEventLogger) LogEvent(event Event) error {
	if err := event.validate(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event.stamped())
	return nil
}

// Events returns a copy of everything logged so far, oldest first.
func (l *MemoryEventLogger) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.events)
}

// OfType returns the logged events with the given type.
func (l *MemoryEventLogger) OfType(eventType EventType) []Event {
	return slices.DeleteFunc(l.Events(), func(e Event) bool {
		return e.EventType != eventType
	})
}

// PostgresEventLogger appends events to lesson_events.
type PostgresEventLogger struct {
	pool *pgxpool.Pool
}

func NewPostgresEventLogger(pool *pgxpool.Pool) *PostgresEventLogger {
	return &PostgresEventLogger{pool: pool}
}

const insertLessonEvent = `
INSERT INTO lesson_events (user_id, lesson_id, event_type, data, created_at)
VALUES ($1, $2, $3, $4::jsonb, $5)`

func (l *PostgresEventLogger) LogEvent(event Event) error {
	if l == nil || l.pool == nil {
		return errors.New("event logger pool is nil")
	}
	if err := event.validate(); err != nil {
		return err
	}
	event = event.stamped()

	data := []byte("{}")
	if len(event.Data) > 0 {
		var err error
		if data, err = json.Marshal(event.Data); err != nil {
			return fmt.Errorf("marshal %s data: %w", event.EventType, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	cmd, err := l.pool.Exec(ctx, insertLessonEvent,
		event.UserID, event.LessonID, string(event.EventType), string(data), event.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert %s event: %w", event.EventType, err)
	}
	if cmd.RowsAffected() != 1 {
		return fmt.Errorf("insert %s event: %d rows affected", event.EventType, cmd.RowsAffected())
	}

	slog.Debug("lesson event logged",
		"type", event.EventType,
		"user_id", event.UserID,
		"lesson_id", event.LessonID,
	)
	return nil
}
