// Package progress persists per-(user, lesson) watch progress, diagnostics,
// the cached progression state and served augmentations.
//
// Watch updates are read-merge-write cycles. Every Store implementation runs
// them as one atomic unit per key, so concurrent reports from several devices
// never drop coverage.
package progress

import (
	"context"
	"errors"
	"math"
	"slices"
	"time"

	"github.com/p-n-ai/pai-lessons/internal/coverage"
	"github.com/p-n-ai/pai-lessons/internal/diagnostic"
	"github.com/p-n-ai/pai-lessons/internal/lessonflow"
)

// ErrNotFound is returned when no record exists for a key.
var ErrNotFound = errors.New("progress not found")

// Key identifies one learner's progress through one lesson.
type Key struct {
	UserID   string
	LessonID string
}

func (k Key) String() string {
	return k.UserID + "|" + k.LessonID
}

// Record is the persisted progress of a learner through a lesson.
type Record struct {
	UserID           string              `json:"user_id"`
	LessonID         string              `json:"lesson_id"`
	Segments         []coverage.Segment  `json:"segments"`
	UniqueSeconds    float64             `json:"unique_seconds"`
	ThresholdPct     float64             `json:"threshold_pct"`
	VideoEnded       bool                `json:"video_ended"`
	Diagnostics      []diagnostic.Result `json:"diagnostics"`
	DiagnosticSource diagnostic.Source   `json:"diagnostic_source,omitempty"`
	State            lessonflow.State    `json:"state"`
	CompletedAt      *time.Time          `json:"completed_at,omitempty"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// Key returns the record's key.
func (r *Record) Key() Key {
	return Key{UserID: r.UserID, LessonID: r.LessonID}
}

// WatchUpdate is a batch of newly reported watch segments.
type WatchUpdate struct {
	DurationSec  float64
	ThresholdPct float64 // used only when the record is created
	Segments     []coverage.Segment
	VideoEnded   bool
}

// AugmentationRecord is a planned augmentation as persisted for a learner.
type AugmentationRecord struct {
	ID          string     `json:"id"`
	RuleIndex   int        `json:"rule_index"`
	ObjectiveID string     `json:"objective_id"`
	AssetRef    string     `json:"asset_ref"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Done reports whether the learner has finished the augmentation.
func (a AugmentationRecord) Done() bool {
	return a.CompletedAt != nil
}

// Store persists lesson progress.
type Store interface {
	Get(ctx context.Context, key Key) (*Record, error)
	// RecordWatch merges segments into the stored coverage, creating the
	// record if needed. Coverage never shrinks.
	RecordWatch(ctx context.Context, key Key, update WatchUpdate) (*Record, error)
	// SaveDiagnostics stores results, replacing earlier results for the same
	// objectives.
	SaveDiagnostics(ctx context.Context, key Key, thresholdPct float64, source diagnostic.Source, results []diagnostic.Result) (*Record, error)
	// SaveState caches the derived state. Reaching COMPLETED stamps
	// CompletedAt once.
	SaveState(ctx context.Context, key Key, state lessonflow.State) (*Record, error)
	Reset(ctx context.Context, key Key) error

	// SyncAugmentations makes the stored set equal to planned: new entries
	// are added, missing ones deleted, and existing ones keep their
	// completion status. Returns the stored set in planned order.
	SyncAugmentations(ctx context.Context, key Key, planned []AugmentationRecord) ([]AugmentationRecord, error)
	ListAugmentations(ctx context.Context, key Key) ([]AugmentationRecord, error)
	CompleteAugmentation(ctx context.Context, key Key, id string, at time.Time) (AugmentationRecord, error)
}

func newRecord(key Key, thresholdPct float64, now time.Time) *Record {
	return &Record{
		UserID:       key.UserID,
		LessonID:     key.LessonID,
		Segments:     []coverage.Segment{},
		ThresholdPct: thresholdPct,
		Diagnostics:  []diagnostic.Result{},
		State:        lessonflow.Initial,
		UpdatedAt:    now,
	}
}

// applyWatch is the merge step shared by every store.
func applyWatch(rec *Record, update WatchUpdate, now time.Time) {
	rec.UpdatedAt = now
	if update.VideoEnded {
		rec.VideoEnded = true
	}
	// Without a usable duration nothing can be clipped; keep what we have.
	if math.IsNaN(update.DurationSec) || math.IsInf(update.DurationSec, 0) || update.DurationSec <= 0 {
		return
	}
	fresh := coverage.Sanitize(update.Segments, update.DurationSec)
	rec.Segments = coverage.MergeSegments(append(slices.Clone(rec.Segments), fresh...))
	rec.UniqueSeconds = coverage.UniqueSeconds(rec.Segments, update.DurationSec)
}

func applyDiagnostics(rec *Record, source diagnostic.Source, results []diagnostic.Result, now time.Time) {
	merged := slices.Clone(rec.Diagnostics)
	for _, r := range results {
		i := slices.IndexFunc(merged, func(d diagnostic.Result) bool { return d.ObjectiveID == r.ObjectiveID })
		if i >= 0 {
			merged[i] = r
			continue
		}
		merged = append(merged, r)
	}
	rec.Diagnostics = merged
	rec.DiagnosticSource = source
	rec.UpdatedAt = now
}

func applyState(rec *Record, state lessonflow.State, now time.Time) {
	rec.State = state
	if state == lessonflow.StateCompleted && rec.CompletedAt == nil {
		completed := now
		rec.CompletedAt = &completed
	}
	rec.UpdatedAt = now
}

func cloneRecord(rec *Record) *Record {
	out := *rec
	out.Segments = slices.Clone(rec.Segments)
	out.Diagnostics = slices.Clone(rec.Diagnostics)
	if rec.CompletedAt != nil {
		t := *rec.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}
