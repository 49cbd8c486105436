package lesson

import (
	"time"

	"github.com/p-n-ai/pai-lessons/internal/coverage"
	"github.com/p-n-ai/pai-lessons/internal/curriculum"
	"github.com/p-n-ai/pai-lessons/internal/diagnostic"
	"github.com/p-n-ai/pai-lessons/internal/lessonflow"
	"github.com/p-n-ai/pai-lessons/internal/progress"
)

// Snapshot is the derived view of a learner's progress through a lesson.
type Snapshot struct {
	UserID             string              `json:"user_id"`
	LessonID           string              `json:"lesson_id"`
	State              lessonflow.State    `json:"state"`
	DurationSec        float64             `json:"duration_sec"`
	ThresholdPct       float64             `json:"threshold_pct"`
	UniqueSeconds      float64             `json:"unique_seconds"`
	CompletionRatio    float64             `json:"completion_ratio"`
	Segments           []coverage.Segment  `json:"segments"`
	VideoEnded         bool                `json:"video_ended"`
	CanStartAssessment bool                `json:"can_start_assessment"`
	CanDiagnose        bool                `json:"can_diagnose"`
	NeedsAugmentation  bool                `json:"needs_augmentation"`
	IsDone             bool                `json:"is_done"`
	Diagnostics        []diagnostic.Result `json:"diagnostics"`
	Augmentations      []Augmentation      `json:"augmentations"`
	CompletedAt        *time.Time          `json:"completed_at,omitempty"`
	UpdatedAt          *time.Time          `json:"updated_at,omitempty"`
}

// Augmentation is an assigned remediation asset.
type Augmentation struct {
	ID          string     `json:"id"`
	RuleIndex   int        `json:"rule_index"`
	ObjectiveID string     `json:"objective_id"`
	AssetRef    string     `json:"asset_ref"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Pending returns the augmentations not yet completed.
func (s *Snapshot) Pending() []Augmentation {
	var out []Augmentation
	for _, a := range s.Augmentations {
		if !a.Completed {
			out = append(out, a)
		}
	}
	return out
}

func (e *Engine) snapshot(l curriculum.Lesson, rec *progress.Record, augs []progress.AugmentationRecord) *Snapshot {
	ctx := flowContext(l, rec)
	state := rec.State
	if !state.Valid() {
		state = lessonflow.Initial
	}

	snap := &Snapshot{
		UserID:        rec.UserID,
		LessonID:      rec.LessonID,
		State:         state,
		DurationSec:   l.DurationSec,
		ThresholdPct:  rec.ThresholdPct,
		UniqueSeconds: rec.UniqueSeconds,
		CompletionRatio: coverage.CompletionRatio(coverage.RatioInput{
			DurationSec:   l.DurationSec,
			UniqueSeconds: rec.UniqueSeconds,
			ThresholdPct:  rec.ThresholdPct,
		}),
		Segments:           rec.Segments,
		VideoEnded:         rec.VideoEnded,
		CanStartAssessment: lessonflow.CanStartAssessment(state, ctx),
		CanDiagnose:        lessonflow.CanDiagnose(state),
		NeedsAugmentation:  lessonflow.NeedsAugmentation(ctx),
		IsDone:             lessonflow.IsDone(state),
		Diagnostics:        rec.Diagnostics,
		Augmentations:      make([]Augmentation, 0, len(augs)),
		CompletedAt:        rec.CompletedAt,
	}
	if snap.Segments == nil {
		snap.Segments = []coverage.Segment{}
	}
	if snap.Diagnostics == nil {
		snap.Diagnostics = []diagnostic.Result{}
	}
	if !rec.UpdatedAt.IsZero() {
		updated := rec.UpdatedAt
		snap.UpdatedAt = &updated
	}
	for _, a := range augs {
		snap.Augmentations = append(snap.Augmentations, Augmentation{
			ID:          a.ID,
			RuleIndex:   a.RuleIndex,
			ObjectiveID: a.ObjectiveID,
			AssetRef:    a.AssetRef,
			Completed:   a.Done(),
			CompletedAt: a.CompletedAt,
		})
	}
	return snap
}
