package lesson

import (
	"github.com/p-n-ai/pai-lessons/internal/augment"
	"github.com/p-n-ai/pai-lessons/internal/curriculum"
	"github.com/p-n-ai/pai-lessons/internal/diagnostic"
	"github.com/p-n-ai/pai-lessons/internal/lessonflow"
	"github.com/p-n-ai/pai-lessons/internal/progress"
)

// flowContext is the progression machine's view of a record.
func flowContext(l curriculum.Lesson, rec *progress.Record) lessonflow.Context {
	return lessonflow.Context{
		Runtime: l.Runtime(),
		Progress: lessonflow.Progress{
			UniqueSeconds: rec.UniqueSeconds,
			ThresholdPct:  rec.ThresholdPct,
		},
		Diagnostics: rec.Diagnostics,
	}
}

// facts replays the persisted facts of rec through the progression machine up
// to the point where augmentations matter. A stamped completion is final.
func facts(l curriculum.Lesson, rec *progress.Record) lessonflow.State {
	if rec.CompletedAt != nil {
		return lessonflow.StateCompleted
	}

	var events []lessonflow.Event
	if rec.VideoEnded {
		events = append(events, lessonflow.EventVideoEnded)
	}
	if len(rec.Diagnostics) > 0 {
		events = append(events, lessonflow.EventQuizSubmitted)
		if rec.DiagnosticSource == diagnostic.SourceChat {
			events = append(events, lessonflow.EventChatScored)
		} else {
			events = append(events, lessonflow.EventDiagnosticReady)
		}
	}
	return lessonflow.Replay(flowContext(l, rec), events...)
}

// settle applies AUGMENT_DONE once every assigned augmentation is complete.
// An empty assignment is trivially complete.
func settle(l curriculum.Lesson, rec *progress.Record, state lessonflow.State, augs []progress.AugmentationRecord) lessonflow.State {
	if state != lessonflow.StateAugmenting {
		return state
	}
	for _, a := range augs {
		if !a.Done() {
			return state
		}
	}
	return lessonflow.Transition(state, lessonflow.EventAugmentDone, flowContext(l, rec))
}

// assignments turns fired augmentations into records with stable IDs.
func assignments(lessonID string, plan augment.Plan) []progress.AugmentationRecord {
	out := make([]progress.AugmentationRecord, 0, len(plan.Augmentations))
	for _, a := range plan.Augmentations {
		out = append(out, progress.AugmentationRecord{
			ID:          AugmentationID(lessonID, a.RuleIndex, a.Objective.ID, a.AssetRef),
			RuleIndex:   a.RuleIndex,
			ObjectiveID: a.Objective.ID,
			AssetRef:    a.AssetRef,
		})
	}
	return out
}
