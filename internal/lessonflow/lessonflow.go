// Package lessonflow is the lesson progression state machine. A learner moves
// from viewing the video, to assessment, to diagnosis, optionally through
// remediation, to completion.
//
// The machine is a pure function; callers recompute the current state from
// persisted progress and diagnostics rather than storing it.
package lessonflow

import (
	"github.com/p-n-ai/pai-lessons/internal/diagnostic"
)

// State is a lesson progression state.
type State string

const (
	StateViewing    State = "VIEWING"
	StateAssessing  State = "ASSESSING"
	StateDiagnosing State = "DIAGNOSING"
	StateAugmenting State = "AUGMENTING"
	StateCompleted  State = "COMPLETED"
)

// Initial is the state every lesson starts in.
const Initial = StateViewing

// Event drives a transition.
type Event string

const (
	EventVideoEnded      Event = "VIDEO_ENDED"
	EventQuizSubmitted   Event = "QUIZ_SUBMITTED"
	EventDiagnosticReady Event = "DIAGNOSTIC_READY"
	EventChatScored      Event = "CHAT_SCORED"
	EventAugmentDone     Event = "AUGMENT_DONE"
)

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateViewing, StateAssessing, StateDiagnosing, StateAugmenting, StateCompleted:
		return true
	}
	return false
}

// Valid reports whether e is a known event.
func (e Event) Valid() bool {
	switch e {
	case EventVideoEnded, EventQuizSubmitted, EventDiagnosticReady, EventChatScored, EventAugmentDone:
		return true
	}
	return false
}

// AugmentationRef is the part of an authored remediation rule the machine
// needs: which objectives it targets.
type AugmentationRef struct {
	Targets []string
}

// Runtime describes the lesson.
type Runtime struct {
	DurationSec   float64
	Augmentations []AugmentationRef
}

// Progress is the learner's watch progress.
type Progress struct {
	UniqueSeconds float64
	ThresholdPct  float64
}

// Context is everything the guards look at.
type Context struct {
	Runtime     Runtime
	Progress    Progress
	Diagnostics []diagnostic.Result
}

// Transition returns the state reached from state on event. Unknown events,
// events that do not apply to state, and failed guards leave the state
// unchanged. COMPLETED is absorbing.
func Transition(state State, event Event, ctx Context) State {
	switch state {
	case StateViewing:
		if event == EventVideoEnded && AssessmentAllowed(ctx) {
			return StateAssessing
		}
	case StateAssessing:
		if event == EventQuizSubmitted {
			return StateDiagnosing
		}
	case StateDiagnosing:
		if event == EventDiagnosticReady || event == EventChatScored {
			if NeedsAugmentation(ctx) {
				return StateAugmenting
			}
			return StateCompleted
		}
	case StateAugmenting:
		if event == EventAugmentDone {
			return StateCompleted
		}
	}
	return state
}

// AssessmentAllowed holds once the watched share of the video reaches the
// threshold. A missing or non-positive duration or threshold never unlocks
// assessment.
func AssessmentAllowed(ctx Context) bool {
	d := ctx.Runtime.DurationSec
	if !(d > 0) || !(ctx.Progress.ThresholdPct > 0) {
		return false
	}
	return ctx.Progress.UniqueSeconds/d >= ctx.Progress.ThresholdPct
}

// NeedsAugmentation holds when some objective is not yet MET and at least one
// authored rule targets it. Rules are checked for membership only.
func NeedsAugmentation(ctx Context) bool {
	if len(ctx.Diagnostics) == 0 || len(ctx.Runtime.Augmentations) == 0 {
		return false
	}

	targeted := make(map[string]bool)
	for _, a := range ctx.Runtime.Augmentations {
		for _, id := range a.Targets {
			targeted[id] = true
		}
	}

	for _, d := range ctx.Diagnostics {
		if d.Level != diagnostic.LevelMet && targeted[d.ObjectiveID] {
			return true
		}
	}
	return false
}

// CanStartAssessment reports whether VIDEO_ENDED would move state to ASSESSING.
func CanStartAssessment(state State, ctx Context) bool {
	return state == StateViewing && AssessmentAllowed(ctx)
}

// CanDiagnose reports whether a quiz submission is expected.
func CanDiagnose(state State) bool {
	return state == StateAssessing
}

// CanAugment reports whether diagnostics would route the learner to remediation.
func CanAugment(state State, ctx Context) bool {
	return state == StateDiagnosing && NeedsAugmentation(ctx)
}

// IsDone reports whether the lesson is complete.
func IsDone(state State) bool {
	return state == StateCompleted
}

// Replay applies events in order starting from Initial.
func Replay(ctx Context, events ...Event) State {
	state := Initial
	for _, e := range events {
		state = Transition(state, e, ctx)
	}
	return state
}
