package curriculum

import (
	"github.com/p-n-ai/pai-lessons/internal/augment"
	"github.com/p-n-ai/pai-lessons/internal/diagnostic"
	"github.com/p-n-ai/pai-lessons/internal/lessonflow"
)

// Lesson is a lesson runtime descriptor loaded from YAML.
type Lesson struct {
	ID                string                 `json:"id"`
	Title             string                 `json:"title,omitempty"`
	DurationSec       float64                `json:"duration_sec"`
	ThresholdPct      float64                `json:"threshold_pct,omitempty"`
	Objectives        []diagnostic.Objective `json:"objectives"`
	AugmentationRules []augment.Rule         `json:"augmentation_rules"`

	// Path is the file the lesson was loaded from.
	Path string `json:"-"`
}

// Runtime returns the view of the lesson the progression machine needs.
func (l Lesson) Runtime() lessonflow.Runtime {
	refs := make([]lessonflow.AugmentationRef, len(l.AugmentationRules))
	for i, r := range l.AugmentationRules {
		refs[i] = lessonflow.AugmentationRef{Targets: r.Targets}
	}
	return lessonflow.Runtime{DurationSec: l.DurationSec, Augmentations: refs}
}

// PlannerInput pairs the lesson's objectives and rules with diagnostics.
func (l Lesson) PlannerInput(diagnostics []diagnostic.Result) augment.Input {
	return augment.Input{
		Objectives:  l.Objectives,
		Diagnostics: diagnostics,
		Rules:       l.AugmentationRules,
	}
}

// Objective looks up an objective by ID.
func (l Lesson) Objective(id string) (diagnostic.Objective, bool) {
	for _, o := range l.Objectives {
		if o.ID == id {
			return o, true
		}
	}
	return diagnostic.Objective{}, false
}

// Issue is a problem found while loading a lesson file.
type Issue struct {
	Path string
	Err  error
}
