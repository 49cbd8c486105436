package lesson

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	segmentsMerged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lesson_segments_merged_total",
		Help: "Watch segments accepted into progress records",
	})

	stateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lesson_state_transitions_total",
		Help: "Lesson progression state changes",
	}, []string{"from", "to"})

	augmentationsFired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lesson_augmentations_fired_total",
		Help: "Augmentations newly assigned to learners",
	})

	ruleSkips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lesson_rule_skips_total",
		Help: "Rule targets skipped during planning, by outcome",
	}, []string{"reason"})
)
