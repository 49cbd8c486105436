// Package diagnostic defines the mastery levels and per-objective results
// produced by quiz or chat scoring and consumed by the lesson engine.
package diagnostic

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Level is an assessed mastery level. Levels are totally ordered:
// NOT_MET < PARTIAL < MET.
type Level string

const (
	LevelNotMet  Level = "NOT_MET"
	LevelPartial Level = "PARTIAL"
	LevelMet     Level = "MET"
)

// Ordinal returns the position of l in the level order and false if l is
// not a known level.
func (l Level) Ordinal() (int, bool) {
	switch l {
	case LevelNotMet:
		return 0, true
	case LevelPartial:
		return 1, true
	case LevelMet:
		return 2, true
	}
	return 0, false
}

// Valid reports whether l is one of the known levels.
func (l Level) Valid() bool {
	_, ok := l.Ordinal()
	return ok
}

// ParseLevel accepts a level name in any case.
func ParseLevel(s string) (Level, error) {
	l := Level(cases.Upper(language.Und).String(strings.TrimSpace(s)))
	if !l.Valid() {
		return "", fmt.Errorf("unknown diagnostic level %q", s)
	}
	return l, nil
}

// Source identifies which scorer produced a result.
type Source string

const (
	SourceQuiz Source = "quiz"
	SourceChat Source = "chat"
)

// Result is the diagnostic outcome for one objective. Score, when present,
// lies in [0, 1].
type Result struct {
	ObjectiveID string   `json:"objective_id"`
	Level       Level    `json:"level"`
	Score       *float64 `json:"score,omitempty"`
}

// Objective is one assessable learning unit of a lesson.
type Objective struct {
	ID      string `json:"id" yaml:"id"`
	Summary string `json:"summary" yaml:"summary"`
}

// ByObjective indexes results by objective ID. Later entries win.
func ByObjective(results []Result) map[string]Result {
	out := make(map[string]Result, len(results))
	for _, r := range results {
		out[r.ObjectiveID] = r
	}
	return out
}

// Score returns a pointer to v, for building results inline.
func Score(v float64) *float64 {
	return &v
}
