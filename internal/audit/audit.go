// Package audit checks authored augmentation rules by running the planner
// against synthetic diagnostics and exporting the decisions to a workbook.
package audit

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/p-n-ai/pai-lessons/internal/augment"
	"github.com/p-n-ai/pai-lessons/internal/curriculum"
	"github.com/p-n-ai/pai-lessons/internal/diagnostic"
)

// Scenario is one synthetic diagnostic for one objective. A zero Level means
// the objective has no diagnostic at all.
type Scenario struct {
	ObjectiveID string
	Level       diagnostic.Level
	Score       *float64
}

// Label renders the scenario for humans.
func (s Scenario) Label() string {
	if s.Level == "" {
		return "no diagnostic"
	}
	if s.Score == nil {
		return string(s.Level)
	}
	return fmt.Sprintf("%s (%g)", s.Level, *s.Score)
}

// Case is the planner's decision for the rules targeting one scenario's
// objective.
type Case struct {
	Scenario Scenario
	Fired    []augment.Augmentation
	Trace    []augment.TraceEntry
}

// Finding kinds.
const (
	FindingNoTargets        = "no_targets"
	FindingUnknownObjective = "unknown_objective"
	FindingBadCondition     = "bad_condition"
	FindingNeverFires       = "never_fires"
	FindingUncovered        = "uncovered_objective"
)

// Finding is an authoring problem in a lesson's rules.
type Finding struct {
	Kind      string
	RuleIndex int // -1 when the finding is about an objective
	Target    string
	Message   string
}

// Report is the audit of one lesson.
type Report struct {
	LessonID string
	Title    string
	Rules    int
	Cases    []Case
	Findings []Finding
	// Fires counts, per rule index, the scenarios in which the rule fired.
	Fires map[int]int
}

var levels = []struct {
	level diagnostic.Level
	score float64
}{
	{diagnostic.LevelNotMet, 0},
	{diagnostic.LevelPartial, 0.5},
	{diagnostic.LevelMet, 1},
}

// Scenarios returns the synthetic diagnostics evaluated for an objective.
func Scenarios(objectiveID string) []Scenario {
	out := []Scenario{{ObjectiveID: objectiveID}}
	for _, l := range levels {
		out = append(out, Scenario{ObjectiveID: objectiveID, Level: l.level, Score: diagnostic.Score(l.score)})
	}
	return out
}

// Run audits the lesson's augmentation rules.
func Run(l curriculum.Lesson) Report {
	r := Report{
		LessonID: l.ID,
		Title:    l.Title,
		Rules:    len(l.AugmentationRules),
		Fires:    make(map[int]int, len(l.AugmentationRules)),
	}

	for _, o := range l.Objectives {
		for _, sc := range Scenarios(o.ID) {
			var diags []diagnostic.Result
			if sc.Level != "" {
				diags = []diagnostic.Result{{ObjectiveID: sc.ObjectiveID, Level: sc.Level, Score: sc.Score}}
			}
			plan := augment.PlanAugmentations(l.PlannerInput(diags))

			c := Case{Scenario: sc}
			for _, t := range plan.Trace {
				if t.Target == o.ID {
					c.Trace = append(c.Trace, t)
				}
			}
			for _, a := range plan.Augmentations {
				if a.Objective.ID == o.ID {
					c.Fired = append(c.Fired, a)
					r.Fires[a.RuleIndex]++
				}
			}
			r.Cases = append(r.Cases, c)
		}
	}

	r.Findings = findings(l, r.Fires)
	return r
}

func findings(l curriculum.Lesson, fires map[int]int) []Finding {
	var out []Finding
	targeted := make(map[string]bool)

	for i, rule := range l.AugmentationRules {
		if len(rule.Targets) == 0 {
			out = append(out, Finding{Kind: FindingNoTargets, RuleIndex: i, Message: "rule has no targets"})
		}
		for _, t := range rule.Targets {
			targeted[t] = true
			if _, ok := l.Objective(t); !ok {
				out = append(out, Finding{
					Kind:      FindingUnknownObjective,
					RuleIndex: i,
					Target:    t,
					Message:   fmt.Sprintf("target %q is not an objective of the lesson", t),
				})
			}
		}
		for _, p := range rule.When.Problems() {
			out = append(out, Finding{Kind: FindingBadCondition, RuleIndex: i, Message: p})
		}
		if fires[i] == 0 {
			out = append(out, Finding{
				Kind:      FindingNeverFires,
				RuleIndex: i,
				Message:   fmt.Sprintf("condition %q fires for no synthetic diagnostic", rule.When.Raw),
			})
		}
	}

	for _, o := range l.Objectives {
		if !targeted[o.ID] {
			out = append(out, Finding{
				Kind:      FindingUncovered,
				RuleIndex: -1,
				Target:    o.ID,
				Message:   "no rule targets this objective",
			})
		}
	}
	return out
}

// WriteWorkbook writes the reports as an XLSX workbook with a Summary sheet
// and a Trace sheet.
func WriteWorkbook(w io.Writer, reports ...Report) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetSummary); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(sheetTrace); err != nil {
		return fmt.Errorf("create trace sheet: %w", err)
	}

	if err := writeRows(f, sheetSummary, summaryRows(reports)); err != nil {
		return err
	}
	if err := writeRows(f, sheetTrace, traceRows(reports)); err != nil {
		return err
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

const (
	sheetSummary = "Summary"
	sheetTrace   = "Trace"
)

func summaryRows(reports []Report) [][]any {
	rows := [][]any{{"lesson_id", "title", "rule_index", "target", "kind", "message"}}
	for _, r := range reports {
		if len(r.Findings) == 0 {
			rows = append(rows, []any{r.LessonID, r.Title, "", "", "ok", fmt.Sprintf("%d rules, no findings", r.Rules)})
			continue
		}
		for _, f := range r.Findings {
			idx := any(f.RuleIndex)
			if f.RuleIndex < 0 {
				idx = ""
			}
			rows = append(rows, []any{r.LessonID, r.Title, idx, f.Target, f.Kind, f.Message})
		}
	}
	return rows
}

func traceRows(reports []Report) [][]any {
	rows := [][]any{{"lesson_id", "objective_id", "scenario", "rule_index", "outcome", "reason"}}
	for _, r := range reports {
		for _, c := range r.Cases {
			for _, t := range c.Trace {
				rows = append(rows, []any{r.LessonID, c.Scenario.ObjectiveID, c.Scenario.Label(), t.RuleIndex, string(t.Outcome), t.Reason})
			}
		}
	}
	return rows
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("cell name: %w", err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}
