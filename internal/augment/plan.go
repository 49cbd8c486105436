// Package augment plans remediation ("augmentations") for a lesson from
// per-objective diagnostic results and authored rules.
//
// Each rule names the objectives it targets, a condition over the objective's
// diagnostic (a whenExpr such as `level < MET && score < 0.5`) and the asset
// to serve. Planning is pure: it returns the fired augmentations together with
// a trace that explains every decision, in rule-then-target order.
package augment

import (
	"fmt"

	"github.com/p-n-ai/pai-lessons/internal/diagnostic"
)

// Rule is an authored remediation rule.
type Rule struct {
	Targets  []string `json:"targets" yaml:"targets"`
	When     Expr     `json:"when" yaml:"when"`
	AssetRef string   `json:"asset_ref" yaml:"asset_ref"`
}

// NewRule compiles when and returns the rule.
func NewRule(when, assetRef string, targets ...string) Rule {
	return Rule{Targets: targets, When: Compile(when), AssetRef: assetRef}
}

// Augmentation is a fired rule for one objective.
type Augmentation struct {
	Objective  diagnostic.Objective `json:"objective"`
	AssetRef   string               `json:"asset_ref"`
	RuleIndex  int                  `json:"rule_index"`
	Diagnostic *diagnostic.Result   `json:"diagnostic,omitempty"`
}

// Outcome classifies a trace entry.
type Outcome string

const (
	OutcomeFired             Outcome = "fired"
	OutcomeObjectiveNotFound Outcome = "objective_not_found"
	OutcomeConditionFalse    Outcome = "condition_false"
)

// TraceEntry records the decision for one (rule, target) pair.
type TraceEntry struct {
	RuleIndex int     `json:"rule_index"`
	Target    string  `json:"target"`
	Outcome   Outcome `json:"outcome"`
	Reason    string  `json:"reason"`
}

// Fired reports whether the pair produced an augmentation.
func (t TraceEntry) Fired() bool {
	return t.Outcome == OutcomeFired
}

// String renders the entry as `rule[i] target[id]: fired|skipped - reason`.
func (t TraceEntry) String() string {
	verdict := "skipped"
	if t.Fired() {
		verdict = "fired"
	}
	return fmt.Sprintf("rule[%d] target[%s]: %s - %s", t.RuleIndex, t.Target, verdict, t.Reason)
}

// Input is everything the planner needs.
type Input struct {
	Objectives  []diagnostic.Objective
	Diagnostics []diagnostic.Result
	Rules       []Rule
}

// Plan is the planner output.
type Plan struct {
	Augmentations []Augmentation `json:"augmentations"`
	Trace         []TraceEntry   `json:"trace"`
}

// TraceLines returns the trace rendered as strings.
func (p Plan) TraceLines() []string {
	lines := make([]string, len(p.Trace))
	for i, t := range p.Trace {
		lines[i] = t.String()
	}
	return lines
}

// PlanAugmentations evaluates every rule against every target it names.
// Missing objectives, missing diagnostics and unsupported expressions skip
// the pair with a trace entry; they never stop the rest of the plan. The same
// objective may receive several augmentations.
func PlanAugmentations(in Input) Plan {
	objectives := make(map[string]diagnostic.Objective, len(in.Objectives))
	for _, o := range in.Objectives {
		if _, dup := objectives[o.ID]; !dup {
			objectives[o.ID] = o
		}
	}
	diagnostics := diagnostic.ByObjective(in.Diagnostics)

	plan := Plan{
		Augmentations: []Augmentation{},
		Trace:         []TraceEntry{},
	}
	for i, rule := range in.Rules {
		for _, target := range rule.Targets {
			entry := TraceEntry{RuleIndex: i, Target: target}

			obj, ok := objectives[target]
			if !ok {
				entry.Outcome = OutcomeObjectiveNotFound
				entry.Reason = "objective not found"
				plan.Trace = append(plan.Trace, entry)
				continue
			}

			var diag *diagnostic.Result
			if d, ok := diagnostics[target]; ok {
				diag = &d
			}

			if fired, reason := rule.When.Eval(diag); !fired {
				entry.Outcome = OutcomeConditionFalse
				entry.Reason = reason
				plan.Trace = append(plan.Trace, entry)
				continue
			}

			plan.Augmentations = append(plan.Augmentations, Augmentation{
				Objective:  obj,
				AssetRef:   rule.AssetRef,
				RuleIndex:  i,
				Diagnostic: diag,
			})
			entry.Outcome = OutcomeFired
			entry.Reason = firedReason(rule.When)
			plan.Trace = append(plan.Trace, entry)
		}
	}
	return plan
}

func firedReason(when Expr) string {
	if when.Always() {
		return "no condition"
	}
	return fmt.Sprintf("condition %q holds", when.Raw)
}
