package augment_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/p-n-ai/pai-lessons/internal/augment"
	"github.com/p-n-ai/pai-lessons/internal/diagnostic"
)

func result(level diagnostic.Level, score *float64) *diagnostic.Result {
	return &diagnostic.Result{ObjectiveID: "LO1", Level: level, Score: score}
}

func TestExpr_Eval(t *testing.T) {
	partial := result(diagnostic.LevelPartial, diagnostic.Score(0.4))

	tests := []struct {
		name string
		expr string
		diag *diagnostic.Result
		want bool
	}{
		{"empty always holds", "", nil, true},
		{"blank always holds", "   ", nil, true},
		{"level less", "level < MET", partial, true},
		{"level less false", "level < PARTIAL", partial, false},
		{"level less equal", "level <= PARTIAL", partial, true},
		{"level greater", "level > NOT_MET", partial, true},
		{"level greater equal", "level >= MET", partial, false},
		{"level equal", "level == PARTIAL", partial, true},
		{"level strict equal", "level === PARTIAL", partial, true},
		{"level single equal", "level = PARTIAL", partial, true},
		{"level not equal", "level != MET", partial, true},
		{"level strict not equal", "level !== PARTIAL", partial, false},
		{"quoted lowercase literal", `level == "partial"`, partial, true},
		{"single quoted literal", "level < 'met'", partial, true},
		{"field case insensitive", "LEVEL < MET", partial, true},
		{"no spaces", "level<MET", partial, true},
		{"score less", "score < 0.5", partial, true},
		{"score greater equal", "score >= 0.5", partial, false},
		{"score equal", "score == 0.4", partial, true},
		{"conjunction ampersand", "level < MET && score < 0.5", partial, true},
		{"conjunction AND", "level < MET AND score > 0.5", partial, false},
		{"conjunction and", "level < MET and score <= 0.4", partial, true},
		{"unknown level literal", "level < GREAT", partial, false},
		{"unsupported field", "attempts > 2", partial, false},
		{"unsupported operator", "level ~ MET", partial, false},
		{"invalid score literal", "score < half", partial, false},
		{"missing score", "score < 0.5", result(diagnostic.LevelNotMet, nil), false},
		{"missing diagnostic", "level < MET", nil, false},
		{"unrecognised diagnostic level", "level < MET", result(diagnostic.Level("GOOD"), nil), false},
		{"dangling conjunction", "level < MET &&", partial, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := augment.Compile(tt.expr).Eval(tt.diag)
			if got != tt.want {
				t.Errorf("Eval(%q) = %v (%s), want %v", tt.expr, got, reason, tt.want)
			}
			if !got && reason == "" {
				t.Errorf("Eval(%q) returned false without a reason", tt.expr)
			}
		})
	}
}

func TestExpr_Reasons(t *testing.T) {
	tests := []struct {
		expr string
		diag *diagnostic.Result
		want string
	}{
		{"level < MET", nil, "no diagnostic available for level"},
		{"score < 0.5", nil, "no diagnostic available for score"},
		{"level < GREAT", result(diagnostic.LevelMet, nil), "unknown level literal"},
		{"mood == happy", result(diagnostic.LevelMet, nil), "unsupported field"},
		{"score < 0.5", result(diagnostic.LevelMet, nil), "no numeric score"},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			_, reason := augment.Compile(tt.expr).Eval(tt.diag)
			if !strings.Contains(reason, tt.want) {
				t.Errorf("reason = %q, want it to contain %q", reason, tt.want)
			}
		})
	}
}

func TestExpr_Compile(t *testing.T) {
	expr := augment.Compile("level < MET && score<=0.25")
	if len(expr.Clauses) != 2 {
		t.Fatalf("len(Clauses) = %d, want 2", len(expr.Clauses))
	}
	if expr.Clauses[0].Field != augment.FieldLevel || expr.Clauses[0].Op != augment.OpLess || expr.Clauses[0].Literal != "MET" {
		t.Errorf("Clauses[0] = %+v", expr.Clauses[0])
	}
	if expr.Clauses[1].Field != augment.FieldScore || expr.Clauses[1].Op != augment.OpLessEqual || expr.Clauses[1].Literal != "0.25" {
		t.Errorf("Clauses[1] = %+v", expr.Clauses[1])
	}
}

func TestExpr_UnmarshalJSON(t *testing.T) {
	var rule augment.Rule
	if err := json.Unmarshal([]byte(`{"targets":["LO1"],"when":"level < MET","asset_ref":"video://r1"}`), &rule); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(rule.When.Clauses) != 1 {
		t.Fatalf("When not compiled: %+v", rule.When)
	}

	out, err := json.Marshal(rule)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(out), `"when":"level < MET"`) {
		t.Errorf("Marshal() = %s", out)
	}
}

func TestExpr_Problems(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{"", 0},
		{"level < MET && score < 0.5", 0},
		{"level == GREAT", 1},
		{"score < lots && mood == happy", 2},
		{"level < MET &&", 1},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got := augment.Compile(tt.raw).Problems()
			if len(got) != tt.want {
				t.Errorf("Problems() = %q, want %d problems", got, tt.want)
			}
		})
	}
}
