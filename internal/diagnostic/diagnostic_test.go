package diagnostic_test

import (
	"testing"

	"github.com/p-n-ai/pai-lessons/internal/diagnostic"
)

func TestLevel_Ordinal(t *testing.T) {
	tests := []struct {
		level  diagnostic.Level
		want   int
		wantOK bool
	}{
		{diagnostic.LevelNotMet, 0, true},
		{diagnostic.LevelPartial, 1, true},
		{diagnostic.LevelMet, 2, true},
		{diagnostic.Level("met"), 0, false},
		{diagnostic.Level(""), 0, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			got, ok := tt.level.Ordinal()
			if ok != tt.wantOK || (ok && got != tt.want) {
				t.Errorf("Ordinal() = %d, %v; want %d, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	for _, in := range []string{"met", " Partial ", "NOT_MET"} {
		if _, err := diagnostic.ParseLevel(in); err != nil {
			t.Errorf("ParseLevel(%q) error = %v", in, err)
		}
	}
	if _, err := diagnostic.ParseLevel("mastered"); err == nil {
		t.Error("ParseLevel(mastered) should fail")
	}
}

func TestByObjective_LaterWins(t *testing.T) {
	got := diagnostic.ByObjective([]diagnostic.Result{
		{ObjectiveID: "LO1", Level: diagnostic.LevelNotMet},
		{ObjectiveID: "LO2", Level: diagnostic.LevelMet},
		{ObjectiveID: "LO1", Level: diagnostic.LevelPartial},
	})
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got["LO1"].Level != diagnostic.LevelPartial {
		t.Errorf("LO1 level = %s, want PARTIAL", got["LO1"].Level)
	}
}
