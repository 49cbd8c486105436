package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/p-n-ai/pai-lessons/internal/diagnostic"
)

const lessonYAML = `
id: L1
duration_sec: 600
objectives:
  - id: LO1
  - id: LO2
augmentation_rules:
  - targets: [LO1]
    when: "level < MET && score < 0.5"
    asset_ref: video://lo1
  - targets: [LO2]
    when: "level == PARTIAL"
    asset_ref: doc://lo2
`

func lessonDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
	}
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidate(t *testing.T) {
	dir := lessonDir(t, map[string]string{"l1.lesson.yaml": lessonYAML})

	out, err := run(t, "validate", "--dir", dir)
	if err != nil {
		t.Fatalf("validate error = %v\n%s", err, out)
	}
	if !strings.Contains(out, "ok      L1") {
		t.Errorf("output = %q, want ok line for L1", out)
	}
}

func TestValidate_ReportsInvalidFiles(t *testing.T) {
	dir := lessonDir(t, map[string]string{
		"l1.lesson.yaml":  lessonYAML,
		"bad.lesson.yaml": "id: B\n",
	})

	out, err := run(t, "validate", "--dir", dir)
	if err == nil {
		t.Fatal("expected error for invalid lesson file")
	}
	if !strings.Contains(out, "invalid") || !strings.Contains(out, "bad.lesson.yaml") {
		t.Errorf("output = %q, want invalid line naming bad.lesson.yaml", out)
	}
}

func TestPlan(t *testing.T) {
	dir := lessonDir(t, map[string]string{"l1.lesson.yaml": lessonYAML})

	out, err := run(t, "plan", "--dir", dir, "--lesson", "L1", "--diag", "LO1=NOT_MET:0.2", "--diag", "LO2=met")
	if err != nil {
		t.Fatalf("plan error = %v\n%s", err, out)
	}
	for _, want := range []string{
		"1 augmentation(s)",
		"LO1 -> video://lo1 (rule 0)",
		"rule[0] target[LO1]: fired",
		"rule[1] target[LO2]: skipped",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPlan_Errors(t *testing.T) {
	dir := lessonDir(t, map[string]string{"l1.lesson.yaml": lessonYAML})

	tests := []struct {
		name string
		args []string
	}{
		{"missing lesson flag", []string{"plan", "--dir", dir}},
		{"unknown lesson", []string{"plan", "--dir", dir, "--lesson", "nope"}},
		{"bad diag", []string{"plan", "--dir", dir, "--lesson", "L1", "--diag", "LO1"}},
		{"bad level", []string{"plan", "--dir", dir, "--lesson", "L1", "--diag", "LO1=GREAT"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := run(t, tt.args...); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestAudit_WritesWorkbook(t *testing.T) {
	dir := lessonDir(t, map[string]string{"l1.lesson.yaml": lessonYAML})
	path := filepath.Join(t.TempDir(), "audit.xlsx")

	out, err := run(t, "audit", "--dir", dir, "--lesson", "L1", "--out", path)
	if err != nil {
		t.Fatalf("audit error = %v\n%s", err, out)
	}
	if !strings.Contains(out, "L1: 2 rules") {
		t.Errorf("output = %q", out)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows("Trace")
	if err != nil {
		t.Fatalf("GetRows() error = %v", err)
	}
	if len(rows) < 2 {
		t.Errorf("trace rows = %d, want entries", len(rows))
	}
}

func TestParseDiagnostics(t *testing.T) {
	got, err := parseDiagnostics([]string{"LO1=partial:0.4", "LO2=MET"})
	if err != nil {
		t.Fatalf("parseDiagnostics() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Level != diagnostic.LevelPartial || got[0].Score == nil || *got[0].Score != 0.4 {
		t.Errorf("got[0] = %+v", got[0])
	}
	if got[1].Level != diagnostic.LevelMet || got[1].Score != nil {
		t.Errorf("got[1] = %+v", got[1])
	}

	if _, err := parseDiagnostics([]string{"LO1=MET:high"}); err == nil {
		t.Error("expected error for bad score")
	}
}
