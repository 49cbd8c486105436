package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/p-n-ai/pai-lessons/internal/augment"
	"github.com/p-n-ai/pai-lessons/internal/diagnostic"
)

func newPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "plan",
		Short:   "Plan augmentations for a lesson from given diagnostics",
		Example: `  lessonctl plan --lesson L-ALG-01 --diag LO1=PARTIAL:0.4 --diag LO2=MET`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _ := cmd.Flags().GetString("lesson")
			if id == "" {
				return fmt.Errorf("--lesson is required")
			}
			args, _ = cmd.Flags().GetStringArray("diag")
			diags, err := parseDiagnostics(args)
			if err != nil {
				return err
			}

			loader, err := loadLessons(cmd)
			if err != nil {
				return err
			}
			l, err := loader.Lesson(id)
			if err != nil {
				return err
			}

			plan := augment.PlanAugmentations(l.PlannerInput(diags))
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d augmentation(s)\n", len(plan.Augmentations))
			for _, a := range plan.Augmentations {
				fmt.Fprintf(out, "  %s -> %s (rule %d)\n", a.Objective.ID, a.AssetRef, a.RuleIndex)
			}
			fmt.Fprintln(out, "trace:")
			for _, line := range plan.TraceLines() {
				fmt.Fprintf(out, "  %s\n", line)
			}
			return nil
		},
	}
	cmd.Flags().String("lesson", "", "Lesson ID")
	cmd.Flags().StringArray("diag", nil, "Diagnostic as OBJECTIVE=LEVEL[:SCORE], repeatable")
	return cmd
}

// parseDiagnostics parses OBJECTIVE=LEVEL[:SCORE] arguments.
func parseDiagnostics(args []string) ([]diagnostic.Result, error) {
	out := make([]diagnostic.Result, 0, len(args))
	for _, arg := range args {
		objective, rest, ok := strings.Cut(arg, "=")
		if !ok || objective == "" || rest == "" {
			return nil, fmt.Errorf("diagnostic %q: want OBJECTIVE=LEVEL[:SCORE]", arg)
		}
		levelText, scoreText, hasScore := strings.Cut(rest, ":")

		level, err := diagnostic.ParseLevel(levelText)
		if err != nil {
			return nil, fmt.Errorf("diagnostic %q: %w", arg, err)
		}
		r := diagnostic.Result{ObjectiveID: objective, Level: level}
		if hasScore {
			v, err := strconv.ParseFloat(scoreText, 64)
			if err != nil {
				return nil, fmt.Errorf("diagnostic %q: bad score: %w", arg, err)
			}
			r.Score = diagnostic.Score(v)
		}
		out = append(out, r)
	}
	return out, nil
}
