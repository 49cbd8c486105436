package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/p-n-ai/pai-lessons/internal/audit"
	"github.com/p-n-ai/pai-lessons/internal/curriculum"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Run every rule against synthetic diagnostics and export the trace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, err := loadLessons(cmd)
			if err != nil {
				return err
			}

			lessons := loader.AllLessons()
			if id, _ := cmd.Flags().GetString("lesson"); id != "" {
				l, err := loader.Lesson(id)
				if err != nil {
					return err
				}
				lessons = []curriculum.Lesson{l}
			}

			reports := make([]audit.Report, 0, len(lessons))
			out := cmd.OutOrStdout()
			for _, l := range lessons {
				r := audit.Run(l)
				reports = append(reports, r)
				fmt.Fprintf(out, "%s: %d rules, %d findings\n", r.LessonID, r.Rules, len(r.Findings))
				for _, f := range r.Findings {
					if f.RuleIndex >= 0 {
						fmt.Fprintf(out, "  rule[%d] %s: %s\n", f.RuleIndex, f.Kind, f.Message)
					} else {
						fmt.Fprintf(out, "  objective[%s] %s: %s\n", f.Target, f.Kind, f.Message)
					}
				}
			}

			path, _ := cmd.Flags().GetString("out")
			if path == "" {
				return nil
			}
			f, err := os.Create(path)
			if err != nil {
				return fmt.Errorf("create workbook: %w", err)
			}
			if err := audit.WriteWorkbook(f, reports...); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("close workbook: %w", err)
			}
			fmt.Fprintf(out, "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().String("lesson", "", "Audit only this lesson ID")
	cmd.Flags().String("out", "", "Write an XLSX workbook to this path")
	return cmd
}
