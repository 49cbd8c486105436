package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load every lesson file and report problems",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, err := loadLessons(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			for _, l := range loader.AllLessons() {
				fmt.Fprintf(out, "ok      %s  %s (%d objectives, %d rules)\n",
					l.ID, l.Path, len(l.Objectives), len(l.AugmentationRules))
			}
			issues := loader.Issues()
			for _, issue := range issues {
				fmt.Fprintf(out, "invalid %s: %v\n", issue.Path, issue.Err)
			}

			if len(issues) > 0 {
				return fmt.Errorf("%d lesson file(s) failed validation", len(issues))
			}
			return nil
		},
	}
}
