// Command lessonctl checks lesson descriptor files while authoring them.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/p-n-ai/pai-lessons/internal/curriculum"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "lessonctl",
		Short:        "Validate and audit lesson descriptors",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if v, _ := cmd.Flags().GetBool("verbose"); v {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
		},
	}

	root.PersistentFlags().String("dir", envOr("LEARN_LESSONS_PATH", "./lessons"), "Lesson descriptor directory")
	root.PersistentFlags().Float64("default-threshold", 0.9, "threshold_pct for lessons that omit it")
	root.PersistentFlags().BoolP("verbose", "v", false, "Verbose logging")

	root.AddCommand(newValidateCmd())
	root.AddCommand(newAuditCmd())
	root.AddCommand(newPlanCmd())
	return root
}

// loadLessons loads the lesson directory named by --dir.
func loadLessons(cmd *cobra.Command) (*curriculum.Loader, error) {
	dir, _ := cmd.Flags().GetString("dir")
	threshold, _ := cmd.Flags().GetFloat64("default-threshold")
	if !(threshold > 0 && threshold <= 1) {
		return nil, fmt.Errorf("--default-threshold must be in (0, 1], got %v", threshold)
	}
	return curriculum.NewLoader(dir, threshold)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
