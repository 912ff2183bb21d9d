package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/review-engine/internal/dispatch"
	"github.com/pdiddy/review-engine/internal/stage"
	"github.com/pdiddy/review-engine/internal/transition"
	"github.com/pdiddy/review-engine/pkg/types"
)

var runCmd = &cobra.Command{
	Use:   "run STAGE",
	Short: "Run one pipeline stage over eligible records",
	Long: `Run selects all records at the stage's input status, processes each
through the stage's endpoints, and commits the surviving transitions as
one operation. Records an endpoint fails on stay at their current
status and are listed in the summary; the rest of the batch proceeds.

Stages: ` + strings.Join(stage.Names(), ", ") + `.`,
	RunE: runStage,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runStage(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("provide exactly one stage name (one of: %s)", strings.Join(stage.Names(), ", "))
	}

	cfg, log, err := openProject(cmd)
	if err != nil {
		return err
	}
	defer log.Store().Close()

	stg, err := stage.Build(args[0], cfg)
	if err != nil {
		return err
	}

	eng := transition.NewEngine(cfg)
	report, err := dispatch.Run(cmd.Context(), log, eng, stg, cfg, os.Stdout)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "%s: %d succeeded, %d failed, %d unchanged\n",
		report.Stage, report.Succeeded, report.Failed, report.Unchanged)
	if report.CommitID != "" {
		fmt.Fprintf(os.Stdout, "Committed %s\n", shortID(report.CommitID))
	}

	if report.HasFailures() {
		for _, rr := range report.Records {
			if rr.Failed {
				fmt.Fprintf(os.Stdout, "  failed %s: %s\n", rr.ID, rr.Reason)
			}
		}
		return &types.PartialError{Operation: report.Stage, Failed: report.Failed}
	}
	return nil
}

// shortID abbreviates a commit hash for display.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
