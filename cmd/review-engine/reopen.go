package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pdiddy/review-engine/internal/store"
	"github.com/pdiddy/review-engine/internal/transition"
	"github.com/pdiddy/review-engine/pkg/types"
)

var reopenCmd = &cobra.Command{
	Use:   "reopen RECORD STATUS",
	Short: "Move a terminal record back to an earlier status",
	Long: `Reopen overrides a terminal decision (excluded, synthesized) and moves
the record back to an earlier status on its path. The override requires
a justification and is committed as its own logged operation.`,
	RunE: runReopen,
}

func init() {
	reopenCmd.Flags().String("reason", "", "justification for overriding the terminal decision (required)")

	rootCmd.AddCommand(reopenCmd)
}

func runReopen(cmd *cobra.Command, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("provide a record ID and a target status")
	}
	reason, _ := cmd.Flags().GetString("reason")

	cfg, log, err := openProject(cmd)
	if err != nil {
		return err
	}
	defer log.Store().Close()

	ctx := cmd.Context()
	st := log.Store()

	rec, err := st.Get(ctx, args[0])
	if err != nil {
		return err
	}

	eng := transition.NewEngine(cfg)
	updated, err := eng.Reopen(rec, types.Status(args[1]), cfg.Actor.String(), reason)
	if err != nil {
		return err
	}

	recs, err := st.Iterate(ctx)
	if err != nil {
		return err
	}
	for i, r := range recs {
		if r.ID == updated.ID {
			recs[i] = updated
		}
	}

	op := types.OperationRecord{
		Operation:   types.OpReopen,
		Actor:       cfg.Actor.String(),
		Timestamp:   store.Now(),
		Transitions: map[string]int{fmt.Sprintf("%s -> %s", rec.Status, updated.Status): 1},
		Note:        fmt.Sprintf("%s: %s", updated.ID, reason),
	}
	c, err := log.Commit(ctx, op, recs, []*types.Record{updated}, nil)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "Reopened %s at %s, committed %s\n", updated.ID, updated.Status, shortID(c.ID))
	return nil
}
