package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pdiddy/review-engine/internal/review"
)

var undoCmd = &cobra.Command{
	Use:   "undo",
	Short: "Revert the working copy to an earlier commit",
	Long: `Undo reverts review state without rewriting history: the reverted
state is committed as a new operation, so the undo itself can be
undone.

  --to REF         restore the full record set as of REF
  --operation REF  revert only the changes REF made, keeping later work

Undoing a single operation is refused when later commits touched the
same records; use --to to roll everything back instead.`,
	RunE: runUndo,
}

func init() {
	undoCmd.Flags().String("to", "", "restore the record set as of this commit")
	undoCmd.Flags().String("operation", "", "revert only this commit's changes")

	rootCmd.AddCommand(undoCmd)
}

func runUndo(cmd *cobra.Command, args []string) error {
	to, _ := cmd.Flags().GetString("to")
	op, _ := cmd.Flags().GetString("operation")
	if (to == "") == (op == "") {
		return fmt.Errorf("provide exactly one of --to or --operation")
	}

	cfg, log, err := openProject(cmd)
	if err != nil {
		return err
	}
	defer log.Store().Close()

	if to != "" {
		c, err := review.Rollback(cmd.Context(), log, to, cfg, os.Stdout)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Restored state as of %s, committed %s\n", to, shortID(c.ID))
		return nil
	}

	c, err := review.UndoOperation(cmd.Context(), log, op, cfg, os.Stdout)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "Reverted %s, committed %s\n", op, shortID(c.ID))
	return nil
}
