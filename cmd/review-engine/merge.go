package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/review-engine/internal/merge"
)

var mergeCmd = &cobra.Command{
	Use:   "merge [remote.db]",
	Short: "Merge a collaborator's copy of the review",
	Long: `Merge three-way merges another copy of the review database into this
one, finding the common ancestor in the shared change log. Compatible
changes (one side advanced a record, disjoint field edits) merge
automatically; incompatible ones block the affected records until
resolved.

Resolve blocked records with --resolve ID=ours or --resolve ID=theirs.
With merge.policy set to newer-wins, conflicting field edits are
settled by timestamp instead of blocking.`,
	RunE: runMerge,
}

func init() {
	mergeCmd.Flags().StringSlice("resolve", nil, "resolve a blocked record: ID=ours or ID=theirs")

	rootCmd.AddCommand(mergeCmd)
}

func runMerge(cmd *cobra.Command, args []string) error {
	resolutions, _ := cmd.Flags().GetStringSlice("resolve")

	cfg, log, err := openProject(cmd)
	if err != nil {
		return err
	}
	defer log.Store().Close()

	if len(resolutions) > 0 {
		if len(args) != 0 {
			return fmt.Errorf("--resolve takes no remote argument")
		}
		for _, r := range resolutions {
			id, choice, ok := strings.Cut(r, "=")
			if !ok || (choice != "ours" && choice != "theirs") {
				return fmt.Errorf("invalid resolution %q: expected ID=ours or ID=theirs", r)
			}
			if err := merge.Resolve(cmd.Context(), log, id, choice, cfg, os.Stdout); err != nil {
				return err
			}
		}
		return nil
	}

	if len(args) != 1 {
		return fmt.Errorf("provide the path to the remote review database")
	}

	c, err := merge.Merge(cmd.Context(), log, args[0], cfg, os.Stdout)
	if err != nil {
		return err
	}
	if c != nil {
		fmt.Fprintf(os.Stdout, "Merged %s, head is %s\n", args[0], shortID(c.ID))
	}
	return nil
}
