package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pdiddy/review-engine/internal/review"
)

var validateCmd = &cobra.Command{
	Use:   "validate [ref] [ref]",
	Short: "Check record invariants and show what an operation changed",
	Long: `Validate checks every record against the store invariants, then prints
a field-level diff between two commits. With no arguments it diffs the
last operation (HEAD~1 against HEAD). Refs are commit IDs, unique
prefixes, HEAD, or HEAD~N.`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	if len(args) != 0 && len(args) != 2 {
		return fmt.Errorf("provide zero or two refs")
	}

	_, log, err := openProject(cmd)
	if err != nil {
		return err
	}
	defer log.Store().Close()

	ctx := cmd.Context()
	st := log.Store()

	recs, err := st.Iterate(ctx)
	if err != nil {
		return err
	}
	bad := 0
	for _, rec := range recs {
		if err := st.CheckRecord(rec); err != nil {
			fmt.Fprintf(os.Stdout, "invalid record: %v\n", err)
			bad++
		}
	}
	if bad > 0 {
		return fmt.Errorf("%d record(s) violate store invariants", bad)
	}
	fmt.Fprintf(os.Stdout, "%d record(s) valid\n", len(recs))

	refA, refB := "HEAD~1", "HEAD"
	if len(args) == 2 {
		refA, refB = args[0], args[1]
	}

	head, err := st.Head(ctx)
	if err != nil {
		return err
	}
	if head == "" {
		return nil
	}
	if len(args) == 0 {
		// A lone root commit has nothing to diff against.
		c, err := st.GetCommit(ctx, head)
		if err != nil {
			return err
		}
		if len(c.Parents) == 0 {
			fmt.Fprintf(os.Stdout, "Head %s is the first operation (%s)\n", shortID(head), c.Op.Operation)
			return nil
		}
	}

	diffs, err := review.Diff(ctx, log, refA, refB)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "Changes %s -> %s:\n", refA, refB)
	review.FormatDiff(diffs, os.Stdout)
	return nil
}
