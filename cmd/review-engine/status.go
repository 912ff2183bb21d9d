package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/pdiddy/review-engine/pkg/types"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show record counts per status and the change-log head",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().Bool("log", false, "also print the change log, newest first")

	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	_, log, err := openProject(cmd)
	if err != nil {
		return err
	}
	defer log.Store().Close()

	ctx := cmd.Context()
	st := log.Store()

	counts, err := st.Count(ctx)
	if err != nil {
		return err
	}
	total := 0
	for _, s := range types.AllStatuses {
		n := counts[s]
		total += n
		if n == 0 {
			continue
		}
		fmt.Fprintf(os.Stdout, "  %-28s %d\n", s, n)
	}
	fmt.Fprintf(os.Stdout, "  %-28s %d\n", "total", total)

	head, err := st.Head(ctx)
	if err != nil {
		return err
	}
	if head == "" {
		fmt.Fprintln(os.Stdout, "No operations committed yet")
	} else {
		c, err := st.GetCommit(ctx, head)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Head: %s (%s by %s at %s)\n",
			shortID(head), c.Op.Operation, c.Op.Actor, c.Op.Timestamp.Format("2006-01-02 15:04:05"))
	}

	blocked, err := st.Blocked(ctx)
	if err != nil {
		return err
	}
	if len(blocked) > 0 {
		fmt.Fprintf(os.Stdout, "Blocked by merge conflicts: %d record(s). Resolve with 'review-engine merge --resolve ID=ours|theirs'.\n", len(blocked))
	}

	showLog, _ := cmd.Flags().GetBool("log")
	if showLog {
		commits, err := st.Commits(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout)
		for i := len(commits) - 1; i >= 0; i-- {
			c := commits[i]
			fmt.Fprintf(os.Stdout, "%s  %-16s %s  %s\n",
				shortID(c.ID), c.Op.Operation, c.Op.Timestamp.Format("2006-01-02 15:04"), c.Op.Actor)
			keys := make([]string, 0, len(c.Op.Transitions))
			for k := range c.Op.Transitions {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(os.Stdout, "    %s: %d\n", k, c.Op.Transitions[k])
			}
		}
	}
	return nil
}
