package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/pdiddy/review-engine/internal/stage"
)

var retrieveCmd = &cobra.Command{
	Use:   "retrieve [files...]",
	Short: "Import search results into the review",
	Long: `Retrieve reads search-results YAML files and creates one record per
entry at md_retrieved. Entries already imported (matched by origin tag)
are skipped, so re-running retrieve on the same files is always safe.

With no arguments, every .yaml file under the project's data/search
directory is imported.`,
	RunE: runRetrieve,
}

func init() {
	rootCmd.AddCommand(retrieveCmd)
}

func runRetrieve(cmd *cobra.Command, args []string) error {
	cfg, log, err := openProject(cmd)
	if err != nil {
		return err
	}
	defer log.Store().Close()

	files := args
	if len(files) == 0 {
		files, err = filepath.Glob(filepath.Join(cfg.ProjectDir, "data", "search", "*.yaml"))
		if err != nil {
			return err
		}
		sort.Strings(files)
	}
	if len(files) == 0 {
		return fmt.Errorf("no search-results files found: pass file paths or place .yaml files under %s",
			filepath.Join(cfg.ProjectDir, "data", "search"))
	}

	total := 0
	for _, path := range files {
		summary, err := stage.ImportFile(cmd.Context(), log, path, cfg, os.Stdout)
		if err != nil {
			return fmt.Errorf("importing %s: %w", path, err)
		}
		fmt.Fprintf(os.Stdout, "%s: %d created, %d already known\n", path, summary.Created, summary.Skipped)
		total += summary.Created
	}
	fmt.Fprintf(os.Stdout, "Retrieved %d new record(s)\n", total)
	return nil
}
