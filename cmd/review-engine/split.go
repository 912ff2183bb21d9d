package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/pdiddy/review-engine/internal/review"
	"github.com/pdiddy/review-engine/pkg/types"
)

var splitCmd = &cobra.Command{
	Use:   "split PARTS",
	Short: "Write round-robin record bundles for parallel screening",
	Long: `Split partitions the records awaiting screening into PARTS bundles and
writes them as YAML worksheets under the output directory. Record state
is unchanged; screening decisions flow back through the screen stage.`,
	RunE: runSplit,
}

func init() {
	splitCmd.Flags().String("status", string(types.StatusPdfPrepared), "status of the records to bundle")

	rootCmd.AddCommand(splitCmd)
}

func runSplit(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("provide the number of parts")
	}
	parts, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid part count %q", args[0])
	}
	statusFlag, _ := cmd.Flags().GetString("status")

	cfg, log, err := openProject(cmd)
	if err != nil {
		return err
	}
	defer log.Store().Close()

	outDir := filepath.Join(cfg.OutputDir, "splits")
	files, err := review.Split(cmd.Context(), log.Store(), types.Status(statusFlag), parts, outDir, os.Stdout)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "Wrote %d bundle(s) to %s\n", len(files), outDir)
	return nil
}
