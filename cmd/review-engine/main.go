// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the review-engine CLI.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/review-engine/internal/history"
	"github.com/pdiddy/review-engine/internal/secrets"
	"github.com/pdiddy/review-engine/internal/store"
	"github.com/pdiddy/review-engine/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

// Exit codes. Success is 0; anything the caller can act on gets a
// distinct code.
const (
	exitPartial    = 1 // batch completed with failed records
	exitConflict   = 2 // merge or undo conflict requiring resolution
	exitCorruption = 3 // content-hash mismatch on load
)

// loadedSecrets holds API credentials loaded from .secrets/ at startup.
var loadedSecrets map[string]string

// rootCmd is the base command for the review-engine CLI.
var rootCmd = &cobra.Command{
	Use:   "review-engine",
	Short: "Collaborative literature-review record management",
	Long: `review-engine tracks bibliographic records through a fixed review
pipeline (load, prep, dedupe, prescreen, pdf-get, pdf-prep, screen,
synthesize). Every operation is committed to an append-only change log,
so collaborators can diff, merge, and undo each other's work without
silent data loss.

Recommended workflow: status > run STAGE > validate.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		s, err := secrets.Load(".secrets/")
		if err != nil {
			return err
		}
		loadedSecrets = s
		if len(s) > 0 {
			keys := make([]string, 0, len(s))
			for k := range s {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			fmt.Fprintf(os.Stderr, "Loaded secrets: %v\n", keys)
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./review-engine.yaml or ~/.config/review-engine/config.yaml)")
	rootCmd.PersistentFlags().String("project", ".", "project directory (contains review.db)")
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("review-engine")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "review-engine"))
		}
	}

	viper.SetEnvPrefix("REVIEW_ENGINE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// projectConfig assembles the explicit per-invocation configuration
// from flags, the config file, and the environment.
func projectConfig(cmd *cobra.Command) (types.ProjectConfig, error) {
	var cfg types.ProjectConfig

	cfg.ProjectDir, _ = cmd.Flags().GetString("project")
	if dir := viper.GetString("project_dir"); cfg.ProjectDir == "." && dir != "" {
		cfg.ProjectDir = dir
	}
	cfg.PDFDir = viper.GetString("pdf_dir")
	if cfg.PDFDir == "" {
		cfg.PDFDir = filepath.Join(cfg.ProjectDir, "data", "pdfs")
	}
	cfg.OutputDir = viper.GetString("output_dir")
	if cfg.OutputDir == "" {
		cfg.OutputDir = filepath.Join(cfg.ProjectDir, "output")
	}

	cfg.Actor.Name = viper.GetString("actor.name")
	cfg.Actor.Email = viper.GetString("actor.email")
	if cfg.Actor.Name == "" {
		cfg.Actor.Name = os.Getenv("USER")
	}
	if cfg.Actor.Name == "" {
		return cfg, fmt.Errorf("no actor configured: set actor.name in review-engine.yaml")
	}

	if err := viper.UnmarshalKey("criteria", &cfg.Criteria); err != nil {
		return cfg, fmt.Errorf("parsing criteria configuration: %w", err)
	}
	if err := viper.UnmarshalKey("stages", &cfg.Stages); err != nil {
		return cfg, fmt.Errorf("parsing stages configuration: %w", err)
	}

	cfg.Merge.Policy = types.MergePolicy(viper.GetString("merge.policy"))
	cfg.Dispatch.Workers = viper.GetInt("dispatch.workers")
	cfg.Dispatch.EndpointTimeout = viper.GetDuration("dispatch.endpoint_timeout")
	cfg.Scope.YearMin = viper.GetInt("scope.year_min")
	cfg.Scope.YearMax = viper.GetInt("scope.year_max")
	cfg.HTTP.Timeout = viper.GetDuration("http.timeout")
	cfg.HTTP.UserAgent = viper.GetString("http.user_agent")

	cfg.Normalize()
	// Crossref routes requests with a contact address to its polite pool.
	if email := loadedSecrets["crossref-email"]; email != "" {
		cfg.HTTP.UserAgent += fmt.Sprintf(" (mailto:%s)", email)
	}
	cfg.HTTP.CrossrefPlusToken = loadedSecrets["crossref-plus-token"]
	return cfg, nil
}

// openProject opens the working copy and wires the change log.
func openProject(cmd *cobra.Command) (types.ProjectConfig, *history.Log, error) {
	cfg, err := projectConfig(cmd)
	if err != nil {
		return cfg, nil, err
	}
	st, err := store.Open(cfg)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, history.New(st), nil
}

// exitCode maps the error taxonomy to process exit codes.
func exitCode(err error) int {
	var corruption *types.CorruptionError
	var mergeConflict *types.MergeConflictError
	var undoConflict *types.UndoConflictError

	switch {
	case errors.As(err, &corruption):
		return exitCorruption
	case errors.As(err, &mergeConflict), errors.As(err, &undoConflict):
		return exitConflict
	default:
		return exitPartial
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}
