// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package stage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/review-engine/internal/dispatch"
	"github.com/pdiddy/review-engine/pkg/types"
)

// synthesis exports each included record to the synthesis directory
// and marks it rev_synthesized. The export files are the hand-off to
// downstream data-extraction tooling.
type synthesis struct{}

func newSynthesis(types.ProjectConfig) (dispatch.Endpoint, error) {
	return synthesis{}, nil
}

func (synthesis) Name() string { return "export-synthesis" }

func (synthesis) Process(_ context.Context, rec *types.Record, cfg types.ProjectConfig) (dispatch.Result, error) {
	if rec.Status != types.StatusRevIncluded {
		return dispatch.Result{NoChange: true}, nil
	}

	outDir := cfg.OutputDir
	if outDir == "" {
		outDir = filepath.Join(cfg.ProjectDir, "output")
	}
	synthDir := filepath.Join(outDir, "synthesis")
	if err := os.MkdirAll(synthDir, 0o755); err != nil {
		return dispatch.Result{}, fmt.Errorf("creating synthesis directory: %w", err)
	}

	data, err := yaml.Marshal(rec)
	if err != nil {
		return dispatch.Result{}, fmt.Errorf("encoding record: %w", err)
	}
	path := filepath.Join(synthDir, rec.ID+".yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return dispatch.Result{}, fmt.Errorf("writing %s: %w", path, err)
	}

	return dispatch.Result{
		Target:   types.StatusRevSynthesized,
		Metadata: map[string]string{"synthesis_file": path},
		Note:     "exported for synthesis",
	}, nil
}
