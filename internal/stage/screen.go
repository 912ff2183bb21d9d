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

const screenFile = "screen.yaml"

// ScreenSheet is the on-disk format for manual screening decisions,
// typically merged back from split bundles.
type ScreenSheet struct {
	Decisions map[string]map[string]types.ScreeningDecision `yaml:"decisions"`
}

// criteriaScreen applies reviewer decisions from the project's screen
// sheet. A record with every declared criterion decided "in" is
// included; any "out" excludes it. Records without a recorded decision
// fail and stay at pdf_prepared for the next run.
type criteriaScreen struct {
	decisions map[string]map[string]types.ScreeningDecision
}

func newCriteriaScreen(cfg types.ProjectConfig) (dispatch.Endpoint, error) {
	if len(cfg.Criteria) == 0 {
		return nil, fmt.Errorf("no screening criteria declared in the project configuration")
	}

	path := filepath.Join(cfg.ProjectDir, screenFile)
	sheet := ScreenSheet{Decisions: map[string]map[string]types.ScreeningDecision{}}
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &sheet); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	return &criteriaScreen{decisions: sheet.Decisions}, nil
}

func (*criteriaScreen) Name() string { return "criteria-screen" }

func (s *criteriaScreen) Process(_ context.Context, rec *types.Record, cfg types.ProjectConfig) (dispatch.Result, error) {
	if rec.Status != types.StatusPdfPrepared {
		return dispatch.Result{NoChange: true}, nil
	}

	decided, ok := s.decisions[rec.ID]
	if !ok {
		return dispatch.Result{}, fmt.Errorf("awaiting manual screening decision")
	}

	criteria := make(map[string]types.ScreeningDecision, len(cfg.Criteria))
	excluded := false
	for _, crit := range cfg.Criteria {
		decision, ok := decided[crit.Name]
		if !ok {
			return dispatch.Result{}, fmt.Errorf("criterion %q undecided", crit.Name)
		}
		if decision != types.DecisionIn && decision != types.DecisionOut {
			return dispatch.Result{}, fmt.Errorf("criterion %q has invalid decision %q", crit.Name, decision)
		}
		criteria[crit.Name] = decision
		if decision == types.DecisionOut {
			excluded = true
		}
	}

	target := types.StatusRevIncluded
	note := "met all screening criteria"
	if excluded {
		target = types.StatusRevExcluded
		note = "failed one or more screening criteria"
	}
	return dispatch.Result{
		Target:   target,
		Criteria: criteria,
		Note:     note,
	}, nil
}
