// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package stage

import (
	"context"
	"fmt"
	"strconv"

	"github.com/pdiddy/review-engine/internal/dispatch"
	"github.com/pdiddy/review-engine/pkg/types"
)

// scopePrescreen applies the configured review scope (publication year
// bounds) to prescreen records on metadata alone. Records inside the
// scope are included; records outside it are excluded with a note.
type scopePrescreen struct{}

func newScope(types.ProjectConfig) (dispatch.Endpoint, error) {
	return scopePrescreen{}, nil
}

func (scopePrescreen) Name() string { return "scope" }

func (scopePrescreen) Process(_ context.Context, rec *types.Record, cfg types.ProjectConfig) (dispatch.Result, error) {
	if rec.Status != types.StatusMdProcessed {
		return dispatch.Result{NoChange: true}, nil
	}

	bounded := cfg.Scope.YearMin > 0 || cfg.Scope.YearMax > 0
	if bounded {
		yearStr := rec.Metadata["year"]
		if yearStr == "" {
			return dispatch.Result{}, fmt.Errorf("year missing, cannot apply scope bounds")
		}
		year, err := strconv.Atoi(yearStr)
		if err != nil {
			return dispatch.Result{}, fmt.Errorf("unparseable year %q", yearStr)
		}
		if cfg.Scope.YearMin > 0 && year < cfg.Scope.YearMin {
			return dispatch.Result{
				Target: types.StatusRevPrescreenExcluded,
				Note:   fmt.Sprintf("published %d, before scope start %d", year, cfg.Scope.YearMin),
			}, nil
		}
		if cfg.Scope.YearMax > 0 && year > cfg.Scope.YearMax {
			return dispatch.Result{
				Target: types.StatusRevPrescreenExcluded,
				Note:   fmt.Sprintf("published %d, after scope end %d", year, cfg.Scope.YearMax),
			}, nil
		}
	}

	return dispatch.Result{
		Target: types.StatusRevPrescreenIncluded,
		Note:   "within review scope",
	}, nil
}
