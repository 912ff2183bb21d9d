// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package stage provides the built-in pipeline stage endpoints and the
// registry that binds configuration-declared endpoint names to
// implementations. Each endpoint fulfills the dispatch.Endpoint
// contract for one stage of the review pipeline.
package stage

import (
	"fmt"
	"sort"

	"github.com/pdiddy/review-engine/internal/dispatch"
	"github.com/pdiddy/review-engine/pkg/types"
)

// factory builds one endpoint from the project configuration.
type factory func(cfg types.ProjectConfig) (dispatch.Endpoint, error)

var factories = map[string]factory{
	"import":           newImport,
	"field-prep":       newFieldPrep,
	"crossref":         newCrossref,
	"exact-dedupe":     newExactDedupe,
	"scope":            newScope,
	"pdf-dir":          newPDFDir,
	"pdf-check":        newPDFCheck,
	"criteria-screen":  newCriteriaScreen,
	"export-synthesis": newSynthesis,
}

// def maps a stage name to its candidate input statuses and default
// endpoint chain.
type def struct {
	input    []types.Status
	serial   bool
	defaults []string
}

var stageDefs = map[string]def{
	"load": {
		input:    []types.Status{types.StatusMdRetrieved},
		defaults: []string{"import"},
	},
	"prep": {
		input:    []types.Status{types.StatusMdImported},
		defaults: []string{"field-prep"},
	},
	"dedupe": {
		input:    []types.Status{types.StatusMdPrepared},
		serial:   true, // the matcher keeps cross-record state
		defaults: []string{"exact-dedupe"},
	},
	"prescreen": {
		input:    []types.Status{types.StatusMdProcessed},
		defaults: []string{"scope"},
	},
	"pdf-get": {
		input: []types.Status{
			types.StatusRevPrescreenIncluded,
			types.StatusPdfNeedsManualRetrieval,
		},
		defaults: []string{"pdf-dir"},
	},
	"pdf-prep": {
		input:    []types.Status{types.StatusPdfImported},
		defaults: []string{"pdf-check"},
	},
	"screen": {
		input:    []types.Status{types.StatusPdfPrepared},
		defaults: []string{"criteria-screen"},
	},
	"synthesize": {
		input:    []types.Status{types.StatusRevIncluded},
		defaults: []string{"export-synthesis"},
	},
}

// Names returns the pipeline stage names in pipeline order.
func Names() []string {
	return []string{"load", "prep", "dedupe", "prescreen", "pdf-get", "pdf-prep", "screen", "synthesize"}
}

// EndpointNames returns all registered endpoint names, sorted.
func EndpointNames() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build assembles a stage from its definition, using the configured
// endpoint chain when cfg.Stages overrides the defaults.
func Build(name string, cfg types.ProjectConfig) (dispatch.Stage, error) {
	d, ok := stageDefs[name]
	if !ok {
		return dispatch.Stage{}, fmt.Errorf("unknown stage %q (stages: %v)", name, Names())
	}

	chain := d.defaults
	if override, ok := cfg.Stages[name]; ok && len(override) > 0 {
		chain = override
	}

	stage := dispatch.Stage{Name: name, Input: d.input, Serial: d.serial}
	for _, epName := range chain {
		f, ok := factories[epName]
		if !ok {
			return dispatch.Stage{}, fmt.Errorf("unknown endpoint %q for stage %s (endpoints: %v)", epName, name, EndpointNames())
		}
		ep, err := f(cfg)
		if err != nil {
			return dispatch.Stage{}, fmt.Errorf("building endpoint %s: %w", epName, err)
		}
		stage.Endpoints = append(stage.Endpoints, ep)
	}
	return stage, nil
}
