// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"fmt"
	"time"
)

// ActorConfig identifies the collaborator operating this working copy.
type ActorConfig struct {
	Name  string `json:"name" yaml:"name"`
	Email string `json:"email" yaml:"email"`
}

// String renders the actor as "Name <email>" for operation records.
func (a ActorConfig) String() string {
	if a.Email == "" {
		return a.Name
	}
	return fmt.Sprintf("%s <%s>", a.Name, a.Email)
}

// CriterionType distinguishes inclusion from exclusion criteria.
type CriterionType string

const (
	CriterionInclusion CriterionType = "inclusion"
	CriterionExclusion CriterionType = "exclusion"
)

// CriterionConfig declares one screening criterion. Records may only
// reference declared criteria.
type CriterionConfig struct {
	Name        string        `json:"name" yaml:"name"`
	Explanation string        `json:"explanation,omitempty" yaml:"explanation,omitempty"`
	Type        CriterionType `json:"type" yaml:"type"`
}

// MergePolicy selects how contradictory scalar field edits are resolved
// during a merge. The default requires manual resolution; newer-wins
// picks the side with the later provenance timestamp and records an
// explicit note.
type MergePolicy string

const (
	MergeManual    MergePolicy = "manual"
	MergeNewerWins MergePolicy = "newer-wins"
)

// MergeConfig holds merge resolver settings.
type MergeConfig struct {
	Policy MergePolicy `json:"policy" yaml:"policy"`
}

// DispatchConfig bounds pipeline-stage fan-out.
type DispatchConfig struct {
	// Workers is the worker-pool size for endpoint invocation
	// (default 4).
	Workers int `json:"workers" yaml:"workers"`

	// EndpointTimeout bounds one endpoint call on one record. On
	// timeout the record is reported as a stage failure (default 30s).
	EndpointTimeout time.Duration `json:"endpoint_timeout" yaml:"endpoint_timeout"`
}

// ScopeConfig bounds the prescreen scope rules.
type ScopeConfig struct {
	// YearMin and YearMax bound the publication year; zero disables
	// the bound.
	YearMin int `json:"year_min" yaml:"year_min"`
	YearMax int `json:"year_max" yaml:"year_max"`
}

// HTTPConfig holds shared HTTP settings for endpoints that make
// network requests.
type HTTPConfig struct {
	Timeout   time.Duration `json:"timeout" yaml:"timeout"`
	UserAgent string        `json:"user_agent" yaml:"user_agent"`

	// CrossrefPlusToken, when set, is sent as the Crossref-Plus-API-Token
	// header for subscribers to the Metadata Plus service.
	CrossrefPlusToken string `json:"-" yaml:"-"`
}

// ProjectConfig is the explicit per-invocation configuration passed to
// the dispatcher and transition engine. Its lifecycle is scoped to one
// operation; there is no ambient global state.
type ProjectConfig struct {
	// ProjectDir is the working-copy root (contains review.db,
	// screen.yaml, output/).
	ProjectDir string `json:"project_dir" yaml:"project_dir"`

	// PDFDir is where the pdf-get endpoint looks for "<id>.pdf".
	PDFDir string `json:"pdf_dir" yaml:"pdf_dir"`

	// OutputDir receives synthesis exports and split bundles.
	OutputDir string `json:"output_dir" yaml:"output_dir"`

	Actor    ActorConfig       `json:"actor" yaml:"actor"`
	Criteria []CriterionConfig `json:"criteria,omitempty" yaml:"criteria,omitempty"`
	Merge    MergeConfig       `json:"merge" yaml:"merge"`
	Dispatch DispatchConfig    `json:"dispatch" yaml:"dispatch"`
	Scope    ScopeConfig       `json:"scope" yaml:"scope"`
	HTTP     HTTPConfig        `json:"http" yaml:"http"`

	// Stages overrides the ordered endpoint names per stage. Stages
	// absent here use the built-in defaults.
	Stages map[string][]string `json:"stages,omitempty" yaml:"stages,omitempty"`
}

// CriterionDeclared reports whether name is a declared criterion.
func (c ProjectConfig) CriterionDeclared(name string) bool {
	for _, crit := range c.Criteria {
		if crit.Name == name {
			return true
		}
	}
	return false
}

// Normalize fills defaulted fields in place.
func (c *ProjectConfig) Normalize() {
	if c.ProjectDir == "" {
		c.ProjectDir = "."
	}
	if c.Dispatch.Workers <= 0 {
		c.Dispatch.Workers = 4
	}
	if c.Dispatch.EndpointTimeout <= 0 {
		c.Dispatch.EndpointTimeout = 30 * time.Second
	}
	if c.Merge.Policy == "" {
		c.Merge.Policy = MergeManual
	}
	if c.HTTP.Timeout <= 0 {
		c.HTTP.Timeout = 15 * time.Second
	}
	if c.HTTP.UserAgent == "" {
		c.HTTP.UserAgent = "review-engine/0.1"
	}
}
