// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package transition validates and applies record status transitions,
// enforcing the allowed-transition graph one record at a time.
package transition

import (
	"fmt"
	"time"

	"github.com/pdiddy/review-engine/pkg/types"
)

// successors is the fixed forward-transition graph. Statuses absent
// from the map (or mapped to nil) are absorbing.
var successors = map[types.Status][]types.Status{
	types.StatusMdRetrieved: {types.StatusMdImported},
	types.StatusMdImported:  {types.StatusMdPrepared},
	types.StatusMdPrepared:  {types.StatusMdProcessed},
	types.StatusMdProcessed: {
		types.StatusRevPrescreenIncluded,
		types.StatusRevPrescreenExcluded,
	},
	types.StatusRevPrescreenIncluded: {
		types.StatusPdfImported,
		types.StatusPdfNeedsManualRetrieval,
	},
	types.StatusPdfNeedsManualRetrieval: {types.StatusPdfImported},
	types.StatusPdfImported:             {types.StatusPdfPrepared},
	types.StatusPdfPrepared: {
		types.StatusRevIncluded,
		types.StatusRevExcluded,
	},
	types.StatusRevIncluded: {types.StatusRevSynthesized},
}

// Successors returns the legal direct successor statuses of s.
func Successors(s types.Status) []types.Status {
	return successors[s]
}

// Allowed reports whether from -> to is a legal direct transition.
func Allowed(from, to types.Status) bool {
	for _, s := range successors[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Reachable reports whether to can be reached from from by zero or
// more forward transitions.
func Reachable(from, to types.Status) bool {
	if from == to {
		return true
	}
	seen := map[types.Status]bool{from: true}
	queue := []types.Status{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range successors[cur] {
			if next == to {
				return true
			}
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}

// Proposal is one endpoint's proposed update for one record.
type Proposal struct {
	// Target is the status to move to. Must be a direct successor of
	// the record's current status.
	Target types.Status

	// Metadata holds field updates applied together with the status.
	Metadata map[string]string

	// Criteria holds screening decisions; only legal when Target
	// allows criteria and every key is a declared criterion.
	Criteria map[string]types.ScreeningDecision

	// Endpoint names the proposing endpoint, recorded in provenance.
	Endpoint string

	// Note is a free-form provenance annotation.
	Note string
}

// Engine applies proposals against the status lattice. Configuration
// is scoped to one operation invocation.
type Engine struct {
	cfg types.ProjectConfig
	now func() time.Time
}

// NewEngine returns an engine bound to one project configuration.
func NewEngine(cfg types.ProjectConfig) *Engine {
	return &Engine{cfg: cfg, now: time.Now}
}

// Apply validates p against rec and returns an updated deep copy.
// An empty Target is a metadata-only update: fields and provenance
// change, the status does not. The input record is never mutated, so a
// failed proposal leaves no partial update behind: status, metadata,
// and provenance move together or not at all.
func (e *Engine) Apply(rec *types.Record, p Proposal, actor string) (*types.Record, error) {
	target := p.Target
	if target == "" {
		target = rec.Status
	} else if !target.Valid() || !Allowed(rec.Status, target) {
		return nil, &types.IllegalTransitionError{RecordID: rec.ID, From: rec.Status, To: target}
	}
	if len(p.Criteria) > 0 {
		if !target.AllowsCriteria() {
			return nil, fmt.Errorf("record %s: screening criteria not allowed at status %s", rec.ID, target)
		}
		for name := range p.Criteria {
			if !e.cfg.CriterionDeclared(name) {
				return nil, fmt.Errorf("record %s: criterion %q is not declared in the project configuration", rec.ID, name)
			}
		}
	}

	updated := rec.Clone()
	e.stamp(updated, p, actor, updated.Status)
	updated.Status = target
	return updated, nil
}

// Reopen moves a record out of an absorbing status. It is a manual
// override, logged by the caller as a distinct operation, never a
// silent mutation. The target must be a status from which the current
// status is reachable (a true reopen, not a jump sideways).
func (e *Engine) Reopen(rec *types.Record, target types.Status, actor, justification string) (*types.Record, error) {
	if !target.Valid() || !Reachable(target, rec.Status) {
		return nil, &types.IllegalTransitionError{RecordID: rec.ID, From: rec.Status, To: target}
	}
	if justification == "" {
		return nil, fmt.Errorf("record %s: reopen requires a justification", rec.ID)
	}

	updated := rec.Clone()
	if updated.ProvenanceNotes == nil {
		updated.ProvenanceNotes = make(map[string]types.ProvenanceNote)
	}
	updated.ProvenanceNotes["status"] = types.ProvenanceNote{
		Endpoint:  types.OpReopen,
		Actor:     actor,
		Timestamp: e.now().UTC(),
		Note:      fmt.Sprintf("reopened from %s: %s", rec.Status, justification),
	}
	if !target.AllowsCriteria() {
		updated.ScreeningCriteria = nil
	}
	updated.Status = target
	return updated, nil
}

// stamp applies metadata, criteria, and provenance notes to the clone.
func (e *Engine) stamp(rec *types.Record, p Proposal, actor string, from types.Status) {
	ts := e.now().UTC()
	if rec.ProvenanceNotes == nil {
		rec.ProvenanceNotes = make(map[string]types.ProvenanceNote)
	}
	for field, value := range p.Metadata {
		if rec.Metadata == nil {
			rec.Metadata = make(map[string]string)
		}
		rec.Metadata[field] = value
		rec.ProvenanceNotes[field] = types.ProvenanceNote{
			Endpoint:  p.Endpoint,
			Actor:     actor,
			Timestamp: ts,
			Note:      p.Note,
		}
	}
	for name, decision := range p.Criteria {
		if rec.ScreeningCriteria == nil {
			rec.ScreeningCriteria = make(map[string]types.ScreeningDecision)
		}
		rec.ScreeningCriteria[name] = decision
	}
	if p.Target != "" {
		rec.ProvenanceNotes["status"] = types.ProvenanceNote{
			Endpoint:  p.Endpoint,
			Actor:     actor,
			Timestamp: ts,
			Note:      fmt.Sprintf("%s -> %s", from, p.Target),
		}
	}
}
