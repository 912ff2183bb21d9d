// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// Status is the lifecycle state of a record. The set of values is fixed;
// a record can never hold a status outside this enumeration.
type Status string

const (
	StatusMdRetrieved             Status = "md_retrieved"
	StatusMdImported              Status = "md_imported"
	StatusMdPrepared              Status = "md_prepared"
	StatusMdProcessed             Status = "md_processed"
	StatusRevPrescreenIncluded    Status = "rev_prescreen_included"
	StatusRevPrescreenExcluded    Status = "rev_prescreen_excluded"
	StatusPdfImported             Status = "pdf_imported"
	StatusPdfNeedsManualRetrieval Status = "pdf_needs_manual_retrieval"
	StatusPdfPrepared             Status = "pdf_prepared"
	StatusRevIncluded             Status = "rev_included"
	StatusRevExcluded             Status = "rev_excluded"
	StatusRevSynthesized          Status = "rev_synthesized"
)

// AllStatuses lists every legal status in pipeline order.
var AllStatuses = []Status{
	StatusMdRetrieved,
	StatusMdImported,
	StatusMdPrepared,
	StatusMdProcessed,
	StatusRevPrescreenIncluded,
	StatusRevPrescreenExcluded,
	StatusPdfImported,
	StatusPdfNeedsManualRetrieval,
	StatusPdfPrepared,
	StatusRevIncluded,
	StatusRevExcluded,
	StatusRevSynthesized,
}

// Valid reports whether s is one of the defined statuses.
func (s Status) Valid() bool {
	for _, v := range AllStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Terminal reports whether s ends a record's active path. Terminal
// statuses are absorbing: only a logged reopen override leaves them.
func (s Status) Terminal() bool {
	switch s {
	case StatusRevPrescreenExcluded, StatusRevExcluded, StatusRevSynthesized:
		return true
	}
	return false
}

// AllowsCriteria reports whether a record at status s may carry screening
// criteria decisions. Criteria exist only at or beyond the screen stage.
func (s Status) AllowsCriteria() bool {
	switch s {
	case StatusRevIncluded, StatusRevExcluded, StatusRevSynthesized:
		return true
	}
	return false
}

// ScreeningDecision is one reviewer decision for one criterion.
type ScreeningDecision string

const (
	DecisionIn  ScreeningDecision = "in"
	DecisionOut ScreeningDecision = "out"
)

// ProvenanceNote records how, when, and by which endpoint a field was
// last set.
type ProvenanceNote struct {
	Endpoint  string    `json:"endpoint" yaml:"endpoint"`
	Actor     string    `json:"actor" yaml:"actor"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Note      string    `json:"note,omitempty" yaml:"note,omitempty"`
}

// Record is one bibliographic entry tracked through the review pipeline.
// Records are created during retrieval and never physically deleted;
// exclusion is a terminal status, not removal.
type Record struct {
	// ID is a stable identifier, unique within the store, assigned at
	// creation and never reused.
	ID string `json:"id" yaml:"id"`

	// Status is the current lifecycle state.
	Status Status `json:"status" yaml:"status"`

	// Origin lists provenance tags ("source/original-id") for every
	// search result that contributed to this record. Deduplication
	// merges accumulate the union of all contributing tags.
	Origin []string `json:"origin" yaml:"origin"`

	// Metadata maps bibliographic field names (title, author, year, …)
	// to values.
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	// ScreeningCriteria maps declared criterion names to decisions.
	// Populated only once the record reaches the screen stage.
	ScreeningCriteria map[string]ScreeningDecision `json:"screening_criteria,omitempty" yaml:"screening_criteria,omitempty"`

	// ProvenanceNotes maps field names to a note describing their last
	// mutation. The special key "status" tracks status changes.
	ProvenanceNotes map[string]ProvenanceNote `json:"provenance_notes,omitempty" yaml:"provenance_notes,omitempty"`
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	c := &Record{
		ID:     r.ID,
		Status: r.Status,
	}
	if r.Origin != nil {
		c.Origin = append([]string(nil), r.Origin...)
	}
	if r.Metadata != nil {
		c.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			c.Metadata[k] = v
		}
	}
	if r.ScreeningCriteria != nil {
		c.ScreeningCriteria = make(map[string]ScreeningDecision, len(r.ScreeningCriteria))
		for k, v := range r.ScreeningCriteria {
			c.ScreeningCriteria[k] = v
		}
	}
	if r.ProvenanceNotes != nil {
		c.ProvenanceNotes = make(map[string]ProvenanceNote, len(r.ProvenanceNotes))
		for k, v := range r.ProvenanceNotes {
			c.ProvenanceNotes[k] = v
		}
	}
	return c
}

// AddOrigin appends tag to the origin set, preserving order and
// skipping duplicates.
func (r *Record) AddOrigin(tag string) {
	for _, o := range r.Origin {
		if o == tag {
			return
		}
	}
	r.Origin = append(r.Origin, tag)
}
