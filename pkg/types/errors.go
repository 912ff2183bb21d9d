// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"fmt"
	"strings"
)

// IllegalTransitionError reports an attempted move outside the status
// lattice. Never retried automatically.
type IllegalTransitionError struct {
	RecordID string
	From     Status
	To       Status
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition for %s: %s -> %s", e.RecordID, e.From, e.To)
}

// EndpointFailureError reports that a pluggable stage implementation
// errored on one record. The batch continues past it.
type EndpointFailureError struct {
	RecordID string
	Endpoint string
	Reason   string
}

func (e *EndpointFailureError) Error() string {
	return fmt.Sprintf("endpoint %s failed on %s: %s", e.Endpoint, e.RecordID, e.Reason)
}

// FieldConflict holds two competing values for one field of one record.
type FieldConflict struct {
	Field  string `json:"field" yaml:"field"`
	Ours   string `json:"ours" yaml:"ours"`
	Theirs string `json:"theirs" yaml:"theirs"`
}

// RecordConflict describes one record that two branches mutated
// incompatibly.
type RecordConflict struct {
	RecordID     string          `json:"record_id" yaml:"record_id"`
	OursStatus   Status          `json:"ours_status" yaml:"ours_status"`
	TheirsStatus Status          `json:"theirs_status" yaml:"theirs_status"`
	Fields       []FieldConflict `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// MergeConflictError blocks the conflicting records until a human (or a
// configured merge policy) resolves them. No transition is applied
// unilaterally.
type MergeConflictError struct {
	Conflicts []RecordConflict
}

func (e *MergeConflictError) Error() string {
	ids := make([]string, len(e.Conflicts))
	for i, c := range e.Conflicts {
		ids[i] = c.RecordID
	}
	return fmt.Sprintf("merge conflict on %d record(s): %s", len(e.Conflicts), strings.Join(ids, ", "))
}

// UndoConflictError refuses a rollback whose target is causally
// invalidated by later history.
type UndoConflictError struct {
	CommitID   string
	Dependents []string
	RecordIDs  []string
}

func (e *UndoConflictError) Error() string {
	return fmt.Sprintf("cannot undo %s: %d later commit(s) depend on records %s",
		e.CommitID, len(e.Dependents), strings.Join(e.RecordIDs, ", "))
}

// CorruptionError reports a content-hash mismatch on load. Fatal: the
// store refuses to operate until repaired.
type CorruptionError struct {
	Path string
	Want string
	Got  string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("store corruption in %s: record-set hash %s does not match committed %s", e.Path, e.Got, e.Want)
}

// PartialError signals a batch that completed with per-record failures.
// The CLI maps it to the partial-success exit code.
type PartialError struct {
	Operation string
	Failed    int
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("%s: %d record(s) failed", e.Operation, e.Failed)
}
