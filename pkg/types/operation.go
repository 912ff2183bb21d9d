// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// Operation names for the change log. Pipeline stages use their stage
// name; maintenance actions use the constants below.
const (
	OpRetrieve     = "retrieve"
	OpMerge        = "merge"
	OpMergeResolve = "merge-resolve"
	OpUndo         = "undo"
	OpUndoOp       = "undo-operation"
	OpReopen       = "reopen"
)

// RecordFailure identifies one record that a batch operation could not
// process, with the endpoint's reason.
type RecordFailure struct {
	ID     string `json:"id" yaml:"id"`
	Reason string `json:"reason" yaml:"reason"`
}

// OperationRecord is the change-log metadata for one completed
// operation. Append-only: never edited once committed.
type OperationRecord struct {
	// Operation is the stage or maintenance action name.
	Operation string `json:"operation" yaml:"operation"`

	// Actor identifies who ran the operation ("Name <email>").
	Actor string `json:"actor" yaml:"actor"`

	// Timestamp is when the operation completed.
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`

	// Transitions counts applied transitions keyed "from -> to".
	Transitions map[string]int `json:"transitions,omitempty" yaml:"transitions,omitempty"`

	// Failed lists records the operation could not process.
	Failed []RecordFailure `json:"failed,omitempty" yaml:"failed,omitempty"`

	// Note carries operation-specific detail (undo target, merge
	// remote, reopen justification).
	Note string `json:"note,omitempty" yaml:"note,omitempty"`
}

// Commit is one node of the change-log DAG. Normal commits have one
// parent (none for the root), merge commits have two. The ID is a
// content hash over parents, operation record, and record-set hash.
type Commit struct {
	ID      string          `json:"id" yaml:"id"`
	Parents []string        `json:"parents,omitempty" yaml:"parents,omitempty"`
	Op      OperationRecord `json:"op" yaml:"op"`

	// SetHash is the content hash of the full record set at this
	// commit, used for tamper and corruption detection.
	SetHash string `json:"set_hash" yaml:"set_hash"`
}
