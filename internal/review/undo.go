// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package review

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/pdiddy/review-engine/internal/history"
	"github.com/pdiddy/review-engine/internal/store"
	"github.com/pdiddy/review-engine/pkg/types"
)

// Rollback restores the record set to the snapshot at ref and appends
// a new commit recording the rollback. History is never truncated:
// the rollback itself is a forward-moving, auditable operation.
func Rollback(ctx context.Context, log *history.Log, ref string, cfg types.ProjectConfig, w io.Writer) (types.Commit, error) {
	target, err := log.Resolve(ctx, ref)
	if err != nil {
		return types.Commit{}, err
	}
	recs, err := log.Store().Snapshot(ctx, target)
	if err != nil {
		return types.Commit{}, err
	}
	op := types.OperationRecord{
		Operation: types.OpUndo,
		Actor:     cfg.Actor.String(),
		Timestamp: store.Now(),
		Note:      fmt.Sprintf("rolled back to %s", target),
	}
	commit, err := log.CommitReplace(ctx, op, recs)
	if err != nil {
		return types.Commit{}, err
	}
	fmt.Fprintf(w, "rolled back to %.8s (new commit %.8s, %d records)\n", target, commit.ID, len(recs))
	return commit, nil
}

// UndoOperation reverts the effect of one historical commit while
// keeping everything after it, equivalent to replaying all history
// except the targeted operation. It fails with UndoConflictError when
// later commits causally depend on the undone change (they touched the
// same records).
func UndoOperation(ctx context.Context, log *history.Log, ref string, cfg types.ProjectConfig, w io.Writer) (types.Commit, error) {
	st := log.Store()
	target, err := log.Resolve(ctx, ref)
	if err != nil {
		return types.Commit{}, err
	}
	c, err := st.GetCommit(ctx, target)
	if err != nil {
		return types.Commit{}, err
	}
	if len(c.Parents) == 0 {
		return types.Commit{}, fmt.Errorf("cannot undo the root commit; use a full rollback instead")
	}

	base, err := st.Snapshot(ctx, c.Parents[0])
	if err != nil {
		return types.Commit{}, err
	}
	targetSnap, err := st.Snapshot(ctx, target)
	if err != nil {
		return types.Commit{}, err
	}
	touched := changedIDs(base, targetSnap)
	if len(touched) == 0 {
		return types.Commit{}, fmt.Errorf("commit %.8s changed no records", target)
	}

	// Any descendant commit that touched one of the undone records
	// depends causally on the undone change. Commits adopted from
	// another branch during a merge sit later in insertion order but
	// are not descendants, so they cannot block the undo.
	commits, err := st.Commits(ctx)
	if err != nil {
		return types.Commit{}, err
	}

	var dependents []string
	depRecords := make(map[string]bool)
	for _, later := range commits {
		if later.ID == target || len(later.Parents) == 0 {
			continue
		}
		desc, err := log.Contains(ctx, later.ID, target)
		if err != nil {
			return types.Commit{}, err
		}
		if !desc {
			continue
		}
		parentSnap, err := st.Snapshot(ctx, later.Parents[0])
		if err != nil {
			return types.Commit{}, err
		}
		laterSnap, err := st.Snapshot(ctx, later.ID)
		if err != nil {
			return types.Commit{}, err
		}
		overlap := false
		for id := range changedIDs(parentSnap, laterSnap) {
			if touched[id] {
				overlap = true
				depRecords[id] = true
			}
		}
		if overlap {
			dependents = append(dependents, later.ID)
		}
	}
	if len(dependents) > 0 {
		ids := make([]string, 0, len(depRecords))
		for id := range depRecords {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		return types.Commit{}, &types.UndoConflictError{
			CommitID:   target,
			Dependents: dependents,
			RecordIDs:  ids,
		}
	}

	// Revert the touched records to their pre-operation versions.
	// Records the operation created disappear from the set; everything
	// else keeps its later state, which re-validates against the
	// lattice at the commit boundary.
	baseByID := make(map[string]*types.Record, len(base))
	for _, r := range base {
		baseByID[r.ID] = r
	}
	current, err := st.Iterate(ctx)
	if err != nil {
		return types.Commit{}, err
	}
	var result []*types.Record
	for _, rec := range current {
		if !touched[rec.ID] {
			result = append(result, rec)
			continue
		}
		if prev, ok := baseByID[rec.ID]; ok {
			result = append(result, prev.Clone())
		}
	}

	op := types.OperationRecord{
		Operation: types.OpUndoOp,
		Actor:     cfg.Actor.String(),
		Timestamp: store.Now(),
		Note:      fmt.Sprintf("undid operation %s (%s)", target, c.Op.Operation),
	}
	commit, err := log.CommitReplace(ctx, op, result)
	if err != nil {
		return types.Commit{}, err
	}
	fmt.Fprintf(w, "undid %.8s (%s), %d record(s) reverted\n", target, c.Op.Operation, len(touched))
	return commit, nil
}

// changedIDs returns the ids of records that differ between two
// snapshots, including records present in only one.
func changedIDs(before, after []*types.Record) map[string]bool {
	beforeByID := make(map[string]*types.Record, len(before))
	for _, r := range before {
		beforeByID[r.ID] = r
	}
	afterByID := make(map[string]*types.Record, len(after))
	for _, r := range after {
		afterByID[r.ID] = r
	}

	changed := make(map[string]bool)
	for id, a := range afterByID {
		b, ok := beforeByID[id]
		if !ok {
			changed[id] = true
			continue
		}
		bh, err1 := store.HashRecords([]*types.Record{b})
		ah, err2 := store.HashRecords([]*types.Record{a})
		if err1 != nil || err2 != nil || bh != ah {
			changed[id] = true
		}
	}
	for id := range beforeByID {
		if _, ok := afterByID[id]; !ok {
			changed[id] = true
		}
	}
	return changed
}
