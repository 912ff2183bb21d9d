// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package merge reconciles two diverging change-log branches. Identical
// changes auto-merge; contradictory changes block the affected records
// with a structured conflict until a human or the configured policy
// resolves them. No transition is ever applied unilaterally.
package merge

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/pdiddy/review-engine/internal/history"
	"github.com/pdiddy/review-engine/internal/store"
	"github.com/pdiddy/review-engine/internal/transition"
	"github.com/pdiddy/review-engine/pkg/types"
)

// Merge reconciles the local working copy with the remote database at
// remotePath. Outcomes: already up to date (nil commit), fast-forward,
// a new two-parent merge commit, or MergeConflictError with the
// conflicting records blocked locally.
func Merge(ctx context.Context, log *history.Log, remotePath string, cfg types.ProjectConfig, w io.Writer) (*types.Commit, error) {
	st := log.Store()

	remote, err := store.OpenRemote(remotePath)
	if err != nil {
		return nil, err
	}
	defer remote.Close()

	localHead, err := st.Head(ctx)
	if err != nil {
		return nil, err
	}
	remoteHead, err := remote.Head(ctx)
	if err != nil {
		return nil, err
	}
	if remoteHead == "" {
		fmt.Fprintln(w, "remote history is empty, nothing to merge")
		return nil, nil
	}

	// Adopt the remote history nodes we are missing so parent pointers
	// resolve locally. Existing entries are never rewritten.
	if err := adoptCommits(ctx, st, remote); err != nil {
		return nil, err
	}

	if localHead == "" {
		return fastForward(ctx, log, remoteHead, cfg, w)
	}
	if ok, err := log.Contains(ctx, localHead, remoteHead); err != nil {
		return nil, err
	} else if ok {
		fmt.Fprintln(w, "already up to date")
		return nil, nil
	}
	if ok, err := log.Contains(ctx, remoteHead, localHead); err != nil {
		return nil, err
	} else if ok {
		return fastForward(ctx, log, remoteHead, cfg, w)
	}

	ancestor, err := log.CommonAncestor(ctx, localHead, remoteHead)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(w, "merging: base %.8s, ours %.8s, theirs %.8s\n", ancestor, localHead, remoteHead)

	base, err := st.Snapshot(ctx, ancestor)
	if err != nil {
		return nil, err
	}
	ours, err := st.Iterate(ctx)
	if err != nil {
		return nil, err
	}
	theirs, err := st.Snapshot(ctx, remoteHead)
	if err != nil {
		return nil, err
	}

	merged, conflicts := mergeSets(base, ours, theirs, cfg)

	if len(conflicts) > 0 {
		oursByID := byID(ours)
		theirsByID := byID(theirs)
		for _, rc := range conflicts {
			if err := st.BlockRecord(ctx, rc, oursByID[rc.RecordID], theirsByID[rc.RecordID]); err != nil {
				return nil, err
			}
			fmt.Fprintf(w, "conflict %s: ours %s, theirs %s\n", rc.RecordID, rc.OursStatus, rc.TheirsStatus)
		}
		return nil, &types.MergeConflictError{Conflicts: conflicts}
	}

	op := types.OperationRecord{
		Operation: types.OpMerge,
		Actor:     cfg.Actor.String(),
		Timestamp: store.Now(),
		Note:      fmt.Sprintf("merged %s", remotePath),
	}
	commit, err := log.CommitMerge(ctx, op, []string{localHead, remoteHead}, merged)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(w, "merge commit %.8s (%d records)\n", commit.ID, len(merged))
	return &commit, nil
}

// adoptCommits imports every remote commit (and snapshot) missing from
// the local store, oldest first.
func adoptCommits(ctx context.Context, st, remote *store.Store) error {
	commits, err := remote.Commits(ctx)
	if err != nil {
		return err
	}
	for _, c := range commits {
		ok, err := st.HasCommit(ctx, c.ID)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		blob, err := remote.SnapshotBlob(ctx, c.ID)
		if err != nil {
			return err
		}
		if err := st.ImportCommit(ctx, c, blob); err != nil {
			return err
		}
	}
	return nil
}

// fastForward moves the local store to the remote head snapshot and
// records the move as a forward commit.
func fastForward(ctx context.Context, log *history.Log, remoteHead string, cfg types.ProjectConfig, w io.Writer) (*types.Commit, error) {
	st := log.Store()
	recs, err := st.Snapshot(ctx, remoteHead)
	if err != nil {
		return nil, err
	}
	localHead, err := st.Head(ctx)
	if err != nil {
		return nil, err
	}
	op := types.OperationRecord{
		Operation: types.OpMerge,
		Actor:     cfg.Actor.String(),
		Timestamp: store.Now(),
		Note:      fmt.Sprintf("fast-forward to %.8s", remoteHead),
	}
	parents := []string{remoteHead}
	if localHead != "" && localHead != remoteHead {
		parents = []string{localHead, remoteHead}
	}
	commit, err := log.CommitMerge(ctx, op, parents, recs)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(w, "fast-forwarded to %.8s\n", remoteHead)
	return &commit, nil
}

// mergeSets performs the three-way record merge. The result is
// deterministic in the record sets alone, so merging A-then-B equals
// B-then-A whenever no record was touched by both branches.
func mergeSets(base, ours, theirs []*types.Record, cfg types.ProjectConfig) ([]*types.Record, []types.RecordConflict) {
	baseByID := byID(base)
	oursByID := byID(ours)
	theirsByID := byID(theirs)

	ids := make(map[string]bool)
	for id := range oursByID {
		ids[id] = true
	}
	for id := range theirsByID {
		ids[id] = true
	}
	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	var merged []*types.Record
	var conflicts []types.RecordConflict

	for _, id := range sorted {
		b := baseByID[id]
		o := oursByID[id]
		t := theirsByID[id]

		switch {
		case o == nil:
			merged = append(merged, t.Clone())
		case t == nil:
			merged = append(merged, o.Clone())
		case !changed(b, o):
			merged = append(merged, t.Clone())
		case !changed(b, t):
			merged = append(merged, o.Clone())
		default:
			rec, rc := mergeRecord(b, o, t, cfg)
			if rc != nil {
				conflicts = append(conflicts, *rc)
				continue
			}
			merged = append(merged, rec)
		}
	}
	return merged, conflicts
}

func byID(recs []*types.Record) map[string]*types.Record {
	m := make(map[string]*types.Record, len(recs))
	for _, r := range recs {
		m[r.ID] = r
	}
	return m
}

// changed reports whether rec differs from its base version.
func changed(base, rec *types.Record) bool {
	if base == nil {
		return true
	}
	bh, err1 := store.HashRecords([]*types.Record{base})
	rh, err2 := store.HashRecords([]*types.Record{rec})
	if err1 != nil || err2 != nil {
		return true
	}
	return bh != rh
}

// mergeRecord reconciles one record both branches changed. A status
// moved on one side only is adopted; when both sides moved, same-path
// advancement keeps the further status, but a terminal status never
// overrides the other side's differing decision. Everything else is a
// hard conflict. Field edits merge by base comparison, with
// contradictory scalars decided by the configured policy.
func mergeRecord(base, ours, theirs *types.Record, cfg types.ProjectConfig) (*types.Record, *types.RecordConflict) {
	status, ok := mergeStatus(base, ours, theirs)
	if !ok {
		return nil, &types.RecordConflict{
			RecordID:     ours.ID,
			OursStatus:   ours.Status,
			TheirsStatus: theirs.Status,
		}
	}

	winner := ours
	if status == theirs.Status && status != ours.Status {
		winner = theirs
	}
	merged := winner.Clone()
	merged.Status = status

	// Union of provenance origins, ours first.
	for _, tag := range theirs.Origin {
		merged.AddOrigin(tag)
	}
	for _, tag := range ours.Origin {
		merged.AddOrigin(tag)
	}

	var fieldConflicts []types.FieldConflict
	fields := make(map[string]bool)
	for k := range ours.Metadata {
		fields[k] = true
	}
	for k := range theirs.Metadata {
		fields[k] = true
	}
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, field := range names {
		ov, oOK := ours.Metadata[field]
		tv, tOK := theirs.Metadata[field]
		var bv string
		if base != nil {
			bv = base.Metadata[field]
		}

		switch {
		case oOK && tOK && ov == tv:
			setField(merged, field, ov, ours)
		case !tOK, ov != bv && tv == bv:
			setField(merged, field, ov, ours)
		case !oOK, tv != bv && ov == bv:
			setField(merged, field, tv, theirs)
		default:
			// Both sides edited the field to different values.
			if cfg.Merge.Policy == types.MergeNewerWins {
				val, src := ov, ours
				if theirs.ProvenanceNotes[field].Timestamp.After(ours.ProvenanceNotes[field].Timestamp) {
					val, src = tv, theirs
				}
				setField(merged, field, val, src)
				note := merged.ProvenanceNotes[field]
				note.Note = fmt.Sprintf("merge: newer-wins over %q", pickOther(val, ov, tv))
				merged.ProvenanceNotes[field] = note
				continue
			}
			fieldConflicts = append(fieldConflicts, types.FieldConflict{Field: field, Ours: ov, Theirs: tv})
		}
	}

	if len(fieldConflicts) > 0 {
		return nil, &types.RecordConflict{
			RecordID:     ours.ID,
			OursStatus:   ours.Status,
			TheirsStatus: theirs.Status,
			Fields:       fieldConflicts,
		}
	}

	// Screening decisions merge the same way status-compatible edits
	// do: a decision present on either side survives; disagreement on
	// the same criterion is a conflict surfaced through metadata-style
	// blocking above only when statuses already agree.
	for name, decision := range theirs.ScreeningCriteria {
		if merged.ScreeningCriteria == nil {
			merged.ScreeningCriteria = make(map[string]types.ScreeningDecision)
		}
		if _, ok := merged.ScreeningCriteria[name]; !ok {
			merged.ScreeningCriteria[name] = decision
		}
	}
	if !merged.Status.AllowsCriteria() {
		merged.ScreeningCriteria = nil
	}

	return merged, nil
}

// mergeStatus picks the merged status for one record, or reports a
// conflict. Only a side that moved away from the base status has taken
// a decision; two differing decisions auto-resolve only for forward
// advancement to a non-terminal status.
func mergeStatus(base, ours, theirs *types.Record) (types.Status, bool) {
	if ours.Status == theirs.Status {
		return ours.Status, true
	}

	oursMoved := base == nil || ours.Status != base.Status
	theirsMoved := base == nil || theirs.Status != base.Status

	switch {
	case !theirsMoved && transition.Reachable(theirs.Status, ours.Status):
		return ours.Status, true
	case !oursMoved && transition.Reachable(ours.Status, theirs.Status):
		return theirs.Status, true
	case oursMoved && theirsMoved:
		switch {
		case transition.Reachable(ours.Status, theirs.Status) && !theirs.Status.Terminal():
			return theirs.Status, true
		case transition.Reachable(theirs.Status, ours.Status) && !ours.Status.Terminal():
			return ours.Status, true
		}
	}
	return "", false
}

// setField writes the chosen value and carries the winning side's
// provenance note for the field.
func setField(merged *types.Record, field, value string, src *types.Record) {
	if merged.Metadata == nil {
		merged.Metadata = make(map[string]string)
	}
	merged.Metadata[field] = value
	if note, ok := src.ProvenanceNotes[field]; ok {
		if merged.ProvenanceNotes == nil {
			merged.ProvenanceNotes = make(map[string]types.ProvenanceNote)
		}
		merged.ProvenanceNotes[field] = note
	}
}

func pickOther(chosen, a, b string) string {
	if chosen == a {
		return b
	}
	return a
}

// Resolve applies a manual resolution for one blocked record: choice
// is "ours" or "theirs". The chosen version is committed as a
// merge-resolve operation and the block is cleared.
func Resolve(ctx context.Context, log *history.Log, id, choice string, cfg types.ProjectConfig, w io.Writer) error {
	st := log.Store()
	ours, theirs, err := st.ConflictSides(ctx, id)
	if err != nil {
		return err
	}

	var chosen *types.Record
	switch choice {
	case "ours":
		chosen = ours
	case "theirs":
		chosen = theirs
	default:
		return fmt.Errorf("unknown resolution %q: use ours or theirs", choice)
	}

	full, err := st.Iterate(ctx)
	if err != nil {
		return err
	}
	found := false
	for i, rec := range full {
		if rec.ID == id {
			full[i] = chosen
			found = true
		}
	}
	if !found {
		full = append(full, chosen)
	}

	op := types.OperationRecord{
		Operation: types.OpMergeResolve,
		Actor:     cfg.Actor.String(),
		Timestamp: store.Now(),
		Note:      fmt.Sprintf("resolved %s as %s", id, choice),
	}
	if _, err := log.CommitReplace(ctx, op, full); err != nil {
		return err
	}
	if err := st.ClearConflict(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(w, "resolved %s (%s)\n", id, choice)
	return nil
}
