// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package review provides the validate and undo operations over the
// change log: human-reviewable diffs between history points, rollback
// as a forward-moving commit, single-operation undo with causal
// dependence checks, and record partitioning for parallel manual
// screening.
package review

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/pdiddy/review-engine/internal/history"
	"github.com/pdiddy/review-engine/pkg/types"
)

// FieldChange is one field's before/after pair.
type FieldChange struct {
	Field string `json:"field" yaml:"field"`
	From  string `json:"from" yaml:"from"`
	To    string `json:"to" yaml:"to"`
}

// RecordDiff is the sequence of changes one record underwent between
// two history points.
type RecordDiff struct {
	ID         string        `json:"id" yaml:"id"`
	Added      bool          `json:"added,omitempty" yaml:"added,omitempty"`
	Removed    bool          `json:"removed,omitempty" yaml:"removed,omitempty"`
	StatusFrom types.Status  `json:"status_from,omitempty" yaml:"status_from,omitempty"`
	StatusTo   types.Status  `json:"status_to,omitempty" yaml:"status_to,omitempty"`
	Fields     []FieldChange `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// Diff compares the snapshots at two history points and returns the
// per-record changes, ordered by record id. Used for human review
// before trusting an automated stage's output.
func Diff(ctx context.Context, log *history.Log, refA, refB string) ([]RecordDiff, error) {
	idA, err := log.Resolve(ctx, refA)
	if err != nil {
		return nil, err
	}
	idB, err := log.Resolve(ctx, refB)
	if err != nil {
		return nil, err
	}
	before, err := log.Store().Snapshot(ctx, idA)
	if err != nil {
		return nil, err
	}
	after, err := log.Store().Snapshot(ctx, idB)
	if err != nil {
		return nil, err
	}
	return diffSets(before, after), nil
}

func diffSets(before, after []*types.Record) []RecordDiff {
	beforeByID := make(map[string]*types.Record, len(before))
	for _, r := range before {
		beforeByID[r.ID] = r
	}
	afterByID := make(map[string]*types.Record, len(after))
	for _, r := range after {
		afterByID[r.ID] = r
	}

	ids := make(map[string]bool)
	for id := range beforeByID {
		ids[id] = true
	}
	for id := range afterByID {
		ids[id] = true
	}
	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	var diffs []RecordDiff
	for _, id := range sorted {
		b := beforeByID[id]
		a := afterByID[id]
		switch {
		case b == nil:
			diffs = append(diffs, RecordDiff{ID: id, Added: true, StatusTo: a.Status})
		case a == nil:
			diffs = append(diffs, RecordDiff{ID: id, Removed: true, StatusFrom: b.Status})
		default:
			d := diffRecord(b, a)
			if d != nil {
				diffs = append(diffs, *d)
			}
		}
	}
	return diffs
}

func diffRecord(before, after *types.Record) *RecordDiff {
	d := RecordDiff{ID: before.ID}
	changed := false

	if before.Status != after.Status {
		d.StatusFrom = before.Status
		d.StatusTo = after.Status
		changed = true
	}

	fields := make(map[string]bool)
	for k := range before.Metadata {
		fields[k] = true
	}
	for k := range after.Metadata {
		fields[k] = true
	}
	for k := range before.ScreeningCriteria {
		fields["criterion:"+k] = true
	}
	for k := range after.ScreeningCriteria {
		fields["criterion:"+k] = true
	}
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, name := range names {
		var from, to string
		if crit, ok := cutCriterion(name); ok {
			from = string(before.ScreeningCriteria[crit])
			to = string(after.ScreeningCriteria[crit])
		} else {
			from = before.Metadata[name]
			to = after.Metadata[name]
		}
		if from != to {
			d.Fields = append(d.Fields, FieldChange{Field: name, From: from, To: to})
			changed = true
		}
	}

	if !changed {
		return nil
	}
	return &d
}

func cutCriterion(name string) (string, bool) {
	const prefix = "criterion:"
	if len(name) > len(prefix) && name[:len(prefix)] == prefix {
		return name[len(prefix):], true
	}
	return "", false
}

// FormatDiff writes diffs as a human-readable report.
func FormatDiff(diffs []RecordDiff, w io.Writer) {
	if len(diffs) == 0 {
		fmt.Fprintln(w, "No changes.")
		return
	}
	for _, d := range diffs {
		switch {
		case d.Added:
			fmt.Fprintf(w, "+ %s (%s)\n", d.ID, d.StatusTo)
		case d.Removed:
			fmt.Fprintf(w, "- %s (was %s)\n", d.ID, d.StatusFrom)
		default:
			fmt.Fprintf(w, "~ %s", d.ID)
			if d.StatusFrom != d.StatusTo && d.StatusTo != "" {
				fmt.Fprintf(w, ": %s -> %s", d.StatusFrom, d.StatusTo)
			}
			fmt.Fprintln(w)
			for _, f := range d.Fields {
				fmt.Fprintf(w, "    %s: %q -> %q\n", f.Field, f.From, f.To)
			}
		}
	}
	fmt.Fprintf(w, "\n%d record(s) changed\n", len(diffs))
}
