// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package dispatch sequences one pipeline stage: it selects candidate
// records by input status, invokes the stage's endpoints across a
// bounded worker pool, validates the proposed transitions, and commits
// the batch. Endpoint failures are isolated per record; the stage
// completes with a partial-success report rather than aborting.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/pdiddy/review-engine/internal/history"
	"github.com/pdiddy/review-engine/internal/store"
	"github.com/pdiddy/review-engine/internal/transition"
	"github.com/pdiddy/review-engine/pkg/types"
)

// Result is one endpoint's outcome for one record: a proposed update,
// an explicit no-change signal, or (via the error return of Process) a
// failure with a reason.
type Result struct {
	// Target proposes a status transition; empty leaves the status
	// untouched (metadata-only endpoints set only Metadata).
	Target types.Status

	// Metadata holds proposed field updates.
	Metadata map[string]string

	// Criteria holds proposed screening decisions.
	Criteria map[string]types.ScreeningDecision

	// Note is recorded in the provenance of updated fields.
	Note string

	// NoChange signals that the endpoint has nothing to propose, e.g.
	// when handed a record already past its stage.
	NoChange bool

	// CollapseInto marks this record as a duplicate of the named
	// survivor; the dispatcher records the collapse mapping and gives
	// the survivor the union of both origin sets.
	CollapseInto string
}

// Endpoint is the pluggable contract one pipeline stage implementation
// fulfills. Implementations must not mutate global state and must be
// safe to invoke repeatedly on the same record.
type Endpoint interface {
	Name() string
	Process(ctx context.Context, rec *types.Record, cfg types.ProjectConfig) (Result, error)
}

// Stage describes one pipeline stage: its candidate input statuses and
// the ordered endpoints to apply.
type Stage struct {
	Name      string
	Input     []types.Status
	Endpoints []Endpoint

	// Serial forces single-worker execution for endpoints that keep
	// cross-record state (deduplication).
	Serial bool
}

// RecordReport is the per-record outcome of one stage run, in input
// order regardless of completion order.
type RecordReport struct {
	ID        string
	From      types.Status
	To        types.Status
	Failed    bool
	Unchanged bool
	Reason    string
}

// Report aggregates one stage run.
type Report struct {
	Stage     string
	CommitID  string
	Records   []RecordReport
	Succeeded int
	Failed    int
	Unchanged int
}

// HasFailures reports whether any record failed.
func (r Report) HasFailures() bool {
	return r.Failed > 0
}

// outcome is the pooled per-record result before validation.
type outcome struct {
	proposal transition.Proposal
	collapse string
	err      error
	skip     bool
}

// Run executes one stage over the store. Re-running a stage whose
// candidates have all progressed past it is a no-op: the candidate
// selection returns nothing and no commit is created.
func Run(ctx context.Context, log *history.Log, eng *transition.Engine, stage Stage, cfg types.ProjectConfig, w io.Writer) (Report, error) {
	st := log.Store()
	report := Report{Stage: stage.Name}

	candidates, err := st.Iterate(ctx, stage.Input...)
	if err != nil {
		return report, err
	}
	blocked, err := st.Blocked(ctx)
	if err != nil {
		return report, err
	}

	// Records under an unresolved merge conflict stay at their prior
	// status and are reported as failures.
	var runnable []*types.Record
	blockedReports := make(map[string]RecordReport)
	for _, rec := range candidates {
		if _, ok := blocked[rec.ID]; ok {
			blockedReports[rec.ID] = RecordReport{
				ID: rec.ID, From: rec.Status, To: rec.Status,
				Failed: true, Reason: "blocked by unresolved merge conflict",
			}
			continue
		}
		runnable = append(runnable, rec)
	}

	if len(runnable) == 0 && len(blockedReports) == 0 {
		fmt.Fprintf(w, "%s: no candidate records\n", stage.Name)
		return report, nil
	}

	outcomes := runPool(ctx, runnable, stage, cfg)
	if err := ctx.Err(); err != nil {
		// Nothing was committed; the store still reflects the previous
		// commit.
		return report, err
	}

	// Validate and apply in fixed input order so the report and the
	// resulting record set are deterministic.
	actor := cfg.Actor.String()
	updated := make(map[string]*types.Record)
	var collapses []store.Collapse
	transitions := make(map[string]int)
	var failures []types.RecordFailure

	appendReport := func(rr RecordReport) {
		report.Records = append(report.Records, rr)
		switch {
		case rr.Failed:
			report.Failed++
		case rr.Unchanged:
			report.Unchanged++
		default:
			report.Succeeded++
		}
	}

	ri := 0
	for _, rec := range candidates {
		if rr, ok := blockedReports[rec.ID]; ok {
			appendReport(rr)
			continue
		}
		out := outcomes[ri]
		ri++
		switch {
		case out.err != nil:
			reason := out.err.Error()
			fmt.Fprintf(w, "failed   %s: %s\n", rec.ID, reason)
			failures = append(failures, types.RecordFailure{ID: rec.ID, Reason: reason})
			appendReport(RecordReport{ID: rec.ID, From: rec.Status, To: rec.Status, Failed: true, Reason: reason})
		case out.skip:
			fmt.Fprintf(w, "skipped  %s\n", rec.ID)
			appendReport(RecordReport{ID: rec.ID, From: rec.Status, To: rec.Status, Unchanged: true})
		default:
			applied, err := eng.Apply(rec, out.proposal, actor)
			if err != nil {
				reason := err.Error()
				fmt.Fprintf(w, "failed   %s: %s\n", rec.ID, reason)
				failures = append(failures, types.RecordFailure{ID: rec.ID, Reason: reason})
				appendReport(RecordReport{ID: rec.ID, From: rec.Status, To: rec.Status, Failed: true, Reason: reason})
				continue
			}
			if out.collapse != "" {
				collapses = append(collapses, store.Collapse{ID: rec.ID, Survivor: out.collapse})
			}
			updated[applied.ID] = applied
			if applied.Status != rec.Status {
				transitions[fmt.Sprintf("%s -> %s", rec.Status, applied.Status)]++
				fmt.Fprintf(w, "advanced %s: %s -> %s\n", rec.ID, rec.Status, applied.Status)
			} else {
				fmt.Fprintf(w, "updated  %s\n", rec.ID)
			}
			appendReport(RecordReport{ID: rec.ID, From: rec.Status, To: applied.Status})
		}
	}

	// Duplicate collapses give the survivor the union of origins.
	for _, col := range collapses {
		dup := updated[col.ID]
		survivor := updated[col.Survivor]
		if survivor == nil {
			existing, err := st.Get(ctx, col.Survivor)
			if err != nil {
				return report, fmt.Errorf("collapse survivor: %w", err)
			}
			survivor = existing.Clone()
			updated[survivor.ID] = survivor
		}
		if dup != nil {
			for _, tag := range dup.Origin {
				survivor.AddOrigin(tag)
			}
		}
	}

	fmt.Fprintf(w, "\n%s: %d advanced, %d unchanged, %d failed (total: %d)\n",
		stage.Name, report.Succeeded, report.Unchanged, report.Failed, len(report.Records))

	if report.Succeeded == 0 {
		return report, nil
	}

	full, err := st.Iterate(ctx)
	if err != nil {
		return report, err
	}
	for i, rec := range full {
		if u, ok := updated[rec.ID]; ok {
			full[i] = u
		}
	}
	updatedList := make([]*types.Record, 0, len(updated))
	for _, rec := range full {
		if _, ok := updated[rec.ID]; ok {
			updatedList = append(updatedList, rec)
		}
	}

	op := types.OperationRecord{
		Operation:   stage.Name,
		Actor:       actor,
		Timestamp:   store.Now(),
		Transitions: transitions,
		Failed:      failures,
	}
	commit, err := log.Commit(ctx, op, full, updatedList, collapses)
	if err != nil {
		return report, err
	}
	report.CommitID = commit.ID
	return report, nil
}

// runPool fans the runnable records out to the stage endpoints,
// bounded by the configured worker count. Outcomes are indexed by
// input position, so aggregation is independent of completion order.
func runPool(ctx context.Context, recs []*types.Record, stage Stage, cfg types.ProjectConfig) []outcome {
	workers := cfg.Dispatch.Workers
	if stage.Serial || workers < 1 {
		workers = 1
	}
	if workers > len(recs) {
		workers = len(recs)
	}

	outcomes := make([]outcome, len(recs))
	jobs := make(chan int)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				outcomes[i] = processRecord(ctx, recs[i], stage, cfg)
			}
		}()
	}

feed:
	for i := range recs {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()
	return outcomes
}

// processRecord applies the stage endpoints in configured order to one
// record. Each endpoint sees the record with earlier endpoints' field
// updates already applied. The first error stops the chain; the record
// stays at its prior status.
func processRecord(ctx context.Context, rec *types.Record, stage Stage, cfg types.ProjectConfig) outcome {
	view := rec.Clone()
	combined := transition.Proposal{}
	proposed := false

	for _, ep := range stage.Endpoints {
		epCtx, cancel := context.WithTimeout(ctx, cfg.Dispatch.EndpointTimeout)
		res, err := ep.Process(epCtx, view, cfg)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				err = fmt.Errorf("timed out after %s", cfg.Dispatch.EndpointTimeout)
			}
			return outcome{err: &types.EndpointFailureError{
				RecordID: rec.ID, Endpoint: ep.Name(), Reason: err.Error(),
			}}
		}
		if res.NoChange {
			continue
		}

		for k, v := range res.Metadata {
			if view.Metadata == nil {
				view.Metadata = make(map[string]string)
			}
			view.Metadata[k] = v
			if combined.Metadata == nil {
				combined.Metadata = make(map[string]string)
			}
			combined.Metadata[k] = v
			proposed = true
		}
		for k, v := range res.Criteria {
			if combined.Criteria == nil {
				combined.Criteria = make(map[string]types.ScreeningDecision)
			}
			combined.Criteria[k] = v
			proposed = true
		}
		if combined.Target == "" && (len(res.Metadata) > 0 || len(res.Criteria) > 0) {
			// Latest contributing endpoint owns the provenance until a
			// status proposal arrives.
			combined.Endpoint = ep.Name()
			combined.Note = res.Note
		}
		if res.Target != "" {
			combined.Target = res.Target
			combined.Endpoint = ep.Name()
			combined.Note = res.Note
			proposed = true
		}
		if res.CollapseInto != "" {
			return outcome{
				proposal: transition.Proposal{
					Target:   res.Target,
					Metadata: combined.Metadata,
					Endpoint: ep.Name(),
					Note:     res.Note,
				},
				collapse: res.CollapseInto,
			}
		}
	}

	if !proposed {
		return outcome{skip: true}
	}
	return outcome{proposal: combined}
}
