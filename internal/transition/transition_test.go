// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package transition

import (
	"errors"
	"testing"

	"github.com/pdiddy/review-engine/pkg/types"
)

func testRecord(status types.Status) *types.Record {
	return &types.Record{
		ID:     "smith2024",
		Status: status,
		Origin: []string{"acm/001"},
		Metadata: map[string]string{
			"title": "A Study of Things",
		},
	}
}

func testEngine() *Engine {
	return NewEngine(types.ProjectConfig{
		Criteria: []types.CriterionConfig{
			{Name: "population", Explanation: "adult participants"},
			{Name: "outcome", Explanation: "reports a measurable outcome"},
		},
	})
}

// --- lattice tests ---

func TestAllowedDirectSuccessors(t *testing.T) {
	cases := []struct {
		from, to types.Status
		want     bool
	}{
		{types.StatusMdRetrieved, types.StatusMdImported, true},
		{types.StatusMdImported, types.StatusMdPrepared, true},
		{types.StatusMdProcessed, types.StatusRevPrescreenIncluded, true},
		{types.StatusMdProcessed, types.StatusRevPrescreenExcluded, true},
		{types.StatusRevPrescreenIncluded, types.StatusPdfNeedsManualRetrieval, true},
		{types.StatusPdfNeedsManualRetrieval, types.StatusPdfImported, true},
		{types.StatusPdfPrepared, types.StatusRevIncluded, true},
		{types.StatusRevIncluded, types.StatusRevSynthesized, true},

		// no skipping
		{types.StatusMdRetrieved, types.StatusMdPrepared, false},
		{types.StatusMdImported, types.StatusMdProcessed, false},
		// no moving backward
		{types.StatusMdPrepared, types.StatusMdImported, false},
		// absorbing statuses have no successors
		{types.StatusRevPrescreenExcluded, types.StatusMdProcessed, false},
		{types.StatusRevExcluded, types.StatusRevIncluded, false},
		{types.StatusRevSynthesized, types.StatusRevIncluded, false},
	}
	for _, c := range cases {
		if got := Allowed(c.from, c.to); got != c.want {
			t.Errorf("Allowed(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestTerminalStatusesAreAbsorbing(t *testing.T) {
	for _, s := range types.AllStatuses {
		if !s.Terminal() {
			continue
		}
		if n := len(Successors(s)); n != 0 {
			t.Errorf("terminal status %s has %d successors", s, n)
		}
	}
}

func TestReachable(t *testing.T) {
	if !Reachable(types.StatusMdRetrieved, types.StatusRevSynthesized) {
		t.Error("md_retrieved should reach rev_synthesized")
	}
	if !Reachable(types.StatusMdRetrieved, types.StatusMdRetrieved) {
		t.Error("a status should reach itself")
	}
	if Reachable(types.StatusRevExcluded, types.StatusRevIncluded) {
		t.Error("rev_excluded should reach nothing")
	}
	if Reachable(types.StatusPdfPrepared, types.StatusMdImported) {
		t.Error("reachability should never run backward")
	}
}

// --- Apply tests ---

func TestApplyAdvancesStatus(t *testing.T) {
	eng := testEngine()
	rec := testRecord(types.StatusMdRetrieved)

	updated, err := eng.Apply(rec, Proposal{Target: types.StatusMdImported, Endpoint: "import"}, "Ana <ana@lab.org>")
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != types.StatusMdImported {
		t.Errorf("status = %s, want md_imported", updated.Status)
	}
	note, ok := updated.ProvenanceNotes["status"]
	if !ok {
		t.Fatal("no provenance note for status")
	}
	if note.Endpoint != "import" || note.Actor != "Ana <ana@lab.org>" {
		t.Errorf("provenance note = %+v", note)
	}
}

func TestApplyMetadataOnlyKeepsStatus(t *testing.T) {
	eng := testEngine()
	rec := testRecord(types.StatusMdImported)

	updated, err := eng.Apply(rec, Proposal{
		Metadata: map[string]string{"journal": "JASIST"},
		Endpoint: "enrich",
	}, "Ana <ana@lab.org>")
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != types.StatusMdImported {
		t.Errorf("status = %s, metadata-only update must not move it", updated.Status)
	}
	if updated.Metadata["journal"] != "JASIST" {
		t.Errorf("metadata = %v", updated.Metadata)
	}
	if updated.ProvenanceNotes["journal"].Endpoint != "enrich" {
		t.Errorf("journal provenance = %+v", updated.ProvenanceNotes["journal"])
	}
	if _, ok := updated.ProvenanceNotes["status"]; ok {
		t.Error("status provenance written without a transition")
	}
}

func TestApplyRejectsIllegalTransition(t *testing.T) {
	eng := testEngine()
	rec := testRecord(types.StatusMdRetrieved)

	_, err := eng.Apply(rec, Proposal{Target: types.StatusRevIncluded}, "Ana")
	var ite *types.IllegalTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("err = %v, want IllegalTransitionError", err)
	}
	if ite.From != types.StatusMdRetrieved || ite.To != types.StatusRevIncluded {
		t.Errorf("error = %+v", ite)
	}
}

func TestApplyRejectsUnknownStatus(t *testing.T) {
	eng := testEngine()
	rec := testRecord(types.StatusMdRetrieved)

	if _, err := eng.Apply(rec, Proposal{Target: types.Status("md_polished")}, "Ana"); err == nil {
		t.Error("expected error for status outside the enumeration")
	}
}

func TestApplyNeverMutatesInput(t *testing.T) {
	eng := testEngine()
	rec := testRecord(types.StatusMdRetrieved)

	updated, err := eng.Apply(rec, Proposal{
		Target:   types.StatusMdImported,
		Metadata: map[string]string{"year": "2024"},
		Endpoint: "import",
	}, "Ana")
	if err != nil {
		t.Fatal(err)
	}

	if rec.Status != types.StatusMdRetrieved {
		t.Error("input record status was mutated")
	}
	if _, ok := rec.Metadata["year"]; ok {
		t.Error("input record metadata was mutated")
	}
	if len(rec.ProvenanceNotes) != 0 {
		t.Error("input record provenance was mutated")
	}
	if updated.Metadata["year"] != "2024" {
		t.Error("metadata update missing from clone")
	}
}

func TestApplyFailureLeavesNoPartialUpdate(t *testing.T) {
	eng := testEngine()
	rec := testRecord(types.StatusPdfPrepared)

	// Undeclared criterion: whole proposal must be rejected.
	_, err := eng.Apply(rec, Proposal{
		Target:   types.StatusRevIncluded,
		Metadata: map[string]string{"screened": "yes"},
		Criteria: map[string]types.ScreeningDecision{"novelty": types.DecisionIn},
	}, "Ana")
	if err == nil {
		t.Fatal("expected error for undeclared criterion")
	}
	if _, ok := rec.Metadata["screened"]; ok {
		t.Error("metadata applied despite rejected proposal")
	}
	if len(rec.ScreeningCriteria) != 0 {
		t.Error("criteria applied despite rejected proposal")
	}
}

func TestApplyCriteriaOnlyAtScreeningStatuses(t *testing.T) {
	eng := testEngine()
	rec := testRecord(types.StatusMdRetrieved)

	_, err := eng.Apply(rec, Proposal{
		Target:   types.StatusMdImported,
		Criteria: map[string]types.ScreeningDecision{"population": types.DecisionIn},
	}, "Ana")
	if err == nil {
		t.Error("criteria should be rejected outside screening statuses")
	}

	rec = testRecord(types.StatusPdfPrepared)
	updated, err := eng.Apply(rec, Proposal{
		Target: types.StatusRevIncluded,
		Criteria: map[string]types.ScreeningDecision{
			"population": types.DecisionIn,
			"outcome":    types.DecisionIn,
		},
	}, "Ana")
	if err != nil {
		t.Fatal(err)
	}
	if updated.ScreeningCriteria["population"] != types.DecisionIn {
		t.Errorf("criteria = %v", updated.ScreeningCriteria)
	}
}

// --- Reopen tests ---

func TestReopenFromTerminalStatus(t *testing.T) {
	eng := testEngine()
	rec := testRecord(types.StatusRevExcluded)

	updated, err := eng.Reopen(rec, types.StatusPdfPrepared, "Ana", "exclusion applied the wrong criterion")
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != types.StatusPdfPrepared {
		t.Errorf("status = %s, want pdf_prepared", updated.Status)
	}
	if rec.Status != types.StatusRevExcluded {
		t.Error("input record was mutated")
	}
	note := updated.ProvenanceNotes["status"]
	if note.Endpoint != types.OpReopen {
		t.Errorf("provenance endpoint = %q, want reopen", note.Endpoint)
	}
}

func TestReopenRequiresJustification(t *testing.T) {
	eng := testEngine()
	rec := testRecord(types.StatusRevExcluded)

	if _, err := eng.Reopen(rec, types.StatusPdfPrepared, "Ana", ""); err == nil {
		t.Error("reopen without justification should be rejected")
	}
}

func TestReopenRejectsSidewaysJump(t *testing.T) {
	eng := testEngine()
	rec := testRecord(types.StatusRevExcluded)

	// rev_excluded is not reachable from rev_included, so this is not
	// a reopen along the record's own path.
	_, err := eng.Reopen(rec, types.StatusRevIncluded, "Ana", "changed my mind")
	var ite *types.IllegalTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("err = %v, want IllegalTransitionError", err)
	}
}

func TestReopenDropsCriteriaWhenTargetDisallowsThem(t *testing.T) {
	eng := testEngine()
	rec := testRecord(types.StatusRevExcluded)
	rec.ScreeningCriteria = map[string]types.ScreeningDecision{"population": types.DecisionOut}

	updated, err := eng.Reopen(rec, types.StatusPdfPrepared, "Ana", "re-screen with corrected criteria")
	if err != nil {
		t.Fatal(err)
	}
	if len(updated.ScreeningCriteria) != 0 {
		t.Errorf("criteria survived reopen to %s: %v", updated.Status, updated.ScreeningCriteria)
	}
}
