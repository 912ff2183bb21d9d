// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package merge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pdiddy/review-engine/internal/history"
	"github.com/pdiddy/review-engine/internal/store"
	"github.com/pdiddy/review-engine/pkg/types"
)

// --- test helpers ---

func testConfig(dir string) types.ProjectConfig {
	cfg := types.ProjectConfig{
		ProjectDir: dir,
		Actor:      types.ActorConfig{Name: "Ana", Email: "ana@lab.org"},
	}
	cfg.Normalize()
	return cfg
}

func openLog(t *testing.T, cfg types.ProjectConfig) *history.Log {
	t.Helper()
	st, err := store.Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return history.New(st)
}

func rec(id string, status types.Status) *types.Record {
	return &types.Record{
		ID:       id,
		Status:   status,
		Origin:   []string{"src/" + id},
		Metadata: map[string]string{"title": "Paper " + id},
	}
}

func commitSet(t *testing.T, log *history.Log, opName string, set []*types.Record) types.Commit {
	t.Helper()
	op := types.OperationRecord{Operation: opName, Actor: "Ana <ana@lab.org>", Timestamp: store.Now()}
	c, err := log.Commit(context.Background(), op, set, set, nil)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

// advance moves one record to a new status and commits the change.
func advance(t *testing.T, log *history.Log, id string, to types.Status) {
	t.Helper()
	mutate(t, log, id, func(r *types.Record) { r.Status = to })
}

// mutate applies fn to one record and commits the full set.
func mutate(t *testing.T, log *history.Log, id string, fn func(*types.Record)) {
	t.Helper()
	ctx := context.Background()
	full, err := log.Store().Iterate(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var changed *types.Record
	for _, r := range full {
		if r.ID == id {
			fn(r)
			changed = r
		}
	}
	if changed == nil {
		t.Fatalf("record %s not found", id)
	}
	op := types.OperationRecord{Operation: "edit", Actor: "Ana <ana@lab.org>", Timestamp: store.Now()}
	if _, err := log.Commit(ctx, op, full, []*types.Record{changed}, nil); err != nil {
		t.Fatal(err)
	}
}

// cloneProject copies a closed project database so two working copies
// share history up to this point.
func cloneProject(t *testing.T, srcDir, dstDir string) {
	t.Helper()
	for _, suffix := range []string{"", "-wal", "-shm"} {
		src := filepath.Join(srcDir, "review.db"+suffix)
		data, err := os.ReadFile(src)
		if err != nil {
			if os.IsNotExist(err) && suffix != "" {
				continue
			}
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dstDir, "review.db"+suffix), data, 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

// forkedPair returns two working copies that share a root commit
// containing the given records, plus the remote database path.
func forkedPair(t *testing.T, base []*types.Record) (local, remote *history.Log, remotePath string) {
	t.Helper()
	localDir, remoteDir := t.TempDir(), t.TempDir()

	cfgLocal := testConfig(localDir)
	st, err := store.Open(cfgLocal)
	if err != nil {
		t.Fatal(err)
	}
	seed := history.New(st)
	commitSet(t, seed, types.OpRetrieve, base)
	st.Close()

	cloneProject(t, localDir, remoteDir)

	local = openLog(t, cfgLocal)
	remote = openLog(t, testConfig(remoteDir))
	return local, remote, filepath.Join(remoteDir, "review.db")
}

// --- merge tests ---

func TestMergeDisjointEdits(t *testing.T) {
	base := []*types.Record{rec("a", types.StatusMdRetrieved), rec("b", types.StatusMdRetrieved)}
	local, remote, remotePath := forkedPair(t, base)
	ctx := context.Background()

	advance(t, local, "a", types.StatusMdImported)
	advance(t, remote, "b", types.StatusMdImported)
	cfg := testConfig(filepath.Dir(local.Store().Path()))

	var buf strings.Builder
	commit, err := Merge(ctx, local, remotePath, cfg, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if commit == nil {
		t.Fatal("expected a merge commit")
	}
	if len(commit.Parents) != 2 {
		t.Errorf("merge commit parents = %v", commit.Parents)
	}

	a, err := local.Store().Get(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	b, err := local.Store().Get(ctx, "b")
	if err != nil {
		t.Fatal(err)
	}
	if a.Status != types.StatusMdImported || b.Status != types.StatusMdImported {
		t.Errorf("a at %s, b at %s", a.Status, b.Status)
	}
}

func TestMergeTakesMoreAdvancedStatus(t *testing.T) {
	base := []*types.Record{rec("a", types.StatusMdRetrieved)}
	local, remote, remotePath := forkedPair(t, base)
	ctx := context.Background()

	// Both branches advanced the same record along the same path.
	advance(t, local, "a", types.StatusMdImported)
	advance(t, remote, "a", types.StatusMdImported)
	advance(t, remote, "a", types.StatusMdPrepared)
	cfg := testConfig(filepath.Dir(local.Store().Path()))

	var buf strings.Builder
	commit, err := Merge(ctx, local, remotePath, cfg, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if commit == nil {
		t.Fatal("expected a merge commit")
	}
	a, err := local.Store().Get(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if a.Status != types.StatusMdPrepared {
		t.Errorf("status = %s, want md_prepared", a.Status)
	}
}

func TestMergeRecordCreatedOnOneSide(t *testing.T) {
	base := []*types.Record{rec("a", types.StatusMdRetrieved)}
	local, remote, remotePath := forkedPair(t, base)
	ctx := context.Background()

	advance(t, local, "a", types.StatusMdImported)
	full, err := remote.Store().Iterate(ctx)
	if err != nil {
		t.Fatal(err)
	}
	full = append(full, rec("z", types.StatusMdRetrieved))
	commitSet(t, remote, types.OpRetrieve, full)
	cfg := testConfig(filepath.Dir(local.Store().Path()))

	var buf strings.Builder
	if _, err := Merge(ctx, local, remotePath, cfg, &buf); err != nil {
		t.Fatal(err)
	}
	z, err := local.Store().Get(ctx, "z")
	if err != nil {
		t.Fatal(err)
	}
	if z.Status != types.StatusMdRetrieved {
		t.Errorf("z at %s", z.Status)
	}
}

func TestMergeConflictBlocksRecord(t *testing.T) {
	base := []*types.Record{rec("a", types.StatusPdfPrepared), rec("b", types.StatusMdRetrieved)}
	local, remote, remotePath := forkedPair(t, base)
	ctx := context.Background()

	// Contradictory screening outcomes: neither status reaches the other.
	advance(t, local, "a", types.StatusRevIncluded)
	advance(t, remote, "a", types.StatusRevExcluded)
	cfg := testConfig(filepath.Dir(local.Store().Path()))

	headBefore, _ := local.Store().Head(ctx)

	var buf strings.Builder
	_, err := Merge(ctx, local, remotePath, cfg, &buf)
	var mc *types.MergeConflictError
	if !errors.As(err, &mc) {
		t.Fatalf("err = %v, want MergeConflictError", err)
	}
	if len(mc.Conflicts) != 1 || mc.Conflicts[0].RecordID != "a" {
		t.Errorf("conflicts = %+v", mc.Conflicts)
	}

	// No merge commit; the conflicting record is blocked with both sides.
	headAfter, _ := local.Store().Head(ctx)
	if headAfter != headBefore {
		t.Error("conflicted merge moved head")
	}
	blocked, err := local.Store().Blocked(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := blocked["a"]; !ok {
		t.Error("record a should be blocked")
	}

	// The local version is untouched until resolution.
	a, err := local.Store().Get(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if a.Status != types.StatusRevIncluded {
		t.Errorf("local status changed to %s", a.Status)
	}
}

func TestMergeDivergentDecisionsConflict(t *testing.T) {
	base := []*types.Record{rec("a", types.StatusMdProcessed)}
	local, remote, remotePath := forkedPair(t, base)
	ctx := context.Background()

	// One side excluded the record outright, the other decided to keep
	// it in scope. The exclusion is on a forward path from the
	// inclusion, but adopting it would discard a real decision.
	advance(t, local, "a", types.StatusRevExcluded)
	advance(t, remote, "a", types.StatusRevPrescreenIncluded)
	cfg := testConfig(filepath.Dir(local.Store().Path()))

	headBefore, _ := local.Store().Head(ctx)

	var buf strings.Builder
	_, err := Merge(ctx, local, remotePath, cfg, &buf)
	var mc *types.MergeConflictError
	if !errors.As(err, &mc) {
		t.Fatalf("err = %v, want MergeConflictError", err)
	}
	if len(mc.Conflicts) != 1 {
		t.Fatalf("conflicts = %+v", mc.Conflicts)
	}
	rc := mc.Conflicts[0]
	if rc.RecordID != "a" || rc.OursStatus != types.StatusRevExcluded || rc.TheirsStatus != types.StatusRevPrescreenIncluded {
		t.Errorf("conflict = %+v", rc)
	}

	headAfter, _ := local.Store().Head(ctx)
	if headAfter != headBefore {
		t.Error("conflicted merge moved head")
	}
	blocked, err := local.Store().Blocked(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := blocked["a"]; !ok {
		t.Error("record a should be blocked")
	}
}

func TestMergeAdoptsSingleSidedDecision(t *testing.T) {
	base := []*types.Record{rec("a", types.StatusMdProcessed)}
	local, remote, remotePath := forkedPair(t, base)
	ctx := context.Background()

	// Only the remote took a status decision; the local side edited a
	// field. Both merge cleanly, terminal status included.
	mutate(t, local, "a", func(r *types.Record) { r.Metadata["year"] = "2024" })
	advance(t, remote, "a", types.StatusRevPrescreenExcluded)
	cfg := testConfig(filepath.Dir(local.Store().Path()))

	var buf strings.Builder
	commit, err := Merge(ctx, local, remotePath, cfg, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if commit == nil {
		t.Fatal("expected a merge commit")
	}
	a, err := local.Store().Get(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if a.Status != types.StatusRevPrescreenExcluded {
		t.Errorf("status = %s, want rev_prescreen_excluded", a.Status)
	}
	if a.Metadata["year"] != "2024" {
		t.Errorf("metadata = %v, local field edit was lost", a.Metadata)
	}
}

func TestMergeIsCommutative(t *testing.T) {
	ctx := context.Background()
	dirA, dirB := t.TempDir(), t.TempDir()
	dirA2, dirB2 := t.TempDir(), t.TempDir()

	withLog := func(dir string, fn func(*history.Log)) {
		t.Helper()
		st, err := store.Open(testConfig(dir))
		if err != nil {
			t.Fatal(err)
		}
		fn(history.New(st))
		st.Close()
	}

	// Shared root, then disjoint edits on each side.
	withLog(dirA, func(log *history.Log) {
		commitSet(t, log, types.OpRetrieve, []*types.Record{
			rec("a", types.StatusMdRetrieved),
			rec("b", types.StatusMdRetrieved),
		})
	})
	cloneProject(t, dirA, dirB)
	withLog(dirA, func(log *history.Log) { advance(t, log, "a", types.StatusMdImported) })
	withLog(dirB, func(log *history.Log) { advance(t, log, "b", types.StatusMdImported) })

	// Freeze both branches so each direction merges the same inputs.
	cloneProject(t, dirA, dirA2)
	cloneProject(t, dirB, dirB2)

	var ab, ba types.Commit
	withLog(dirA, func(log *history.Log) {
		var buf strings.Builder
		c, err := Merge(ctx, log, filepath.Join(dirB, "review.db"), testConfig(dirA), &buf)
		if err != nil {
			t.Fatal(err)
		}
		if c == nil {
			t.Fatal("expected a merge commit")
		}
		ab = *c
	})
	withLog(dirB2, func(log *history.Log) {
		var buf strings.Builder
		c, err := Merge(ctx, log, filepath.Join(dirA2, "review.db"), testConfig(dirB2), &buf)
		if err != nil {
			t.Fatal(err)
		}
		if c == nil {
			t.Fatal("expected a merge commit")
		}
		ba = *c
	})

	if ab.SetHash != ba.SetHash {
		t.Errorf("merge direction changed the record set: %s vs %s", ab.SetHash, ba.SetHash)
	}
	if len(ab.Parents) != 2 || len(ba.Parents) != 2 {
		t.Errorf("parents = %v / %v", ab.Parents, ba.Parents)
	}
}

func TestResolveConflictTheirs(t *testing.T) {
	base := []*types.Record{rec("a", types.StatusPdfPrepared)}
	local, remote, remotePath := forkedPair(t, base)
	ctx := context.Background()

	advance(t, local, "a", types.StatusRevIncluded)
	advance(t, remote, "a", types.StatusRevExcluded)
	cfg := testConfig(filepath.Dir(local.Store().Path()))

	var buf strings.Builder
	if _, err := Merge(ctx, local, remotePath, cfg, &buf); err == nil {
		t.Fatal("expected conflict")
	}

	if err := Resolve(ctx, local, "a", "theirs", cfg, &buf); err != nil {
		t.Fatal(err)
	}

	a, err := local.Store().Get(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if a.Status != types.StatusRevExcluded {
		t.Errorf("status = %s, want rev_excluded", a.Status)
	}
	blocked, err := local.Store().Blocked(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(blocked) != 0 {
		t.Errorf("still blocked: %v", blocked)
	}

	// The resolution is its own logged operation.
	head, _ := local.Store().Head(ctx)
	c, err := local.Store().GetCommit(ctx, head)
	if err != nil {
		t.Fatal(err)
	}
	if c.Op.Operation != types.OpMergeResolve {
		t.Errorf("head operation = %s", c.Op.Operation)
	}
}

func TestMergeFieldEditsByBaseComparison(t *testing.T) {
	base := []*types.Record{rec("a", types.StatusMdRetrieved)}
	local, remote, remotePath := forkedPair(t, base)
	ctx := context.Background()

	// Disjoint field edits on the same record merge cleanly.
	mutate(t, local, "a", func(r *types.Record) { r.Metadata["year"] = "2024" })
	mutate(t, remote, "a", func(r *types.Record) { r.Metadata["journal"] = "JASIST" })
	cfg := testConfig(filepath.Dir(local.Store().Path()))

	var buf strings.Builder
	if _, err := Merge(ctx, local, remotePath, cfg, &buf); err != nil {
		t.Fatal(err)
	}
	a, err := local.Store().Get(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if a.Metadata["year"] != "2024" || a.Metadata["journal"] != "JASIST" {
		t.Errorf("metadata = %v", a.Metadata)
	}
}

func TestMergeContradictoryFieldEditIsConflict(t *testing.T) {
	base := []*types.Record{rec("a", types.StatusMdRetrieved)}
	local, remote, remotePath := forkedPair(t, base)
	ctx := context.Background()

	mutate(t, local, "a", func(r *types.Record) { r.Metadata["year"] = "2023" })
	mutate(t, remote, "a", func(r *types.Record) { r.Metadata["year"] = "2024" })
	cfg := testConfig(filepath.Dir(local.Store().Path()))

	var buf strings.Builder
	_, err := Merge(ctx, local, remotePath, cfg, &buf)
	var mc *types.MergeConflictError
	if !errors.As(err, &mc) {
		t.Fatalf("err = %v, want MergeConflictError", err)
	}
	if len(mc.Conflicts[0].Fields) != 1 || mc.Conflicts[0].Fields[0].Field != "year" {
		t.Errorf("field conflicts = %+v", mc.Conflicts[0].Fields)
	}
}

func TestMergeNewerWinsPolicy(t *testing.T) {
	base := []*types.Record{rec("a", types.StatusMdRetrieved)}
	local, remote, remotePath := forkedPair(t, base)
	ctx := context.Background()

	older := store.Now().Add(-time.Hour)
	newer := store.Now()
	mutate(t, local, "a", func(r *types.Record) {
		r.Metadata["year"] = "2023"
		r.ProvenanceNotes = map[string]types.ProvenanceNote{
			"year": {Endpoint: "edit", Actor: "Ana", Timestamp: older},
		}
	})
	mutate(t, remote, "a", func(r *types.Record) {
		r.Metadata["year"] = "2024"
		r.ProvenanceNotes = map[string]types.ProvenanceNote{
			"year": {Endpoint: "edit", Actor: "Ben", Timestamp: newer},
		}
	})

	cfg := testConfig(filepath.Dir(local.Store().Path()))
	cfg.Merge.Policy = types.MergeNewerWins

	var buf strings.Builder
	commit, err := Merge(ctx, local, remotePath, cfg, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if commit == nil {
		t.Fatal("expected a merge commit")
	}
	a, err := local.Store().Get(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if a.Metadata["year"] != "2024" {
		t.Errorf("year = %s, want the newer edit", a.Metadata["year"])
	}
	// The override is explicit in provenance, never silent.
	if !strings.Contains(a.ProvenanceNotes["year"].Note, "newer-wins") {
		t.Errorf("provenance note = %q", a.ProvenanceNotes["year"].Note)
	}
}

func TestMergeFastForward(t *testing.T) {
	base := []*types.Record{rec("a", types.StatusMdRetrieved)}
	local, remote, remotePath := forkedPair(t, base)
	ctx := context.Background()

	// Only the remote moved.
	advance(t, remote, "a", types.StatusMdImported)
	cfg := testConfig(filepath.Dir(local.Store().Path()))

	var buf strings.Builder
	commit, err := Merge(ctx, local, remotePath, cfg, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if commit == nil {
		t.Fatal("expected a fast-forward commit")
	}
	a, err := local.Store().Get(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if a.Status != types.StatusMdImported {
		t.Errorf("status = %s", a.Status)
	}
	if !strings.Contains(buf.String(), "fast-forward") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestMergeAlreadyUpToDate(t *testing.T) {
	base := []*types.Record{rec("a", types.StatusMdRetrieved)}
	local, _, remotePath := forkedPair(t, base)
	ctx := context.Background()

	// Only the local side moved; the remote has nothing new.
	advance(t, local, "a", types.StatusMdImported)
	cfg := testConfig(filepath.Dir(local.Store().Path()))
	headBefore, _ := local.Store().Head(ctx)

	var buf strings.Builder
	commit, err := Merge(ctx, local, remotePath, cfg, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if commit != nil {
		t.Errorf("unexpected commit %s", commit.ID)
	}
	headAfter, _ := local.Store().Head(ctx)
	if headAfter != headBefore {
		t.Error("up-to-date merge moved head")
	}
}
