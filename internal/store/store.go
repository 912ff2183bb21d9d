// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package store persists the record set, the commit DAG, and per-commit
// snapshots in a SQLite database. It is the single source of truth
// within one working copy; Upsert is the one point where record-shape
// violations are caught before they reach persistence.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/review-engine/pkg/types"
)

const dbFile = "review.db"

// Store manages the working-copy SQLite database.
type Store struct {
	db   *sql.DB
	path string
	cfg  types.ProjectConfig
}

// Open opens or creates the project database at
// cfg.ProjectDir/review.db, creates the schema if needed, and verifies
// the record set against the head commit's content hash. A mismatch is
// fatal: Open returns CorruptionError and the store refuses to operate.
func Open(cfg types.ProjectConfig) (*Store, error) {
	if err := os.MkdirAll(cfg.ProjectDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating project directory: %w", err)
	}
	s, err := openPath(filepath.Join(cfg.ProjectDir, dbFile), cfg)
	if err != nil {
		return nil, err
	}
	if err := s.verifyIntegrity(context.Background()); err != nil {
		s.db.Close()
		return nil, err
	}
	return s, nil
}

// OpenRemote opens another collaborator's database read-only for
// merging. No integrity check runs here; remote state is only ever
// read through Snapshot, which verifies each blob against its
// commit's content hash.
func OpenRemote(path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("remote database %s: %w", path, err)
	}
	return openPath(path, types.ProjectConfig{})
}

func openPath(path string, cfg types.ProjectConfig) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	s := &Store{db: db, path: path, cfg: cfg}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS records (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			origin TEXT NOT NULL,
			metadata TEXT,
			criteria TEXT,
			provenance TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_status ON records(status)`,
		`CREATE TABLE IF NOT EXISTS commits (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			parent1 TEXT,
			parent2 TEXT,
			operation TEXT NOT NULL,
			set_hash TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			commit_id TEXT PRIMARY KEY REFERENCES commits(id),
			blob BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS collapsed (
			id TEXT PRIMARY KEY,
			survivor TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS conflicts (
			record_id TEXT PRIMARY KEY,
			detail TEXT NOT NULL,
			ours TEXT NOT NULL,
			theirs TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// verifyIntegrity recomputes the record-set hash and compares it to the
// head commit's stored hash.
func (s *Store) verifyIntegrity(ctx context.Context) error {
	head, err := s.Head(ctx)
	if err != nil {
		return err
	}
	if head == "" {
		return nil
	}
	commit, err := s.GetCommit(ctx, head)
	if err != nil {
		return err
	}
	recs, err := s.Iterate(ctx)
	if err != nil {
		return err
	}
	got, err := HashRecords(recs)
	if err != nil {
		return err
	}
	if got != commit.SetHash {
		return &types.CorruptionError{Path: s.path, Want: commit.SetHash, Got: got}
	}
	return nil
}

// --- records ---

// Get returns the record with the given id.
func (s *Store) Get(ctx context.Context, id string) (*types.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, origin, metadata, criteria, provenance FROM records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record %s not found", id)
	}
	return rec, err
}

// Iterate returns records ordered by id, optionally filtered to the
// given statuses.
func (s *Store) Iterate(ctx context.Context, statuses ...types.Status) ([]*types.Record, error) {
	query := `SELECT id, status, origin, metadata, criteria, provenance FROM records`
	var args []any
	if len(statuses) > 0 {
		query += ` WHERE status IN (?` // one placeholder per status
		args = append(args, string(statuses[0]))
		for _, st := range statuses[1:] {
			query += `, ?`
			args = append(args, string(st))
		}
		query += `)`
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	var recs []*types.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Count returns the number of records per status.
func (s *Store) Count(ctx context.Context) (map[types.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, count(*) FROM records GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting records: %w", err)
	}
	defer rows.Close()

	counts := make(map[types.Status]int)
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		counts[types.Status(st)] = n
	}
	return counts, rows.Err()
}

// Upsert validates and writes one record outside a batch commit. Used
// by maintenance paths; pipeline stages go through CommitBatch so that
// partial progress is only durable at the commit boundary.
func (s *Store) Upsert(ctx context.Context, rec *types.Record) error {
	if err := s.CheckRecord(rec); err != nil {
		return err
	}
	return upsertTx(ctx, s.db, rec)
}

// CheckRecord enforces the record invariants at the persistence
// boundary: non-empty immutable id, in-lattice status, non-empty
// origin, and screening criteria only at screening statuses and only
// for declared criteria.
func (s *Store) CheckRecord(rec *types.Record) error {
	if rec.ID == "" {
		return fmt.Errorf("record id must not be empty")
	}
	if !rec.Status.Valid() {
		return fmt.Errorf("record %s: status %q is outside the lattice", rec.ID, rec.Status)
	}
	if len(rec.Origin) == 0 {
		return fmt.Errorf("record %s: origin provenance must not be empty", rec.ID)
	}
	if len(rec.ScreeningCriteria) > 0 {
		if !rec.Status.AllowsCriteria() {
			return fmt.Errorf("record %s: screening criteria present at status %s", rec.ID, rec.Status)
		}
		for name := range rec.ScreeningCriteria {
			if !s.cfg.CriterionDeclared(name) {
				return fmt.Errorf("record %s: criterion %q is not declared in the project configuration", rec.ID, name)
			}
		}
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertTx(ctx context.Context, db execer, rec *types.Record) error {
	origin, _ := json.Marshal(rec.Origin)
	metadata, _ := json.Marshal(rec.Metadata)
	criteria, _ := json.Marshal(rec.ScreeningCriteria)
	provenance, _ := json.Marshal(rec.ProvenanceNotes)

	_, err := db.ExecContext(ctx,
		`INSERT INTO records (id, status, origin, metadata, criteria, provenance)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			status=excluded.status, origin=excluded.origin, metadata=excluded.metadata,
			criteria=excluded.criteria, provenance=excluded.provenance`,
		rec.ID, string(rec.Status), string(origin), string(metadata), string(criteria), string(provenance))
	if err != nil {
		return fmt.Errorf("upserting record %s: %w", rec.ID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*types.Record, error) {
	var rec types.Record
	var st, origin string
	var metadata, criteria, provenance sql.NullString
	if err := row.Scan(&rec.ID, &st, &origin, &metadata, &criteria, &provenance); err != nil {
		return nil, err
	}
	rec.Status = types.Status(st)
	if err := json.Unmarshal([]byte(origin), &rec.Origin); err != nil {
		return nil, fmt.Errorf("parsing origin for %s: %w", rec.ID, err)
	}
	if metadata.Valid && metadata.String != "null" {
		if err := json.Unmarshal([]byte(metadata.String), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("parsing metadata for %s: %w", rec.ID, err)
		}
	}
	if criteria.Valid && criteria.String != "null" {
		if err := json.Unmarshal([]byte(criteria.String), &rec.ScreeningCriteria); err != nil {
			return nil, fmt.Errorf("parsing criteria for %s: %w", rec.ID, err)
		}
	}
	if provenance.Valid && provenance.String != "null" {
		if err := json.Unmarshal([]byte(provenance.String), &rec.ProvenanceNotes); err != nil {
			return nil, fmt.Errorf("parsing provenance for %s: %w", rec.ID, err)
		}
	}
	return &rec, nil
}

// --- commits and snapshots ---

// Collapse records that a duplicate id was merged into a survivor id.
type Collapse struct {
	ID       string
	Survivor string
}

// Head returns the current head commit id, or "" for an empty history.
func (s *Store) Head(ctx context.Context) (string, error) {
	var head string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'head'`).Scan(&head)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading head: %w", err)
	}
	return head, nil
}

// GetCommit returns one commit by id.
func (s *Store) GetCommit(ctx context.Context, id string) (types.Commit, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, parent1, parent2, operation, set_hash FROM commits WHERE id = ?`, id)
	c, err := scanCommit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Commit{}, fmt.Errorf("commit %s not found", id)
	}
	return c, err
}

// Commits returns all commits in insertion order (oldest first).
func (s *Store) Commits(ctx context.Context) ([]types.Commit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, parent1, parent2, operation, set_hash FROM commits ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("querying commits: %w", err)
	}
	defer rows.Close()

	var commits []types.Commit
	for rows.Next() {
		c, err := scanCommit(rows)
		if err != nil {
			return nil, err
		}
		commits = append(commits, c)
	}
	return commits, rows.Err()
}

// HasCommit reports whether a commit id exists locally.
func (s *Store) HasCommit(ctx context.Context, id string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM commits WHERE id = ?`, id).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func scanCommit(row rowScanner) (types.Commit, error) {
	var c types.Commit
	var parent1, parent2 sql.NullString
	var op string
	if err := row.Scan(&c.ID, &parent1, &parent2, &op, &c.SetHash); err != nil {
		return types.Commit{}, err
	}
	if parent1.Valid && parent1.String != "" {
		c.Parents = append(c.Parents, parent1.String)
	}
	if parent2.Valid && parent2.String != "" {
		c.Parents = append(c.Parents, parent2.String)
	}
	if err := json.Unmarshal([]byte(op), &c.Op); err != nil {
		return types.Commit{}, fmt.Errorf("parsing operation record for %s: %w", c.ID, err)
	}
	return c, nil
}

// SnapshotBlob returns the compressed snapshot bytes for a commit.
func (s *Store) SnapshotBlob(ctx context.Context, commitID string) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT blob FROM snapshots WHERE commit_id = ?`, commitID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot for commit %s not found", commitID)
	}
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	return blob, nil
}

// Snapshot returns the decoded record set at a commit, verified
// against the commit's content hash. Rollback, undo, and merge all
// trust historical snapshots through this path, so a tampered blob
// surfaces as CorruptionError instead of silently becoming the new
// record set.
func (s *Store) Snapshot(ctx context.Context, commitID string) ([]*types.Record, error) {
	blob, err := s.SnapshotBlob(ctx, commitID)
	if err != nil {
		return nil, err
	}
	data, err := DecompressSnapshot(blob)
	if err != nil {
		return nil, err
	}
	recs, err := DecodeSnapshot(data)
	if err != nil {
		return nil, err
	}
	c, err := s.GetCommit(ctx, commitID)
	if err != nil {
		return nil, err
	}
	got, err := HashRecords(recs)
	if err != nil {
		return nil, err
	}
	if got != c.SetHash {
		return nil, &types.CorruptionError{Path: s.path, Want: c.SetHash, Got: got}
	}
	return recs, nil
}

// CommitBatch atomically applies updated records, collapse mappings,
// the commit node, and its snapshot, then advances head. This is the
// sole mutation boundary: a crash or cancellation before CommitBatch
// leaves the store at the previous commit.
func (s *Store) CommitBatch(ctx context.Context, updated []*types.Record, collapses []Collapse, c types.Commit, snapshotBlob []byte) error {
	for _, rec := range updated {
		if err := s.CheckRecord(rec); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, rec := range updated {
		if err := upsertTx(ctx, tx, rec); err != nil {
			return err
		}
	}
	for _, col := range collapses {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO collapsed (id, survivor) VALUES (?, ?)`,
			col.ID, col.Survivor); err != nil {
			return fmt.Errorf("recording collapse %s -> %s: %w", col.ID, col.Survivor, err)
		}
	}
	if err := insertCommitTx(ctx, tx, c, snapshotBlob); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES ('head', ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`, c.ID); err != nil {
		return fmt.Errorf("advancing head: %w", err)
	}
	return tx.Commit()
}

// CommitReplace atomically replaces the entire record set with recs,
// writes the commit node and snapshot, and advances head. Used by
// rollback, undo, and merge, where the operation defines the full
// resulting set.
func (s *Store) CommitReplace(ctx context.Context, recs []*types.Record, c types.Commit, snapshotBlob []byte) error {
	for _, rec := range recs {
		if err := s.CheckRecord(rec); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM records`); err != nil {
		return fmt.Errorf("clearing records: %w", err)
	}
	for _, rec := range recs {
		if err := upsertTx(ctx, tx, rec); err != nil {
			return err
		}
	}
	if err := insertCommitTx(ctx, tx, c, snapshotBlob); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES ('head', ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`, c.ID); err != nil {
		return fmt.Errorf("advancing head: %w", err)
	}
	return tx.Commit()
}

// ImportCommit copies a commit and its snapshot from another history
// (merge adoption). Existing commits are left untouched: history
// entries are never rewritten.
func (s *Store) ImportCommit(ctx context.Context, c types.Commit, snapshotBlob []byte) error {
	ok, err := s.HasCommit(ctx, c.ID)
	if err != nil || ok {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()
	if err := insertCommitTx(ctx, tx, c, snapshotBlob); err != nil {
		return err
	}
	return tx.Commit()
}

func insertCommitTx(ctx context.Context, tx *sql.Tx, c types.Commit, snapshotBlob []byte) error {
	opJSON, err := json.Marshal(c.Op)
	if err != nil {
		return fmt.Errorf("encoding operation record: %w", err)
	}
	var parent1, parent2 string
	if len(c.Parents) > 0 {
		parent1 = c.Parents[0]
	}
	if len(c.Parents) > 1 {
		parent2 = c.Parents[1]
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO commits (id, parent1, parent2, operation, set_hash) VALUES (?, ?, ?, ?, ?)`,
		c.ID, parent1, parent2, string(opJSON), c.SetHash); err != nil {
		return fmt.Errorf("inserting commit %s: %w", c.ID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots (commit_id, blob) VALUES (?, ?)`, c.ID, snapshotBlob); err != nil {
		return fmt.Errorf("inserting snapshot for %s: %w", c.ID, err)
	}
	return nil
}

// --- collapse mapping and merge-conflict bookkeeping ---

// Survivor follows the collapse mapping to the surviving record id.
// Returns id itself when the record was never collapsed.
func (s *Store) Survivor(ctx context.Context, id string) (string, error) {
	cur := id
	for i := 0; i < 64; i++ { // cycle guard
		var next string
		err := s.db.QueryRowContext(ctx,
			`SELECT survivor FROM collapsed WHERE id = ?`, cur).Scan(&next)
		if errors.Is(err, sql.ErrNoRows) {
			return cur, nil
		}
		if err != nil {
			return "", fmt.Errorf("resolving survivor of %s: %w", id, err)
		}
		cur = next
	}
	return "", fmt.Errorf("collapse mapping for %s does not terminate", id)
}

// BlockRecord stores a merge conflict with both competing record
// versions. Blocked records are excluded from normal operation until
// resolved.
func (s *Store) BlockRecord(ctx context.Context, rc types.RecordConflict, ours, theirs *types.Record) error {
	detail, _ := json.Marshal(rc)
	oursJSON, _ := json.Marshal(ours)
	theirsJSON, _ := json.Marshal(theirs)
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO conflicts (record_id, detail, ours, theirs) VALUES (?, ?, ?, ?)`,
		rc.RecordID, string(detail), string(oursJSON), string(theirsJSON))
	if err != nil {
		return fmt.Errorf("blocking record %s: %w", rc.RecordID, err)
	}
	return nil
}

// Blocked returns all unresolved merge conflicts keyed by record id.
func (s *Store) Blocked(ctx context.Context) (map[string]types.RecordConflict, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT record_id, detail FROM conflicts`)
	if err != nil {
		return nil, fmt.Errorf("querying conflicts: %w", err)
	}
	defer rows.Close()

	blocked := make(map[string]types.RecordConflict)
	for rows.Next() {
		var id, detail string
		if err := rows.Scan(&id, &detail); err != nil {
			return nil, err
		}
		var rc types.RecordConflict
		if err := json.Unmarshal([]byte(detail), &rc); err != nil {
			return nil, fmt.Errorf("parsing conflict for %s: %w", id, err)
		}
		blocked[id] = rc
	}
	return blocked, rows.Err()
}

// ConflictSides returns the two competing record versions for a
// blocked record.
func (s *Store) ConflictSides(ctx context.Context, id string) (ours, theirs *types.Record, err error) {
	var oursJSON, theirsJSON string
	err = s.db.QueryRowContext(ctx,
		`SELECT ours, theirs FROM conflicts WHERE record_id = ?`, id).Scan(&oursJSON, &theirsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("record %s has no pending conflict", id)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reading conflict for %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(oursJSON), &ours); err != nil {
		return nil, nil, fmt.Errorf("parsing ours for %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(theirsJSON), &theirs); err != nil {
		return nil, nil, fmt.Errorf("parsing theirs for %s: %w", id, err)
	}
	return ours, theirs, nil
}

// ClearConflict removes the block for a resolved record.
func (s *Store) ClearConflict(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM conflicts WHERE record_id = ?`, id)
	if err != nil {
		return fmt.Errorf("clearing conflict for %s: %w", id, err)
	}
	return nil
}

// Now returns a UTC timestamp truncated for stable serialization.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
