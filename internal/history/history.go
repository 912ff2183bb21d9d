// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package history maintains the append-only change log: a directed
// acyclic graph of commits, each binding one snapshot, one operation
// record, and a content hash of the record set. Prior entries are
// never rewritten; merges add new nodes with two parents.
package history

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/pdiddy/review-engine/internal/store"
	"github.com/pdiddy/review-engine/pkg/types"
)

// Log provides commit-graph operations over one working copy's store.
type Log struct {
	st *store.Store
}

// New returns a Log over st.
func New(st *store.Store) *Log {
	return &Log{st: st}
}

// Store exposes the underlying store for snapshot access.
func (l *Log) Store() *store.Store {
	return l.st
}

// commitID derives a content-addressed commit id from the parents,
// the operation record, and the record-set hash.
func commitID(parents []string, op types.OperationRecord, setHash string) (string, error) {
	payload, err := json.Marshal(struct {
		Parents []string              `json:"parents"`
		Op      types.OperationRecord `json:"op"`
		SetHash string                `json:"set_hash"`
	}{parents, op, setHash})
	if err != nil {
		return "", fmt.Errorf("encoding commit payload: %w", err)
	}
	sum := blake3.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// Commit writes one commit on top of head containing the updated
// records. recs must be the full resulting record set; updated lists
// only the records this operation changed.
func (l *Log) Commit(ctx context.Context, op types.OperationRecord, recs, updated []*types.Record, collapses []store.Collapse) (types.Commit, error) {
	head, err := l.st.Head(ctx)
	if err != nil {
		return types.Commit{}, err
	}
	var parents []string
	if head != "" {
		parents = []string{head}
	}
	return l.commitWithParents(ctx, op, parents, recs, updated, collapses)
}

// CommitMerge writes a merge commit naming both parent commits and
// replacing the record set with the merged result.
func (l *Log) CommitMerge(ctx context.Context, op types.OperationRecord, parents []string, recs []*types.Record) (types.Commit, error) {
	c, blob, err := l.buildCommit(op, parents, recs)
	if err != nil {
		return types.Commit{}, err
	}
	if err := l.st.CommitReplace(ctx, recs, c, blob); err != nil {
		return types.Commit{}, err
	}
	return c, nil
}

// CommitReplace writes a normal commit on top of head whose record set
// fully replaces the store contents. Used by rollback and undo.
func (l *Log) CommitReplace(ctx context.Context, op types.OperationRecord, recs []*types.Record) (types.Commit, error) {
	head, err := l.st.Head(ctx)
	if err != nil {
		return types.Commit{}, err
	}
	var parents []string
	if head != "" {
		parents = []string{head}
	}
	c, blob, err := l.buildCommit(op, parents, recs)
	if err != nil {
		return types.Commit{}, err
	}
	if err := l.st.CommitReplace(ctx, recs, c, blob); err != nil {
		return types.Commit{}, err
	}
	return c, nil
}

func (l *Log) commitWithParents(ctx context.Context, op types.OperationRecord, parents []string, recs, updated []*types.Record, collapses []store.Collapse) (types.Commit, error) {
	c, blob, err := l.buildCommit(op, parents, recs)
	if err != nil {
		return types.Commit{}, err
	}
	if err := l.st.CommitBatch(ctx, updated, collapses, c, blob); err != nil {
		return types.Commit{}, err
	}
	return c, nil
}

func (l *Log) buildCommit(op types.OperationRecord, parents []string, recs []*types.Record) (types.Commit, []byte, error) {
	setHash, err := store.HashRecords(recs)
	if err != nil {
		return types.Commit{}, nil, err
	}
	id, err := commitID(parents, op, setHash)
	if err != nil {
		return types.Commit{}, nil, err
	}
	c := types.Commit{ID: id, Parents: parents, Op: op, SetHash: setHash}

	data, err := store.EncodeSnapshot(recs)
	if err != nil {
		return types.Commit{}, nil, err
	}
	return c, store.CompressSnapshot(data), nil
}

// Resolve maps a user-supplied reference to a commit id. Accepted
// forms: "HEAD", "HEAD~N", a full commit id, or a unique id prefix of
// at least four characters.
func (l *Log) Resolve(ctx context.Context, ref string) (string, error) {
	if ref == "" || ref == "HEAD" || ref == "." {
		head, err := l.st.Head(ctx)
		if err != nil {
			return "", err
		}
		if head == "" {
			return "", fmt.Errorf("history is empty")
		}
		return head, nil
	}

	if rest, ok := strings.CutPrefix(ref, "HEAD~"); ok {
		n, err := strconv.Atoi(rest)
		if err != nil || n < 0 {
			return "", fmt.Errorf("invalid reference %q", ref)
		}
		cur, err := l.Resolve(ctx, "HEAD")
		if err != nil {
			return "", err
		}
		for i := 0; i < n; i++ {
			c, err := l.st.GetCommit(ctx, cur)
			if err != nil {
				return "", err
			}
			if len(c.Parents) == 0 {
				return "", fmt.Errorf("%q walks past the root commit", ref)
			}
			cur = c.Parents[0]
		}
		return cur, nil
	}

	if ok, err := l.st.HasCommit(ctx, ref); err != nil {
		return "", err
	} else if ok {
		return ref, nil
	}

	if len(ref) >= 4 {
		commits, err := l.st.Commits(ctx)
		if err != nil {
			return "", err
		}
		var match string
		for _, c := range commits {
			if strings.HasPrefix(c.ID, ref) {
				if match != "" {
					return "", fmt.Errorf("reference %q is ambiguous", ref)
				}
				match = c.ID
			}
		}
		if match != "" {
			return match, nil
		}
	}
	return "", fmt.Errorf("unknown commit reference %q", ref)
}

// Ancestry returns id and all its ancestors in breadth-first order.
func (l *Log) Ancestry(ctx context.Context, id string) ([]string, error) {
	seen := map[string]bool{id: true}
	order := []string{id}
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		c, err := l.st.GetCommit(ctx, cur)
		if err != nil {
			return nil, err
		}
		for _, p := range c.Parents {
			if !seen[p] {
				seen[p] = true
				order = append(order, p)
				queue = append(queue, p)
			}
		}
	}
	return order, nil
}

// CommonAncestor returns the nearest commit reachable from both a and
// b: the first commit in a's breadth-first ancestry that also appears
// in b's ancestry.
func (l *Log) CommonAncestor(ctx context.Context, a, b string) (string, error) {
	bAnc, err := l.Ancestry(ctx, b)
	if err != nil {
		return "", err
	}
	bSet := make(map[string]bool, len(bAnc))
	for _, id := range bAnc {
		bSet[id] = true
	}
	aAnc, err := l.Ancestry(ctx, a)
	if err != nil {
		return "", err
	}
	for _, id := range aAnc {
		if bSet[id] {
			return id, nil
		}
	}
	return "", fmt.Errorf("histories of %s and %s are unrelated", a, b)
}

// Contains reports whether ancestor is reachable from id.
func (l *Log) Contains(ctx context.Context, id, ancestor string) (bool, error) {
	anc, err := l.Ancestry(ctx, id)
	if err != nil {
		return false, err
	}
	for _, a := range anc {
		if a == ancestor {
			return true, nil
		}
	}
	return false, nil
}
