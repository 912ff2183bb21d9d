// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package stage

import (
	"context"
	"strings"
	"sync"
	"unicode"

	"github.com/pdiddy/review-engine/internal/dispatch"
	"github.com/pdiddy/review-engine/pkg/types"
)

// exactDedupe collapses records sharing a normalized title and year
// into the first record seen, then advances everything to
// md_processed. It keeps cross-record state, so its stage runs serial.
// Fuzzier matching belongs in an alternative endpoint; the collapse
// bookkeeping is the same either way.
type exactDedupe struct {
	mu   sync.Mutex
	seen map[string]string // normalized key -> survivor id
}

func newExactDedupe(types.ProjectConfig) (dispatch.Endpoint, error) {
	return &exactDedupe{seen: make(map[string]string)}, nil
}

func (*exactDedupe) Name() string { return "exact-dedupe" }

func (d *exactDedupe) Process(_ context.Context, rec *types.Record, _ types.ProjectConfig) (dispatch.Result, error) {
	if rec.Status != types.StatusMdPrepared {
		return dispatch.Result{NoChange: true}, nil
	}

	key := dedupeKey(rec)
	if key == "" {
		return dispatch.Result{
			Target: types.StatusMdProcessed,
			Note:   "no dedupe key, kept as distinct",
		}, nil
	}

	d.mu.Lock()
	survivor, dup := d.seen[key]
	if !dup {
		d.seen[key] = rec.ID
	}
	d.mu.Unlock()

	if dup && survivor != rec.ID {
		return dispatch.Result{
			Target:       types.StatusMdProcessed,
			Note:         "duplicate of " + survivor,
			Metadata:     map[string]string{"duplicate_of": survivor},
			CollapseInto: survivor,
		}, nil
	}
	return dispatch.Result{
		Target: types.StatusMdProcessed,
		Note:   "deduplication complete",
	}, nil
}

// dedupeKey builds the exact-match key: lowercased, punctuation-free
// title plus year.
func dedupeKey(rec *types.Record) string {
	title := rec.Metadata["title"]
	if title == "" {
		return ""
	}
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	key := strings.Join(strings.Fields(b.String()), " ")
	if y := rec.Metadata["year"]; y != "" {
		key += "|" + y
	}
	return key
}
