// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package stage

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/review-engine/internal/dispatch"
	"github.com/pdiddy/review-engine/internal/history"
	"github.com/pdiddy/review-engine/internal/store"
	"github.com/pdiddy/review-engine/pkg/types"
)

// importEndpoint moves freshly retrieved records into the pipeline.
type importEndpoint struct{}

func newImport(types.ProjectConfig) (dispatch.Endpoint, error) {
	return importEndpoint{}, nil
}

func (importEndpoint) Name() string { return "import" }

func (importEndpoint) Process(_ context.Context, rec *types.Record, _ types.ProjectConfig) (dispatch.Result, error) {
	if rec.Status != types.StatusMdRetrieved {
		return dispatch.Result{NoChange: true}, nil
	}
	if rec.Metadata["title"] == "" {
		return dispatch.Result{}, fmt.Errorf("record has no title")
	}
	return dispatch.Result{
		Target: types.StatusMdImported,
		Note:   "imported from search results",
	}, nil
}

// SearchFile is the on-disk format for harvested search results fed to
// the retrieve operation.
type SearchFile struct {
	Source  string              `yaml:"source"`
	Entries []map[string]string `yaml:"entries"`
}

// ImportSummary counts the outcome of one retrieve run.
type ImportSummary struct {
	Created int
	Skipped int
}

// ImportFile reads a search-results YAML file and creates one record
// per entry at md_retrieved, committing the batch as a retrieve
// operation. Entries whose origin tag is already present in the store
// are skipped, so re-importing the same file is always safe.
func ImportFile(ctx context.Context, log *history.Log, path string, cfg types.ProjectConfig, w io.Writer) (ImportSummary, error) {
	var summary ImportSummary

	data, err := os.ReadFile(path)
	if err != nil {
		return summary, fmt.Errorf("reading search file: %w", err)
	}
	var sf SearchFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return summary, fmt.Errorf("parsing search file %s: %w", path, err)
	}
	if sf.Source == "" {
		return summary, fmt.Errorf("search file %s has no source name", path)
	}

	st := log.Store()
	existing, err := st.Iterate(ctx)
	if err != nil {
		return summary, err
	}
	knownOrigins := make(map[string]bool)
	knownIDs := make(map[string]bool)
	for _, rec := range existing {
		knownIDs[rec.ID] = true
		for _, tag := range rec.Origin {
			knownOrigins[tag] = true
		}
	}

	actor := cfg.Actor.String()
	now := store.Now()
	var created []*types.Record

	for i, entry := range sf.Entries {
		originID := entry["id"]
		if originID == "" {
			originID = fmt.Sprintf("%06d", i+1)
		}
		origin := sf.Source + "/" + originID
		if knownOrigins[origin] {
			fmt.Fprintf(w, "skipped  %s (already imported)\n", origin)
			summary.Skipped++
			continue
		}

		metadata := make(map[string]string)
		for k, v := range entry {
			if k == "id" || strings.TrimSpace(v) == "" {
				continue
			}
			metadata[k] = strings.TrimSpace(v)
		}

		id := recordID(metadata, knownIDs)
		knownIDs[id] = true
		knownOrigins[origin] = true

		rec := &types.Record{
			ID:       id,
			Status:   types.StatusMdRetrieved,
			Origin:   []string{origin},
			Metadata: metadata,
			ProvenanceNotes: map[string]types.ProvenanceNote{
				"status": {
					Endpoint:  types.OpRetrieve,
					Actor:     actor,
					Timestamp: now,
					Note:      "created from " + origin,
				},
			},
		}
		created = append(created, rec)
		fmt.Fprintf(w, "created  %s (%s)\n", id, origin)
		summary.Created++
	}

	fmt.Fprintf(w, "\nretrieve: %d created, %d skipped\n", summary.Created, summary.Skipped)
	if len(created) == 0 {
		return summary, nil
	}

	full := append(existing, created...)
	op := types.OperationRecord{
		Operation:   types.OpRetrieve,
		Actor:       actor,
		Timestamp:   now,
		Transitions: map[string]int{"-> md_retrieved": len(created)},
		Note:        fmt.Sprintf("retrieved from %s", path),
	}
	if _, err := log.Commit(ctx, op, full, created, nil); err != nil {
		return summary, err
	}
	return summary, nil
}

// recordID derives a stable citation-style id (first author's family
// name plus year) and disambiguates collisions with letter suffixes.
func recordID(metadata map[string]string, taken map[string]bool) string {
	base := familyName(metadata["author"])
	if base == "" {
		base = slugWords(metadata["title"], 2)
	}
	if base == "" {
		base = "record"
	}
	if y := metadata["year"]; y != "" {
		base += y
	}

	if !taken[base] {
		return base
	}
	for suffix := 'a'; suffix <= 'z'; suffix++ {
		candidate := base + string(suffix)
		if !taken[candidate] {
			return candidate
		}
	}
	// Extremely collided; fall back to a counting suffix.
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s-%d", base, i)
		if !taken[candidate] {
			return candidate
		}
	}
}

// familyName extracts the first author's family name from a
// "Family, Given and Family, Given" author string.
func familyName(author string) string {
	if author == "" {
		return ""
	}
	first := author
	if idx := strings.Index(author, " and "); idx >= 0 {
		first = author[:idx]
	}
	if idx := strings.Index(first, ","); idx >= 0 {
		first = first[:idx]
	} else if fields := strings.Fields(first); len(fields) > 0 {
		first = fields[len(fields)-1]
	}
	return slugWords(first, 1)
}

// slugWords keeps the first n words of s, letters and digits only.
func slugWords(s string, n int) string {
	var words []string
	for _, word := range strings.Fields(s) {
		var b strings.Builder
		for _, r := range word {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				b.WriteRune(unicode.ToLower(r))
			}
		}
		if b.Len() > 0 {
			words = append(words, b.String())
		}
		if len(words) == n {
			break
		}
	}
	return strings.Join(words, "")
}
