// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package review

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/review-engine/internal/store"
	"github.com/pdiddy/review-engine/pkg/types"
)

// Bundle is one reviewer's share of records for parallel manual
// screening.
type Bundle struct {
	Part    int             `yaml:"part"`
	Of      int             `yaml:"of"`
	Status  types.Status    `yaml:"status"`
	Records []*types.Record `yaml:"records"`
}

// Split partitions the records at the given status into parts
// round-robin bundles and writes them to outDir as split-N.yaml
// files. Record state is not changed: the bundles are review
// worksheets, and decisions flow back through the screen stage.
func Split(ctx context.Context, st *store.Store, status types.Status, parts int, outDir string, w io.Writer) ([]string, error) {
	if parts < 2 {
		return nil, fmt.Errorf("split requires at least 2 parts, got %d", parts)
	}
	if !status.Valid() {
		return nil, fmt.Errorf("status %q is outside the lattice", status)
	}

	recs, err := st.Iterate(ctx, status)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("no records at status %s", status)
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	bundles := make([]Bundle, parts)
	for i := range bundles {
		bundles[i] = Bundle{Part: i + 1, Of: parts, Status: status}
	}
	for i, rec := range recs {
		b := &bundles[i%parts]
		b.Records = append(b.Records, rec)
	}

	var paths []string
	for _, b := range bundles {
		data, err := yaml.Marshal(&b)
		if err != nil {
			return nil, fmt.Errorf("encoding bundle %d: %w", b.Part, err)
		}
		path := filepath.Join(outDir, fmt.Sprintf("split-%d.yaml", b.Part))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return nil, fmt.Errorf("writing bundle %d: %w", b.Part, err)
		}
		fmt.Fprintf(w, "wrote %s (%d records)\n", path, len(b.Records))
		paths = append(paths, path)
	}
	return paths, nil
}
