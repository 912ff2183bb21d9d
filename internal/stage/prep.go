// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package stage

import (
	"context"
	"strings"

	"github.com/pdiddy/review-engine/internal/dispatch"
	"github.com/pdiddy/review-engine/pkg/types"
)

// fieldPrep applies rule-based field normalization: whitespace and
// brace cleanup, page-range and year normalization. It mirrors the
// source-specific fixes publishers are known to need.
type fieldPrep struct{}

func newFieldPrep(types.ProjectConfig) (dispatch.Endpoint, error) {
	return fieldPrep{}, nil
}

func (fieldPrep) Name() string { return "field-prep" }

func (fieldPrep) Process(_ context.Context, rec *types.Record, _ types.ProjectConfig) (dispatch.Result, error) {
	if rec.Status != types.StatusMdImported {
		return dispatch.Result{NoChange: true}, nil
	}

	updates := make(map[string]string)
	for field, value := range rec.Metadata {
		cleaned := cleanField(field, value)
		if cleaned != value {
			updates[field] = cleaned
		}
	}

	res := dispatch.Result{
		Target: types.StatusMdPrepared,
		Note:   "rule-based field preparation",
	}
	if len(updates) > 0 {
		res.Metadata = updates
	}
	return res, nil
}

func cleanField(field, value string) string {
	v := strings.Join(strings.Fields(value), " ")
	switch field {
	case "title":
		v = strings.TrimSuffix(v, ".")
		v = strings.Trim(v, "{}")
	case "pages":
		v = strings.ReplaceAll(v, "--", "-")
		v = strings.TrimPrefix(v, "pp. ")
		v = dropRepeatedLastPage(v)
	case "year":
		v = digitsOnly(v)
	case "author":
		v = strings.ReplaceAll(v, " AND ", " and ")
	}
	return v
}

// dropRepeatedLastPage fixes "217-217" style single-page ranges that
// some exporters emit.
func dropRepeatedLastPage(pages string) string {
	parts := strings.SplitN(pages, "-", 2)
	if len(parts) == 2 && parts[0] == parts[1] {
		return parts[0]
	}
	return pages
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
