// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/pdiddy/review-engine/internal/dispatch"
	"github.com/pdiddy/review-engine/internal/httputil"
	"github.com/pdiddy/review-engine/pkg/types"
)

// crossrefAPIBase is a variable so tests can point it at a local server.
var crossrefAPIBase = "https://api.crossref.org/works/"

// crossrefPrep fills missing bibliographic fields from the CrossRef
// API for records that carry a DOI. Metadata-only: it proposes no
// transition, so it chains before field-prep in the prep stage.
type crossrefPrep struct {
	client *http.Client
}

func newCrossref(cfg types.ProjectConfig) (dispatch.Endpoint, error) {
	return &crossrefPrep{
		client: &http.Client{Timeout: cfg.HTTP.Timeout},
	}, nil
}

func (*crossrefPrep) Name() string { return "crossref" }

func (c *crossrefPrep) Process(ctx context.Context, rec *types.Record, cfg types.ProjectConfig) (dispatch.Result, error) {
	doi := rec.Metadata["doi"]
	if doi == "" || rec.Status != types.StatusMdImported {
		return dispatch.Result{NoChange: true}, nil
	}
	if rec.Metadata["title"] != "" && rec.Metadata["year"] != "" && rec.Metadata["journal"] != "" {
		return dispatch.Result{NoChange: true}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, crossrefAPIBase+doi, nil)
	if err != nil {
		return dispatch.Result{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", cfg.HTTP.UserAgent)
	if cfg.HTTP.CrossrefPlusToken != "" {
		req.Header.Set("Crossref-Plus-API-Token", "Bearer "+cfg.HTTP.CrossrefPlusToken)
	}

	resp, err := httputil.DoWithRetry(ctx, c.client, req, 3)
	if err != nil {
		return dispatch.Result{}, fmt.Errorf("CrossRef request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return dispatch.Result{}, fmt.Errorf("DOI %s not found on CrossRef", doi)
	}
	if resp.StatusCode != http.StatusOK {
		return dispatch.Result{}, fmt.Errorf("CrossRef returned HTTP %d", resp.StatusCode)
	}

	var cr struct {
		Message struct {
			Title          []string `json:"title"`
			ContainerTitle []string `json:"container-title"`
			Issued         struct {
				DateParts [][]int `json:"date-parts"`
			} `json:"issued"`
		} `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return dispatch.Result{}, fmt.Errorf("parsing CrossRef response: %w", err)
	}

	updates := make(map[string]string)
	if rec.Metadata["title"] == "" && len(cr.Message.Title) > 0 {
		updates["title"] = cr.Message.Title[0]
	}
	if rec.Metadata["journal"] == "" && len(cr.Message.ContainerTitle) > 0 {
		updates["journal"] = cr.Message.ContainerTitle[0]
	}
	if rec.Metadata["year"] == "" &&
		len(cr.Message.Issued.DateParts) > 0 && len(cr.Message.Issued.DateParts[0]) > 0 {
		updates["year"] = strconv.Itoa(cr.Message.Issued.DateParts[0][0])
	}

	if len(updates) == 0 {
		return dispatch.Result{NoChange: true}, nil
	}
	return dispatch.Result{
		Metadata: updates,
		Note:     "completed from CrossRef " + doi,
	}, nil
}
