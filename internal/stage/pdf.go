// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package stage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pdiddy/review-engine/internal/dispatch"
	"github.com/pdiddy/review-engine/pkg/types"
)

// pdfDirGet probes the configured PDF directory for "<id>.pdf". Found
// files move the record to pdf_imported; missing files park it at
// pdf_needs_manual_retrieval until someone drops the file in and
// re-runs the stage.
type pdfDirGet struct{}

func newPDFDir(types.ProjectConfig) (dispatch.Endpoint, error) {
	return pdfDirGet{}, nil
}

func (pdfDirGet) Name() string { return "pdf-dir" }

func (pdfDirGet) Process(_ context.Context, rec *types.Record, cfg types.ProjectConfig) (dispatch.Result, error) {
	switch rec.Status {
	case types.StatusRevPrescreenIncluded, types.StatusPdfNeedsManualRetrieval:
	default:
		return dispatch.Result{NoChange: true}, nil
	}
	if cfg.PDFDir == "" {
		return dispatch.Result{}, fmt.Errorf("no pdf directory configured")
	}

	path := filepath.Join(cfg.PDFDir, rec.ID+".pdf")
	if _, err := os.Stat(path); err != nil {
		if rec.Status == types.StatusPdfNeedsManualRetrieval {
			// Still missing; stay parked.
			return dispatch.Result{NoChange: true}, nil
		}
		return dispatch.Result{
			Target: types.StatusPdfNeedsManualRetrieval,
			Note:   fmt.Sprintf("no file at %s", path),
		}, nil
	}
	return dispatch.Result{
		Target:   types.StatusPdfImported,
		Metadata: map[string]string{"file": path},
		Note:     "found in pdf directory",
	}, nil
}

// pdfCheck verifies the imported file is a plausible PDF before the
// record moves to pdf_prepared.
type pdfCheck struct{}

func newPDFCheck(types.ProjectConfig) (dispatch.Endpoint, error) {
	return pdfCheck{}, nil
}

func (pdfCheck) Name() string { return "pdf-check" }

func (pdfCheck) Process(_ context.Context, rec *types.Record, _ types.ProjectConfig) (dispatch.Result, error) {
	if rec.Status != types.StatusPdfImported {
		return dispatch.Result{NoChange: true}, nil
	}

	path := rec.Metadata["file"]
	if path == "" {
		return dispatch.Result{}, fmt.Errorf("record has no file field")
	}
	f, err := os.Open(path)
	if err != nil {
		return dispatch.Result{}, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	header := make([]byte, 5)
	n, err := f.Read(header)
	if err != nil || n < 5 {
		return dispatch.Result{}, fmt.Errorf("%s is empty or unreadable", path)
	}
	if !bytes.HasPrefix(header, []byte("%PDF-")) {
		return dispatch.Result{}, fmt.Errorf("%s is not a PDF", path)
	}

	return dispatch.Result{
		Target: types.StatusPdfPrepared,
		Note:   "pdf verified",
	}, nil
}
