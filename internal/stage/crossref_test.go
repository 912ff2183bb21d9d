// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package stage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pdiddy/review-engine/pkg/types"
)

const sampleCrossrefWork = `{
  "message": {
    "title": ["Collaborative Screening at Scale"],
    "container-title": ["Journal of Information Science"],
    "issued": {"date-parts": [[2023, 4]]}
  }
}`

func TestCrossrefFillsMissingFields(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(sampleCrossrefWork))
	}))
	defer srv.Close()

	orig := crossrefAPIBase
	crossrefAPIBase = srv.URL + "/works/"
	defer func() { crossrefAPIBase = orig }()

	cfg := testConfig(t)
	ep, err := newCrossref(cfg)
	if err != nil {
		t.Fatal(err)
	}

	rec := testRecord("a", types.StatusMdImported, map[string]string{
		"doi":   "10.1000/xyz",
		"title": "Already here",
	})
	res, err := ep.Process(context.Background(), rec, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if gotPath != "/works/10.1000/xyz" {
		t.Errorf("request path = %s", gotPath)
	}
	// Only the missing fields are proposed; no status transition.
	if res.Target != "" {
		t.Errorf("target = %s", res.Target)
	}
	if _, ok := res.Metadata["title"]; ok {
		t.Error("existing title should not be overwritten")
	}
	if res.Metadata["journal"] != "Journal of Information Science" {
		t.Errorf("journal = %q", res.Metadata["journal"])
	}
	if res.Metadata["year"] != "2023" {
		t.Errorf("year = %q", res.Metadata["year"])
	}
}

func TestCrossrefSkipsRecordsWithoutDOI(t *testing.T) {
	cfg := testConfig(t)
	ep, err := newCrossref(cfg)
	if err != nil {
		t.Fatal(err)
	}
	res, err := ep.Process(context.Background(),
		testRecord("a", types.StatusMdImported, map[string]string{"title": "T"}), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if !res.NoChange {
		t.Errorf("result = %+v", res)
	}
}

func TestCrossrefUnknownDOIFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	orig := crossrefAPIBase
	crossrefAPIBase = srv.URL + "/works/"
	defer func() { crossrefAPIBase = orig }()

	cfg := testConfig(t)
	ep, err := newCrossref(cfg)
	if err != nil {
		t.Fatal(err)
	}
	rec := testRecord("a", types.StatusMdImported, map[string]string{"doi": "10.1000/missing"})
	if _, err := ep.Process(context.Background(), rec, cfg); err == nil {
		t.Error("404 from the API should fail the record")
	}
}
