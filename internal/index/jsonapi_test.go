package index_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pipwright/pipwright/internal/index"
)

func TestJSONAPIClientList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"info": {"name": "flask", "version": "2.0.0"},
			"releases": {
				"1.0.0": [{"filename": "flask-1.0.0-py3-none-any.whl", "url": "https://example.com/flask-1.0.0-py3-none-any.whl", "packagetype": "bdist_wheel", "digests": {"sha256": "abc"}}],
				"2.0.0": [{"filename": "flask-2.0.0.tar.gz", "url": "https://example.com/flask-2.0.0.tar.gz", "packagetype": "sdist", "yanked": true, "yanked_reason": "bad release"}]
			}
		}`))
	}))
	defer srv.Close()

	c := index.NewJSONAPIClient("pypi", index.WithJSONAPIBaseURL(srv.URL))

	listing, err := c.List(t.Context(), "flask")
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}

	if listing.Name != "flask" {
		t.Errorf("Name = %q, want flask", listing.Name)
	}

	if len(listing.Files) != 2 {
		t.Fatalf("len(Files) = %d, want 2", len(listing.Files))
	}

	var sawYanked bool

	for _, f := range listing.Files {
		if f.Version == "2.0.0" {
			if !f.Yanked || f.YankedReason != "bad release" {
				t.Errorf("expected 2.0.0 to be yanked with reason, got %+v", f)
			}

			sawYanked = true
		}
	}

	if !sawYanked {
		t.Error("expected to see the 2.0.0 release")
	}
}

func TestJSONAPIClientNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := index.NewJSONAPIClient("pypi", index.WithJSONAPIBaseURL(srv.URL))

	if _, err := c.List(t.Context(), "doesnotexist"); err == nil {
		t.Error("expected an error for a 404 response")
	}
}
