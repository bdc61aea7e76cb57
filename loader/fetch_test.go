package loader

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// configServer serves per-host config documents at /config/{host}.json.
func configServer(t *testing.T, docs map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/config/"), ".json")
		doc, ok := docs[host]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(doc))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetcher_URLFor(t *testing.T) {
	f := NewFetcher("https://org.example/deploy/", time.Second)
	want := "https://org.example/deploy/config/school.example.json"
	if got := f.URLFor("school.example"); got != want {
		t.Errorf("URLFor = %q, want %q", got, want)
	}
}

func TestFetcher_DisablesCaching(t *testing.T) {
	var gotCacheControl string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCacheControl = r.Header.Get("Cache-Control")
		w.Write([]byte(`{"bundleUrl":"https://x/app.js"}`))
	}))
	defer srv.Close()

	if _, err := NewFetcher(srv.URL, time.Second).Fetch(context.Background(), "h"); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if gotCacheControl != "no-cache" {
		t.Errorf("Cache-Control = %q, want no-cache", gotCacheControl)
	}
}

func TestFetcher_Fetch(t *testing.T) {
	srv := configServer(t, map[string]string{
		"school.example": `{"bundleUrl":"https://x/app.js","cacheBuster":true,"extra":"kept"}`,
	})
	f := NewFetcher(srv.URL, time.Second)

	doc, err := f.Fetch(context.Background(), "school.example")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if doc.BundleURL != "https://x/app.js" || !doc.CacheBuster {
		t.Errorf("doc = %+v", doc)
	}
	if !strings.Contains(string(doc.Raw), `"extra":"kept"`) {
		t.Error("arbitrary extra keys must survive in Raw")
	}
}

func TestFetcher_ErrorTaxonomy(t *testing.T) {
	srv := configServer(t, map[string]string{"bad.example": `{not json`})
	f := NewFetcher(srv.URL, time.Second)

	_, err := f.Fetch(context.Background(), "missing.example")
	if !errors.Is(err, ErrConfigFetch) {
		t.Errorf("404 err = %v, want ErrConfigFetch", err)
	}

	_, err = f.Fetch(context.Background(), "bad.example")
	if !errors.Is(err, ErrConfigParse) {
		t.Errorf("parse err = %v, want ErrConfigParse", err)
	}
}
