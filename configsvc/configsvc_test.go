package configsvc

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func testService(t *testing.T) (*Service, string) {
	t.Helper()
	dir := t.TempDir()
	doc := `{"bundleUrl": "https://cdn.example.edu/app.js", "cacheBuster": true}`
	if err := os.WriteFile(filepath.Join(dir, "lms.example.edu.json"), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	svc, err := New(Config{Docroot: dir}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc, doc
}

func TestServeConfig(t *testing.T) {
	svc, doc := testService(t)
	srv := httptest.NewServer(svc.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/config/lms.example.edu.json")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type = %q", ct)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "no-store" {
		t.Fatalf("cache-control = %q", cc)
	}
	if co := resp.Header.Get("Access-Control-Allow-Origin"); co != "*" {
		t.Fatalf("cors = %q", co)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != doc {
		t.Fatalf("body = %s", body)
	}
}

func TestServeConfigUnknownHost(t *testing.T) {
	svc, _ := testService(t)
	srv := httptest.NewServer(svc.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/config/other.example.edu.json")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestServeConfigRejectsTraversal(t *testing.T) {
	svc, _ := testService(t)
	srv := httptest.NewServer(svc.Router())
	defer srv.Close()

	for _, path := range []string{
		"/config/..%2f..%2fetc%2fpasswd.json",
		"/config/a..b.json",
		"/config/host_name.json",
		"/config/nosuffix",
	} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			t.Errorf("%s served, want rejection", path)
		}
	}
}

func TestSecurityHeadersAndHealth(t *testing.T) {
	svc, _ := testService(t)
	srv := httptest.NewServer(svc.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("X-Content-Type-Options = %q", got)
	}
	if got := resp.Header.Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("X-Frame-Options = %q", got)
	}
}

func TestNewRequiresDocroot(t *testing.T) {
	if _, err := New(Config{}, nil); err == nil {
		t.Fatal("New accepted empty docroot")
	}
	if _, err := New(Config{Docroot: "/nonexistent/brandpush"}, nil); err == nil {
		t.Fatal("New accepted missing docroot")
	}
}
