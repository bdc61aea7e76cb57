package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ConfigDocument is the per-identity configuration resolved at boot. It is
// never persisted: it lives for the duration of one boot attempt. Raw keeps
// the document bytes so arbitrary extra keys reach the page untouched.
type ConfigDocument struct {
	BundleURL   string
	CacheBuster bool
	Raw         json.RawMessage
}

// Fetcher resolves config documents from the config service. Responses must
// not be served from an intermediate cache: a stale document would pin end
// users to a withdrawn bundle.
type Fetcher struct {
	base   string
	client *http.Client
}

// NewFetcher creates a Fetcher rooted at base.
func NewFetcher(base string, timeout time.Duration) *Fetcher {
	return &Fetcher{
		base:   strings.TrimRight(base, "/"),
		client: &http.Client{Timeout: timeout},
	}
}

// URLFor derives the document URL for an origin host.
func (f *Fetcher) URLFor(host string) string {
	return fmt.Sprintf("%s/config/%s.json", f.base, host)
}

// Fetch reads and parses the config document for host. Non-success statuses
// map to ErrConfigFetch, malformed bodies to ErrConfigParse. A document
// without bundleUrl is returned as-is; the caller decides that it is
// ErrConfigInvalid after exposing it to the page.
func (f *Fetcher) Fetch(ctx context.Context, host string) (*ConfigDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URLFor(host), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigFetch, err)
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigFetch, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrConfigFetch, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: http %d for %s", ErrConfigFetch, resp.StatusCode, host)
	}

	var parsed struct {
		BundleURL   string `json:"bundleUrl"`
		CacheBuster bool   `json:"cacheBuster"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigParse, err)
	}

	return &ConfigDocument{
		BundleURL:   parsed.BundleURL,
		CacheBuster: parsed.CacheBuster,
		Raw:         json.RawMessage(body),
	}, nil
}
