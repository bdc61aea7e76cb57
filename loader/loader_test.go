package loader

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakePage records evaluated scripts.
type fakePage struct {
	mu    sync.Mutex
	host  string
	evals []string
}

func (p *fakePage) Host() (string, error) { return p.host, nil }

func (p *fakePage) Eval(_ context.Context, js string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evals = append(p.evals, js)
	return nil
}

func (p *fakePage) injected() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, js := range p.evals {
		if strings.Contains(js, `createElement("script")`) {
			out = append(out, js)
		}
	}
	return out
}

func newTestLoader(t *testing.T, configBase string) *Loader {
	t.Helper()
	return New(Config{ConfigBase: configBase}, nil)
}

func TestBoot_InjectsOnce(t *testing.T) {
	srv := configServer(t, map[string]string{
		"school.example": `{"bundleUrl":"https://x/app.js"}`,
	})
	page := &fakePage{host: "school.example"}
	l := newTestLoader(t, srv.URL)

	if err := l.Boot(context.Background(), page); err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if n := len(page.injected()); n != 1 {
		t.Fatalf("injected %d scripts, want 1", n)
	}

	// A second boot within the same page lifetime injects nothing more.
	if err := l.Boot(context.Background(), page); !errors.Is(err, ErrBooted) {
		t.Errorf("second boot err = %v, want ErrBooted", err)
	}
	if n := len(page.injected()); n != 1 {
		t.Errorf("injected %d scripts after re-boot, want 1", n)
	}
}

func TestBoot_MissingBundleURL(t *testing.T) {
	srv := configServer(t, map[string]string{
		"school.example": `{"cacheBuster":true}`,
	})
	page := &fakePage{host: "school.example"}

	err := newTestLoader(t, srv.URL).Boot(context.Background(), page)
	if !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("err = %v, want ErrConfigInvalid", err)
	}
	if n := len(page.injected()); n != 0 {
		t.Errorf("injected %d scripts, want 0", n)
	}
}

func TestBoot_ExposesConfigBeforeInjection(t *testing.T) {
	srv := configServer(t, map[string]string{
		"school.example": `{"bundleUrl":"https://x/app.js","featureFlag":7}`,
	})
	page := &fakePage{host: "school.example"}

	if err := newTestLoader(t, srv.URL).Boot(context.Background(), page); err != nil {
		t.Fatalf("Boot: %v", err)
	}

	if len(page.evals) < 2 {
		t.Fatalf("got %d evals, want config expose + injection", len(page.evals))
	}
	if !strings.Contains(page.evals[0], ConfigGlobal) || !strings.Contains(page.evals[0], `"featureFlag":7`) {
		t.Errorf("first eval is not the config expose: %s", page.evals[0])
	}
	if !strings.Contains(page.evals[1], `createElement("script")`) {
		t.Errorf("second eval is not the injection: %s", page.evals[1])
	}
}

func TestBoot_FetchErrorInjectsNothing(t *testing.T) {
	srv := configServer(t, nil) // all hosts 404
	page := &fakePage{host: "unknown.example"}

	err := newTestLoader(t, srv.URL).Boot(context.Background(), page)
	if !errors.Is(err, ErrConfigFetch) {
		t.Fatalf("err = %v, want ErrConfigFetch", err)
	}
	if len(page.evals) != 0 {
		t.Errorf("evals = %d, want 0", len(page.evals))
	}
}

func TestScriptSrc(t *testing.T) {
	now := time.UnixMilli(1750000000000)

	plain := &ConfigDocument{BundleURL: "https://x/app.js"}
	if got := ScriptSrc(plain, now); got != "https://x/app.js" {
		t.Errorf("src = %q, want bare url without cache suffix", got)
	}

	busted := &ConfigDocument{BundleURL: "https://x/app.js", CacheBuster: true}
	if got := ScriptSrc(busted, now); got != "https://x/app.js?v=1750000000000" {
		t.Errorf("src = %q, want ?v=<numeric timestamp>", got)
	}
}

func TestInjectScript_EscapesSrc(t *testing.T) {
	js := InjectScript(`https://x/a"pp.js`)
	if !strings.Contains(js, `a\"pp.js`) {
		t.Error("src not escaped for JS string embedding")
	}
}

func TestKeeperScript_BoundedLifetime(t *testing.T) {
	js := KeeperScript(ScriptElementID, 30*time.Second)
	if !strings.Contains(js, "MutationObserver") {
		t.Error("keeper must use a mutation observer")
	}
	if !strings.Contains(js, "obs.disconnect(); }, 30000") {
		t.Error("keeper must disconnect after the configured lifetime")
	}
}
