// Package loader implements the bootstrap sequence the theme asset performs
// on every page load: resolve the per-identity config document, expose it to
// the page, and inject the remote runtime bundle exactly once.
//
// The pure parts (config fetch, validation, injection script construction)
// are separated from the page driver so they are testable without a browser;
// the Page interface is satisfied by the CDP adapter in page.go.
package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Boot error taxonomy. All are terminal for the boot attempt: the page
// continues to render without the optional asset, and nothing is retried.
var (
	ErrConfigFetch   = errors.New("loader: config fetch failed")
	ErrConfigParse   = errors.New("loader: config parse failed")
	ErrConfigInvalid = errors.New("loader: config missing bundleUrl")
	ErrBooted        = errors.New("loader: already booted")
)

// Page is the minimal surface the loader needs from a live document.
type Page interface {
	// Host returns the page's origin hostname.
	Host() (string, error)
	// Eval runs a JS function expression in the page.
	Eval(ctx context.Context, js string) error
}

// Config configures a Loader.
type Config struct {
	// ConfigBase is the root of the config service, e.g.
	// https://org.github.example/deploy. The document URL is derived as
	// {ConfigBase}/config/{host}.json.
	ConfigBase string `yaml:"config_base"`
	// FetchTimeout bounds the config read. Default: 15s.
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	// KeeperLifetime bounds the re-inject observer. Default: 30s.
	KeeperLifetime time.Duration `yaml:"keeper_lifetime"`
}

func (c *Config) defaults() {
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 15 * time.Second
	}
	if c.KeeperLifetime <= 0 {
		c.KeeperLifetime = 30 * time.Second
	}
}

// Loader runs the two-stage boot sequence. One instance per page lifetime;
// Boot is idempotent via the boot flag.
type Loader struct {
	cfg     Config
	fetcher *Fetcher
	logger  *slog.Logger
	booted  atomic.Bool
	now     func() time.Time
}

// New creates a Loader.
func New(cfg Config, logger *slog.Logger) *Loader {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		cfg:     cfg,
		fetcher: NewFetcher(cfg.ConfigBase, cfg.FetchTimeout),
		logger:  logger,
		now:     time.Now,
	}
}

// Boot performs the boot sequence against the given page. The boot flag is
// set before the first asynchronous step, so a second call (even one racing
// the config fetch) injects nothing and returns ErrBooted.
func (l *Loader) Boot(ctx context.Context, page Page) error {
	if !l.booted.CompareAndSwap(false, true) {
		return ErrBooted
	}

	host, err := page.Host()
	if err != nil {
		l.logger.Error("loader: resolve page host", "error", err)
		return fmt.Errorf("loader: resolve host: %w", err)
	}

	doc, err := l.fetcher.Fetch(ctx, host)
	if err != nil {
		l.logger.Error("loader: boot aborted", "host", host, "error", err)
		return err
	}

	// Config becomes page state before the bundle loads, then validation
	// decides whether anything is injected at all.
	if err := page.Eval(ctx, ExposeConfigScript(doc)); err != nil {
		l.logger.Error("loader: expose config", "host", host, "error", err)
		return fmt.Errorf("loader: expose config: %w", err)
	}

	if doc.BundleURL == "" {
		l.logger.Error("loader: boot aborted", "host", host, "error", ErrConfigInvalid)
		return fmt.Errorf("%w (host %s)", ErrConfigInvalid, host)
	}

	src := ScriptSrc(doc, l.now())
	if err := page.Eval(ctx, InjectScript(src)); err != nil {
		l.logger.Error("loader: inject bundle", "host", host, "src", src, "error", err)
		return fmt.Errorf("loader: inject: %w", err)
	}

	l.logger.Info("loader: bundle injected", "host", host, "src", src)
	return nil
}

// Keep installs the bounded re-inject observer for the injected element.
// Safe to call only after a successful Boot.
func (l *Loader) Keep(ctx context.Context, page Page) error {
	return page.Eval(ctx, KeeperScript(ScriptElementID, l.cfg.KeeperLifetime))
}
