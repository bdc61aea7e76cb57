package loader

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// BrowserConfig controls the Chrome session used to drive live pages.
type BrowserConfig struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local headless Chrome.
	RemoteURL string `yaml:"remote_url"`
	// Stealth applies the anti-detection page setup.
	Stealth bool `yaml:"stealth"`
	// NavigateTimeout bounds navigation + load wait. Default: 30s.
	NavigateTimeout time.Duration `yaml:"navigate_timeout"`
}

func (c *BrowserConfig) defaults() {
	if c.NavigateTimeout <= 0 {
		c.NavigateTimeout = 30 * time.Second
	}
}

// Browser owns a Rod connection for opening pages to boot into.
type Browser struct {
	cfg     BrowserConfig
	browser *rod.Browser
	logger  *slog.Logger
}

// OpenBrowser launches (or attaches to) Chrome.
func OpenBrowser(cfg BrowserConfig, logger *slog.Logger) (*Browser, error) {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}

	wsURL := cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().Headless(true)
		l = l.Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("loader: launch chrome: %w", err)
		}
		wsURL = u
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("loader: connect chrome: %w", err)
	}
	logger.Info("loader: browser connected", "remote", cfg.RemoteURL != "")

	return &Browser{cfg: cfg, browser: b, logger: logger}, nil
}

// OpenPage opens pageURL in a new tab and waits for load.
func (b *Browser) OpenPage(ctx context.Context, pageURL string) (*RodPage, error) {
	var page *rod.Page
	var err error
	if b.cfg.Stealth {
		page, err = stealth.Page(b.browser)
	} else {
		page, err = b.browser.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("loader: create tab: %w", err)
	}

	navCtx, cancel := context.WithTimeout(ctx, b.cfg.NavigateTimeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		page.Close()
		return nil, fmt.Errorf("loader: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		b.logger.Warn("loader: wait load timeout", "url", pageURL, "error", err)
	}

	return &RodPage{page: page}, nil
}

// Close disconnects from Chrome.
func (b *Browser) Close() error {
	if b.browser != nil {
		return b.browser.Close()
	}
	return nil
}

// RodPage adapts a Rod page to the loader's Page interface.
type RodPage struct {
	page *rod.Page
}

// Host returns the hostname of the page's current URL.
func (p *RodPage) Host() (string, error) {
	info, err := p.page.Info()
	if err != nil {
		return "", fmt.Errorf("loader: page info: %w", err)
	}
	u, err := url.Parse(info.URL)
	if err != nil {
		return "", fmt.Errorf("loader: parse page url: %w", err)
	}
	return u.Hostname(), nil
}

// Eval runs a JS function expression in the page.
func (p *RodPage) Eval(ctx context.Context, js string) error {
	if _, err := p.page.Context(ctx).Eval(js); err != nil {
		return fmt.Errorf("loader: eval: %w", err)
	}
	return nil
}

// HTML returns the serialised document, used by deploy verification.
func (p *RodPage) HTML(ctx context.Context) ([]byte, error) {
	res, err := p.page.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return nil, fmt.Errorf("loader: get DOM: %w", err)
	}
	return []byte(res.Value.Str()), nil
}

// Close closes the tab.
func (p *RodPage) Close() error {
	if p.page != nil {
		return p.page.Close()
	}
	return nil
}
