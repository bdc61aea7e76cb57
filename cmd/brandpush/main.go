// Command brandpush deploys custom theme-JS loaders to a Canvas-style
// platform and serves the per-host config documents the loaders fetch.
//
// Usage:
//
//	brandpush -config brandpush.yaml -deploy        # render + full deployment
//	brandpush -config brandpush.yaml -render -o loader.js
//	brandpush -config brandpush.yaml -serve         # run the config service
//	brandpush -config brandpush.yaml -boot -url https://lms.example.edu
//	brandpush -config brandpush.yaml -runs          # recent journal runs
//	brandpush -config brandpush.yaml -mcp           # MCP tools on stdio
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"gopkg.in/yaml.v3"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/brandpush/configsvc"
	"github.com/hazyhaar/brandpush/deploy"
	"github.com/hazyhaar/brandpush/journal"
	"github.com/hazyhaar/brandpush/loader"
	"github.com/hazyhaar/brandpush/platform"
	"github.com/hazyhaar/brandpush/render"
)

// fileConfig is the YAML layout of -config.
type fileConfig struct {
	Platform platform.Config      `yaml:"platform"`
	Deploy   deploy.Config        `yaml:"deploy"`
	Loader   loader.Config        `yaml:"loader"`
	Browser  loader.BrowserConfig `yaml:"browser"`
	Serve    configsvc.Config     `yaml:"serve"`

	Render struct {
		// RuntimeURL of the bundle the generated loader injects.
		RuntimeURL string `yaml:"runtime_url"`
		// ConfigFile is a JSON document embedded verbatim into the
		// loader, key order preserved.
		ConfigFile string `yaml:"config_file"`
		// PreserveFrom is an existing loader whose operator-code block
		// is carried into the new render.
		PreserveFrom string `yaml:"preserve_from"`
	} `yaml:"render"`

	// JournalPath enables the sqlite audit trail when set.
	JournalPath string `yaml:"journal_path"`
}

func loadConfig(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

func main() {
	configPath := flag.String("config", "brandpush.yaml", "path to brandpush.yaml")
	doDeploy := flag.Bool("deploy", false, "render the loader and run the full deployment workflow")
	doRender := flag.Bool("render", false, "render the loader and exit")
	outPath := flag.String("o", render.FileName(), "output path for -render")
	doServe := flag.Bool("serve", false, "run the loader config service")
	doBoot := flag.Bool("boot", false, "boot the loader on a live page (requires -url)")
	bootURL := flag.String("url", "", "page URL for -boot")
	doRuns := flag.Bool("runs", false, "print recent deployment runs")
	doMCP := flag.Bool("mcp", false, "serve MCP tools on stdio")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, modes{
		deploy: *doDeploy,
		render: *doRender,
		out:    *outPath,
		serve:  *doServe,
		boot:   *doBoot,
		url:    *bootURL,
		runs:   *doRuns,
		mcp:    *doMCP,
	}); err != nil {
		logger.Error("brandpush: fatal", "error", err)
		os.Exit(1)
	}
}

type modes struct {
	deploy bool
	render bool
	out    string
	serve  bool
	boot   bool
	url    string
	runs   bool
	mcp    bool
}

func run(ctx context.Context, logger *slog.Logger, configPath string, m modes) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	switch {
	case m.render:
		return runRender(cfg, logger, m.out)
	case m.deploy:
		_, err := runDeploy(ctx, cfg, logger)
		return err
	case m.serve:
		return runServe(cfg, logger)
	case m.boot:
		return runBoot(ctx, cfg, logger, m.url)
	case m.runs:
		return runRuns(ctx, cfg)
	case m.mcp:
		return runMCP(ctx, cfg, logger)
	}

	fmt.Fprintln(os.Stderr, "usage: brandpush -config <file> -deploy | -render [-o file] | -serve | -boot -url <url> | -runs | -mcp")
	os.Exit(1)
	return nil
}

// renderAsset builds the loader text from the render section.
func renderAsset(cfg *fileConfig) (string, error) {
	p := render.Params{RuntimeURL: cfg.Render.RuntimeURL}

	if cfg.Render.ConfigFile != "" {
		raw, err := os.ReadFile(cfg.Render.ConfigFile)
		if err != nil {
			return "", fmt.Errorf("render: config file: %w", err)
		}
		p.Config = json.RawMessage(raw)
	}

	if cfg.Render.PreserveFrom != "" {
		prev, err := os.ReadFile(cfg.Render.PreserveFrom)
		if err != nil {
			return "", fmt.Errorf("render: preserve source: %w", err)
		}
		if code, ok := render.ExtractPreserved(string(prev)); ok {
			p.PreservedCode = code
		}
	}

	return render.Render(p)
}

func runRender(cfg *fileConfig, logger *slog.Logger, out string) error {
	asset, err := renderAsset(cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(out, []byte(asset), 0o644); err != nil {
		return fmt.Errorf("render: write %s: %w", out, err)
	}
	logger.Info("brandpush: loader rendered", "path", out, "bytes", len(asset))
	return nil
}

func runDeploy(ctx context.Context, cfg *fileConfig, logger *slog.Logger) (*deploy.Report, error) {
	asset, err := renderAsset(cfg)
	if err != nil {
		return nil, err
	}

	client, err := platform.New(cfg.Platform, logger)
	if err != nil {
		return nil, err
	}
	source := deploy.NewPageSource(cfg.Platform.BaseURL, cfg.Platform.AccountID, cfg.Platform.Cookie, cfg.Platform.Timeout)

	var opts []deploy.Option
	if cfg.JournalPath != "" {
		j, err := journal.Open(cfg.JournalPath, logger)
		if err != nil {
			return nil, err
		}
		defer j.Close()
		opts = append(opts, deploy.WithJournal(j))
	}

	o := deploy.New(client, source, cfg.Deploy, logger, opts...)
	report, err := o.Run(ctx, []byte(asset))
	if err != nil {
		return report, err
	}
	logger.Info("brandpush: deployed",
		"run_id", report.RunID,
		"shared_id", report.SharedID,
		"md5", report.MD5,
		"locator", report.Locator)
	return report, nil
}

func runServe(cfg *fileConfig, logger *slog.Logger) error {
	svc, err := configsvc.New(cfg.Serve, logger)
	if err != nil {
		return err
	}
	return svc.ListenAndServe()
}

// runBoot drives the loader against a live page, then keeps the script
// element alive for the configured keeper lifetime. Used to verify a config
// document end to end before deploying.
func runBoot(ctx context.Context, cfg *fileConfig, logger *slog.Logger, pageURL string) error {
	if pageURL == "" {
		return errors.New("boot: -url required")
	}

	browser, err := loader.OpenBrowser(cfg.Browser, logger)
	if err != nil {
		return err
	}
	defer browser.Close()

	page, err := browser.OpenPage(ctx, pageURL)
	if err != nil {
		return err
	}
	defer page.Close()

	l := loader.New(cfg.Loader, logger)
	if err := l.Boot(ctx, page); err != nil {
		return err
	}
	if err := l.Keep(ctx, page); err != nil {
		logger.Warn("brandpush: keeper install failed", "error", err)
	}

	lifetime := cfg.Loader.KeeperLifetime
	if lifetime <= 0 {
		lifetime = 30 * time.Second
	}
	logger.Info("brandpush: booted; holding page", "lifetime", lifetime)
	select {
	case <-ctx.Done():
	case <-time.After(lifetime):
	}
	return nil
}

func runRuns(ctx context.Context, cfg *fileConfig) error {
	if cfg.JournalPath == "" {
		return errors.New("runs: journal_path not configured")
	}
	j, err := journal.Open(cfg.JournalPath, slog.Default())
	if err != nil {
		return err
	}
	defer j.Close()

	runs, err := j.Runs(ctx, 20)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(runs)
}

func runMCP(ctx context.Context, cfg *fileConfig, logger *slog.Logger) error {
	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "brandpush",
		Version: "1.0.0",
	}, nil)

	deps := deploy.MCPDeps{}
	if cfg.JournalPath != "" {
		j, err := journal.Open(cfg.JournalPath, logger)
		if err != nil {
			return err
		}
		defer j.Close()
		deps.Journal = j
	}
	deps.Deploy = func(ctx context.Context) (*deploy.Report, error) {
		return runDeploy(ctx, cfg, logger)
	}
	deploy.RegisterMCP(srv, deps)

	logger.Info("brandpush: MCP server on stdio")
	return srv.Run(ctx, &mcp.StdioTransport{})
}
