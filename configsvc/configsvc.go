// Package configsvc serves per-host loader configuration documents. The
// loader fetches {origin}/config/{host}.json at boot, so this service is the
// switchboard that decides which runtime bundle each platform instance gets.
package configsvc

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Config configures the service.
type Config struct {
	// Addr to listen on. Default: ":8787".
	Addr string `yaml:"addr"`
	// Docroot holds one {host}.json document per platform hostname.
	Docroot string `yaml:"docroot"`
	// ReadTimeout and WriteTimeout bound slow clients.
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

func (c *Config) defaults() {
	if c.Addr == "" {
		c.Addr = ":8787"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
}

// Service serves loader config documents from a docroot.
type Service struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Service. The docroot must exist.
func New(cfg Config, logger *slog.Logger) (*Service, error) {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Docroot == "" {
		return nil, errors.New("configsvc: docroot required")
	}
	info, err := os.Stat(cfg.Docroot)
	if err != nil {
		return nil, fmt.Errorf("configsvc: docroot: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("configsvc: docroot %s is not a directory", cfg.Docroot)
	}
	return &Service{cfg: cfg, logger: logger}, nil
}

// Router builds the HTTP surface.
func (s *Service) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestSize(64 * 1024))
	r.Use(s.requestLog)
	r.Use(securityHeaders)

	health := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}
	r.Get("/health", health)
	r.Get("/healthz", health)
	// Hostnames contain dots, so the whole segment is captured and the
	// .json suffix stripped by hand; an in-pattern suffix would split the
	// parameter at the first dot.
	r.Get("/config/{file}", s.serveConfig)
	return r
}

// ListenAndServe runs the service until the listener fails.
func (s *Service) ListenAndServe() error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Router(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	s.logger.Info("configsvc: listening", "addr", s.cfg.Addr, "docroot", s.cfg.Docroot)
	return srv.ListenAndServe()
}

func (s *Service) serveConfig(w http.ResponseWriter, r *http.Request) {
	file := chi.URLParam(r, "file")
	host, ok := strings.CutSuffix(file, ".json")
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if !validHost(host) {
		http.Error(w, "invalid host", http.StatusBadRequest)
		return
	}

	data, err := os.ReadFile(filepath.Join(s.cfg.Docroot, host+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "no config for host", http.StatusNotFound)
			return
		}
		s.logger.Error("configsvc: read config", "host", host, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	// The loader sends no-cache and expects a fresh answer; make sure no
	// intermediary caches a stale bundle pointer either.
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Write(data)
}

// validHost accepts DNS hostnames only. Anything else could escape the
// docroot once joined into a path.
func validHost(host string) bool {
	if host == "" || len(host) > 253 {
		return false
	}
	if strings.Contains(host, "..") {
		return false
	}
	for _, c := range host {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '.':
		default:
			return false
		}
	}
	return true
}

func (s *Service) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("configsvc: request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}
