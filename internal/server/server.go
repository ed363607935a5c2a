// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ankanpy/qwen3-ollama/internal/bridge"
	"github.com/ankanpy/qwen3-ollama/internal/catalog"
	"github.com/ankanpy/qwen3-ollama/internal/config"
	"github.com/ankanpy/qwen3-ollama/internal/ollama"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// formOverhead is the body allowance beyond the prompt cap for the other
	// fields and encoding.
	formOverhead = 4096
)

// ============================================================================
// SERVER
// ============================================================================

// OllamaFactory builds the ollama backend for a configuration.
type OllamaFactory func(cfg *config.Config, logger *log.Logger) bridge.Ollama

// Options configure a Server.
type Options struct {
	// Config is the initial configuration (default: config.Default()).
	Config *config.Config

	// Version is reported by /health and the page footer.
	Version string

	// Logger receives request and lifecycle logs (default: log.Default()).
	Logger *log.Logger

	// NewOllama builds the backend (default: an *ollama.Client from Config.Ollama).
	NewOllama OllamaFactory
}

// runtimeState is swapped as a whole when the configuration changes, so a
// request sees one consistent set of settings.
type runtimeState struct {
	cfg    *config.Config
	ollama bridge.Ollama
	bridge *bridge.Bridge
}

// Server serves the prompt form and streams generations over SSE.
type Server struct {
	logger    *log.Logger
	version   string
	newOllama OllamaFactory
	page      *template.Template
	static    fs.FS
	catalog   *catalog.Catalog
	limiter   *RateLimiter
	state     atomic.Pointer[runtimeState]
	started   time.Time

	handlerOnce sync.Once
	handler     http.Handler

	mu            sync.Mutex
	server        *http.Server
	addr          string
	baseCtx       context.Context
	stopRefresher context.CancelFunc
	refreshEvery  time.Duration
}

// DefaultOllamaFactory builds an *ollama.Client from the [ollama] section.
func DefaultOllamaFactory(cfg *config.Config, logger *log.Logger) bridge.Ollama {
	return ollama.NewClientWithConfig(&ollama.ClientConfig{
		Binary:        cfg.Ollama.Binary,
		HealthArgs:    cfg.Ollama.HealthArgs,
		ListTimeout:   cfg.Ollama.ListTimeout.Duration,
		StatusTimeout: cfg.Ollama.StatusTimeout.Duration,
		Logger:        logger,
	})
}

// New creates a Server. The model catalog is empty until Run or
// RefreshModels is called.
func New(opts Options) (*Server, error) {
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.NewOllama == nil {
		opts.NewOllama = DefaultOllamaFactory
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}

	page, static, err := loadAssets()
	if err != nil {
		return nil, err
	}

	s := &Server{
		logger:    opts.Logger,
		version:   opts.Version,
		newOllama: opts.NewOllama,
		page:      page,
		static:    static,
		limiter:   NewRateLimiter(opts.Config.Server.RateLimit, opts.Config.Server.RateBurst),
		started:   time.Now(),
	}
	s.catalog = catalog.New(listerFunc(s.listModels), preferences(opts.Config))
	s.catalog.SetLogger(opts.Logger)
	s.install(opts.Config)
	return s, nil
}

// listerFunc adapts a function to catalog.Lister.
type listerFunc func(ctx context.Context) []string

func (f listerFunc) ListModels(ctx context.Context) []string { return f(ctx) }

func (s *Server) listModels(ctx context.Context) []string {
	return s.state.Load().ollama.ListModels(ctx)
}

func preferences(cfg *config.Config) catalog.Preferences {
	return catalog.Preferences{
		PreferredModel:       cfg.UI.PreferredModel,
		PreferredMarker:      cfg.UI.PreferredMarker,
		FallbackExampleModel: cfg.UI.FallbackExampleModel,
	}
}

// install builds the backend and bridge for cfg and makes them current.
func (s *Server) install(cfg *config.Config) {
	backend := s.newOllama(cfg, s.logger)
	s.state.Store(&runtimeState{
		cfg:    cfg,
		ollama: backend,
		bridge: bridge.New(backend, bridge.Config{
			CharDelay:   cfg.EffectiveCharDelay(),
			WaitTimeout: cfg.Ollama.WaitTimeout.Duration,
			Logger:      s.logger,
		}),
	})
}

// Config returns the configuration currently in effect.
func (s *Server) Config() *config.Config {
	return s.state.Load().cfg
}

// Catalog returns the model catalog.
func (s *Server) Catalog() *catalog.Catalog {
	return s.catalog
}

// ApplyConfig swaps in a new configuration: backend, typing delay, rate
// limits, model preferences and refresh interval. In-flight generations keep
// the settings they started with. The listen address is not changed.
func (s *Server) ApplyConfig(ctx context.Context, cfg *config.Config) {
	s.install(cfg)
	s.limiter.Configure(cfg.Server.RateLimit, cfg.Server.RateBurst)
	s.catalog.SetPreferences(preferences(cfg))
	s.catalog.Refresh(ctx)
	s.restartRefresher(cfg.UI.RefreshInterval.Duration)
	s.logger.Printf("CONFIG_APPLIED | binary=%s typing=%t char_delay=%s rate_limit=%.2f",
		cfg.Ollama.Binary, cfg.Stream.Typing, cfg.EffectiveCharDelay(), cfg.Server.RateLimit)
}

// RefreshModels reruns the model listing.
func (s *Server) RefreshModels(ctx context.Context) catalog.Snapshot {
	return s.catalog.Refresh(ctx)
}

// ============================================================================
// ROUTES
// ============================================================================

// Handler returns the HTTP handler with all routes and middleware.
func (s *Server) Handler() http.Handler {
	s.handlerOnce.Do(func() {
		mux := http.NewServeMux()

		mux.HandleFunc("GET /{$}", s.handleIndex)
		mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(s.static)))

		mux.Handle("POST /api/generate", RateLimitMiddleware(s.limiter)(http.HandlerFunc(s.handleGenerate)))
		mux.HandleFunc("GET /api/models", s.handleModels)
		mux.HandleFunc("POST /api/models/refresh", s.handleModelsRefresh)

		mux.HandleFunc("GET /health", s.handleHealth)

		s.handler = Chain(
			RecoveryMiddleware(),
			RequestIDMiddleware(),
			SecurityHeadersMiddleware(),
			LoggingMiddleware(s.logger),
		)(mux)
	})
	return s.handler
}

// ============================================================================
// PAGE
// ============================================================================

type pageData struct {
	Title       string
	Version     string
	Models      []string
	Selected    string
	Modes       []string
	DefaultMode string
	Examples    []catalog.Example
}

// handleIndex handles GET /.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	cfg := s.Config()
	snap := s.catalog.Current()

	data := pageData{
		Title:       cfg.UI.Title,
		Version:     s.version,
		Models:      snap.Models,
		Selected:    snap.Selected,
		Modes:       cfg.UI.Modes,
		DefaultMode: cfg.UI.Modes[0],
		Examples:    snap.Examples,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := s.page.Execute(w, data); err != nil {
		s.logger.Printf("PAGE_RENDER_FAILED | request_id=%s error=%v", RequestID(r.Context()), err)
	}
}

// ============================================================================
// MODELS
// ============================================================================

// handleModels handles GET /api/models.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.catalog.Current())
}

// handleModelsRefresh handles POST /api/models/refresh.
func (s *Server) handleModelsRefresh(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.catalog.Refresh(r.Context()))
}

// ============================================================================
// HEALTH
// ============================================================================

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	OllamaStatus string `json:"ollama_status"`
	Models       int    `json:"models"`
	Uptime       string `json:"uptime"`
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ollamaStatus := "unavailable"
	if s.state.Load().ollama.IsAvailable(r.Context()) {
		ollamaStatus = "running"
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:       "ok",
		Version:      s.version,
		OllamaStatus: ollamaStatus,
		Models:       len(s.catalog.Current().Models),
		Uptime:       time.Since(s.started).Round(time.Second).String(),
	})
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Run refreshes the catalog, listens on the configured address and serves
// until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	cfg := s.Config()

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Server.Addr, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout.Duration,
		WriteTimeout:      cfg.Server.WriteTimeout.Duration,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	s.server = srv
	s.addr = ln.Addr().String()
	s.baseCtx = ctx
	s.mu.Unlock()

	s.catalog.Refresh(ctx)
	s.restartRefresher(cfg.UI.RefreshInterval.Duration)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Printf("SERVER_START | addr=%s version=%s models=%d", ln.Addr(), s.version, len(s.catalog.Current().Models))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Addr returns the bound listen address once Run has started listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	if s.stopRefresher != nil {
		s.stopRefresher()
		s.stopRefresher = nil
	}
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	s.logger.Printf("SERVER_SHUTDOWN | starting graceful shutdown")
	return srv.Shutdown(ctx)
}

// restartRefresher replaces the periodic catalog refresh when the interval
// changed. It does nothing before Run.
func (s *Server) restartRefresher(interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.baseCtx == nil {
		return
	}
	if s.stopRefresher != nil && interval == s.refreshEvery {
		return
	}
	if s.stopRefresher != nil {
		s.stopRefresher()
		s.stopRefresher = nil
	}
	s.refreshEvery = interval
	if interval <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(s.baseCtx)
	s.stopRefresher = cancel
	go s.catalog.RefreshEvery(ctx, interval)
}

// ============================================================================
// HELPERS
// ============================================================================

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("RESPONSE_ENCODE_FAILED | error=%v", err)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	errType := "invalid_request_error"
	if status >= http.StatusInternalServerError {
		errType = "server_error"
	}
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    errType,
			"code":    status,
		},
	})
}
