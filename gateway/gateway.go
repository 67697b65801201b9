// Package gateway routes WhatsApp messages to the assistant and serves the
// bot's HTTP surface: the bridge webhook, health and stats.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gliderlab/wagem/pkg/config"
	"github.com/gliderlab/wagem/session"
)

// WebhookPath is where the bridge posts events
const WebhookPath = "/webhook/whatsapp"

// Config holds the HTTP server settings
type Config struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultConfig returns the default gateway configuration
func DefaultConfig() Config {
	return Config{
		Host:         config.DefaultBotHost,
		Port:         config.DefaultBotPort,
		ReadTimeout:  config.DefaultReadTimeout,
		WriteTimeout: config.DefaultWriteTimeout,
		IdleTimeout:  config.DefaultIdleTimeout,
	}
}

// Gateway is the bot's HTTP server
type Gateway struct {
	cfg     Config
	store   *session.Store
	logger  *zap.Logger
	started time.Time

	mu      sync.Mutex
	server  *http.Server
	webhook http.HandlerFunc
	ready   func() bool
	stats   map[string]func() interface{}
	order   []string
}

// New creates a Gateway reporting on store
func New(cfg Config, store *session.Store, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		cfg:     cfg,
		store:   store,
		logger:  logger.Named("gateway"),
		started: time.Now(),
		stats:   make(map[string]func() interface{}),
	}
}

// WithWebhook mounts the bridge webhook handler
func (g *Gateway) WithWebhook(h http.HandlerFunc) *Gateway {
	g.webhook = h
	return g
}

// WithReadiness sets the transport readiness probe reported by /health
func (g *Gateway) WithReadiness(fn func() bool) *Gateway {
	g.ready = fn
	return g
}

// WithStats adds a named section to /stats
func (g *Gateway) WithStats(name string, fn func() interface{}) *Gateway {
	if _, ok := g.stats[name]; !ok {
		g.order = append(g.order, name)
	}
	g.stats[name] = fn
	return g
}

// Handler returns the HTTP routes
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/stats", g.handleStats)
	if g.webhook != nil {
		mux.HandleFunc(WebhookPath, g.webhook)
	}
	return mux
}

// Start listens until Stop is called. It returns nil after a clean shutdown.
func (g *Gateway) Start() error {
	addr := fmt.Sprintf("%s:%d", g.cfg.Host, g.cfg.Port)

	g.mu.Lock()
	g.server = &http.Server{
		Addr:         addr,
		Handler:      g.Handler(),
		ReadTimeout:  g.cfg.ReadTimeout,
		WriteTimeout: g.cfg.WriteTimeout,
		IdleTimeout:  g.cfg.IdleTimeout,
	}
	srv := g.server
	g.mu.Unlock()

	g.logger.Info("gateway listening", zap.String("addr", addr), zap.Bool("webhook", g.webhook != nil))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the server down, waiting for in-flight requests until ctx ends
func (g *Gateway) Stop(ctx context.Context) {
	g.mu.Lock()
	srv := g.server
	g.mu.Unlock()
	if srv == nil {
		return
	}
	if err := srv.Shutdown(ctx); err != nil {
		g.logger.Warn("gateway graceful shutdown failed", zap.Error(err))
		srv.Close()
	}
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":   "ok",
		"uptime":   time.Since(g.started).Round(time.Second).String(),
		"sessions": g.store.Len(),
	}
	if g.ready != nil {
		resp["whatsapp"] = map[bool]string{true: "ready", false: "not_ready"}[g.ready()]
	}
	g.writeJSON(w, resp)
}

func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"sessions": g.store.Stats(),
	}
	for _, name := range g.order {
		resp[name] = g.stats[name]()
	}
	g.writeJSON(w, resp)
}

// writeJSON writes a JSON response with proper Content-Type header
func (g *Gateway) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Warn("failed to encode JSON response", zap.Error(err))
	}
}
