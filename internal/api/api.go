// Package api exposes the ZapDesk REST surface: conversation simulation,
// training corpus management, flow inspection and hot reload, stats, health
// and Prometheus metrics.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zapdesk/zapdesk/internal/config"
	"github.com/zapdesk/zapdesk/internal/flow"
	"github.com/zapdesk/zapdesk/internal/match"
	"github.com/zapdesk/zapdesk/internal/store"
)

// DefaultAddr is the default listen address of the API server.
const DefaultAddr = ":8080"

// Opts holds configuration options for the API server.
type Opts struct {
	Addr    string
	Webhook http.HandlerFunc // inbound transport webhook, mounted when set
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithWebhook mounts an inbound transport webhook under /webhook/twilio.
func WithWebhook(h http.HandlerFunc) Option {
	return func(o *Opts) { o.Webhook = h }
}

// Server is the ZapDesk HTTP API server.
type Server struct {
	st          store.Store
	cfg         *config.Manager
	flowEngine  *flow.Engine
	matchEngine *match.Engine
	registry    *prometheus.Registry
	opts        Opts
	httpSrv     *http.Server
	started     time.Time
}

// NewServer wires the API server over the engines and the persistence
// gateway. The registry may be nil when metrics exposure is not wanted.
func NewServer(st store.Store, cfg *config.Manager, flowEngine *flow.Engine, matchEngine *match.Engine, registry *prometheus.Registry, opts ...Option) *Server {
	s := &Server{
		st:          st,
		cfg:         cfg,
		flowEngine:  flowEngine,
		matchEngine: matchEngine,
		registry:    registry,
		started:     time.Now(),
	}
	s.opts.Addr = DefaultAddr
	for _, opt := range opts {
		opt(&s.opts)
	}
	return s
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("POST /api/v1/messages", s.simulateHandler)

	mux.HandleFunc("GET /api/v1/training", s.listTrainingHandler)
	mux.HandleFunc("POST /api/v1/training", s.createTrainingHandler)
	mux.HandleFunc("DELETE /api/v1/training/{id}", s.deleteTrainingHandler)
	mux.HandleFunc("POST /api/v1/training/{id}/approve", s.approveTrainingHandler)
	mux.HandleFunc("POST /api/v1/learn", s.learnHandler)

	mux.HandleFunc("GET /api/v1/flows", s.flowsHandler)
	mux.HandleFunc("POST /api/v1/flows/reload", s.reloadHandler)
	mux.HandleFunc("GET /api/v1/stats", s.statsHandler)

	if s.registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	if s.opts.Webhook != nil {
		mux.HandleFunc("POST /webhook/twilio", s.opts.Webhook)
	}
	return mux
}

// Start runs the HTTP server until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Start: API listening", "addr", s.opts.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("api server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		slog.Info("Server.Start: shutting down")
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}
