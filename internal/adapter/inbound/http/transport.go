package http

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentrelay/agentrelay/internal/dispatch"
	"github.com/agentrelay/agentrelay/internal/domain/session"
	"github.com/agentrelay/agentrelay/internal/port/inbound"
	"github.com/agentrelay/agentrelay/internal/transport"
)

// Transport is the inbound adapter serving the streaming HTTP channel:
// request envelopes on POST /mcp, the server-push stream on GET /mcp, and
// session termination on DELETE /mcp, plus the health and metrics
// endpoints.
type Transport struct {
	dispatcher *dispatch.Dispatcher
	sessions   *session.Service
	registry   *transport.Registry

	server         *http.Server
	addr           string
	allowedOrigins []string
	certFile       string
	keyFile        string
	logger         *slog.Logger
	healthChecker  *HealthChecker
	metrics        *Metrics
	promRegistry   *prometheus.Registry
}

// Option is a functional option for configuring Transport.
type Option func(*Transport)

// WithAddr sets the listen address for the HTTP server.
// Default is "127.0.0.1:8080" (localhost only).
func WithAddr(addr string) Option {
	return func(t *Transport) {
		t.addr = addr
	}
}

// WithTLS enables TLS with the provided certificate and key files.
// If not set, the server runs without TLS (plain HTTP).
func WithTLS(certFile, keyFile string) Option {
	return func(t *Transport) {
		t.certFile = certFile
		t.keyFile = keyFile
	}
}

// WithAllowedOrigins sets the allowed origins for DNS rebinding protection.
// If empty, all requests with an Origin header are blocked (local-only mode).
func WithAllowedOrigins(origins []string) Option {
	return func(t *Transport) {
		t.allowedOrigins = origins
	}
}

// WithLogger sets the logger for the HTTP transport.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// WithHealthChecker sets the health checker for the /healthz endpoint.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(t *Transport) {
		t.healthChecker = hc
	}
}

// WithMetrics supplies externally constructed metrics and their registry,
// so other components (registry hooks, dispatcher observer, sweeper) can
// share the same instances. Without it, Start builds a private set.
func WithMetrics(m *Metrics, reg *prometheus.Registry) Option {
	return func(t *Transport) {
		t.metrics = m
		t.promRegistry = reg
	}
}

// NewTransport creates the HTTP transport over the given dispatcher,
// session service, and transport registry.
func NewTransport(dispatcher *dispatch.Dispatcher, sessions *session.Service, registry *transport.Registry, opts ...Option) *Transport {
	t := &Transport{
		dispatcher:     dispatcher,
		sessions:       sessions,
		registry:       registry,
		addr:           "127.0.0.1:8080",
		allowedOrigins: []string{},
		logger:         slog.Default(),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Handler returns the fully wired handler: relay endpoints, health,
// metrics, and the middleware chain. Exposed so tests and embedders can
// serve the relay without binding a listener.
func (t *Transport) Handler() http.Handler {
	if t.metrics == nil {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		t.promRegistry = reg
		t.metrics = NewMetrics(reg)
	}

	// Middleware chain, outermost first: metrics must wrap everything to
	// capture full duration; then request id, client ip, origin check.
	handler := relayHandler(relayDeps{
		dispatcher: t.dispatcher,
		sessions:   t.sessions,
		registry:   t.registry,
		metrics:    t.metrics,
	})
	handler = OriginAllowlist(t.allowedOrigins)(handler)
	handler = RealIPMiddleware(handler)
	handler = RequestIDMiddleware(t.logger)(handler)
	handler = MetricsMiddleware(t.metrics)(handler)

	mux := http.NewServeMux()
	if t.healthChecker != nil {
		mux.Handle("/healthz", t.healthChecker.Handler())
	} else {
		mux.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		}))
	}
	mux.Handle("/metrics", promhttp.HandlerFor(t.promRegistry, promhttp.HandlerOpts{
		Registry: t.promRegistry,
	}))
	// Favicon handler to prevent browser error noise
	mux.Handle("/favicon.ico", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	mux.Handle("/mcp", handler)
	mux.Handle("/mcp/", handler)

	return mux
}

// Start begins accepting HTTP connections. It blocks until the context is
// cancelled or the server fails.
func (t *Transport) Start(ctx context.Context) error {
	t.server = &http.Server{
		Addr:    t.addr,
		Handler: t.Handler(),
	}

	if t.certFile != "" && t.keyFile != "" {
		t.server.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	errCh := make(chan error, 1)

	go func() {
		var err error
		if t.certFile != "" && t.keyFile != "" {
			t.logger.Info("starting HTTPS server", "addr", t.addr)
			err = t.server.ListenAndServeTLS(t.certFile, t.keyFile)
		} else {
			t.logger.Info("starting HTTP server", "addr", t.addr)
			err = t.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		t.logger.Info("context cancelled, shutting down HTTP server")
		return t.shutdown()
	case err := <-errCh:
		return err
	}
}

// shutdown performs graceful shutdown of the HTTP server.
func (t *Transport) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Release the push streams first so Shutdown is not held open by them.
	t.registry.CloseAll()

	if err := t.server.Shutdown(ctx); err != nil {
		t.logger.Error("error during server shutdown", "error", err)
		return err
	}

	t.logger.Info("HTTP server shutdown complete")
	return nil
}

// Close gracefully shuts down the transport.
func (t *Transport) Close() error {
	if t.server == nil {
		return nil
	}
	return t.shutdown()
}

// Compile-time check that Transport implements the inbound port.
var _ inbound.Transport = (*Transport)(nil)
