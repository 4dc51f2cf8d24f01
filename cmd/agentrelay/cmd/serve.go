package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	relayhttp "github.com/agentrelay/agentrelay/internal/adapter/inbound/http"
	"github.com/agentrelay/agentrelay/internal/adapter/inbound/stdio"
	agentclient "github.com/agentrelay/agentrelay/internal/adapter/outbound/agent"
	"github.com/agentrelay/agentrelay/internal/adapter/outbound/memory"
	redisstore "github.com/agentrelay/agentrelay/internal/adapter/outbound/redis"
	"github.com/agentrelay/agentrelay/internal/config"
	"github.com/agentrelay/agentrelay/internal/dispatch"
	"github.com/agentrelay/agentrelay/internal/domain/session"
	"github.com/agentrelay/agentrelay/internal/port/outbound"
	"github.com/agentrelay/agentrelay/internal/transport"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway",
	Long: `Start the agentrelay gateway.

The gateway serves two channels:

1. HTTP mode (default): JSON-RPC over POST /mcp, a server-push stream
   on GET /mcp, and session termination on DELETE /mcp.

2. Pipe mode (--stdio): newline-delimited JSON-RPC on stdin/stdout.
   The process lifetime scopes one implicit session.

Examples:
  # Start with config file settings
  agentrelay serve

  # Start against a local agent runtime with the mock runtime disabled
  AGENTRELAY_AGENT_ENDPOINT=http://localhost:9090/rpc agentrelay serve

  # Development mode: debug logging plus the built-in mock runtime
  agentrelay serve --dev

  # Pipe mode for process-embedded callers
  agentrelay serve --stdio`,
	RunE: runServe,
}

var (
	devMode   bool
	stdioMode bool
)

func init() {
	serveCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (debug logging, mock agent runtime)")
	serveCmd.Flags().BoolVar(&stdioMode, "stdio", false, "Serve the process pipe instead of HTTP")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load without validation so CLI flags can override first.
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// Signal context for graceful shutdown. stop() restores default signal
	// handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
	}()

	// Logger to stderr (stdout is reserved for the pipe in --stdio mode).
	logLevel := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}

	logger.Info("agentrelay stopped")
	return nil
}

// run wires the components together and starts the selected transport.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.DevMode {
		logger.Warn("development mode enabled; do not use in production")
	}

	// Session store backend.
	var store session.Store
	switch cfg.Store.Backend {
	case "redis":
		rstore := redisstore.NewSessionStore(redisstore.Config{
			Addr:      cfg.Store.Redis.Addr,
			Password:  cfg.Store.Redis.Password,
			DB:        cfg.Store.Redis.DB,
			KeyPrefix: cfg.Store.Redis.KeyPrefix,
		}, logger)
		defer func() { _ = rstore.Close() }()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rstore.Ping(pingCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("session store unreachable: %w", err)
		}
		logger.Info("session store: redis", "addr", cfg.Store.Redis.Addr, "db", cfg.Store.Redis.DB)
		store = rstore
	default:
		logger.Info("session store: memory")
		store = memory.NewSessionStore()
	}

	sessions := session.NewService(store, session.Config{TTL: cfg.SessionTTL()}, logger)

	// Shared metrics: the HTTP transport, the binding registry, the
	// dispatcher, and the sweeper all record into one registry.
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := relayhttp.NewMetrics(promReg)

	registry := transport.NewRegistry(
		transport.WithLogger(logger),
		transport.WithChangeHook(func(kind transport.Kind, delta int) {
			metrics.ActiveBindings.WithLabelValues(string(kind)).Add(float64(delta))
		}),
	)

	// Upstream agent runtime. Dev mode without an endpoint runs the
	// built-in mock runtime.
	var invoker outbound.AgentInvoker
	if cfg.Agent.Endpoint != "" {
		invoker = agentclient.NewHTTPInvoker(cfg.Agent.Endpoint,
			agentclient.WithTimeout(cfg.AgentTimeout()),
			agentclient.WithLogger(logger),
		)
		logger.Info("agent runtime: http", "endpoint", cfg.Agent.Endpoint, "timeout", cfg.AgentTimeout())
	} else {
		invoker = agentclient.NewMockInvoker()
		logger.Warn("agent runtime: built-in mock (dev mode)")
	}
	defer func() { _ = invoker.Close() }()

	dispatcher := dispatch.NewDispatcher(sessions, invoker, registry,
		dispatch.WithLogger(logger),
		dispatch.WithServerInfo("agentrelay", Version),
		dispatch.WithQueryTimeout(cfg.AgentTimeout()),
		dispatch.WithObserver(func(method string, errCode int) {
			metrics.RPCRequestsTotal.WithLabelValues(method, strconv.Itoa(errCode)).Inc()
		}),
	)

	sweeper := session.NewSweeper(store, cfg.SweepInterval(), logger,
		session.WithSweepObserver(func(removed int, err error) {
			if err != nil {
				metrics.SweepFailuresTotal.Inc()
				return
			}
			metrics.SweepRemovedTotal.Add(float64(removed))
		}),
	)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	if stdioMode {
		logger.Info("transport mode: stdio")
		pipe := stdio.NewTransport(dispatcher, sessions, registry, stdio.WithLogger(logger))
		return pipe.Start(ctx)
	}

	printBanner(Version, cfg.Server.Addr, cfg.DevMode, cfg.Store.Backend)

	healthChecker := relayhttp.NewHealthChecker(store, registry, Version)

	transportOpts := []relayhttp.Option{
		relayhttp.WithAddr(cfg.Server.Addr),
		relayhttp.WithLogger(logger),
		relayhttp.WithAllowedOrigins(cfg.Server.AllowedOrigins),
		relayhttp.WithHealthChecker(healthChecker),
		relayhttp.WithMetrics(metrics, promReg),
	}
	if cfg.Server.TLSCert != "" && cfg.Server.TLSKey != "" {
		transportOpts = append(transportOpts, relayhttp.WithTLS(cfg.Server.TLSCert, cfg.Server.TLSKey))
	}

	server := relayhttp.NewTransport(dispatcher, sessions, registry, transportOpts...)
	logger.Info("transport mode: HTTP", "addr", cfg.Server.Addr)
	return server.Start(ctx)
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// printBanner prints a startup banner to stderr. Never called in stdio
// mode so the pipe stays clean.
func printBanner(version, addr string, devMode bool, backend string) {
	const (
		reset  = "\033[0m"
		bold   = "\033[1m"
		cyan   = "\033[36m"
		green  = "\033[32m"
		yellow = "\033[33m"
		dim    = "\033[2m"
	)

	endpoint := fmt.Sprintf("http://%s/mcp", addr)
	if strings.HasPrefix(addr, ":") {
		endpoint = fmt.Sprintf("http://localhost%s/mcp", addr)
	}

	modeStr := green + "production" + reset
	if devMode {
		modeStr = yellow + "development" + reset
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  %s%sagentrelay %s%s\n", bold, cyan, version, reset)
	fmt.Fprintf(os.Stderr, "  %s─────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(os.Stderr, "  %-10s %s\n", "Endpoint:", endpoint)
	fmt.Fprintf(os.Stderr, "  %-10s %s\n", "Mode:", modeStr)
	fmt.Fprintf(os.Stderr, "  %-10s %s\n", "Store:", backend)
	fmt.Fprintf(os.Stderr, "  %s─────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(os.Stderr, "\n")
}
