// Specfactoryd is the specification factory daemon with HTTP and MCP transports.
//
// This binary starts the session orchestration service with full
// initialization, including the agent adapter, NATS event publishing, the
// approved-artifact archive and the downstream job-launch client.
//
// Configuration is loaded from SPECFACTORY_* environment variables plus an
// optional YAML file. See internal/config for details.
//
// Usage:
//
//	# Start the HTTP server with defaults
//	specfactoryd
//
//	# Configure via environment
//	SPECFACTORY_HTTP_PORT=9090 SPECFACTORY_API_KEY=sk-... specfactoryd
//
//	# Serve MCP over stdio instead of HTTP
//	specfactoryd -mcp
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otellog "go.opentelemetry.io/otel/log"
	"go.uber.org/zap"

	"github.com/rodcar/agentic-software-factory/internal/agents"
	"github.com/rodcar/agentic-software-factory/internal/archive"
	"github.com/rodcar/agentic-software-factory/internal/config"
	"github.com/rodcar/agentic-software-factory/internal/document"
	"github.com/rodcar/agentic-software-factory/internal/events"
	"github.com/rodcar/agentic-software-factory/internal/httpapi"
	"github.com/rodcar/agentic-software-factory/internal/jobs"
	"github.com/rodcar/agentic-software-factory/internal/logging"
	"github.com/rodcar/agentic-software-factory/internal/mcp"
	"github.com/rodcar/agentic-software-factory/internal/review"
	"github.com/rodcar/agentic-software-factory/internal/secrets"
	"github.com/rodcar/agentic-software-factory/internal/session"
	"github.com/rodcar/agentic-software-factory/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	mcpMode := flag.Bool("mcp", false, "serve MCP over stdio instead of HTTP")
	flag.Parse()
	args := flag.Args()

	// Handle subcommands
	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  specfactoryd           Start the daemon\n")
			fmt.Fprintf(os.Stderr, "  specfactoryd -mcp      Serve MCP over stdio\n")
			fmt.Fprintf(os.Stderr, "  specfactoryd version   Show version information\n")
			os.Exit(1)
		}
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *mcpMode); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("specfactoryd\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the daemon and blocks until the context is cancelled.
//
// This function initializes all dependencies and services:
//  1. Loads and validates configuration
//  2. Initializes telemetry and the structured logger
//  3. Connects to infrastructure (NATS, archive backend, job service)
//  4. Creates the document store, agent adapter, reviewer and manager
//  5. Starts the HTTP server, or serves MCP over stdio in -mcp mode
//  6. Performs graceful shutdown on context cancellation
func run(ctx context.Context, mcpMode bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	tel, err := initTelemetry(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		_ = tel.Shutdown(context.Background()) // Applies its configured timeout
	}()

	logger, err := initLogger(cfg, tel, mcpMode)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()

	logger.Info("Starting specfactoryd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("backend", cfg.Agents.Backend),
		zap.String("model", cfg.Agents.Model()),
		zap.Bool("telemetry", tel.IsEnabled()))

	for _, warning := range cfg.Warnings() {
		logger.Warn("Configuration warning", zap.String("warning", warning))
	}

	deps, err := initDependencies(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	logger.Info("Dependencies initialized",
		zap.Bool("scrubber_enabled", deps.scrubber.IsEnabled()),
		zap.Bool("events_enabled", deps.events.Enabled()),
		zap.Bool("jobs_enabled", deps.jobs.Enabled()))

	services, err := initServices(cfg, deps, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	defer services.Close()

	if mcpMode {
		mcpServer, err := mcp.NewServer(&mcp.Config{
			Name:    "specfactory",
			Version: version,
			Logger:  logger,
		}, services.manager, services.store)
		if err != nil {
			return fmt.Errorf("failed to create MCP server: %w", err)
		}

		logger.Info("Serving MCP over stdio")
		return mcpServer.Run(ctx)
	}

	srv, err := httpapi.NewServer(&httpapi.Config{
		Port:            cfg.Server.Port,
		ShutdownTimeout: cfg.Server.ShutdownTimeout.Duration(),
	}, services.manager, services.store, deps.archive, logger)
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	// Register metrics endpoint
	srv.Echo().GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	logger.Info("Server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)),
		zap.String("metrics_endpoint", "/metrics"))

	// Start server (blocks until context cancellation)
	if err := srv.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// dependencies holds all infrastructure dependencies.
type dependencies struct {
	scrubber secrets.Scrubber
	events   *events.Publisher
	archive  archive.Store
	jobs     *jobs.Client
}

// Close releases all infrastructure resources.
func (d *dependencies) Close() {
	if d.events != nil {
		_ = d.events.Close()
	}
	if d.archive != nil {
		_ = d.archive.Close()
	}
}

// services holds the session orchestration services.
type services struct {
	store    document.Store
	adapter  agents.Adapter
	reviewer review.Trigger
	manager  session.Manager
}

// Close shuts the services down manager-first so pending approval hooks
// drain before their targets close.
func (s *services) Close() {
	if s.manager != nil {
		_ = s.manager.Close()
	}
	if s.reviewer != nil {
		_ = s.reviewer.Close()
	}
	if s.adapter != nil {
		_ = s.adapter.Close()
	}
	if s.store != nil {
		_ = s.store.Close()
	}
}

// initTelemetry builds the OTLP exporter pipeline. A disabled or
// unreachable endpoint degrades to no-op providers rather than failing
// startup.
func initTelemetry(ctx context.Context, cfg *config.Config) (*telemetry.Telemetry, error) {
	tcfg := telemetry.NewDefaultConfig()
	tcfg.Enabled = cfg.Telemetry.Enabled
	if cfg.Telemetry.Endpoint != "" {
		tcfg.Endpoint = cfg.Telemetry.Endpoint
	}
	if cfg.Telemetry.Protocol != "" {
		tcfg.Protocol = cfg.Telemetry.Protocol
	}
	if cfg.Telemetry.ServiceName != "" {
		tcfg.ServiceName = cfg.Telemetry.ServiceName
	}
	tcfg.ServiceVersion = version
	tcfg.Insecure = cfg.Telemetry.Insecure
	if cfg.Telemetry.SampleRate > 0 {
		tcfg.Sampling.Rate = cfg.Telemetry.SampleRate
	}
	if cfg.Telemetry.ExportInterval.Duration() > 0 {
		tcfg.Metrics.ExportInterval = cfg.Telemetry.ExportInterval
	}

	return telemetry.New(ctx, tcfg)
}

// initLogger builds the structured logger. In -mcp mode stdout carries the
// JSON-RPC stream, so logs go to stderr instead.
func initLogger(cfg *config.Config, tel *telemetry.Telemetry, mcpMode bool) (*zap.Logger, error) {
	level, err := logging.LevelFromString(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Logging.Level, err)
	}

	if mcpMode {
		zcfg := zap.Config{
			Level:            zap.NewAtomicLevelAt(level),
			Encoding:         "console",
			EncoderConfig:    zap.NewDevelopmentEncoderConfig(),
			OutputPaths:      []string{"stderr"},
			ErrorOutputPaths: []string{"stderr"},
		}
		return zcfg.Build()
	}

	lcfg := logging.NewDefaultConfig()
	lcfg.Level = level
	if cfg.Logging.Format != "" {
		lcfg.Format = cfg.Logging.Format
	}
	lcfg.Output.OTEL = cfg.Logging.OTEL

	var provider otellog.LoggerProvider
	if cfg.Logging.OTEL && tel.IsEnabled() {
		provider = tel.LoggerProvider()
	}

	logger, err := logging.NewLogger(lcfg, provider)
	if err != nil {
		return nil, err
	}
	return logger.Underlying(), nil
}

// initDependencies initializes all infrastructure dependencies.
//
// This function:
//  1. Builds the secret scrubber
//  2. Connects the NATS event publisher (no-op with an empty URL)
//  3. Creates the archive store over its embedder
//  4. Creates the job-launch client (disabled with an empty URL)
func initDependencies(cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	scrubber, err := secrets.New(&secrets.Config{
		Enabled:         !cfg.Secrets.Disabled,
		RedactionString: cfg.Secrets.RedactionString,
		AllowlistPath:   cfg.Secrets.AllowlistPath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create secret scrubber: %w", err)
	}

	publisher, err := events.Connect(&events.Config{
		URL:           cfg.NATS.URL,
		SubjectPrefix: cfg.NATS.SubjectPrefix,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect event publisher: %w", err)
	}
	if publisher.Enabled() {
		logger.Info("Connected to NATS", zap.String("url", cfg.NATS.URL))
	}

	// The archive reuses the agents key unless it has its own.
	embedderKey := cfg.Embedder.APIKey.Value()
	if embedderKey == "" {
		embedderKey = cfg.Agents.APIKey.Value()
	}
	embedder, err := archive.NewEmbedder(archive.EmbedderConfig{
		BaseURL: cfg.Embedder.BaseURL,
		Model:   cfg.Embedder.Model,
		APIKey:  embedderKey,
	})
	if err != nil {
		_ = publisher.Close()
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	archiveStore, err := archive.New(archive.Config{
		Backend: cfg.Archive.Backend,
		Chromem: archive.ChromemConfig{
			Path:       cfg.Archive.Path,
			Compress:   cfg.Archive.Compress,
			Collection: cfg.Archive.Collection,
		},
		Qdrant: archive.QdrantConfig{
			Host:       cfg.Qdrant.Host,
			Port:       cfg.Qdrant.Port,
			Collection: cfg.Archive.Collection,
			VectorSize: cfg.Qdrant.VectorSize,
			UseTLS:     cfg.Qdrant.UseTLS,
		},
	}, embedder, logger)
	if err != nil {
		_ = publisher.Close()
		return nil, fmt.Errorf("failed to create archive store: %w", err)
	}

	logger.Info("Archive store initialized",
		zap.String("backend", cfg.Archive.Backend),
		zap.String("embedding_model", cfg.Embedder.Model))

	jobsClient, err := jobs.NewClient(&jobs.Config{
		URL:             cfg.Jobs.URL,
		OrganizationURL: cfg.Jobs.OrganizationURL,
		CodeAgent:       cfg.Jobs.CodeAgent,
		Token:           cfg.Jobs.Token.Value(),
		Timeout:         cfg.Jobs.Timeout.Duration(),
	}, logger)
	if err != nil {
		_ = publisher.Close()
		_ = archiveStore.Close()
		return nil, fmt.Errorf("failed to create job client: %w", err)
	}

	return &dependencies{
		scrubber: scrubber,
		events:   publisher,
		archive:  archiveStore,
		jobs:     jobsClient,
	}, nil
}

// initServices initializes the session orchestration services.
//
// This function creates the document store, agent adapter and review
// trigger, then wires them into the session manager together with the
// approval hooks (archive recorder, job launcher).
func initServices(cfg *config.Config, deps *dependencies, logger *zap.Logger) (*services, error) {
	store, err := document.NewStore(nil, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create document store: %w", err)
	}

	adapter, err := agents.NewAdapter(&agents.Config{
		Backend:           agents.Backend(cfg.Agents.Backend),
		Model:             cfg.Agents.Model(),
		APIKey:            cfg.Agents.APIKey.Value(),
		Endpoint:          cfg.Agents.Endpoint,
		APIVersion:        cfg.Agents.APIVersion,
		Timeout:           cfg.Agents.Timeout.Duration(),
		MaxRetries:        cfg.Agents.MaxRetries,
		BaseBackoff:       cfg.Agents.BaseBackoff.Duration(),
		RequestsPerMinute: cfg.Agents.RequestsPerMinute,
		Burst:             cfg.Agents.Burst,
		Temperature:       cfg.Agents.Temperature,
		MaxTokens:         cfg.Agents.MaxTokens,
		TemplateDir:       cfg.Agents.TemplateDir,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent adapter: %w", err)
	}

	reviewer, err := review.NewTrigger(nil, adapter, store, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create review trigger: %w", err)
	}

	recorder, err := archive.NewRecorder(deps.archive, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive recorder: %w", err)
	}

	hooks := []session.ApprovalHook{recorder}
	if deps.jobs.Enabled() {
		hooks = append(hooks, deps.jobs)
	}

	manager, err := session.NewManager(session.Options{
		Config: &session.Config{
			IdleTimeout:  cfg.Session.IdleTimeout.Duration(),
			ReapInterval: cfg.Session.ReapInterval.Duration(),
			MaxSessions:  cfg.Session.MaxSessions,
			HookTimeout:  cfg.Session.HookTimeout.Duration(),
		},
		Store:    store,
		Agents:   adapter,
		Reviewer: reviewer,
		Scrubber: deps.scrubber,
		Events:   deps.events,
		Hooks:    hooks,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session manager: %w", err)
	}

	return &services{
		store:    store,
		adapter:  adapter,
		reviewer: reviewer,
		manager:  manager,
	}, nil
}
