// Flowd is a development workflow orchestration daemon.
//
// This binary starts the flowd MCP server on stdio plus an HTTP API,
// with full service initialization: lane classifier, operation policy,
// model routing, phase machine, and deliverable storage.
//
// Configuration is loaded from a YAML file overridden by FLOWD_-prefixed
// environment variables. See internal/config for details.
//
// Usage:
//
//	# Start the daemon with defaults
//	flowd
//
//	# Use a config file
//	flowd -config ~/.config/flowd/config.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/flowd/internal/agent"
	"github.com/fyrsmithlabs/flowd/internal/capability"
	"github.com/fyrsmithlabs/flowd/internal/config"
	"github.com/fyrsmithlabs/flowd/internal/deliverable"
	"github.com/fyrsmithlabs/flowd/internal/httpapi"
	"github.com/fyrsmithlabs/flowd/internal/logging"
	"github.com/fyrsmithlabs/flowd/internal/mcp"
	"github.com/fyrsmithlabs/flowd/internal/orchestrator"
	"github.com/fyrsmithlabs/flowd/internal/phases"
	"github.com/fyrsmithlabs/flowd/internal/policy"
	"github.com/fyrsmithlabs/flowd/internal/routing"
	"github.com/fyrsmithlabs/flowd/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  flowd            Start the flowd daemon\n")
			fmt.Fprintf(os.Stderr, "  flowd version    Show version information\n")
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

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("flowd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the flowd daemon and blocks until the context is cancelled.
//
// Initialization order:
//  1. Load and validate configuration
//  2. Initialize logger and telemetry
//  3. Load the operation policy and build the enforcer
//  4. Build the model router and capability factory
//  5. Wire the agent runner, phase machine, and deliverable store
//  6. Create the orchestrator runtime
//  7. Serve MCP on stdio and the HTTP API concurrently
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()

	logger.Info("Starting flowd",
		zap.String("version", version),
		zap.Int("http_port", cfg.Server.Port),
		zap.Bool("telemetry", cfg.Telemetry.Enabled))

	telemetryProvider, err := telemetry.New(ctx, &cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryProvider.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	// Policy load failures are fatal: running with a silently missing
	// policy would remove every operation limit.
	var policyCfg *policy.Config
	if cfg.Policy.Path != "" {
		policyCfg, err = policy.LoadConfig(cfg.Policy.Path)
		if err != nil {
			return fmt.Errorf("failed to load policy %s: %w", cfg.Policy.Path, err)
		}
		logger.Info("Policy loaded",
			zap.String("path", cfg.Policy.Path),
			zap.Int("operations", len(policyCfg.Operations)))
	}
	enforcer := policy.NewEnforcer(policyCfg, logger)

	router, err := routing.NewRouter(cfg.DefaultRoute(), cfg.Routing.Overrides)
	if err != nil {
		return fmt.Errorf("failed to build router: %w", err)
	}

	factory := capability.NewLLMFactory(capability.Config{
		APIKey:            cfg.Capability.APIKey,
		BaseURL:           cfg.Capability.BaseURL,
		RequestsPerMinute: cfg.Capability.RequestsPerMinute,
	})

	complexClient, err := factory.Create(ctx, router.Resolve(routing.KeyComplex))
	if err != nil {
		return fmt.Errorf("failed to create complex-lane client: %w", err)
	}

	runner, err := agent.NewRunner(complexClient, logger)
	if err != nil {
		return fmt.Errorf("failed to create agent runner: %w", err)
	}
	machine, err := phases.NewMachine(runner, logger)
	if err != nil {
		return fmt.Errorf("failed to build phase machine: %w", err)
	}

	store, err := deliverable.NewFileStore(cfg.Deliverables.Dir, logger)
	if err != nil {
		return fmt.Errorf("failed to create deliverable store: %w", err)
	}

	runtimeCfg := orchestrator.NewDefaultConfig()
	runtimeCfg.ApprovalMode = cfg.Routing.ApprovalMode
	runtimeCfg.AutoApprove = cfg.Routing.AutoApprove
	runtimeCfg.ApprovedOperations = cfg.Routing.ApprovedOperations
	runtimeCfg.QuickInitTimeout = cfg.QuickLane.InitTimeout

	runtime, err := orchestrator.NewRuntime(runtimeCfg, orchestrator.Deps{
		Enforcer: enforcer,
		Router:   router,
		Machine:  machine,
		Store:    store,
		Factory:  factory,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create runtime: %w", err)
	}

	httpServer, err := httpapi.NewServer(runtime, logger, &httpapi.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	mcpServer, err := mcp.NewServer(&mcp.Config{Version: version, Logger: logger}, runtime)
	if err != nil {
		return fmt.Errorf("failed to create mcp server: %w", err)
	}

	// HTTP serves health, metrics, and the classify API alongside the
	// stdio MCP transport.
	httpErrCh := make(chan error, 1)
	go func() {
		httpErrCh <- httpServer.Start()
	}()

	mcpErrCh := make(chan error, 1)
	go func() {
		mcpErrCh <- mcpServer.Run(ctx)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-httpErrCh:
		runErr = fmt.Errorf("http server failed: %w", err)
	case err := <-mcpErrCh:
		if err != nil {
			runErr = fmt.Errorf("mcp server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", zap.Error(err))
	}

	return runErr
}
