// YokeFlow orchestrator server: hosts the control API, runs the per-project
// session loops, relays the live event stream, and sweeps expired rows.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/yokeflow/yokeflow/pkg/api"
	"github.com/yokeflow/yokeflow/pkg/config"
	"github.com/yokeflow/yokeflow/pkg/database"
	"github.com/yokeflow/yokeflow/pkg/events"
	"github.com/yokeflow/yokeflow/pkg/orchestrator"
	"github.com/yokeflow/yokeflow/pkg/quality"
	"github.com/yokeflow/yokeflow/pkg/redact"
	"github.com/yokeflow/yokeflow/pkg/retention"
	"github.com/yokeflow/yokeflow/pkg/runner"
	"github.com/yokeflow/yokeflow/pkg/sandbox"
	"github.com/yokeflow/yokeflow/pkg/store"
	"github.com/yokeflow/yokeflow/pkg/telemetry"
	"github.com/yokeflow/yokeflow/pkg/version"
)

// orchestratorStopBudget bounds how long shutdown waits for running sessions
// to cancel. Anything still running past it is orphan-recovered on the next
// start.
const orchestratorStopBudget = 30 * time.Second

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// resolveOwner determines the instance identifier stamped on claimed
// sessions. Priority: YOKEFLOW_OWNER env > HOSTNAME env > "local"
func resolveOwner() string {
	if owner := os.Getenv("YOKEFLOW_OWNER"); owner != "" {
		return owner
	}
	if hostname := os.Getenv("HOSTNAME"); hostname != "" {
		return hostname
	}
	return "local"
}

// configureLogging installs the default text logger at the level named by
// LOG_LEVEL. Unknown or empty values mean info.
func configureLogging() {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func main() {
	configPath := flag.String("config",
		getEnv("YOKEFLOW_CONFIG", ""),
		"Path to the YAML configuration file (empty for built-in defaults)")
	flag.Parse()

	// Load .env before configuring logging so LOG_LEVEL can come from it.
	envPath := getEnv("ENV_FILE", ".env")
	envLoadErr := godotenv.Load(envPath)
	configureLogging()
	if envLoadErr != nil {
		slog.Debug("No .env file loaded, continuing with existing environment",
			"path", envPath, "error", envLoadErr)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	owner := resolveOwner()
	logger := slog.Default()

	slog.Info("Starting yokeflow",
		"version", version.Full(),
		"owner", owner,
		"config", *configPath)

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Initialize(ctx, *configPath)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Database (migrations run inside NewClient)
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}

	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(2)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database",
		"host", dbConfig.Host, "database", dbConfig.Database)

	st := store.New(dbClient)

	// 3. Event plane: redacted publisher, fan-out hub, and the dedicated
	// LISTEN connection feeding it.
	publisher := events.NewPublisher(dbClient, redact.NewService())
	hub := events.NewHub(0)

	notifyListener := events.NewNotifyListener(dbConfig.DSN(), hub)
	if err := notifyListener.Start(ctx); err != nil {
		slog.Error("Failed to start notify listener", "error", err)
		os.Exit(2)
	}
	defer notifyListener.Stop(ctx)
	hub.SetListener(notifyListener)
	slog.Info("Event stream infrastructure started")

	// 4. Session machinery: sandboxes, the agent host, and the quality
	// pipeline with its out-of-band reviewer.
	sandboxes := sandbox.NewManager(cfg, logger)
	agents := runner.NewHost(cfg, logger)
	reviewer := quality.NewAgentReviewer(logger, agents)
	pipeline := quality.NewPipeline(logger, cfg, st, reviewer)
	retests := quality.NewRetestPlanner(logger, cfg, st)
	tel := telemetry.New()

	// 5. Orchestrator (sweeps sessions abandoned by a previous run of this
	// owner before accepting work)
	orch := orchestrator.New(logger, cfg, st, sandboxes, agents, pipeline, retests, publisher, tel, owner)
	if err := orch.Start(ctx); err != nil {
		slog.Error("Failed to start orchestrator", "error", err)
		os.Exit(2)
	}

	// 6. Retention sweeper
	sweeper := retention.NewSweeper(logger, cfg.Retention, st)
	sweeper.Start(ctx)

	// 7. HTTP server (non-blocking)
	srv := api.NewServer(logger, cfg.Server, orch, st, hub, dbClient, tel)
	httpServer := &http.Server{
		Addr:              srv.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("yokeflow started successfully", "owner", owner, "addr", httpServer.Addr)

	// 8. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 9. Graceful shutdown. Sessions first: cancelling them publishes their
	// terminal events while the stream endpoints are still up.
	stopCtx, stopCancel := context.WithTimeout(ctx, orchestratorStopBudget)
	defer stopCancel()

	done := make(chan struct{})
	go func() {
		orch.Stop()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Orchestrator stopped gracefully")
	case <-stopCtx.Done():
		slog.Warn("Orchestrator stop budget exceeded, sessions left for orphan recovery")
	}

	sweeper.Stop()

	// Stop HTTP server with its own timeout budget. Open SSE streams never
	// finish on their own, so this routinely runs the clock out.
	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
