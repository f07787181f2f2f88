// Quorum orchestrator server: authenticates WebSocket sessions, routes
// chat messages into multi-provider collaborations, and streams the results
// back to the client.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/codeready-toolchain/quorum/pkg/api"
	"github.com/codeready-toolchain/quorum/pkg/budget"
	"github.com/codeready-toolchain/quorum/pkg/bus"
	"github.com/codeready-toolchain/quorum/pkg/config"
	"github.com/codeready-toolchain/quorum/pkg/contextstore"
	"github.com/codeready-toolchain/quorum/pkg/database"
	"github.com/codeready-toolchain/quorum/pkg/dispatch"
	"github.com/codeready-toolchain/quorum/pkg/gateway"
	"github.com/codeready-toolchain/quorum/pkg/keystore"
	"github.com/codeready-toolchain/quorum/pkg/llmclient"
	"github.com/codeready-toolchain/quorum/pkg/version"
	"github.com/codeready-toolchain/quorum/pkg/workflow"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	slog.Info("Starting Quorum",
		"version", version.Full(),
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Initialize database. A missing database is not fatal: sessions run
	// Degraded with in-memory stores and chat keeps working.
	var dbClient *database.Client
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}

	dbClient, err = database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Warn("Database unavailable, running without persistence", "error", err)
		dbClient = nil
	} else {
		defer dbClient.Close()
		slog.Info("Connected to PostgreSQL database")
	}

	// 3. Build the stores on top of whichever backend is available
	var (
		keys      keystore.Store
		persister contextstore.Persister
		daily     budget.DailyStore
	)
	if dbClient != nil {
		keys = keystore.NewPostgresStore(dbClient.Pool())
		persister = contextstore.NewPostgresPersister(dbClient.Pool())
		daily = budget.NewPostgresDailyStore(dbClient.Pool())
	} else {
		keys = keystore.NewMemoryStore()
		persister = contextstore.NewMemoryPersister()
		daily = budget.NewMemoryDailyStore()
	}

	// 4. Provider client registry
	registry := llmclient.NewRegistry(llmclient.RegistryConfig{
		Keys:           keys,
		LlamaBaseURL:   os.Getenv("LLAMA_BASE_URL"),
		ModelOverrides: cfg.ModelOverrides(),
	})

	// 5. Collaboration machinery
	eventBus := bus.New()
	limiter := dispatch.NewLimiter(cfg.Collaboration.SlotsPerProvider)
	engine := workflow.NewEngine(registry, eventBus, limiter, cfg.Collaboration.RetryPolicy())
	slog.Info("Workflow engine initialized",
		"slots_per_provider", cfg.Collaboration.SlotsPerProvider)

	// 6. Session gateway
	connManager := gateway.NewConnectionManager(gateway.ManagerConfig{
		Engine:         engine,
		Directory:      registry,
		Bus:            eventBus,
		Contexts:       contextstore.NewStore(persister),
		Daily:          daily,
		Keys:           keys,
		Defaults:       cfg.Defaults,
		ModelOverrides: cfg.ModelOverrides(),
		PingInterval:   cfg.Collaboration.PingInterval,
	})

	// 7. HTTP server
	httpServer := api.NewServer(cfg, dbClient, connManager)

	errCh := make(chan error, 1)
	go func() {
		addr := cfg.System.ListenAddr
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	stats := cfg.Stats()
	slog.Info("Quorum started successfully",
		"enabled_providers", stats.EnabledProviders,
		"default_collab_mode", stats.DefaultCollabMode)

	// 8. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 9. Graceful shutdown: close sessions first so active collaborations
	// cancel, then drain the HTTP server.
	connManager.CloseAll("server shutting down")

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
