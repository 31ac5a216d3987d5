package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OpenPipe/pipeline/internal/config"
	"github.com/OpenPipe/pipeline/internal/database"
	"github.com/OpenPipe/pipeline/internal/pipeline"
)

func main() {
	// Load configuration from environment variables
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	slog.Info("configuration loaded successfully",
		"db_host", cfg.Database.Host,
		"db_port", cfg.Database.Port,
		"db_name", cfg.Database.Name,
		"db_sslmode", cfg.Database.SSLMode,
	)

	slog.Info("server configuration",
		"port", cfg.Server.Port,
		"load_schema", cfg.Pipeline.LoadSchema,
		"storage", cfg.Storage.Type,
	)

	ctx := context.Background()

	// Initialize database connections: gorm for the services, pgx for
	// the queue, the COPY sink and the notification listeners
	db, err := database.New(&cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer func() {
		if err := database.Close(db); err != nil {
			slog.Error("failed to close database", "error", err)
		}
	}()

	pool, err := database.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatalf("failed to create connection pool: %v", err)
	}
	defer pool.Close()

	// Create schema objects and load seeds on first boot
	if err := database.Bootstrap(ctx, pool); err != nil {
		log.Fatalf("failed to bootstrap database: %v", err)
	}

	// Wire the engine
	manager, err := pipeline.NewManager(ctx, cfg, db, pool)
	if err != nil {
		log.Fatalf("failed to initialize pipeline manager: %v", err)
	}

	// Fail fast when a seeded task class has no implementation
	if err := manager.Registry().Validate(ctx, db); err != nil {
		log.Fatalf("task catalog validation failed: %v", err)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: manager.Engine(),
	}

	// Channel to listen for interrupt signals
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Start server in a goroutine
	go func() {
		slog.Info("starting server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("failed to start server", "error", err)
			quit <- syscall.SIGTERM
		}
	}()

	// Wait for interrupt signal
	<-quit
	slog.Info("shutting down server...")

	// Attempt graceful shutdown of HTTP server
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	} else {
		slog.Info("server gracefully stopped")
	}

	slog.Info("server stopped")
}
