package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/OpenPipe/pipeline/internal/config"
	"github.com/OpenPipe/pipeline/internal/database"
	"github.com/OpenPipe/pipeline/internal/notify"
	"github.com/OpenPipe/pipeline/internal/pipeline"
	"github.com/OpenPipe/pipeline/internal/worker"
)

func main() {
	// Load configuration from environment variables
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	slog.Info("worker configuration",
		"count", cfg.Worker.Count,
		"lease_seconds", cfg.Worker.LeaseSeconds,
		"heartbeat_seconds", cfg.Worker.HeartbeatSeconds,
		"poll_seconds", cfg.Worker.PollSeconds,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	// The server binary bootstraps the schema; the worker only checks
	// it can reach the database and that the catalog is implemented.
	manager, err := pipeline.NewManager(ctx, cfg, db, pool)
	if err != nil {
		log.Fatalf("failed to initialize pipeline manager: %v", err)
	}
	if err := manager.Registry().Validate(ctx, db); err != nil {
		log.Fatalf("task catalog validation failed: %v", err)
	}

	workers := worker.NewPool(cfg.Worker, db, manager.Queue(), manager.TaskService(), manager.Registry(), &notify.PGSource{Pool: pool})

	slog.Info("worker pool starting")
	if err := workers.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("worker pool failed: %v", err)
	}
	slog.Info("worker pool stopped")
}
