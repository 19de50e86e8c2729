package main

import (
	"context"
	"log"
	"log/slog"
	"time"

	"github.com/serisow/ragone/app"
	"github.com/serisow/ragone/config"
	"github.com/serisow/ragone/db"
	"github.com/serisow/ragone/logging"
	"github.com/serisow/ragone/scheduler"
	"github.com/serisow/ragone/server"
	"github.com/serisow/ragone/storage"
	"github.com/serisow/ragone/store"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize the logger
	logger, err := initLogger(cfg.LogDir)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool, cfg.Embedding.Dimensions); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	files, err := storage.NewLocalStorage(cfg.UploadDir)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}

	a, err := app.New(cfg, store.NewPostgresStore(pool, cfg.Embedding.Dimensions, logger), files, logger)
	if err != nil {
		log.Fatalf("Failed to initialize services: %v", err)
	}

	indexes := store.NewIndexManager(pool, logger)
	go func() {
		ictx, cancel := context.WithTimeout(ctx, 10*time.Minute)
		defer cancel()
		if err := indexes.ReindexIfNeeded(ictx); err != nil {
			logger.Error("Vector index maintenance failed", slog.String("error", err.Error()))
		}
	}()

	// The first check sweeps documents left in processing by a previous run.
	sched := scheduler.New(cfg.Maintenance.CheckInterval, logger, maintenanceJobs(cfg, a, indexes)...)
	go sched.Start(ctx)

	// Initialize server
	r := server.SetupRoutes(a.Handlers(pool))
	n := server.SetupNegroni(r)

	if cfg.Environment == "production" {
		server.ServeProduction(cfg, n, logger)
	} else {
		server.ServeDevelopment(cfg, n, logger)
	}
}

func maintenanceJobs(cfg config.Config, a *app.App, indexes *store.IndexManager) []scheduler.Job {
	return []scheduler.Job{
		{
			Name:  "reset-stale",
			Every: cfg.Maintenance.StaleSweepEvery,
			Run: func(ctx context.Context) error {
				_, err := a.Maintenance.ResetStaleProcessing(ctx, cfg.RAG.StaleProcessingAfter)
				return err
			},
		},
		{
			Name:    "reindex",
			DailyAt: cfg.Maintenance.ReindexAt,
			Run: func(ctx context.Context) error {
				ctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
				defer cancel()
				return indexes.ReindexIfNeeded(ctx)
			},
		},
	}
}

func initLogger(logDir string) (*slog.Logger, error) {
	fileHandler, err := logging.NewDailyFileHandler(logDir, "ragone", &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	if err != nil {
		return nil, err
	}
	logger := slog.New(fileHandler)
	slog.SetDefault(logger)
	return logger, nil
}
