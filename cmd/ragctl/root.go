// Command ragctl runs operator tasks against the ragone database: stale
// document recovery, vector index rebuilds and command-line ingestion.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/serisow/ragone/app"
	"github.com/serisow/ragone/config"
	"github.com/serisow/ragone/db"
	"github.com/serisow/ragone/pipeline_type"
	"github.com/serisow/ragone/storage"
	"github.com/serisow/ragone/store"
)

type staleResetter interface {
	ResetStaleProcessing(ctx context.Context, olderThan time.Duration) (int64, error)
}

type indexRebuilder interface {
	RebuildAll(ctx context.Context) error
}

type documentIngester interface {
	Ingest(ctx context.Context, owner, source string) (*pipeline_type.IngestResult, error)
}

// services is what the subcommands run against.
type services struct {
	maintenance staleResetter
	indexes     indexRebuilder
	ingester    documentIngester
	close       func()
}

// openServices is swapped out in tests.
var openServices = connect

var verbose bool

var rootCmd = &cobra.Command{
	Use:           "ragctl",
	Short:         "Operate the ragone ingestion pipeline",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func connect(ctx context.Context) (*services, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger := newLogger()

	pool, err := db.Connect(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, pool, cfg.Embedding.Dimensions); err != nil {
		pool.Close()
		return nil, err
	}
	files, err := storage.NewLocalStorage(cfg.UploadDir)
	if err != nil {
		pool.Close()
		return nil, err
	}

	a, err := app.New(cfg, store.NewPostgresStore(pool, cfg.Embedding.Dimensions, logger), files, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return &services{
		maintenance: a.Maintenance,
		indexes:     store.NewIndexManager(pool, logger),
		ingester:    newIngester(a),
		close:       pool.Close,
	}, nil
}

func withServices(ctx context.Context, fn func(*services) error) error {
	svc, err := openServices(ctx)
	if err != nil {
		return err
	}
	if svc.close != nil {
		defer svc.close()
	}
	return fn(svc)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
