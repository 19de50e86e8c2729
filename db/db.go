package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	maxRetries = 10
	retryDelay = 10 * time.Second
)

// Connect opens a pool against dbURL, retrying while the database comes up,
// and enables the pgvector extension.
func Connect(ctx context.Context, dbURL string, logger *slog.Logger) (*pgxpool.Pool, error) {
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is not set")
	}

	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse DATABASE_URL: %w", err)
	}

	var pool *pgxpool.Pool
	for i := 0; i < maxRetries; i++ {
		pool, err = pgxpool.NewWithConfig(ctx, config)
		if err == nil {
			err = pool.Ping(ctx)
			if err == nil {
				logger.Info("Successfully connected to the database")
				break
			}
			pool.Close()
		}

		logger.Warn("Failed to connect to the database",
			slog.Int("attempt", i+1),
			slog.Int("max_attempts", maxRetries),
			slog.String("error", err.Error()))
		if i < maxRetries-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryDelay):
			}
		}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to connect to the database after %d attempts: %w", maxRetries, err)
	}

	if _, err = pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to create vector extension: %w", err)
	}

	return pool, nil
}

// Migrate creates the document, chunk and knowledge tables. Vector columns
// are sized to dims so inserts with any other dimension are rejected by
// the database as well as by the store.
func Migrate(ctx context.Context, pool *pgxpool.Pool, dims int) error {
	for _, stmt := range SchemaStatements(dims) {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

func SchemaStatements(dims int) []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id           TEXT PRIMARY KEY,
			owner        TEXT NOT NULL,
			filename     TEXT NOT NULL,
			size         BIGINT NOT NULL DEFAULT 0,
			mime_type    TEXT NOT NULL DEFAULT '',
			status       TEXT NOT NULL DEFAULT 'pending'
				CHECK (status IN ('pending', 'processing', 'completed', 'failed')),
			storage_path TEXT NOT NULL DEFAULT '',
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS document_chunks (
			id             TEXT PRIMARY KEY,
			document_id    TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			chunk_index    INT NOT NULL,
			content        TEXT NOT NULL,
			token_estimate INT NOT NULL DEFAULT 0,
			embedding      vector(%d),
			start_offset   INT NOT NULL,
			end_offset     INT NOT NULL,
			UNIQUE (document_id, chunk_index)
		)`, dims),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS knowledge_entries (
			id               TEXT PRIMARY KEY,
			owner            TEXT NOT NULL,
			title            TEXT NOT NULL,
			description      TEXT NOT NULL DEFAULT '',
			source_type      TEXT NOT NULL CHECK (source_type IN ('document', 'url', 'manual')),
			source_reference TEXT,
			content          TEXT NOT NULL,
			embedding        vector(%d),
			tags             TEXT[] NOT NULL DEFAULT '{}',
			created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, dims),
		`CREATE INDEX IF NOT EXISTS idx_documents_status_updated ON documents (status, updated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_document_chunks_document ON document_chunks (document_id, chunk_index)`,
	}
}
