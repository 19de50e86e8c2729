package store

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/jackc/pgx/v5/pgxpool"
)

// VectorIndex describes one ivfflat index over a vector column.
type VectorIndex struct {
	Name   string
	Table  string
	Column string
}

var DefaultIndexes = []VectorIndex{
	{Name: "idx_document_chunks_embedding", Table: "document_chunks", Column: "embedding"},
	{Name: "idx_knowledge_entries_embedding", Table: "knowledge_entries", Column: "embedding"},
}

const minLists = 100

// IndexManager handles vector index operations
type IndexManager struct {
	db      *pgxpool.Pool
	logger  *slog.Logger
	indexes []VectorIndex
}

func NewIndexManager(db *pgxpool.Pool, logger *slog.Logger) *IndexManager {
	return &IndexManager{
		db:      db,
		logger:  logger,
		indexes: DefaultIndexes,
	}
}

// OptimalLists is sqrt(rows) with a floor of 100.
func OptimalLists(rows int) int {
	lists := int(math.Sqrt(float64(rows)))
	if lists < minLists {
		lists = minLists
	}
	return lists
}

// NeedsRebuild reports whether current differs from optimal by more than half.
func NeedsRebuild(current, optimal int) bool {
	return math.Abs(float64(current-optimal)) > float64(optimal)*0.5
}

// CreateOrUpdateIndex drops and recreates the cosine ivfflat index.
func (im *IndexManager) CreateOrUpdateIndex(ctx context.Context, idx VectorIndex) error {
	var count int
	err := im.db.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s IS NOT NULL", idx.Table, idx.Column)).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to count rows in %s: %w", idx.Table, err)
	}

	lists := OptimalLists(count)

	if _, err = im.db.Exec(ctx, fmt.Sprintf("DROP INDEX IF EXISTS %s", idx.Name)); err != nil {
		return fmt.Errorf("failed to drop existing index: %w", err)
	}

	createIndexSQL := fmt.Sprintf(`
		CREATE INDEX %s
		ON %s
		USING ivfflat (%s vector_cosine_ops)
		WITH (lists = %d)
	`, idx.Name, idx.Table, idx.Column, lists)

	if _, err = im.db.Exec(ctx, createIndexSQL); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	im.logger.Info("Vector index created/updated successfully",
		slog.String("index", idx.Name),
		slog.Int("row_count", count),
		slog.Int("list_count", lists))

	return nil
}

// ReindexIfNeeded rebuilds every managed index whose list count drifted.
func (im *IndexManager) ReindexIfNeeded(ctx context.Context) error {
	for _, idx := range im.indexes {
		if err := im.reindexOne(ctx, idx); err != nil {
			return err
		}
	}
	return nil
}

// RebuildAll unconditionally recreates every managed index.
func (im *IndexManager) RebuildAll(ctx context.Context) error {
	for _, idx := range im.indexes {
		if err := im.CreateOrUpdateIndex(ctx, idx); err != nil {
			return err
		}
	}
	return nil
}

func (im *IndexManager) reindexOne(ctx context.Context, idx VectorIndex) error {
	var currentLists int
	err := im.db.QueryRow(ctx, `
		SELECT split_part(reloptions[1]::text, '=', 2)::int
		FROM pg_class
		WHERE relname = $1
		AND reloptions IS NOT NULL
	`, idx.Name).Scan(&currentLists)
	if err != nil {
		// Index doesn't exist or other error
		return im.CreateOrUpdateIndex(ctx, idx)
	}

	var count int
	err = im.db.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s IS NOT NULL", idx.Table, idx.Column)).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to count rows in %s: %w", idx.Table, err)
	}

	optimalLists := OptimalLists(count)
	if NeedsRebuild(currentLists, optimalLists) {
		im.logger.Info("Rebuilding vector index due to significant size change",
			slog.String("index", idx.Name),
			slog.Int("current_lists", currentLists),
			slog.Int("optimal_lists", optimalLists))
		return im.CreateOrUpdateIndex(ctx, idx)
	}

	return nil
}
