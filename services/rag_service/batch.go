package rag_service

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/pgvector/pgvector-go"
	"golang.org/x/sync/errgroup"

	"github.com/serisow/ragone/config"
	"github.com/serisow/ragone/pipeline_type"
)

type BatchStats struct {
	Total    int `json:"total"`
	Embedded int `json:"embedded"`
	Failed   int `json:"failed"`
}

// BatchEmbedder embeds chunks in groups of batchSize, running each group
// concurrently and pausing between groups to stay under upstream rate limits.
type BatchEmbedder struct {
	embedder  Embedder
	batchSize int
	pause     time.Duration
	logger    *slog.Logger
}

func NewBatchEmbedder(embedder Embedder, cfg config.RAGConfig, logger *slog.Logger) *BatchEmbedder {
	size := cfg.EmbeddingBatchSize
	if size <= 0 {
		size = 5
	}
	return &BatchEmbedder{
		embedder:  embedder,
		batchSize: size,
		pause:     cfg.EmbeddingBatchPause,
		logger:    logger,
	}
}

// EmbedChunks sets Embedding on every chunk it can. A failed chunk keeps a
// nil Embedding and never affects its siblings. The error is non-nil only
// when ctx ends before all groups were attempted.
func (b *BatchEmbedder) EmbedChunks(ctx context.Context, chunks []pipeline_type.Chunk) (BatchStats, error) {
	stats := BatchStats{Total: len(chunks)}
	var embedded, failed atomic.Int64

	for groupStart := 0; groupStart < len(chunks); groupStart += b.batchSize {
		if groupStart > 0 && b.pause > 0 {
			select {
			case <-ctx.Done():
				stats.Embedded, stats.Failed = int(embedded.Load()), int(failed.Load())
				stats.Failed += len(chunks) - groupStart
				return stats, ctx.Err()
			case <-time.After(b.pause):
			}
		}

		groupEnd := min(groupStart+b.batchSize, len(chunks))

		var g errgroup.Group
		g.SetLimit(b.batchSize)
		for i := groupStart; i < groupEnd; i++ {
			g.Go(func() error {
				chunk := &chunks[i]
				vec, err := b.embed(ctx, chunk.Content)
				if err != nil {
					failed.Add(1)
					b.logger.Warn("Failed to embed chunk",
						slog.String("document_id", chunk.DocumentID),
						slog.Int("chunk_index", chunk.Index),
						slog.String("error", err.Error()))
					return nil
				}
				chunk.Embedding = &vec
				embedded.Add(1)
				return nil
			})
		}
		g.Wait()
	}

	stats.Embedded, stats.Failed = int(embedded.Load()), int(failed.Load())
	return stats, nil
}

// embed turns a panic in the embedder into an ordinary per-chunk failure;
// recovery in the caller does not reach worker goroutines.
func (b *BatchEmbedder) embed(ctx context.Context, text string) (vec pgvector.Vector, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("embedder panicked: %v", r)
		}
	}()
	return b.embedder.Embed(ctx, text)
}
