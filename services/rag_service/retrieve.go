package rag_service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pgvector/pgvector-go"

	"github.com/serisow/ragone/config"
	"github.com/serisow/ragone/pipeline_type"
)

// Searcher is the read side of the store used for retrieval.
type Searcher interface {
	SearchChunks(ctx context.Context, query pgvector.Vector, threshold float64, topK int) ([]pipeline_type.SearchHit, error)
	SearchKnowledge(ctx context.Context, query pgvector.Vector, threshold float64, topK int) ([]pipeline_type.SearchHit, error)
}

type AssembledContext struct {
	Block   string                          `json:"block"`
	Results []pipeline_type.RetrievalResult `json:"results"`
}

type RetrievalStats struct {
	ChunksUsed    int `json:"chunks_used"`
	KnowledgeUsed int `json:"knowledge_used"`
}

const (
	chunkHeader     = "Relevant document excerpts:"
	knowledgeHeader = "Relevant knowledge base entries:"
)

type RetrievalAssembler struct {
	embedder Embedder
	searcher Searcher
	cfg      config.RAGConfig
	logger   *slog.Logger
}

func NewRetrievalAssembler(embedder Embedder, searcher Searcher, cfg config.RAGConfig, logger *slog.Logger) *RetrievalAssembler {
	return &RetrievalAssembler{embedder: embedder, searcher: searcher, cfg: cfg, logger: logger}
}

// Assemble embeds the query once and renders the best chunks and knowledge
// entries into a single context block. A failed search contributes no
// results; only a failure to embed the query is returned as an error,
// alongside an empty context.
func (a *RetrievalAssembler) Assemble(ctx context.Context, query string) (AssembledContext, RetrievalStats, error) {
	var out AssembledContext
	var stats RetrievalStats

	vec, err := a.embedder.Embed(ctx, query)
	if err != nil {
		rerr := &pipeline_type.RetrievalError{Query: query, Err: err}
		a.logger.Error("Failed to embed query",
			slog.String("query", query),
			slog.String("error", err.Error()))
		return out, stats, rerr
	}

	chunkHits := a.search(pipeline_type.KindChunk, query, func() ([]pipeline_type.SearchHit, error) {
		return a.searcher.SearchChunks(ctx, vec, a.cfg.ChunkSimilarityThreshold, a.cfg.ChunkTopK)
	})
	knowledgeHits := a.search(pipeline_type.KindKnowledge, query, func() ([]pipeline_type.SearchHit, error) {
		return a.searcher.SearchKnowledge(ctx, vec, a.cfg.KnowledgeSimilarityThreshold, a.cfg.KnowledgeTopK)
	})

	var sections []string
	if len(chunkHits) > 0 {
		var b strings.Builder
		b.WriteString(chunkHeader)
		for i, h := range chunkHits {
			fmt.Fprintf(&b, "\n[%d] %s", i+1, h.Content)
			out.Results = append(out.Results, toResult(pipeline_type.KindChunk, h))
		}
		sections = append(sections, b.String())
	}
	if len(knowledgeHits) > 0 {
		var b strings.Builder
		b.WriteString(knowledgeHeader)
		for i, h := range knowledgeHits {
			fmt.Fprintf(&b, "\n[KB%d] %s: %s", i+1, h.Title, h.Content)
			out.Results = append(out.Results, toResult(pipeline_type.KindKnowledge, h))
		}
		sections = append(sections, b.String())
	}

	out.Block = strings.Join(sections, "\n\n")
	stats.ChunksUsed = len(chunkHits)
	stats.KnowledgeUsed = len(knowledgeHits)

	a.logger.Debug("Assembled retrieval context",
		slog.Int("chunks_used", stats.ChunksUsed),
		slog.Int("knowledge_used", stats.KnowledgeUsed))
	return out, stats, nil
}

func (a *RetrievalAssembler) search(kind pipeline_type.SourceKind, query string, run func() ([]pipeline_type.SearchHit, error)) []pipeline_type.SearchHit {
	hits, err := run()
	if err != nil {
		rerr := &pipeline_type.RetrievalError{Source: kind, Query: query, Err: err}
		a.logger.Error("Retrieval failed, continuing without results",
			slog.String("source", string(kind)),
			slog.String("query", query),
			slog.String("error", rerr.Error()))
		return nil
	}
	return hits
}

func toResult(kind pipeline_type.SourceKind, h pipeline_type.SearchHit) pipeline_type.RetrievalResult {
	return pipeline_type.RetrievalResult{
		SourceKind:      kind,
		Title:           h.Title,
		Content:         h.Content,
		SimilarityScore: h.Similarity,
		OriginID:        h.ID,
	}
}
