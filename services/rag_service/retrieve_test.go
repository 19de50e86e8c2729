package rag_service

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/pgvector/pgvector-go"
	"github.com/serisow/ragone/config"
	"github.com/serisow/ragone/pipeline_type"
	"github.com/serisow/ragone/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vecAt(sim float64) *pgvector.Vector {
	v := pgvector.NewVector([]float32{float32(sim), float32(math.Sqrt(1 - sim*sim))})
	return &v
}

func seededStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore(2)
	require.NoError(t, s.CreateDocument(ctx, &pipeline_type.Document{ID: "doc-1", Filename: "handbook.pdf", Status: pipeline_type.StatusCompleted}))
	require.NoError(t, s.ReplaceChunks(ctx, "doc-1", []pipeline_type.Chunk{
		{ID: "c1", Index: 0, Content: "Vacation requests need two weeks notice.", Embedding: vecAt(0.82)},
		{ID: "c2", Index: 1, Content: "The cafeteria opens at eight.", Embedding: vecAt(0.65)},
		{ID: "c3", Index: 2, Content: "Unused vacation days roll over.", Embedding: vecAt(0.91)},
	}))
	require.NoError(t, s.CreateKnowledge(ctx, &pipeline_type.KnowledgeEntry{
		ID: "kb1", Title: "Leave policy", Content: "Managers approve leave.", SourceType: pipeline_type.SourceManual, Embedding: vecAt(0.77),
	}))
	return s
}

func TestRetrievalAssembler_Assemble(t *testing.T) {
	a := NewRetrievalAssembler(&MockEmbedder{}, seededStore(t), config.DefaultRAG(), discardLogger())

	assembled, stats, err := a.Assemble(context.Background(), "how do I take vacation?")
	require.NoError(t, err)

	assert.Equal(t, RetrievalStats{ChunksUsed: 2, KnowledgeUsed: 1}, stats)
	assert.Equal(t,
		"Relevant document excerpts:\n"+
			"[1] Unused vacation days roll over.\n"+
			"[2] Vacation requests need two weeks notice.\n"+
			"\n"+
			"Relevant knowledge base entries:\n"+
			"[KB1] Leave policy: Managers approve leave.",
		assembled.Block)

	require.Len(t, assembled.Results, 3)
	assert.Equal(t, pipeline_type.KindChunk, assembled.Results[0].SourceKind)
	assert.Equal(t, "c3", assembled.Results[0].OriginID)
	assert.Equal(t, "handbook.pdf", assembled.Results[0].Title)
	assert.InDelta(t, 0.91, assembled.Results[0].SimilarityScore, 1e-5)
	assert.Equal(t, pipeline_type.KindKnowledge, assembled.Results[2].SourceKind)
}

func TestRetrievalAssembler_OmitsEmptySections(t *testing.T) {
	s := store.NewMemoryStore(2)
	require.NoError(t, s.CreateKnowledge(context.Background(), &pipeline_type.KnowledgeEntry{
		ID: "kb1", Title: "Hours", Content: "Open 9 to 5.", Embedding: vecAt(0.95),
	}))
	a := NewRetrievalAssembler(&MockEmbedder{}, s, config.DefaultRAG(), discardLogger())

	assembled, stats, err := a.Assemble(context.Background(), "when are you open")
	require.NoError(t, err)
	assert.Equal(t, "Relevant knowledge base entries:\n[KB1] Hours: Open 9 to 5.", assembled.Block)
	assert.Equal(t, 0, stats.ChunksUsed)

	empty := NewRetrievalAssembler(&MockEmbedder{}, store.NewMemoryStore(2), config.DefaultRAG(), discardLogger())
	assembled, stats, err = empty.Assemble(context.Background(), "anything")
	require.NoError(t, err)
	assert.Empty(t, assembled.Block)
	assert.Equal(t, RetrievalStats{}, stats)
}

type brokenChunkSearch struct{ *store.MemoryStore }

func (brokenChunkSearch) SearchChunks(context.Context, pgvector.Vector, float64, int) ([]pipeline_type.SearchHit, error) {
	return nil, errors.New("index unavailable")
}

func TestRetrievalAssembler_SearchFailureDegrades(t *testing.T) {
	a := NewRetrievalAssembler(&MockEmbedder{}, brokenChunkSearch{seededStore(t)}, config.DefaultRAG(), discardLogger())

	assembled, stats, err := a.Assemble(context.Background(), "vacation")
	require.NoError(t, err)
	assert.Equal(t, RetrievalStats{ChunksUsed: 0, KnowledgeUsed: 1}, stats)
	assert.NotContains(t, assembled.Block, "Relevant document excerpts")
	assert.Contains(t, assembled.Block, "[KB1] Leave policy")
}

func TestRetrievalAssembler_EmbeddingFailure(t *testing.T) {
	embedder := &MockEmbedder{EmbedFunc: func(context.Context, string) (pgvector.Vector, error) {
		return pgvector.Vector{}, &pipeline_type.EmbeddingServiceError{StatusCode: 500, Body: "boom"}
	}}
	a := NewRetrievalAssembler(embedder, seededStore(t), config.DefaultRAG(), discardLogger())

	assembled, stats, err := a.Assemble(context.Background(), "vacation")
	var rerr *pipeline_type.RetrievalError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "vacation", rerr.Query)
	var svcErr *pipeline_type.EmbeddingServiceError
	assert.ErrorAs(t, err, &svcErr)
	assert.Empty(t, assembled.Block)
	assert.Equal(t, RetrievalStats{}, stats)
}

func TestRetrievalAssembler_NeverReturnsAtOrBelowThreshold(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(2)
	require.NoError(t, s.CreateDocument(ctx, &pipeline_type.Document{ID: "d", Status: pipeline_type.StatusCompleted}))
	var chunks []pipeline_type.Chunk
	for i, sim := range []float64{0.1, 0.5, 0.69, 0.71, 0.99} {
		chunks = append(chunks, pipeline_type.Chunk{ID: string(rune('a' + i)), Index: i, Content: "x", Embedding: vecAt(sim)})
	}
	require.NoError(t, s.ReplaceChunks(ctx, "d", chunks))

	cfg := config.DefaultRAG()
	cfg.ChunkTopK = 10
	a := NewRetrievalAssembler(&MockEmbedder{}, s, cfg, discardLogger())
	assembled, _, err := a.Assemble(ctx, "q")
	require.NoError(t, err)

	for i, r := range assembled.Results {
		assert.Greater(t, r.SimilarityScore, cfg.ChunkSimilarityThreshold)
		if i > 0 {
			assert.GreaterOrEqual(t, assembled.Results[i-1].SimilarityScore, r.SimilarityScore)
		}
	}
	assert.Len(t, assembled.Results, 2)
}
