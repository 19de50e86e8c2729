package rag_service

import (
	"context"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/serisow/ragone/pipeline_type"
)

type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *pipeline_type.Document) error
	GetDocument(ctx context.Context, id string) (*pipeline_type.Document, error)
	UpdateDocumentStatus(ctx context.Context, id string, status pipeline_type.DocumentStatus) error
	DeleteDocument(ctx context.Context, id string) error
	MarkStaleProcessing(ctx context.Context, cutoff time.Time) (int64, error)
}

type ChunkStore interface {
	ReplaceChunks(ctx context.Context, documentID string, chunks []pipeline_type.Chunk) error
	DeleteChunks(ctx context.Context, documentID string) error
	ListChunks(ctx context.Context, documentID string) ([]pipeline_type.Chunk, error)
	SearchChunks(ctx context.Context, query pgvector.Vector, threshold float64, topK int) ([]pipeline_type.SearchHit, error)
}

type KnowledgeStore interface {
	CreateKnowledge(ctx context.Context, entry *pipeline_type.KnowledgeEntry) error
	GetKnowledge(ctx context.Context, id string) (*pipeline_type.KnowledgeEntry, error)
	DeleteKnowledge(ctx context.Context, id string) error
	SearchKnowledge(ctx context.Context, query pgvector.Vector, threshold float64, topK int) ([]pipeline_type.SearchHit, error)
}

// Store is the full persistence contract. Searches return hits with
// similarity strictly above threshold, best first, at most topK. Chunk
// search only covers completed documents.
type Store interface {
	DocumentStore
	ChunkStore
	KnowledgeStore
}
