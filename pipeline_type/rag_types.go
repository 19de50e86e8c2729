package pipeline_type

import (
	"sort"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
)

type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)

// Valid reports whether s is one of the known document states.
func (s DocumentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

type SourceType string

const (
	SourceDocument SourceType = "document"
	SourceURL      SourceType = "url"
	SourceManual   SourceType = "manual"
)

type SourceKind string

const (
	KindChunk     SourceKind = "chunk"
	KindKnowledge SourceKind = "knowledge"
)

type Document struct {
	ID          string         `json:"id"`
	Owner       string         `json:"owner"`
	Filename    string         `json:"filename"`
	Size        int64          `json:"size"`
	MimeType    string         `json:"mime_type"`
	Status      DocumentStatus `json:"status"`
	StoragePath string         `json:"storage_path"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

type ChunkMetadata struct {
	StartOffset int `json:"start_offset"`
	EndOffset   int `json:"end_offset"`
}

// Chunk is immutable once written. Embedding is nil when the batch
// embedder could not produce a vector for it.
type Chunk struct {
	ID            string           `json:"id"`
	DocumentID    string           `json:"document_id"`
	Index         int              `json:"chunk_index"`
	Content       string           `json:"content"`
	TokenEstimate int              `json:"token_estimate"`
	Embedding     *pgvector.Vector `json:"-"`
	Metadata      ChunkMetadata    `json:"metadata"`
}

type KnowledgeEntry struct {
	ID              string           `json:"id"`
	Owner           string           `json:"owner"`
	Title           string           `json:"title"`
	Description     string           `json:"description"`
	SourceType      SourceType       `json:"source_type"`
	SourceReference *string          `json:"source_reference"`
	Content         string           `json:"content"`
	Embedding       *pgvector.Vector `json:"-"`
	Tags            []string         `json:"tags"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// SearchHit is one row returned by a vector similarity search.
type SearchHit struct {
	ID         string  `json:"id"`
	Title      string  `json:"title,omitempty"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
}

// Distance is the cosine distance the similarity was derived from.
func (h SearchHit) Distance() float64 {
	return 1 - h.Similarity
}

// RetrievalResult is transient and never persisted.
type RetrievalResult struct {
	SourceKind      SourceKind `json:"source_kind"`
	Title           string     `json:"title,omitempty"`
	Content         string     `json:"content"`
	SimilarityScore float64    `json:"similarity_score"`
	OriginID        string     `json:"origin_id"`
}

type ProcessingStats struct {
	ExtractionTime float64 `json:"extraction_time"`
	ChunkingTime   float64 `json:"chunking_time"`
	EmbeddingTime  float64 `json:"embedding_time"`
}

type DocumentMetadata struct {
	WordCount       int             `json:"word_count"`
	TokenCount      int             `json:"token_count"`
	ContentPreview  string          `json:"content_preview"`
	ContentType     string          `json:"content_type"`
	Strategy        string          `json:"extraction_strategy"`
	ProcessingStats ProcessingStats `json:"processing_stats"`
}

// IngestResult summarises one run of the ingestion pipeline.
type IngestResult struct {
	DocumentID    string           `json:"document_id"`
	Status        DocumentStatus   `json:"status"`
	ChunkCount    int              `json:"chunk_count"`
	EmbeddedCount int              `json:"embedded_count"`
	Metadata      DocumentMetadata `json:"metadata"`
	Error         string           `json:"error,omitempty"`
}

// EstimateTokens approximates the token count of s at four bytes per token.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	return (len(s) + 3) / 4
}

// NormalizeTags trims, lowercases and deduplicates tags. Order is not
// significant; the result is sorted so stored sets compare equal.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
