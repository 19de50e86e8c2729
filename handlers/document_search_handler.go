package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/pgvector/pgvector-go"

	"github.com/serisow/ragone/config"
	"github.com/serisow/ragone/pipeline_type"
	"github.com/serisow/ragone/services/rag_service"
)

// SearchConfig carries the optional overrides; values arrive as strings and
// fall back to the configured defaults when empty.
type SearchConfig struct {
	SimilarityThreshold string `json:"similarity_threshold"`
	MaxResults          string `json:"max_results"`
}

// SearchRequest represents the incoming search request
type SearchRequest struct {
	Query  string       `json:"query"`
	Config SearchConfig `json:"config"`
}

// SearchResult represents a single chunk search result
type SearchResult struct {
	ChunkID         string  `json:"chunk_id"`
	Filename        string  `json:"filename"`
	Content         string  `json:"content"`
	SimilarityScore float64 `json:"similarity_score"`
}

type SearchResponse struct {
	Documents []SearchResult `json:"documents"`
	Count     int            `json:"count"`
}

type ChunkSearcher interface {
	SearchChunks(ctx context.Context, query pgvector.Vector, threshold float64, topK int) ([]pipeline_type.SearchHit, error)
}

// DocumentSearchHandler runs a raw similarity search over completed
// documents' chunks.
type DocumentSearchHandler struct {
	embedder rag_service.Embedder
	searcher ChunkSearcher
	defaults config.RAGConfig
	logger   *slog.Logger
}

func NewDocumentSearchHandler(embedder rag_service.Embedder, searcher ChunkSearcher, defaults config.RAGConfig, logger *slog.Logger) *DocumentSearchHandler {
	return &DocumentSearchHandler{embedder: embedder, searcher: searcher, defaults: defaults, logger: logger}
}

// ServeHTTP handles the HTTP request for document search
func (h *DocumentSearchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("Failed to decode request body",
			slog.String("error", err.Error()))
		writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	threshold, maxResults, err := h.validateRequest(&req)
	if err != nil {
		h.logger.Error("Invalid request parameters",
			slog.String("error", err.Error()))
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	embedding, err := h.embedder.Embed(r.Context(), req.Query)
	if err != nil {
		h.logger.Error("Failed to generate embedding for search query",
			slog.String("query", req.Query),
			slog.String("error", err.Error()))
		writeJSONError(w, "Failed to process search query", http.StatusBadGateway)
		return
	}

	hits, err := h.searcher.SearchChunks(r.Context(), embedding, threshold, maxResults)
	if err != nil {
		h.logger.Error("Failed to execute search query",
			slog.String("query", req.Query),
			slog.String("error", err.Error()))
		writeJSONError(w, "Database query failed", http.StatusInternalServerError)
		return
	}

	results := make([]SearchResult, 0, len(hits))
	for _, hit := range hits {
		results = append(results, SearchResult{
			ChunkID:         hit.ID,
			Filename:        hit.Title,
			Content:         hit.Content,
			SimilarityScore: hit.Similarity,
		})
	}
	writeJSON(w, http.StatusOK, SearchResponse{Documents: results, Count: len(results)})
}

func (h *DocumentSearchHandler) validateRequest(req *SearchRequest) (float64, int, error) {
	if req.Query == "" {
		return 0, 0, fmt.Errorf("search query cannot be empty")
	}

	threshold := h.defaults.ChunkSimilarityThreshold
	if req.Config.SimilarityThreshold != "" {
		var err error
		threshold, err = strconv.ParseFloat(req.Config.SimilarityThreshold, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid similarity threshold: %v", err)
		}
	}
	if threshold < 0 || threshold > 1 {
		return 0, 0, fmt.Errorf("similarity threshold must be between 0 and 1")
	}

	maxResults := h.defaults.ChunkTopK
	if req.Config.MaxResults != "" {
		var err error
		maxResults, err = strconv.Atoi(req.Config.MaxResults)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid max results: %v", err)
		}
	}
	if maxResults < 1 || maxResults > 50 {
		return 0, 0, fmt.Errorf("max results must be between 1 and 50")
	}
	return threshold, maxResults, nil
}
