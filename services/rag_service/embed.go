package rag_service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"unicode/utf8"

	"github.com/pgvector/pgvector-go"
	"golang.org/x/time/rate"

	"github.com/serisow/ragone/config"
	"github.com/serisow/ragone/pipeline_type"
)

// Embedder turns text into a vector of the configured dimension.
type Embedder interface {
	Embed(ctx context.Context, text string) (pgvector.Vector, error)
}

type EmbeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type EmbeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Object string `json:"object"`
}

// EmbeddingClient calls an OpenAI-compatible embeddings endpoint.
type EmbeddingClient struct {
	cfg     config.EmbeddingConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewEmbeddingClient(cfg config.EmbeddingConfig, logger *slog.Logger) *EmbeddingClient {
	c := &EmbeddingClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return c
}

func (c *EmbeddingClient) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return pgvector.Vector{}, err
	}
	return vectors[0], nil
}

// EmbedBatch returns one vector per input, in input order. Inputs longer
// than MaxInputChars are truncated silently.
func (c *EmbeddingClient) EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if c.cfg.APIKey == "" {
		return nil, &pipeline_type.EmbeddingServiceError{Err: errors.New("embedding API key not configured")}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &pipeline_type.EmbeddingServiceError{Err: err}
		}
	}

	inputs := make([]string, len(texts))
	for i, t := range texts {
		inputs[i] = truncateRunes(t, c.cfg.MaxInputChars)
	}

	jsonData, err := json.Marshal(EmbeddingRequest{Input: inputs, Model: c.cfg.Model})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &pipeline_type.EmbeddingServiceError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &pipeline_type.EmbeddingServiceError{Err: fmt.Errorf("failed to read response: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &pipeline_type.EmbeddingServiceError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var embeddingResp EmbeddingResponse
	if err := json.Unmarshal(body, &embeddingResp); err != nil {
		return nil, c.invalidResponse(resp, body, fmt.Errorf("failed to decode embedding response: %w", err))
	}
	if len(embeddingResp.Data) != len(texts) {
		return nil, c.invalidResponse(resp, body, fmt.Errorf("expected %d embeddings, received %d", len(texts), len(embeddingResp.Data)))
	}

	vectors := make([]pgvector.Vector, len(texts))
	filled := make([]bool, len(texts))
	for _, d := range embeddingResp.Data {
		if d.Index < 0 || d.Index >= len(texts) || filled[d.Index] {
			return nil, c.invalidResponse(resp, body, fmt.Errorf("invalid embedding index %d in response", d.Index))
		}
		if c.cfg.Dimensions > 0 && len(d.Embedding) != c.cfg.Dimensions {
			return nil, c.invalidResponse(resp, body, fmt.Errorf("%w: got %d, want %d", pipeline_type.ErrDimensionMismatch, len(d.Embedding), c.cfg.Dimensions))
		}
		vectors[d.Index] = pgvector.NewVector(d.Embedding)
		filled[d.Index] = true
	}

	c.logger.Debug("Generated embeddings",
		slog.Int("count", len(vectors)),
		slog.Int("total_tokens", embeddingResp.Usage.TotalTokens))
	return vectors, nil
}

func truncateRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}

// invalidResponse reports a 200 whose payload cannot be used.
func (c *EmbeddingClient) invalidResponse(resp *http.Response, body []byte, err error) error {
	c.logger.Warn("Unusable embedding response",
		slog.Int("status", resp.StatusCode),
		slog.String("error", err.Error()))
	return &pipeline_type.EmbeddingServiceError{StatusCode: resp.StatusCode, Body: string(body), Err: err}
}
