package rag_service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/serisow/ragone/config"
	"github.com/serisow/ragone/pipeline_type"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func embeddingConfig(url string) config.EmbeddingConfig {
	return config.EmbeddingConfig{
		APIURL:        url,
		APIKey:        "test-key",
		Model:         "text-embedding-3-small",
		Dimensions:    3,
		MaxInputChars: 5,
		Timeout:       time.Second,
	}
}

func TestEmbeddingClient_EmbedBatch(t *testing.T) {
	var got EmbeddingRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		// Out of order on purpose.
		fmt.Fprint(w, `{"object":"list","data":[
			{"index":1,"embedding":[0,1,0]},
			{"index":0,"embedding":[1,0,0]}
		],"usage":{"total_tokens":4}}`)
	}))
	defer server.Close()

	c := NewEmbeddingClient(embeddingConfig(server.URL), discardLogger())
	vectors, err := c.EmbedBatch(context.Background(), []string{"héllo wörld", "abc"})
	require.NoError(t, err)

	assert.Equal(t, "text-embedding-3-small", got.Model)
	assert.Equal(t, []string{"héllo", "abc"}, got.Input)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{1, 0, 0}, vectors[0].Slice())
	assert.Equal(t, []float32{0, 1, 0}, vectors[1].Slice())
}

func TestEmbeddingClient_Errors(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantStatus int
		wantBody   string
		wantErr    error
	}{
		{
			name: "upstream error status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"error":"quota"}`, http.StatusTooManyRequests)
			},
			wantStatus: http.StatusTooManyRequests,
			wantBody:   "quota",
		},
		{
			name: "wrong dimension",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"data":[{"index":0,"embedding":[1,0]}]}`)
			},
			wantStatus: http.StatusOK,
			wantBody:   `"embedding":[1,0]`,
			wantErr:    pipeline_type.ErrDimensionMismatch,
		},
		{
			name: "undecodable body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `<html>gateway</html>`)
			},
			wantStatus: http.StatusOK,
			wantBody:   "gateway",
		},
		{
			name: "missing embeddings",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"data":[]}`)
			},
			wantStatus: http.StatusOK,
			wantBody:   `"data":[]`,
		},
		{
			name: "index out of range",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"data":[{"index":3,"embedding":[1,0,0]}]}`)
			},
			wantStatus: http.StatusOK,
			wantBody:   `"index":3`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			c := NewEmbeddingClient(embeddingConfig(server.URL), discardLogger())
			_, err := c.Embed(context.Background(), "text")
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			var svcErr *pipeline_type.EmbeddingServiceError
			require.ErrorAs(t, err, &svcErr)
			assert.Equal(t, tt.wantStatus, svcErr.StatusCode)
			assert.Contains(t, svcErr.Body, tt.wantBody)
		})
	}
}

func TestEmbeddingClient_TransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	cfg := embeddingConfig(server.URL)
	cfg.Timeout = 20 * time.Millisecond
	c := NewEmbeddingClient(cfg, discardLogger())

	_, err := c.Embed(context.Background(), "text")
	var svcErr *pipeline_type.EmbeddingServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, 0, svcErr.StatusCode)
	assert.True(t, strings.HasPrefix(svcErr.Error(), "embedding service unavailable"))
}

func TestEmbeddingClient_MissingKey(t *testing.T) {
	cfg := embeddingConfig("http://127.0.0.1:1")
	cfg.APIKey = ""
	_, err := NewEmbeddingClient(cfg, discardLogger()).Embed(context.Background(), "x")
	assert.ErrorContains(t, err, "API key")
	var svcErr *pipeline_type.EmbeddingServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, 0, svcErr.StatusCode)
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "héllo", truncateRunes("héllo wörld", 5))
	assert.Equal(t, "short", truncateRunes("short", 10))
	assert.Equal(t, "anything", truncateRunes("anything", 0))
}
