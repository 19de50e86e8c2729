package rag_service

import (
	"context"

	"github.com/pgvector/pgvector-go"
)

type MockEmbedder struct {
	EmbedFunc func(ctx context.Context, text string) (pgvector.Vector, error)
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, text)
	}
	return pgvector.NewVector([]float32{1, 0}), nil
}
