package llm_service

import (
	"context"
)

type MockGenerator struct {
	GenerateFunc func(ctx context.Context, messages []Message, opts GenerateOptions) (string, error)
}

func (m *MockGenerator) Generate(ctx context.Context, messages []Message, opts GenerateOptions) (string, error) {
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, messages, opts)
	}
	return "mock response", nil
}
