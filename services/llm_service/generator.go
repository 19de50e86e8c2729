package llm_service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/serisow/ragone/config"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type GenerateOptions struct {
	MaxOutputTokens int
	Temperature     float64
}

// Generator produces a single text completion for an ordered message list.
type Generator interface {
	Generate(ctx context.Context, messages []Message, opts GenerateOptions) (string, error)
}

type retryPolicy struct {
	maxRetries int
	retryDelay time.Duration
}

var defaultRetry = retryPolicy{maxRetries: 3, retryDelay: 5 * time.Second}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NewGenerator builds the provider named in cfg.
func NewGenerator(cfg config.GenerationConfig, logger *slog.Logger) (Generator, error) {
	switch cfg.Provider {
	case "", "openai":
		return NewOpenAIService(cfg, logger), nil
	case "anthropic":
		return NewAnthropicService(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown generation provider %q", cfg.Provider)
	}
}
