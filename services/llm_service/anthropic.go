package llm_service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/serisow/ragone/config"
)

const anthropicVersion = "2023-06-01"

type AnthropicService struct {
	cfg        config.GenerationConfig
	httpClient *http.Client
	logger     *slog.Logger
	retry      retryPolicy
}

func NewAnthropicService(cfg config.GenerationConfig, logger *slog.Logger) *AnthropicService {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &AnthropicService{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		retry:      defaultRetry,
	}
}

func (s *AnthropicService) Generate(ctx context.Context, messages []Message, opts GenerateOptions) (string, error) {
	var err error
	for attempt := 1; attempt <= s.retry.maxRetries; attempt++ {
		var response string
		response, err = s.callAnthropic(ctx, messages, opts)
		if err == nil {
			return response, nil
		}

		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusTooManyRequests {
			s.logger.Error("Anthropic API rate limited",
				slog.String("error_type", httpErr.ErrorType),
				slog.String("error_message", httpErr.Message),
				slog.String("model", s.cfg.Model))
			return "", fmt.Errorf("Anthropic rate limit exceeded: %w", httpErr)
		}

		if attempt == s.retry.maxRetries || ctx.Err() != nil {
			break
		}
		s.logger.Warn("Attempt failed, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("retry_delay", s.retry.retryDelay),
			slog.String("error", err.Error()))
		if serr := sleep(ctx, s.retry.retryDelay); serr != nil {
			break
		}
	}

	s.logger.Error("Error calling Anthropic API after multiple attempts",
		slog.Int("attempts", s.retry.maxRetries),
		slog.String("error", err.Error()))
	return "", fmt.Errorf("failed to call Anthropic API: %w", err)
}

type anthropicRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// splitSystem moves system messages into the top-level system field the
// messages API expects.
func splitSystem(messages []Message) (string, []Message) {
	var system []string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}

func (s *AnthropicService) callAnthropic(ctx context.Context, messages []Message, opts GenerateOptions) (string, error) {
	if s.cfg.APIKey == "" {
		return "", fmt.Errorf("Anthropic API key not configured")
	}

	maxTokens := opts.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = 1000
	}
	system, rest := splitSystem(messages)

	requestBody, err := json.Marshal(anthropicRequest{
		Model:       s.cfg.Model,
		System:      system,
		Messages:    rest,
		MaxTokens:   maxTokens,
		Temperature: opts.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("error marshaling request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.APIURL, bytes.NewReader(requestBody))
	if err != nil {
		return "", fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("x-api-key", s.cfg.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("error making request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", newHTTPError("Anthropic", resp)
	}

	var result anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("error decoding response: %w", err)
	}
	for _, c := range result.Content {
		if c.Type == "" || c.Type == "text" {
			return c.Text, nil
		}
	}
	return "", fmt.Errorf("text not found in Anthropic API response")
}
