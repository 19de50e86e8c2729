package llm_service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/serisow/ragone/config"
)

type OpenAIService struct {
	cfg        config.GenerationConfig
	httpClient *http.Client
	logger     *slog.Logger
	retry      retryPolicy
}

func NewOpenAIService(cfg config.GenerationConfig, logger *slog.Logger) *OpenAIService {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OpenAIService{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		retry:      defaultRetry,
	}
}

func (s *OpenAIService) Generate(ctx context.Context, messages []Message, opts GenerateOptions) (string, error) {
	var err error
	for attempt := 1; attempt <= s.retry.maxRetries; attempt++ {
		var response string
		response, err = s.callOpenAI(ctx, messages, opts)
		if err == nil {
			return response, nil
		}

		var httpErr *HTTPError
		if errors.As(err, &httpErr) {
			if httpErr.StatusCode == http.StatusTooManyRequests {
				s.logger.Error("OpenAI API quota exceeded",
					slog.String("error_type", httpErr.ErrorType),
					slog.String("error_message", httpErr.Message),
					slog.String("model", s.cfg.Model),
					slog.Int("status_code", httpErr.StatusCode))
				return "", fmt.Errorf("OpenAI quota exceeded: %w", httpErr)
			}

			s.logger.Error("OpenAI API error",
				slog.Int("attempt", attempt),
				slog.Int("status_code", httpErr.StatusCode),
				slog.String("error_type", httpErr.ErrorType),
				slog.String("error_message", httpErr.Message),
				slog.String("raw_body", httpErr.RawBody))
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

	s.logger.Error("Error calling OpenAI API after multiple attempts",
		slog.Int("attempts", s.retry.maxRetries),
		slog.String("error", err.Error()),
		slog.String("model", s.cfg.Model))
	return "", fmt.Errorf("failed to call OpenAI API: %w", err)
}

type openAIRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (s *OpenAIService) callOpenAI(ctx context.Context, messages []Message, opts GenerateOptions) (string, error) {
	if s.cfg.APIKey == "" {
		return "", fmt.Errorf("OpenAI API key not configured")
	}

	requestBody, err := json.Marshal(openAIRequest{
		Model:       s.cfg.Model,
		Messages:    messages,
		MaxTokens:   opts.MaxOutputTokens,
		Temperature: opts.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("error marshaling request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.APIURL, bytes.NewReader(requestBody))
	if err != nil {
		return "", fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("error making request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", newHTTPError("OpenAI", resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("error reading response body: %w", err)
	}

	var result openAIResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("error unmarshaling response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("unexpected response format from OpenAI API")
	}
	return result.Choices[0].Message.Content, nil
}
