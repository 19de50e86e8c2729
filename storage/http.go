package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPStorage downloads documents published by another service. It
// accepts absolute URLs or paths relative to baseURL and cannot write.
type HTTPStorage struct {
	baseURL  string
	client   *http.Client
	maxBytes int64
	logger   *slog.Logger
}

func NewHTTPStorage(baseURL string, timeout time.Duration, maxBytes int64, logger *slog.Logger) *HTTPStorage {
	return &HTTPStorage{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
		logger:   logger,
	}
}

func (s *HTTPStorage) resolve(path string) (string, error) {
	if u, err := url.Parse(path); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return path, nil
	}
	if s.baseURL == "" {
		return "", fmt.Errorf("%w: %q has no scheme and no base URL is set", ErrInvalidPath, path)
	}
	return s.baseURL + "/" + strings.TrimLeft(path, "/"), nil
}

func (s *HTTPStorage) Load(ctx context.Context, path string) ([]byte, error) {
	fileURL, err := s.resolve(path)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Error("Failed to download file",
			slog.String("url", fileURL),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.logger.Error("Failed to download file - non-200 status",
			slog.String("url", fileURL),
			slog.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("download of %s returned status %d", fileURL, resp.StatusCode)
	}

	reader := io.Reader(resp.Body)
	if s.maxBytes > 0 {
		reader = io.LimitReader(resp.Body, s.maxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read download: %w", err)
	}
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return nil, fmt.Errorf("download of %s exceeds %d bytes", fileURL, s.maxBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("download of %s returned no content", fileURL)
	}
	return data, nil
}

func (s *HTTPStorage) Save(context.Context, string, string, []byte) (string, error) {
	return "", ErrReadOnly
}

func (s *HTTPStorage) Delete(context.Context, string) error {
	return ErrReadOnly
}
