package rag_service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"time"
)

// ConversionClient talks to an external document-to-Markdown service.
// The service accepts a multipart "file" field and answers {"markdown": "..."}.
type ConversionClient struct {
	serviceURL string
	client     *http.Client
}

func NewConversionClient(serviceURL string, timeout time.Duration) *ConversionClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ConversionClient{
		serviceURL: serviceURL,
		client:     &http.Client{Timeout: timeout},
	}
}

type conversionResponse struct {
	Markdown string `json:"markdown"`
}

func (c *ConversionClient) Convert(ctx context.Context, data []byte, filename string) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("failed to write form file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serviceURL, &body)
	if err != nil {
		return "", fmt.Errorf("failed to create conversion request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("conversion request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read conversion response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("conversion service returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result conversionResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to decode conversion response: %w", err)
	}
	return result.Markdown, nil
}
