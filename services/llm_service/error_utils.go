package llm_service

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// APIError is the error envelope shared by the OpenAI and Anthropic APIs.
type APIError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// HTTPError is a non-200 answer from a generation provider.
type HTTPError struct {
	Provider   string
	StatusCode int
	Message    string
	ErrorType  string
	RawBody    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s API error (HTTP %d): %s (Type: %s)", e.Provider, e.StatusCode, e.Message, e.ErrorType)
}

// newHTTPError reads the response body and fills in whatever error details
// the provider sent.
func newHTTPError(provider string, resp *http.Response) *HTTPError {
	httpErr := &HTTPError{Provider: provider, StatusCode: resp.StatusCode, Message: "Unknown error", ErrorType: "unknown"}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return httpErr
	}
	httpErr.RawBody = string(body)

	var apiErr APIError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		httpErr.Message = apiErr.Error.Message
		httpErr.ErrorType = apiErr.Error.Type
	}
	return httpErr
}
