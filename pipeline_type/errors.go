package pipeline_type

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrEmptyContent      = errors.New("no readable content")
	ErrContentTooShort   = errors.New("content too short")
	ErrInvalidInput      = errors.New("invalid input")
)

// ExtractionError reports that no readable text could be recovered from a file.
type ExtractionError struct {
	Filename string
	Reason   string
	Err      error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extraction failed for %q: %s: %v", e.Filename, e.Reason, e.Err)
	}
	return fmt.Sprintf("extraction failed for %q: %s", e.Filename, e.Reason)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// EmbeddingServiceError carries the upstream HTTP status and body.
// StatusCode is 0 when the request never got a response (transport
// failure, timeout). Err is set with a 2xx status when the payload was
// unusable.
type EmbeddingServiceError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *EmbeddingServiceError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("embedding service unavailable: %v", e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("embedding service returned status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("embedding service returned status %d: %s", e.StatusCode, e.Body)
}

func (e *EmbeddingServiceError) Unwrap() error { return e.Err }

// RetrievalError wraps a search backend failure. Callers treat it as
// zero results. An empty Source means the query itself could not be embedded.
type RetrievalError struct {
	Source SourceKind
	Query  string
	Err    error
}

func (e *RetrievalError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("query embedding failed: %v", e.Err)
	}
	return fmt.Sprintf("retrieval from %s failed: %v", e.Source, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// PipelineError forces the document into the failed state.
type PipelineError struct {
	DocumentID string
	Stage      string
	Err        error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("ingestion of document %s failed at %s: %v", e.DocumentID, e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }
