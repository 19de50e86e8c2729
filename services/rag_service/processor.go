package rag_service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/serisow/ragone/pipeline_type"
	"github.com/serisow/ragone/storage"
)

// TextExtractor recovers text from raw file bytes.
type TextExtractor interface {
	ExtractDetailed(ctx context.Context, data []byte, filename string) (ExtractResult, error)
}

// Processor runs the ingestion pipeline for one stored document:
// extract, chunk, embed, persist.
type Processor struct {
	store     Store
	files     storage.FileStorage
	extractor TextExtractor
	chunker   *Chunker
	embedder  *BatchEmbedder
	logger    *slog.Logger
	timeout   time.Duration
}

func NewProcessor(store Store, files storage.FileStorage, extractor TextExtractor, chunker *Chunker, embedder *BatchEmbedder, logger *slog.Logger, timeout time.Duration) *Processor {
	return &Processor{
		store:     store,
		files:     files,
		extractor: extractor,
		chunker:   chunker,
		embedder:  embedder,
		logger:    logger,
		timeout:   timeout,
	}
}

// ProcessAsync runs ProcessDocument in its own goroutine, detached from
// any request context.
func (p *Processor) ProcessAsync(documentID string) {
	go func() {
		if _, err := p.ProcessDocument(context.Background(), documentID); err != nil {
			p.logger.Error("Background ingestion failed",
				slog.String("document_id", documentID),
				slog.String("error", err.Error()))
		}
	}()
}

// ProcessDocument moves the document from pending through processing to
// completed. Any failure, including a panic, leaves it failed. A document
// whose chunks all failed to embed is still completed; it is simply not
// retrievable.
func (p *Processor) ProcessDocument(ctx context.Context, documentID string) (result *pipeline_type.IngestResult, err error) {
	result = &pipeline_type.IngestResult{DocumentID: documentID, Status: pipeline_type.StatusProcessing}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Ingestion panicked",
				slog.String("document_id", documentID),
				slog.String("panic", fmt.Sprint(r)),
				slog.String("stack", string(debug.Stack())))
			err = &pipeline_type.PipelineError{DocumentID: documentID, Stage: "panic", Err: fmt.Errorf("%v", r)}
		}
		if err != nil {
			result.Status = pipeline_type.StatusFailed
			result.Error = err.Error()
			p.markFailed(documentID, err)
		}
	}()

	if documentID == "" {
		return result, &pipeline_type.PipelineError{Stage: "load", Err: pipeline_type.ErrInvalidInput}
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	doc, err := p.store.GetDocument(ctx, documentID)
	if err != nil {
		return result, &pipeline_type.PipelineError{DocumentID: documentID, Stage: "load", Err: err}
	}
	if err := p.store.UpdateDocumentStatus(ctx, documentID, pipeline_type.StatusProcessing); err != nil {
		return result, &pipeline_type.PipelineError{DocumentID: documentID, Stage: "status", Err: err}
	}
	result.Metadata.ContentType = GetMimeType(doc.Filename)

	data, err := p.files.Load(ctx, doc.StoragePath)
	if err != nil {
		return result, &pipeline_type.PipelineError{DocumentID: documentID, Stage: "download", Err: err}
	}

	extractStart := time.Now()
	extracted, err := p.extractor.ExtractDetailed(ctx, data, doc.Filename)
	if err != nil {
		p.logger.Error("Text extraction failed",
			slog.String("document_id", documentID),
			slog.String("filename", doc.Filename),
			slog.String("error", err.Error()))
		return result, &pipeline_type.PipelineError{DocumentID: documentID, Stage: "extract", Err: err}
	}
	text := extracted.Text
	if strings.TrimSpace(text) == "" {
		return result, &pipeline_type.PipelineError{DocumentID: documentID, Stage: "extract", Err: pipeline_type.ErrEmptyContent}
	}
	result.Metadata.ProcessingStats.ExtractionTime = time.Since(extractStart).Seconds()
	result.Metadata.Strategy = extracted.Strategy
	result.Metadata.WordCount = len(strings.Fields(text))
	result.Metadata.TokenCount = pipeline_type.EstimateTokens(text)
	result.Metadata.ContentPreview = preview(text, 250)

	chunkStart := time.Now()
	spans := p.chunker.ChunkText(text, extracted.Markdown)
	if len(spans) == 0 {
		return result, &pipeline_type.PipelineError{DocumentID: documentID, Stage: "chunk", Err: pipeline_type.ErrEmptyContent}
	}
	result.Metadata.ProcessingStats.ChunkingTime = time.Since(chunkStart).Seconds()

	if err := p.store.DeleteChunks(ctx, documentID); err != nil {
		return result, &pipeline_type.PipelineError{DocumentID: documentID, Stage: "cleanup", Err: err}
	}

	chunks := make([]pipeline_type.Chunk, len(spans))
	for i, span := range spans {
		chunks[i] = pipeline_type.Chunk{
			ID:            uuid.NewString(),
			DocumentID:    documentID,
			Index:         i,
			Content:       span.Content,
			TokenEstimate: pipeline_type.EstimateTokens(span.Content),
			Metadata:      pipeline_type.ChunkMetadata{StartOffset: span.StartOffset, EndOffset: span.EndOffset},
		}
	}

	embedStart := time.Now()
	stats, err := p.embedder.EmbedChunks(ctx, chunks)
	if err != nil {
		return result, &pipeline_type.PipelineError{DocumentID: documentID, Stage: "embed", Err: err}
	}
	result.Metadata.ProcessingStats.EmbeddingTime = time.Since(embedStart).Seconds()
	if stats.Embedded == 0 {
		p.logger.Warn("No chunk could be embedded; document will not be retrievable",
			slog.String("document_id", documentID),
			slog.Int("chunk_count", stats.Total))
	}

	if err := p.store.ReplaceChunks(ctx, documentID, chunks); err != nil {
		return result, &pipeline_type.PipelineError{DocumentID: documentID, Stage: "store", Err: err}
	}
	if err := p.store.UpdateDocumentStatus(ctx, documentID, pipeline_type.StatusCompleted); err != nil {
		return result, &pipeline_type.PipelineError{DocumentID: documentID, Stage: "status", Err: err}
	}

	result.Status = pipeline_type.StatusCompleted
	result.ChunkCount = len(chunks)
	result.EmbeddedCount = stats.Embedded

	p.logger.Info("Document processed successfully",
		slog.String("document_id", documentID),
		slog.String("filename", doc.Filename),
		slog.String("strategy", extracted.Strategy),
		slog.Int("chunk_count", len(chunks)),
		slog.Int("embedded_count", stats.Embedded),
		slog.Int("failed_count", stats.Failed))
	return result, nil
}

// PrepareReprocess resets a document to pending and drops its chunks so
// the next ProcessDocument rebuilds them from scratch.
func (p *Processor) PrepareReprocess(ctx context.Context, documentID string) error {
	if _, err := p.store.GetDocument(ctx, documentID); err != nil {
		return err
	}
	if err := p.store.UpdateDocumentStatus(ctx, documentID, pipeline_type.StatusPending); err != nil {
		return fmt.Errorf("failed to reset document status: %w", err)
	}
	if err := p.store.DeleteChunks(ctx, documentID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

func (p *Processor) Reprocess(ctx context.Context, documentID string) (*pipeline_type.IngestResult, error) {
	if err := p.PrepareReprocess(ctx, documentID); err != nil {
		return nil, err
	}
	return p.ProcessDocument(ctx, documentID)
}

// markFailed uses its own context: the pipeline context may be the very
// thing that expired.
func (p *Processor) markFailed(documentID string, cause error) {
	if documentID == "" {
		p.logger.Error("Ingestion failed without a document id, status not updated",
			slog.String("error", cause.Error()))
		return
	}
	p.logger.Error("Document ingestion failed",
		slog.String("document_id", documentID),
		slog.String("error", cause.Error()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.store.UpdateDocumentStatus(ctx, documentID, pipeline_type.StatusFailed); err != nil && !errors.Is(err, pipeline_type.ErrNotFound) {
		p.logger.Error("Failed to mark document as failed",
			slog.String("document_id", documentID),
			slog.String("error", err.Error()))
	}
}

func preview(text string, max int) string {
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	return truncateRunes(text, max) + "..."
}
