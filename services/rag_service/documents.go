package rag_service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/serisow/ragone/pipeline_type"
	"github.com/serisow/ragone/storage"
)

// Register saves the bytes through the processor's file storage and records
// a pending document pointing at them. mimeType is the type the client
// declared; an empty or generic one falls back to the filename extension.
func (p *Processor) Register(ctx context.Context, owner, filename, mimeType string, data []byte) (*pipeline_type.Document, error) {
	if filename == "" {
		return nil, fmt.Errorf("%w: filename is required", pipeline_type.ErrInvalidInput)
	}
	path, err := p.files.Save(ctx, owner, filename, data)
	if err != nil {
		return nil, fmt.Errorf("failed to save file: %w", err)
	}
	doc, err := p.RegisterStored(ctx, owner, filename, mimeType, path, int64(len(data)))
	if err != nil {
		if derr := p.files.Delete(ctx, path); derr != nil {
			p.logger.Warn("Failed to remove orphaned upload",
				slog.String("storage_path", path),
				slog.String("error", derr.Error()))
		}
		return nil, err
	}
	return doc, nil
}

// RegisterStored records a pending document for bytes that already live in
// storage, such as a remote URL served by HTTPStorage.
func (p *Processor) RegisterStored(ctx context.Context, owner, filename, mimeType, path string, size int64) (*pipeline_type.Document, error) {
	now := time.Now().UTC()
	doc := &pipeline_type.Document{
		ID:          uuid.NewString(),
		Owner:       owner,
		Filename:    filepath.Base(filename),
		Size:        size,
		MimeType:    resolveMimeType(mimeType, filename),
		Status:      pipeline_type.StatusPending,
		StoragePath: path,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := p.store.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}
	p.logger.Info("Document registered",
		slog.String("document_id", doc.ID),
		slog.String("filename", doc.Filename),
		slog.String("mime_type", doc.MimeType),
		slog.Int64("size", size))
	return doc, nil
}

// resolveMimeType keeps a declared media type without its parameters.
// Missing, malformed and application/octet-stream types are replaced by the
// type implied by the filename.
func resolveMimeType(declared, filename string) string {
	mediaType, _, err := mime.ParseMediaType(declared)
	if err != nil || mediaType == "application/octet-stream" {
		return GetMimeType(filename)
	}
	return mediaType
}

func (p *Processor) Document(ctx context.Context, id string) (*pipeline_type.Document, error) {
	return p.store.GetDocument(ctx, id)
}

// Remove deletes the document, which cascades to its chunks, then the stored
// bytes. A read-only or already missing file is not an error.
func (p *Processor) Remove(ctx context.Context, id string) error {
	doc, err := p.store.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	if err := p.store.DeleteDocument(ctx, id); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if err := p.files.Delete(ctx, doc.StoragePath); err != nil && !errors.Is(err, storage.ErrReadOnly) {
		p.logger.Warn("Document deleted but stored file could not be removed",
			slog.String("document_id", id),
			slog.String("storage_path", doc.StoragePath),
			slog.String("error", err.Error()))
	}
	return nil
}
