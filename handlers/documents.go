package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gorilla/mux"

	"github.com/serisow/ragone/pipeline_type"
)

// DocumentService is the slice of the ingestion pipeline the HTTP layer drives.
type DocumentService interface {
	Register(ctx context.Context, owner, filename, mimeType string, data []byte) (*pipeline_type.Document, error)
	Document(ctx context.Context, id string) (*pipeline_type.Document, error)
	Remove(ctx context.Context, id string) error
	PrepareReprocess(ctx context.Context, id string) error
	ProcessAsync(id string)
}

type DocumentHandler struct {
	documents      DocumentService
	maxUploadBytes int64
	logger         *slog.Logger
}

func NewDocumentHandler(documents DocumentService, maxUploadBytes int64, logger *slog.Logger) *DocumentHandler {
	return &DocumentHandler{documents: documents, maxUploadBytes: maxUploadBytes, logger: logger}
}

// multipartSlack leaves room for the form boundaries and the owner field on
// top of the file itself.
const multipartSlack = 1 << 20

// Upload stores the file, records a pending document and starts ingestion
// in the background. The response does not wait for the pipeline.
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("Received file upload request")

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartSlack)
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, fmt.Sprintf("File exceeds the %d byte limit", h.maxUploadBytes), http.StatusRequestEntityTooLarge)
			return
		}
		writeJSONError(w, "Failed to parse multipart form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSONError(w, "Failed to get file from form", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if header.Size > h.maxUploadBytes {
		writeJSONError(w, fmt.Sprintf("File exceeds the %d byte limit", h.maxUploadBytes), http.StatusRequestEntityTooLarge)
		return
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, file); err != nil {
		writeJSONError(w, "Failed to read file", http.StatusInternalServerError)
		return
	}
	if buf.Len() == 0 {
		writeJSONError(w, "Uploaded file is empty", http.StatusBadRequest)
		return
	}

	filename := filepath.Base(header.Filename)
	owner := strings.TrimSpace(r.FormValue("owner"))
	contentType := header.Header.Get("Content-Type")
	h.logger.Debug("Registering upload",
		slog.String("filename", filename),
		slog.String("content_type", contentType),
		slog.Int64("size", header.Size))

	doc, err := h.documents.Register(r.Context(), owner, filename, contentType, buf.Bytes())
	if err != nil {
		h.logger.Error("Failed to register document",
			slog.String("filename", filename),
			slog.String("error", err.Error()))
		writeJSONError(w, "Failed to store document", statusFor(err))
		return
	}

	h.documents.ProcessAsync(doc.ID)
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"message":  "File uploaded, processing started",
		"document": doc,
	})
}

func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	doc, err := h.documents.Document(r.Context(), id)
	if err != nil {
		h.writeLookupError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.documents.Remove(r.Context(), id); err != nil {
		h.writeLookupError(w, id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Reprocess drops the document's chunks and runs the pipeline again.
func (h *DocumentHandler) Reprocess(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.documents.PrepareReprocess(r.Context(), id); err != nil {
		h.writeLookupError(w, id, err)
		return
	}
	h.documents.ProcessAsync(id)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"message":     "Reprocessing started",
		"document_id": id,
	})
}

func (h *DocumentHandler) writeLookupError(w http.ResponseWriter, id string, err error) {
	status := statusFor(err)
	if status == http.StatusNotFound {
		writeJSONError(w, "Document not found", status)
		return
	}
	h.logger.Error("Document operation failed",
		slog.String("document_id", id),
		slog.String("error", err.Error()))
	writeJSONError(w, "Document operation failed", status)
}
