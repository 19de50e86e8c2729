package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/serisow/ragone/pipeline_type"
	"github.com/serisow/ragone/services/rag_service"
)

type KnowledgeService interface {
	AddManual(ctx context.Context, in rag_service.KnowledgeInput) (*pipeline_type.KnowledgeEntry, error)
	AddFromURL(ctx context.Context, owner, rawURL string, tags []string) (*pipeline_type.KnowledgeEntry, error)
	Get(ctx context.Context, id string) (*pipeline_type.KnowledgeEntry, error)
	Delete(ctx context.Context, id string) error
}

type knowledgeRequest struct {
	Owner           string   `json:"owner"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Content         string   `json:"content"`
	SourceType      string   `json:"source_type"`
	SourceReference *string  `json:"source_reference"`
	Tags            []string `json:"tags"`
}

type knowledgeURLRequest struct {
	Owner string   `json:"owner"`
	URL   string   `json:"url"`
	Tags  []string `json:"tags"`
}

type KnowledgeHandler struct {
	knowledge KnowledgeService
	logger    *slog.Logger
}

func NewKnowledgeHandler(knowledge KnowledgeService, logger *slog.Logger) *KnowledgeHandler {
	return &KnowledgeHandler{knowledge: knowledge, logger: logger}
}

func (h *KnowledgeHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req knowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	entry, err := h.knowledge.AddManual(r.Context(), rag_service.KnowledgeInput{
		Owner:           req.Owner,
		Title:           req.Title,
		Description:     req.Description,
		Content:         req.Content,
		SourceType:      pipeline_type.SourceType(req.SourceType),
		SourceReference: req.SourceReference,
		Tags:            req.Tags,
	})
	if err != nil {
		h.writeError(w, "Failed to create knowledge entry", err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *KnowledgeHandler) CreateFromURL(w http.ResponseWriter, r *http.Request) {
	var req knowledgeURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	entry, err := h.knowledge.AddFromURL(r.Context(), req.Owner, req.URL, req.Tags)
	if err != nil {
		h.logger.Error("URL ingestion failed",
			slog.String("url", req.URL),
			slog.String("error", err.Error()))
		h.writeError(w, "Failed to ingest URL", err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *KnowledgeHandler) Get(w http.ResponseWriter, r *http.Request) {
	entry, err := h.knowledge.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, "Failed to load knowledge entry", err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *KnowledgeHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.knowledge.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, "Failed to delete knowledge entry", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeError exposes the reason for client mistakes only; server-side
// failures get the generic message.
func (h *KnowledgeHandler) writeError(w http.ResponseWriter, generic string, err error) {
	status := statusFor(err)
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		writeJSONError(w, err.Error(), status)
	case http.StatusNotFound:
		writeJSONError(w, "Knowledge entry not found", status)
	default:
		h.logger.Error(generic, slog.String("error", err.Error()))
		writeJSONError(w, generic, status)
	}
}
