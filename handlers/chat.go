package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/serisow/ragone/services/chat_service"
)

type Replier interface {
	Reply(ctx context.Context, req chat_service.ChatRequest) (chat_service.ChatResponse, error)
}

type ChatHandler struct {
	chat   Replier
	logger *slog.Logger
}

func NewChatHandler(chat Replier, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{chat: chat, logger: logger}
}

func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req chat_service.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSONError(w, "Message cannot be empty", http.StatusBadRequest)
		return
	}

	resp, err := h.chat.Reply(r.Context(), req)
	if err != nil {
		if errors.Is(err, chat_service.ErrGenerationFailed) {
			writeJSONError(w, chat_service.FallbackAnswer, http.StatusBadGateway)
			return
		}
		h.logger.Error("Chat request failed", slog.String("error", err.Error()))
		writeJSONError(w, "Chat request failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Health reports ok, or 503 when the database does not answer.
func Health(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			if err := db.Ping(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
