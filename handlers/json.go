package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/serisow/ragone/pipeline_type"
)

func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("Failed to write response", slog.String("error", err.Error()))
	}
}

func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// statusFor maps the domain sentinels onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline_type.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline_type.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, pipeline_type.ErrContentTooShort):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
