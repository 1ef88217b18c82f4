// handlers/response.go
//
// Package handlers exposes the index, progress and window state over a
// small JSON API, plus admin endpoints that trigger polls and cleanup.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to marshal JSON response", "component", "API", "error", err)
		http.Error(w, `{"error":"Failed to marshal JSON response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func (h *Handler) respondWithError(w http.ResponseWriter, code int, message string) {
	if code >= http.StatusInternalServerError {
		h.logger.Error("API error", "status", code, "message", message)
	} else {
		h.logger.Debug("API error", "status", code, "message", message)
	}
	respondWithJSON(w, code, map[string]string{"error": message})
}
