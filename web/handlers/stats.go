package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/convoscope/convoscope/internal/storage"
)

// ErrorResponse is the standard error response format for the API.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// StatsResponse is the response format for GET /api/stats.
type StatsResponse struct {
	Store storage.StoreStats `json:"store"`
}

// StatsHandler handles statistics endpoint requests.
type StatsHandler struct {
	provider storage.StatsProvider
}

// NewStatsHandler creates a new StatsHandler instance.
func NewStatsHandler(provider storage.StatsProvider) *StatsHandler {
	return &StatsHandler{provider: provider}
}

// GetStats handles GET /api/stats - returns store row counts.
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	if h.provider == nil {
		respondError(w, http.StatusNotImplemented, "stats not supported by this backend", nil)
		return
	}

	stats, err := h.provider.Stats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to collect stats", err)
		return
	}

	respondJSON(w, http.StatusOK, StatsResponse{Store: stats})
}

// HealthHandler handles GET /api/health - a liveness probe.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// If encoding fails, log but don't try to write another response
		// (headers already sent)
		fmt.Printf("failed to encode JSON response: %v\n", err)
	}
}

// respondError writes an error response with the given status code.
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	errResp := ErrorResponse{
		Error: message,
		Code:  http.StatusText(statusCode),
	}

	if err != nil {
		errResp.Details = map[string]interface{}{
			"error": err.Error(),
		}
	}

	respondJSON(w, statusCode, errResp)
}
