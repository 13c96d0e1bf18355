package server

import (
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/stepflow/gateway/pkg/storage"
)

// StatsHandler serves the rolling per-endpoint call statistics.
type StatsHandler struct {
	Store  storage.AuditStore
	Logger *log.Logger
}

func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	query := r.URL.Query()
	if endpointID := strings.TrimSpace(query.Get("endpoint_id")); endpointID != "" {
		stats, err := h.Store.GetEndpointStats(r.Context(), endpointID)
		if err != nil {
			writeError(w, err)
			return
		}
		if stats == nil {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "no statistics for endpoint"})
			return
		}
		writeJSON(w, http.StatusOK, stats)
		return
	}

	limit := 100
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = parsed
	}
	stats, err := h.Store.ListEndpointStats(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"statistics": stats})
}
