package server

import (
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/stepflow/gateway/pkg/storage"
)

// LogsHandler serves recent call and authentication logs.
type LogsHandler struct {
	Store  storage.AuditStore
	Logger *log.Logger
}

func (h *LogsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	query := r.URL.Query()
	limit := 50
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	switch strings.TrimSpace(query.Get("type")) {
	case "", "calls":
		records, err := h.Store.ListRecentCalls(r.Context(), storage.CallLogFilter{
			EndpointID: strings.TrimSpace(query.Get("endpoint_id")),
			DocumentID: strings.TrimSpace(query.Get("document_id")),
			ErrorsOnly: query.Get("errors_only") == "true",
			Limit:      limit,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"calls": records})
	case "auth":
		records, err := h.Store.ListRecentAuthAttempts(r.Context(), limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"auth_attempts": records})
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "type must be calls or auth"})
	}
}
