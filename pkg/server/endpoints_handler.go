package server

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/stepflow/gateway/pkg/catalog"
)

// EndpointRegistry is the write side of the endpoint directory.
type EndpointRegistry interface {
	UpsertEndpoint(ctx context.Context, endpoint catalog.Endpoint) (catalog.Endpoint, error)
}

// EndpointsHandler registers callable endpoints in the directory.
type EndpointsHandler struct {
	Registry  EndpointRegistry
	Directory catalog.Directory
	Logger    *log.Logger
}

type endpointPayload struct {
	ID           string `json:"id,omitempty"`
	DocumentID   string `json:"document_id"`
	BaseURL      string `json:"base_url"`
	Path         string `json:"path"`
	Method       string `json:"method"`
	TimeoutMS    int64  `json:"timeout_ms,omitempty"`
	AuthRequired bool   `json:"auth_required,omitempty"`
}

func (h *EndpointsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.upsert(w, r)
	case http.MethodGet:
		h.get(w, r)
	default:
		methodNotAllowed(w, http.MethodGet+", "+http.MethodPost)
	}
}

func (h *EndpointsHandler) upsert(w http.ResponseWriter, r *http.Request) {
	var payload endpointPayload
	if !decodeJSON(w, r, &payload) {
		return
	}
	if strings.TrimSpace(payload.DocumentID) == "" || strings.TrimSpace(payload.Path) == "" || strings.TrimSpace(payload.Method) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "document_id, path and method are required"})
		return
	}
	if strings.TrimSpace(payload.BaseURL) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "base_url is required"})
		return
	}
	saved, err := h.Registry.UpsertEndpoint(r.Context(), catalog.Endpoint{
		ID:           strings.TrimSpace(payload.ID),
		DocumentID:   strings.TrimSpace(payload.DocumentID),
		BaseURL:      strings.TrimSpace(payload.BaseURL),
		Path:         strings.TrimSpace(payload.Path),
		Method:       strings.TrimSpace(payload.Method),
		TimeoutMS:    payload.TimeoutMS,
		AuthRequired: payload.AuthRequired,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if h.Logger != nil {
		h.Logger.Printf("endpoint upserted id=%s document=%s %s %s", saved.ID, saved.DocumentID, saved.Method, saved.Path)
	}
	writeJSON(w, http.StatusOK, saved)
}

func (h *EndpointsHandler) get(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "id is required"})
		return
	}
	endpoint, err := h.Directory.GetEndpoint(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if endpoint == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "endpoint not found"})
		return
	}
	writeJSON(w, http.StatusOK, endpoint)
}
