package server

import (
	"encoding/base64"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/stepflow/gateway/pkg/proxy"
)

// CallHandler executes proxied API calls.
type CallHandler struct {
	Executor *proxy.Executor
	Logger   *log.Logger
}

type callPayload struct {
	EndpointID string            `json:"endpoint_id,omitempty"`
	DocumentID string            `json:"document_id,omitempty"`
	Path       string            `json:"path,omitempty"`
	Method     string            `json:"method,omitempty"`
	UserID     string            `json:"user_id,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Query      map[string]string `json:"query,omitempty"`
	Body       string            `json:"body,omitempty"`
	// BodyBase64 carries binary request bodies.
	BodyBase64 string `json:"body_base64,omitempty"`
}

func (h *CallHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var payload callPayload
	if !decodeJSON(w, r, &payload) {
		return
	}
	if payload.EndpointID == "" && (payload.DocumentID == "" || payload.Path == "" || payload.Method == "") {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "endpoint_id or document_id+path+method is required"})
		return
	}

	body := []byte(payload.Body)
	if payload.BodyBase64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(payload.BodyBase64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid body_base64"})
			return
		}
		body = decoded
	}
	userID := strings.TrimSpace(payload.UserID)
	if userID == "" {
		userID = callerSubject(r.Context())
	}

	response, err := h.Executor.Execute(r.Context(), proxy.Call{
		EndpointID: payload.EndpointID,
		DocumentID: payload.DocumentID,
		Path:       payload.Path,
		Method:     payload.Method,
		UserID:     userID,
		Headers:    payload.Headers,
		Query:      payload.Query,
		Body:       body,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	// The upstream response passes through: status, content type and body
	// are the target API's, not the gateway's.
	if contentType := response.Headers.Get("Content-Type"); contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.Header().Set("X-Gateway-Latency-Ms", strconv.FormatInt(response.LatencyMS, 10))
	w.WriteHeader(response.StatusCode)
	if _, err := w.Write(response.Body); err != nil {
		h.logf("writing proxied response err=%v", err)
	}
}

func (h *CallHandler) logf(format string, args ...interface{}) {
	if h.Logger != nil {
		h.Logger.Printf(format, args...)
	}
}
