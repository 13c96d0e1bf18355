package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/stepflow/gateway/pkg/auth"
	"github.com/stepflow/gateway/pkg/proxy"
)

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Ref   string `json:"ref,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps classified failures onto HTTP statuses. Credential and
// grant problems are the caller's to fix, upstream problems are gateway
// dependencies.
func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, proxy.ErrEndpointNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	status := http.StatusInternalServerError
	response := errorResponse{Error: err.Error(), Ref: auth.RefOf(err)}
	if kind, ok := auth.KindOf(err); ok {
		response.Kind = string(kind)
		switch kind {
		case auth.KindConfig:
			status = http.StatusUnprocessableEntity
		case auth.KindCredential:
			status = http.StatusUnauthorized
		case auth.KindOAuthState:
			status = http.StatusConflict
		case auth.KindUpstreamAuth, auth.KindProxyTransport:
			status = http.StatusBadGateway
		}
	}
	writeJSON(w, status, response)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
}
