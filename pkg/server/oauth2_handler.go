package server

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/stepflow/gateway/pkg/oauth"
)

// OAuth2Handler exposes the authorization-code flow: starting an
// authorization and receiving the provider callback.
type OAuth2Handler struct {
	Manager *oauth.Manager
	Logger  *log.Logger
}

type authorizePayload struct {
	AuthConfigID string `json:"auth_config_id"`
	DocumentID   string `json:"document_id"`
	UserID       string `json:"user_id,omitempty"`
}

type authorizeResponse struct {
	AuthorizeURL string    `json:"authorize_url"`
	State        string    `json:"state"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Authorize starts the flow and returns the provider URL to redirect the
// user to.
func (h *OAuth2Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var payload authorizePayload
	if !decodeJSON(w, r, &payload) {
		return
	}
	if strings.TrimSpace(payload.AuthConfigID) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "auth_config_id is required"})
		return
	}
	userID := strings.TrimSpace(payload.UserID)
	if userID == "" {
		userID = callerSubject(r.Context())
	}
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "user_id is required when inbound auth is disabled"})
		return
	}

	begun, err := h.Manager.BeginAuthorization(r.Context(), payload.AuthConfigID, strings.TrimSpace(payload.DocumentID), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	h.logf("authorization started config=%s user=%s state_expires=%s", payload.AuthConfigID, userID, begun.ExpiresAt.Format(time.RFC3339))
	writeJSON(w, http.StatusOK, authorizeResponse{
		AuthorizeURL: begun.AuthorizeURL,
		State:        begun.State,
		ExpiresAt:    begun.ExpiresAt,
	})
}

type callbackResponse struct {
	Status          string     `json:"status"`
	AuthorizationID string     `json:"authorization_id,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
}

// Callback receives the provider redirect. It is unauthenticated: the
// single-use state is the proof of a pending flow.
func (h *OAuth2Handler) Callback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	query := r.URL.Query()
	state := strings.TrimSpace(query.Get("state"))
	if state == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "state is required"})
		return
	}

	grant, err := h.Manager.HandleCallback(r.Context(), oauth.Callback{
		State:            state,
		Code:             query.Get("code"),
		ErrorCode:        query.Get("error"),
		ErrorDescription: query.Get("error_description"),
		ClientIP:         clientIP(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	h.logf("authorization completed user=%s document=%s", grant.UserID, grant.DocumentID)
	writeJSON(w, http.StatusOK, callbackResponse{
		Status:          "authorized",
		AuthorizationID: grant.AuthorizationID,
		ExpiresAt:       grant.ExpiresAt,
	})
}

func (h *OAuth2Handler) logf(format string, args ...interface{}) {
	if h.Logger != nil {
		h.Logger.Printf(format, args...)
	}
}
