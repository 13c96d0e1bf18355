package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/stepflow/gateway/pkg/auth"
	"github.com/stepflow/gateway/pkg/storage"
)

// ConfigsHandler manages auth configs and their credentials.
type ConfigsHandler struct {
	Store  storage.AuthConfigStore
	Cache  *auth.Cache
	Logger *log.Logger
}

type credentialPayload struct {
	Kind               string     `json:"kind"`
	Key                string     `json:"key"`
	Value              string     `json:"value"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	RefreshLeadSeconds int64      `json:"refresh_lead_seconds,omitempty"`
}

type configPayload struct {
	ID          string              `json:"id,omitempty"`
	DocumentID  string              `json:"document_id"`
	EndpointID  string              `json:"endpoint_id,omitempty"`
	Scheme      string              `json:"scheme"`
	Config      json.RawMessage     `json:"config,omitempty"`
	Required    bool                `json:"required,omitempty"`
	Global      *bool               `json:"global,omitempty"`
	Priority    int                 `json:"priority,omitempty"`
	Credentials []credentialPayload `json:"credentials,omitempty"`
}

type configResponse struct {
	ID             string    `json:"id"`
	DocumentID     string    `json:"document_id"`
	EndpointID     string    `json:"endpoint_id,omitempty"`
	Scheme         string    `json:"scheme"`
	Required       bool      `json:"required"`
	Global         bool      `json:"global"`
	Priority       int       `json:"priority"`
	Status         string    `json:"status"`
	CredentialKeys []string  `json:"credential_keys,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (h *ConfigsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.upsert(w, r)
	case http.MethodGet:
		h.list(w, r)
	case http.MethodDelete:
		h.delete(w, r)
	default:
		methodNotAllowed(w, strings.Join([]string{http.MethodGet, http.MethodPost, http.MethodDelete}, ", "))
	}
}

func (h *ConfigsHandler) upsert(w http.ResponseWriter, r *http.Request) {
	var payload configPayload
	if !decodeJSON(w, r, &payload) {
		return
	}
	if strings.TrimSpace(payload.DocumentID) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "document_id is required"})
		return
	}
	scheme := strings.ToLower(strings.TrimSpace(payload.Scheme))
	if !validScheme(scheme) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unknown scheme: " + payload.Scheme})
		return
	}
	configJSON := ""
	if len(payload.Config) > 0 {
		if _, err := auth.ParsePayload(string(payload.Config)); err != nil {
			writeError(w, err)
			return
		}
		configJSON = string(payload.Config)
	}

	global := payload.EndpointID == ""
	if payload.Global != nil {
		global = *payload.Global
	}
	record := storage.AuthConfigRecord{
		ID:         strings.TrimSpace(payload.ID),
		DocumentID: strings.TrimSpace(payload.DocumentID),
		EndpointID: strings.TrimSpace(payload.EndpointID),
		Scheme:     scheme,
		ConfigJSON: configJSON,
		Required:   payload.Required,
		Global:     global,
		Priority:   payload.Priority,
	}
	created := record.ID == ""
	saved, err := h.Store.UpsertAuthConfig(r.Context(), record)
	if err != nil {
		writeError(w, err)
		return
	}

	keys := make([]string, 0, len(payload.Credentials))
	for _, credential := range payload.Credentials {
		kind := strings.TrimSpace(credential.Kind)
		if kind == "" {
			kind = storage.CredentialStatic
		}
		if _, err := h.Store.UpsertCredential(r.Context(), storage.CredentialRecord{
			AuthConfigID:       saved.ID,
			Kind:               kind,
			Key:                strings.TrimSpace(credential.Key),
			Value:              credential.Value,
			ExpiresAt:          credential.ExpiresAt,
			RefreshLeadSeconds: credential.RefreshLeadSeconds,
		}); err != nil {
			writeError(w, err)
			return
		}
		keys = append(keys, credential.Key)
	}

	// Derived cache entries are stale the moment config or credentials
	// change.
	if h.Cache != nil {
		h.Cache.Invalidate(saved.ID)
	}
	h.logf("auth config upserted id=%s scheme=%s document=%s credentials=%d", saved.ID, saved.Scheme, saved.DocumentID, len(keys))

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, toConfigResponse(saved, keys))
}

func (h *ConfigsHandler) list(w http.ResponseWriter, r *http.Request) {
	documentID := strings.TrimSpace(r.URL.Query().Get("document_id"))
	if documentID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "document_id is required"})
		return
	}
	records, err := h.Store.ListAuthConfigs(r.Context(), documentID)
	if err != nil {
		writeError(w, err)
		return
	}
	responses := make([]configResponse, 0, len(records))
	for _, record := range records {
		keys := make([]string, 0)
		if credentials, err := h.Store.ListCredentials(r.Context(), record.ID); err == nil {
			for _, credential := range credentials {
				keys = append(keys, credential.Key)
			}
		}
		responses = append(responses, toConfigResponse(record, keys))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"configs": responses})
}

func (h *ConfigsHandler) delete(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "id is required"})
		return
	}
	if err := h.Store.DeleteAuthConfig(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	if h.Cache != nil {
		h.Cache.Invalidate(id)
	}
	h.logf("auth config deleted id=%s", id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *ConfigsHandler) logf(format string, args ...interface{}) {
	if h.Logger != nil {
		h.Logger.Printf(format, args...)
	}
}

func validScheme(scheme string) bool {
	switch scheme {
	case storage.SchemeNone, storage.SchemeBasic, storage.SchemeBearer, storage.SchemeAPIKey, storage.SchemeOAuth2, storage.SchemeDynamic:
		return true
	}
	return false
}

func toConfigResponse(record storage.AuthConfigRecord, keys []string) configResponse {
	return configResponse{
		ID:             record.ID,
		DocumentID:     record.DocumentID,
		EndpointID:     record.EndpointID,
		Scheme:         record.Scheme,
		Required:       record.Required,
		Global:         record.Global,
		Priority:       record.Priority,
		Status:         record.Status,
		CredentialKeys: keys,
		CreatedAt:      record.CreatedAt,
		UpdatedAt:      record.UpdatedAt,
	}
}
