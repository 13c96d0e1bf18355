package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"

	"github.com/stepflow/gateway/pkg/storage"
)

const dynamicDefaultTimeout = 5 * time.Second

// DynamicProvider fetches credential material from an external secret
// source. The fetch is untrusted I/O: it runs under a bounded timeout and
// fails closed when the source misbehaves.
type DynamicProvider struct {
	client *http.Client
}

// NewDynamicProvider returns a dynamic provider using the given client,
// or http.DefaultClient when nil.
func NewDynamicProvider(client *http.Client) *DynamicProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &DynamicProvider{client: client}
}

func (p *DynamicProvider) Scheme() string { return storage.SchemeDynamic }

func (p *DynamicProvider) Authenticate(ctx context.Context, req Request) (Result, error) {
	sourceURL := req.Setting("source_url", "")
	if sourceURL == "" {
		return Result{}, NewError(KindConfig, "dynamic auth requires a source_url")
	}
	if lookup := req.Credential("lookup"); lookup != nil && lookup.Value != "" {
		sourceURL = strings.ReplaceAll(sourceURL, "{lookup}", lookup.Value)
	}

	timeout := dynamicDefaultTimeout
	if raw := req.Setting("timeout_ms", ""); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || ms <= 0 {
			return Result{}, NewError(KindConfig, "dynamic timeout_ms must be a positive integer")
		}
		timeout = time.Duration(ms) * time.Millisecond
	}
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return Result{}, WrapError(KindConfig, "invalid secret source url", err)
	}
	if sourceToken := req.Credential("source_token"); sourceToken != nil && sourceToken.Value != "" {
		httpReq.Header.Set("Authorization", "Bearer "+sourceToken.Value)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Result{}, WrapError(KindUpstreamAuth, "secret source unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return Result{}, NewError(KindUpstreamAuth, fmt.Sprintf("secret source returned %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return Result{}, NewError(KindCredential, fmt.Sprintf("secret source rejected lookup with %d", resp.StatusCode))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, WrapError(KindUpstreamAuth, "reading secret source response", err)
	}

	var document interface{}
	if err := json.Unmarshal(body, &document); err != nil {
		return Result{}, WrapError(KindCredential, "secret source returned invalid JSON", err)
	}
	valuePath := req.Setting("value_path", "$.value")
	extracted, err := jsonpath.Get(valuePath, document)
	if err != nil {
		return Result{}, WrapError(KindCredential, "secret value path did not match", err)
	}
	secret, ok := extracted.(string)
	if !ok || secret == "" {
		return Result{}, NewError(KindCredential, "secret value path did not yield a string")
	}

	var expiresAt time.Time
	if raw := req.Setting("ttl_seconds", ""); raw != "" {
		if seconds, err := strconv.ParseInt(raw, 10, 64); err == nil && seconds > 0 {
			expiresAt = time.Now().Add(time.Duration(seconds) * time.Second).UTC()
		}
	}

	headerName := req.Setting("header_name", "Authorization")
	headerValue := secret
	if prefix := req.Setting("header_prefix", ""); prefix != "" {
		headerValue = prefix + " " + secret
	}

	result := Result{
		Material: Material{
			Headers:   map[string]string{headerName: headerValue},
			ExpiresAt: expiresAt,
		},
		Method: MethodDynamic,
	}
	// Write the fetched secret back when the config carries an external
	// credential slot, so refresh lead applies across restarts.
	if slot := req.Credential("value"); slot != nil && slot.Kind == storage.CredentialExternal {
		updated := *slot
		updated.Value = secret
		if !expiresAt.IsZero() {
			updated.ExpiresAt = &expiresAt
		}
		result.Credential = &updated
	}
	return result, nil
}
