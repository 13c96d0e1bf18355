// Package proxy executes authenticated calls against upstream APIs on
// behalf of gateway callers.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/stepflow/gateway/pkg/auth"
	"github.com/stepflow/gateway/pkg/catalog"
	"github.com/stepflow/gateway/pkg/storage"
)

// ErrEndpointNotFound marks a call against an unknown endpoint.
var ErrEndpointNotFound = errors.New("endpoint not found")

const (
	defaultCallTimeout = 30 * time.Second
	// auditBodyLimit caps how much of a request or response body is kept
	// in the call log.
	auditBodyLimit = 4 << 10
	// responseLimit caps how much upstream body is read back at all.
	responseLimit = 16 << 20
)

// Recorder receives one audit record per executed call.
type Recorder interface {
	RecordCall(ctx context.Context, record storage.CallLogRecord)
}

// Call describes one proxied request. Path is the concrete path to call,
// already containing any path parameter values.
type Call struct {
	EndpointID string
	DocumentID string
	Path       string
	Method     string
	UserID     string
	Headers    map[string]string
	Query      map[string]string
	Body       []byte
}

// Response is the upstream outcome returned to the caller. Upstream error
// statuses pass through untranslated.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	LatencyMS  int64
}

// Executor resolves, authenticates and executes proxied calls.
type Executor struct {
	Directory catalog.Directory
	Resolver  *auth.Resolver
	Cache     *auth.Cache
	Audit     Recorder
	Client    *http.Client
	Logger    *log.Logger

	// DefaultTimeout applies when the endpoint does not set its own.
	DefaultTimeout time.Duration
}

// NewExecutor wires an executor over the directory and auth cache.
func NewExecutor(directory catalog.Directory, cache *auth.Cache, audit Recorder) *Executor {
	return &Executor{
		Directory:      directory,
		Resolver:       &auth.Resolver{Directory: directory},
		Cache:          cache,
		Audit:          audit,
		Client:         http.DefaultClient,
		Logger:         log.Default(),
		DefaultTimeout: defaultCallTimeout,
	}
}

// Execute runs one proxied call end to end: endpoint lookup, auth
// materialization, the upstream request and the audit record.
func (e *Executor) Execute(ctx context.Context, call Call) (*Response, error) {
	begin := time.Now()
	endpoint, err := e.lookup(ctx, call)
	if err != nil {
		return nil, err
	}

	// Failures before dispatch still leave a call record, with the error
	// kind set and no status code.
	var material auth.Material
	config, err := e.Resolver.Resolve(ctx, *endpoint)
	if err != nil {
		e.audit(endpoint, call, endpoint.BaseURL, nil, nil, time.Since(begin), err)
		return nil, err
	}
	if config != nil {
		material, err = e.Cache.Materialize(ctx, *config, call.UserID)
		if err != nil {
			e.audit(endpoint, call, endpoint.BaseURL, nil, nil, time.Since(begin), err)
			return nil, err
		}
	}

	req, cancel, err := e.buildRequest(ctx, *endpoint, call, material)
	if err != nil {
		e.audit(endpoint, call, endpoint.BaseURL, nil, nil, time.Since(begin), err)
		return nil, err
	}
	defer cancel()

	start := time.Now()
	resp, err := e.Client.Do(req)
	latency := time.Since(start)
	if err != nil {
		wrapped := auth.WrapError(auth.KindProxyTransport, "upstream unreachable", err)
		e.audit(endpoint, call, req.URL.String(), nil, nil, latency, wrapped)
		return nil, wrapped
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, responseLimit))
	if err != nil {
		wrapped := auth.WrapError(auth.KindProxyTransport, "reading upstream response", err)
		e.audit(endpoint, call, req.URL.String(), resp, nil, latency, wrapped)
		return nil, wrapped
	}

	e.audit(endpoint, call, req.URL.String(), resp, body, latency, nil)
	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header.Clone(),
		Body:       body,
		LatencyMS:  latency.Milliseconds(),
	}, nil
}

func (e *Executor) lookup(ctx context.Context, call Call) (*catalog.Endpoint, error) {
	if call.EndpointID != "" {
		endpoint, err := e.Directory.GetEndpoint(ctx, call.EndpointID)
		if err != nil {
			return nil, err
		}
		if endpoint == nil {
			return nil, ErrEndpointNotFound
		}
		return endpoint, nil
	}
	endpoint, err := e.Directory.FindEndpoint(ctx, call.DocumentID, call.Path, call.Method)
	if err != nil {
		return nil, err
	}
	if endpoint == nil {
		return nil, ErrEndpointNotFound
	}
	return endpoint, nil
}

func (e *Executor) buildRequest(ctx context.Context, endpoint catalog.Endpoint, call Call, material auth.Material) (*http.Request, context.CancelFunc, error) {
	target := strings.TrimRight(endpoint.BaseURL, "/")
	path := call.Path
	if path == "" {
		path = endpoint.Path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	target += path

	timeout := e.DefaultTimeout
	if endpoint.TimeoutMS > 0 {
		timeout = time.Duration(endpoint.TimeoutMS) * time.Millisecond
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	req, err := http.NewRequestWithContext(callCtx, strings.ToUpper(endpoint.Method), target, bytes.NewReader(call.Body))
	if err != nil {
		cancel()
		return nil, nil, auth.WrapError(auth.KindConfig, "building upstream request", err)
	}

	for name, value := range call.Headers {
		req.Header.Set(name, value)
	}
	if len(call.Query) > 0 {
		query := req.URL.Query()
		for name, value := range call.Query {
			query.Set(name, value)
		}
		req.URL.RawQuery = query.Encode()
	}
	material.Inject(req)
	return req, cancel, nil
}

func (e *Executor) audit(endpoint *catalog.Endpoint, call Call, target string, resp *http.Response, body []byte, latency time.Duration, failure error) {
	if e.Audit == nil {
		return
	}
	record := storage.CallLogRecord{
		EndpointID:   endpoint.ID,
		DocumentID:   endpoint.DocumentID,
		Method:       strings.ToUpper(endpoint.Method),
		URL:          target,
		RequestBody:  truncate(call.Body),
		RequestBytes: int64(len(call.Body)),
		LatencyMS:    latency.Milliseconds(),
		HeadersJSON:  redactedHeaders(call.Headers),
	}
	if resp != nil {
		record.StatusCode = resp.StatusCode
	}
	if body != nil {
		record.ResponseBody = truncate(body)
		record.ResponseBytes = int64(len(body))
	}
	if failure != nil {
		if kind, ok := auth.KindOf(failure); ok {
			record.ErrorType = string(kind)
		}
		record.ErrorMessage = failure.Error()
	}
	e.Audit.RecordCall(context.Background(), record)
}

func truncate(body []byte) string {
	if len(body) > auditBodyLimit {
		body = body[:auditBodyLimit]
	}
	return string(body)
}

// redactedHeaders renders caller headers for the call log with credential
// bearing values masked.
func redactedHeaders(headers map[string]string) string {
	if len(headers) == 0 {
		return ""
	}
	masked := make(map[string]string, len(headers))
	for name, value := range headers {
		switch strings.ToLower(name) {
		case "authorization", "cookie", "x-api-key":
			masked[name] = "[redacted]"
		default:
			masked[name] = value
		}
	}
	raw, err := json.Marshal(masked)
	if err != nil {
		return ""
	}
	return string(raw)
}
