package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cassiomorais/pos-payments/internal/domain/gateway"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Request is a gateway API call in canonical form. Adapters build it; the
// Transport owns encoding, authentication and the network.
type Request struct {
	Method         string
	Path           string
	Body           any
	IdempotencyKey string
}

// Response is a decoded gateway reply.
type Response struct {
	StatusCode int
	Body       map[string]any
}

// Transport performs gateway API calls.
type Transport interface {
	Do(ctx context.Context, req Request) (*Response, error)
}

// HTTPTransport sends JSON requests to a gateway base URL with a bearer credential.
type HTTPTransport struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPTransport(baseURL, apiKey string, timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (t *HTTPTransport) Do(ctx context.Context, req Request) (*Response, error) {
	var body io.Reader
	if req.Body != nil {
		buf, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, t.baseURL+req.Path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+t.apiKey)
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	resp := &Response{StatusCode: httpResp.StatusCode, Body: map[string]any{}}
	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &resp.Body); err != nil {
			// Non-JSON error pages still carry a usable status code.
			resp.Body["message"] = string(raw)
		}
	}
	return resp, nil
}

// classify maps a transport outcome to a Result for anything that is not a
// 2xx reply. It returns nil when the caller should inspect the body.
func classify(resp *Response, err error, reason func(map[string]any) string) *gateway.Result {
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return gateway.Transient("request cancelled")
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return gateway.Transient("gateway timeout")
		}
		return gateway.Transient(err.Error())
	}

	code := resp.StatusCode
	if code >= 200 && code < 300 {
		return nil
	}

	msg := reason(resp.Body)
	if msg == "" {
		msg = fmt.Sprintf("gateway returned %d", code)
	}
	switch {
	case code == http.StatusPaymentRequired:
		return gateway.Declined(msg)
	case code == http.StatusRequestTimeout, code == http.StatusTooEarly,
		code == http.StatusTooManyRequests, code >= 500:
		return gateway.Transient(msg)
	default:
		return gateway.Permanent(msg)
	}
}

// str reads a nested string field, returning "" when any hop is missing.
func str(body map[string]any, path ...string) string {
	var cur any = body
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur = m[key]
	}
	switch v := cur.(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	}
	return ""
}

// obj reads a nested object.
func obj(body map[string]any, key string) map[string]any {
	m, _ := body[key].(map[string]any)
	return m
}

// first returns the first element of an array of objects.
func first(body map[string]any, key string) map[string]any {
	arr, _ := body[key].([]any)
	if len(arr) == 0 {
		return nil
	}
	m, _ := arr[0].(map[string]any)
	return m
}
