// Package transport provides the upstream HTTP contract the gateway core
// consumes: one unary send and one streaming send. Connection pooling and
// timeouts live here; everything above this layer works with bytes.
package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	gatewayerrors "github.com/digitallysavvy/go-llm-gateway/pkg/gateway/errors"
)

// maxErrorBodyBytes caps how much of an upstream error body is embedded in
// a client-facing error.
const maxErrorBodyBytes = 2048

// Transport is the upstream I/O contract consumed by the pipeline.
type Transport interface {
	// SendUnary posts body to url and returns (status, response body).
	SendUnary(ctx context.Context, url string, headers map[string]string, body []byte) (int, []byte, error)

	// SendStream posts body to url and returns (status, content type,
	// response body stream). The caller owns closing the stream.
	SendStream(ctx context.Context, url string, headers map[string]string, body []byte) (int, string, io.ReadCloser, error)
}

// DefaultHTTPClient is a shared HTTP client with pooled connections. The
// generous timeout accommodates long streaming responses.
var DefaultHTTPClient = &http.Client{
	Timeout: 10 * time.Minute,
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	},
}

// HTTPTransport implements Transport over net/http.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport creates a transport. A nil client uses
// DefaultHTTPClient.
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = DefaultHTTPClient
	}
	return &HTTPTransport{client: client}
}

// SendUnary implements Transport.
func (t *HTTPTransport) SendUnary(ctx context.Context, url string, headers map[string]string, body []byte) (int, []byte, error) {
	resp, err := t.send(ctx, url, headers, body, "")
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, gatewayerrors.NewTransport("failed to read upstream response body", err)
	}
	return resp.StatusCode, respBody, nil
}

// SendStream implements Transport.
func (t *HTTPTransport) SendStream(ctx context.Context, url string, headers map[string]string, body []byte) (int, string, io.ReadCloser, error) {
	resp, err := t.send(ctx, url, headers, body, "text/event-stream")
	if err != nil {
		return 0, "", nil, err
	}
	return resp.StatusCode, resp.Header.Get("Content-Type"), resp.Body, nil
}

func (t *HTTPTransport) send(ctx context.Context, url string, headers map[string]string, body []byte, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, gatewayerrors.NewTransport("failed to build upstream request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, gatewayerrors.NewTransport("upstream request failed", err)
	}
	return resp, nil
}

// SanitizeErrorBody prepares an upstream error body for embedding in a
// client-facing error: length-capped with binary bytes stripped.
func SanitizeErrorBody(body []byte) string {
	if len(body) > maxErrorBodyBytes {
		body = body[:maxErrorBodyBytes]
	}
	out := make([]byte, 0, len(body))
	for _, b := range body {
		if b == '\n' || b == '\t' || (b >= 0x20 && b != 0x7f) {
			out = append(out, b)
		}
	}
	return string(out)
}
