package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HTTPDispatcher posts each request envelope to a fixed JSON-RPC endpoint.
type HTTPDispatcher struct {
	url        string
	version    string
	httpClient *http.Client
	headers    map[string]string
	logger     *zap.Logger
}

// HTTPOption configures an HTTPDispatcher.
type HTTPOption func(*HTTPDispatcher)

// WithHTTPClient sets the HTTP client (timeouts, TLS settings).
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(d *HTTPDispatcher) {
		d.httpClient = client
	}
}

// WithHeader adds a static header to every request.
func WithHeader(key, value string) HTTPOption {
	return func(d *HTTPDispatcher) {
		d.headers[key] = value
	}
}

// WithHTTPLogger sets the logger; nil disables logging.
func WithHTTPLogger(logger *zap.Logger) HTTPOption {
	return func(d *HTTPDispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewHTTPDispatcher creates a dispatcher for url that reports version as the
// negotiated API version.
func NewHTTPDispatcher(url, version string, opts ...HTTPOption) *HTTPDispatcher {
	d := &HTTPDispatcher{
		url:        url,
		version:    version,
		httpClient: http.DefaultClient,
		headers:    make(map[string]string),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *HTTPDispatcher) Version() string {
	return d.version
}

// DispatchRequest posts request and returns the response body.
//
// Error statuses with a body are not I/O failures: the body goes back to the
// caller, which knows how to read server error envelopes and HTML error pages.
func (d *HTTPDispatcher) DispatchRequest(ctx context.Context, request []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(request))
	if err != nil {
		return nil, err
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", requestID)
	for k, v := range d.headers {
		req.Header.Set(k, v)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	d.logger.Debug("http dispatch",
		zap.String("url", d.url),
		zap.String("requestID", requestID),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)))

	if resp.StatusCode >= http.StatusBadRequest && len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("http status %d from %s", resp.StatusCode, d.url)
	}
	return body, nil
}
