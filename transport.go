package telemetry

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"net/http"
	"time"

	protocol "github.com/influxdata/line-protocol"
)

// HTTPDoer is an interface for making HTTP requests.
// It is implemented by *http.Client and can be mocked in tests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Sender ships one batch to the collector. Implementations return nil only
// on a collector acknowledgment; any other outcome is a *TransportError
// (or a raw network error) classified for the retry policy.
type Sender interface {
	Send(ctx context.Context, batch []*Point) error
}

// HTTPTransport serializes a batch as Influx line protocol, compresses it
// with gzip, and POSTs it to the collector in a single blocking request.
type HTTPTransport struct {
	url      string
	token    string
	username string
	password string
	client   HTTPDoer
	maxBytes int
	timeout  time.Duration
}

// NewHTTPTransport creates a line-protocol transport from the collector
// configuration. maxBytes bounds a single payload; larger batches are
// split and sent as multiple requests, each bounded by its own timeout.
func NewHTTPTransport(cfg CollectorConfig, client HTTPDoer, maxBytes int, timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		url:      cfg.URL,
		token:    cfg.Token,
		username: cfg.Username,
		password: cfg.Password,
		client:   client,
		maxBytes: maxBytes,
		timeout:  timeout,
	}
}

// Send implements Sender.
func (t *HTTPTransport) Send(ctx context.Context, batch []*Point) error {
	if len(batch) == 0 {
		return nil
	}

	payload, err := EncodeLineProtocol(batch)
	if err != nil {
		return fatalError("encode batch", 0, err)
	}

	// A payload over the byte bound is halved on point count rather than
	// truncated, so no point is ever partially sent.
	if t.maxBytes > 0 && len(payload) > t.maxBytes && len(batch) > 1 {
		mid := len(batch) / 2
		if err := t.Send(ctx, batch[:mid]); err != nil {
			return err
		}
		return t.Send(ctx, batch[mid:])
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(payload); err != nil {
		_ = gz.Close()
		return fatalError("compress batch", 0, err)
	}
	if err := gz.Close(); err != nil {
		return fatalError("compress batch", 0, err)
	}

	return t.post(ctx, buf.Bytes())
}

// post issues one collector request under a fresh timeout, so every
// sub-request of a split batch gets the full budget.
func (t *HTTPTransport) post(ctx context.Context, body []byte) error {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return fatalError("create request", 0, err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("Content-Encoding", "gzip")
	t.authorize(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return retryableError("send batch", 0, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return classifyStatus(resp.StatusCode)
}

func (t *HTTPTransport) authorize(req *http.Request) {
	switch {
	case t.token != "":
		req.Header.Set("Authorization", "Token "+t.token)
	case t.username != "":
		req.SetBasicAuth(t.username, t.password)
	}
}

// classifyStatus maps a collector response status to a terminal outcome:
// nil for 2xx, a retryable error for transient server trouble, a fatal
// error for anything retrying cannot fix.
func classifyStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status >= 500:
		return retryableError("collector error", status, nil)
	case status == http.StatusTooManyRequests:
		return retryableError("collector rate limited", status, nil)
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return fatalError("collector rejected credentials", status, nil)
	default:
		return fatalError("collector rejected batch", status, nil)
	}
}

// EncodeLineProtocol serializes a batch as newline-joined Influx line
// protocol with nanosecond timestamps. Reserved characters in names, keys,
// and values are escaped by the encoder; string field values are quoted.
func EncodeLineProtocol(batch []*Point) ([]byte, error) {
	var buf bytes.Buffer
	enc := protocol.NewEncoder(&buf)
	for _, p := range batch {
		if _, err := enc.Encode(p); err != nil {
			return nil, fmt.Errorf("encode point %q: %w", p.Name(), err)
		}
	}
	return buf.Bytes(), nil
}
