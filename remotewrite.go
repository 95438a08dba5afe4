package telemetry

import (
	"bytes"
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/prometheus/prompb"
)

// RemoteWriteTransport ships batches as snappy-framed Prometheus remote
// write requests. Each numeric field becomes its own series named
// "<metric>_<field>" with the point's tags as labels; string fields have
// no remote-write representation and are skipped.
type RemoteWriteTransport struct {
	url      string
	token    string
	username string
	password string
	client   HTTPDoer
	timeout  time.Duration
}

// NewRemoteWriteTransport creates a remote-write transport from the
// collector configuration.
func NewRemoteWriteTransport(cfg CollectorConfig, client HTTPDoer, timeout time.Duration) *RemoteWriteTransport {
	return &RemoteWriteTransport{
		url:      cfg.URL,
		token:    cfg.Token,
		username: cfg.Username,
		password: cfg.Password,
		client:   client,
		timeout:  timeout,
	}
}

// Send implements Sender.
func (t *RemoteWriteTransport) Send(ctx context.Context, batch []*Point) error {
	if len(batch) == 0 {
		return nil
	}

	req := convertRemoteWrite(batch)
	if len(req.Timeseries) == 0 {
		// Nothing numeric to ship; an all-string batch is a terminal
		// success, not a failure.
		return nil
	}

	data, err := req.Marshal()
	if err != nil {
		return fatalError("marshal remote write request", 0, err)
	}
	compressed := snappy.Encode(nil, data)

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(compressed))
	if err != nil {
		return fatalError("create request", 0, err)
	}
	httpReq.Header.Set("Content-Type", "application/x-protobuf")
	httpReq.Header.Set("Content-Encoding", "snappy")
	httpReq.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")
	switch {
	case t.token != "":
		httpReq.Header.Set("Authorization", "Token "+t.token)
	case t.username != "":
		httpReq.SetBasicAuth(t.username, t.password)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return retryableError("send batch", 0, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return classifyStatus(resp.StatusCode)
}

// convertRemoteWrite is the inverse of a collector's remote-write ingest:
// one timeseries per numeric field, labels sorted by name as the protocol
// requires, timestamps in milliseconds.
func convertRemoteWrite(batch []*Point) *prompb.WriteRequest {
	req := &prompb.WriteRequest{}
	for _, p := range batch {
		tsMillis := p.Time().UnixNano() / 1e6
		for _, f := range p.FieldList() {
			var value float64
			switch v := f.Value.(type) {
			case int64:
				value = float64(v)
			case float64:
				value = v
			case bool:
				if v {
					value = 1
				}
			default:
				continue
			}

			labels := make([]prompb.Label, 0, len(p.TagList())+1)
			labels = append(labels, prompb.Label{Name: "__name__", Value: p.Name() + "_" + f.Key})
			for _, tag := range p.TagList() {
				labels = append(labels, prompb.Label{Name: tag.Key, Value: tag.Value})
			}
			sort.Slice(labels, func(i, j int) bool { return labels[i].Name < labels[j].Name })

			req.Timeseries = append(req.Timeseries, prompb.TimeSeries{
				Labels:  labels,
				Samples: []prompb.Sample{{Value: value, Timestamp: tsMillis}},
			})
		}
	}
	return req
}
