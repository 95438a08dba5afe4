package telemetry

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Stats is a snapshot of the pipeline's own health counters. Delivery is
// best-effort, so these counters are the only visibility into points lost
// to overflow, invalid input, or collector outages.
type Stats struct {
	// Submitted counts points accepted from call sites.
	Submitted uint64
	// Dropped counts points lost for any reason: buffer overflow,
	// validation failure, exhausted retries, or shutdown.
	Dropped uint64
	// Shipped counts points acknowledged by the collector.
	Shipped uint64
	// BatchesSent counts batches acknowledged by the collector.
	BatchesSent uint64
	// BatchesFailed counts batches dropped after exhausting retries or
	// hitting an open circuit.
	BatchesFailed uint64
}

type counters struct {
	submitted     atomic.Uint64
	dropped       atomic.Uint64
	shipped       atomic.Uint64
	batchesSent   atomic.Uint64
	batchesFailed atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Submitted:     c.submitted.Load(),
		Dropped:       c.dropped.Load(),
		Shipped:       c.shipped.Load(),
		BatchesSent:   c.batchesSent.Load(),
		BatchesFailed: c.batchesFailed.Load(),
	}
}

// selfReportPoint re-exposes the health counters as a point in the stream
// itself, so degradation is visible at the collector too.
func (c *counters) selfReportPoint(host string, extra map[string]string) *Point {
	s := c.snapshot()
	tags := map[string]string{hostTagKey: host}
	for k, v := range extra {
		tags[k] = v
	}
	return NewPoint("telemetry_pipeline", tags, map[string]any{
		"points_submitted": int64(s.Submitted),
		"points_dropped":   int64(s.Dropped),
		"points_shipped":   int64(s.Shipped),
		"batches_sent":     int64(s.BatchesSent),
		"batches_failed":   int64(s.BatchesFailed),
	}, time.Now())
}

var (
	descSubmitted = prometheus.NewDesc("telemetry_points_submitted_total",
		"Points accepted from call sites.", nil, nil)
	descDropped = prometheus.NewDesc("telemetry_points_dropped_total",
		"Points lost to overflow, validation, retries, or shutdown.", nil, nil)
	descShipped = prometheus.NewDesc("telemetry_points_shipped_total",
		"Points acknowledged by the collector.", nil, nil)
	descBatchesSent = prometheus.NewDesc("telemetry_batches_sent_total",
		"Batches acknowledged by the collector.", nil, nil)
	descBatchesFailed = prometheus.NewDesc("telemetry_batches_failed_total",
		"Batches dropped after exhausted retries or an open circuit.", nil, nil)
)

// statsCollector exposes the pipeline counters to a Prometheus registry.
type statsCollector struct {
	c *counters
}

func (sc *statsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descSubmitted
	ch <- descDropped
	ch <- descShipped
	ch <- descBatchesSent
	ch <- descBatchesFailed
}

func (sc *statsCollector) Collect(ch chan<- prometheus.Metric) {
	s := sc.c.snapshot()
	ch <- prometheus.MustNewConstMetric(descSubmitted, prometheus.CounterValue, float64(s.Submitted))
	ch <- prometheus.MustNewConstMetric(descDropped, prometheus.CounterValue, float64(s.Dropped))
	ch <- prometheus.MustNewConstMetric(descShipped, prometheus.CounterValue, float64(s.Shipped))
	ch <- prometheus.MustNewConstMetric(descBatchesSent, prometheus.CounterValue, float64(s.BatchesSent))
	ch <- prometheus.MustNewConstMetric(descBatchesFailed, prometheus.CounterValue, float64(s.BatchesFailed))
}
