package telemetry

import (
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Pipeline is the submission side of the telemetry system: call sites hand
// it measurements, a background worker batches and ships them to the
// collector. Construct one at the application's composition root and pass
// the handle down; every method is safe for concurrent use and none of
// them ever blocks a producer on I/O.
type Pipeline struct {
	cfg    Config
	stats  counters
	buf    *pointBuffer
	ship   *shipper
	logger *slog.Logger
	allow  map[string]struct{}
	host   string

	startOnce sync.Once
	started   atomic.Bool
	closed    atomic.Bool
}

// New validates the configuration and builds a pipeline. The background
// worker is not started until Start or the first Submit. Configuration
// problems are fatal here; nothing later in the pipeline's life returns an
// error to a producer.
func New(cfg Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.withDefaults()

	p := &Pipeline{
		cfg:    cfg,
		logger: cfg.Logger,
		host:   Hostname(),
	}
	if cfg.Disabled {
		return p, nil
	}

	if len(cfg.MetricsAllow) > 0 {
		p.allow = make(map[string]struct{}, len(cfg.MetricsAllow))
		for _, m := range cfg.MetricsAllow {
			p.allow[m] = struct{}{}
		}
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.RequestTimeout}
	}

	var sender Sender
	switch cfg.Collector.Format {
	case FormatRemoteWrite:
		sender = NewRemoteWriteTransport(cfg.Collector, client, cfg.RequestTimeout)
	default:
		sender = NewHTTPTransport(cfg.Collector, client, cfg.MaxBatchBytes, cfg.RequestTimeout)
	}

	p.buf = newPointBuffer(cfg.BufferCapacity, cfg.DropPolicy, &p.stats)
	p.ship = newShipper(&p.cfg, p.buf, sender, &p.stats, p.host)
	return p, nil
}

// Start launches the background worker. Calling it is optional; the first
// Submit starts the worker lazily. Start after Shutdown is a no-op.
func (p *Pipeline) Start() {
	p.startOnce.Do(func() {
		if p.cfg.Disabled || p.closed.Load() {
			return
		}
		p.started.Store(true)
		p.ship.start()
	})
}

// Submit constructs a point from the given name, tags, and fields, stamps
// the current time and the host tag, and enqueues it. It returns
// immediately: a full buffer or an unhealthy collector drops points and
// bumps counters, it never stalls or fails the caller. Explicit tags
// override the implicit host and extra tags on key collision.
func (p *Pipeline) Submit(name string, tags map[string]string, fields map[string]any) {
	if p.cfg.Disabled || p.closed.Load() {
		return
	}
	if p.allow != nil {
		if _, ok := p.allow[name]; !ok {
			return
		}
	}
	p.Start()

	merged := make(map[string]string, len(tags)+len(p.cfg.ExtraTags)+1)
	merged[hostTagKey] = p.host
	for k, v := range p.cfg.ExtraTags {
		merged[k] = v
	}
	for k, v := range tags {
		merged[k] = v
	}

	p.SubmitPoint(NewPoint(name, merged, fields, time.Now()))
}

// SubmitPoint enqueues an already-built point as-is, without stamping the
// host tag or timestamp. Invalid points are dropped and counted.
func (p *Pipeline) SubmitPoint(pt *Point) {
	if p.cfg.Disabled || p.closed.Load() {
		return
	}
	p.Start()

	if err := pt.Validate(); err != nil {
		p.stats.dropped.Add(1)
		p.logger.Debug("telemetry point rejected", "metric", pt.Name(), "err", err)
		return
	}
	// A Shutdown that raced the checks above may have left the worker
	// stopped (or never started); points enqueued now would sit in the
	// buffer forever, so drop and count instead.
	if p.closed.Load() {
		p.stats.dropped.Add(1)
		return
	}
	p.stats.submitted.Add(1)
	p.buf.push(pt)
}

// FlushAndWait forces an out-of-cycle flush of everything buffered and
// blocks until that flush reaches a terminal outcome or the timeout
// elapses. Intended for tests and graceful-shutdown paths; ordinary
// producers should never call it.
func (p *Pipeline) FlushAndWait(timeout time.Duration) error {
	if p.cfg.Disabled {
		return nil
	}
	if p.closed.Load() {
		return ErrPipelineClosed
	}
	p.Start()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	req := flushRequest{reply: make(chan error, 1)}
	select {
	case p.ship.flushCh <- req:
	case <-p.ship.done:
		return ErrPipelineClosed
	case <-timer.C:
		return ErrFlushTimeout
	}
	select {
	case err := <-req.reply:
		return err
	case <-p.ship.done:
		return ErrPipelineClosed
	case <-timer.C:
		return ErrFlushTimeout
	}
}

// Shutdown stops the background worker after one final best-effort flush
// bounded by ShutdownGrace, then returns. It is idempotent. Submissions
// after Shutdown are silently discarded.
func (p *Pipeline) Shutdown() {
	if p.cfg.Disabled {
		return
	}
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	// Settles any in-flight lazy start so started is accurate.
	p.startOnce.Do(func() {})
	if p.started.Load() {
		close(p.ship.stop)
		select {
		case <-p.ship.done:
		case <-time.After(p.cfg.ShutdownGrace + p.cfg.RequestTimeout):
			p.logger.Error("telemetry worker did not stop within grace period")
		}
	}

	// Points enqueued by producers racing the closed flag are abandoned
	// now that the worker is gone; account for them as drops.
	for {
		select {
		case <-p.buf.ch:
			p.stats.dropped.Add(1)
		default:
			return
		}
	}
}

// Stats returns a snapshot of the pipeline's health counters.
func (p *Pipeline) Stats() Stats {
	return p.stats.snapshot()
}

// Collector returns a prometheus.Collector view of the health counters for
// registration alongside the application's other metrics.
func (p *Pipeline) Collector() prometheus.Collector {
	return &statsCollector{c: &p.stats}
}
