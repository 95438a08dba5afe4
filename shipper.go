package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

type flushRequest struct {
	reply chan error
}

// shipper is the background worker: it drains the point buffer, assembles
// batches on a count-or-interval trigger, and hands each batch to the
// sender. Shipping is serialized; the loop does not accumulate a new batch
// until the current send, including its retries, reaches a terminal
// outcome.
type shipper struct {
	cfg     *Config
	buf     *pointBuffer
	sender  Sender
	retryer *Retryer
	breaker *CircuitBreaker
	stats   *counters
	logger  *slog.Logger
	host    string

	flushCh chan flushRequest
	stop    chan struct{}
	done    chan struct{}
}

func newShipper(cfg *Config, buf *pointBuffer, sender Sender, stats *counters, host string) *shipper {
	return &shipper{
		cfg:    cfg,
		buf:    buf,
		sender: sender,
		retryer: NewRetryer(RetryConfig{
			MaxAttempts:       cfg.MaxRetries,
			InitialBackoff:    cfg.RetryBackoff,
			MaxBackoff:        cfg.MaxRetryBackoff,
			BackoffMultiplier: 2.0,
			Jitter:            0.1,
			RetryIf:           IsRetryable,
		}),
		breaker: NewCircuitBreaker(5, 30*time.Second),
		stats:   stats,
		logger:  cfg.Logger,
		host:    host,
		flushCh: make(chan flushRequest),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (s *shipper) start() {
	go s.loop()
}

func (s *shipper) loop() {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]*Point, 0, s.cfg.MaxBatchSize)

	for {
		select {
		case <-s.stop:
			s.finalFlush(batch)
			return

		case p := <-s.buf.ch:
			batch = append(batch, p)
			if len(batch) >= s.cfg.MaxBatchSize {
				s.ship(context.Background(), batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if s.cfg.SelfReport {
				batch = append(batch, s.stats.selfReportPoint(s.host, s.cfg.ExtraTags))
			}
			if len(batch) > 0 {
				s.ship(context.Background(), batch)
				batch = batch[:0]
			}

		case req := <-s.flushCh:
			batch = s.drainQueued(batch)
			var err error
			if len(batch) > 0 {
				err = s.ship(context.Background(), batch)
				batch = batch[:0]
			}
			req.reply <- err
		}
	}
}

// drainQueued moves every point currently sitting in the buffer into the
// batch without blocking.
func (s *shipper) drainQueued(batch []*Point) []*Point {
	for {
		select {
		case p := <-s.buf.ch:
			batch = append(batch, p)
		default:
			return batch
		}
	}
}

// finalFlush ships whatever is still buffered, bounded by the shutdown
// grace period. Points unshipped when it elapses are counted as dropped by
// the failed ship.
func (s *shipper) finalFlush(batch []*Point) {
	batch = s.drainQueued(batch)
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace)
	defer cancel()
	if err := s.ship(ctx, batch); err != nil {
		s.logger.Warn("telemetry shutdown flush incomplete", "points", len(batch), "err", err)
	}
}

// ship delivers one batch through the circuit breaker and retry policy and
// updates the health counters with the terminal outcome. Failures are
// contained here; nothing propagates to producers.
func (s *shipper) ship(ctx context.Context, batch []*Point) error {
	if len(batch) == 0 {
		return nil
	}

	err := s.breaker.Execute(func() error {
		result := s.retryer.Do(ctx, func() error {
			// The sender bounds each request with its own timeout;
			// ctx carries only the caller's bound (shutdown grace).
			return s.sender.Send(ctx, batch)
		})
		if result.LastErr != nil {
			s.logger.Error("telemetry batch send failed",
				"attempts", result.Attempts, "points", len(batch), "err", result.LastErr)
		}
		return result.LastErr
	})

	if err != nil {
		s.stats.batchesFailed.Add(1)
		s.stats.dropped.Add(uint64(len(batch)))
		if errors.Is(err, ErrCircuitOpen) {
			s.logger.Warn("telemetry circuit open, dropping batch", "points", len(batch))
		}
		return err
	}

	s.stats.batchesSent.Add(1)
	s.stats.shipped.Add(uint64(len(batch)))
	return nil
}
