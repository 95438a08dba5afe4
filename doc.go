/*
Package telemetry provides a best-effort measurement shipping pipeline:
call sites submit typed points, a background worker batches them and
delivers each batch to a remote time-series collector over HTTP.

Producers never block on I/O and never see an error. Submit performs a
bounded enqueue into a fixed-capacity buffer; when the buffer is full the
configured drop policy decides which point is lost, and the loss is
counted. The background worker flushes on a dual trigger, whichever comes
first: the batch reaching MaxBatchSize points, or FlushInterval elapsing.
Batches are serialized as Influx line protocol (or Prometheus remote
write), compressed, and POSTed to the collector with exponential-backoff
retries behind a circuit breaker. A batch that exhausts its retries is
dropped and counted; there is no dead-letter persistence.

	pipeline, err := telemetry.New(telemetry.Config{
		Collector: telemetry.CollectorConfig{URL: "https://metrics.example.com/write"},
	})
	if err != nil {
		log.Fatal(err)
	}
	defer pipeline.Shutdown()

	pipeline.Submit("request_latency",
		map[string]string{"route": "/api/v1/items"},
		map[string]any{"ms": 12.5, "status": 200})

Pipeline health is observable through Stats, an optional self-reported
telemetry_pipeline point, and a prometheus.Collector view of the same
counters.
*/
package telemetry
