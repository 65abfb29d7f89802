/*
Package metrics collects Prometheus metrics for the sync engine, the OCR
queue, and the ingestion pipeline.

The Collector only registers metrics into its own *prometheus.Registry; it
never starts an HTTP server. Mounting that registry behind /metrics is the
job of whatever external admin or metrics UI embeds this engine.

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Namespace: "archivist",
	})
	if err != nil {
		log.Fatal(err)
	}

	handler := promhttp.HandlerFor(collector.Registry(), promhttp.HandlerOpts{})

# Recording

	start := time.Now()
	result, err := pipeline.Ingest(ctx, userID, sourceID, name, data, mime)
	collector.RecordIngest(result.Kind == ingestion.Created)

	collector.RecordSyncCycle(source.ID.String(), outcome, time.Since(start))
	collector.RecordSyncFile(source.ID.String(), resultKind)

	collector.RecordOCRJob(outcome, failureReason, time.Since(jobStart))
	collector.SetOCRQueueDepth(depth)
	collector.SetOCRWorkersBusy(busy)

Every recording method is a no-op when Config.Enabled is false, so callers
never need to branch on whether metrics are on.
*/
package metrics
