/*
Package metrics provides Prometheus metrics for sharefs.

The Collector implements types.MetricsCollector, so the pipelines, caches,
connectors and the adapter service all report through the same value. It
keeps its own registry and serves it over HTTP together with a health check
and a plain-text operations summary:

	/metrics            Prometheus exposition (OpenMetrics enabled)
	/health             liveness
	/debug/operations   per-operation counts and averages

Exported series (namespace defaults to "sharefs"):

	operations_total{operation,status}
	operation_duration_seconds{operation}
	operation_size_bytes{operation}
	bytes_total{direction}
	readahead_resets_total
	cache_evictions_total{cache}
	open_files
	errors_total{operation,type}

The errors type label is the lower-cased error code (not_found, timeout, ...).

Usage:

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Port:      8080,
		Path:      "/metrics",
		Namespace: "sharefs",
	}, logger)
	if err != nil {
		return err
	}
	if err := collector.Start(ctx); err != nil {
		return err
	}
	defer collector.Stop(context.Background())

A disabled collector accepts every call and records nothing.
*/
package metrics
