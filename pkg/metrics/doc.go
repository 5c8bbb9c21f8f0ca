/*
Package metrics exposes the worker runtime's Prometheus collectors: job
throughput and outcome, executor pool utilization, scaler concurrency state,
heartbeat backoff, progress-queue depth, and control-plane request latency.

Collectors are package-level vars registered in init(); Handler returns the
promhttp handler for mounting on a debug/metrics HTTP server. Timer is a
small helper shared by every subsystem for observing operation duration:

	timer := metrics.NewTimer()
	result, err := doWork()
	timer.ObserveDurationVec(metrics.HandlerDuration, "sync")
*/
package metrics
