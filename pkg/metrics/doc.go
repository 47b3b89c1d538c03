/*
Package metrics exposes Prometheus metrics for the storage engine.

All collectors are package-level and registered on init. The block cache
increments the cache counters as it works; the block counters are updated
by the low-level stores' callers. Handler returns the promhttp handler for
serving /metrics.

# Usage

	http.Handle("/metrics", metrics.Handler())

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.FlushDuration)
*/
package metrics
