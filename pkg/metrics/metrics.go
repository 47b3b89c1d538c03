package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Block cache metrics
	CacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vaultfs_block_cache_hits_total",
			Help: "Total number of block loads served from the cache",
		},
	)

	CacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vaultfs_block_cache_misses_total",
			Help: "Total number of block loads that went to the base store",
		},
	)

	CacheEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vaultfs_block_cache_evictions_total",
			Help: "Total number of cache entries evicted by the idle pruner",
		},
	)

	CacheFlushes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vaultfs_block_cache_flushes_total",
			Help: "Total number of dirty cache entries written to the base store",
		},
	)

	CacheFlushErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vaultfs_block_cache_flush_errors_total",
			Help: "Total number of failed cache flushes",
		},
	)

	CacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vaultfs_block_cache_entries",
			Help: "Current number of entries held by the block cache",
		},
	)

	// Block store metrics
	BlocksCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vaultfs_blocks_created_total",
			Help: "Total number of blocks created",
		},
	)

	BlocksRemoved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vaultfs_blocks_removed_total",
			Help: "Total number of blocks removed",
		},
	)

	// Operation latency metrics
	FlushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vaultfs_flush_duration_seconds",
			Help:    "Time taken to flush a dirty block to the base store in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	TreeResizeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vaultfs_tree_resize_duration_seconds",
			Help:    "Time taken to resize a block tree in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(CacheEvictions)
	prometheus.MustRegister(CacheFlushes)
	prometheus.MustRegister(CacheFlushErrors)
	prometheus.MustRegister(CacheEntries)
	prometheus.MustRegister(BlocksCreated)
	prometheus.MustRegister(BlocksRemoved)
	prometheus.MustRegister(FlushDuration)
	prometheus.MustRegister(TreeResizeDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogramVec *prometheus.HistogramVec, labels ...string) {
	histogramVec.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}
