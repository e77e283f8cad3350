// Package metrics holds the process-wide Prometheus collectors for the
// capture pipeline. They register on the default registry and are served by
// the admin server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Captured = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clipkeep_clips_captured_total",
		Help: "Clips stored as new rows.",
	})
	Duplicates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clipkeep_clips_duplicate_total",
		Help: "Captures resolved to an existing clip.",
	})
	Bounced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clipkeep_captures_bounced_total",
		Help: "Captures discarded because no collection accepts new clips.",
	})
	Dropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clipkeep_captures_dropped_total",
		Help: "Queued captures evicted by a full channel.",
	})
	Failed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clipkeep_captures_failed_total",
		Help: "Captures abandoned after a processing error.",
	})
	Excluded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clipkeep_captures_excluded_total",
		Help: "Captures discarded by an application exclusion.",
	})
	Relocated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipkeep_clips_relocated_total",
		Help: "Clips moved out of a collection by retention.",
	}, []string{"target"})
	ExtractFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clipkeep_format_extract_failures_total",
		Help: "Individual formats that could not be extracted.",
	})
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clipkeep_capture_queue_depth",
		Help: "Drafts waiting in the capture channel.",
	})
	ProcessSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "clipkeep_capture_process_seconds",
		Help:    "Time spent storing one capture.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})
	SearchCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipkeep_search_cache_total",
		Help: "Search cache lookups by result.",
	}, []string{"result"})
)
