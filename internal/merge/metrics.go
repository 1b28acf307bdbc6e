package merge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeMerged   = "merged"
	outcomeFastPath = "fast_path"
	outcomeFailed   = "failed"
)

var (
	mergesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weave_merges_total",
		Help: "Merge calls by outcome",
	}, []string{"outcome"})

	mergeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "weave_merge_duration_seconds",
		Help:    "Time spent replaying updates into the scratch document",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})

	lockWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "weave_merge_lock_wait_seconds",
		Help:    "Time spent waiting for the per-document merge lock",
		Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1, 10},
	})

	mergesInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "weave_merges_in_flight",
		Help: "Merges currently inside their critical section",
	})

	mergedUpdates = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "weave_merge_updates",
		Help:    "Non-empty updates folded per merge",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})
)
