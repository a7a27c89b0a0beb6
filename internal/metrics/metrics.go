// Package metrics exposes Prometheus collectors for the archiver service.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsTotal             *prometheus.CounterVec
	publishesTotal        *prometheus.CounterVec
	captureStageSeconds   *prometheus.HistogramVec
	chainResolveManifests prometheus.Histogram

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_jobs_total",
				Help: "Total archive jobs finished, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		publishesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_publishes_total",
				Help: "Total publish attempts, labeled by result (published, skipped, failed).",
			},
			[]string{"result"},
		)

		captureStageSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archiver_capture_stage_seconds",
				Help:    "Histogram of capture stage latencies, labeled by stage.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"stage"},
		)

		chainResolveManifests = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "archiver_chain_resolve_manifests",
				Help:    "Manifests inspected per chain head resolution.",
				Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
			},
		)
	})
}

// ObserveJob records a finished job by outcome ("complete" or "failed").
func ObserveJob(outcome string) {
	if jobsTotal == nil {
		return
	}
	jobsTotal.WithLabelValues(outcome).Inc()
}

// ObservePublish records one publish attempt result.
func ObservePublish(result string) {
	if publishesTotal == nil {
		return
	}
	publishesTotal.WithLabelValues(result).Inc()
}

// ObserveStage records the duration of one capture stage.
func ObserveStage(stage string, d time.Duration) {
	if captureStageSeconds == nil {
		return
	}
	captureStageSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveChainResolve records how many manifests a head resolution scanned.
func ObserveChainResolve(n int) {
	if chainResolveManifests == nil {
		return
	}
	chainResolveManifests.Observe(float64(n))
}
