// Package metrics exposes Prometheus collectors for the archive pipeline.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	commitsTotal           *prometheus.CounterVec
	filesTotal             *prometheus.CounterVec
	runDurationSeconds     *prometheus.HistogramVec
	lockTimeoutsTotal      *prometheus.CounterVec
	watermarkAdvancesTotal *prometheus.CounterVec
	samplesTotal           *prometheus.CounterVec
	holesTotal             *prometheus.CounterVec
	topicsPropagatedTotal  *prometheus.CounterVec
	busyRejectionsTotal    prometheus.Counter
	httpDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		commitsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_commits_total",
				Help: "Commits walked, labeled by stage, repository and status.",
			},
			[]string{"stage", "repo", "status"},
		)

		filesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_files_total",
				Help: "Files handled, labeled by stage, category and status.",
			},
			[]string{"stage", "category", "status"},
		)

		runDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archiver_run_duration_seconds",
				Help:    "Duration of pipeline runs, labeled by stage.",
				Buckets: []float64{0.5, 1, 5, 15, 60, 300, 900, 3600},
			},
			[]string{"stage"},
		)

		lockTimeoutsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_lock_timeouts_total",
				Help: "Triggers dropped because a lock could not be acquired.",
			},
			[]string{"lock"},
		)

		watermarkAdvancesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_watermark_advances_total",
				Help: "Watermark writes, labeled by scope kind.",
			},
			[]string{"scope"},
		)

		samplesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_spot_check_samples_total",
				Help: "Ids selected for spot checking, labeled by category.",
			},
			[]string{"category"},
		)

		holesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_holes_flagged_total",
				Help: "Suspected capture holes flagged, labeled by category.",
			},
			[]string{"category"},
		)

		topicsPropagatedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_topics_propagated_total",
				Help: "Topics written to the database, labeled by category and action.",
			},
			[]string{"category", "action"},
		)

		busyRejectionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "archiver_busy_rejections_total",
				Help: "Read requests rejected because the read semaphore was exhausted.",
			},
		)

		httpDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archiver_http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and status.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "status"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCommit counts one walked commit.
func ObserveCommit(stage, repo, status string) {
	Init()
	commitsTotal.WithLabelValues(stage, repo, status).Inc()
}

// ObserveFile counts one handled file.
func ObserveFile(stage, category, status string) {
	Init()
	filesTotal.WithLabelValues(stage, category, status).Inc()
}

// ObserveRun records the duration of a pipeline run.
func ObserveRun(stage string, d time.Duration) {
	Init()
	runDurationSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveLockTimeout counts a dropped trigger.
func ObserveLockTimeout(lock string) {
	Init()
	lockTimeoutsTotal.WithLabelValues(lock).Inc()
}

// ObserveWatermark counts a watermark write.
func ObserveWatermark(scope string) {
	Init()
	watermarkAdvancesTotal.WithLabelValues(scope).Inc()
}

// ObserveSample counts ids drawn for a category.
func ObserveSample(category string, n int) {
	Init()
	samplesTotal.WithLabelValues(category).Add(float64(n))
}

// ObserveHoles counts newly flagged holes for a category.
func ObserveHoles(category string, n int) {
	Init()
	holesTotal.WithLabelValues(category).Add(float64(n))
}

// ObserveTopic counts a propagated topic.
func ObserveTopic(category, action string) {
	Init()
	topicsPropagatedTotal.WithLabelValues(category, action).Inc()
}

// ObserveBusy counts a busy rejection.
func ObserveBusy() {
	Init()
	busyRejectionsTotal.Inc()
}

// ObserveHTTP records an HTTP request duration.
func ObserveHTTP(method, status string, d time.Duration) {
	Init()
	httpDurationSeconds.WithLabelValues(method, status).Observe(d.Seconds())
}
