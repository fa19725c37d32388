// Package metrics holds the Prometheus collectors for the pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slidecast_submissions_total",
		Help: "Job submissions by provider and outcome.",
	}, []string{"provider", "outcome"})

	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slidecast_job_transitions_total",
		Help: "Accepted job state transitions by provider and target state.",
	}, []string{"provider", "state"})

	Polls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slidecast_polls_total",
		Help: "Status polls by provider and outcome.",
	}, []string{"provider", "outcome"})

	ActiveMonitors = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "slidecast_active_monitors",
		Help: "Jobs currently being monitored by this process.",
	})

	Publishes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slidecast_publishes_total",
		Help: "Asset publish attempts by outcome.",
	}, []string{"outcome"})

	PublishedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slidecast_published_bytes_total",
		Help: "Bytes uploaded to object storage.",
	})

	Presigns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slidecast_presigned_urls_total",
		Help: "Presigned URLs handed out, reused or newly minted.",
	}, []string{"purpose", "source"})

	BatchSubjects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slidecast_batch_subjects_total",
		Help: "Batch subject outcomes.",
	}, []string{"outcome"})

	SQLDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "slidecast_sql_duration_seconds",
		Help:    "Inline SQL latency by audit marker and outcome.",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"marker", "outcome"})
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
