// Package metrics provides Prometheus metrics for the sync engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"news_sync/internal/domain"
)

const namespace = "news_sync"

// Recorder owns its registry so tests and multiple instances do not collide
// on the global one.
type Recorder struct {
	registry *prometheus.Registry

	candidatesTotal *prometheus.CounterVec
	jobsTotal       *prometheus.CounterVec
	jobDuration     prometheus.Histogram
	jobsRunning     prometheus.Gauge
}

func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,

		candidatesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "candidates_total",
				Help:      "Candidates processed, by source and outcome (new, duplicate, error)",
			},
			[]string{"source", "outcome"},
		),
		jobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_finished_total",
				Help:      "Sync jobs that reached a terminal status",
			},
			[]string{"status"},
		),
		jobDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_duration_seconds",
				Help:      "Wall time of sync jobs in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 180, 600},
			},
		),
		jobsRunning: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "jobs_running",
				Help:      "Sync jobs currently running in this process",
			},
		),
	}
}

func (r *Recorder) CandidateProcessed(sourceID, outcome string) {
	r.candidatesTotal.WithLabelValues(sourceID, outcome).Inc()
}

func (r *Recorder) JobStarted() {
	r.jobsRunning.Inc()
}

func (r *Recorder) JobFinished(status domain.JobStatus, elapsed time.Duration) {
	r.jobsRunning.Dec()
	r.jobsTotal.WithLabelValues(string(status)).Inc()
	r.jobDuration.Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
