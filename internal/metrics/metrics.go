// Package metrics exposes Prometheus instrumentation for the popularity worker.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Run outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

var (
	// PipelineRuns counts completed pipeline runs by outcome.
	PipelineRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "popularity_pipeline_runs_total",
			Help: "Total number of popularity pipeline runs by outcome",
		},
		[]string{"outcome"},
	)

	// PhaseDuration observes how long each committed phase takes.
	PhaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "popularity_phase_duration_seconds",
			Help:    "Duration of popularity pipeline phases in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		},
		[]string{"phase"},
	)

	// PhaseFailures counts phases that rolled back.
	PhaseFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "popularity_phase_failures_total",
			Help: "Total number of popularity pipeline phases that failed and rolled back",
		},
		[]string{"phase"},
	)

	// LessonsScored is the number of lessons staged by the last successful staging phase.
	LessonsScored = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "popularity_lessons_scored",
			Help: "Number of lessons scored by the most recent staging phase",
		},
	)

	// LastSuccess is the Unix time of the last fully published run.
	LastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "popularity_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successful popularity run",
		},
	)

	// APIRequestsTotal counts HTTP requests served by the worker.
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "popularity_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "route", "status"},
	)
)

// RecordPhase records one phase execution.
func RecordPhase(phase string, duration time.Duration, err error) {
	PhaseDuration.WithLabelValues(phase).Observe(duration.Seconds())
	if err != nil {
		PhaseFailures.WithLabelValues(phase).Inc()
	}
}

// RecordRun records a finished pipeline run.
func RecordRun(finishedAt time.Time, err error) {
	if err != nil {
		PipelineRuns.WithLabelValues(OutcomeFailure).Inc()
		return
	}
	PipelineRuns.WithLabelValues(OutcomeSuccess).Inc()
	LastSuccess.Set(float64(finishedAt.Unix()))
}

// RecordAPIRequest records an API request metric.
func RecordAPIRequest(method, route string, status int) {
	APIRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}
