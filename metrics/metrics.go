// Package metrics defines the Prometheus collectors for the measurement
// engine and the dashboard loops.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RunsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "speedboard_runs_started_total",
			Help: "Number of measurement runs started.",
		})
	RunsCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "speedboard_runs_completed_total",
			Help: "Number of measurement runs that completed and produced a result.",
		})
	RunsCancelled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "speedboard_runs_cancelled_total",
			Help: "Number of measurement runs stopped by the user.",
		})
	RunsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "speedboard_runs_failed_total",
			Help: "Number of measurement runs that failed, by failure kind.",
		},
		[]string{"kind"})
	TestRate = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "speedboard_test_rate_mbps",
			Help: "A histogram of measured throughput rates.",
			Buckets: []float64{
				.1, .15, .25, .4, .6,
				1, 1.5, 2.5, 4, 6,
				10, 15, 25, 40, 60,
				100, 150, 250, 400, 600,
				1000},
		},
		[]string{"direction"})
	SamplesPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "speedboard_samples_published_total",
			Help: "Number of progress samples published by the engine.",
		})
	Ticks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "speedboard_ticks_total",
			Help: "Number of redraw ticks delivered by the scheduler.",
		})
	HistoryWriteErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "speedboard_history_write_errors_total",
			Help: "Number of times the history file could not be written.",
		})
)
