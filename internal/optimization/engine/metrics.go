package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zephyr_optimization_runs_total",
		Help: "Completed optimization runs by algorithm and terminal status.",
	}, []string{"algorithm", "status"})

	evaluationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zephyr_optimization_evaluations_total",
		Help: "Objective evaluations performed across all runs.",
	})

	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "zephyr_optimization_run_duration_seconds",
		Help:    "Wall-clock duration of optimization runs.",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	}, []string{"algorithm"})
)
