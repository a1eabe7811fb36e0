package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codemare_executions_total",
			Help: "Total number of execution requests by outcome",
		},
		[]string{"language", "mode", "status"}, // status: "passed", "failed", "error"
	)

	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "codemare_execution_duration_ms",
			Help:    "Execution duration in milliseconds",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"language", "phase"}, // phase: "compile", "run", "total"
	)

	InvocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codemare_sandbox_invocations_total",
			Help: "Sandbox invocations by outcome kind",
		},
		[]string{"language", "outcome"},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "codemare_queue_depth",
			Help: "Current number of jobs in the queue",
		},
	)

	ActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "codemare_active_workers",
			Help: "Number of workers currently processing jobs",
		},
	)

	ContainerCreationTime = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "codemare_container_creation_ms",
			Help:    "Time to create and start a container",
			Buckets: []float64{50, 100, 200, 500, 1000, 2000},
		},
	)

	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codemare_rate_limit_hits_total",
			Help: "Total number of requests rejected by rate limiter",
		},
		[]string{"scope"}, // scope: "ip", "global", "concurrency"
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codemare_verdict_cache_lookups_total",
			Help: "Verdict cache lookups by result",
		},
		[]string{"result"}, // result: "hit", "miss", "error"
	)
)
