package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nuuslees_fetch_attempts_total",
		Help: "Feed fetch attempts by outcome",
	}, []string{"outcome"})

	cyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nuuslees_cycles_total",
		Help: "Completed fetch cycles by result",
	}, []string{"result"})

	itemsInserted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nuuslees_items_inserted_total",
		Help: "Items stored for the first time",
	})

	extractionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nuuslees_extractions_total",
		Help: "Content extractions by status",
	}, []string{"status"})

	inflightJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nuuslees_inflight_jobs",
		Help: "Fetch jobs that are queued or running",
	})

	cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nuuslees_cycle_duration_seconds",
		Help:    "Duration of fetch cycles including retries",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // Start at 100ms, double each bucket, 10 buckets
	})
)
