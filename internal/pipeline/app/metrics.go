package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_jobs_total",
		Help: "Processing attempts by outcome (ready, failed, skipped)",
	}, []string{"outcome"})

	jobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_enqueue_total",
		Help: "Enqueue requests by result (enqueued, duplicate, error)",
	}, []string{"result"})

	jobsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pipeline_jobs_in_flight",
		Help: "Jobs currently owned by a worker slot",
	})

	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_stage_duration_seconds",
		Help:    "Wall time per pipeline stage",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	}, []string{"stage", "result"})

	transcriptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_transcriptions_total",
		Help: "Transcription outcomes (saved, empty, error)",
	}, []string{"outcome"})
)
