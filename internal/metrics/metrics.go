// Package metrics holds the Prometheus collectors for the render pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "beatframe_jobs_total",
		Help: "Render jobs that reached a terminal state, by status",
	}, []string{"status"})

	JobsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beatframe_jobs_enqueued_total",
		Help: "Render jobs accepted into the queue",
	})

	JobsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "beatframe_jobs_active",
		Help: "Render jobs currently holding a concurrency slot",
	})

	JobsPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "beatframe_jobs_pending",
		Help: "Render jobs waiting in the FIFO",
	})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "beatframe_job_duration_seconds",
		Help:    "Wall-clock time from job start to terminal state",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	}, []string{"status"})

	FramesRendered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beatframe_frames_rendered_total",
		Help: "Frames composited and written to an encoder",
	})

	EncoderStarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "beatframe_encoder_start_total",
		Help: "Encoder process spawn attempts, by result",
	}, []string{"result"})
)
