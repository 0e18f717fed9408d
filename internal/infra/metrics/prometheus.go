package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FilesProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "md5rs_files_processed_total",
		Help: "Total number of media files finalized, by status",
	}, []string{"status"})

	FramesEncodedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "md5rs_frames_encoded_total",
		Help: "Total number of frames encoded and queued for upload",
	})

	FramesResolvedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "md5rs_frames_resolved_total",
		Help: "Total number of frames with a terminal resolution, by status",
	}, []string{"status"})

	FramesInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "md5rs_frames_in_flight",
		Help: "Frames sent to the detection service and awaiting a response",
	})

	ReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "md5rs_reconnects_total",
		Help: "Total number of connection attempts after a failure",
	})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "md5rs_stage_duration_seconds",
		Help:    "Duration of pipeline stages per media file",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
	}, []string{"stage"})
)
