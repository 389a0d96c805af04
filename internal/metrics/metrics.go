package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Job metrics
var (
	// JobsTotal counts jobs by terminal outcome.
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hls",
			Name:      "jobs_total",
			Help:      "Total number of conversion jobs by outcome",
		},
		[]string{"outcome"},
	)

	// ActiveJobs tracks the number of jobs that have not reached a terminal state.
	ActiveJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "hls",
			Name:      "active_jobs",
			Help:      "Number of jobs currently converting or uploading",
		},
	)

	// TranscodeDuration tracks how long the encoder ran.
	TranscodeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "hls",
			Name:      "video_transcode_duration_seconds",
			Help:      "Time taken for FFmpeg to segment a video",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
		},
	)

	// UploadDuration tracks the time taken to relocate a job's files to the blob store.
	UploadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "hls",
			Name:      "video_upload_duration_seconds",
			Help:      "Time taken to upload HLS files to the blob store",
			Buckets:   []float64{1, 5, 10, 30, 60, 120},
		},
	)

	// SegmentsUploaded counts files uploaded to the blob store.
	SegmentsUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "hls",
			Name:      "segments_uploaded_total",
			Help:      "Total number of HLS files uploaded",
		},
	)

	// UploadedBytes counts bytes uploaded to the blob store.
	UploadedBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "hls",
			Name:      "uploaded_bytes_total",
			Help:      "Total number of bytes uploaded",
		},
	)

	// RemoteObjectsDeleted counts objects removed from the blob store.
	RemoteObjectsDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "hls",
			Name:      "remote_objects_deleted_total",
			Help:      "Total number of remote objects deleted",
		},
	)

	// CleanupFailures counts cleanup errors by scope (local or remote).
	CleanupFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hls",
			Name:      "cleanup_failures_total",
			Help:      "Total number of failed cleanup attempts",
		},
		[]string{"scope"},
	)
)

// API metrics
var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hls",
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks HTTP request duration.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hls",
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// UploadsReceived counts accepted multipart uploads.
	UploadsReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "hls",
			Subsystem: "api",
			Name:      "uploads_received_total",
			Help:      "Total number of video uploads received",
		},
	)

	// ProgressStreams tracks open progress event streams.
	ProgressStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "hls",
			Subsystem: "api",
			Name:      "progress_streams",
			Help:      "Number of open progress streams",
		},
	)
)

// RecordOutcome records a job reaching a terminal state.
func RecordOutcome(outcome string) {
	JobsTotal.WithLabelValues(outcome).Inc()
}

// RecordCleanupFailure records a failed local or remote cleanup.
func RecordCleanupFailure(scope string) {
	CleanupFailures.WithLabelValues(scope).Inc()
}
