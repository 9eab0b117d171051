// Package metrics defines the Prometheus instrumentation for the urgency
// detection service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the detection service
type Metrics struct {
	// Pipeline metrics
	SubmissionsReceived  prometheus.Counter
	SubmissionsCompleted prometheus.Counter
	SubmissionsFailed    *prometheus.CounterVec

	// Detection outcome metrics
	UrgentDetections prometheus.Counter
	NormalDetections prometheus.Counter
	Confidence       prometheus.Histogram

	// Stage duration metrics
	ExtractionDuration prometheus.Histogram
	InferenceDuration  prometheus.Histogram

	// Persistence metrics
	RecordsPersisted    prometheus.Counter
	PersistenceFailures prometheus.Counter

	// Notification metrics
	NotificationsPublished prometheus.Counter
	NotificationsDropped   prometheus.Counter
	Subscribers            prometheus.Gauge

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		SubmissionsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "uds_submissions_received_total",
			Help: "Total number of audio submissions received",
		}),
		SubmissionsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "uds_submissions_completed_total",
			Help: "Total number of submissions classified successfully",
		}),
		SubmissionsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "uds_submissions_failed_total",
			Help: "Total number of failed submissions by pipeline stage",
		}, []string{"stage"}),

		UrgentDetections: promauto.NewCounter(prometheus.CounterOpts{
			Name: "uds_urgent_detections_total",
			Help: "Total number of urgent verdicts",
		}),
		NormalDetections: promauto.NewCounter(prometheus.CounterOpts{
			Name: "uds_normal_detections_total",
			Help: "Total number of normal verdicts",
		}),
		Confidence: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "uds_detection_confidence",
			Help:    "Confidence score distribution of classifications",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11), // 0.0 to 1.0
		}),

		ExtractionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "uds_feature_extraction_duration_seconds",
			Help:    "Time spent extracting feature tensors",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		}),
		InferenceDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "uds_inference_duration_seconds",
			Help:    "Time spent in classifier inference",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		}),

		RecordsPersisted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "uds_records_persisted_total",
			Help: "Total number of detection records written to the store",
		}),
		PersistenceFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "uds_persistence_failures_total",
			Help: "Total number of detection record write failures",
		}),

		NotificationsPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "uds_notifications_published_total",
			Help: "Total number of detection events published to subscribers",
		}),
		NotificationsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "uds_notifications_dropped_total",
			Help: "Total number of detection events dropped on full subscriber buffers",
		}),
		Subscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "uds_notification_subscribers",
			Help: "Current number of connected notification subscribers",
		}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "uds_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "uds_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "uds_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordSubmissionReceived increments the submissions received counter
func (m *Metrics) RecordSubmissionReceived() {
	m.SubmissionsReceived.Inc()
}

// RecordSubmissionCompleted records a successful classification outcome
func (m *Metrics) RecordSubmissionCompleted(isUrgent bool, confidence float64) {
	m.SubmissionsCompleted.Inc()
	m.Confidence.Observe(confidence)
	if isUrgent {
		m.UrgentDetections.Inc()
	} else {
		m.NormalDetections.Inc()
	}
}

// RecordSubmissionFailed records a failed submission with the stage that failed
func (m *Metrics) RecordSubmissionFailed(stage string) {
	m.SubmissionsFailed.WithLabelValues(stage).Inc()
}

// RecordExtraction observes feature extraction duration
func (m *Metrics) RecordExtraction(durationSeconds float64) {
	m.ExtractionDuration.Observe(durationSeconds)
}

// RecordInference observes classifier inference duration
func (m *Metrics) RecordInference(durationSeconds float64) {
	m.InferenceDuration.Observe(durationSeconds)
}

// RecordPersisted increments the records persisted counter
func (m *Metrics) RecordPersisted() {
	m.RecordsPersisted.Inc()
}

// RecordPersistenceFailure increments the persistence failures counter
func (m *Metrics) RecordPersistenceFailure() {
	m.PersistenceFailures.Inc()
}

// RecordNotification records a publish and any dropped deliveries
func (m *Metrics) RecordNotification(delivered, dropped int) {
	m.NotificationsPublished.Inc()
	if dropped > 0 {
		m.NotificationsDropped.Add(float64(dropped))
	}
}

// SetSubscribers sets the current subscriber gauge
func (m *Metrics) SetSubscribers(count int) {
	m.Subscribers.Set(float64(count))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
