package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EnrollmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faceponto",
		Name:      "enrollments_total",
		Help:      "Enrollment requests by result",
	}, []string{"result"})

	VerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faceponto",
		Name:      "verifications_total",
		Help:      "Verification requests by outcome",
	}, []string{"outcome"})

	ExtractionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "faceponto",
		Name:      "extraction_duration_seconds",
		Help:      "Duration of face extraction stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	EnrollQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "faceponto",
		Name:      "enroll_queue_depth",
		Help:      "Number of pending background enrollment jobs",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "faceponto",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)
