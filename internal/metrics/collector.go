// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector holds the prometheus instruments for the consent engine.
type Collector struct {
	handledTotal        *prometheus.CounterVec
	attemptsTotal       *prometheus.CounterVec
	detectionConfidence prometheus.Histogram
	cascadeDuration     prometheus.Histogram
	storeWriteFailures  prometheus.Counter
	learnedPatterns     prometheus.Gauge

	logger *zap.Logger
}

// NewCollector registers the consent instruments under the given namespace
// on the default registry.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.handledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consent_handled_total",
			Help:      "Total consent handling calls by terminal reason",
		},
		[]string{"reason"},
	)

	c.attemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consent_attempts_total",
			Help:      "Candidate attempts by cascade tier and result",
		},
		[]string{"tier", "result"},
	)

	c.detectionConfidence = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "consent_detection_confidence",
			Help:      "Banner detection confidence per call",
			Buckets:   []float64{0, 0.34, 0.67, 1},
		},
	)

	c.cascadeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "consent_cascade_duration_seconds",
			Help:      "End-to-end consent handling duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30},
		},
	)

	c.storeWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consent_store_write_failures_total",
			Help:      "Pattern store writes that failed and were absorbed",
		},
	)

	c.learnedPatterns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "consent_learned_patterns",
			Help:      "Learned patterns currently held in the domain cache",
		},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// RecordHandled counts one terminal handling outcome.
func (c *Collector) RecordHandled(reason string) {
	c.handledTotal.WithLabelValues(reason).Inc()
}

// RecordAttempt counts one candidate attempt.
func (c *Collector) RecordAttempt(tier, result string) {
	c.attemptsTotal.WithLabelValues(tier, result).Inc()
}

// ObserveDetection records a detection confidence sample.
func (c *Collector) ObserveDetection(confidence float64) {
	c.detectionConfidence.Observe(confidence)
}

// ObserveCascadeDuration records the end-to-end handling duration.
func (c *Collector) ObserveCascadeDuration(d time.Duration) {
	c.cascadeDuration.Observe(d.Seconds())
}

// RecordStoreWriteFailure counts an absorbed persistence failure.
func (c *Collector) RecordStoreWriteFailure() {
	c.storeWriteFailures.Inc()
}

// SetLearnedPatterns tracks the cache's current pattern count.
func (c *Collector) SetLearnedPatterns(n int) {
	c.learnedPatterns.Set(float64(n))
}
