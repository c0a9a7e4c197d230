// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector exposes the engine's prometheus metrics.
type Collector struct {
	routingDecisionsTotal *prometheus.CounterVec
	routingConfidence     *prometheus.HistogramVec
	extractionDuration    prometheus.Histogram

	phaseTransitionsTotal *prometheus.CounterVec
	tokensSavedTotal      prometheus.Counter
	compressorFallbacks   prometheus.Counter
	recordsDegraded       prometheus.Gauge

	batchDuration  prometheus.Histogram
	batchProcessed prometheus.Histogram
	batchesTotal   *prometheus.CounterVec

	weightAdjustments *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector creates the metrics collector under the given namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.routingDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routing_decisions_total",
			Help:      "Total number of routing decisions by chosen tier",
		},
		[]string{"tier"},
	)

	c.routingConfidence = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "routing_confidence",
			Help:      "Confidence of routing decisions",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 9),
		},
		[]string{"tier"},
	)

	c.extractionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "signal_extraction_duration_seconds",
			Help:      "Signal extraction duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
	)

	c.phaseTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phase_transitions_total",
			Help:      "Total number of phase transitions by from/to phase",
		},
		[]string{"from_phase", "to_phase"},
	)

	c.tokensSavedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_saved_total",
			Help:      "Total tokens saved through compression",
		},
	)

	c.compressorFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compressor_fallbacks_total",
			Help:      "Total compressions served by the local truncation fallback",
		},
	)

	c.recordsDegraded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "records_degraded",
			Help:      "Records currently marked degraded",
		},
	)

	c.batchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decay_batch_duration_seconds",
			Help:      "Decay batch duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
	)

	c.batchProcessed = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decay_batch_records",
			Help:      "Records processed per decay batch",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		},
	)

	c.batchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decay_batches_total",
			Help:      "Total decay batches by status",
		},
		[]string{"status"},
	)

	c.weightAdjustments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "weight_adjustments_total",
			Help:      "Total router weight adjustments by tier",
		},
		[]string{"tier"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// RecordRoutingDecision records one routing decision.
func (c *Collector) RecordRoutingDecision(tier string, confidence float64, extraction time.Duration) {
	c.routingDecisionsTotal.WithLabelValues(tier).Inc()
	c.routingConfidence.WithLabelValues(tier).Observe(confidence)
	c.extractionDuration.Observe(extraction.Seconds())
}

// RecordPhaseTransition records one applied transition.
func (c *Collector) RecordPhaseTransition(fromPhase, toPhase string, tokensSaved int, degraded bool) {
	c.phaseTransitionsTotal.WithLabelValues(fromPhase, toPhase).Inc()
	if tokensSaved > 0 {
		c.tokensSavedTotal.Add(float64(tokensSaved))
	}
	if degraded {
		c.compressorFallbacks.Inc()
	}
}

// RecordBatch records one decay batch.
func (c *Collector) RecordBatch(status string, processed int, duration time.Duration) {
	c.batchesTotal.WithLabelValues(status).Inc()
	c.batchProcessed.Observe(float64(processed))
	c.batchDuration.Observe(duration.Seconds())
}

// SetDegradedRecords sets the degraded-record gauge.
func (c *Collector) SetDegradedRecords(n int) {
	c.recordsDegraded.Set(float64(n))
}

// RecordWeightAdjustment records a feedback-driven weight change.
func (c *Collector) RecordWeightAdjustment(tier string) {
	c.weightAdjustments.WithLabelValues(tier).Inc()
}
