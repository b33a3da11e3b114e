// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrInvalidConfig is returned when the Prometheus configuration is invalid.
	ErrInvalidConfig = errors.New("invalid prometheus configuration")

	// ErrRegistrationFailed is returned when metric registration fails.
	ErrRegistrationFailed = errors.New("metric registration failed")
)

// otherLabel replaces label values beyond the cardinality limit.
const otherLabel = "_other"

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// PrometheusConfig configures the Prometheus sink.
//
// Thread Safety: Immutable after creation; safe for concurrent read access.
type PrometheusConfig struct {
	// Namespace is the metrics namespace. Required.
	Namespace string

	// Subsystem is the metrics subsystem. Required.
	Subsystem string

	// Registry is the registry to use. If nil, uses
	// prometheus.DefaultRegisterer.
	Registry prometheus.Registerer

	// LatencyBuckets defines histogram buckets for median latencies
	// (seconds).
	LatencyBuckets []float64

	// MaxLabelCardinality is the maximum number of unique values tracked
	// per label. New values beyond it are mapped to "_other".
	// Default: 1000
	MaxLabelCardinality int
}

// DefaultPrometheusConfig returns a configuration with sensible defaults.
//
// Example:
//
//	config := telemetry.DefaultPrometheusConfig()
//	config.Registry = prometheus.NewRegistry()
//	sink, err := telemetry.NewPrometheusSink(config)
func DefaultPrometheusConfig() *PrometheusConfig {
	return &PrometheusConfig{
		Namespace: "aleutian",
		Subsystem: "bench",
		LatencyBuckets: []float64{
			1e-8, 1e-7, 1e-6, 1e-5, 1e-4, 1e-3, 0.01, 0.1, 1, 10,
		},
		MaxLabelCardinality: 1000,
	}
}

// Validate checks that the configuration is valid.
func (c *PrometheusConfig) Validate() error {
	if c.Namespace == "" {
		return fmt.Errorf("%w: namespace is required", ErrInvalidConfig)
	}
	if c.Subsystem == "" {
		return fmt.Errorf("%w: subsystem is required", ErrInvalidConfig)
	}
	if len(c.LatencyBuckets) == 0 {
		return fmt.Errorf("%w: latency buckets must not be empty", ErrInvalidConfig)
	}
	if c.MaxLabelCardinality < 0 {
		return fmt.Errorf("%w: max label cardinality must be non-negative", ErrInvalidConfig)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Prometheus Sink
// -----------------------------------------------------------------------------

// PrometheusSink exposes benchmark results as Prometheus metrics.
//
// Description:
//
//	Latest values per operation and pair are exposed as gauges; sample and
//	failure counts accumulate in counters. Metrics are pull-based so Flush
//	is a no-op.
//
// Thread Safety: Safe for concurrent use.
type PrometheusSink struct {
	config   *PrometheusConfig
	registry prometheus.Registerer

	operationLatency   *prometheus.GaugeVec
	operationMedian    *prometheus.HistogramVec
	operationSamples   *prometheus.CounterVec
	operationFailures  *prometheus.CounterVec
	operationRelError  *prometheus.GaugeVec
	operationPrecision *prometheus.GaugeVec

	comparisonRatio  *prometheus.GaugeVec
	comparisonPValue *prometheus.GaugeVec
	comparisonDelta  *prometheus.GaugeVec
	comparisonsTotal *prometheus.CounterVec

	errorsTotal *prometheus.CounterVec

	collectors []prometheus.Collector

	mu     sync.RWMutex
	closed bool

	labelMu        sync.RWMutex
	seenLabels     map[string]map[string]struct{}
	maxCardinality int
}

// NewPrometheusSink creates and registers the benchmark metrics.
//
// Description:
//
//	Metrics already registered on the registry by an earlier sink are
//	reused, so several sinks may share one registry.
//
// Inputs:
//   - config: Sink configuration. If nil, uses DefaultPrometheusConfig().
//
// Outputs:
//   - *PrometheusSink: The sink. Never nil on success.
//   - error: ErrInvalidConfig or ErrRegistrationFailed.
func NewPrometheusSink(config *PrometheusConfig) (*PrometheusSink, error) {
	if config == nil {
		config = DefaultPrometheusConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	cfg := *config
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	maxCard := cfg.MaxLabelCardinality
	if maxCard <= 0 {
		maxCard = 1000
	}

	sink := &PrometheusSink{
		config:         &cfg,
		registry:       registry,
		seenLabels:     make(map[string]map[string]struct{}),
		maxCardinality: maxCard,
	}

	gauge := func(name, help string, labels ...string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, Name: name, Help: help,
		}, labels)
	}
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, Name: name, Help: help,
		}, labels)
	}

	sink.operationLatency = gauge("operation_latency_seconds",
		"Latest latency statistic per operation in seconds", "operation", "statistic")
	sink.operationMedian = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: cfg.Namespace,
		Subsystem: cfg.Subsystem,
		Name:      "operation_median_seconds",
		Help:      "Distribution of per-run median latencies in seconds",
		Buckets:   cfg.LatencyBuckets,
	}, []string{"operation"})
	sink.operationSamples = counter("operation_samples_total",
		"Total samples collected per operation", "operation", "source")
	sink.operationFailures = counter("operation_failures_total",
		"Total failed invocations during measurement", "operation")
	sink.operationRelError = gauge("operation_relative_error",
		"Latest relative width of the median confidence interval", "operation")
	sink.operationPrecision = gauge("operation_precision_achieved",
		"1 when the latest run met its precision target", "operation")

	sink.comparisonRatio = gauge("comparison_relative_performance",
		"Latest slower/faster median ratio per pair", "operation_a", "operation_b")
	sink.comparisonPValue = gauge("comparison_p_value",
		"Latest rank-sum p-value per pair", "operation_a", "operation_b", "kind")
	sink.comparisonDelta = gauge("comparison_cliff_delta",
		"Latest Cliff's delta per pair", "operation_a", "operation_b", "effect")
	sink.comparisonsTotal = counter("comparisons_total",
		"Total comparisons performed", "significant")

	sink.errorsTotal = counter("errors_total",
		"Total operation failures by type", "operation", "error_type")

	sink.collectors = []prometheus.Collector{
		sink.operationLatency,
		sink.operationMedian,
		sink.operationSamples,
		sink.operationFailures,
		sink.operationRelError,
		sink.operationPrecision,
		sink.comparisonRatio,
		sink.comparisonPValue,
		sink.comparisonDelta,
		sink.comparisonsTotal,
		sink.errorsTotal,
	}

	for i, c := range sink.collectors {
		existing, err := register(registry, c)
		if err != nil {
			return nil, err
		}
		sink.collectors[i] = existing
	}
	sink.adoptRegistered()

	return sink, nil
}

// register registers c, returning the already-registered collector when
// an identical one exists.
func register(registry prometheus.Registerer, c prometheus.Collector) (prometheus.Collector, error) {
	err := registry.Register(c)
	if err == nil {
		return c, nil
	}
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		return already.ExistingCollector, nil
	}
	return nil, errors.Join(ErrRegistrationFailed, err)
}

// adoptRegistered points the typed fields at the collectors that ended up
// registered.
func (s *PrometheusSink) adoptRegistered() {
	s.operationLatency = s.collectors[0].(*prometheus.GaugeVec)
	s.operationMedian = s.collectors[1].(*prometheus.HistogramVec)
	s.operationSamples = s.collectors[2].(*prometheus.CounterVec)
	s.operationFailures = s.collectors[3].(*prometheus.CounterVec)
	s.operationRelError = s.collectors[4].(*prometheus.GaugeVec)
	s.operationPrecision = s.collectors[5].(*prometheus.GaugeVec)
	s.comparisonRatio = s.collectors[6].(*prometheus.GaugeVec)
	s.comparisonPValue = s.collectors[7].(*prometheus.GaugeVec)
	s.comparisonDelta = s.collectors[8].(*prometheus.GaugeVec)
	s.comparisonsTotal = s.collectors[9].(*prometheus.CounterVec)
	s.errorsTotal = s.collectors[10].(*prometheus.CounterVec)
}

func (s *PrometheusSink) checkOpen(ctx context.Context, nilData bool) error {
	if ctx == nil {
		return ErrNilContext
	}
	if nilData {
		return ErrNilData
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSinkClosed
	}
	return nil
}

// RecordOperation records operation metrics.
//
// Inputs:
//   - ctx: Context for cancellation. Must not be nil.
//   - data: Operation data to record. Must not be nil.
//
// Outputs:
//   - error: Non-nil if sink is closed or inputs are invalid.
//
// Thread Safety: Safe for concurrent use.
func (s *PrometheusSink) RecordOperation(ctx context.Context, data *OperationData) error {
	if err := s.checkOpen(ctx, data == nil); err != nil {
		return err
	}

	name := s.sanitizeLabel("operation", orUnknown(data.Name))

	for stat, ns := range map[string]float64{
		"median":   data.MedianNs,
		"mean":     data.MeanNs,
		"p99":      data.P99Ns,
		"mad":      data.MADNs,
		"ci_lower": data.CILowerNs,
		"ci_upper": data.CIUpperNs,
	} {
		s.operationLatency.WithLabelValues(name, stat).Set(ns / 1e9)
	}
	s.operationMedian.WithLabelValues(name).Observe(data.MedianNs / 1e9)
	s.operationSamples.WithLabelValues(name, orUnknown(data.Source)).Add(float64(data.Samples))
	if data.Failures > 0 {
		s.operationFailures.WithLabelValues(name).Add(float64(data.Failures))
	}
	s.operationRelError.WithLabelValues(name).Set(data.RelativeError)
	s.operationPrecision.WithLabelValues(name).Set(boolGauge(data.PrecisionAchieved))

	return nil
}

// RecordComparison records comparison metrics.
//
// Thread Safety: Safe for concurrent use.
func (s *PrometheusSink) RecordComparison(ctx context.Context, data *ComparisonData) error {
	if err := s.checkOpen(ctx, data == nil); err != nil {
		return err
	}

	a := s.sanitizeLabel("operation", orUnknown(data.OperationA))
	b := s.sanitizeLabel("operation", orUnknown(data.OperationB))

	s.comparisonRatio.WithLabelValues(a, b).Set(data.RelativePerformance)
	s.comparisonPValue.WithLabelValues(a, b, "raw").Set(data.PValue)
	s.comparisonPValue.WithLabelValues(a, b, "corrected").Set(data.CorrectedPValue)
	s.comparisonDelta.WithLabelValues(a, b, orUnknown(data.Effect)).Set(data.CliffDelta)
	s.comparisonsTotal.WithLabelValues(strconv.FormatBool(data.Significant)).Inc()

	return nil
}

// RecordError records error metrics.
//
// Thread Safety: Safe for concurrent use.
func (s *PrometheusSink) RecordError(ctx context.Context, data *ErrorData) error {
	if err := s.checkOpen(ctx, data == nil); err != nil {
		return err
	}

	operation := s.sanitizeLabel("operation", orUnknown(data.Operation))
	errorType := s.sanitizeLabel("error_type", orUnknown(data.ErrorType))
	s.errorsTotal.WithLabelValues(operation, errorType).Inc()

	return nil
}

// Flush is a no-op; Prometheus metrics are scraped.
func (s *PrometheusSink) Flush(ctx context.Context) error {
	return s.checkOpen(ctx, false)
}

// Close unregisters the metrics when the registry supports it.
//
// Thread Safety: Safe for concurrent use. Idempotent.
func (s *PrometheusSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if registry, ok := s.registry.(*prometheus.Registry); ok {
		for _, c := range s.collectors {
			registry.Unregister(c)
		}
	}
	return nil
}

// sanitizeLabel tracks unique values per label name and replaces values
// beyond the cardinality limit with "_other".
//
// Thread Safety: Safe for concurrent use.
func (s *PrometheusSink) sanitizeLabel(labelName, labelValue string) string {
	s.labelMu.RLock()
	seen := s.seenLabels[labelName]
	if seen != nil {
		if _, exists := seen[labelValue]; exists {
			s.labelMu.RUnlock()
			return labelValue
		}
		if len(seen) >= s.maxCardinality {
			s.labelMu.RUnlock()
			return otherLabel
		}
	}
	s.labelMu.RUnlock()

	s.labelMu.Lock()
	defer s.labelMu.Unlock()

	if s.seenLabels[labelName] == nil {
		s.seenLabels[labelName] = make(map[string]struct{})
	}
	if _, exists := s.seenLabels[labelName][labelValue]; exists {
		return labelValue
	}
	if len(s.seenLabels[labelName]) >= s.maxCardinality {
		return otherLabel
	}
	s.seenLabels[labelName][labelValue] = struct{}{}
	return labelValue
}

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

var _ Sink = (*PrometheusSink)(nil)
