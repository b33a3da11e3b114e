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
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/AleutianAI/AleutianBench/services/bench/telemetry"

var (
	// ErrOTelInitFailed is returned when instrument creation fails.
	ErrOTelInitFailed = errors.New("opentelemetry initialization failed")

	// ErrInvalidOTelConfig is returned when the OTel configuration is invalid.
	ErrInvalidOTelConfig = errors.New("invalid opentelemetry configuration")
)

// OTelConfig configures the OpenTelemetry sink.
type OTelConfig struct {
	// ServiceName is required.
	ServiceName string

	ServiceVersion string

	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider

	// MeterProvider defaults to the global provider.
	MeterProvider metric.MeterProvider

	// TraceEnabled emits one span per recorded item.
	TraceEnabled bool

	// MetricsEnabled records instruments.
	MetricsEnabled bool
}

// DefaultOTelConfig returns a configuration with tracing and metrics on.
func DefaultOTelConfig() *OTelConfig {
	return &OTelConfig{
		ServiceName:    "aleutian-bench",
		ServiceVersion: "1.0.0",
		TraceEnabled:   true,
		MetricsEnabled: true,
	}
}

// Validate checks that the configuration is valid.
func (c *OTelConfig) Validate() error {
	if c.ServiceName == "" {
		return errors.New("service name is required")
	}
	return nil
}

// OTelSink exports benchmark results as OpenTelemetry spans and metrics.
//
// Description:
//
//	Each recorded item becomes a short span carrying its statistics as
//	attributes, and updates the matching instruments. Export is handled by
//	the configured providers; Flush forces it when the providers support
//	ForceFlush.
//
// Thread Safety: Safe for concurrent use.
type OTelSink struct {
	config *OTelConfig
	tracer trace.Tracer
	meter  metric.Meter

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	operationMedian   metric.Float64Histogram
	operationP99      metric.Float64Histogram
	operationRelError metric.Float64Gauge
	operationSamples  metric.Int64Counter
	operationFailures metric.Int64Counter
	comparisonRatio   metric.Float64Gauge
	comparisonDelta   metric.Float64Gauge
	comparisonTotal   metric.Int64Counter
	errorsTotal       metric.Int64Counter

	mu     sync.RWMutex
	closed bool
}

// NewOTelSink creates an OpenTelemetry sink.
//
// Inputs:
//   - config: Sink configuration. Must not be nil.
//
// Outputs:
//   - *OTelSink: The sink. Never nil on success.
//   - error: ErrInvalidOTelConfig or ErrOTelInitFailed.
func NewOTelSink(config *OTelConfig) (*OTelSink, error) {
	if config == nil {
		return nil, ErrInvalidOTelConfig
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Join(ErrInvalidOTelConfig, err)
	}

	cfg := *config
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	mp := cfg.MeterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}

	sink := &OTelSink{
		config:         &cfg,
		tracer:         tp.Tracer(instrumentationName, trace.WithInstrumentationVersion(cfg.ServiceVersion)),
		meter:          mp.Meter(instrumentationName, metric.WithInstrumentationVersion(cfg.ServiceVersion)),
		tracerProvider: tp,
		meterProvider:  mp,
	}

	if cfg.MetricsEnabled {
		if err := sink.initializeMetrics(); err != nil {
			return nil, errors.Join(ErrOTelInitFailed, err)
		}
	}
	return sink, nil
}

func (s *OTelSink) initializeMetrics() error {
	var err error

	if s.operationMedian, err = s.meter.Float64Histogram(
		"bench.operation.median",
		metric.WithDescription("Median latency per run"),
		metric.WithUnit("ns"),
	); err != nil {
		return err
	}
	if s.operationP99, err = s.meter.Float64Histogram(
		"bench.operation.p99",
		metric.WithDescription("P99 latency per run"),
		metric.WithUnit("ns"),
	); err != nil {
		return err
	}
	if s.operationRelError, err = s.meter.Float64Gauge(
		"bench.operation.relative_error",
		metric.WithDescription("Relative width of the median confidence interval"),
		metric.WithUnit("1"),
	); err != nil {
		return err
	}
	if s.operationSamples, err = s.meter.Int64Counter(
		"bench.operation.samples",
		metric.WithDescription("Samples collected"),
		metric.WithUnit("{sample}"),
	); err != nil {
		return err
	}
	if s.operationFailures, err = s.meter.Int64Counter(
		"bench.operation.failures",
		metric.WithDescription("Failed invocations during measurement"),
		metric.WithUnit("{failure}"),
	); err != nil {
		return err
	}
	if s.comparisonRatio, err = s.meter.Float64Gauge(
		"bench.comparison.relative_performance",
		metric.WithDescription("Slower median divided by faster median"),
		metric.WithUnit("{ratio}"),
	); err != nil {
		return err
	}
	if s.comparisonDelta, err = s.meter.Float64Gauge(
		"bench.comparison.cliff_delta",
		metric.WithDescription("Cliff's delta effect size"),
		metric.WithUnit("1"),
	); err != nil {
		return err
	}
	if s.comparisonTotal, err = s.meter.Int64Counter(
		"bench.comparison.total",
		metric.WithDescription("Total comparisons performed"),
		metric.WithUnit("{comparison}"),
	); err != nil {
		return err
	}
	if s.errorsTotal, err = s.meter.Int64Counter(
		"bench.errors.total",
		metric.WithDescription("Total operation failures"),
		metric.WithUnit("{error}"),
	); err != nil {
		return err
	}
	return nil
}

func (s *OTelSink) checkOpen(ctx context.Context, nilData bool) error {
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

func labelAttrs(attrs []attribute.KeyValue, labels map[string]string) []attribute.KeyValue {
	for k, v := range labels {
		attrs = append(attrs, attribute.String("label."+k, v))
	}
	return attrs
}

// RecordOperation implements Sink.
func (s *OTelSink) RecordOperation(ctx context.Context, data *OperationData) error {
	if err := s.checkOpen(ctx, data == nil); err != nil {
		return err
	}

	name := orUnknown(data.Name)
	base := []attribute.KeyValue{
		attribute.String("bench.operation", name),
		attribute.String("bench.source", orUnknown(data.Source)),
	}

	if s.config.TraceEnabled {
		_, span := s.tracer.Start(ctx, "bench.telemetry.RecordOperation",
			trace.WithAttributes(labelAttrs(base, data.Labels)...),
			trace.WithTimestamp(data.Timestamp),
		)
		span.SetAttributes(
			attribute.String("bench.run_id", data.RunID),
			attribute.Int("bench.samples", data.Samples),
			attribute.Float64("bench.median_ns", data.MedianNs),
			attribute.Float64("bench.mean_ns", data.MeanNs),
			attribute.Float64("bench.p99_ns", data.P99Ns),
			attribute.Float64("bench.mad_ns", data.MADNs),
			attribute.Float64("bench.ci_lower_ns", data.CILowerNs),
			attribute.Float64("bench.ci_upper_ns", data.CIUpperNs),
			attribute.Float64("bench.relative_error", data.RelativeError),
			attribute.Bool("bench.precision_achieved", data.PrecisionAchieved),
			attribute.Int("bench.failures", data.Failures),
		)
		if !data.PrecisionAchieved {
			span.SetStatus(codes.Error, "precision target not met")
		}
		span.End()
	}

	if s.config.MetricsEnabled {
		attrSet := metric.WithAttributes(base...)
		s.operationMedian.Record(ctx, data.MedianNs, attrSet)
		s.operationP99.Record(ctx, data.P99Ns, attrSet)
		s.operationRelError.Record(ctx, data.RelativeError, attrSet)
		s.operationSamples.Add(ctx, int64(data.Samples), attrSet)
		if data.Failures > 0 {
			s.operationFailures.Add(ctx, int64(data.Failures), attrSet)
		}
	}
	return nil
}

// RecordComparison implements Sink.
func (s *OTelSink) RecordComparison(ctx context.Context, data *ComparisonData) error {
	if err := s.checkOpen(ctx, data == nil); err != nil {
		return err
	}

	pair := []attribute.KeyValue{
		attribute.String("bench.operation_a", orUnknown(data.OperationA)),
		attribute.String("bench.operation_b", orUnknown(data.OperationB)),
	}

	if s.config.TraceEnabled {
		_, span := s.tracer.Start(ctx, "bench.telemetry.RecordComparison",
			trace.WithAttributes(labelAttrs(pair, data.Labels)...),
			trace.WithTimestamp(data.Timestamp),
		)
		span.SetAttributes(
			attribute.String("bench.run_id", data.RunID),
			attribute.String("bench.faster", data.Faster),
			attribute.Float64("bench.relative_performance", data.RelativePerformance),
			attribute.Float64("bench.p_value", data.PValue),
			attribute.Float64("bench.corrected_p_value", data.CorrectedPValue),
			attribute.Float64("bench.cliff_delta", data.CliffDelta),
			attribute.String("bench.effect", data.Effect),
			attribute.Bool("bench.significant", data.Significant),
			attribute.Bool("bench.practically_significant", data.PracticallySignificant),
		)
		span.End()
	}

	if s.config.MetricsEnabled {
		attrSet := metric.WithAttributes(pair...)
		s.comparisonRatio.Record(ctx, data.RelativePerformance, attrSet)
		s.comparisonDelta.Record(ctx, data.CliffDelta, attrSet)
		s.comparisonTotal.Add(ctx, 1, metric.WithAttributes(attribute.Bool("significant", data.Significant)))
	}
	return nil
}

// RecordError implements Sink.
func (s *OTelSink) RecordError(ctx context.Context, data *ErrorData) error {
	if err := s.checkOpen(ctx, data == nil); err != nil {
		return err
	}

	attrs := []attribute.KeyValue{
		attribute.String("error.operation", orUnknown(data.Operation)),
		attribute.String("error.type", orUnknown(data.ErrorType)),
	}

	if s.config.TraceEnabled {
		_, span := s.tracer.Start(ctx, "bench.telemetry.RecordError",
			trace.WithAttributes(labelAttrs(attrs, data.Labels)...),
			trace.WithTimestamp(data.Timestamp),
		)
		span.SetAttributes(attribute.String("error.message", data.Message))
		span.SetStatus(codes.Error, data.Message)
		span.End()
	}

	if s.config.MetricsEnabled {
		s.errorsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	return nil
}

// flusher is implemented by the SDK tracer and meter providers.
type flusher interface {
	ForceFlush(ctx context.Context) error
}

// Flush forces export on providers that support it.
func (s *OTelSink) Flush(ctx context.Context) error {
	if err := s.checkOpen(ctx, false); err != nil {
		return err
	}

	var errs []error
	if f, ok := s.tracerProvider.(flusher); ok {
		errs = append(errs, f.ForceFlush(ctx))
	}
	if f, ok := s.meterProvider.(flusher); ok {
		errs = append(errs, f.ForceFlush(ctx))
	}
	return errors.Join(errs...)
}

// Close marks the sink closed. Provider shutdown belongs to the owner of
// the providers. Idempotent.
func (s *OTelSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ Sink = (*OTelSink)(nil)
