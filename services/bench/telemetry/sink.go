// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry exports benchmark results to metrics backends.
//
// A Sink receives per-operation summaries, pairwise comparisons and
// failures. Prometheus, OpenTelemetry and InfluxDB implementations are
// provided, and CompositeSink fans out to several of them.
package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrNilContext is returned when a nil context is provided.
	ErrNilContext = errors.New("context must not be nil")

	// ErrNilData is returned when nil data is provided.
	ErrNilData = errors.New("data must not be nil")

	// ErrSinkClosed is returned when attempting to use a closed sink.
	ErrSinkClosed = errors.New("sink has been closed")

	// ErrNoSinks is returned when creating a composite sink with no children.
	ErrNoSinks = errors.New("at least one sink is required")
)

// -----------------------------------------------------------------------------
// Interface
// -----------------------------------------------------------------------------

// Sink receives benchmark telemetry.
//
// Description:
//
//	Sink is the export abstraction for benchmark results. Implementations
//	translate the data into a backend format (Prometheus, OTel, InfluxDB).
//
// Thread Safety: All implementations must be safe for concurrent use.
//
// Example:
//
//	sink, _ := telemetry.NewPrometheusSink(telemetry.DefaultPrometheusConfig())
//	defer sink.Close()
//
//	if err := telemetry.Publish(ctx, sink, rep); err != nil {
//	    slog.Warn("telemetry export failed", slog.String("error", err.Error()))
//	}
type Sink interface {
	// RecordOperation records the summary of one benchmarked operation.
	RecordOperation(ctx context.Context, data *OperationData) error

	// RecordComparison records one pairwise comparison.
	RecordComparison(ctx context.Context, data *ComparisonData) error

	// RecordError records an operation failure.
	RecordError(ctx context.Context, data *ErrorData) error

	// Flush exports any buffered data.
	Flush(ctx context.Context) error

	// Close flushes and releases resources. After Close, all recording
	// methods return ErrSinkClosed. Idempotent.
	Close() error
}

// -----------------------------------------------------------------------------
// Data Types
// -----------------------------------------------------------------------------

// OperationData is the exported summary of one operation.
type OperationData struct {
	// RunID identifies the report the operation belongs to.
	RunID string

	Name      string
	Timestamp time.Time

	// Source is "measured" or "recorded".
	Source string

	Samples int

	MedianNs float64
	MeanNs   float64
	P99Ns    float64
	MADNs    float64

	// CILowerNs and CIUpperNs bound the median.
	CILowerNs float64
	CIUpperNs float64

	// RelativeError is the CI width relative to the median. Zero for
	// recorded operations.
	RelativeError float64

	PrecisionAchieved bool

	// Failures counts failed invocations during measurement.
	Failures int

	Labels map[string]string
}

// ComparisonData is the exported result of one pairwise comparison.
type ComparisonData struct {
	RunID     string
	Timestamp time.Time

	OperationA string
	OperationB string

	// Faster is empty when the medians are equal.
	Faster string

	RelativePerformance float64

	PValue          float64
	CorrectedPValue float64
	CliffDelta      float64
	Effect          string

	Significant            bool
	PracticallySignificant bool

	Labels map[string]string
}

// ErrorData describes an operation failure.
type ErrorData struct {
	RunID     string
	Timestamp time.Time

	Operation string
	ErrorType string
	Message   string

	Labels map[string]string
}

// -----------------------------------------------------------------------------
// Composite Sink
// -----------------------------------------------------------------------------

// CompositeSink fans out to multiple sinks.
//
// Description:
//
//	Records to every child sink. Errors from children are joined; a failing
//	child does not stop the others from receiving data.
//
// Thread Safety: Safe for concurrent use.
type CompositeSink struct {
	sinks  []Sink
	mu     sync.RWMutex
	closed bool
}

// NewCompositeSink creates a sink that forwards to all non-nil sinks.
func NewCompositeSink(sinks ...Sink) (*CompositeSink, error) {
	valid := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			valid = append(valid, s)
		}
	}
	if len(valid) == 0 {
		return nil, ErrNoSinks
	}
	return &CompositeSink{sinks: valid}, nil
}

// RecordOperation implements Sink.
func (c *CompositeSink) RecordOperation(ctx context.Context, data *OperationData) error {
	return c.each(ctx, data == nil, func(s Sink) error { return s.RecordOperation(ctx, data) })
}

// RecordComparison implements Sink.
func (c *CompositeSink) RecordComparison(ctx context.Context, data *ComparisonData) error {
	return c.each(ctx, data == nil, func(s Sink) error { return s.RecordComparison(ctx, data) })
}

// RecordError implements Sink.
func (c *CompositeSink) RecordError(ctx context.Context, data *ErrorData) error {
	return c.each(ctx, data == nil, func(s Sink) error { return s.RecordError(ctx, data) })
}

func (c *CompositeSink) each(ctx context.Context, nilData bool, fn func(Sink) error) error {
	if ctx == nil {
		return ErrNilContext
	}
	if nilData {
		return ErrNilData
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrSinkClosed
	}

	var errs []error
	for _, s := range c.sinks {
		if err := fn(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Flush flushes all child sinks concurrently.
func (c *CompositeSink) Flush(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrSinkClosed
	}

	return c.concurrently(func(s Sink) error { return s.Flush(ctx) })
}

// Close closes all child sinks concurrently. Idempotent.
func (c *CompositeSink) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	return c.concurrently(Sink.Close)
}

// concurrently runs fn on every child and joins all errors. The group
// never cancels early so every child is visited.
func (c *CompositeSink) concurrently(fn func(Sink) error) error {
	errs := make([]error, len(c.sinks))
	var g errgroup.Group
	for i, s := range c.sinks {
		g.Go(func() error {
			errs[i] = fn(s)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Sinks returns the child sinks.
func (c *CompositeSink) Sinks() []Sink {
	out := make([]Sink, len(c.sinks))
	copy(out, c.sinks)
	return out
}

// -----------------------------------------------------------------------------
// NoOp Sink
// -----------------------------------------------------------------------------

// NoOpSink discards all telemetry.
type NoOpSink struct{}

// NewNoOpSink creates a sink that discards everything.
func NewNoOpSink() *NoOpSink {
	return &NoOpSink{}
}

// RecordOperation implements Sink.
func (n *NoOpSink) RecordOperation(context.Context, *OperationData) error { return nil }

// RecordComparison implements Sink.
func (n *NoOpSink) RecordComparison(context.Context, *ComparisonData) error { return nil }

// RecordError implements Sink.
func (n *NoOpSink) RecordError(context.Context, *ErrorData) error { return nil }

// Flush implements Sink.
func (n *NoOpSink) Flush(context.Context) error { return nil }

// Close implements Sink.
func (n *NoOpSink) Close() error { return nil }

var (
	_ Sink = (*CompositeSink)(nil)
	_ Sink = (*NoOpSink)(nil)
)
