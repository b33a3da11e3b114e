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
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// ErrInvalidInfluxConfig is returned when the InfluxDB configuration is invalid.
var ErrInvalidInfluxConfig = errors.New("invalid influxdb configuration")

// PointWriter writes points synchronously. api.WriteAPIBlocking
// satisfies it.
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// InfluxConfig configures the InfluxDB sink.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string

	// MeasurementPrefix is prepended to every measurement name.
	// Default: "bench_"
	MeasurementPrefix string
}

// DefaultInfluxConfig returns a configuration for a local InfluxDB.
func DefaultInfluxConfig() *InfluxConfig {
	return &InfluxConfig{
		URL:               "http://localhost:8086",
		Org:               "aleutian",
		Bucket:            "benchmarks",
		MeasurementPrefix: "bench_",
	}
}

// Validate checks that the configuration is valid.
func (c *InfluxConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidInfluxConfig)
	}
	if c.Org == "" || c.Bucket == "" {
		return fmt.Errorf("%w: org and bucket are required", ErrInvalidInfluxConfig)
	}
	return nil
}

// InfluxSink writes benchmark results as InfluxDB points so run history
// can be charted over time.
//
// Description:
//
//	Operations go to "<prefix>operation", comparisons to
//	"<prefix>comparison" and failures to "<prefix>error". Operation names
//	and run labels become tags; statistics become fields. Writes are
//	blocking, so Flush has nothing to do.
//
// Thread Safety: Safe for concurrent use.
type InfluxSink struct {
	client influxdb2.Client
	writer PointWriter
	prefix string

	mu     sync.RWMutex
	closed bool
}

// NewInfluxSink connects to InfluxDB using config.
func NewInfluxSink(config *InfluxConfig) (*InfluxSink, error) {
	if config == nil {
		config = DefaultInfluxConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	client := influxdb2.NewClient(config.URL, config.Token)
	sink := NewInfluxSinkWithWriter(client.WriteAPIBlocking(config.Org, config.Bucket), config.MeasurementPrefix)
	sink.client = client
	return sink, nil
}

// NewInfluxSinkWithWriter creates a sink over an existing writer.
func NewInfluxSinkWithWriter(writer PointWriter, prefix string) *InfluxSink {
	return &InfluxSink{writer: writer, prefix: prefix}
}

func (s *InfluxSink) write(ctx context.Context, nilData bool, build func() *write.Point) error {
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
	return s.writer.WritePoint(ctx, build())
}

func pointTime(ts time.Time) time.Time {
	if ts.IsZero() {
		return time.Now()
	}
	return ts
}

func withLabels(tags map[string]string, labels map[string]string) map[string]string {
	for k, v := range labels {
		if _, taken := tags[k]; !taken {
			tags[k] = v
		}
	}
	return tags
}

// RecordOperation implements Sink.
func (s *InfluxSink) RecordOperation(ctx context.Context, data *OperationData) error {
	return s.write(ctx, data == nil, func() *write.Point {
		tags := withLabels(map[string]string{
			"operation": orUnknown(data.Name),
			"source":    orUnknown(data.Source),
		}, data.Labels)
		fields := map[string]any{
			"run_id":             data.RunID,
			"samples":            data.Samples,
			"median_ns":          data.MedianNs,
			"mean_ns":            data.MeanNs,
			"p99_ns":             data.P99Ns,
			"mad_ns":             data.MADNs,
			"ci_lower_ns":        data.CILowerNs,
			"ci_upper_ns":        data.CIUpperNs,
			"relative_error":     data.RelativeError,
			"precision_achieved": data.PrecisionAchieved,
			"failures":           data.Failures,
		}
		return influxdb2.NewPoint(s.prefix+"operation", tags, fields, pointTime(data.Timestamp))
	})
}

// RecordComparison implements Sink.
func (s *InfluxSink) RecordComparison(ctx context.Context, data *ComparisonData) error {
	return s.write(ctx, data == nil, func() *write.Point {
		tags := withLabels(map[string]string{
			"operation_a": orUnknown(data.OperationA),
			"operation_b": orUnknown(data.OperationB),
			"effect":      orUnknown(data.Effect),
		}, data.Labels)
		fields := map[string]any{
			"run_id":                  data.RunID,
			"faster":                  data.Faster,
			"relative_performance":    data.RelativePerformance,
			"p_value":                 data.PValue,
			"corrected_p_value":       data.CorrectedPValue,
			"cliff_delta":             data.CliffDelta,
			"significant":             data.Significant,
			"practically_significant": data.PracticallySignificant,
		}
		return influxdb2.NewPoint(s.prefix+"comparison", tags, fields, pointTime(data.Timestamp))
	})
}

// RecordError implements Sink.
func (s *InfluxSink) RecordError(ctx context.Context, data *ErrorData) error {
	return s.write(ctx, data == nil, func() *write.Point {
		return influxdb2.NewPointWithMeasurement(s.prefix+"error").
			AddTag("operation", orUnknown(data.Operation)).
			AddTag("error_type", orUnknown(data.ErrorType)).
			AddField("run_id", data.RunID).
			AddField("message", data.Message).
			SetTime(pointTime(data.Timestamp))
	})
}

// Flush implements Sink. Writes are blocking so there is nothing buffered.
func (s *InfluxSink) Flush(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSinkClosed
	}
	return nil
}

// Close closes the underlying client, if the sink owns one. Idempotent.
func (s *InfluxSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.client != nil {
		s.client.Close()
	}
	return nil
}

var _ Sink = (*InfluxSink)(nil)
