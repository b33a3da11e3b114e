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
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MockWriteAPI captures written points.
type MockWriteAPI struct {
	WritePointFunc func(ctx context.Context, point ...*write.Point) error
	WrittenPoints  []*write.Point
}

func (m *MockWriteAPI) WritePoint(ctx context.Context, point ...*write.Point) error {
	m.WrittenPoints = append(m.WrittenPoints, point...)
	if m.WritePointFunc != nil {
		return m.WritePointFunc(ctx, point...)
	}
	return nil
}

func tagMap(p *write.Point) map[string]string {
	out := make(map[string]string)
	for _, tag := range p.TagList() {
		out[tag.Key] = tag.Value
	}
	return out
}

func fieldMap(p *write.Point) map[string]any {
	out := make(map[string]any)
	for _, f := range p.FieldList() {
		out[f.Key] = f.Value
	}
	return out
}

func TestInfluxConfig_Validate(t *testing.T) {
	if err := DefaultInfluxConfig().Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
	config := DefaultInfluxConfig()
	config.Bucket = ""
	if err := config.Validate(); !errors.Is(err, ErrInvalidInfluxConfig) {
		t.Errorf("missing bucket: got %v", err)
	}
	config = DefaultInfluxConfig()
	config.URL = ""
	if _, err := NewInfluxSink(config); !errors.Is(err, ErrInvalidInfluxConfig) {
		t.Errorf("missing url: got %v", err)
	}
}

func TestInfluxSink_RecordOperation(t *testing.T) {
	mock := &MockWriteAPI{}
	sink := NewInfluxSinkWithWriter(mock, "bench_")
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	err := sink.RecordOperation(context.Background(), &OperationData{
		RunID:     "run-1",
		Name:      "encode",
		Source:    "measured",
		Timestamp: ts,
		Samples:   30,
		MedianNs:  1500,
		Labels:    map[string]string{"commit": "abc", "operation": "ignored"},
	})
	if err != nil {
		t.Fatalf("RecordOperation failed: %v", err)
	}
	if len(mock.WrittenPoints) != 1 {
		t.Fatalf("expected 1 point, got %d", len(mock.WrittenPoints))
	}

	p := mock.WrittenPoints[0]
	if p.Name() != "bench_operation" {
		t.Errorf("measurement = %s", p.Name())
	}
	if !p.Time().Equal(ts) {
		t.Errorf("time = %v, want %v", p.Time(), ts)
	}
	tags := tagMap(p)
	if tags["operation"] != "encode" || tags["commit"] != "abc" || tags["source"] != "measured" {
		t.Errorf("unexpected tags: %v", tags)
	}
	fields := fieldMap(p)
	if fields["median_ns"] != 1500.0 || fields["run_id"] != "run-1" {
		t.Errorf("unexpected fields: %v", fields)
	}
}

func TestInfluxSink_RecordComparisonAndError(t *testing.T) {
	mock := &MockWriteAPI{}
	sink := NewInfluxSinkWithWriter(mock, "")
	ctx := context.Background()

	if err := sink.RecordComparison(ctx, &ComparisonData{OperationA: "a", OperationB: "b", CliffDelta: 0.4, Effect: "medium"}); err != nil {
		t.Fatalf("RecordComparison failed: %v", err)
	}
	if err := sink.RecordError(ctx, &ErrorData{Operation: "a", Message: "boom"}); err != nil {
		t.Fatalf("RecordError failed: %v", err)
	}
	if len(mock.WrittenPoints) != 2 {
		t.Fatalf("expected 2 points, got %d", len(mock.WrittenPoints))
	}
	if mock.WrittenPoints[0].Name() != "comparison" || tagMap(mock.WrittenPoints[0])["effect"] != "medium" {
		t.Errorf("unexpected comparison point: %s %v", mock.WrittenPoints[0].Name(), tagMap(mock.WrittenPoints[0]))
	}
	errPoint := mock.WrittenPoints[1]
	if errPoint.Name() != "error" || tagMap(errPoint)["error_type"] != "unknown" || fieldMap(errPoint)["message"] != "boom" {
		t.Errorf("unexpected error point: %v %v", tagMap(errPoint), fieldMap(errPoint))
	}
	if errPoint.Time().IsZero() {
		t.Error("zero timestamps should be replaced with the current time")
	}
}

func TestInfluxSink_WriteFailure(t *testing.T) {
	boom := errors.New("connection refused")
	mock := &MockWriteAPI{WritePointFunc: func(context.Context, ...*write.Point) error { return boom }}
	sink := NewInfluxSinkWithWriter(mock, "bench_")

	if err := sink.RecordOperation(context.Background(), &OperationData{Name: "op"}); !errors.Is(err, boom) {
		t.Errorf("got %v, want write error", err)
	}
}

func TestInfluxSink_Close(t *testing.T) {
	sink := NewInfluxSinkWithWriter(&MockWriteAPI{}, "bench_")
	if err := sink.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if err := sink.RecordOperation(context.Background(), &OperationData{}); !errors.Is(err, ErrSinkClosed) {
		t.Errorf("record after close: got %v", err)
	}
}
