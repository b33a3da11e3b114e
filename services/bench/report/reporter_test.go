// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianBench/services/bench/ab"
)

func TestConsoleReporter_Report(t *testing.T) {
	t.Run("basic report", func(t *testing.T) {
		var buf bytes.Buffer
		reporter := NewConsoleReporter(&buf, false)

		if err := reporter.Report(buildReport(t)); err != nil {
			t.Fatalf("Report failed: %v", err)
		}
		output := buf.String()

		for _, want := range []string{
			"Benchmark Report",
			"Operations",
			"fast",
			"slow",
			"Comparisons (bonferroni, 1 of 1 significant)",
			"fast is faster by",
			"conclusive",
			"Cold vs Hot",
			"overhead 50.00x",
			"precision target met",
		} {
			if !strings.Contains(output, want) {
				t.Errorf("output should contain %q:\n%s", want, output)
			}
		}
		if strings.Contains(output, "Skewness:") {
			t.Error("non-verbose output should not contain moments")
		}
		if strings.Contains(output, "\x1b[") {
			t.Error("output to a buffer should not contain escape codes")
		}
	})

	t.Run("verbose report", func(t *testing.T) {
		var buf bytes.Buffer
		reporter := NewConsoleReporter(&buf, true)

		if err := reporter.Report(buildReport(t)); err != nil {
			t.Fatalf("Report failed: %v", err)
		}
		output := buf.String()
		for _, want := range []string{"Skewness:", "P99:", "Batch: 1000", "Stop: precision_met"} {
			if !strings.Contains(output, want) {
				t.Errorf("verbose output should contain %q", want)
			}
		}
	})

	t.Run("warnings", func(t *testing.T) {
		var buf bytes.Buffer
		r := buildReport(t)
		r.Comparisons[0].SufficientSamples = false
		r.Operations["fast"].Measurement.PrecisionAchieved = false
		r.Finalize()

		if err := NewConsoleReporter(&buf, false).Report(r); err != nil {
			t.Fatalf("Report failed: %v", err)
		}
		output := buf.String()
		if !strings.Contains(output, "insufficient samples") {
			t.Error("output should flag insufficient samples")
		}
		if !strings.Contains(output, "precision target not met") {
			t.Error("output should flag missed precision")
		}
	})
}

func TestJSONReporter(t *testing.T) {
	var buf bytes.Buffer
	r := buildReport(t)
	if err := NewJSONReporter(&buf).Report(r); err != nil {
		t.Fatalf("Report failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded["id"] != r.ID {
		t.Errorf("id = %v, want %s", decoded["id"], r.ID)
	}
}

func TestDescribeOutcome(t *testing.T) {
	tests := []struct {
		name string
		in   ab.ComparisonResult
		want string
	}{
		{"equal", ab.ComparisonResult{MedianANs: 100, MedianBNs: 100}, "equal medians (100.0ns)"},
		{"faster", ab.ComparisonResult{Faster: "a", RelativePerformance: 2, MedianANs: 100, MedianBNs: 200},
			"a is faster by 2.00x (100.0ns vs 200.0ns)"},
		{"undefined", ab.ComparisonResult{Faster: "a", RelativePerformance: 1, RatioUndefined: true, MedianBNs: 5},
			"a is faster by an undefined ratio (0.0ns vs 5.0ns)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := describeOutcome(tt.in); got != tt.want {
				t.Errorf("describeOutcome() = %q, want %q", got, tt.want)
			}
		})
	}
}
