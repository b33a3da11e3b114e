// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stats

import (
	"fmt"
	"slices"

	"github.com/AleutianAI/AleutianBench/services/bench/eval"
)

// -----------------------------------------------------------------------------
// Sample
// -----------------------------------------------------------------------------

// Sample is one measured per-call duration.
//
// Samples are values: once recorded they are copied, never updated.
type Sample struct {
	// WallNs is wall-clock nanoseconds per call.
	WallNs float64 `json:"wall_ns"`

	// CPUNs is thread CPU nanoseconds per call. Valid only when HasCPU.
	CPUNs float64 `json:"cpu_ns,omitempty"`

	// HasCPU is true when CPUNs was measured.
	HasCPU bool `json:"has_cpu,omitempty"`

	// Iterations is the batch size this sample was averaged over.
	Iterations int `json:"iterations"`
}

// -----------------------------------------------------------------------------
// SampleSet
// -----------------------------------------------------------------------------

// SampleSet is the ordered, append-only sequence of samples for one
// operation. Order is chronological.
//
// Thread Safety: Not safe for concurrent mutation. A SampleSet is owned by
// the single measurement that fills it.
type SampleSet struct {
	name    string
	samples []Sample
}

// NewSampleSet creates a set holding copies of samples.
func NewSampleSet(name string, samples ...Sample) *SampleSet {
	return &SampleSet{name: name, samples: slices.Clone(samples)}
}

// FromDurations builds a set from externally recorded nanosecond durations,
// one sample per duration with Iterations 1.
//
// Outputs:
//   - *SampleSet: The set.
//   - error: ErrEmptyInput if ns is empty, ErrInvalidConfiguration on a
//     negative duration.
func FromDurations(name string, ns []float64) (*SampleSet, error) {
	if len(ns) == 0 {
		return nil, fmt.Errorf("recorded durations for %s: %w", name, eval.ErrEmptyInput)
	}
	set := &SampleSet{name: name, samples: make([]Sample, len(ns))}
	for i, v := range ns {
		if v < 0 {
			return nil, eval.InvalidConfig("recorded duration %v at index %d for %s is negative", v, i, name)
		}
		set.samples[i] = Sample{WallNs: v, Iterations: 1}
	}
	return set, nil
}

// Name returns the operation name.
func (s *SampleSet) Name() string { return s.name }

// Len returns the number of samples.
func (s *SampleSet) Len() int { return len(s.samples) }

// Add appends a sample.
func (s *SampleSet) Add(sample Sample) {
	s.samples = append(s.samples, sample)
}

// At returns the i-th sample.
func (s *SampleSet) At(i int) Sample { return s.samples[i] }

// Samples returns a copy of all samples.
func (s *SampleSet) Samples() []Sample {
	return slices.Clone(s.samples)
}

// Wall returns a fresh slice of wall-clock nanoseconds, in insertion order.
func (s *SampleSet) Wall() []float64 {
	out := make([]float64, len(s.samples))
	for i, sample := range s.samples {
		out[i] = sample.WallNs
	}
	return out
}

// CPU returns CPU nanoseconds for the samples that carry them.
func (s *SampleSet) CPU() []float64 {
	var out []float64
	for _, sample := range s.samples {
		if sample.HasCPU {
			out = append(out, sample.CPUNs)
		}
	}
	return out
}

// RemoveOutliers returns a new set without samples outside
// [Q1 - threshold*IQR, Q3 + threshold*IQR] on wall time, and the number
// removed.
//
// Description:
//
//	Sets with fewer than 4 samples are returned unchanged. If trimming
//	would drop more than half the samples the original set is returned,
//	since at that point the "outliers" are the distribution.
//
// Inputs:
//   - threshold: IQR multiplier. 1.5 is the usual mild-outlier fence.
func (s *SampleSet) RemoveOutliers(threshold float64) (*SampleSet, int) {
	if len(s.samples) < 4 || threshold <= 0 {
		return NewSampleSet(s.name, s.samples...), 0
	}

	sorted := Sorted(s.Wall())
	q1 := Quantile(sorted, 0.25)
	q3 := Quantile(sorted, 0.75)
	iqr := q3 - q1
	lower := q1 - threshold*iqr
	upper := q3 + threshold*iqr

	kept := make([]Sample, 0, len(s.samples))
	for _, sample := range s.samples {
		if sample.WallNs >= lower && sample.WallNs <= upper {
			kept = append(kept, sample)
		}
	}
	if len(kept) < len(s.samples)/2 {
		return NewSampleSet(s.name, s.samples...), 0
	}
	return &SampleSet{name: s.name, samples: kept}, len(s.samples) - len(kept)
}
