// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package report defines the structured result of a benchmark run and its
// JSON and console renderings.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianBench/services/bench/ab"
	"github.com/AleutianAI/AleutianBench/services/bench/benchmark"
	"github.com/AleutianAI/AleutianBench/services/bench/stats"
)

// Source records where an operation's samples came from.
type Source string

const (
	// SourceMeasured samples were taken by the Sampler.
	SourceMeasured Source = "measured"

	// SourceRecorded samples were ingested as pre-recorded durations.
	SourceRecorded Source = "recorded"
)

// OperationSummary is the per-operation section of a Report. The
// descriptive statistics are flattened into the summary object.
type OperationSummary struct {
	stats.DescriptiveReport

	// MedianCI is the bootstrap interval of the wall-clock median.
	MedianCI stats.ConfidenceInterval `json:"median_ci"`

	Source Source `json:"source"`

	// SufficientSamples is false when Count is below the comparison
	// minimum.
	SufficientSamples bool `json:"sufficient_samples"`

	// Measurement is set for measured operations.
	Measurement *benchmark.Measurement `json:"measurement,omitempty"`
}

// PrecisionAchieved reports whether the operation met its precision
// target. Recorded operations have no target and always report true.
func (s OperationSummary) PrecisionAchieved() bool {
	return s.Measurement == nil || s.Measurement.PrecisionAchieved
}

// Report is the aggregate result of one benchmark run.
//
// Thread Safety: Not safe for concurrent mutation. Safe for concurrent
// reads once built.
type Report struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`

	// Labels are free-form run metadata such as a commit or host.
	Labels map[string]string `json:"labels,omitempty"`

	Operations map[string]OperationSummary `json:"operations"`

	// Comparisons is the pairwise matrix in sorted-name order, with
	// corrected p-values applied.
	Comparisons []ab.ComparisonResult `json:"comparisons"`

	Correction *ab.CorrectionReport `json:"correction,omitempty"`

	ColdHot map[string]*benchmark.ColdHotProfile `json:"cold_hot,omitempty"`

	// PrecisionAchieved is true when every measured operation met its
	// precision target.
	PrecisionAchieved bool `json:"precision_achieved"`

	// SufficientSamples is true when every operation and comparison had
	// at least the minimum sample count.
	SufficientSamples bool `json:"sufficient_samples"`

	// Samples holds raw wall-clock nanoseconds per operation when the
	// run was configured to keep them.
	Samples map[string][]float64 `json:"samples,omitempty"`
}

// New returns an empty report with a fresh ID.
func New() *Report {
	return &Report{
		ID:         uuid.NewString(),
		CreatedAt:  time.Now().UTC(),
		Operations: make(map[string]OperationSummary),
	}
}

// AddOperation records the summary for name.
func (r *Report) AddOperation(name string, summary OperationSummary) {
	r.Operations[name] = summary
}

// AddColdHot records a cold/hot profile.
func (r *Report) AddColdHot(profile *benchmark.ColdHotProfile) {
	if profile == nil {
		return
	}
	if r.ColdHot == nil {
		r.ColdHot = make(map[string]*benchmark.ColdHotProfile)
	}
	r.ColdHot[profile.Name] = profile
}

// AddSamples keeps the raw wall-clock samples of set.
func (r *Report) AddSamples(set *stats.SampleSet) {
	if r.Samples == nil {
		r.Samples = make(map[string][]float64)
	}
	r.Samples[set.Name()] = set.Wall()
}

// SetCorrection installs the corrected comparison matrix.
func (r *Report) SetCorrection(correction *ab.CorrectionReport) {
	r.Correction = correction
	if correction == nil {
		r.Comparisons = nil
		return
	}
	r.Comparisons = correction.Comparisons
}

// Finalize computes the top-level flags from the recorded operations and
// comparisons. Call it after the report is fully populated.
func (r *Report) Finalize() {
	r.PrecisionAchieved = true
	r.SufficientSamples = true
	for _, op := range r.Operations {
		if !op.PrecisionAchieved() {
			r.PrecisionAchieved = false
		}
		if !op.SufficientSamples {
			r.SufficientSamples = false
		}
	}
	for _, c := range r.Comparisons {
		if !c.SufficientSamples {
			r.SufficientSamples = false
		}
	}
}

// OperationNames returns the operation names in sorted order.
func (r *Report) OperationNames() []string {
	names := make([]string, 0, len(r.Operations))
	for name := range r.Operations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Comparison returns the comparison of a and b in either orientation.
// The result is oriented as stored; check OperationA.
func (r *Report) Comparison(a, b string) (ab.ComparisonResult, bool) {
	for _, c := range r.Comparisons {
		if (c.OperationA == a && c.OperationB == b) || (c.OperationA == b && c.OperationB == a) {
			return c, true
		}
	}
	return ab.ComparisonResult{}, false
}

// SampleSet rebuilds the stored samples for name.
func (r *Report) SampleSet(name string) (*stats.SampleSet, bool) {
	ns, ok := r.Samples[name]
	if !ok || len(ns) == 0 {
		return nil, false
	}
	set, err := stats.FromDurations(name, ns)
	if err != nil {
		return nil, false
	}
	return set, true
}

// -----------------------------------------------------------------------------
// Encoding
// -----------------------------------------------------------------------------

// ErrMalformed is returned when a report cannot be decoded.
var ErrMalformed = errors.New("malformed report")

// Marshal encodes r as indented JSON.
func Marshal(r *Report) ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding report %s: %w", r.ID, err)
	}
	return data, nil
}

// Unmarshal decodes a report produced by Marshal.
func Unmarshal(data []byte) (*Report, error) {
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	r.relink()
	return &r, nil
}

// Encode writes r to w as indented JSON.
func Encode(w io.Writer, r *Report) error {
	data, err := Marshal(r)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// Decode reads one report from rd.
func Decode(rd io.Reader) (*Report, error) {
	var r Report
	if err := json.NewDecoder(rd).Decode(&r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	r.relink()
	return &r, nil
}

// relink restores state that is serialized only once.
func (r *Report) relink() {
	if r.Operations == nil {
		r.Operations = make(map[string]OperationSummary)
	}
	if r.Correction != nil {
		r.Correction.Comparisons = r.Comparisons
	}
}
