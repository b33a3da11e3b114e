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
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/AleutianAI/AleutianBench/services/bench/eval"
)

// -----------------------------------------------------------------------------
// Descriptive Statistics
// -----------------------------------------------------------------------------

// DescriptiveReport is a read-only statistical snapshot of a SampleSet.
//
// All durations are wall-clock nanoseconds per call. Shape statistics
// (skewness, kurtosis) and CV are unitless.
type DescriptiveReport struct {
	Count    int     `json:"count"`
	MinNs    float64 `json:"min_ns"`
	MaxNs    float64 `json:"max_ns"`
	RangeNs  float64 `json:"range_ns"`
	MeanNs   float64 `json:"mean_ns"`
	MedianNs float64 `json:"median_ns"`

	// StdDevNs is the sample standard deviation (n-1 denominator).
	// Zero when Count < 2.
	StdDevNs float64 `json:"std_dev_ns"`

	Q1Ns  float64 `json:"q1_ns"`
	Q3Ns  float64 `json:"q3_ns"`
	IQRNs float64 `json:"iqr_ns"`
	P90Ns float64 `json:"p90_ns"`
	P95Ns float64 `json:"p95_ns"`
	P99Ns float64 `json:"p99_ns"`

	// Skewness is the adjusted Fisher-Pearson coefficient. Zero when
	// Count < 3 or the data has no spread.
	Skewness float64 `json:"skewness"`

	// Kurtosis is the bias-adjusted excess kurtosis. Zero when Count < 4
	// or the data has no spread.
	Kurtosis float64 `json:"kurtosis"`

	// MADNs is the median absolute deviation around the median, unscaled.
	MADNs float64 `json:"mad_ns"`

	// CV is StdDevNs / MeanNs. When the mean is zero CV is 0 and
	// CVUndefined is set.
	CV          float64 `json:"cv"`
	CVUndefined bool    `json:"cv_undefined,omitempty"`

	// CPUMedianNs is the median thread CPU time, when CPU was measured.
	CPUMedianNs float64 `json:"cpu_median_ns,omitempty"`
	HasCPU      bool    `json:"has_cpu,omitempty"`
}

// Describe computes descriptive statistics for a sample set.
//
// Description:
//
//	Pure function over the wall-clock values of the set. Calling it twice
//	on an unchanged set yields identical reports.
//
// Inputs:
//   - set: The sample set. Must be non-nil and non-empty.
//
// Outputs:
//   - DescriptiveReport: The statistics.
//   - error: ErrEmptyInput if the set is nil or empty.
//
// Thread Safety: Safe for concurrent use on a set that is not being mutated.
func Describe(set *SampleSet) (DescriptiveReport, error) {
	if set == nil || set.Len() == 0 {
		name := ""
		if set != nil {
			name = set.Name()
		}
		return DescriptiveReport{}, fmt.Errorf("describe %q: %w", name, eval.ErrEmptyInput)
	}

	report, err := DescribeValues(set.Wall())
	if err != nil {
		return DescriptiveReport{}, err
	}
	if cpu := set.CPU(); len(cpu) > 0 {
		report.CPUMedianNs = Median(cpu)
		report.HasCPU = true
	}
	return report, nil
}

// DescribeValues computes descriptive statistics for raw nanosecond values.
//
// Outputs:
//   - error: ErrEmptyInput if values is empty.
func DescribeValues(values []float64) (DescriptiveReport, error) {
	if len(values) == 0 {
		return DescriptiveReport{}, fmt.Errorf("describe: %w", eval.ErrEmptyInput)
	}

	sorted := Sorted(values)
	n := len(sorted)

	r := DescriptiveReport{
		Count:    n,
		MinNs:    sorted[0],
		MaxNs:    sorted[n-1],
		MeanNs:   stat.Mean(sorted, nil),
		MedianNs: Quantile(sorted, 0.5),
		Q1Ns:     Quantile(sorted, 0.25),
		Q3Ns:     Quantile(sorted, 0.75),
		P90Ns:    Quantile(sorted, 0.90),
		P95Ns:    Quantile(sorted, 0.95),
		P99Ns:    Quantile(sorted, 0.99),
	}
	r.RangeNs = r.MaxNs - r.MinNs
	r.IQRNs = r.Q3Ns - r.Q1Ns

	if n >= 2 {
		r.StdDevNs = finiteOrZero(stat.StdDev(sorted, nil))
	}
	if r.StdDevNs > 0 {
		if n >= 3 {
			r.Skewness = finiteOrZero(stat.Skew(sorted, nil))
		}
		if n >= 4 {
			r.Kurtosis = finiteOrZero(stat.ExKurtosis(sorted, nil))
		}
	}

	deviations := make([]float64, n)
	for i, v := range sorted {
		deviations[i] = math.Abs(v - r.MedianNs)
	}
	r.MADNs = medianSelect(deviations)

	if r.MeanNs == 0 {
		r.CVUndefined = true
	} else {
		r.CV = r.StdDevNs / r.MeanNs
	}

	return r, nil
}

// finiteOrZero maps NaN and ±Inf to 0 so reports stay serializable.
func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
