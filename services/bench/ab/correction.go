// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ab

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/AleutianAI/AleutianBench/services/bench/eval"
	"github.com/AleutianAI/AleutianBench/services/bench/stats"
)

// -----------------------------------------------------------------------------
// Correction Methods
// -----------------------------------------------------------------------------

// Method is a multiple-comparison correction method.
type Method string

const (
	// Bonferroni controls the family-wise error rate.
	Bonferroni Method = "bonferroni"

	// BenjaminiHochberg controls the false discovery rate.
	BenjaminiHochberg Method = "benjamini-hochberg"
)

// ParseMethod converts a name to a Method. "bh" and "fdr" are accepted as
// aliases for Benjamini-Hochberg.
func ParseMethod(s string) (Method, error) {
	switch s {
	case "", string(Bonferroni):
		return Bonferroni, nil
	case string(BenjaminiHochberg), "bh", "fdr":
		return BenjaminiHochberg, nil
	default:
		return "", eval.InvalidConfig("unknown correction method %q", s)
	}
}

// AdjustPValues returns corrected p-values in the input order.
//
// Description:
//
//	Bonferroni multiplies each p-value by m. Benjamini-Hochberg sorts the
//	p-values ascending, scales p(i) by m/i, then takes a running minimum
//	from the largest rank down so that corrected values are non-decreasing
//	in the raw p-value. Both clip at 1.
//
// Thread Safety: This function is stateless and safe for concurrent use.
func AdjustPValues(method Method, pvalues []float64) []float64 {
	m := len(pvalues)
	adjusted := make([]float64, m)
	if m == 0 {
		return adjusted
	}

	if method != BenjaminiHochberg {
		for i, p := range pvalues {
			adjusted[i] = math.Min(1, p*float64(m))
		}
		return adjusted
	}

	order := make([]int, m)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return pvalues[order[i]] < pvalues[order[j]] })

	running := 1.0
	for rank := m; rank >= 1; rank-- {
		idx := order[rank-1]
		scaled := pvalues[idx] * float64(m) / float64(rank)
		running = math.Min(running, scaled)
		adjusted[idx] = math.Min(1, running)
	}
	return adjusted
}

// correctedAlpha returns the per-comparison threshold implied by method:
// alpha/m for Bonferroni, and for Benjamini-Hochberg the largest k*alpha/m
// with p(k) <= k*alpha/m, or 0 when nothing is rejected.
func correctedAlpha(method Method, alpha float64, pvalues []float64) float64 {
	m := len(pvalues)
	if m == 0 {
		return alpha
	}
	if method != BenjaminiHochberg {
		return alpha / float64(m)
	}
	sorted := append([]float64(nil), pvalues...)
	sort.Float64s(sorted)
	for k := m; k >= 1; k-- {
		threshold := float64(k) * alpha / float64(m)
		if sorted[k-1] <= threshold {
			return threshold
		}
	}
	return 0
}

// -----------------------------------------------------------------------------
// Correction Report
// -----------------------------------------------------------------------------

// CorrectionReport is the corrected pairwise comparison matrix for N
// operations.
type CorrectionReport struct {
	Method Method `json:"method"`

	// Alpha is the family-level significance level.
	Alpha float64 `json:"alpha"`

	// CorrectedAlpha is the raw p-value threshold implied by the method.
	CorrectedAlpha float64 `json:"corrected_alpha"`

	NumComparisons int `json:"num_comparisons"`

	// SignificantComparisons counts comparisons whose corrected p-value is
	// below Alpha.
	SignificantComparisons int `json:"significant_comparisons"`

	// CorrectedPValues is parallel to Comparisons.
	CorrectedPValues []float64 `json:"corrected_p_values"`

	// Comparisons holds the corrected results. It is serialized once, at
	// the report level, and relinked on decode.
	Comparisons []ComparisonResult `json:"-"`
}

// Corrector runs every pairwise comparison and applies a correction.
//
// Thread Safety: Safe for concurrent use.
type Corrector struct {
	comparator *Comparator
	method     Method
	logger     *slog.Logger
}

// NewCorrector creates a corrector.
//
// Inputs:
//   - comparator: Used for each pair. Must not be nil.
//   - method: Bonferroni or BenjaminiHochberg.
func NewCorrector(comparator *Comparator, method Method) (*Corrector, error) {
	if comparator == nil {
		return nil, eval.InvalidConfig("corrector requires a comparator")
	}
	if _, err := ParseMethod(string(method)); err != nil {
		return nil, err
	}
	return &Corrector{comparator: comparator, method: method, logger: slog.Default()}, nil
}

// SetLogger replaces the logger. Nil is ignored.
func (c *Corrector) SetLogger(logger *slog.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// Method returns the correction method.
func (c *Corrector) Method() Method {
	return c.method
}

// Correct compares all C(N,2) pairs of sets and corrects the p-values.
//
// Description:
//
//	Sets are ordered by name and each pair (i<j) is compared as
//	sets[i]-vs-sets[j]. A single set yields an empty report.
//
// Inputs:
//   - sets: Sample sets with distinct names.
//
// Outputs:
//   - *CorrectionReport: The corrected matrix.
//   - error: ErrEmptyInput for no sets, ErrInvalidConfiguration for
//     duplicate names, or the first comparison error.
func (c *Corrector) Correct(sets []*stats.SampleSet) (*CorrectionReport, error) {
	if len(sets) == 0 {
		return nil, fmt.Errorf("correct: %w", eval.ErrEmptyInput)
	}

	ordered := append([]*stats.SampleSet(nil), sets...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Name() < ordered[j].Name() })
	for i := 1; i < len(ordered); i++ {
		if ordered[i].Name() == ordered[i-1].Name() {
			return nil, eval.InvalidConfig("duplicate operation name %q", ordered[i].Name())
		}
	}

	results := make([]ComparisonResult, 0, len(ordered)*(len(ordered)-1)/2)
	for i := 0; i < len(ordered); i++ {
		for j := i + 1; j < len(ordered); j++ {
			result, err := c.comparator.Compare(ordered[i], ordered[j])
			if err != nil {
				return nil, err
			}
			results = append(results, result)
		}
	}

	return c.Apply(results), nil
}

// Apply corrects already-computed comparisons. The input slice is not
// modified.
func (c *Corrector) Apply(results []ComparisonResult) *CorrectionReport {
	alpha := c.comparator.config.Alpha

	pvalues := make([]float64, len(results))
	for i, r := range results {
		pvalues[i] = r.PValue
	}
	adjusted := AdjustPValues(c.method, pvalues)

	report := &CorrectionReport{
		Method:           c.method,
		Alpha:            alpha,
		CorrectedAlpha:   correctedAlpha(c.method, alpha, pvalues),
		NumComparisons:   len(results),
		CorrectedPValues: adjusted,
		Comparisons:      make([]ComparisonResult, len(results)),
	}
	for i, r := range results {
		r.CorrectedPValue = adjusted[i]
		r.SignificantCorrected = adjusted[i] < alpha
		if r.SignificantCorrected {
			report.SignificantComparisons++
		}
		report.Comparisons[i] = r
	}

	c.logger.Debug("applied multiple-comparison correction",
		slog.String("method", string(c.method)),
		slog.Int("comparisons", report.NumComparisons),
		slog.Int("significant", report.SignificantComparisons),
		slog.Float64("corrected_alpha", report.CorrectedAlpha),
	)
	return report
}
