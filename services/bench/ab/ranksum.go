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
	"math"
	"slices"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/AleutianAI/AleutianBench/services/bench/eval"
	"github.com/AleutianAI/AleutianBench/services/bench/stats"
)

// -----------------------------------------------------------------------------
// Alternatives and Effect Sizes
// -----------------------------------------------------------------------------

// Alternative is the alternative hypothesis of a rank-sum test.
type Alternative string

const (
	// TwoSided tests that A and B differ in either direction.
	TwoSided Alternative = "two-sided"

	// Less tests that A is stochastically smaller (faster) than B.
	Less Alternative = "less"

	// Greater tests that A is stochastically greater (slower) than B.
	Greater Alternative = "greater"
)

// ParseAlternative converts a name to an Alternative.
func ParseAlternative(s string) (Alternative, error) {
	switch Alternative(s) {
	case TwoSided, Less, Greater:
		return Alternative(s), nil
	case "":
		return TwoSided, nil
	default:
		return "", eval.InvalidConfig("unknown alternative %q (want two-sided, less or greater)", s)
	}
}

// EffectSize is the qualitative bucket of |Cliff's delta|.
type EffectSize string

const (
	// EffectNegligible indicates |delta| < 0.147.
	EffectNegligible EffectSize = "negligible"
	// EffectSmall indicates 0.147 <= |delta| < 0.33.
	EffectSmall EffectSize = "small"
	// EffectMedium indicates 0.33 <= |delta| < 0.474.
	EffectMedium EffectSize = "medium"
	// EffectLarge indicates |delta| >= 0.474.
	EffectLarge EffectSize = "large"
)

// CategorizeDelta returns the bucket for a Cliff's delta value.
func CategorizeDelta(delta float64) EffectSize {
	abs := math.Abs(delta)
	switch {
	case abs < 0.147:
		return EffectNegligible
	case abs < 0.33:
		return EffectSmall
	case abs < 0.474:
		return EffectMedium
	default:
		return EffectLarge
	}
}

// -----------------------------------------------------------------------------
// Mann-Whitney U
// -----------------------------------------------------------------------------

// pairCounts holds cross-pair dominance counts between two samples.
type pairCounts struct {
	greater int64 // pairs with a > b
	less    int64 // pairs with a < b
	ties    int64 // pairs with a == b
}

// countPairs counts dominance over all |a|*|b| cross pairs in
// O((|a|+|b|) log |b|).
func countPairs(a, b []float64) pairCounts {
	sortedB := stats.Sorted(b)
	nb := int64(len(sortedB))
	var c pairCounts
	for _, x := range a {
		lo := int64(sort.SearchFloat64s(sortedB, x))
		hi := int64(sort.Search(len(sortedB), func(i int) bool { return sortedB[i] > x }))
		c.less += nb - hi
		c.greater += lo
		c.ties += hi - lo
	}
	return c
}

// CliffDelta returns (#(a>b) - #(a<b)) / (|a|*|b|). Ties contribute zero.
// Returns 0 when either input is empty.
func CliffDelta(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	c := countPairs(a, b)
	return float64(c.greater-c.less) / (float64(len(a)) * float64(len(b)))
}

// MannWhitneyResult is the outcome of a rank-sum test.
type MannWhitneyResult struct {
	// U is the statistic for A: pairs with a > b plus half the ties.
	U float64

	// Z is the continuity-corrected normal deviate used for the p-value.
	Z float64

	// PValue is the p-value under the chosen alternative.
	PValue float64

	// Delta is Cliff's delta for A-vs-B.
	Delta float64
}

// MannWhitneyU runs the asymptotic Mann-Whitney U test.
//
// Description:
//
//	Uses the normal approximation with average ranks for ties, the
//	tie-corrected variance and a 0.5 continuity correction. When every
//	value in both samples is identical the variance is zero and the
//	result is p = 1, z = 0.
//
// Inputs:
//   - a, b: Samples. Each must have at least 2 values.
//   - alt: The alternative hypothesis.
//
// Outputs:
//   - MannWhitneyResult: The test result.
//   - error: ErrInsufficientData for undersized input.
//
// Thread Safety: This function is stateless and safe for concurrent use.
func MannWhitneyU(a, b []float64, alt Alternative) (MannWhitneyResult, error) {
	n1, n2 := len(a), len(b)
	if n1 < 2 || n2 < 2 {
		return MannWhitneyResult{}, fmt.Errorf("rank-sum test needs at least 2 values per side, got %d and %d: %w",
			n1, n2, eval.ErrInsufficientData)
	}

	c := countPairs(a, b)
	prod := float64(n1) * float64(n2)
	u1 := float64(c.greater) + 0.5*float64(c.ties)
	result := MannWhitneyResult{
		U:      u1,
		PValue: 1,
		Delta:  float64(c.greater-c.less) / prod,
	}

	n := float64(n1 + n2)
	variance := prod / 12 * ((n + 1) - tieTerm(a, b)/(n*(n-1)))
	if variance <= 0 {
		return result, nil
	}
	sigma := math.Sqrt(variance)
	mu := prod / 2

	switch alt {
	case Greater:
		result.Z = (u1 - mu - 0.5) / sigma
		result.PValue = distuv.UnitNormal.Survival(result.Z)
	case Less:
		result.Z = (prod - u1 - mu - 0.5) / sigma
		result.PValue = distuv.UnitNormal.Survival(result.Z)
	default:
		u := math.Max(u1, prod-u1)
		result.Z = (u - mu - 0.5) / sigma
		result.PValue = 2 * distuv.UnitNormal.Survival(result.Z)
	}
	result.PValue = math.Min(1, math.Max(0, result.PValue))
	return result, nil
}

// tieTerm returns sum(t^3 - t) over tie groups of the pooled sample.
func tieTerm(a, b []float64) float64 {
	pooled := make([]float64, 0, len(a)+len(b))
	pooled = append(pooled, a...)
	pooled = append(pooled, b...)
	slices.Sort(pooled)

	var sum float64
	for i := 0; i < len(pooled); {
		j := i + 1
		for j < len(pooled) && pooled[j] == pooled[i] {
			j++
		}
		if t := float64(j - i); t > 1 {
			sum += t*t*t - t
		}
		i = j
	}
	return sum
}

// -----------------------------------------------------------------------------
// Comparison Result
// -----------------------------------------------------------------------------

// ComparisonResult is the full A-vs-B comparison of two operations.
type ComparisonResult struct {
	OperationA string  `json:"operation_a"`
	OperationB string  `json:"operation_b"`
	CountA     int     `json:"count_a"`
	CountB     int     `json:"count_b"`
	MedianANs  float64 `json:"median_a_ns"`
	MedianBNs  float64 `json:"median_b_ns"`

	// Faster is the operation with the lower median. Empty when the
	// medians are equal.
	Faster string `json:"faster"`

	// RelativePerformance is slower median / faster median, always >= 1.
	// It is 1.0 with RatioUndefined set when the faster median is zero.
	RelativePerformance float64 `json:"relative_performance"`
	RatioUndefined      bool    `json:"ratio_undefined,omitempty"`

	Alternative Alternative `json:"alternative"`
	UStatistic  float64     `json:"u_statistic"`
	ZScore      float64     `json:"z_score"`
	PValue      float64     `json:"p_value"`

	CliffDelta float64    `json:"cliff_delta"`
	Effect     EffectSize `json:"effect_size"`

	// MedianDifferenceCI bounds median(A) - median(B).
	MedianDifferenceCI stats.ConfidenceInterval `json:"median_difference_ci"`

	Alpha                  float64 `json:"alpha"`
	EffectThreshold        float64 `json:"effect_threshold"`
	Significant            bool    `json:"significant"`
	PracticallySignificant bool    `json:"practically_significant"`

	// SufficientSamples is false when either side has fewer than the
	// configured minimum sample count.
	SufficientSamples bool `json:"sufficient_samples"`

	// CorrectedPValue and SignificantCorrected are set by a Corrector.
	// Before correction they equal PValue and Significant.
	CorrectedPValue      float64 `json:"corrected_p_value"`
	SignificantCorrected bool    `json:"significant_corrected"`

	// Power is the estimated power of the test at the observed effect.
	Power float64 `json:"power"`

	// RecommendedSamples is the per-group size needed for the configured
	// target power at the observed effect. math.MaxInt32 when delta is 0.
	RecommendedSamples int `json:"recommended_samples"`
}

// Conclusive returns true when the comparison has enough samples and
// passes both the statistical and the practical significance gates.
func (r ComparisonResult) Conclusive() bool {
	return r.SufficientSamples && r.SignificantCorrected && r.PracticallySignificant
}

// -----------------------------------------------------------------------------
// Comparator
// -----------------------------------------------------------------------------

// ComparisonConfig configures a Comparator.
type ComparisonConfig struct {
	// Alpha is the significance level in (0,1). Default: 0.05.
	Alpha float64

	// EffectThreshold gates practical significance on |delta|.
	// Default: 0.2.
	EffectThreshold float64

	// MinSamples is the per-side count below which a comparison is
	// flagged as having insufficient samples. Default: 30.
	MinSamples int

	// Alternative is the alternative hypothesis. Default: two-sided.
	Alternative Alternative

	// Strict turns undersized comparisons into ErrInsufficientData.
	Strict bool

	// TargetPower is the power used for RecommendedSamples. Default: 0.8.
	TargetPower float64

	// Bootstrap configures the median-difference interval.
	Bootstrap stats.BootstrapConfig
}

// DefaultComparisonConfig returns the defaults.
func DefaultComparisonConfig() ComparisonConfig {
	return ComparisonConfig{
		Alpha:           0.05,
		EffectThreshold: 0.2,
		MinSamples:      30,
		Alternative:     TwoSided,
		TargetPower:     0.8,
		Bootstrap:       stats.DefaultBootstrapConfig(),
	}
}

// Validate checks the configuration.
func (c ComparisonConfig) Validate() error {
	if !(c.Alpha > 0 && c.Alpha < 1) {
		return eval.InvalidConfig("alpha must be in (0,1), got %v", c.Alpha)
	}
	if !(c.EffectThreshold >= 0 && c.EffectThreshold <= 1) {
		return eval.InvalidConfig("effect threshold must be in [0,1], got %v", c.EffectThreshold)
	}
	if c.MinSamples < 2 {
		return eval.InvalidConfig("min samples must be at least 2, got %d", c.MinSamples)
	}
	if _, err := ParseAlternative(string(c.Alternative)); err != nil {
		return err
	}
	if !(c.TargetPower > 0 && c.TargetPower < 1) {
		return eval.InvalidConfig("target power must be in (0,1), got %v", c.TargetPower)
	}
	return c.Bootstrap.Validate()
}

// CompareOption modifies a ComparisonConfig.
type CompareOption func(*ComparisonConfig)

// WithAlpha sets the significance level.
func WithAlpha(alpha float64) CompareOption {
	return func(c *ComparisonConfig) { c.Alpha = alpha }
}

// WithEffectThreshold sets the practical-significance threshold.
func WithEffectThreshold(threshold float64) CompareOption {
	return func(c *ComparisonConfig) { c.EffectThreshold = threshold }
}

// WithMinSamples sets the minimum per-side sample count.
func WithMinSamples(n int) CompareOption {
	return func(c *ComparisonConfig) { c.MinSamples = n }
}

// WithAlternative sets the alternative hypothesis.
func WithAlternative(alt Alternative) CompareOption {
	return func(c *ComparisonConfig) { c.Alternative = alt }
}

// WithStrict enables strict sample-size handling.
func WithStrict(strict bool) CompareOption {
	return func(c *ComparisonConfig) { c.Strict = strict }
}

// WithTargetPower sets the power used for sample-size recommendations.
func WithTargetPower(power float64) CompareOption {
	return func(c *ComparisonConfig) { c.TargetPower = power }
}

// WithBootstrap sets the median-difference bootstrap configuration.
func WithBootstrap(config stats.BootstrapConfig) CompareOption {
	return func(c *ComparisonConfig) { c.Bootstrap = config }
}

// Comparator performs A-vs-B comparisons.
//
// Thread Safety: Safe for concurrent use.
type Comparator struct {
	config    ComparisonConfig
	estimator *stats.Estimator
}

// NewComparator creates a comparator from the defaults plus opts.
//
// Outputs:
//   - *Comparator: The comparator.
//   - error: ErrInvalidConfiguration for an invalid configuration.
func NewComparator(opts ...CompareOption) (*Comparator, error) {
	config := DefaultComparisonConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	b := config.Bootstrap
	estimator, err := stats.NewEstimator(
		stats.WithConfidence(b.Confidence),
		stats.WithResamples(b.Resamples),
		stats.WithSeed(b.Seed),
		stats.WithStrict(b.Strict),
	)
	if err != nil {
		return nil, err
	}
	return &Comparator{config: config, estimator: estimator}, nil
}

// Config returns the comparator's configuration.
func (c *Comparator) Config() ComparisonConfig {
	return c.config
}

// Compare compares two sample sets on wall-clock time.
//
// Description:
//
//	Runs the rank-sum test under the configured alternative, computes
//	Cliff's delta and its bucket, the bootstrap interval for the median
//	difference, both significance flags and a power annotation.
//	Compare(A,B).CliffDelta is exactly -Compare(B,A).CliffDelta.
//
// Inputs:
//   - a, b: Sample sets. Each needs at least 2 samples.
//
// Outputs:
//   - ComparisonResult: The comparison.
//   - error: ErrEmptyInput, or ErrInsufficientData for fewer than 2
//     samples (or fewer than MinSamples in strict mode).
//
// Thread Safety: Safe for concurrent use.
func (c *Comparator) Compare(a, b *stats.SampleSet) (ComparisonResult, error) {
	if a == nil || b == nil {
		return ComparisonResult{}, fmt.Errorf("compare: %w", eval.ErrEmptyInput)
	}
	return c.CompareValues(a.Name(), a.Wall(), b.Name(), b.Wall())
}

// CompareValues compares raw nanosecond samples.
func (c *Comparator) CompareValues(nameA string, a []float64, nameB string, b []float64) (ComparisonResult, error) {
	if len(a) == 0 || len(b) == 0 {
		return ComparisonResult{}, fmt.Errorf("compare %s vs %s: %w", nameA, nameB, eval.ErrEmptyInput)
	}

	sufficient := len(a) >= c.config.MinSamples && len(b) >= c.config.MinSamples
	if !sufficient && c.config.Strict {
		return ComparisonResult{}, fmt.Errorf("compare %s (n=%d) vs %s (n=%d): need %d per side: %w",
			nameA, len(a), nameB, len(b), c.config.MinSamples, eval.ErrInsufficientData)
	}

	mw, err := MannWhitneyU(a, b, c.config.Alternative)
	if err != nil {
		return ComparisonResult{}, fmt.Errorf("compare %s vs %s: %w", nameA, nameB, err)
	}

	ci, err := c.estimator.MedianDifferenceCI(a, b)
	if err != nil {
		return ComparisonResult{}, fmt.Errorf("compare %s vs %s: %w", nameA, nameB, err)
	}

	result := ComparisonResult{
		OperationA:             nameA,
		OperationB:             nameB,
		CountA:                 len(a),
		CountB:                 len(b),
		MedianANs:              stats.Median(a),
		MedianBNs:              stats.Median(b),
		Alternative:            c.config.Alternative,
		UStatistic:             mw.U,
		ZScore:                 mw.Z,
		PValue:                 mw.PValue,
		CliffDelta:             mw.Delta,
		Effect:                 CategorizeDelta(mw.Delta),
		MedianDifferenceCI:     ci,
		Alpha:                  c.config.Alpha,
		EffectThreshold:        c.config.EffectThreshold,
		Significant:            mw.PValue < c.config.Alpha,
		PracticallySignificant: math.Abs(mw.Delta) >= c.config.EffectThreshold,
		SufficientSamples:      sufficient,
		Power:                  PowerFromDelta(mw.Delta, len(a), len(b), c.config.Alpha),
		RecommendedSamples:     requiredSampleSize(math.Abs(mw.Delta), c.config.TargetPower, c.config.Alpha),
	}
	result.CorrectedPValue = result.PValue
	result.SignificantCorrected = result.Significant
	result.Faster, result.RelativePerformance, result.RatioUndefined = relativePerformance(
		nameA, result.MedianANs, nameB, result.MedianBNs)

	return result, nil
}

// relativePerformance picks the faster operation by median and returns
// slower/faster. Equal medians yield ("", 1.0, false); a zero faster
// median yields (faster, 1.0, true).
func relativePerformance(nameA string, medA float64, nameB string, medB float64) (string, float64, bool) {
	var faster string
	fast, slow := medA, medB
	switch {
	case medA < medB:
		faster = nameA
	case medB < medA:
		faster = nameB
		fast, slow = medB, medA
	default:
		return "", 1.0, false
	}
	if fast <= 0 {
		return faster, 1.0, true
	}
	return faster, slow / fast, false
}
