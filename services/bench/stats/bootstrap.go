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
	"math/rand/v2"
	"slices"

	"github.com/AleutianAI/AleutianBench/services/bench/eval"
)

// -----------------------------------------------------------------------------
// Confidence Interval
// -----------------------------------------------------------------------------

// ConfidenceInterval is a bootstrap percentile interval around a median or
// a median difference.
type ConfidenceInterval struct {
	// Lower is the lower bound.
	Lower float64 `json:"lower"`

	// Upper is the upper bound.
	Upper float64 `json:"upper"`

	// Estimate is the point estimate computed on the original data.
	Estimate float64 `json:"estimate"`

	// Level is the confidence level (e.g., 0.95).
	Level float64 `json:"level"`

	// Resamples is the number of bootstrap resamples drawn.
	Resamples int `json:"resamples"`

	// Seed is the generator seed the interval was computed with.
	Seed uint64 `json:"seed"`

	// Degenerate is true when the input was too small to resample and the
	// interval collapsed to the point estimate.
	Degenerate bool `json:"degenerate,omitempty"`
}

// Contains returns true if the interval contains v.
func (ci ConfidenceInterval) Contains(v float64) bool {
	return v >= ci.Lower && v <= ci.Upper
}

// Width returns Upper - Lower.
func (ci ConfidenceInterval) Width() float64 {
	return ci.Upper - ci.Lower
}

// RelativeWidth returns Width / |Estimate|, or +Inf when the estimate is
// zero.
func (ci ConfidenceInterval) RelativeWidth() float64 {
	if ci.Estimate == 0 {
		return math.Inf(1)
	}
	return ci.Width() / math.Abs(ci.Estimate)
}

// -----------------------------------------------------------------------------
// Estimator
// -----------------------------------------------------------------------------

const (
	// DefaultConfidence is the default confidence level.
	DefaultConfidence = 0.95

	// DefaultResamples is the default number of bootstrap resamples.
	DefaultResamples = 10000

	// DefaultSeed is the default generator seed.
	DefaultSeed uint64 = 42
)

// BootstrapConfig configures an Estimator.
type BootstrapConfig struct {
	// Confidence is the interval level in (0,1). Default: 0.95.
	Confidence float64

	// Resamples is the number of resamples. Must be positive. Default: 10000.
	Resamples int

	// Seed makes intervals reproducible. Default: 42.
	Seed uint64

	// Strict makes inputs with fewer than 2 values an error instead of a
	// degenerate (v, v) interval. Default: false.
	Strict bool
}

// DefaultBootstrapConfig returns the default configuration.
func DefaultBootstrapConfig() BootstrapConfig {
	return BootstrapConfig{
		Confidence: DefaultConfidence,
		Resamples:  DefaultResamples,
		Seed:       DefaultSeed,
	}
}

// Validate checks the configuration.
func (c BootstrapConfig) Validate() error {
	if !(c.Confidence > 0 && c.Confidence < 1) {
		return eval.InvalidConfig("bootstrap confidence must be in (0,1), got %v", c.Confidence)
	}
	if c.Resamples < 1 {
		return eval.InvalidConfig("bootstrap resamples must be positive, got %d", c.Resamples)
	}
	return nil
}

// BootstrapOption modifies a BootstrapConfig.
type BootstrapOption func(*BootstrapConfig)

// WithConfidence sets the confidence level.
func WithConfidence(level float64) BootstrapOption {
	return func(c *BootstrapConfig) { c.Confidence = level }
}

// WithResamples sets the resample count.
func WithResamples(n int) BootstrapOption {
	return func(c *BootstrapConfig) { c.Resamples = n }
}

// WithSeed sets the generator seed.
func WithSeed(seed uint64) BootstrapOption {
	return func(c *BootstrapConfig) { c.Seed = seed }
}

// WithStrict enables strict handling of undersized inputs.
func WithStrict(strict bool) BootstrapOption {
	return func(c *BootstrapConfig) { c.Strict = strict }
}

// Estimator computes percentile-bootstrap confidence intervals.
//
// Description:
//
//	Each call draws from its own generator seeded from the configuration,
//	so results do not depend on call order and the Estimator can be shared
//	between goroutines.
//
// Thread Safety: Safe for concurrent use.
type Estimator struct {
	config BootstrapConfig
}

// NewEstimator creates an estimator from the defaults plus opts.
//
// Outputs:
//   - *Estimator: The estimator.
//   - error: ErrInvalidConfiguration if the resulting config is invalid.
//
// Example:
//
//	est, err := stats.NewEstimator(stats.WithResamples(2000), stats.WithSeed(7))
func NewEstimator(opts ...BootstrapOption) (*Estimator, error) {
	config := DefaultBootstrapConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Estimator{config: config}, nil
}

// Config returns the estimator's configuration.
func (e *Estimator) Config() BootstrapConfig {
	return e.config
}

// ConfidenceInterval returns a bootstrap interval for the median of values.
//
// Description:
//
//	Resamples values with replacement to the original size Resamples
//	times, takes the median of each resample, and returns the
//	(α/2, 1-α/2) percentiles of those medians.
//
// Inputs:
//   - values: Nanosecond durations. Not modified.
//
// Outputs:
//   - ConfidenceInterval: The interval. Degenerate when len(values) == 1
//     in lenient mode.
//   - error: ErrEmptyInput for no values; ErrInsufficientData for a single
//     value in strict mode.
func (e *Estimator) ConfidenceInterval(values []float64) (ConfidenceInterval, error) {
	n := len(values)
	if n == 0 {
		return ConfidenceInterval{}, fmt.Errorf("bootstrap median: %w", eval.ErrEmptyInput)
	}

	ci := e.newInterval(Median(values))
	if n < 2 {
		return e.degenerate(ci, n)
	}

	rng := e.newRand()
	buf := make([]float64, n)
	medians := make([]float64, e.config.Resamples)
	for i := range medians {
		for j := range buf {
			buf[j] = values[rng.IntN(n)]
		}
		medians[i] = medianSelect(buf)
	}

	ci.Lower, ci.Upper = percentileBounds(medians, e.config.Confidence)
	return ci, nil
}

// MedianDifferenceCI returns a bootstrap interval for median(a) - median(b).
//
// Inputs:
//   - a, b: Nanosecond durations. Not modified.
//
// Outputs:
//   - ConfidenceInterval: The interval. Negative values mean a is faster.
//   - error: ErrEmptyInput if either input is empty; ErrInsufficientData
//     if either has fewer than 2 values in strict mode.
func (e *Estimator) MedianDifferenceCI(a, b []float64) (ConfidenceInterval, error) {
	na, nb := len(a), len(b)
	if na == 0 || nb == 0 {
		return ConfidenceInterval{}, fmt.Errorf("bootstrap median difference: %w", eval.ErrEmptyInput)
	}

	ci := e.newInterval(Median(a) - Median(b))
	if na < 2 || nb < 2 {
		return e.degenerate(ci, min(na, nb))
	}

	rng := e.newRand()
	bufA := make([]float64, na)
	bufB := make([]float64, nb)
	diffs := make([]float64, e.config.Resamples)
	for i := range diffs {
		for j := range bufA {
			bufA[j] = a[rng.IntN(na)]
		}
		for j := range bufB {
			bufB[j] = b[rng.IntN(nb)]
		}
		diffs[i] = medianSelect(bufA) - medianSelect(bufB)
	}

	ci.Lower, ci.Upper = percentileBounds(diffs, e.config.Confidence)
	return ci, nil
}

func (e *Estimator) newInterval(estimate float64) ConfidenceInterval {
	return ConfidenceInterval{
		Estimate:  estimate,
		Level:     e.config.Confidence,
		Resamples: e.config.Resamples,
		Seed:      e.config.Seed,
	}
}

func (e *Estimator) degenerate(ci ConfidenceInterval, n int) (ConfidenceInterval, error) {
	if e.config.Strict {
		return ConfidenceInterval{}, fmt.Errorf("bootstrap needs at least 2 values, got %d: %w", n, eval.ErrInsufficientData)
	}
	ci.Lower, ci.Upper = ci.Estimate, ci.Estimate
	ci.Degenerate = true
	return ci, nil
}

// newRand returns a PCG generator derived only from the configured seed.
func (e *Estimator) newRand() *rand.Rand {
	return rand.New(rand.NewPCG(e.config.Seed, e.config.Seed^0x9e3779b97f4a7c15))
}

// percentileBounds sorts dist in place and returns its two-sided
// percentile bounds for the given confidence level.
func percentileBounds(dist []float64, confidence float64) (float64, float64) {
	slices.Sort(dist)
	alpha := 1 - confidence
	return Quantile(dist, alpha/2), Quantile(dist, 1-alpha/2)
}
