// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package benchmark

import (
	"time"

	"github.com/AleutianAI/AleutianBench/services/bench/eval"
	"github.com/AleutianAI/AleutianBench/services/bench/stats"
)

// -----------------------------------------------------------------------------
// Sampling Configuration
// -----------------------------------------------------------------------------

// SamplingConfig configures a Sampler run.
type SamplingConfig struct {
	// TargetRelativeError is the CI width / median at which sampling
	// stops. Default: 0.02.
	TargetRelativeError float64

	// MaxTime is the sampling time budget, checked between batches.
	// Default: 30s.
	MaxTime time.Duration

	// MinSamples is the sample count below which the precision check is
	// skipped. Default: 30.
	MinSamples int

	// MaxSamples caps the sample count. Zero means no cap.
	// Default: 100000.
	MaxSamples int

	// CalibrationCalls is the number of timed calls used to estimate the
	// per-call duration. Default: 10.
	CalibrationCalls int

	// BatchThreshold is the per-call estimate below which calls are
	// batched. Default: 1µs.
	BatchThreshold time.Duration

	// BatchTarget sets the batch size for fast operations:
	// iterations = ceil(BatchTarget / estimate). Default: 1s.
	BatchTarget time.Duration

	// StopRuleResamples is the bootstrap resample count used by the
	// precision check. Default: 2000.
	StopRuleResamples int

	// Confidence is the level of the precision check interval.
	// Default: 0.95.
	Confidence float64

	// Seed seeds the precision check bootstrap. Default: 42.
	Seed uint64

	// DisableGC turns the garbage collector off during the sampling loop.
	// Default: true.
	DisableGC bool

	// RemoveOutliers trims IQR outliers from the final sample set.
	// Default: false.
	RemoveOutliers bool

	// OutlierThreshold is the IQR multiplier. Default: 1.5.
	OutlierThreshold float64
}

// DefaultSamplingConfig returns the default sampling configuration.
func DefaultSamplingConfig() *SamplingConfig {
	return &SamplingConfig{
		TargetRelativeError: 0.02,
		MaxTime:             30 * time.Second,
		MinSamples:          30,
		MaxSamples:          100000,
		CalibrationCalls:    10,
		BatchThreshold:      time.Microsecond,
		BatchTarget:         time.Second,
		StopRuleResamples:   2000,
		Confidence:          stats.DefaultConfidence,
		Seed:                stats.DefaultSeed,
		DisableGC:           true,
		OutlierThreshold:    1.5,
	}
}

// Validate checks that the configuration is usable.
//
// Outputs:
//   - error: Wraps eval.ErrInvalidConfiguration naming the bad field.
func (c *SamplingConfig) Validate() error {
	if !(c.TargetRelativeError > 0) {
		return eval.InvalidConfig("target relative error must be positive, got %v", c.TargetRelativeError)
	}
	if c.MaxTime <= 0 {
		return eval.InvalidConfig("max time must be positive, got %v", c.MaxTime)
	}
	if c.MinSamples < 2 {
		return eval.InvalidConfig("min samples must be at least 2, got %d", c.MinSamples)
	}
	if c.MaxSamples != 0 && c.MaxSamples < c.MinSamples {
		return eval.InvalidConfig("max samples (%d) below min samples (%d)", c.MaxSamples, c.MinSamples)
	}
	if c.CalibrationCalls <= 0 {
		return eval.InvalidConfig("calibration calls must be positive, got %d", c.CalibrationCalls)
	}
	if c.BatchThreshold < 0 || c.BatchTarget <= 0 {
		return eval.InvalidConfig("batch threshold must be non-negative and batch target positive")
	}
	if c.StopRuleResamples <= 0 {
		return eval.InvalidConfig("stop rule resamples must be positive, got %d", c.StopRuleResamples)
	}
	if !(c.Confidence > 0 && c.Confidence < 1) {
		return eval.InvalidConfig("confidence must be in (0,1), got %v", c.Confidence)
	}
	if c.RemoveOutliers && !(c.OutlierThreshold > 0) {
		return eval.InvalidConfig("outlier threshold must be positive, got %v", c.OutlierThreshold)
	}
	return nil
}

// SampleOption configures a Measure call. Options are applied in order.
type SampleOption func(*SamplingConfig)

// WithTargetRelativeError sets the precision target.
//
// Example:
//
//	sampler.Measure(ctx, "op", fn, benchmark.WithTargetRelativeError(0.01))
func WithTargetRelativeError(target float64) SampleOption {
	return func(c *SamplingConfig) { c.TargetRelativeError = target }
}

// WithMaxTime sets the time budget.
func WithMaxTime(d time.Duration) SampleOption {
	return func(c *SamplingConfig) { c.MaxTime = d }
}

// WithMinSamples sets the minimum sample count.
func WithMinSamples(n int) SampleOption {
	return func(c *SamplingConfig) { c.MinSamples = n }
}

// WithMaxSamples caps the sample count. Zero removes the cap.
func WithMaxSamples(n int) SampleOption {
	return func(c *SamplingConfig) { c.MaxSamples = n }
}

// WithCalibrationCalls sets the number of calibration calls.
func WithCalibrationCalls(n int) SampleOption {
	return func(c *SamplingConfig) { c.CalibrationCalls = n }
}

// WithBatching sets the batching threshold and target.
//
// Example:
//
//	// Batch anything under 1µs into ~10ms samples.
//	benchmark.WithBatching(time.Microsecond, 10*time.Millisecond)
func WithBatching(threshold, target time.Duration) SampleOption {
	return func(c *SamplingConfig) {
		c.BatchThreshold = threshold
		c.BatchTarget = target
	}
}

// WithStopRuleResamples sets the resample count for the precision check.
func WithStopRuleResamples(n int) SampleOption {
	return func(c *SamplingConfig) { c.StopRuleResamples = n }
}

// WithSamplingSeed sets the precision check seed.
func WithSamplingSeed(seed uint64) SampleOption {
	return func(c *SamplingConfig) { c.Seed = seed }
}

// WithGCDisabled controls whether the collector is suspended while
// sampling.
func WithGCDisabled(disabled bool) SampleOption {
	return func(c *SamplingConfig) { c.DisableGC = disabled }
}

// WithOutlierRemoval enables IQR outlier trimming with the given
// threshold. A threshold <= 0 disables trimming.
//
// Example:
//
//	benchmark.WithOutlierRemoval(3.0) // extreme outliers only
func WithOutlierRemoval(threshold float64) SampleOption {
	return func(c *SamplingConfig) {
		c.RemoveOutliers = threshold > 0
		if threshold > 0 {
			c.OutlierThreshold = threshold
		}
	}
}

// -----------------------------------------------------------------------------
// Cold/Hot Configuration
// -----------------------------------------------------------------------------

// ColdHotConfig configures MeasureColdVsHot.
type ColdHotConfig struct {
	// HotIterations is the number of steady-state calls. Default: 100.
	HotIterations int

	// SettleDelay separates the first call from the hot calls.
	// Default: 10ms.
	SettleDelay time.Duration

	// DisableGC turns the garbage collector off during the hot loop.
	// Default: true.
	DisableGC bool
}

// DefaultColdHotConfig returns the default cold/hot configuration.
func DefaultColdHotConfig() *ColdHotConfig {
	return &ColdHotConfig{
		HotIterations: 100,
		SettleDelay:   10 * time.Millisecond,
		DisableGC:     true,
	}
}

// Validate checks that the configuration is usable.
func (c *ColdHotConfig) Validate() error {
	if c.HotIterations <= 0 {
		return eval.InvalidConfig("hot iterations must be positive, got %d", c.HotIterations)
	}
	if c.SettleDelay < 0 {
		return eval.InvalidConfig("settle delay must be non-negative, got %v", c.SettleDelay)
	}
	return nil
}

// ColdHotOption configures a MeasureColdVsHot call.
type ColdHotOption func(*ColdHotConfig)

// WithHotIterations sets the number of steady-state calls.
func WithHotIterations(n int) ColdHotOption {
	return func(c *ColdHotConfig) { c.HotIterations = n }
}

// WithSettleDelay sets the pause between the first call and the hot loop.
func WithSettleDelay(d time.Duration) ColdHotOption {
	return func(c *ColdHotConfig) { c.SettleDelay = d }
}

// WithHotGCDisabled controls whether the collector is suspended during
// the hot loop.
func WithHotGCDisabled(disabled bool) ColdHotOption {
	return func(c *ColdHotConfig) { c.DisableGC = disabled }
}
