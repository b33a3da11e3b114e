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

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/AleutianAI/AleutianBench/services/bench/eval"
)

// -----------------------------------------------------------------------------
// Power Analysis
// -----------------------------------------------------------------------------

// minRequiredSamples is the floor on recommended per-group sample sizes.
const minRequiredSamples = 3

// PowerAnalysis holds the power annotation for an observed comparison.
type PowerAnalysis struct {
	// Power is the probability of detecting the observed effect (1 - beta).
	Power float64 `json:"power"`

	// EffectSize is the observed |Cliff's delta|.
	EffectSize float64 `json:"effect_size"`

	// HarmonicN is the harmonic mean of the two sample sizes.
	HarmonicN float64 `json:"harmonic_n"`

	// RequiredSampleSize is the per-group size for TargetPower.
	RequiredSampleSize int `json:"required_sample_size"`

	Alpha       float64 `json:"alpha"`
	TargetPower float64 `json:"target_power"`
}

// Power estimates the power of the two-sided rank-sum test for the effect
// observed between a and b.
//
// Description:
//
//	Uses the normal approximation to the Mann-Whitney U statistic with the
//	observed Cliff's delta as effect size and the harmonic mean of the two
//	sample sizes as the per-group n.
//
// Inputs:
//   - a, b: Samples. Each must be non-empty.
//   - alpha: Significance level in (0,1).
//
// Outputs:
//   - float64: Power in [0,1].
//   - error: ErrEmptyInput or ErrInvalidConfiguration.
//
// Thread Safety: This function is stateless and safe for concurrent use.
func Power(a, b []float64, alpha float64) (float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, fmt.Errorf("power: %w", eval.ErrEmptyInput)
	}
	if !(alpha > 0 && alpha < 1) {
		return 0, eval.InvalidConfig("alpha must be in (0,1), got %v", alpha)
	}
	return PowerFromDelta(CliffDelta(a, b), len(a), len(b), alpha), nil
}

// Analyze builds a PowerAnalysis for a and b.
func Analyze(a, b []float64, alpha, targetPower float64) (PowerAnalysis, error) {
	power, err := Power(a, b, alpha)
	if err != nil {
		return PowerAnalysis{}, err
	}
	effect := math.Abs(CliffDelta(a, b))
	required, err := RequiredSampleSize(effect, targetPower, alpha)
	if err != nil {
		return PowerAnalysis{}, err
	}
	return PowerAnalysis{
		Power:              power,
		EffectSize:         effect,
		HarmonicN:          harmonicMean(len(a), len(b)),
		RequiredSampleSize: required,
		Alpha:              alpha,
		TargetPower:        targetPower,
	}, nil
}

// PowerFromDelta returns the approximate two-sided power for a Cliff's
// delta with group sizes n1 and n2. Returns 0 when either group has fewer
// than 2 samples.
//
// With equal groups of size n, U has null standard deviation
// n*sqrt((2n+1)/12) and its mean shifts by n^2*delta/2 under the
// alternative, giving the non-centrality n*|delta|/2 * sqrt(12/(2n+1)).
func PowerFromDelta(delta float64, n1, n2 int, alpha float64) float64 {
	if n1 < 2 || n2 < 2 {
		return 0
	}
	n := harmonicMean(n1, n2)
	ncp := math.Abs(delta) / 2 * n * math.Sqrt(12/(2*n+1))
	z := distuv.UnitNormal.Quantile(1 - alpha/2)

	power := distuv.UnitNormal.CDF(ncp-z) + distuv.UnitNormal.CDF(-ncp-z)
	return math.Min(1, math.Max(0, power))
}

// RequiredSampleSize returns the per-group sample size needed to detect
// a Cliff's delta of effect with the given power.
//
// Description:
//
//	Inverts PowerFromDelta, ignoring the negligible wrong-tail term:
//	solving n*|d|/2 * sqrt(12/(2n+1)) = K for K = z(1-alpha/2) + z(power)
//	gives 3d²n² - 2K²n - K² = 0.
//
// Inputs:
//   - effect: Cliff's delta. The sign is ignored.
//   - power: Target power in (0,1). Typically 0.8.
//   - alpha: Significance level in (0,1). Typically 0.05.
//
// Outputs:
//   - int: Samples per group, at least 3. math.MaxInt32 for a zero effect.
//   - error: ErrInvalidConfiguration for out-of-range parameters.
//
// Thread Safety: This function is stateless and safe for concurrent use.
func RequiredSampleSize(effect, power, alpha float64) (int, error) {
	if !(alpha > 0 && alpha < 1) {
		return 0, eval.InvalidConfig("alpha must be in (0,1), got %v", alpha)
	}
	if !(power > 0 && power < 1) {
		return 0, eval.InvalidConfig("power must be in (0,1), got %v", power)
	}
	if math.IsNaN(effect) || math.Abs(effect) > 1 {
		return 0, eval.InvalidConfig("effect must be a Cliff's delta in [-1,1], got %v", effect)
	}
	return requiredSampleSize(math.Abs(effect), power, alpha), nil
}

func requiredSampleSize(effect, power, alpha float64) int {
	if effect == 0 {
		return math.MaxInt32
	}
	k := distuv.UnitNormal.Quantile(1-alpha/2) + distuv.UnitNormal.Quantile(power)
	k2 := k * k
	d2 := effect * effect
	n := (2*k2 + math.Sqrt(4*k2*k2+12*d2*k2)) / (6 * d2)
	if n > math.MaxInt32 {
		return math.MaxInt32
	}
	return max(minRequiredSamples, int(math.Ceil(n)))
}

func harmonicMean(n1, n2 int) float64 {
	return 2 * float64(n1) * float64(n2) / float64(n1+n2)
}
