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
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/AleutianAI/AleutianBench/services/bench/eval"
	"github.com/AleutianAI/AleutianBench/services/bench/stats"
)

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func constant(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func normal(rng *rand.Rand, n int, mean, sd float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = mean + rng.NormFloat64()*sd
	}
	return out
}

func mustSet(t *testing.T, name string, ns []float64) *stats.SampleSet {
	t.Helper()
	set, err := stats.FromDurations(name, ns)
	if err != nil {
		t.Fatalf("building set %s: %v", name, err)
	}
	return set
}

func fastComparator(t *testing.T, opts ...CompareOption) *Comparator {
	t.Helper()
	boot := stats.DefaultBootstrapConfig()
	boot.Resamples = 200
	cmp, err := NewComparator(append([]CompareOption{WithBootstrap(boot)}, opts...)...)
	if err != nil {
		t.Fatalf("NewComparator: %v", err)
	}
	return cmp
}

// -----------------------------------------------------------------------------
// Effect Size Tests
// -----------------------------------------------------------------------------

func TestCategorizeDelta(t *testing.T) {
	tests := []struct {
		delta float64
		want  EffectSize
	}{
		{0, EffectNegligible},
		{0.146, EffectNegligible},
		{-0.147, EffectSmall},
		{0.329, EffectSmall},
		{0.33, EffectMedium},
		{-0.473, EffectMedium},
		{0.474, EffectLarge},
		{-1, EffectLarge},
	}
	for _, tt := range tests {
		if got := CategorizeDelta(tt.delta); got != tt.want {
			t.Errorf("CategorizeDelta(%v) = %v, want %v", tt.delta, got, tt.want)
		}
	}
}

func TestCliffDelta(t *testing.T) {
	t.Run("ties contribute zero", func(t *testing.T) {
		// Pairs: 1v1 tie, 1v3 less, 2v1 greater, 2v3 less.
		got := CliffDelta([]float64{1, 2}, []float64{1, 3})
		if got != -0.25 {
			t.Errorf("expected -0.25, got %v", got)
		}
	})

	t.Run("empty input", func(t *testing.T) {
		if got := CliffDelta(nil, []float64{1}); got != 0 {
			t.Errorf("expected 0, got %v", got)
		}
	})

	t.Run("matches brute force", func(t *testing.T) {
		rng := rand.New(rand.NewPCG(5, 6))
		for trial := 0; trial < 50; trial++ {
			a := make([]float64, 1+rng.IntN(20))
			b := make([]float64, 1+rng.IntN(20))
			for i := range a {
				a[i] = float64(rng.IntN(10))
			}
			for i := range b {
				b[i] = float64(rng.IntN(10))
			}
			var gt, lt int
			for _, x := range a {
				for _, y := range b {
					switch {
					case x > y:
						gt++
					case x < y:
						lt++
					}
				}
			}
			want := float64(gt-lt) / float64(len(a)*len(b))
			if got := CliffDelta(a, b); math.Abs(got-want) > 1e-15 {
				t.Fatalf("CliffDelta(%v, %v) = %v, want %v", a, b, got, want)
			}
		}
	})
}

// -----------------------------------------------------------------------------
// Mann-Whitney Tests
// -----------------------------------------------------------------------------

func TestMannWhitneyU_KnownValue(t *testing.T) {
	a := []float64{1, 2, 3, 4, 5}
	b := []float64{6, 7, 8, 9, 10}

	result, err := MannWhitneyU(a, b, TwoSided)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.U != 0 {
		t.Errorf("expected U=0, got %v", result.U)
	}
	// Asymptotic two-sided p with continuity correction.
	if math.Abs(result.PValue-0.012185) > 1e-4 {
		t.Errorf("expected p≈0.012185, got %v", result.PValue)
	}
	if result.Delta != -1 {
		t.Errorf("expected delta=-1, got %v", result.Delta)
	}
}

func TestMannWhitneyU_Alternatives(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 8))
	fast := normal(rng, 40, 100, 10)
	slow := normal(rng, 40, 150, 10)

	less, _ := MannWhitneyU(fast, slow, Less)
	greater, _ := MannWhitneyU(fast, slow, Greater)
	two, _ := MannWhitneyU(fast, slow, TwoSided)

	if less.PValue >= 0.001 {
		t.Errorf("expected tiny p for 'less', got %v", less.PValue)
	}
	if greater.PValue <= 0.9 {
		t.Errorf("expected p near 1 for 'greater', got %v", greater.PValue)
	}
	if two.PValue < less.PValue {
		t.Errorf("two-sided p (%v) should not be below one-sided p (%v)", two.PValue, less.PValue)
	}
}

func TestMannWhitneyU_ZeroVariance(t *testing.T) {
	result, err := MannWhitneyU(constant(10, 5), constant(10, 5), TwoSided)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.PValue != 1 || result.Z != 0 || result.Delta != 0 {
		t.Errorf("expected p=1 z=0 delta=0, got %+v", result)
	}
}

func TestMannWhitneyU_Insufficient(t *testing.T) {
	_, err := MannWhitneyU([]float64{1}, []float64{1, 2}, TwoSided)
	if !errors.Is(err, eval.ErrInsufficientData) {
		t.Errorf("expected ErrInsufficientData, got %v", err)
	}
}

func TestMannWhitneyU_FalsePositiveRate(t *testing.T) {
	rng := rand.New(rand.NewPCG(9, 10))
	const trials = 400
	rejections := 0
	for i := 0; i < trials; i++ {
		a := normal(rng, 30, 1000, 50)
		b := normal(rng, 30, 1000, 50)
		result, err := MannWhitneyU(a, b, TwoSided)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if math.Abs(result.Delta) > 0.5 {
			t.Fatalf("identical distributions gave delta %v", result.Delta)
		}
		if result.PValue < 0.05 {
			rejections++
		}
	}
	rate := float64(rejections) / trials
	// Allow binomial noise above the nominal 0.05.
	if rate > 0.08 {
		t.Errorf("false-positive rate %v exceeds alpha", rate)
	}
}

// -----------------------------------------------------------------------------
// Comparator Tests
// -----------------------------------------------------------------------------

func TestComparator_Config(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cmp, err := NewComparator()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		cfg := cmp.Config()
		if cfg.Alpha != 0.05 || cfg.EffectThreshold != 0.2 || cfg.MinSamples != 30 || cfg.Alternative != TwoSided {
			t.Errorf("unexpected defaults: %+v", cfg)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		for _, opt := range []CompareOption{
			WithAlpha(0),
			WithAlpha(1.2),
			WithEffectThreshold(-0.1),
			WithMinSamples(1),
			WithAlternative("sideways"),
			WithTargetPower(1),
		} {
			if _, err := NewComparator(opt); !errors.Is(err, eval.ErrInvalidConfiguration) {
				t.Errorf("expected ErrInvalidConfiguration, got %v", err)
			}
		}
	})
}

func TestComparator_ConstantSets(t *testing.T) {
	cmp, err := NewComparator()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result, err := cmp.Compare(mustSet(t, "A", constant(30, 100)), mustSet(t, "B", constant(30, 200)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.CliffDelta != -1.0 {
		t.Errorf("expected delta -1.0, got %v", result.CliffDelta)
	}
	if result.Faster != "A" {
		t.Errorf("expected A faster, got %q", result.Faster)
	}
	if result.RelativePerformance != 2.0 {
		t.Errorf("expected ratio 2.0, got %v", result.RelativePerformance)
	}
	if result.PValue >= 0.001 {
		t.Errorf("expected p < 0.001, got %v", result.PValue)
	}
	if result.Effect != EffectLarge || !result.Significant || !result.PracticallySignificant || !result.SufficientSamples {
		t.Errorf("unexpected flags: %+v", result)
	}
	if result.MedianDifferenceCI.Lower != -100 || result.MedianDifferenceCI.Upper != -100 {
		t.Errorf("expected CI at -100, got %+v", result.MedianDifferenceCI)
	}
	if result.Power < 0.99 {
		t.Errorf("expected near-certain power, got %v", result.Power)
	}
}

func TestComparator_Symmetry(t *testing.T) {
	cmp := fastComparator(t)
	rng := rand.New(rand.NewPCG(11, 12))
	for trial := 0; trial < 25; trial++ {
		a := normal(rng, 5+rng.IntN(40), 100, 20)
		b := normal(rng, 5+rng.IntN(40), 100+float64(rng.IntN(30)), 20)
		// Round to force ties.
		for i := range a {
			a[i] = math.Round(a[i])
		}
		for i := range b {
			b[i] = math.Round(b[i])
		}

		ab, err := cmp.CompareValues("A", a, "B", b)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		ba, err := cmp.CompareValues("B", b, "A", a)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ab.CliffDelta != -ba.CliffDelta {
			t.Fatalf("symmetry violated: %v vs %v", ab.CliffDelta, ba.CliffDelta)
		}
		if ab.PValue != ba.PValue {
			t.Errorf("two-sided p-value should be symmetric: %v vs %v", ab.PValue, ba.PValue)
		}
		if ab.Faster != ba.Faster || ab.RelativePerformance != ba.RelativePerformance {
			t.Errorf("faster/ratio should not depend on argument order")
		}
	}
}

func TestComparator_EdgeCases(t *testing.T) {
	cmp := fastComparator(t)

	t.Run("identical medians", func(t *testing.T) {
		result, err := cmp.CompareValues("A", constant(30, 50), "B", constant(30, 50))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Faster != "" || result.RelativePerformance != 1.0 || result.RatioUndefined {
			t.Errorf("expected tie sentinel, got faster=%q ratio=%v", result.Faster, result.RelativePerformance)
		}
		if result.Significant {
			t.Error("identical sets must not be significant")
		}
	})

	t.Run("zero median", func(t *testing.T) {
		result, err := cmp.CompareValues("A", constant(30, 0), "B", constant(30, 10))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Faster != "A" || result.RelativePerformance != 1.0 || !result.RatioUndefined {
			t.Errorf("expected undefined ratio sentinel, got %+v", result)
		}
	})

	t.Run("empty", func(t *testing.T) {
		_, err := cmp.CompareValues("A", nil, "B", constant(3, 1))
		if !errors.Is(err, eval.ErrEmptyInput) {
			t.Errorf("expected ErrEmptyInput, got %v", err)
		}
		_, err = cmp.Compare(nil, nil)
		if !errors.Is(err, eval.ErrEmptyInput) {
			t.Errorf("expected ErrEmptyInput, got %v", err)
		}
	})

	t.Run("single sample", func(t *testing.T) {
		_, err := cmp.CompareValues("A", []float64{1}, "B", constant(3, 1))
		if !errors.Is(err, eval.ErrInsufficientData) {
			t.Errorf("expected ErrInsufficientData, got %v", err)
		}
	})

	t.Run("below minimum flags insufficient", func(t *testing.T) {
		result, err := cmp.CompareValues("A", constant(10, 1), "B", constant(10, 2))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.SufficientSamples {
			t.Error("expected SufficientSamples=false for n=10")
		}
		if result.Conclusive() {
			t.Error("insufficient comparison must not be conclusive")
		}
	})

	t.Run("below minimum strict", func(t *testing.T) {
		strict := fastComparator(t, WithStrict(true))
		_, err := strict.CompareValues("A", constant(10, 1), "B", constant(10, 2))
		if !errors.Is(err, eval.ErrInsufficientData) {
			t.Errorf("expected ErrInsufficientData, got %v", err)
		}
	})

	t.Run("configurable thresholds", func(t *testing.T) {
		loose := fastComparator(t, WithMinSamples(5), WithEffectThreshold(0.9))
		result, err := loose.CompareValues("A", []float64{1, 2, 3, 4, 5, 6}, "B", []float64{2, 3, 4, 5, 6, 7})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.SufficientSamples {
			t.Error("expected n=6 to satisfy MinSamples=5")
		}
		if result.PracticallySignificant {
			t.Errorf("delta %v should not pass a 0.9 threshold", result.CliffDelta)
		}
	})
}
