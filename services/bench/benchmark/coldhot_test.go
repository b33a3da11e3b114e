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
	"context"
	"errors"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianBench/services/bench/eval"
)

// newTestSampler returns a sampler whose settle delay is recorded rather
// than slept.
func newTestSampler(slept *time.Duration) *Sampler {
	s := NewSampler()
	s.sleep = func(_ context.Context, d time.Duration) error {
		*slept = d
		return nil
	}
	return s
}

func TestColdHotConfig(t *testing.T) {
	config := DefaultColdHotConfig()
	if config.HotIterations != 100 || config.SettleDelay != 10*time.Millisecond || !config.DisableGC {
		t.Errorf("unexpected defaults: %+v", config)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}

	WithHotIterations(0)(config)
	if err := config.Validate(); !errors.Is(err, eval.ErrInvalidConfiguration) {
		t.Errorf("expected ErrInvalidConfiguration, got %v", err)
	}

	config = DefaultColdHotConfig()
	WithSettleDelay(-time.Second)(config)
	if err := config.Validate(); !errors.Is(err, eval.ErrInvalidConfiguration) {
		t.Errorf("expected ErrInvalidConfiguration, got %v", err)
	}
}

func TestMeasureColdVsHot(t *testing.T) {
	t.Run("first call overhead", func(t *testing.T) {
		var slept time.Duration
		sampler := newTestSampler(&slept)
		warmed := false
		op := func() (any, error) {
			if !warmed {
				warmed = true
				spin(2 * time.Millisecond)
			} else {
				spin(20 * time.Microsecond)
			}
			return 42, nil
		}

		profile, err := sampler.MeasureColdVsHot(context.Background(), "lazy", op, WithHotIterations(20))
		if err != nil {
			t.Fatalf("MeasureColdVsHot() error = %v", err)
		}
		if slept != 10*time.Millisecond {
			t.Errorf("settle delay = %v, want 10ms", slept)
		}
		if profile.Hot.Count != 20 || profile.HotIterations != 20 {
			t.Errorf("expected 20 hot samples, got %d", profile.Hot.Count)
		}
		if profile.FirstCallNs < float64(2*time.Millisecond) {
			t.Errorf("first call %vns shorter than its spin", profile.FirstCallNs)
		}
		if profile.OverheadFactor < 5 {
			t.Errorf("overhead factor = %v, want > 5", profile.OverheadFactor)
		}
		if !profile.Consistent || len(profile.Warnings) != 0 {
			t.Errorf("constant results flagged inconsistent: %v", profile.Warnings)
		}
	})

	t.Run("inconsistent results warn", func(t *testing.T) {
		var slept time.Duration
		sampler := newTestSampler(&slept)
		n := 0
		op := func() (any, error) {
			n++
			return n, nil
		}
		profile, err := sampler.MeasureColdVsHot(context.Background(), "counter", op, WithHotIterations(10))
		if err != nil {
			t.Fatalf("inconsistency should not be fatal: %v", err)
		}
		if profile.Consistent {
			t.Error("expected inconsistent results")
		}
		if len(profile.Warnings) != 1 {
			t.Errorf("expected exactly one warning, got %v", profile.Warnings)
		}
	})

	t.Run("nil first result skips comparison", func(t *testing.T) {
		var slept time.Duration
		sampler := newTestSampler(&slept)
		n := 0
		op := func() (any, error) {
			n++
			if n == 1 {
				return nil, nil
			}
			return n, nil
		}
		profile, err := sampler.MeasureColdVsHot(context.Background(), "op", op, WithHotIterations(5))
		if err != nil {
			t.Fatal(err)
		}
		if !profile.Consistent {
			t.Error("results should not be compared when the first is nil")
		}
	})

	t.Run("func and chan results skip comparison", func(t *testing.T) {
		ch := make(chan int)
		for name, result := range map[string]any{
			"func": func() int { return 1 },
			"chan": ch,
		} {
			var slept time.Duration
			sampler := newTestSampler(&slept)
			op := func() (any, error) { return result, nil }
			profile, err := sampler.MeasureColdVsHot(context.Background(), name, op, WithHotIterations(5))
			if err != nil {
				t.Fatalf("%s: %v", name, err)
			}
			if !profile.Consistent || len(profile.Warnings) != 0 {
				t.Errorf("%s: identical results flagged inconsistent: %v", name, profile.Warnings)
			}
		}
	})

	t.Run("pointer to comparable value is still checked", func(t *testing.T) {
		var slept time.Duration
		sampler := newTestSampler(&slept)
		n := 0
		op := func() (any, error) {
			n++
			v := n
			return &v, nil
		}
		profile, err := sampler.MeasureColdVsHot(context.Background(), "ptr", op, WithHotIterations(5))
		if err != nil {
			t.Fatal(err)
		}
		if profile.Consistent {
			t.Error("expected differing pointees to be flagged")
		}
	})

	t.Run("comparable result kinds", func(t *testing.T) {
		cases := []struct {
			v    any
			want bool
		}{
			{nil, false},
			{42, true},
			{[]byte("x"), true},
			{func() {}, false},
			{make(chan struct{}), false},
		}
		for _, tc := range cases {
			if got := comparableResult(tc.v); got != tc.want {
				t.Errorf("comparableResult(%T) = %v, want %v", tc.v, got, tc.want)
			}
		}
	})

	t.Run("first call fails", func(t *testing.T) {
		var slept time.Duration
		sampler := newTestSampler(&slept)
		_, err := sampler.MeasureColdVsHot(context.Background(), "broken",
			func() (any, error) { return nil, errBoom })
		if !errors.Is(err, eval.ErrOperationFailure) || !errors.Is(err, errBoom) {
			t.Errorf("expected operation failure wrapping the cause, got %v", err)
		}
	})

	t.Run("some hot calls fail", func(t *testing.T) {
		var slept time.Duration
		sampler := newTestSampler(&slept)
		n := 0
		op := func() (any, error) {
			n++
			if n%2 == 0 {
				return nil, errBoom
			}
			return nil, nil
		}
		profile, err := sampler.MeasureColdVsHot(context.Background(), "flaky", op, WithHotIterations(10))
		if err != nil {
			t.Fatal(err)
		}
		if profile.HotFailures != 5 || profile.Hot.Count != 5 {
			t.Errorf("expected 5 failures and 5 samples, got %d and %d", profile.HotFailures, profile.Hot.Count)
		}
		if len(profile.Warnings) != 1 {
			t.Errorf("expected a failure warning, got %v", profile.Warnings)
		}
	})

	t.Run("every hot call fails", func(t *testing.T) {
		var slept time.Duration
		sampler := newTestSampler(&slept)
		n := 0
		op := func() (any, error) {
			n++
			if n > 1 {
				return nil, errBoom
			}
			return nil, nil
		}
		_, err := sampler.MeasureColdVsHot(context.Background(), "op", op, WithHotIterations(3))
		var failure *eval.OperationFailureError
		if !errors.As(err, &failure) || failure.Attempts != 3 {
			t.Errorf("expected OperationFailureError with 3 attempts, got %v", err)
		}
	})

	t.Run("cancelled during settle", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewSampler().MeasureColdVsHot(ctx, "op", eval.Invocable(func() {}))
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}
