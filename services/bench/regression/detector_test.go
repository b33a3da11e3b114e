// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package regression

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianBench/services/bench/ab"
	"github.com/AleutianAI/AleutianBench/services/bench/eval"
)

func findingFor(t *testing.T, r *Result, op string) Finding {
	t.Helper()
	for _, f := range r.Findings {
		if f.Operation == op {
			return f
		}
	}
	t.Fatalf("no finding for %s", op)
	return Finding{}
}

func TestDetectorConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultDetectorConfig().Validate())

	for name, opt := range map[string]DetectorOption{
		"alpha":       WithDetectorAlpha(0),
		"threshold":   WithDetectorEffectThreshold(1.5),
		"min samples": WithDetectorMinSamples(1),
		"method":      WithDetectorCorrection("holm"),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewDetector(opt)
			assert.True(t, errors.Is(err, eval.ErrInvalidConfiguration))
		})
	}
}

func TestDetector_Detect(t *testing.T) {
	baseline := newReport(t, "base", epoch, map[string][]float64{
		"steady":  series(40, 100, 2),
		"slower":  series(40, 100, 2),
		"faster":  series(40, 200, 2),
		"tiny":    series(5, 100, 1),
		"dropped": series(40, 100, 1),
	})
	current := newReport(t, "cur", epoch.Add(time.Hour), map[string][]float64{
		"steady": series(40, 100, 2),
		"slower": series(40, 200, 2),
		"faster": series(40, 100, 2),
		"tiny":   series(5, 300, 1),
		"new":    series(40, 100, 1),
	})

	d, err := NewDetector()
	require.NoError(t, err)
	result, err := d.Detect(baseline, current)
	require.NoError(t, err)

	assert.Equal(t, "base", result.BaselineID)
	assert.Equal(t, "cur", result.CurrentID)
	assert.Len(t, result.Findings, 5, "one finding per current operation")
	assert.Equal(t, 1, result.Regressions)
	assert.Equal(t, 1, result.Improvements)
	assert.True(t, result.HasRegressions())
	assert.Equal(t, SeverityCritical, result.Worst)

	slower := findingFor(t, result, "slower")
	assert.Equal(t, StatusRegressed, slower.Status)
	assert.Equal(t, SeverityCritical, slower.Severity)
	assert.Equal(t, 1.0, slower.CliffDelta)
	assert.Equal(t, ab.EffectLarge, slower.Effect)
	assert.Less(t, slower.CorrectedPValue, 0.001)
	assert.InDelta(t, 209.0/109.0, slower.Ratio, 1e-9)

	faster := findingFor(t, result, "faster")
	assert.Equal(t, StatusImproved, faster.Status)
	assert.Equal(t, SeverityNone, faster.Severity)
	assert.Equal(t, -1.0, faster.CliffDelta)

	steady := findingFor(t, result, "steady")
	assert.Equal(t, StatusUnchanged, steady.Status)
	assert.Equal(t, 0.0, steady.CliffDelta)
	assert.Equal(t, 1.0, steady.Ratio)

	tiny := findingFor(t, result, "tiny")
	assert.Equal(t, StatusSkipped, tiny.Status)
	assert.Contains(t, tiny.Reason, "fewer than 10")

	added := findingFor(t, result, "new")
	assert.Equal(t, StatusSkipped, added.Status)
	assert.Equal(t, "no baseline samples", added.Reason)
}

func TestDetector_EffectGate(t *testing.T) {
	// A shift of one step in a ten-step ramp is significant with many
	// samples but only a small effect.
	baseline := newReport(t, "base", epoch, map[string][]float64{"op": series(400, 100, 10)})
	current := newReport(t, "cur", epoch.Add(time.Hour), map[string][]float64{"op": series(400, 110, 10)})

	gated, err := NewDetector(WithDetectorEffectThreshold(0.33))
	require.NoError(t, err)
	result, err := gated.Detect(baseline, current)
	require.NoError(t, err)
	assert.Equal(t, StatusUnchanged, result.Findings[0].Status, "small effect below the gate")

	open, err := NewDetector(WithDetectorEffectThreshold(0.05))
	require.NoError(t, err)
	result, err = open.Detect(baseline, current)
	require.NoError(t, err)
	assert.Equal(t, StatusRegressed, result.Findings[0].Status)
	assert.Equal(t, SeverityMinor, result.Findings[0].Severity)
}

func TestDetector_DetectLatest(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	d, err := NewDetector()
	require.NoError(t, err)

	current := newReport(t, "cur", epoch.Add(2*time.Hour), map[string][]float64{"op": series(40, 200, 1)})

	_, err = d.DetectLatest(ctx, store, current)
	assert.True(t, errors.Is(err, ErrNoBaseline))

	require.NoError(t, store.Save(ctx, newReport(t, "old", epoch, map[string][]float64{"op": series(40, 100, 1)})))
	require.NoError(t, store.Save(ctx, current))

	result, err := d.DetectLatest(ctx, store, current)
	require.NoError(t, err)
	assert.Equal(t, "old", result.BaselineID)
	assert.True(t, result.HasRegressions())

	_, err = d.Detect(nil, current)
	assert.True(t, errors.Is(err, eval.ErrEmptyInput))
}
