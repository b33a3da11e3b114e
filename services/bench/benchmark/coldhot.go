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
	"fmt"
	"log/slog"
	"reflect"
	"runtime"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianBench/services/bench/eval"
	"github.com/AleutianAI/AleutianBench/services/bench/stats"
)

// ColdHotProfile compares the first call of an operation with its steady
// state.
type ColdHotProfile struct {
	Name string `json:"name"`

	// FirstCallNs is the wall time of the very first call.
	FirstCallNs float64 `json:"first_call_ns"`

	// Hot describes the successful steady-state calls.
	Hot stats.DescriptiveReport `json:"hot"`

	// OverheadFactor is FirstCallNs / Hot.MedianNs. It is 1.0 with
	// OverheadUndefined set when the hot median is zero.
	OverheadFactor    float64 `json:"overhead_factor"`
	OverheadUndefined bool    `json:"overhead_undefined,omitempty"`

	HotIterations int `json:"hot_iterations"`
	HotFailures   int `json:"hot_failures"`

	// Consistent is false when a hot call returned a value different from
	// the first call's.
	Consistent bool     `json:"consistent"`
	Warnings   []string `json:"warnings,omitempty"`
}

// MeasureColdVsHot times the first call of fn separately from
// HotIterations subsequent calls.
//
// Description:
//
//	The first call is timed on its own, followed by SettleDelay, then
//	each hot call is timed individually with the collector suspended.
//	When the first call returns a non-nil value, every hot result is
//	compared with it using reflect.DeepEqual; a mismatch is logged and
//	recorded as a warning but does not fail the measurement. Funcs,
//	channels and unsafe pointers have no meaningful equality and skip
//	the check.
//
// Inputs:
//   - ctx: Cancels the settle delay and the hot loop. Must not be nil.
//   - name: The operation name.
//   - fn: The operation. Must not be nil.
//   - opts: Overrides applied to DefaultColdHotConfig.
//
// Outputs:
//   - *ColdHotProfile: Never nil on success.
//   - error: ErrInvalidConfiguration, *eval.OperationFailureError when the
//     first call or every hot call fails, or the context error.
//
// Example:
//
//	profile, err := sampler.MeasureColdVsHot(ctx, "load", loadFn, benchmark.WithHotIterations(500))
//	fmt.Printf("first call %.1fx slower\n", profile.OverheadFactor)
func (s *Sampler) MeasureColdVsHot(ctx context.Context, name string, fn eval.Func, opts ...ColdHotOption) (*ColdHotProfile, error) {
	if ctx == nil {
		return nil, errors.New("context must not be nil")
	}
	if fn == nil {
		return nil, eval.InvalidConfig("operation %q has no function", name)
	}

	config := DefaultColdHotConfig()
	for _, opt := range opts {
		opt(config)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "benchmark.Sampler.MeasureColdVsHot",
		trace.WithAttributes(
			attribute.String("benchmark.operation", name),
			attribute.Int("benchmark.hot_iterations", config.HotIterations),
		),
	)
	defer span.End()

	start := time.Now()
	first, err := fn()
	firstNs := float64(time.Since(start).Nanoseconds())
	if err != nil {
		failure := &eval.OperationFailureError{Operation: name, Attempts: 1, Cause: err}
		span.RecordError(failure)
		span.SetStatus(codes.Error, "first call failed")
		return nil, fmt.Errorf("cold call: %w", failure)
	}

	if err := s.sleep(ctx, config.SettleDelay); err != nil {
		return nil, fmt.Errorf("settle delay: %w", err)
	}

	profile := &ColdHotProfile{
		Name:          name,
		FirstCallNs:   firstNs,
		HotIterations: config.HotIterations,
		Consistent:    true,
	}

	hot, err := s.runHot(ctx, fn, first, config, profile)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "hot loop failed")
		return nil, err
	}

	profile.Hot, err = stats.DescribeValues(hot)
	if err != nil {
		return nil, fmt.Errorf("describing hot path: %w", err)
	}
	if profile.Hot.MedianNs > 0 {
		profile.OverheadFactor = firstNs / profile.Hot.MedianNs
	} else {
		profile.OverheadFactor, profile.OverheadUndefined = 1.0, true
	}

	span.SetAttributes(
		attribute.Float64("benchmark.first_call_ns", firstNs),
		attribute.Float64("benchmark.overhead_factor", profile.OverheadFactor),
		attribute.Bool("benchmark.consistent", profile.Consistent),
	)
	span.SetStatus(codes.Ok, "cold/hot measurement completed")
	return profile, nil
}

// runHot times each hot call and records failures and result mismatches
// on profile.
func (s *Sampler) runHot(ctx context.Context, fn eval.Func, first any, config *ColdHotConfig, profile *ColdHotProfile) ([]float64, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if config.DisableGC {
		defer suspendGC()()
	}

	check := comparableResult(first)
	hot := make([]float64, 0, config.HotIterations)
	var lastErr error
	mismatchLogged := false
	for i := 0; i < config.HotIterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := time.Now()
		result, err := fn()
		elapsed := time.Since(start)
		if err != nil {
			profile.HotFailures++
			lastErr = err
			continue
		}
		hot = append(hot, float64(elapsed.Nanoseconds()))

		if check && !reflect.DeepEqual(first, result) {
			profile.Consistent = false
			if !mismatchLogged {
				mismatchLogged = true
				msg := fmt.Sprintf("hot call %d returned a different result than the first call", i+1)
				profile.Warnings = append(profile.Warnings, msg)
				s.logger.Warn("inconsistent operation result",
					slog.String("operation", profile.Name),
					slog.Int("call", i+1),
				)
			}
		}
	}

	if len(hot) == 0 {
		return nil, &eval.OperationFailureError{
			Operation: profile.Name,
			Attempts:  config.HotIterations,
			Cause:     lastErr,
		}
	}
	if profile.HotFailures > 0 {
		profile.Warnings = append(profile.Warnings,
			fmt.Sprintf("%d of %d hot calls failed", profile.HotFailures, config.HotIterations))
	}
	return hot, nil
}

// comparableResult reports whether results equal to v can be checked
// with reflect.DeepEqual. DeepEqual reports any two non-nil funcs as
// unequal.
func comparableResult(v any) bool {
	if v == nil {
		return false
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return false
	}
	return true
}
