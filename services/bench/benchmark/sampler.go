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
	"math"
	"runtime"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianBench/services/bench/eval"
	"github.com/AleutianAI/AleutianBench/services/bench/stats"
)

const tracerName = "bench.benchmark"

// -----------------------------------------------------------------------------
// Measurement
// -----------------------------------------------------------------------------

// StopReason records why a sampling loop ended.
type StopReason string

const (
	// StopPrecisionMet means the median CI reached the target width.
	StopPrecisionMet StopReason = "precision_met"

	// StopTimeBudget means MaxTime elapsed first.
	StopTimeBudget StopReason = "time_budget"

	// StopMaxSamples means the sample cap was reached first.
	StopMaxSamples StopReason = "max_samples"

	// StopCancelled means the context was cancelled between batches.
	StopCancelled StopReason = "cancelled"
)

// Measurement is the outcome of one Measure call.
//
// Thread Safety: Safe for concurrent read access after creation.
type Measurement struct {
	// Name is the operation name.
	Name string `json:"name"`

	// Samples holds one per-call sample per successful batch, after
	// outlier trimming when it is enabled.
	Samples *stats.SampleSet `json:"-"`

	// IterationsPerSample is the batch size chosen by calibration.
	IterationsPerSample int `json:"iterations_per_sample"`

	// CalibrationNs is the median per-call calibration time.
	CalibrationNs float64 `json:"calibration_ns"`

	// Attempts counts timed batches, including failed ones.
	Attempts int `json:"attempts"`

	// Failures counts batches discarded because a call returned an error.
	Failures int `json:"failures"`

	// RelativeError is the last measured CI width / median. Zero with
	// RelativeErrorUndefined set when it was never finite. It is computed
	// by the stop rule on the untrimmed samples, before outlier removal.
	RelativeError          float64 `json:"relative_error"`
	RelativeErrorUndefined bool    `json:"relative_error_undefined,omitempty"`

	// PrecisionAchieved is true when RelativeError reached the target.
	// Like RelativeError it describes the untrimmed samples.
	PrecisionAchieved bool `json:"precision_achieved"`

	// TimedOut is true when the time budget ended sampling before the
	// precision target was met. The samples are still valid.
	TimedOut bool `json:"timed_out"`

	StopReason StopReason    `json:"stop_reason"`
	Elapsed    time.Duration `json:"elapsed_ns"`

	// OutliersRemoved counts samples trimmed by outlier removal, which
	// runs once sampling has stopped.
	OutliersRemoved int `json:"outliers_removed,omitempty"`

	// CPUTime is true when samples carry thread CPU time.
	CPUTime bool `json:"cpu_time"`
}

// -----------------------------------------------------------------------------
// Sampler
// -----------------------------------------------------------------------------

// Sampler drives adaptive measurement of operations.
//
// Description:
//
//	Sampler holds no per-run state: every Measure call owns its own
//	SampleSet. Calls are nonetheless meant to run one at a time, since
//	concurrent measurements on the same machine disturb each other.
//
// Thread Safety: Safe for concurrent use.
type Sampler struct {
	logger *slog.Logger
	sleep  func(context.Context, time.Duration) error
}

// NewSampler creates a sampler that logs to slog.Default().
func NewSampler() *Sampler {
	return &Sampler{
		logger: slog.Default(),
		sleep:  sleepContext,
	}
}

// SetLogger replaces the logger. Nil is ignored.
func (s *Sampler) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Measure samples fn until its median is known to the target precision.
//
// Description:
//
//	Calibration times CalibrationCalls individual calls; their median
//	success time sets the batch size. Operations faster than
//	BatchThreshold are timed in batches of ceil(BatchTarget / estimate)
//	calls and recorded per call. Sampling stops when at least MinSamples
//	samples exist and the bootstrap CI of the median is no wider than
//	TargetRelativeError times the median, or when MaxTime, MaxSamples or
//	ctx ends it. A time-budget stop is flagged TimedOut but still
//	returned.
//
//	A batch in which any call fails is discarded and counted. The run
//	fails when every calibration call fails. It also fails when the
//	first MinSamples timed batches all fail, even if calibration calls
//	succeeded: calibration calls are not kept as samples, so such a run
//	has nothing to report.
//
//	Outlier trimming, when enabled, runs after the stop rule. The
//	reported RelativeError and PrecisionAchieved refer to the samples
//	before trimming.
//
// Inputs:
//   - ctx: Checked between batches. Must not be nil.
//   - name: The operation name recorded on the samples.
//   - fn: The operation. Must not be nil.
//   - opts: Overrides applied to DefaultSamplingConfig.
//
// Outputs:
//   - *Measurement: Never nil on success.
//   - error: ErrInvalidConfiguration, *eval.OperationFailureError, or the
//     context error when cancelled before any sample was taken.
//
// Example:
//
//	m, err := sampler.Measure(ctx, "hash", eval.Invocable(func() { sha256.Sum256(buf) }))
func (s *Sampler) Measure(ctx context.Context, name string, fn eval.Func, opts ...SampleOption) (*Measurement, error) {
	if ctx == nil {
		return nil, errors.New("context must not be nil")
	}
	if fn == nil {
		return nil, eval.InvalidConfig("operation %q has no function", name)
	}

	config := DefaultSamplingConfig()
	for _, opt := range opts {
		opt(config)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "benchmark.Sampler.Measure",
		trace.WithAttributes(
			attribute.String("benchmark.operation", name),
			attribute.Float64("benchmark.target_relative_error", config.TargetRelativeError),
			attribute.Int("benchmark.min_samples", config.MinSamples),
		),
	)
	defer span.End()

	estimator, err := stats.NewEstimator(
		stats.WithConfidence(config.Confidence),
		stats.WithResamples(config.StopRuleResamples),
		stats.WithSeed(config.Seed),
	)
	if err != nil {
		return nil, err
	}

	estimate, err := calibrate(ctx, name, fn, config.CalibrationCalls)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "calibration failed")
		return nil, fmt.Errorf("calibrating %s: %w", name, err)
	}

	m := &Measurement{
		Name:                name,
		Samples:             stats.NewSampleSet(name),
		IterationsPerSample: batchSize(estimate, config),
		CalibrationNs:       estimate,
	}

	s.logger.Debug("calibrated operation",
		slog.String("operation", name),
		slog.Float64("estimate_ns", estimate),
		slog.Int("iterations_per_sample", m.IterationsPerSample),
	)

	if err := s.sample(ctx, fn, config, estimator, m); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sampling failed")
		return nil, fmt.Errorf("sampling %s: %w", name, err)
	}

	if config.RemoveOutliers {
		m.Samples, m.OutliersRemoved = m.Samples.RemoveOutliers(config.OutlierThreshold)
	}

	span.SetAttributes(
		attribute.Int("benchmark.samples", m.Samples.Len()),
		attribute.Int("benchmark.failures", m.Failures),
		attribute.String("benchmark.stop_reason", string(m.StopReason)),
		attribute.Bool("benchmark.precision_achieved", m.PrecisionAchieved),
	)
	span.SetStatus(codes.Ok, "measurement completed")

	level := slog.LevelDebug
	if m.TimedOut {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "measurement finished",
		slog.String("operation", name),
		slog.Int("samples", m.Samples.Len()),
		slog.Int("failures", m.Failures),
		slog.String("stop_reason", string(m.StopReason)),
		slog.Float64("relative_error", m.RelativeError),
		slog.Duration("elapsed", m.Elapsed),
	)
	return m, nil
}

// calibrate times calls individually and returns the median success time.
func calibrate(ctx context.Context, name string, fn eval.Func, calls int) (float64, error) {
	durations := make([]float64, 0, calls)
	var lastErr error
	attempts := 0
	for i := 0; i < calls; i++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		attempts++
		start := time.Now()
		_, err := fn()
		elapsed := time.Since(start)
		if err != nil {
			lastErr = err
			continue
		}
		durations = append(durations, float64(elapsed.Nanoseconds()))
	}
	if len(durations) == 0 {
		return 0, &eval.OperationFailureError{Operation: name, Attempts: attempts, Cause: lastErr}
	}
	return stats.Median(durations), nil
}

// batchSize returns the calls per sample for a per-call estimate.
func batchSize(estimateNs float64, config *SamplingConfig) int {
	if estimateNs >= float64(config.BatchThreshold.Nanoseconds()) {
		return 1
	}
	n := math.Ceil(float64(config.BatchTarget.Nanoseconds()) / math.Max(estimateNs, 1))
	if n > math.MaxInt32 {
		return math.MaxInt32
	}
	return max(1, int(n))
}

// sample runs the sampling loop with the collector suspended.
func (s *Sampler) sample(ctx context.Context, fn eval.Func, config *SamplingConfig, estimator *stats.Estimator, m *Measurement) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if config.DisableGC {
		defer suspendGC()()
	}

	relErr := math.Inf(1)
	nextCheck := config.MinSamples
	var lastErr error
	start := time.Now()
	defer func() {
		m.Elapsed = time.Since(start)
		if math.IsInf(relErr, 0) || math.IsNaN(relErr) {
			m.RelativeError, m.RelativeErrorUndefined = 0, true
		} else {
			m.RelativeError = relErr
		}
	}()

	for {
		if ctx.Err() != nil {
			m.StopReason = StopCancelled
			if m.Samples.Len() == 0 {
				return ctx.Err()
			}
			return nil
		}

		sample, err := timeBatch(fn, m.IterationsPerSample)
		m.Attempts++
		if err != nil {
			m.Failures++
			lastErr = err
			if m.Samples.Len() == 0 && m.Failures >= config.MinSamples {
				return &eval.OperationFailureError{Operation: m.Name, Attempts: m.Attempts, Cause: lastErr}
			}
		} else {
			m.Samples.Add(sample)
			m.CPUTime = sample.HasCPU
		}

		n := m.Samples.Len()
		if n >= nextCheck {
			relErr = relativeError(estimator, m.Samples.Wall())
			nextCheck = n + max(1, n/10)
			if relErr <= config.TargetRelativeError {
				m.PrecisionAchieved = true
				m.StopReason = StopPrecisionMet
				return nil
			}
		}

		if config.MaxSamples > 0 && n >= config.MaxSamples {
			m.StopReason = StopMaxSamples
			return nil
		}
		if time.Since(start) > config.MaxTime {
			m.StopReason = StopTimeBudget
			m.TimedOut = true
			if n == 0 {
				return &eval.OperationFailureError{Operation: m.Name, Attempts: m.Attempts, Cause: lastErr}
			}
			return nil
		}
	}
}

// timeBatch times iterations back-to-back calls of fn and returns the
// per-call sample. The batch fails on the first error.
func timeBatch(fn eval.Func, iterations int) (stats.Sample, error) {
	cpuStart, cpuOK := threadCPUTime()
	start := time.Now()
	for i := 0; i < iterations; i++ {
		if _, err := fn(); err != nil {
			return stats.Sample{}, err
		}
	}
	wall := time.Since(start)
	cpuEnd, cpuEndOK := threadCPUTime()

	sample := stats.Sample{
		WallNs:     float64(wall.Nanoseconds()) / float64(iterations),
		Iterations: iterations,
	}
	if cpuOK && cpuEndOK {
		sample.CPUNs = float64(cpuEnd-cpuStart) / float64(iterations)
		sample.HasCPU = true
	}
	return sample, nil
}

// relativeError returns the bootstrap median CI width over the median,
// or +Inf when fewer than 2 values exist or the median is zero.
func relativeError(estimator *stats.Estimator, wall []float64) float64 {
	if len(wall) < 2 {
		return math.Inf(1)
	}
	ci, err := estimator.ConfidenceInterval(wall)
	if err != nil {
		return math.Inf(1)
	}
	return ci.RelativeWidth()
}

// suspendGC disables the garbage collector and returns a function that
// restores the previous setting.
func suspendGC() func() {
	previous := debug.SetGCPercent(-1)
	return func() { debug.SetGCPercent(previous) }
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
