// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine runs a registry of operations end to end and assembles
// the benchmark report.
//
// The engine measures each registered operation in turn (or ingests its
// recorded durations), describes every sample set, computes the corrected
// pairwise comparison matrix and, when configured, publishes the report to
// telemetry and saves it to the report history.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianBench/services/bench/ab"
	"github.com/AleutianAI/AleutianBench/services/bench/benchmark"
	"github.com/AleutianAI/AleutianBench/services/bench/eval"
	"github.com/AleutianAI/AleutianBench/services/bench/regression"
	"github.com/AleutianAI/AleutianBench/services/bench/report"
	"github.com/AleutianAI/AleutianBench/services/bench/stats"
	"github.com/AleutianAI/AleutianBench/services/bench/telemetry"
)

const tracerName = "bench.engine"

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config configures an Engine.
type Config struct {
	// SampleOptions are applied to every Sampler.Measure call.
	SampleOptions []benchmark.SampleOption

	// CompareOptions configure the pairwise comparator.
	CompareOptions []ab.CompareOption

	// BootstrapOptions configure the per-operation median interval.
	BootstrapOptions []stats.BootstrapOption

	// Correction is the multiple-comparison method. Default: Bonferroni.
	Correction ab.Method

	// ColdHot enables a cold/hot profile for measured operations.
	ColdHot        bool
	ColdHotOptions []benchmark.ColdHotOption

	// KeepSamples stores raw wall-clock samples in the report. Required
	// for regression detection against the report later.
	KeepSamples bool

	// Labels are copied onto every report.
	Labels map[string]string

	Sink  telemetry.Sink
	Store regression.Store
}

// DefaultConfig returns the defaults.
func DefaultConfig() *Config {
	return &Config{
		Correction:  ab.Bonferroni,
		KeepSamples: true,
	}
}

// Option modifies a Config.
type Option func(*Config)

// WithSampleOptions appends sampling options.
func WithSampleOptions(opts ...benchmark.SampleOption) Option {
	return func(c *Config) { c.SampleOptions = append(c.SampleOptions, opts...) }
}

// WithCompareOptions appends comparator options.
func WithCompareOptions(opts ...ab.CompareOption) Option {
	return func(c *Config) { c.CompareOptions = append(c.CompareOptions, opts...) }
}

// WithBootstrapOptions appends options for the median interval estimator.
func WithBootstrapOptions(opts ...stats.BootstrapOption) Option {
	return func(c *Config) { c.BootstrapOptions = append(c.BootstrapOptions, opts...) }
}

// WithCorrection sets the multiple-comparison method.
func WithCorrection(method ab.Method) Option {
	return func(c *Config) { c.Correction = method }
}

// WithColdHot enables cold/hot profiling of measured operations.
func WithColdHot(opts ...benchmark.ColdHotOption) Option {
	return func(c *Config) {
		c.ColdHot = true
		c.ColdHotOptions = append(c.ColdHotOptions, opts...)
	}
}

// WithKeepSamples controls whether raw samples are kept in the report.
func WithKeepSamples(keep bool) Option {
	return func(c *Config) { c.KeepSamples = keep }
}

// WithLabels merges labels into the report labels.
func WithLabels(labels map[string]string) Option {
	return func(c *Config) {
		if c.Labels == nil {
			c.Labels = make(map[string]string, len(labels))
		}
		maps.Copy(c.Labels, labels)
	}
}

// WithSink publishes every report to sink. The engine does not close it.
func WithSink(sink telemetry.Sink) Option {
	return func(c *Config) { c.Sink = sink }
}

// WithStore saves every report to store. The engine does not close it.
func WithStore(store regression.Store) Option {
	return func(c *Config) { c.Store = store }
}

// -----------------------------------------------------------------------------
// Engine
// -----------------------------------------------------------------------------

// Engine turns a registry of operations into a report.
//
// Description:
//
//	Operations are measured strictly one at a time, in sorted-name order.
//	Derived statistics are computed fresh for each run; the engine keeps
//	no state between runs beyond its configuration.
//
// Thread Safety: Safe for concurrent use, but concurrent runs disturb
// each other's timings and should be avoided.
type Engine struct {
	registry   *eval.Registry
	config     *Config
	sampler    *benchmark.Sampler
	comparator *ab.Comparator
	corrector  *ab.Corrector
	estimator  *stats.Estimator
	logger     *slog.Logger
}

// New creates an engine over registry.
//
// Inputs:
//   - registry: The operations to run. Must not be nil. Analyze does not
//     read it.
//   - opts: Overrides applied to DefaultConfig.
//
// Outputs:
//   - *Engine: The engine.
//   - error: ErrInvalidConfiguration for a nil registry or a bad option.
//
// Example:
//
//	registry := eval.NewRegistry()
//	registry.MustRegister(eval.Operation{Name: "sort", Func: eval.Invocable(sortFn)})
//	e, err := engine.New(registry, engine.WithCorrection(ab.BenjaminiHochberg))
func New(registry *eval.Registry, opts ...Option) (*Engine, error) {
	if registry == nil {
		return nil, eval.InvalidConfig("engine requires a registry")
	}

	config := DefaultConfig()
	for _, opt := range opts {
		opt(config)
	}

	comparator, err := ab.NewComparator(config.CompareOptions...)
	if err != nil {
		return nil, fmt.Errorf("creating comparator: %w", err)
	}
	corrector, err := ab.NewCorrector(comparator, config.Correction)
	if err != nil {
		return nil, fmt.Errorf("creating corrector: %w", err)
	}
	estimator, err := stats.NewEstimator(config.BootstrapOptions...)
	if err != nil {
		return nil, fmt.Errorf("creating estimator: %w", err)
	}

	return &Engine{
		registry:   registry,
		config:     config,
		sampler:    benchmark.NewSampler(),
		comparator: comparator,
		corrector:  corrector,
		estimator:  estimator,
		logger:     slog.Default(),
	}, nil
}

// SetLogger replaces the logger of the engine and its sampler and
// corrector. Nil is ignored.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	e.logger = logger
	e.sampler.SetLogger(logger)
	e.corrector.SetLogger(logger)
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	return *e.config
}

// Comparator returns the comparator used for the comparison matrix.
func (e *Engine) Comparator() *ab.Comparator {
	return e.comparator
}

// entry is one operation's samples on their way into the report.
type entry struct {
	set         *stats.SampleSet
	source      report.Source
	measurement *benchmark.Measurement
}

// Run runs every registered operation. See RunOperations.
func (e *Engine) Run(ctx context.Context) (*report.Report, error) {
	return e.RunOperations(ctx, e.registry.List()...)
}

// RunOperations measures or ingests the named operations and builds the
// report.
//
// Description:
//
//	Recorded operations are ingested as-is. Function operations are
//	measured with the Sampler and, when cold/hot profiling is enabled,
//	profiled afterwards. The first operation failure aborts the run: it
//	is recorded to the sink as an error and returned.
//
// Inputs:
//   - ctx: Checked between operations. Must not be nil.
//   - names: Registered operation names. At least one.
//
// Outputs:
//   - *report.Report: A finalized report. Never nil on success.
//   - error: ErrEmptyInput, ErrNotFound, *eval.OperationFailureError,
//     ErrInsufficientData from the comparison matrix, the context error,
//     or a store failure.
//
// Thread Safety: Safe for concurrent use.
func (e *Engine) RunOperations(ctx context.Context, names ...string) (*report.Report, error) {
	if ctx == nil {
		return nil, errors.New("context must not be nil")
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "engine.Engine.Run",
		trace.WithAttributes(
			attribute.Int("engine.operations", len(names)),
			attribute.String("engine.correction", string(e.config.Correction)),
			attribute.Bool("engine.cold_hot", e.config.ColdHot),
		),
	)
	defer span.End()

	if len(names) == 0 {
		span.SetStatus(codes.Error, "no operations")
		return nil, fmt.Errorf("run: %w", eval.ErrEmptyInput)
	}

	r := e.newReport()
	entries := make([]entry, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "cancelled")
			return nil, fmt.Errorf("run cancelled before %s: %w", name, err)
		}

		ent, err := e.collect(ctx, r, name)
		if err != nil {
			e.recordError(ctx, r.ID, name, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "operation failed")
			return nil, err
		}
		entries = append(entries, ent)
	}

	if err := e.build(ctx, r, entries); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "building report failed")
		return nil, err
	}

	span.SetAttributes(
		attribute.String("engine.report_id", r.ID),
		attribute.Int("engine.comparisons", len(r.Comparisons)),
		attribute.Bool("engine.precision_achieved", r.PrecisionAchieved),
		attribute.Bool("engine.sufficient_samples", r.SufficientSamples),
	)
	span.SetStatus(codes.Ok, "run completed")
	return r, nil
}

// Analyze builds a report from already-collected sample sets.
//
// Description:
//
//	Every set is treated as recorded. No operation is invoked and the
//	registry is not consulted.
//
// Inputs:
//   - ctx: Must not be nil.
//   - sets: Non-empty sets with distinct names.
//
// Outputs:
//   - *report.Report: A finalized report.
//   - error: ErrEmptyInput, ErrInvalidConfiguration for duplicate names,
//     ErrInsufficientData from the comparison matrix, or a store failure.
func (e *Engine) Analyze(ctx context.Context, sets []*stats.SampleSet) (*report.Report, error) {
	if ctx == nil {
		return nil, errors.New("context must not be nil")
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "engine.Engine.Analyze",
		trace.WithAttributes(attribute.Int("engine.operations", len(sets))),
	)
	defer span.End()

	if len(sets) == 0 {
		span.SetStatus(codes.Error, "no sample sets")
		return nil, fmt.Errorf("analyze: %w", eval.ErrEmptyInput)
	}

	seen := make(map[string]struct{}, len(sets))
	entries := make([]entry, 0, len(sets))
	for _, set := range sets {
		if set == nil || set.Len() == 0 {
			return nil, fmt.Errorf("analyze: %w", eval.ErrEmptyInput)
		}
		if _, dup := seen[set.Name()]; dup {
			return nil, eval.InvalidConfig("duplicate operation name %q", set.Name())
		}
		seen[set.Name()] = struct{}{}
		entries = append(entries, entry{set: set, source: report.SourceRecorded})
	}

	r := e.newReport()
	if err := e.build(ctx, r, entries); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "building report failed")
		return nil, err
	}

	span.SetAttributes(attribute.String("engine.report_id", r.ID))
	span.SetStatus(codes.Ok, "analysis completed")
	return r, nil
}

func (e *Engine) newReport() *report.Report {
	r := report.New()
	if len(e.config.Labels) > 0 {
		r.Labels = maps.Clone(e.config.Labels)
	}
	return r
}

// collect produces the samples of one registered operation.
func (e *Engine) collect(ctx context.Context, r *report.Report, name string) (entry, error) {
	op, ok := e.registry.Get(name)
	if !ok {
		return entry{}, fmt.Errorf("getting operation %s: %w", name, eval.ErrNotFound)
	}

	if op.IsRecorded() {
		set, err := stats.FromDurations(name, op.Recorded)
		if err != nil {
			return entry{}, fmt.Errorf("ingesting %s: %w", name, err)
		}
		e.logger.Debug("ingested recorded operation",
			slog.String("operation", name),
			slog.Int("samples", set.Len()),
		)
		return entry{set: set, source: report.SourceRecorded}, nil
	}

	m, err := e.sampler.Measure(ctx, name, op.Func, e.config.SampleOptions...)
	if err != nil {
		return entry{}, err
	}

	if e.config.ColdHot {
		profile, err := e.sampler.MeasureColdVsHot(ctx, name, op.Func, e.config.ColdHotOptions...)
		if err != nil {
			return entry{}, fmt.Errorf("cold/hot %s: %w", name, err)
		}
		r.AddColdHot(profile)
	}

	return entry{set: m.Samples, source: report.SourceMeasured, measurement: m}, nil
}

// build describes every entry, computes the comparison matrix and hands
// the finalized report to the sink and store.
func (e *Engine) build(ctx context.Context, r *report.Report, entries []entry) error {
	minSamples := e.comparator.Config().MinSamples
	sets := make([]*stats.SampleSet, 0, len(entries))

	for _, ent := range entries {
		name := ent.set.Name()
		desc, err := stats.Describe(ent.set)
		if err != nil {
			return fmt.Errorf("describing %s: %w", name, err)
		}
		ci, err := e.estimator.ConfidenceInterval(ent.set.Wall())
		if err != nil {
			return fmt.Errorf("median interval of %s: %w", name, err)
		}
		r.AddOperation(name, report.OperationSummary{
			DescriptiveReport: desc,
			MedianCI:          ci,
			Source:            ent.source,
			SufficientSamples: ent.set.Len() >= minSamples,
			Measurement:       ent.measurement,
		})
		if e.config.KeepSamples {
			r.AddSamples(ent.set)
		}
		sets = append(sets, ent.set)
	}

	if len(sets) > 1 {
		correction, err := e.corrector.Correct(sets)
		if err != nil {
			return fmt.Errorf("comparing operations: %w", err)
		}
		r.SetCorrection(correction)
	}
	r.Finalize()

	e.logger.Info("benchmark report built",
		slog.String("report_id", r.ID),
		slog.Int("operations", len(r.Operations)),
		slog.Int("comparisons", len(r.Comparisons)),
		slog.Bool("precision_achieved", r.PrecisionAchieved),
		slog.Bool("sufficient_samples", r.SufficientSamples),
	)

	e.publish(ctx, r)

	if e.config.Store != nil {
		if err := e.config.Store.Save(ctx, r); err != nil {
			return fmt.Errorf("saving report %s: %w", r.ID, err)
		}
	}
	return nil
}

// publish sends r to the sink. Telemetry failures are logged, never
// returned.
func (e *Engine) publish(ctx context.Context, r *report.Report) {
	if e.config.Sink == nil {
		return
	}
	if err := telemetry.Publish(ctx, e.config.Sink, r); err != nil {
		e.logger.Warn("publishing report failed",
			slog.String("report_id", r.ID),
			slog.String("error", err.Error()),
		)
	}
	if err := e.config.Sink.Flush(ctx); err != nil {
		e.logger.Warn("flushing telemetry failed",
			slog.String("report_id", r.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) recordError(ctx context.Context, runID, name string, err error) {
	e.logger.Error("operation failed",
		slog.String("operation", name),
		slog.String("error", err.Error()),
	)
	if e.config.Sink == nil {
		return
	}
	data := &telemetry.ErrorData{
		RunID:     runID,
		Timestamp: time.Now(),
		Operation: name,
		ErrorType: ErrorType(err),
		Message:   err.Error(),
		Labels:    e.config.Labels,
	}
	// The run context may already be done; the error is still worth
	// recording.
	if sinkErr := e.config.Sink.RecordError(context.WithoutCancel(ctx), data); sinkErr != nil {
		e.logger.Warn("recording error telemetry failed", slog.String("error", sinkErr.Error()))
	}
}

// ErrorType classifies err for telemetry labels.
func ErrorType(err error) string {
	switch {
	case errors.Is(err, eval.ErrOperationFailure):
		return "operation_failure"
	case errors.Is(err, eval.ErrInvalidConfiguration):
		return "invalid_configuration"
	case errors.Is(err, eval.ErrInsufficientData):
		return "insufficient_data"
	case errors.Is(err, eval.ErrEmptyInput):
		return "empty_input"
	case errors.Is(err, eval.ErrNotFound):
		return "not_found"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "unknown"
	}
}
