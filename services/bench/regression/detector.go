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
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AleutianBench/services/bench/ab"
	"github.com/AleutianAI/AleutianBench/services/bench/eval"
	"github.com/AleutianAI/AleutianBench/services/bench/report"
	"github.com/AleutianAI/AleutianBench/services/bench/stats"
)

// ErrNoBaseline is returned when the store holds no report to compare to.
var ErrNoBaseline = errors.New("no baseline report")

// Status is the outcome for one operation.
type Status string

const (
	StatusRegressed Status = "regressed"
	StatusImproved  Status = "improved"
	StatusUnchanged Status = "unchanged"

	// StatusSkipped is used when either side lacks raw samples or has
	// fewer than MinSamples of them.
	StatusSkipped Status = "skipped"
)

// Severity grades a regression by its effect size.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityMinor    Severity = "minor"
	SeverityMajor    Severity = "major"
	SeverityCritical Severity = "critical"
)

// severityFor maps the Cliff's delta bucket of a regression to a severity.
func severityFor(effect ab.EffectSize) Severity {
	switch effect {
	case ab.EffectLarge:
		return SeverityCritical
	case ab.EffectMedium:
		return SeverityMajor
	case ab.EffectSmall:
		return SeverityMinor
	default:
		return SeverityNone
	}
}

// Finding is the regression verdict for one operation.
type Finding struct {
	Operation string `json:"operation"`
	Status    Status `json:"status"`

	Severity Severity `json:"severity"`

	// Reason explains a skipped operation.
	Reason string `json:"reason,omitempty"`

	BaselineCount    int     `json:"baseline_count"`
	CurrentCount     int     `json:"current_count"`
	BaselineMedianNs float64 `json:"baseline_median_ns"`
	CurrentMedianNs  float64 `json:"current_median_ns"`

	// Ratio is current median / baseline median. 1.0 when the baseline
	// median is zero.
	Ratio float64 `json:"ratio"`

	// CliffDelta is positive when the current run is slower.
	CliffDelta float64       `json:"cliff_delta"`
	Effect     ab.EffectSize `json:"effect_size"`

	// PValue is the one-sided p-value in the direction of the change,
	// before correction across operations.
	PValue          float64 `json:"p_value"`
	CorrectedPValue float64 `json:"corrected_p_value"`
}

// Result is the outcome of comparing two reports.
type Result struct {
	BaselineID string    `json:"baseline_id"`
	CurrentID  string    `json:"current_id"`
	Findings   []Finding `json:"findings"`

	Regressions  int `json:"regressions"`
	Improvements int `json:"improvements"`

	// Worst is the highest severity among regressions.
	Worst Severity `json:"worst"`
}

// HasRegressions reports whether any operation regressed.
func (r *Result) HasRegressions() bool {
	return r.Regressions > 0
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// DetectorConfig configures a Detector.
type DetectorConfig struct {
	// Alpha is the significance level for the one-sided tests.
	// Default: 0.05.
	Alpha float64

	// EffectThreshold is the minimum |delta| for a change to count.
	// Default: 0.147 (the small-effect boundary).
	EffectThreshold float64

	// MinSamples is the per-side sample count below which an operation
	// is skipped. Default: 10.
	MinSamples int

	// Correction adjusts p-values across the compared operations.
	// Default: Benjamini-Hochberg.
	Correction ab.Method
}

// DefaultDetectorConfig returns the defaults.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		Alpha:           0.05,
		EffectThreshold: 0.147,
		MinSamples:      10,
		Correction:      ab.BenjaminiHochberg,
	}
}

// Validate checks the configuration.
func (c DetectorConfig) Validate() error {
	if !(c.Alpha > 0 && c.Alpha < 1) {
		return eval.InvalidConfig("alpha must be in (0,1), got %v", c.Alpha)
	}
	if !(c.EffectThreshold >= 0 && c.EffectThreshold <= 1) {
		return eval.InvalidConfig("effect threshold must be in [0,1], got %v", c.EffectThreshold)
	}
	if c.MinSamples < 2 {
		return eval.InvalidConfig("min samples must be at least 2, got %d", c.MinSamples)
	}
	if _, err := ab.ParseMethod(string(c.Correction)); err != nil {
		return err
	}
	return nil
}

// DetectorOption modifies a DetectorConfig.
type DetectorOption func(*DetectorConfig)

// WithDetectorAlpha sets the significance level.
func WithDetectorAlpha(alpha float64) DetectorOption {
	return func(c *DetectorConfig) { c.Alpha = alpha }
}

// WithDetectorEffectThreshold sets the minimum |delta|.
func WithDetectorEffectThreshold(threshold float64) DetectorOption {
	return func(c *DetectorConfig) { c.EffectThreshold = threshold }
}

// WithDetectorMinSamples sets the per-side minimum.
func WithDetectorMinSamples(n int) DetectorOption {
	return func(c *DetectorConfig) { c.MinSamples = n }
}

// WithDetectorCorrection sets the correction method.
func WithDetectorCorrection(method ab.Method) DetectorOption {
	return func(c *DetectorConfig) { c.Correction = method }
}

// -----------------------------------------------------------------------------
// Detector
// -----------------------------------------------------------------------------

// Detector compares benchmark runs.
//
// Description:
//
//	For every operation present in both reports with raw samples, the
//	current samples are tested against the baseline with a one-sided
//	rank-sum test in each direction. P-values are corrected across
//	operations. A regression needs a corrected p-value below Alpha and a
//	Cliff's delta of at least EffectThreshold toward slower; improvements
//	are symmetric.
//
// Thread Safety: Safe for concurrent use.
type Detector struct {
	config DetectorConfig
	logger *slog.Logger
}

// NewDetector creates a detector from the defaults plus opts.
func NewDetector(opts ...DetectorOption) (*Detector, error) {
	config := DefaultDetectorConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Detector{config: config, logger: slog.Default()}, nil
}

// SetLogger sets the logger. Nil is ignored.
func (d *Detector) SetLogger(logger *slog.Logger) {
	if logger != nil {
		d.logger = logger
	}
}

// Config returns the detector configuration.
func (d *Detector) Config() DetectorConfig {
	return d.config
}

// pending is a tested operation awaiting correction.
type pending struct {
	index      int
	pSlower    float64
	pFaster    float64
	slowerSide bool
}

// Detect compares current against baseline.
//
// Inputs:
//   - baseline, current: Reports with raw samples. Must not be nil.
//
// Outputs:
//   - *Result: Findings in current's sorted operation order.
//   - error: ErrEmptyInput for nil reports.
func (d *Detector) Detect(baseline, current *report.Report) (*Result, error) {
	if baseline == nil || current == nil {
		return nil, fmt.Errorf("detect: %w", eval.ErrEmptyInput)
	}

	result := &Result{BaselineID: baseline.ID, CurrentID: current.ID, Worst: SeverityNone}
	var tested []pending

	for _, name := range current.OperationNames() {
		finding := Finding{Operation: name, Status: StatusSkipped, Severity: SeverityNone, Ratio: 1}
		base, okBase := baseline.SampleSet(name)
		cur, okCur := current.SampleSet(name)

		switch {
		case !okBase:
			finding.Reason = "no baseline samples"
		case !okCur:
			finding.Reason = "no current samples"
		case base.Len() < d.config.MinSamples || cur.Len() < d.config.MinSamples:
			finding.BaselineCount, finding.CurrentCount = base.Len(), cur.Len()
			finding.Reason = fmt.Sprintf("fewer than %d samples", d.config.MinSamples)
		default:
			p, err := d.test(&finding, base, cur)
			if err != nil {
				return nil, fmt.Errorf("detect %s: %w", name, err)
			}
			p.index = len(result.Findings)
			tested = append(tested, p)
		}
		result.Findings = append(result.Findings, finding)
	}

	d.classify(result, tested)

	d.logger.Debug("regression check complete",
		slog.String("baseline", baseline.ID),
		slog.String("current", current.ID),
		slog.Int("tested", len(tested)),
		slog.Int("regressions", result.Regressions),
		slog.Int("improvements", result.Improvements))

	return result, nil
}

func (d *Detector) test(f *Finding, base, cur *stats.SampleSet) (pending, error) {
	b, c := base.Wall(), cur.Wall()
	slower, err := ab.MannWhitneyU(c, b, ab.Greater)
	if err != nil {
		return pending{}, err
	}
	faster, err := ab.MannWhitneyU(c, b, ab.Less)
	if err != nil {
		return pending{}, err
	}

	f.BaselineCount, f.CurrentCount = len(b), len(c)
	f.BaselineMedianNs, f.CurrentMedianNs = stats.Median(b), stats.Median(c)
	if f.BaselineMedianNs > 0 {
		f.Ratio = f.CurrentMedianNs / f.BaselineMedianNs
	}
	f.CliffDelta = slower.Delta
	f.Effect = ab.CategorizeDelta(slower.Delta)
	f.Status = StatusUnchanged

	return pending{pSlower: slower.PValue, pFaster: faster.PValue, slowerSide: slower.Delta >= 0}, nil
}

// classify applies the correction and sets status and severity.
func (d *Detector) classify(result *Result, tested []pending) {
	if len(tested) == 0 {
		return
	}
	pSlower := make([]float64, len(tested))
	pFaster := make([]float64, len(tested))
	for i, p := range tested {
		pSlower[i], pFaster[i] = p.pSlower, p.pFaster
	}
	adjSlower := ab.AdjustPValues(d.config.Correction, pSlower)
	adjFaster := ab.AdjustPValues(d.config.Correction, pFaster)

	for i, p := range tested {
		f := &result.Findings[p.index]
		if p.slowerSide {
			f.PValue, f.CorrectedPValue = p.pSlower, adjSlower[i]
		} else {
			f.PValue, f.CorrectedPValue = p.pFaster, adjFaster[i]
		}

		switch {
		case adjSlower[i] < d.config.Alpha && f.CliffDelta >= d.config.EffectThreshold:
			f.Status = StatusRegressed
			f.Severity = severityFor(f.Effect)
			if f.Severity == SeverityNone {
				f.Severity = SeverityMinor
			}
			result.Regressions++
			if rank(f.Severity) > rank(result.Worst) {
				result.Worst = f.Severity
			}
		case adjFaster[i] < d.config.Alpha && -f.CliffDelta >= d.config.EffectThreshold:
			f.Status = StatusImproved
			result.Improvements++
		}
	}
}

func rank(s Severity) int {
	switch s {
	case SeverityMinor:
		return 1
	case SeverityMajor:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 0
	}
}

// DetectLatest compares current against the newest stored report other
// than current itself.
//
// Outputs:
//   - *Result: The comparison.
//   - error: ErrNoBaseline when the store has no other report.
func (d *Detector) DetectLatest(ctx context.Context, store Store, current *report.Report) (*Result, error) {
	if current == nil {
		return nil, fmt.Errorf("detect: %w", eval.ErrEmptyInput)
	}
	entries, err := store.List(ctx, 2)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	for _, e := range entries {
		if e.ID == current.ID {
			continue
		}
		baseline, err := store.Get(ctx, e.ID)
		if err != nil {
			return nil, fmt.Errorf("load baseline %s: %w", e.ID, err)
		}
		return d.Detect(baseline, current)
	}
	return nil, ErrNoBaseline
}
