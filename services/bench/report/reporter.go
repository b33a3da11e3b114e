// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package report

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/AleutianAI/AleutianBench/pkg/ux"
	"github.com/AleutianAI/AleutianBench/services/bench/ab"
)

// Reporter renders a report.
type Reporter interface {
	Report(r *Report) error
}

// -----------------------------------------------------------------------------
// JSON Reporter
// -----------------------------------------------------------------------------

// JSONReporter writes reports as indented JSON.
type JSONReporter struct {
	out io.Writer
}

// NewJSONReporter creates a JSON reporter writing to w.
func NewJSONReporter(w io.Writer) *JSONReporter {
	return &JSONReporter{out: w}
}

// Report implements Reporter.
func (j *JSONReporter) Report(r *Report) error {
	return Encode(j.out, r)
}

// -----------------------------------------------------------------------------
// Console Reporter
// -----------------------------------------------------------------------------

// ConsoleReporter writes a human-readable summary. Output is styled only
// when the destination is a terminal.
type ConsoleReporter struct {
	printer *ux.Printer
	verbose bool
}

// NewConsoleReporter creates a console reporter writing to w. Verbose
// output adds the full percentile and moment breakdown per operation.
func NewConsoleReporter(w io.Writer, verbose bool) *ConsoleReporter {
	return &ConsoleReporter{printer: ux.NewPrinter(w), verbose: verbose}
}

// Report implements Reporter.
func (c *ConsoleReporter) Report(r *Report) error {
	p := c.printer
	p.Title(fmt.Sprintf("Benchmark Report %s", r.ID))
	p.Muted(r.CreatedAt.Format(time.RFC3339))

	c.operations(r)
	c.comparisons(r)
	c.coldHot(r)

	p.Section("Status")
	if r.PrecisionAchieved {
		p.Success("precision target met for every operation")
	} else {
		p.Warning("precision target not met; results are less certain than requested")
	}
	if r.SufficientSamples {
		p.Success("every operation has enough samples")
	} else {
		p.Warning("some operations have fewer samples than the comparison minimum")
	}
	return p.Err()
}

func (c *ConsoleReporter) operations(r *Report) {
	p := c.printer
	p.Section("Operations")

	rows := make([][]string, 0, len(r.Operations))
	for _, name := range r.OperationNames() {
		op := r.Operations[name]
		ci := fmt.Sprintf("[%s, %s]", FormatNs(op.MedianCI.Lower), FormatNs(op.MedianCI.Upper))
		rows = append(rows, []string{
			name,
			fmt.Sprintf("%d", op.Count),
			FormatNs(op.MedianNs),
			ci,
			FormatNs(op.MADNs),
			string(op.Source),
		})
	}
	p.Table([]string{"operation", "n", "median", "95% CI", "MAD", "source"}, rows)

	if !c.verbose {
		return
	}
	for _, name := range r.OperationNames() {
		op := r.Operations[name]
		p.Printf("\n  %s\n", p.Style(ux.Styles.Bold, name))
		p.Info(fmt.Sprintf("Mean: %s  StdDev: %s  CV: %.3f", FormatNs(op.MeanNs), FormatNs(op.StdDevNs), op.CV))
		p.Info(fmt.Sprintf("Min: %s  Q1: %s  Q3: %s  Max: %s",
			FormatNs(op.MinNs), FormatNs(op.Q1Ns), FormatNs(op.Q3Ns), FormatNs(op.MaxNs)))
		p.Info(fmt.Sprintf("P90: %s  P95: %s  P99: %s", FormatNs(op.P90Ns), FormatNs(op.P95Ns), FormatNs(op.P99Ns)))
		p.Info(fmt.Sprintf("Skewness: %.3f  Kurtosis: %.3f", op.Skewness, op.Kurtosis))
		if op.HasCPU {
			p.Info(fmt.Sprintf("CPU median: %s", FormatNs(op.CPUMedianNs)))
		}
		if m := op.Measurement; m != nil {
			p.Info(fmt.Sprintf("Batch: %d  Attempts: %d  Failures: %d  Stop: %s",
				m.IterationsPerSample, m.Attempts, m.Failures, m.StopReason))
		}
	}
}

func (c *ConsoleReporter) comparisons(r *Report) {
	if len(r.Comparisons) == 0 {
		return
	}
	p := c.printer
	header := "Comparisons"
	if r.Correction != nil {
		header = fmt.Sprintf("Comparisons (%s, %d of %d significant)",
			r.Correction.Method, r.Correction.SignificantComparisons, r.Correction.NumComparisons)
	}
	p.Section(header)

	for _, cmp := range r.Comparisons {
		p.Printf("  %s %s %s\n", p.Style(ux.Styles.Bold, cmp.OperationA), p.Icon(ux.IconArrow),
			p.Style(ux.Styles.Bold, cmp.OperationB))
		p.Info(describeOutcome(cmp))
		p.Info(fmt.Sprintf("p=%s  corrected p=%s  delta=%+.3f (%s)  power=%.2f",
			formatP(cmp.PValue), formatP(cmp.CorrectedPValue), cmp.CliffDelta, cmp.Effect, cmp.Power))
		switch {
		case !cmp.SufficientSamples:
			p.Printf("    %s %s\n", p.Icon(ux.IconWarning),
				p.Style(ux.Styles.Warning, fmt.Sprintf("insufficient samples, %d recommended", cmp.RecommendedSamples)))
		case cmp.Conclusive():
			p.Printf("    %s %s\n", p.Icon(ux.IconSuccess), p.Style(ux.Styles.Success, "conclusive"))
		default:
			p.Printf("    %s %s\n", p.Icon(ux.IconPending), p.Style(ux.Styles.Muted, "inconclusive"))
		}
	}
}

func (c *ConsoleReporter) coldHot(r *Report) {
	if len(r.ColdHot) == 0 {
		return
	}
	p := c.printer
	p.Section("Cold vs Hot")
	for _, name := range r.OperationNames() {
		profile, ok := r.ColdHot[name]
		if !ok {
			continue
		}
		p.Printf("  %s: first call %s, hot median %s, overhead %.2fx\n",
			name, FormatNs(profile.FirstCallNs), FormatNs(profile.Hot.MedianNs), profile.OverheadFactor)
		for _, w := range profile.Warnings {
			p.Printf("    %s %s\n", p.Icon(ux.IconWarning), p.Style(ux.Styles.Warning, w))
		}
	}
}

// describeOutcome summarizes which side is faster and by how much.
func describeOutcome(c ab.ComparisonResult) string {
	if c.Faster == "" {
		return fmt.Sprintf("equal medians (%s)", FormatNs(c.MedianANs))
	}
	ratio := fmt.Sprintf("%.2fx", c.RelativePerformance)
	if c.RatioUndefined {
		ratio = "an undefined ratio"
	}
	return fmt.Sprintf("%s is faster by %s (%s vs %s)", c.Faster, ratio, FormatNs(c.MedianANs), FormatNs(c.MedianBNs))
}

func formatP(p float64) string {
	if p < 0.0001 {
		return "<0.0001"
	}
	return fmt.Sprintf("%.4f", p)
}

// FormatNs renders a nanosecond quantity with a readable unit.
func FormatNs(ns float64) string {
	abs := math.Abs(ns)
	switch {
	case abs >= 1e9:
		return fmt.Sprintf("%.3fs", ns/1e9)
	case abs >= 1e6:
		return fmt.Sprintf("%.3fms", ns/1e6)
	case abs >= 1e3:
		return fmt.Sprintf("%.3fµs", ns/1e3)
	default:
		return fmt.Sprintf("%.1fns", ns)
	}
}
