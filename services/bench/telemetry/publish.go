// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"errors"

	"github.com/AleutianAI/AleutianBench/services/bench/ab"
	"github.com/AleutianAI/AleutianBench/services/bench/report"
)

// Publish records every operation and comparison of r to sink.
//
// Description:
//
//	Operations are recorded in sorted-name order, then comparisons in
//	report order. Recording continues past individual failures; all
//	errors are joined. Publish does not flush.
//
// Inputs:
//   - ctx: Context for cancellation. Must not be nil.
//   - sink: Destination sink. Must not be nil.
//   - r: A finalized report. Must not be nil.
//
// Outputs:
//   - error: Joined recording errors, or ErrNilData for nil inputs.
func Publish(ctx context.Context, sink Sink, r *report.Report) error {
	if ctx == nil {
		return ErrNilContext
	}
	if sink == nil || r == nil {
		return ErrNilData
	}

	var errs []error
	for _, name := range r.OperationNames() {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		if err := sink.RecordOperation(ctx, OperationFromSummary(r, name, r.Operations[name])); err != nil {
			errs = append(errs, err)
		}
	}
	for _, cmp := range r.Comparisons {
		if err := sink.RecordComparison(ctx, ComparisonFromResult(r, cmp)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OperationFromSummary converts a report section to OperationData.
func OperationFromSummary(r *report.Report, name string, s report.OperationSummary) *OperationData {
	data := &OperationData{
		RunID:             r.ID,
		Name:              name,
		Timestamp:         r.CreatedAt,
		Source:            string(s.Source),
		Samples:           s.Count,
		MedianNs:          s.MedianNs,
		MeanNs:            s.MeanNs,
		P99Ns:             s.P99Ns,
		MADNs:             s.MADNs,
		CILowerNs:         s.MedianCI.Lower,
		CIUpperNs:         s.MedianCI.Upper,
		PrecisionAchieved: s.PrecisionAchieved(),
		Labels:            r.Labels,
	}
	if m := s.Measurement; m != nil {
		data.Failures = m.Failures
		if !m.RelativeErrorUndefined {
			data.RelativeError = m.RelativeError
		}
	}
	return data
}

// ComparisonFromResult converts a comparison to ComparisonData.
func ComparisonFromResult(r *report.Report, c ab.ComparisonResult) *ComparisonData {
	return &ComparisonData{
		RunID:                  r.ID,
		Timestamp:              r.CreatedAt,
		OperationA:             c.OperationA,
		OperationB:             c.OperationB,
		Faster:                 c.Faster,
		RelativePerformance:    c.RelativePerformance,
		PValue:                 c.PValue,
		CorrectedPValue:        c.CorrectedPValue,
		CliffDelta:             c.CliffDelta,
		Effect:                 string(c.Effect),
		Significant:            c.SignificantCorrected,
		PracticallySignificant: c.PracticallySignificant,
		Labels:                 r.Labels,
	}
}
