// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stats provides the sample model and single-set statistics for
// latency measurements.
//
// # Overview
//
//   - Sample / SampleSet: per-call wall and CPU nanoseconds for one operation
//   - Describe: order statistics, moments, MAD and coefficient of variation
//   - Estimator: percentile-bootstrap intervals for a median and for a
//     difference of medians
//
// # Edge Cases
//
// Empty input is an error (ErrEmptyInput). Statistical degeneracies such as
// zero variance or a zero mean produce zero-valued fields plus an explicit
// flag, never NaN or Inf, so every report can be serialized as JSON.
//
// # Reproducibility
//
// Bootstrap intervals are a pure function of (values, confidence,
// resamples, seed). The default seed is 42.
package stats
