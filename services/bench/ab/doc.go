// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ab compares latency distributions between operations.
//
// # Overview
//
// All comparisons are non-parametric. Latency data is skewed, bounded
// below and often multi-modal, so the package avoids t-tests in favour of:
//
//   - Mann-Whitney U rank-sum test (tie-corrected, continuity-corrected)
//   - Cliff's delta effect size with qualitative buckets
//   - Bootstrap interval for the difference of medians
//   - Bonferroni or Benjamini-Hochberg correction across all pairs
//   - Power and required sample size from a normal approximation to U
//
// # Direction
//
// Every comparison has a reference direction A-vs-B. Cliff's delta is
// positive when A tends to be larger (slower) than B. The "greater"
// alternative tests that A is stochastically greater than B; "less" tests
// the reverse.
//
// # Thresholds
//
// The significance level (0.05), the practical-significance threshold on
// |delta| (0.2) and the minimum sample count for a conclusive test (30)
// are configuration, not constants.
//
// # Usage
//
//	cmp, err := ab.NewComparator(ab.WithAlpha(0.01))
//	if err != nil {
//	    return err
//	}
//	result, err := cmp.Compare(setA, setB)
//	if err != nil {
//	    return fmt.Errorf("comparing: %w", err)
//	}
//	if result.Significant && result.PracticallySignificant {
//	    fmt.Printf("%s is %.2fx faster\n", result.Faster, result.RelativePerformance)
//	}
package ab
