// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stats

import (
	"math"
	"slices"
)

// Sorted returns a sorted copy of values.
func Sorted(values []float64) []float64 {
	out := slices.Clone(values)
	slices.Sort(out)
	return out
}

// Quantile returns the p-quantile (p in [0,1]) of sorted data using linear
// interpolation between closest ranks. The median of an even-length set is
// the mean of the two middle values.
//
// Returns 0 for empty input.
func Quantile(sorted []float64, p float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}

	index := p * float64(len(sorted)-1)
	lower := int(math.Floor(index))
	upper := int(math.Ceil(index))
	if lower == upper || sorted[lower] == sorted[upper] {
		return sorted[lower]
	}
	fraction := index - float64(lower)
	return sorted[lower]*(1-fraction) + sorted[upper]*fraction
}

// Median returns the median of values without modifying them.
// Returns 0 for empty input.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return medianSelect(slices.Clone(values))
}

// medianSelect returns the median of buf, reordering it in place.
// buf must be non-empty.
func medianSelect(buf []float64) float64 {
	n := len(buf)
	k := n / 2
	upper := selectKth(buf, k)
	if n%2 == 1 {
		return upper
	}
	// Every element of buf[:k] is <= buf[k] after selection.
	return (slices.Max(buf[:k]) + upper) / 2
}

// selectKth partially orders a so that a[k] holds the k-th smallest value,
// everything before it is <= a[k] and everything after is >= a[k].
//
// Three-way partitioning keeps runs of equal values, which are common in
// batched timings, from degrading to quadratic time.
func selectKth(a []float64, k int) float64 {
	lo, hi := 0, len(a)-1
	for lo < hi {
		pivot := medianOfThree(a[lo], a[lo+(hi-lo)/2], a[hi])
		lt, i, gt := lo, lo, hi
		for i <= gt {
			switch {
			case a[i] < pivot:
				a[lt], a[i] = a[i], a[lt]
				lt++
				i++
			case a[i] > pivot:
				a[i], a[gt] = a[gt], a[i]
				gt--
			default:
				i++
			}
		}
		switch {
		case k < lt:
			hi = lt - 1
		case k > gt:
			lo = gt + 1
		default:
			return a[k]
		}
	}
	return a[k]
}

func medianOfThree(a, b, c float64) float64 {
	if a > b {
		a, b = b, a
	}
	if b > c {
		b = c
	}
	if a > b {
		return a
	}
	return b
}
