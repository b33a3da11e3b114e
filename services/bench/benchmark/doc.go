// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package benchmark measures operations until their median latency is
// known to a target precision.
//
// # Overview
//
// A Sampler calibrates an operation, picks how many calls to time per
// sample, then records samples until the bootstrap confidence interval of
// the median is narrow enough or the time budget runs out:
//
//	sampler := benchmark.NewSampler()
//	m, err := sampler.Measure(ctx, "parse", eval.Invocable(parse),
//	    benchmark.WithTargetRelativeError(0.01),
//	    benchmark.WithMaxTime(10*time.Second),
//	)
//	if err != nil {
//	    return err
//	}
//	fmt.Println(m.Samples.Len(), m.StopReason)
//
// MeasureColdVsHot times the first call of an operation separately from
// its steady state.
//
// # Measurement Window
//
// Operations are measured one at a time on a goroutine locked to its OS
// thread. The garbage collector is disabled for the duration of each
// sampling loop and restored on every exit path. The time budget is
// checked between batches; a batch is never interrupted.
package benchmark
