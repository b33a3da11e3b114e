// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package source supplies durations measured outside the sampler.
//
// A Source yields one sample set per operation. FileSource reads recorded
// nanosecond durations from JSON, YAML or CSV; CommandSource times an
// external command. Sources are queried with IsAvailable or Check before
// use; an unusable source reports a typed *Unavailable rather than
// failing mid-run.
package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/AleutianAI/AleutianBench/services/bench/eval"
	"github.com/AleutianAI/AleutianBench/services/bench/stats"
)

// ErrUnavailable is matched by every *Unavailable.
var ErrUnavailable = errors.New("source unavailable")

// Unavailable explains why a source cannot be used.
type Unavailable struct {
	Source string
	Reason string
}

func (u *Unavailable) Error() string {
	return fmt.Sprintf("source %s unavailable: %s", u.Source, u.Reason)
}

// Is matches ErrUnavailable.
func (u *Unavailable) Is(target error) bool {
	return target == ErrUnavailable
}

// Source produces recorded sample sets.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Source interface {
	// Name identifies the source in logs and errors.
	Name() string

	// IsAvailable reports whether Collect can succeed.
	IsAvailable() bool

	// Check returns nil or an *Unavailable describing the problem.
	Check() error

	// Collect returns one sample set per operation.
	Collect(ctx context.Context) ([]*stats.SampleSet, error)
}

// Register collects src and registers every set as a recorded operation.
//
// Outputs:
//   - []string: The registered operation names.
//   - error: The Check error, a collect error, or a registry error.
func Register(ctx context.Context, src Source, registry *eval.Registry) ([]string, error) {
	if err := src.Check(); err != nil {
		return nil, err
	}
	sets, err := src.Collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("collecting %s: %w", src.Name(), err)
	}
	names := make([]string, 0, len(sets))
	for _, set := range sets {
		if err := registry.RegisterRecorded(set.Name(), set.Wall()); err != nil {
			return names, fmt.Errorf("registering %s from %s: %w", set.Name(), src.Name(), err)
		}
		names = append(names, set.Name())
	}
	return names, nil
}
