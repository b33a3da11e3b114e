// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianBench/services/bench/eval"
	"github.com/AleutianAI/AleutianBench/services/bench/stats"
)

// maxStderr bounds the stderr kept for error messages.
const maxStderr = 4 << 10

// CommandSource times an external command, one sample per run.
//
// Description:
//
//	Each run starts a fresh process. Wall time covers process start to
//	exit; CPU time is the child's user plus system time from its rusage.
//	A run that exits non-zero is a failed attempt and is excluded. The
//	command is resolved on PATH by Check, so a missing binary is reported
//	as *Unavailable before anything runs.
//
// Thread Safety: Safe for concurrent use, though concurrent runs skew
// each other's timings.
type CommandSource struct {
	name    string
	argv    []string
	runs    int
	warmup  int
	dir     string
	env     []string
	timeout time.Duration
	logger  *slog.Logger

	lookPath func(string) (string, error)
}

// CommandOption configures a CommandSource.
type CommandOption func(*CommandSource)

// WithRuns sets the number of timed runs. Default: 30.
func WithRuns(n int) CommandOption {
	return func(c *CommandSource) { c.runs = n }
}

// WithWarmup sets the number of untimed runs before measuring. Default: 1.
func WithWarmup(n int) CommandOption {
	return func(c *CommandSource) { c.warmup = n }
}

// WithDir sets the working directory.
func WithDir(dir string) CommandOption {
	return func(c *CommandSource) { c.dir = dir }
}

// WithEnv appends KEY=VALUE entries to the inherited environment.
func WithEnv(env ...string) CommandOption {
	return func(c *CommandSource) { c.env = append(c.env, env...) }
}

// WithRunTimeout bounds each run. Zero means no bound. Default: 1m.
func WithRunTimeout(d time.Duration) CommandOption {
	return func(c *CommandSource) { c.timeout = d }
}

// WithCommandLogger sets the logger. Nil is ignored.
func WithCommandLogger(logger *slog.Logger) CommandOption {
	return func(c *CommandSource) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCommandSource creates a source that records argv under name.
//
// Outputs:
//   - *CommandSource: The source. Call Check before Collect.
//   - error: ErrInvalidConfiguration for an empty name or bad counts.
//
// Example:
//
//	src, err := source.NewCommandSource("grep", []string{"grep", "-r", "TODO", "."}, source.WithRuns(50))
//	if err := src.Check(); errors.Is(err, source.ErrUnavailable) {
//	    // fall back
//	}
func NewCommandSource(name string, argv []string, opts ...CommandOption) (*CommandSource, error) {
	c := &CommandSource{
		name:     name,
		argv:     append([]string(nil), argv...),
		runs:     30,
		warmup:   1,
		timeout:  time.Minute,
		logger:   slog.Default(),
		lookPath: exec.LookPath,
	}
	for _, opt := range opts {
		opt(c)
	}
	if name == "" {
		return nil, eval.InvalidConfig("command source needs an operation name")
	}
	if c.runs < 1 {
		return nil, eval.InvalidConfig("runs must be positive, got %d", c.runs)
	}
	if c.warmup < 0 {
		return nil, eval.InvalidConfig("warmup must be non-negative, got %d", c.warmup)
	}
	if c.timeout < 0 {
		return nil, eval.InvalidConfig("run timeout must be non-negative, got %v", c.timeout)
	}
	return c, nil
}

// Name implements Source.
func (c *CommandSource) Name() string {
	return "command:" + strings.Join(c.argv, " ")
}

// IsAvailable implements Source.
func (c *CommandSource) IsAvailable() bool { return c.Check() == nil }

// Check implements Source.
func (c *CommandSource) Check() error {
	if len(c.argv) == 0 || c.argv[0] == "" {
		return &Unavailable{Source: c.Name(), Reason: "no command given"}
	}
	if _, err := c.lookPath(c.argv[0]); err != nil {
		return &Unavailable{Source: c.Name(), Reason: fmt.Sprintf("%s not found: %v", c.argv[0], err)}
	}
	return nil
}

// Collect implements Source. It returns a single set named after the
// operation.
//
// Outputs:
//   - []*stats.SampleSet: One set with one sample per successful run.
//   - error: *Unavailable, *eval.OperationFailureError when every run
//     fails, or the context error.
func (c *CommandSource) Collect(ctx context.Context) ([]*stats.SampleSet, error) {
	if err := c.Check(); err != nil {
		return nil, err
	}

	for i := 0; i < c.warmup; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := c.run(ctx); err != nil {
			c.logger.Debug("warmup run failed", slog.String("operation", c.name), slog.String("error", err.Error()))
		}
	}

	set := stats.NewSampleSet(c.name)
	var lastErr error
	failures := 0
	for i := 0; i < c.runs; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sample, err := c.run(ctx)
		if err != nil {
			failures++
			lastErr = err
			continue
		}
		set.Add(sample)
	}

	if set.Len() == 0 {
		return nil, &eval.OperationFailureError{Operation: c.name, Attempts: c.runs, Cause: lastErr}
	}
	if failures > 0 {
		c.logger.Warn("command runs failed",
			slog.String("operation", c.name),
			slog.Int("failures", failures),
			slog.Int("runs", c.runs),
		)
	}
	return []*stats.SampleSet{set}, nil
}

// Operation returns the command as a measurable operation, so the
// sampler can drive it like any in-process function.
func (c *CommandSource) Operation() eval.Operation {
	return eval.Operation{
		Name: c.name,
		Func: func() (any, error) {
			_, err := c.run(context.Background())
			return nil, err
		},
	}
}

// run executes the command once and times it.
func (c *CommandSource) run(ctx context.Context) (stats.Sample, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.argv[0], c.argv[1:]...)
	cmd.Dir = c.dir
	if len(c.env) > 0 {
		cmd.Env = append(cmd.Environ(), c.env...)
	}
	cmd.Stdout = io.Discard
	stderr := &limitedBuffer{limit: maxStderr}
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	wall := time.Since(start)
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return stats.Sample{}, fmt.Errorf("%s: %w: %s", c.argv[0], err, msg)
		}
		return stats.Sample{}, fmt.Errorf("%s: %w", c.argv[0], err)
	}

	sample := stats.Sample{WallNs: float64(wall.Nanoseconds()), Iterations: 1}
	if ps := cmd.ProcessState; ps != nil {
		sample.CPUNs = float64((ps.UserTime() + ps.SystemTime()).Nanoseconds())
		sample.HasCPU = true
	}
	return sample, nil
}

// limitedBuffer keeps the first limit bytes written and drops the rest.
type limitedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string { return b.buf.String() }

var _ Source = (*CommandSource)(nil)
