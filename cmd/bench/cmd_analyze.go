// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianBench/services/bench/eval"
	"github.com/AleutianAI/AleutianBench/services/bench/source"
	"github.com/AleutianAI/AleutianBench/services/bench/stats"
)

type analyzeOptions struct {
	format   string
	watch    bool
	debounce time.Duration
	check    bool
}

func (a *app) newAnalyzeCmd() *cobra.Command {
	o := &analyzeOptions{}
	cmd := &cobra.Command{
		Use:   "analyze FILE...",
		Short: "Analyze recorded durations from JSON, YAML or CSV files",
		Long: `Builds a report from durations recorded elsewhere. Files hold
nanosecond durations per operation:

  JSON  {"operations": {"parse": [1200, 1180]}, "cpu": {...}}
  YAML  operations: {parse: [1200, 1180]}
  CSV   operation,wall_ns[,cpu_ns] with one row per sample

Operations from all files are analyzed together and must not repeat.
With --watch the analysis reruns whenever an input file changes.`,
		Example: `  bench analyze before.json after.json
  bench analyze timings.csv --watch`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.analyze(cmd.Context(), args, o)
		},
	}
	cmd.Flags().StringVar(&o.format, "format", "", "Input format (json, yaml, csv); inferred from the extension when empty")
	cmd.Flags().BoolVarP(&o.watch, "watch", "w", false, "Re-analyze whenever an input file changes")
	cmd.Flags().DurationVar(&o.debounce, "debounce", 200*time.Millisecond, "Quiet period before re-analyzing in watch mode")
	cmd.Flags().BoolVar(&o.check, "check", false, "Compare the report with the previous one in history; exit 2 on regression")
	return cmd
}

func (a *app) analyze(ctx context.Context, paths []string, o *analyzeOptions) error {
	sources := make([]*source.FileSource, 0, len(paths))
	for _, path := range paths {
		sources = append(sources, source.NewFileSource(path, source.Format(o.format)))
	}

	c, err := a.newComponents(eval.NewRegistry(), nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			a.logger.Warn("Closing components failed", "error", err)
		}
	}()

	once := func() error {
		sets, err := collectFiles(ctx, sources)
		if err != nil {
			return err
		}
		r, err := c.engine.Analyze(ctx, sets)
		if err != nil {
			return err
		}
		if err := a.reporter().Report(r); err != nil {
			return err
		}
		if !o.check {
			return nil
		}
		if c.store == nil {
			return fmt.Errorf("--check needs history: set history.enabled or pass --history")
		}
		return a.checkAgainstLatest(ctx, c.store, r)
	}

	if !o.watch {
		return once()
	}

	// A failed pass is reported and the watch continues; the input may
	// be mid-write.
	rerun := func() {
		if err := once(); err != nil && !errors.Is(err, errRegression) {
			a.logger.Warn("Analysis failed", "error", err)
		}
	}
	rerun()
	return watchFiles(ctx, paths, o.debounce, a.slog(), rerun)
}

// collectFiles reads every source, failing on the first unavailable one.
func collectFiles(ctx context.Context, sources []*source.FileSource) ([]*stats.SampleSet, error) {
	var sets []*stats.SampleSet
	for _, src := range sources {
		if err := src.Check(); err != nil {
			return nil, err
		}
		collected, err := src.Collect(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", src.Path(), err)
		}
		sets = append(sets, collected...)
	}
	return sets, nil
}
