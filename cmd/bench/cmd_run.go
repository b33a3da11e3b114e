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
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianBench/pkg/ux"
	"github.com/AleutianAI/AleutianBench/services/bench/eval"
	"github.com/AleutianAI/AleutianBench/services/bench/regression"
	"github.com/AleutianAI/AleutianBench/services/bench/report"
	"github.com/AleutianAI/AleutianBench/services/bench/source"
)

type runOptions struct {
	commands    []string
	runs        int
	warmup      int
	runTimeout  time.Duration
	coldHot     bool
	list        bool
	maxTime     time.Duration
	targetError float64
	check       bool
}

func (a *app) newRunCmd() *cobra.Command {
	o := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run [workload...]",
		Short: "Measure built-in workloads and external commands",
		Long: `Measures each operation until its median is known to the target
relative error, then compares every pair.

Without arguments or --cmd every built-in workload is measured. Each
--cmd "name=program args..." times one process per run; its samples
are treated as recorded durations.`,
		Example: `  bench run
  bench run sort/1k slices/sort-1k --max-time 5s
  bench run --cmd "grep=grep -r TODO ." --cmd "rg=rg TODO" --runs 20 --check`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if o.list {
				return a.listWorkloads()
			}
			return a.run(cmd.Context(), args, o)
		},
	}

	cmd.Flags().StringArrayVar(&o.commands, "cmd", nil, `External command to time, as "name=program args..." (repeatable)`)
	cmd.Flags().IntVar(&o.runs, "runs", 30, "Timed runs per external command")
	cmd.Flags().IntVar(&o.warmup, "warmup", 1, "Untimed runs per external command")
	cmd.Flags().DurationVar(&o.runTimeout, "run-timeout", time.Minute, "Timeout for one external command run")
	cmd.Flags().BoolVar(&o.coldHot, "cold-hot", false, "Also profile first-call versus steady-state latency")
	cmd.Flags().BoolVar(&o.list, "list", false, "List the built-in workloads and exit")
	cmd.Flags().DurationVar(&o.maxTime, "max-time", 0, "Time budget per operation (overrides sampling.max_time)")
	cmd.Flags().Float64Var(&o.targetError, "target-error", 0, "Target relative error of the median (overrides sampling.target_relative_error)")
	cmd.Flags().BoolVar(&o.check, "check", false, "Compare the report with the previous one in history; exit 2 on regression")
	return cmd
}

func (a *app) listWorkloads() error {
	p := ux.NewPrinter(a.out)
	p.Title("Built-in workloads")
	rows := [][]string{}
	for _, w := range builtinWorkloads() {
		rows = append(rows, []string{w.name, w.description})
	}
	p.Table([]string{"name", "description"}, rows)
	return p.Err()
}

func (a *app) run(ctx context.Context, names []string, o *runOptions) error {
	if o.maxTime > 0 {
		a.cfg.Sampling.MaxTime = o.maxTime
	}
	if o.targetError > 0 {
		a.cfg.Sampling.TargetRelativeError = o.targetError
	}
	if o.coldHot {
		a.cfg.ColdHot.Enabled = true
	}

	registry := eval.NewRegistry()
	if len(names) > 0 || len(o.commands) == 0 {
		if err := registerWorkloads(registry, names); err != nil {
			return err
		}
	}
	for _, spec := range o.commands {
		src, err := parseCommand(spec, o, source.WithCommandLogger(a.slog()))
		if err != nil {
			return err
		}
		if _, err := source.Register(ctx, src, registry); err != nil {
			return err
		}
	}

	c, err := a.newComponents(registry, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			a.logger.Warn("Closing components failed", "error", err)
		}
	}()

	var r *report.Report
	err = ux.WithSpinner(a.errOut, fmt.Sprintf("Measuring %d operations", registry.Count()), func() error {
		var err error
		r, err = c.engine.Run(ctx)
		return err
	})
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

// parseCommand builds a command source from "name=program args...".
func parseCommand(spec string, o *runOptions, extra ...source.CommandOption) (*source.CommandSource, error) {
	name, command, ok := strings.Cut(spec, "=")
	name = strings.TrimSpace(name)
	argv := strings.Fields(command)
	if !ok || name == "" || len(argv) == 0 {
		return nil, eval.InvalidConfig("--cmd %q: want name=program args...", spec)
	}
	opts := []source.CommandOption{
		source.WithRuns(o.runs),
		source.WithWarmup(o.warmup),
		source.WithRunTimeout(o.runTimeout),
	}
	return source.NewCommandSource(name, argv, append(opts, extra...)...)
}

// checkAgainstLatest compares r with the newest other stored report and
// returns errRegression when any operation regressed.
func (a *app) checkAgainstLatest(ctx context.Context, store regression.Store, r *report.Report) error {
	detector, err := a.newDetector()
	if err != nil {
		return err
	}
	result, err := detector.DetectLatest(ctx, store, r)
	if errors.Is(err, regression.ErrNoBaseline) {
		ux.NewPrinter(a.out).Muted("no earlier report in history; nothing to compare")
		return nil
	}
	if err != nil {
		return err
	}
	return a.renderRegressions(result)
}

// renderRegressions prints result and returns errRegression when it holds
// any regression.
func (a *app) renderRegressions(result *regression.Result) error {
	if a.jsonOutput {
		if err := writeJSON(a.out, result); err != nil {
			return err
		}
	} else {
		p := ux.NewPrinter(a.out)
		p.Section(fmt.Sprintf("Regression check %s -> %s", result.BaselineID, result.CurrentID))
		rows := make([][]string, 0, len(result.Findings))
		for _, f := range result.Findings {
			detail := f.Reason
			if f.Status != regression.StatusSkipped {
				detail = fmt.Sprintf("delta %+.3f, p %.4f", f.CliffDelta, f.CorrectedPValue)
			}
			rows = append(rows, []string{
				f.Operation,
				string(f.Status),
				string(f.Severity),
				report.FormatNs(f.BaselineMedianNs),
				report.FormatNs(f.CurrentMedianNs),
				fmt.Sprintf("%.2fx", f.Ratio),
				detail,
			})
		}
		p.Table([]string{"operation", "status", "severity", "baseline", "current", "ratio", "detail"}, rows)
		if result.HasRegressions() {
			p.Error(fmt.Sprintf("%d regression(s), worst %s", result.Regressions, result.Worst))
		} else {
			p.Success(fmt.Sprintf("no regressions (%d improvement(s))", result.Improvements))
		}
		if err := p.Err(); err != nil {
			return err
		}
	}
	if result.HasRegressions() {
		return errRegression
	}
	return nil
}
