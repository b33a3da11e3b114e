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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianBench/pkg/ux"
	"github.com/AleutianAI/AleutianBench/services/bench/ab"
	"github.com/AleutianAI/AleutianBench/services/bench/eval"
	"github.com/AleutianAI/AleutianBench/services/bench/source"
)

type powerOptions struct {
	effect float64
	alpha  float64
	power  float64
	format string
}

// powerResult is the JSON form of a power calculation.
type powerResult struct {
	Analysis           *ab.PowerAnalysis `json:"analysis,omitempty"`
	Effect             float64           `json:"effect"`
	Alpha              float64           `json:"alpha"`
	Power              float64           `json:"power"`
	RequiredSampleSize int               `json:"required_sample_size"`
}

func (a *app) newPowerCmd() *cobra.Command {
	o := &powerOptions{}
	cmd := &cobra.Command{
		Use:   "power [FILE OP_A OP_B]",
		Short: "Estimate statistical power or the samples needed per group",
		Long: `With --effect, prints the samples per group needed to detect a
Cliff's delta of that size. With a recorded-durations file and two
operation names, estimates the power of their comparison.`,
		Example: `  bench power --effect 0.3
  bench power timings.json parse parse_v2 --power 0.9`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 3 {
				return fmt.Errorf("want no arguments or FILE OP_A OP_B, got %d arguments", len(args))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.power(cmd.Context(), args, o)
		},
	}
	cmd.Flags().Float64Var(&o.effect, "effect", 0, "|Cliff's delta| to detect (0 < effect <= 1)")
	cmd.Flags().Float64Var(&o.alpha, "alpha", 0.05, "Significance level")
	cmd.Flags().Float64Var(&o.power, "power", 0.8, "Target power")
	cmd.Flags().StringVar(&o.format, "format", "", "Input format when FILE has no recognized extension")
	return cmd
}

func (a *app) power(ctx context.Context, args []string, o *powerOptions) error {
	res := powerResult{Effect: o.effect, Alpha: o.alpha, Power: o.power}

	if len(args) == 3 {
		src := source.NewFileSource(args[0], source.Format(o.format))
		if err := src.Check(); err != nil {
			return err
		}
		sets, err := src.Collect(ctx)
		if err != nil {
			return err
		}
		byName := make(map[string][]float64, len(sets))
		for _, s := range sets {
			byName[s.Name()] = s.Wall()
		}
		for _, name := range args[1:] {
			if _, ok := byName[name]; !ok {
				return fmt.Errorf("operation %q not in %s: %w", name, args[0], eval.ErrNotFound)
			}
		}
		analysis, err := ab.Analyze(byName[args[1]], byName[args[2]], o.alpha, o.power)
		if err != nil {
			return err
		}
		res.Analysis = &analysis
		res.Effect = analysis.EffectSize
		res.RequiredSampleSize = analysis.RequiredSampleSize
	} else {
		if o.effect <= 0 {
			return eval.InvalidConfig("--effect must be positive when no file is given")
		}
		n, err := ab.RequiredSampleSize(o.effect, o.power, o.alpha)
		if err != nil {
			return err
		}
		res.RequiredSampleSize = n
	}

	if a.jsonOutput {
		return writeJSON(a.out, res)
	}
	p := ux.NewPrinter(a.out)
	p.Title("Power Analysis")
	if res.Analysis != nil {
		p.Info(fmt.Sprintf("%s vs %s: |delta| %.3f with n = %.1f (harmonic)", args[1], args[2],
			res.Analysis.EffectSize, res.Analysis.HarmonicN))
		p.Info(fmt.Sprintf("Achieved power at alpha %.3g: %.3f", res.Alpha, res.Analysis.Power))
		if res.Analysis.Power < res.Power {
			p.Warning(fmt.Sprintf("below the %.2f target; collect %d samples per group",
				res.Power, res.RequiredSampleSize))
		} else {
			p.Success(fmt.Sprintf("meets the %.2f target", res.Power))
		}
		return p.Err()
	}
	p.Info(fmt.Sprintf("Effect |delta| %.3f, alpha %.3g, power %.2f", res.Effect, res.Alpha, res.Power))
	p.Success(fmt.Sprintf("%d samples per group", res.RequiredSampleSize))
	return p.Err()
}
