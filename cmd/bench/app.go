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
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianBench/pkg/logging"
	"github.com/AleutianAI/AleutianBench/services/bench/config"
	"github.com/AleutianAI/AleutianBench/services/bench/engine"
	"github.com/AleutianAI/AleutianBench/services/bench/eval"
	"github.com/AleutianAI/AleutianBench/services/bench/regression"
	"github.com/AleutianAI/AleutianBench/services/bench/report"
	"github.com/AleutianAI/AleutianBench/services/bench/telemetry"
)

const serviceName = "aleutian-bench"

// errRegression marks a successful run that found regressions.
var errRegression = errors.New("performance regression detected")

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	if errors.Is(err, errRegression) {
		return 2
	}
	return 1
}

// app holds the state shared by every subcommand.
type app struct {
	// --- Flags ---
	configPath  string
	logLevel    string
	historyPath string
	jsonOutput  bool
	verbose     bool
	labels      map[string]string

	out    io.Writer
	errOut io.Writer

	cfg    *config.Config
	logger *logging.Logger
}

// newRootCmd builds the command tree writing reports to out and logs to
// errOut.
func newRootCmd(out, errOut io.Writer) *cobra.Command {
	a := &app{out: out, errOut: errOut}

	root := &cobra.Command{
		Use:   "bench",
		Short: "Statistical micro-benchmarks with A/B comparison and regression tracking",
		Long: `bench measures operations until their median is known precisely,
compares every pair with the Mann-Whitney U test and Cliff's delta,
corrects for multiple comparisons and optionally keeps a history of
reports to detect regressions.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(*cobra.Command, []string) { a.teardown() },
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Path to a YAML configuration file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&a.historyPath, "history", "", "Enable report history at this directory")
	root.PersistentFlags().BoolVar(&a.jsonOutput, "json", false, "Write reports as JSON")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Show the full distribution of every operation")
	root.PersistentFlags().StringToStringVar(&a.labels, "label", nil, "Label attached to reports and telemetry (key=value)")

	root.AddCommand(
		a.newRunCmd(),
		a.newAnalyzeCmd(),
		a.newPowerCmd(),
		a.newHistoryCmd(),
		a.newServeCmd(),
	)
	return root
}

// setup loads the configuration and builds the logger.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg := config.Default()
	if a.configPath != "" {
		loaded, err := config.Load(a.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if a.historyPath != "" {
		cfg.History.Enabled = true
		cfg.History.InMemory = false
		cfg.History.Path = a.historyPath
	}
	if len(a.labels) > 0 {
		if cfg.Labels == nil {
			cfg.Labels = make(map[string]string, len(a.labels))
		}
		for k, v := range a.labels {
			cfg.Labels[k] = v
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logCfg, err := cfg.LoggingConfig(serviceName)
	if err != nil {
		return err
	}
	logCfg.Output = a.errOut
	a.logger = logging.New(logCfg)
	a.cfg = cfg

	a.logger.Debug("Configuration loaded",
		"command", cmd.Name(),
		"config", a.configPath,
		"history", cfg.History.Enabled)
	return nil
}

func (a *app) teardown() {
	if a.logger != nil {
		_ = a.logger.Close()
	}
}

func (a *app) slog() *slog.Logger {
	return a.logger.Slog()
}

// =============================================================================
// Component Wiring
// =============================================================================

// openStore opens the report history, or returns nil when history is
// disabled.
func (a *app) openStore() (regression.Store, error) {
	if !a.cfg.History.Enabled {
		return nil, nil
	}
	dbCfg := a.cfg.BadgerConfig()
	dbCfg.Logger = a.slog()
	store, err := regression.OpenBadgerStore(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("opening history: %w", err)
	}
	return store, nil
}

// requireStore opens the history or fails when it is disabled.
func (a *app) requireStore() (regression.Store, error) {
	store, err := a.openStore()
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("history is disabled: set history.enabled or pass --history")
	}
	return store, nil
}

// buildSink assembles the enabled telemetry sinks. The Prometheus sink
// is only built when registerer is non-nil, since its metrics are only
// observable through a long-running /metrics endpoint.
func (a *app) buildSink(registerer prometheus.Registerer) (telemetry.Sink, error) {
	t := a.cfg.Telemetry
	var sinks []telemetry.Sink

	if t.Prometheus.Enabled && registerer != nil {
		promCfg := a.cfg.PrometheusSinkConfig()
		promCfg.Registry = registerer
		sink, err := telemetry.NewPrometheusSink(promCfg)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
	}
	if t.OTel.Enabled {
		sink, err := telemetry.NewOTelSink(a.cfg.OTelSinkConfig())
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
	}
	if t.Influx.Enabled {
		sink, err := telemetry.NewInfluxSink(a.cfg.InfluxSinkConfig())
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
	}

	switch len(sinks) {
	case 0:
		return nil, nil
	case 1:
		return sinks[0], nil
	default:
		return telemetry.NewCompositeSink(sinks...)
	}
}

// components are the collaborators of one engine.
type components struct {
	engine *engine.Engine
	store  regression.Store
	sink   telemetry.Sink
}

// Close releases the sink and the store.
func (c *components) Close() error {
	var errs []error
	if c.sink != nil {
		errs = append(errs, c.sink.Close())
	}
	if c.store != nil {
		errs = append(errs, c.store.Close())
	}
	return errors.Join(errs...)
}

// newComponents builds an engine over registry with the configured sinks
// and history.
func (a *app) newComponents(registry *eval.Registry, registerer prometheus.Registerer, extra ...engine.Option) (*components, error) {
	opts, err := a.cfg.EngineOptions()
	if err != nil {
		return nil, err
	}

	c := &components{}
	if c.sink, err = a.buildSink(registerer); err != nil {
		return nil, err
	}
	if c.sink != nil {
		opts = append(opts, engine.WithSink(c.sink))
	}
	if c.store, err = a.openStore(); err != nil {
		_ = c.Close()
		return nil, err
	}
	if c.store != nil {
		opts = append(opts, engine.WithStore(c.store))
	}

	c.engine, err = engine.New(registry, append(opts, extra...)...)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	c.engine.SetLogger(a.slog())
	return c, nil
}

func (a *app) newDetector() (*regression.Detector, error) {
	opts, err := a.cfg.DetectorOptions()
	if err != nil {
		return nil, err
	}
	detector, err := regression.NewDetector(opts...)
	if err != nil {
		return nil, err
	}
	detector.SetLogger(a.slog())
	return detector, nil
}

// reporter returns the report renderer selected by --json.
func (a *app) reporter() report.Reporter {
	if a.jsonOutput {
		return report.NewJSONReporter(a.out)
	}
	return report.NewConsoleReporter(a.out, a.verbose)
}
