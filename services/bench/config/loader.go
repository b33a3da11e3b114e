// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianBench/pkg/logging"
	"github.com/AleutianAI/AleutianBench/services/bench/ab"
	"github.com/AleutianAI/AleutianBench/services/bench/benchmark"
	"github.com/AleutianAI/AleutianBench/services/bench/engine"
	"github.com/AleutianAI/AleutianBench/services/bench/eval"
	"github.com/AleutianAI/AleutianBench/services/bench/regression"
	"github.com/AleutianAI/AleutianBench/services/bench/stats"
	benchdb "github.com/AleutianAI/AleutianBench/services/bench/storage/badger"
	"github.com/AleutianAI/AleutianBench/services/bench/telemetry"
)

// MaxFileSize is the largest configuration file Load accepts (1 MiB).
const MaxFileSize = 1 << 20

// configValidate checks struct tags, reporting fields by their YAML path.
var configValidate *validator.Validate

func init() {
	configValidate = validator.New(validator.WithRequiredStructEnabled())
	configValidate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
}

// =============================================================================
// Loading
// =============================================================================

// Load reads the YAML file at path over Default and validates it.
//
// Inputs:
//   - path: The file to read. "~" is expanded.
//
// Outputs:
//   - *Config: The validated configuration.
//   - error: A read or parse error, or ErrInvalidConfiguration.
func Load(path string) (*Config, error) {
	f, err := os.Open(expandHome(path))
	if err != nil {
		return nil, fmt.Errorf("opening config: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if len(data) > MaxFileSize {
		return nil, eval.InvalidConfig("config %s exceeds %d bytes", path, MaxFileSize)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over Default and validates it. Unknown keys are
// rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, eval.InvalidConfig("parsing yaml: %v", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Write stores cfg as YAML at path, creating parent directories.
func Write(path string, cfg *Config) error {
	path = expandHome(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks struct tags and the cross-field rules tags cannot
// express.
//
// Outputs:
//   - error: Wraps eval.ErrInvalidConfiguration and names every bad field.
func (c *Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, describe(fe))
			}
			return eval.InvalidConfig("%s", strings.Join(msgs, "; "))
		}
		return eval.InvalidConfig("%v", err)
	}

	if c.Sampling.MaxSamples > 0 && c.Sampling.MaxSamples < c.Sampling.MinSamples {
		return eval.InvalidConfig("sampling.max_samples (%d) is below sampling.min_samples (%d)",
			c.Sampling.MaxSamples, c.Sampling.MinSamples)
	}
	return nil
}

// describe renders a field error as "section.field: rule".
func describe(fe validator.FieldError) string {
	path := fe.Namespace()
	if _, rest, ok := strings.Cut(path, "."); ok {
		path = rest
	}
	if fe.Param() != "" {
		return fmt.Sprintf("%s: failed %s=%s (got %v)", path, fe.Tag(), fe.Param(), fe.Value())
	}
	return fmt.Sprintf("%s: failed %s (got %v)", path, fe.Tag(), fe.Value())
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// =============================================================================
// Component Options
// =============================================================================

// SampleOptions returns the sampler options.
func (c *Config) SampleOptions() []benchmark.SampleOption {
	s := c.Sampling
	opts := []benchmark.SampleOption{
		benchmark.WithTargetRelativeError(s.TargetRelativeError),
		benchmark.WithMaxTime(s.MaxTime),
		benchmark.WithMinSamples(s.MinSamples),
		benchmark.WithMaxSamples(s.MaxSamples),
		benchmark.WithCalibrationCalls(s.CalibrationCalls),
		benchmark.WithBatching(s.BatchThreshold, s.BatchTarget),
		benchmark.WithStopRuleResamples(s.StopRuleResamples),
		benchmark.WithSamplingSeed(s.Seed),
		benchmark.WithGCDisabled(s.DisableGC),
	}
	if s.RemoveOutliers {
		opts = append(opts, benchmark.WithOutlierRemoval(s.OutlierThreshold))
	}
	return opts
}

// BootstrapOptions returns the median interval options.
func (c *Config) BootstrapOptions() []stats.BootstrapOption {
	b := c.Bootstrap
	return []stats.BootstrapOption{
		stats.WithConfidence(b.Confidence),
		stats.WithResamples(b.Resamples),
		stats.WithSeed(b.Seed),
		stats.WithStrict(b.Strict),
	}
}

// CompareOptions returns the comparator options. The median-difference
// interval uses the bootstrap section.
func (c *Config) CompareOptions() []ab.CompareOption {
	cmp := c.Comparison
	return []ab.CompareOption{
		ab.WithAlpha(cmp.Alpha),
		ab.WithEffectThreshold(cmp.EffectThreshold),
		ab.WithMinSamples(cmp.MinSamples),
		ab.WithAlternative(ab.Alternative(cmp.Alternative)),
		ab.WithStrict(cmp.Strict),
		ab.WithTargetPower(cmp.TargetPower),
		ab.WithBootstrap(stats.BootstrapConfig{
			Confidence: c.Bootstrap.Confidence,
			Resamples:  c.Bootstrap.Resamples,
			Seed:       c.Bootstrap.Seed,
			Strict:     c.Bootstrap.Strict,
		}),
	}
}

// ColdHotOptions returns the cold/hot profiling options.
func (c *Config) ColdHotOptions() []benchmark.ColdHotOption {
	return []benchmark.ColdHotOption{
		benchmark.WithHotIterations(c.ColdHot.HotIterations),
		benchmark.WithSettleDelay(c.ColdHot.SettleDelay),
		benchmark.WithHotGCDisabled(c.ColdHot.DisableGC),
	}
}

// EngineOptions returns the engine options for every analysis section.
// Sinks and stores are added by the caller.
func (c *Config) EngineOptions() ([]engine.Option, error) {
	method, err := ab.ParseMethod(c.Correction)
	if err != nil {
		return nil, err
	}
	opts := []engine.Option{
		engine.WithSampleOptions(c.SampleOptions()...),
		engine.WithCompareOptions(c.CompareOptions()...),
		engine.WithBootstrapOptions(c.BootstrapOptions()...),
		engine.WithCorrection(method),
	}
	if c.ColdHot.Enabled {
		opts = append(opts, engine.WithColdHot(c.ColdHotOptions()...))
	}
	if len(c.Labels) > 0 {
		opts = append(opts, engine.WithLabels(c.Labels))
	}
	return opts, nil
}

// DetectorOptions returns the regression detector options.
func (c *Config) DetectorOptions() ([]regression.DetectorOption, error) {
	r := c.History.Regression
	method, err := ab.ParseMethod(r.Correction)
	if err != nil {
		return nil, err
	}
	return []regression.DetectorOption{
		regression.WithDetectorAlpha(r.Alpha),
		regression.WithDetectorEffectThreshold(r.EffectThreshold),
		regression.WithDetectorMinSamples(r.MinSamples),
		regression.WithDetectorCorrection(method),
	}, nil
}

// LoggingConfig returns the logger configuration for service.
func (c *Config) LoggingConfig(service string) (logging.Config, error) {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return logging.Config{}, eval.InvalidConfig("logging.level: %v", err)
	}
	return logging.Config{
		Level:   level,
		LogDir:  c.Logging.Dir,
		Service: service,
		JSON:    c.Logging.JSON,
		Quiet:   c.Logging.Quiet,
	}, nil
}

// BadgerConfig returns the history database configuration.
func (c *Config) BadgerConfig() benchdb.Config {
	h := c.History
	if h.InMemory {
		return benchdb.InMemoryConfig()
	}
	return benchdb.Config{
		Path:           expandHome(h.Path),
		SyncWrites:     h.SyncWrites,
		GCInterval:     h.GCInterval,
		GCDiscardRatio: h.GCDiscardRatio,
	}
}

// PrometheusSinkConfig returns the Prometheus sink configuration.
func (c *Config) PrometheusSinkConfig() *telemetry.PrometheusConfig {
	cfg := telemetry.DefaultPrometheusConfig()
	cfg.Namespace = c.Telemetry.Prometheus.Namespace
	cfg.Subsystem = c.Telemetry.Prometheus.Subsystem
	return cfg
}

// OTelSinkConfig returns the OpenTelemetry sink configuration.
func (c *Config) OTelSinkConfig() *telemetry.OTelConfig {
	cfg := telemetry.DefaultOTelConfig()
	cfg.ServiceName = c.Telemetry.OTel.ServiceName
	return cfg
}

// InfluxSinkConfig returns the InfluxDB sink configuration with the token
// resolved.
func (c *Config) InfluxSinkConfig() *telemetry.InfluxConfig {
	in := c.Telemetry.Influx
	token := in.Token
	if token == "" && in.TokenEnv != "" {
		token = os.Getenv(in.TokenEnv)
	}
	return &telemetry.InfluxConfig{
		URL:               in.URL,
		Token:             token,
		Org:               in.Org,
		Bucket:            in.Bucket,
		MeasurementPrefix: in.MeasurementPrefix,
	}
}
