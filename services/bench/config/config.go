// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the benchmark engine configuration from YAML.
//
// A Config is a plain data tree with yaml and validate tags. Load overlays
// a file onto Default and validates the result; the conversion methods
// turn each section into the functional options of the component it
// configures.
//
// Thread Safety:
//
//	A Config is a value. It is safe to share once loaded.
package config

import (
	"time"

	"github.com/AleutianAI/AleutianBench/services/bench/ab"
	"github.com/AleutianAI/AleutianBench/services/bench/benchmark"
	"github.com/AleutianAI/AleutianBench/services/bench/regression"
	"github.com/AleutianAI/AleutianBench/services/bench/stats"
	benchdb "github.com/AleutianAI/AleutianBench/services/bench/storage/badger"
	"github.com/AleutianAI/AleutianBench/services/bench/telemetry"
)

// =============================================================================
// Types
// =============================================================================

// Config is the root of the configuration file.
type Config struct {
	Sampling   SamplingConfig   `yaml:"sampling"`
	Bootstrap  BootstrapConfig  `yaml:"bootstrap"`
	Comparison ComparisonConfig `yaml:"comparison"`

	// Correction is the multiple-comparison method.
	Correction string `yaml:"correction" validate:"oneof=bonferroni benjamini-hochberg bh fdr"`

	ColdHot   ColdHotConfig   `yaml:"cold_hot"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	History   HistoryConfig   `yaml:"history"`
	Server    ServerConfig    `yaml:"server"`

	// Labels are attached to every report.
	Labels map[string]string `yaml:"labels,omitempty" validate:"omitempty,dive,keys,required,endkeys"`
}

// SamplingConfig mirrors benchmark.SamplingConfig.
type SamplingConfig struct {
	TargetRelativeError float64       `yaml:"target_relative_error" validate:"gt=0"`
	MaxTime             time.Duration `yaml:"max_time" validate:"gt=0"`
	MinSamples          int           `yaml:"min_samples" validate:"gte=2"`
	MaxSamples          int           `yaml:"max_samples" validate:"gte=0"`
	CalibrationCalls    int           `yaml:"calibration_calls" validate:"gte=1"`
	BatchThreshold      time.Duration `yaml:"batch_threshold" validate:"gte=0"`
	BatchTarget         time.Duration `yaml:"batch_target" validate:"gt=0"`
	StopRuleResamples   int           `yaml:"stop_rule_resamples" validate:"gte=1"`
	Seed                uint64        `yaml:"seed"`
	DisableGC           bool          `yaml:"disable_gc"`
	RemoveOutliers      bool          `yaml:"remove_outliers"`
	OutlierThreshold    float64       `yaml:"outlier_threshold" validate:"gt=0"`
}

// BootstrapConfig configures the per-operation median interval.
type BootstrapConfig struct {
	Confidence float64 `yaml:"confidence" validate:"gt=0,lt=1"`
	Resamples  int     `yaml:"resamples" validate:"gte=1"`
	Seed       uint64  `yaml:"seed"`
	Strict     bool    `yaml:"strict"`
}

// ComparisonConfig mirrors ab.ComparisonConfig.
type ComparisonConfig struct {
	Alpha           float64 `yaml:"alpha" validate:"gt=0,lt=1"`
	EffectThreshold float64 `yaml:"effect_threshold" validate:"gte=0,lte=1"`
	MinSamples      int     `yaml:"min_samples" validate:"gte=2"`
	Alternative     string  `yaml:"alternative" validate:"oneof=two-sided less greater"`
	Strict          bool    `yaml:"strict"`
	TargetPower     float64 `yaml:"target_power" validate:"gt=0,lt=1"`
}

// ColdHotConfig enables and configures cold/hot profiling.
type ColdHotConfig struct {
	Enabled       bool          `yaml:"enabled"`
	HotIterations int           `yaml:"hot_iterations" validate:"gte=1"`
	SettleDelay   time.Duration `yaml:"settle_delay" validate:"gte=0"`
	DisableGC     bool          `yaml:"disable_gc"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Dir   string `yaml:"dir,omitempty"`
	JSON  bool   `yaml:"json"`
	Quiet bool   `yaml:"quiet"`
}

// TelemetryConfig selects the telemetry sinks.
type TelemetryConfig struct {
	Prometheus PrometheusConfig `yaml:"prometheus"`
	OTel       OTelConfig       `yaml:"otel"`
	Influx     InfluxConfig     `yaml:"influx"`
}

// PrometheusConfig configures the Prometheus sink.
type PrometheusConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace" validate:"required_if=Enabled true"`
	Subsystem string `yaml:"subsystem" validate:"required_if=Enabled true"`
}

// OTelConfig configures the OpenTelemetry sink.
type OTelConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name" validate:"required_if=Enabled true"`
}

// InfluxConfig configures the InfluxDB sink. Token is read from the
// environment variable named by TokenEnv when Token is empty.
type InfluxConfig struct {
	Enabled           bool   `yaml:"enabled"`
	URL               string `yaml:"url" validate:"required_if=Enabled true,omitempty,url"`
	Token             string `yaml:"token,omitempty"`
	TokenEnv          string `yaml:"token_env,omitempty"`
	Org               string `yaml:"org" validate:"required_if=Enabled true"`
	Bucket            string `yaml:"bucket" validate:"required_if=Enabled true"`
	MeasurementPrefix string `yaml:"measurement_prefix"`
}

// HistoryConfig configures the report history and regression checks.
type HistoryConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Path           string        `yaml:"path" validate:"required_if=Enabled true InMemory false"`
	InMemory       bool          `yaml:"in_memory"`
	SyncWrites     bool          `yaml:"sync_writes"`
	GCInterval     time.Duration `yaml:"gc_interval" validate:"gte=0"`
	GCDiscardRatio float64       `yaml:"gc_discard_ratio" validate:"gt=0,lt=1"`

	Regression RegressionConfig `yaml:"regression"`
}

// RegressionConfig mirrors regression.DetectorConfig.
type RegressionConfig struct {
	Alpha           float64 `yaml:"alpha" validate:"gt=0,lt=1"`
	EffectThreshold float64 `yaml:"effect_threshold" validate:"gte=0,lte=1"`
	MinSamples      int     `yaml:"min_samples" validate:"gte=2"`
	Correction      string  `yaml:"correction" validate:"oneof=bonferroni benjamini-hochberg bh fdr"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr         string        `yaml:"addr" validate:"required,hostname_port"`
	Mode         string        `yaml:"mode" validate:"oneof=debug release test"`
	ReadTimeout  time.Duration `yaml:"read_timeout" validate:"gt=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" validate:"gt=0"`

	// MaxBodyBytes caps request bodies. Default: 8 MiB.
	MaxBodyBytes int64 `yaml:"max_body_bytes" validate:"gt=0"`

	// MaxOperations caps the operations in one analyze request.
	MaxOperations int `yaml:"max_operations" validate:"gte=1"`
}

// =============================================================================
// Defaults
// =============================================================================

// Default returns the defaults, matching each component's own defaults.
func Default() *Config {
	sampling := benchmark.DefaultSamplingConfig()
	bootstrap := stats.DefaultBootstrapConfig()
	comparison := ab.DefaultComparisonConfig()
	coldHot := benchmark.DefaultColdHotConfig()
	detector := regression.DefaultDetectorConfig()
	db := benchdb.DefaultConfig()
	prom := telemetry.DefaultPrometheusConfig()
	otelCfg := telemetry.DefaultOTelConfig()
	influx := telemetry.DefaultInfluxConfig()

	return &Config{
		Sampling: SamplingConfig{
			TargetRelativeError: sampling.TargetRelativeError,
			MaxTime:             sampling.MaxTime,
			MinSamples:          sampling.MinSamples,
			MaxSamples:          sampling.MaxSamples,
			CalibrationCalls:    sampling.CalibrationCalls,
			BatchThreshold:      sampling.BatchThreshold,
			BatchTarget:         sampling.BatchTarget,
			StopRuleResamples:   sampling.StopRuleResamples,
			Seed:                sampling.Seed,
			DisableGC:           sampling.DisableGC,
			RemoveOutliers:      sampling.RemoveOutliers,
			OutlierThreshold:    sampling.OutlierThreshold,
		},
		Bootstrap: BootstrapConfig{
			Confidence: bootstrap.Confidence,
			Resamples:  bootstrap.Resamples,
			Seed:       bootstrap.Seed,
			Strict:     bootstrap.Strict,
		},
		Comparison: ComparisonConfig{
			Alpha:           comparison.Alpha,
			EffectThreshold: comparison.EffectThreshold,
			MinSamples:      comparison.MinSamples,
			Alternative:     string(comparison.Alternative),
			Strict:          comparison.Strict,
			TargetPower:     comparison.TargetPower,
		},
		Correction: string(ab.Bonferroni),
		ColdHot: ColdHotConfig{
			HotIterations: coldHot.HotIterations,
			SettleDelay:   coldHot.SettleDelay,
			DisableGC:     coldHot.DisableGC,
		},
		Logging: LoggingConfig{Level: "info"},
		Telemetry: TelemetryConfig{
			Prometheus: PrometheusConfig{Namespace: prom.Namespace, Subsystem: prom.Subsystem},
			OTel:       OTelConfig{ServiceName: otelCfg.ServiceName},
			Influx: InfluxConfig{
				URL:               influx.URL,
				TokenEnv:          "INFLUX_TOKEN",
				Org:               influx.Org,
				Bucket:            influx.Bucket,
				MeasurementPrefix: influx.MeasurementPrefix,
			},
		},
		History: HistoryConfig{
			Path:           "~/.aleutian/bench/history",
			SyncWrites:     db.SyncWrites,
			GCInterval:     db.GCInterval,
			GCDiscardRatio: db.GCDiscardRatio,
			Regression: RegressionConfig{
				Alpha:           detector.Alpha,
				EffectThreshold: detector.EffectThreshold,
				MinSamples:      detector.MinSamples,
				Correction:      string(detector.Correction),
			},
		},
		Server: ServerConfig{
			Addr:          "127.0.0.1:8089",
			Mode:          "release",
			ReadTimeout:   30 * time.Second,
			WriteTimeout:  5 * time.Minute,
			MaxBodyBytes:  8 << 20,
			MaxOperations: 64,
		},
	}
}
