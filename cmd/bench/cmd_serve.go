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

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianBench/services/bench/api"
	"github.com/AleutianAI/AleutianBench/services/bench/eval"
)

func (a *app) newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the analysis API over HTTP",
		Long: `Starts the HTTP API. Clients post recorded durations to
/v1/bench/analyze; stored reports are served under /v1/bench/reports
when history is enabled. Prometheus metrics are exposed on /metrics.`,
		Example: `  bench serve --addr 0.0.0.0:8089 --history ~/.aleutian/bench/history`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	gin.SetMode(a.cfg.Server.Mode)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	c, err := a.newComponents(eval.NewRegistry(), registry)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			a.logger.Warn("Closing components failed", "error", err)
		}
	}()

	detector, err := a.newDetector()
	if err != nil {
		return err
	}
	opts := []api.HandlerOption{
		api.WithDetector(detector),
		api.WithMaxOperations(a.cfg.Server.MaxOperations),
		api.WithLogger(a.slog()),
	}
	if c.store != nil {
		opts = append(opts, api.WithStore(c.store))
	}

	router := api.NewRouter(api.NewHandlers(c.engine, opts...), api.RouterConfig{
		ServiceName:  a.cfg.Telemetry.OTel.ServiceName,
		Gatherer:     registry,
		MaxBodyBytes: a.cfg.Server.MaxBodyBytes,
	})

	a.logger.Info("Starting bench API",
		"addr", a.cfg.Server.Addr,
		"history", c.store != nil,
		"telemetry", c.sink != nil)
	return api.Serve(ctx, a.cfg.Server.Addr, router, a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout)
}
