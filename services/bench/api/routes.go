// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RegisterRoutes registers the /bench endpoints on rg.
//
// Endpoints:
//
//	POST /v1/bench/analyze - Analyze recorded durations
//	GET  /v1/bench/reports - List stored reports
//	GET  /v1/bench/reports/:id - Get a stored report
//	GET  /v1/bench/reports/:id/regressions - Check a report against its predecessor
//	POST /v1/bench/power - Power and sample-size calculations
//	GET  /v1/bench/health - Health check
//
// Example:
//
//	v1 := router.Group("/v1")
//	api.RegisterRoutes(v1, api.NewHandlers(e, api.WithStore(store)))
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	bench := rg.Group("/bench")
	{
		bench.POST("/analyze", handlers.HandleAnalyze)

		bench.GET("/reports", handlers.HandleListReports)
		bench.GET("/reports/:id", handlers.HandleGetReport)
		bench.GET("/reports/:id/regressions", handlers.HandleRegressions)

		bench.POST("/power", handlers.HandlePower)

		bench.GET("/health", handlers.HandleHealth)
	}
}

// RouterConfig configures NewRouter.
type RouterConfig struct {
	// ServiceName names the otelgin spans. Default: "aleutian-bench".
	ServiceName string

	// Gatherer backs GET /metrics. Nil uses prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer

	// MaxBodyBytes caps request bodies. Zero disables the cap.
	MaxBodyBytes int64
}

// NewRouter builds a gin engine with tracing, recovery, a body limit,
// /metrics and the /v1/bench routes.
func NewRouter(handlers *Handlers, cfg RouterConfig) *gin.Engine {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "aleutian-bench"
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	if cfg.MaxBodyBytes > 0 {
		router.Use(bodyLimit(cfg.MaxBodyBytes))
	}

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := router.Group("/v1")
	RegisterRoutes(v1, handlers)
	return router
}

func bodyLimit(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}

// Serve runs handler on addr until ctx is done, then shuts down within
// five seconds.
//
// Outputs:
//   - error: nil after a clean shutdown, otherwise the listen or shutdown
//     error.
func Serve(ctx context.Context, addr string, handler http.Handler, readTimeout, writeTimeout time.Duration) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("bench API listening", "addr", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}
