// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api exposes the benchmark engine over HTTP.
//
// Clients post recorded durations for analysis, browse the stored report
// history, check a stored report for regressions and run power
// calculations. Operations are never executed by the server.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianBench/services/bench/ab"
	"github.com/AleutianAI/AleutianBench/services/bench/engine"
	"github.com/AleutianAI/AleutianBench/services/bench/eval"
	"github.com/AleutianAI/AleutianBench/services/bench/regression"
	"github.com/AleutianAI/AleutianBench/services/bench/source"
)

const (
	defaultListLimit = 20
	maxListLimit     = 1000
)

// Handlers serves the /v1/bench endpoints.
//
// Thread Safety: Safe for concurrent use.
type Handlers struct {
	engine        *engine.Engine
	store         regression.Store
	detector      *regression.Detector
	maxOperations int
	logger        *slog.Logger
}

// HandlerOption configures Handlers.
type HandlerOption func(*Handlers)

// WithStore enables the history endpoints.
func WithStore(store regression.Store) HandlerOption {
	return func(h *Handlers) { h.store = store }
}

// WithDetector sets the detector used by the regressions endpoint.
func WithDetector(detector *regression.Detector) HandlerOption {
	return func(h *Handlers) { h.detector = detector }
}

// WithMaxOperations caps the operations per analyze request. Default: 64.
func WithMaxOperations(n int) HandlerOption {
	return func(h *Handlers) { h.maxOperations = n }
}

// WithLogger sets the logger. Nil is ignored.
func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handlers) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandlers creates the handlers.
//
// Inputs:
//   - e: The engine used for analysis. Must not be nil. Configure it
//     with engine.WithStore to persist analyzed reports.
//   - opts: Optional settings.
func NewHandlers(e *engine.Engine, opts ...HandlerOption) *Handlers {
	h := &Handlers{
		engine:        e,
		maxOperations: 64,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.detector == nil {
		// The default configuration always validates.
		h.detector, _ = regression.NewDetector()
	}
	return h
}

// HandleAnalyze handles POST /v1/bench/analyze.
//
// Description:
//
//	Builds a report from the posted durations. The report is saved when
//	the engine has a store.
//
// Request Body:
//
//	AnalyzeRequest
//
// Response:
//
//	200 OK: report.Report
//	400 Bad Request: Malformed body or invalid durations
//	413 Request Entity Too Large: More than the allowed operations
//	422 Unprocessable Entity: Too few samples to compare
//	500 Internal Server Error: Processing error
func (h *Handlers) HandleAnalyze(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleAnalyze")

	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		})
		return
	}
	if len(req.Operations) > h.maxOperations {
		c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{
			Error: "Too many operations",
			Code:  "TOO_MANY_OPERATIONS",
			Details: "at most " + strconv.Itoa(h.maxOperations) + " operations per request, got " +
				strconv.Itoa(len(req.Operations)),
		})
		return
	}

	sets, err := source.Document{Operations: req.Operations, CPU: req.CPU}.SampleSets()
	if err != nil {
		writeError(c, err, "ANALYZE_FAILED")
		return
	}

	r, err := h.engine.Analyze(c.Request.Context(), sets)
	if err != nil {
		logger.Warn("Analysis failed", "error", err)
		writeError(c, err, "ANALYZE_FAILED")
		return
	}

	logger.Info("Analysis complete",
		"report_id", r.ID,
		"operations", len(r.Operations),
		"comparisons", len(r.Comparisons))
	c.JSON(http.StatusOK, r)
}

// HandleListReports handles GET /v1/bench/reports.
//
// Query Parameters:
//
//	limit - Maximum entries (default 20, max 1000)
//
// Response:
//
//	200 OK: ListReportsResponse
//	400 Bad Request: Invalid limit
//	503 Service Unavailable: History disabled
func (h *Handlers) HandleListReports(c *gin.Context) {
	getOrCreateRequestID(c)
	if !h.requireStore(c) {
		return
	}

	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxListLimit {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "limit must be between 1 and " + strconv.Itoa(maxListLimit),
				Code:  "INVALID_LIMIT",
			})
			return
		}
		limit = n
	}

	entries, err := h.store.List(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err, "LIST_FAILED")
		return
	}
	if entries == nil {
		entries = []regression.Entry{}
	}
	c.JSON(http.StatusOK, ListReportsResponse{Reports: entries, Count: len(entries)})
}

// HandleGetReport handles GET /v1/bench/reports/:id.
//
// Response:
//
//	200 OK: report.Report
//	404 Not Found: Unknown ID
//	503 Service Unavailable: History disabled
func (h *Handlers) HandleGetReport(c *gin.Context) {
	getOrCreateRequestID(c)
	if !h.requireStore(c) {
		return
	}
	r, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, "GET_FAILED")
		return
	}
	c.JSON(http.StatusOK, r)
}

// HandleRegressions handles GET /v1/bench/reports/:id/regressions.
//
// Description:
//
//	Compares the report with the newest stored report created before
//	it.
//
// Response:
//
//	200 OK: regression.Result
//	404 Not Found: Unknown ID or no earlier report
//	503 Service Unavailable: History disabled
func (h *Handlers) HandleRegressions(c *gin.Context) {
	getOrCreateRequestID(c)
	if !h.requireStore(c) {
		return
	}
	ctx := c.Request.Context()
	id := c.Param("id")

	current, err := h.store.Get(ctx, id)
	if err != nil {
		writeError(c, err, "GET_FAILED")
		return
	}
	entries, err := h.store.List(ctx, 0)
	if err != nil {
		writeError(c, err, "LIST_FAILED")
		return
	}

	var baselineID string
	for i, e := range entries {
		if e.ID == id && i+1 < len(entries) {
			baselineID = entries[i+1].ID
			break
		}
	}
	if baselineID == "" {
		writeError(c, regression.ErrNoBaseline, "NO_BASELINE")
		return
	}
	baseline, err := h.store.Get(ctx, baselineID)
	if err != nil {
		writeError(c, err, "GET_FAILED")
		return
	}

	result, err := h.detector.Detect(baseline, current)
	if err != nil {
		writeError(c, err, "DETECT_FAILED")
		return
	}
	c.JSON(http.StatusOK, result)
}

// HandlePower handles POST /v1/bench/power.
//
// Description:
//
//	With both A and B set, estimates the power of their comparison and
//	the per-group size for the target power. Otherwise returns the size
//	needed to detect Effect.
//
// Response:
//
//	200 OK: PowerResponse
//	400 Bad Request: Invalid request
func (h *Handlers) HandlePower(c *gin.Context) {
	getOrCreateRequestID(c)

	var req PowerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		})
		return
	}
	if req.Alpha == 0 {
		req.Alpha = 0.05
	}
	if req.Power == 0 {
		req.Power = 0.8
	}

	resp := PowerResponse{Alpha: req.Alpha, Power: req.Power, Effect: req.Effect}
	if len(req.A) > 0 || len(req.B) > 0 {
		analysis, err := ab.Analyze(req.A, req.B, req.Alpha, req.Power)
		if err != nil {
			writeError(c, err, "POWER_FAILED")
			return
		}
		resp.Analysis = &analysis
		resp.Effect = analysis.EffectSize
		resp.RequiredSampleSize = analysis.RequiredSampleSize
		c.JSON(http.StatusOK, resp)
		return
	}

	if req.Effect <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "either a and b or a positive effect is required",
			Code:  "INVALID_REQUEST",
		})
		return
	}
	n, err := ab.RequiredSampleSize(req.Effect, req.Power, req.Alpha)
	if err != nil {
		writeError(c, err, "POWER_FAILED")
		return
	}
	resp.RequiredSampleSize = n
	c.JSON(http.StatusOK, resp)
}

// HandleHealth handles GET /v1/bench/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:         "healthy",
		Version:        ServiceVersion,
		HistoryEnabled: h.store != nil,
		Timestamp:      time.Now().UnixMilli(),
	})
}

func (h *Handlers) requireStore(c *gin.Context) bool {
	if h.store != nil {
		return true
	}
	c.JSON(http.StatusServiceUnavailable, ErrorResponse{
		Error: "report history is disabled",
		Code:  "HISTORY_DISABLED",
	})
	return false
}

// writeError maps engine errors to HTTP statuses. fallback is the code
// used for unclassified failures.
func writeError(c *gin.Context, err error, fallback string) {
	status, code := http.StatusInternalServerError, fallback
	switch {
	case errors.Is(err, regression.ErrReportNotFound):
		status, code = http.StatusNotFound, "REPORT_NOT_FOUND"
	case errors.Is(err, regression.ErrNoBaseline):
		status, code = http.StatusNotFound, "NO_BASELINE"
	case errors.Is(err, eval.ErrInvalidConfiguration):
		status, code = http.StatusBadRequest, "INVALID_INPUT"
	case errors.Is(err, eval.ErrEmptyInput):
		status, code = http.StatusBadRequest, "EMPTY_INPUT"
	case errors.Is(err, eval.ErrInsufficientData):
		status, code = http.StatusUnprocessableEntity, "INSUFFICIENT_DATA"
	case errors.Is(err, regression.ErrStoreClosed):
		status, code = http.StatusServiceUnavailable, "HISTORY_CLOSED"
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
}

// getOrCreateRequestID echoes X-Request-ID, generating one if absent.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
