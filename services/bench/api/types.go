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
	"github.com/AleutianAI/AleutianBench/services/bench/ab"
	"github.com/AleutianAI/AleutianBench/services/bench/regression"
)

// ServiceVersion is reported by the health endpoint.
const ServiceVersion = "1.0.0"

// AnalyzeRequest carries recorded durations in nanoseconds.
type AnalyzeRequest struct {
	// Operations maps operation name to wall durations.
	Operations map[string][]float64 `json:"operations" binding:"required,min=1,dive,keys,required,endkeys,min=1"`

	// CPU optionally maps operation name to CPU durations, aligned with
	// Operations.
	CPU map[string][]float64 `json:"cpu,omitempty"`
}

// PowerRequest asks either for the power of an observed comparison (A
// and B set) or for the sample size needed to detect Effect.
type PowerRequest struct {
	A []float64 `json:"a,omitempty"`
	B []float64 `json:"b,omitempty"`

	// Effect is the |Cliff's delta| to detect when A and B are absent.
	Effect float64 `json:"effect,omitempty" binding:"gte=0,lte=1"`

	// Alpha defaults to 0.05.
	Alpha float64 `json:"alpha,omitempty" binding:"gte=0,lt=1"`

	// Power is the target power. Defaults to 0.8.
	Power float64 `json:"power,omitempty" binding:"gte=0,lt=1"`
}

// PowerResponse answers a PowerRequest. Analysis is set for observed
// comparisons.
type PowerResponse struct {
	Analysis           *ab.PowerAnalysis `json:"analysis,omitempty"`
	RequiredSampleSize int               `json:"required_sample_size"`
	Effect             float64           `json:"effect"`
	Alpha              float64           `json:"alpha"`
	Power              float64           `json:"power"`
}

// ListReportsResponse lists stored reports, newest first.
type ListReportsResponse struct {
	Reports []regression.Entry `json:"reports"`
	Count   int                `json:"count"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	HistoryEnabled bool   `json:"history_enabled"`
	Timestamp      int64  `json:"timestamp"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is a stable machine-readable code.
	Code string `json:"code,omitempty"`

	// Details provides additional error context (optional).
	Details string `json:"details,omitempty"`
}
