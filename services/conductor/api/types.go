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
	"time"

	"github.com/AleutianAI/conductor/services/conductor/dag"
	"github.com/AleutianAI/conductor/services/conductor/history"
)

// Error codes returned in ErrorResponse.Code.
const (
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeInvalidPlan     = "INVALID_PLAN"
	CodeConfiguration   = "CONFIGURATION_ERROR"
	CodeRunFailed       = "RUN_FAILED"
	CodeNotFound        = "NOT_FOUND"
	CodeHistoryDisabled = "HISTORY_DISABLED"
	CodeHistoryCorrupt  = "HISTORY_CORRUPT"
	CodeInternal        = "INTERNAL_ERROR"
)

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code.
	Code string `json:"code,omitempty"`

	// Details provides additional error context (optional).
	Details string `json:"details,omitempty"`
}

// RunResponse is returned by POST /v1/runs and by "conductor run --json".
type RunResponse struct {
	RunID      string                    `json:"run_id"`
	Graph      string                    `json:"graph"`
	Succeeded  bool                      `json:"succeeded"`
	Outputs    map[string]any            `json:"outputs"`
	Failures   map[string]*dag.Failure   `json:"failures"`
	Nodes      map[string]dag.NodeReport `json:"nodes"`
	Summary    []string                  `json:"summary,omitempty"`
	StartedAt  time.Time                 `json:"started_at"`
	DurationMs int64                     `json:"duration_ms"`
}

// NewRunResponse converts an execution result for output.
func NewRunResponse(res *dag.ExecutionResult) RunResponse {
	return RunResponse{
		RunID:      res.RunID,
		Graph:      res.Graph,
		Succeeded:  res.Succeeded(),
		Outputs:    res.Outputs,
		Failures:   res.Failures,
		Nodes:      res.Nodes,
		Summary:    res.Summary(),
		StartedAt:  res.StartedAt,
		DurationMs: res.Duration.Milliseconds(),
	}
}

// TreeResponse is returned by POST /v1/plans/tree.
type TreeResponse struct {
	Graph string   `json:"graph"`
	Nodes int      `json:"nodes"`
	Order []string `json:"order"`
	Tree  []string `json:"tree"`
}

// ServiceInfo describes one catalog entry.
type ServiceInfo struct {
	Name         string   `json:"name"`
	Kind         string   `json:"kind"`
	Capabilities []string `json:"capabilities"`
	TimeoutMs    int64    `json:"timeout_ms,omitempty"`
	Description  string   `json:"description,omitempty"`
}

// ServicesResponse is returned by GET /v1/services.
type ServicesResponse struct {
	Services []ServiceInfo `json:"services"`
}

// RunsResponse is returned by GET /v1/runs.
type RunsResponse struct {
	Runs []*history.Record `json:"runs"`
}

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version,omitempty"`
	Services int    `json:"services"`
	History  bool   `json:"history"`
}
