// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dag

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Reasons recorded for skipped nodes.
const (
	ReasonDependencyFailed = "dependency failed"
	ReasonRunCancelled     = "run cancelled"
)

// FailureKind classifies a Failure for reporting.
type FailureKind string

const (
	FailureService          FailureKind = "service_error"
	FailureServiceNotFound  FailureKind = "service_not_found"
	FailureTimeout          FailureKind = "timeout"
	FailurePanic            FailureKind = "panic"
	FailureDependencyFailed FailureKind = "dependency_failed"
	FailureCancelled        FailureKind = "cancelled"
)

// Failure records why a node did not produce an output.
type Failure struct {
	Node   string      `json:"node"`
	Status NodeStatus  `json:"status"`
	Kind   FailureKind `json:"kind"`
	Reason string      `json:"reason"`

	// Cause names the failed upstream node for dependency skips.
	Cause string `json:"cause,omitempty"`

	Err error `json:"-"`
}

// Error implements the error interface.
func (f *Failure) Error() string {
	if f.Cause != "" {
		return fmt.Sprintf("node %q %s: %s (%s)", f.Node, f.Status, f.Reason, f.Cause)
	}
	return fmt.Sprintf("node %q %s: %s", f.Node, f.Status, f.Reason)
}

// Unwrap returns the underlying error.
func (f *Failure) Unwrap() error {
	return f.Err
}

// NodeReport captures one node's timeline in a run.
type NodeReport struct {
	Status       NodeStatus    `json:"status"`
	DispatchedAt time.Time     `json:"dispatched_at,omitzero"`
	CompletedAt  time.Time     `json:"completed_at,omitzero"`
	Duration     time.Duration `json:"duration_ns,omitempty"`
}

// ExecutionResult is the aggregate outcome of a run.
//
// Description:
//
//	Outputs holds one entry per node that reached Done. Failures holds one
//	entry per node that Failed or was Skipped. Together they cover every
//	node of the graph. Nodes carries per-node timestamps for diagnostics.
//	The result is a consistent snapshot only once Run has returned.
type ExecutionResult struct {
	RunID     string                `json:"run_id"`
	Graph     string                `json:"graph"`
	Outputs   map[string]any        `json:"outputs"`
	Failures  map[string]*Failure   `json:"failures"`
	Nodes     map[string]NodeReport `json:"nodes"`
	StartedAt time.Time             `json:"started_at"`
	Duration  time.Duration         `json:"duration_ns"`
}

func newExecutionResult(runID, graph string, started time.Time) *ExecutionResult {
	return &ExecutionResult{
		RunID:     runID,
		Graph:     graph,
		Outputs:   make(map[string]any),
		Failures:  make(map[string]*Failure),
		Nodes:     make(map[string]NodeReport),
		StartedAt: started,
	}
}

// Succeeded reports whether every node reached Done.
func (r *ExecutionResult) Succeeded() bool {
	return len(r.Failures) == 0
}

// Order returns all node names in the result, sorted.
func (r *ExecutionResult) Order() []string {
	names := make([]string, 0, len(r.Nodes))
	for name := range r.Nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Counts returns the number of nodes per terminal status.
func (r *ExecutionResult) Counts() map[NodeStatus]int {
	counts := make(map[NodeStatus]int, 3)
	for _, rep := range r.Nodes {
		counts[rep.Status]++
	}
	return counts
}

// Summary returns one human-readable line per failure, sorted by node name.
//
// Example:
//
//	node "a" failed: service "flaky": boom
//	node "c" skipped: dependency failed (a)
func (r *ExecutionResult) Summary() []string {
	names := make([]string, 0, len(r.Failures))
	for name := range r.Failures {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := make([]string, len(names))
	for i, name := range names {
		lines[i] = r.Failures[name].Error()
	}
	return lines
}

// classifyFailure maps a node error to a FailureKind.
func classifyFailure(err error) FailureKind {
	switch {
	case errors.Is(err, ErrRunCancelled):
		return FailureCancelled
	case errors.Is(err, ErrDependencyFailed):
		return FailureDependencyFailed
	case errors.Is(err, ErrNodeTimeout):
		return FailureTimeout
	case errors.Is(err, ErrServicePanic):
		return FailurePanic
	case errors.Is(err, ErrServiceNotFound):
		return FailureServiceNotFound
	default:
		return FailureService
	}
}
