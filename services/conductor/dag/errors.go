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
	"strings"
)

// Sentinel errors for graph construction and execution.
var (
	// ErrNilContext is returned when a nil context is passed.
	ErrNilContext = errors.New("context must not be nil")

	// ErrNilGraph is returned when Run is called without a graph.
	ErrNilGraph = errors.New("graph must not be nil")

	// ErrInvalidInput is returned for malformed arguments (empty names, nil services).
	ErrInvalidInput = errors.New("invalid input")

	// ErrDuplicateNode is returned when adding a node whose name already exists.
	ErrDuplicateNode = errors.New("node with this name already exists")

	// ErrUnknownNode is returned when an edge references a node that was never added.
	ErrUnknownNode = errors.New("unknown node")

	// ErrCycleDetected is returned when the dependency relation is not acyclic.
	ErrCycleDetected = errors.New("cycle detected in graph")

	// ErrAlreadyRunning is returned when a graph is mutated or run while a run is in progress.
	ErrAlreadyRunning = errors.New("graph is already running")

	// ErrServiceNotFound is returned by a ServiceLocator for an unknown service reference.
	ErrServiceNotFound = errors.New("service not found")

	// ErrDuplicateService is returned when registering a service name twice.
	ErrDuplicateService = errors.New("service with this name already registered")

	// ErrServicePanic marks a service body that panicked during invocation.
	ErrServicePanic = errors.New("service panicked")

	// ErrNodeTimeout is returned when a node exceeds its timeout.
	ErrNodeTimeout = errors.New("node execution timed out")

	// ErrDependencyFailed marks a node skipped because an upstream node failed.
	ErrDependencyFailed = errors.New("dependency failed")

	// ErrRunCancelled marks a node skipped because the run was cancelled.
	ErrRunCancelled = errors.New("run cancelled")
)

// ConfigKind classifies a ConfigurationError.
type ConfigKind string

const (
	// KindDuplicateNode is a second node registered under an existing name.
	KindDuplicateNode ConfigKind = "duplicate_node"

	// KindUnknownNode is an edge naming a node that does not exist.
	KindUnknownNode ConfigKind = "unknown_node"

	// KindCycle is a dependency cycle.
	KindCycle ConfigKind = "cycle"
)

// ConfigurationError is a fatal graph-shape error.
//
// Description:
//
//	Raised by AddNode and AddDependency while the graph is built, and by
//	Scheduler.Run before any node is dispatched. A run never starts when
//	the graph carries a configuration error.
//
// Example:
//
//	var cfgErr *dag.ConfigurationError
//	if errors.As(err, &cfgErr) && cfgErr.Kind == dag.KindCycle {
//	    // reject the plan
//	}
type ConfigurationError struct {
	Kind ConfigKind
	Node string
	Err  error
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	if e.Node == "" {
		return fmt.Sprintf("configuration error (%s): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("configuration error (%s) at node %q: %v", e.Kind, e.Node, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// IsConfigurationError reports whether err is or wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}

// NodeError wraps an error with the name of the node it concerns.
type NodeError struct {
	NodeName string
	Err      error
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	return fmt.Sprintf("node %q: %v", e.NodeName, e.Err)
}

// Unwrap returns the underlying error.
func (e *NodeError) Unwrap() error {
	return e.Err
}

// NewNodeError creates a NodeError.
func NewNodeError(nodeName string, err error) *NodeError {
	return &NodeError{NodeName: nodeName, Err: err}
}

// CycleError describes a dependency cycle.
//
// Path lists node names along dependency edges, first and last entries equal.
type CycleError struct {
	Path []string
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return "cycle detected: " + strings.Join(e.Path, " -> ")
}

// Unwrap returns ErrCycleDetected so errors.Is works against the sentinel.
func (e *CycleError) Unwrap() error {
	return ErrCycleDetected
}

// NewCycleError creates a CycleError.
func NewCycleError(path []string) *CycleError {
	return &CycleError{Path: path}
}

// ServiceError is a failure raised by a service body.
//
// Every non-successful invocation is converted into a ServiceError before
// the scheduler records it, so callers can rely on errors.As.
type ServiceError struct {
	Service string
	Err     error
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	return fmt.Sprintf("service %q: %v", e.Service, e.Err)
}

// Unwrap returns the underlying error.
func (e *ServiceError) Unwrap() error {
	return e.Err
}
