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
	"testing"
	"time"
)

func TestConfigurationError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *ConfigurationError
		want string
	}{
		{
			name: "with node",
			err:  &ConfigurationError{Kind: KindDuplicateNode, Node: "a", Err: ErrDuplicateNode},
			want: `configuration error (duplicate_node) at node "a": node with this name already exists`,
		},
		{
			name: "without node",
			err:  &ConfigurationError{Kind: KindCycle, Err: NewCycleError([]string{"x", "y", "x"})},
			want: "configuration error (cycle): cycle detected: x -> y -> x",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsConfigurationError(t *testing.T) {
	wrapped := fmt.Errorf("load plan: %w", &ConfigurationError{Kind: KindUnknownNode, Err: ErrUnknownNode})
	if !IsConfigurationError(wrapped) {
		t.Error("IsConfigurationError(wrapped) = false, want true")
	}
	if IsConfigurationError(ErrUnknownNode) {
		t.Error("IsConfigurationError(sentinel) = true, want false")
	}
}

func TestNodeError(t *testing.T) {
	err := NewNodeError("fetch", ErrNodeTimeout)
	if err.Error() != `node "fetch": node execution timed out` {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, ErrNodeTimeout) {
		t.Error("NodeError should unwrap to its cause")
	}
}

func TestClassifyFailure(t *testing.T) {
	tests := []struct {
		err  error
		want FailureKind
	}{
		{&ServiceError{Service: "s", Err: errors.New("x")}, FailureService},
		{&ServiceError{Service: "s", Err: fmt.Errorf("%w after 1s", ErrNodeTimeout)}, FailureTimeout},
		{&ServiceError{Service: "s", Err: fmt.Errorf("%w: oops", ErrServicePanic)}, FailurePanic},
		{fmt.Errorf("%w: %q", ErrServiceNotFound, "ghost"), FailureServiceNotFound},
		{fmt.Errorf("%w: a", ErrDependencyFailed), FailureDependencyFailed},
		{fmt.Errorf("%w: %w", ErrRunCancelled, errors.New("ctx")), FailureCancelled},
	}

	for _, tt := range tests {
		if got := classifyFailure(tt.err); got != tt.want {
			t.Errorf("classifyFailure(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestExecutionResult_Helpers(t *testing.T) {
	r := newExecutionResult("run", "g", time.Time{})
	r.Nodes["b"] = NodeReport{Status: NodeStatusDone}
	r.Nodes["a"] = NodeReport{Status: NodeStatusFailed}
	r.Nodes["c"] = NodeReport{Status: NodeStatusSkipped}
	r.Failures["a"] = &Failure{Node: "a", Status: NodeStatusFailed, Reason: "boom"}

	if r.Succeeded() {
		t.Error("Succeeded() = true with failures")
	}
	if got := r.Order(); fmt.Sprint(got) != "[a b c]" {
		t.Errorf("Order() = %v, want [a b c]", got)
	}
	counts := r.Counts()
	if counts[NodeStatusDone] != 1 || counts[NodeStatusFailed] != 1 || counts[NodeStatusSkipped] != 1 {
		t.Errorf("Counts() = %v", counts)
	}
	if s := r.Summary(); len(s) != 1 || s[0] != `node "a" failed: boom` {
		t.Errorf("Summary() = %v", s)
	}
}

func TestNodeStatus_Terminal(t *testing.T) {
	for _, s := range []NodeStatus{NodeStatusDone, NodeStatusFailed, NodeStatusSkipped} {
		if !s.Terminal() {
			t.Errorf("%s.Terminal() = false", s)
		}
	}
	for _, s := range []NodeStatus{NodeStatusPending, NodeStatusRunning} {
		if s.Terminal() {
			t.Errorf("%s.Terminal() = true", s)
		}
	}
}
