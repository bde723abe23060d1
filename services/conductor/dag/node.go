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

import "time"

// NodeStatus represents the execution status of a node.
type NodeStatus string

const (
	NodeStatusPending NodeStatus = "pending"
	NodeStatusRunning NodeStatus = "running"
	NodeStatusDone    NodeStatus = "done"
	NodeStatusFailed  NodeStatus = "failed"
	NodeStatusSkipped NodeStatus = "skipped"
)

// Terminal reports whether the status is final for a run.
func (s NodeStatus) Terminal() bool {
	switch s {
	case NodeStatusDone, NodeStatusFailed, NodeStatusSkipped:
		return true
	default:
		return false
	}
}

// Edge is a directed dependency edge: From must finish before To starts.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Node is a unit of schedulable work.
//
// Description:
//
//	A Node carries a stable name, an opaque instruction handed to its
//	service body, and a reference the ServiceLocator resolves to that body.
//	Dependencies and consumers are maintained by Graph.AddDependency and
//	are always inverse of each other.
//
// Thread Safety:
//
//	Wiring fields are written only while the owning Graph is being built.
//	A Node carries no run state; statuses are reported per run in
//	ExecutionResult.Nodes.
type Node struct {
	name        string
	instruction any
	serviceRef  string
	timeout     time.Duration
	index       int

	dependencies []*Node
	consumers    []*Node
	depSet       map[string]struct{}
}

// NodeOption configures a node at creation.
type NodeOption func(*Node)

// WithTimeout overrides the scheduler's per-node timeout for this node.
func WithTimeout(d time.Duration) NodeOption {
	return func(n *Node) {
		if d > 0 {
			n.timeout = d
		}
	}
}

func newNode(name string, instruction any, serviceRef string, index int, opts ...NodeOption) *Node {
	n := &Node{
		name:        name,
		instruction: instruction,
		serviceRef:  serviceRef,
		index:       index,
		depSet:      make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Name returns the node's unique identifier within its graph.
func (n *Node) Name() string {
	return n.name
}

// Instruction returns the opaque payload handed to the service body.
func (n *Node) Instruction() any {
	return n.instruction
}

// ServiceRef returns the logical service name resolved by the locator.
func (n *Node) ServiceRef() string {
	return n.serviceRef
}

// Timeout returns the node-specific timeout, or zero if none was set.
func (n *Node) Timeout() time.Duration {
	return n.timeout
}

// Dependencies returns the names of nodes that must finish first, in declaration order.
func (n *Node) Dependencies() []string {
	return nodeNames(n.dependencies)
}

// Consumers returns the names of nodes that depend on this node, in wiring order.
func (n *Node) Consumers() []string {
	return nodeNames(n.consumers)
}

// DependsOn reports whether the node has a direct dependency on name.
func (n *Node) DependsOn(name string) bool {
	_, ok := n.depSet[name]
	return ok
}


func nodeNames(nodes []*Node) []string {
	names := make([]string, len(nodes))
	for i, n := range nodes {
		names[i] = n.name
	}
	return names
}
