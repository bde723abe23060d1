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
	"fmt"
	"sync"
)

// Graph owns a set of nodes and the dependency edges between them.
//
// Description:
//
//	Graph is built once per run by a planner: AddNode for every unit of work,
//	then AddDependency for every edge. Edges always update both sides of the
//	relation, so A.Dependencies() contains B exactly when B.Consumers()
//	contains A. Cycles are tolerated while wiring (except self-edges) and
//	rejected by Validate, which the scheduler calls before dispatching.
//
// Thread Safety:
//
//	Construction methods are safe for concurrent use. While a run is in
//	progress the graph is sealed: AddNode and AddDependency return
//	ErrAlreadyRunning.
//
// Example:
//
//	g := dag.NewGraph("report")
//	g.AddNode("fetch", "AAPL last 30d", "timeseries")
//	g.AddNode("summarize", "summarize the rows", "analysis")
//	if err := g.AddDependency("summarize", "fetch"); err != nil {
//	    return err
//	}
type Graph struct {
	name string

	mu      sync.RWMutex
	nodes   map[string]*Node
	order   []*Node
	edges   []Edge
	running bool
}

// NewGraph creates an empty graph.
func NewGraph(name string) *Graph {
	return &Graph{
		name:  name,
		nodes: make(map[string]*Node),
	}
}

// Name returns the graph name used in logs, spans and run history.
func (g *Graph) Name() string {
	return g.name
}

// AddNode registers a node.
//
// Inputs:
//
//	name - Unique node name. Must not be empty.
//	instruction - Opaque payload for the service body.
//	serviceRef - Logical service name for the ServiceLocator.
//	opts - Optional node settings such as WithTimeout.
//
// Outputs:
//
//	*Node - The registered node.
//	error - ConfigurationError wrapping ErrDuplicateNode if the name exists,
//	        ErrInvalidInput for an empty name, ErrAlreadyRunning while running.
func (g *Graph) AddNode(name string, instruction any, serviceRef string, opts ...NodeOption) (*Node, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: node name must not be empty", ErrInvalidInput)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running {
		return nil, ErrAlreadyRunning
	}
	if _, exists := g.nodes[name]; exists {
		return nil, &ConfigurationError{Kind: KindDuplicateNode, Node: name, Err: ErrDuplicateNode}
	}

	n := newNode(name, instruction, serviceRef, len(g.order), opts...)
	g.nodes[name] = n
	g.order = append(g.order, n)
	return n, nil
}

// AddDependency records that dependent cannot start until dependency is done.
//
// Description:
//
//	Links dependent -> dependency and dependency -> dependent (consumer) under
//	one lock. Wiring the same edge twice is a no-op. A node depending on
//	itself is rejected immediately as a cycle.
//
// Outputs:
//
//	error - ConfigurationError wrapping ErrUnknownNode if either name is
//	        absent, or a CycleError for a self-edge.
func (g *Graph) AddDependency(dependent, dependency string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running {
		return ErrAlreadyRunning
	}

	from, ok := g.nodes[dependent]
	if !ok {
		return &ConfigurationError{Kind: KindUnknownNode, Node: dependent, Err: ErrUnknownNode}
	}
	to, ok := g.nodes[dependency]
	if !ok {
		return &ConfigurationError{
			Kind: KindUnknownNode,
			Node: dependency,
			Err:  fmt.Errorf("%w: %q referenced by %q", ErrUnknownNode, dependency, dependent),
		}
	}
	if from == to {
		return &ConfigurationError{
			Kind: KindCycle,
			Node: dependent,
			Err:  NewCycleError([]string{dependent, dependent}),
		}
	}

	if _, exists := from.depSet[dependency]; exists {
		return nil
	}

	from.depSet[dependency] = struct{}{}
	from.dependencies = append(from.dependencies, to)
	to.consumers = append(to.consumers, from)
	g.edges = append(g.edges, Edge{From: dependency, To: dependent})
	return nil
}

// Node returns the node with the given name.
func (g *Graph) Node(name string) (*Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[name]
	return n, ok
}

// Nodes returns all nodes in insertion order.
func (g *Graph) Nodes() []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Node, len(g.order))
	copy(out, g.order)
	return out
}

// NodeNames returns all node names in insertion order.
func (g *Graph) NodeNames() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return nodeNames(g.order)
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.order)
}

// Edges returns all edges in wiring order.
func (g *Graph) Edges() []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// Roots returns nodes with no dependencies in insertion order.
//
// These form the initial ready set of a run.
func (g *Graph) Roots() []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return roots(g.order)
}

// Validate checks that the dependency relation is acyclic.
//
// Outputs:
//
//	error - ConfigurationError wrapping a CycleError, or nil.
func (g *Graph) Validate() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, err := topoOrder(g.order)
	return err
}

// TopologicalOrder returns node names in a valid execution order.
//
// Ties are broken by insertion order, so the result is stable for a given graph.
func (g *Graph) TopologicalOrder() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	order, err := topoOrder(g.order)
	if err != nil {
		return nil, err
	}
	return nodeNames(order), nil
}

// seal marks the graph as running and returns a snapshot of its nodes.
func (g *Graph) seal() ([]*Node, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		return nil, ErrAlreadyRunning
	}
	g.running = true
	out := make([]*Node, len(g.order))
	copy(out, g.order)
	return out, nil
}

func (g *Graph) unseal() {
	g.mu.Lock()
	g.running = false
	g.mu.Unlock()
}

func roots(nodes []*Node) []*Node {
	out := make([]*Node, 0)
	for _, n := range nodes {
		if len(n.dependencies) == 0 {
			out = append(out, n)
		}
	}
	return out
}

// topoOrder runs Kahn's algorithm over nodes (which must be in index order).
// When nodes remain unprocessed it reports one cycle among them.
func topoOrder(nodes []*Node) ([]*Node, error) {
	indegree := make(map[*Node]int, len(nodes))
	queue := make([]*Node, 0, len(nodes))
	for _, n := range nodes {
		indegree[n] = len(n.dependencies)
		if indegree[n] == 0 {
			queue = append(queue, n)
		}
	}

	order := make([]*Node, 0, len(nodes))
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)
		for _, c := range n.consumers {
			indegree[c]--
			if indegree[c] == 0 {
				queue = append(queue, c)
			}
		}
	}

	if len(order) == len(nodes) {
		return order, nil
	}

	path := findCycle(nodes, indegree)
	return nil, &ConfigurationError{Kind: KindCycle, Node: path[0], Err: NewCycleError(path)}
}

// findCycle walks dependency edges among nodes Kahn's algorithm could not
// release. Every such node has at least one unreleased dependency, so the
// walk must revisit a node; the revisited segment is the cycle.
func findCycle(nodes []*Node, indegree map[*Node]int) []string {
	var start *Node
	for _, n := range nodes {
		if indegree[n] > 0 {
			start = n
			break
		}
	}

	pos := make(map[*Node]int)
	path := make([]string, 0)
	for n := start; n != nil; {
		if i, seen := pos[n]; seen {
			cycle := append([]string{}, path[i:]...)
			return append(cycle, n.name)
		}
		pos[n] = len(path)
		path = append(path, n.name)

		var next *Node
		for _, dep := range n.dependencies {
			if indegree[dep] > 0 {
				next = dep
				break
			}
		}
		n = next
	}
	// Unreachable for a residue produced by topoOrder.
	return path
}
