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
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"
)

func mustAdd(t *testing.T, g *Graph, names ...string) {
	t.Helper()
	for _, name := range names {
		if _, err := g.AddNode(name, name+"-instruction", "svc"); err != nil {
			t.Fatalf("AddNode(%q) error = %v", name, err)
		}
	}
}

func mustWire(t *testing.T, g *Graph, dependent, dependency string) {
	t.Helper()
	if err := g.AddDependency(dependent, dependency); err != nil {
		t.Fatalf("AddDependency(%q, %q) error = %v", dependent, dependency, err)
	}
}

// --- AddNode ---

func TestGraph_AddNode(t *testing.T) {
	g := NewGraph("test")

	n, err := g.AddNode("fetch", "AAPL", "timeseries", WithTimeout(time.Second))
	if err != nil {
		t.Fatalf("AddNode() error = %v", err)
	}

	if n.Name() != "fetch" {
		t.Errorf("Name() = %q, want %q", n.Name(), "fetch")
	}
	if n.Instruction() != "AAPL" {
		t.Errorf("Instruction() = %v, want %q", n.Instruction(), "AAPL")
	}
	if n.ServiceRef() != "timeseries" {
		t.Errorf("ServiceRef() = %q, want %q", n.ServiceRef(), "timeseries")
	}
	if n.Timeout() != time.Second {
		t.Errorf("Timeout() = %v, want 1s", n.Timeout())
	}
	if g.Len() != 1 {
		t.Errorf("Len() = %d, want 1", g.Len())
	}
}

func TestGraph_AddNode_Duplicate(t *testing.T) {
	g := NewGraph("test")
	mustAdd(t, g, "a")

	_, err := g.AddNode("a", nil, "svc")
	if !errors.Is(err, ErrDuplicateNode) {
		t.Fatalf("error = %v, want %v", err, ErrDuplicateNode)
	}

	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error should be a ConfigurationError, got %T", err)
	}
	if cfgErr.Kind != KindDuplicateNode || cfgErr.Node != "a" {
		t.Errorf("ConfigurationError = %+v, want kind %q node %q", cfgErr, KindDuplicateNode, "a")
	}
}

func TestGraph_AddNode_EmptyName(t *testing.T) {
	g := NewGraph("test")
	if _, err := g.AddNode("", nil, "svc"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("error = %v, want %v", err, ErrInvalidInput)
	}
}

// --- AddDependency ---

func TestGraph_AddDependency_UpdatesBothSides(t *testing.T) {
	g := NewGraph("test")
	mustAdd(t, g, "fetch", "summarize")
	mustWire(t, g, "summarize", "fetch")

	summarize, _ := g.Node("summarize")
	fetch, _ := g.Node("fetch")

	if got := summarize.Dependencies(); !reflect.DeepEqual(got, []string{"fetch"}) {
		t.Errorf("summarize.Dependencies() = %v, want [fetch]", got)
	}
	if got := fetch.Consumers(); !reflect.DeepEqual(got, []string{"summarize"}) {
		t.Errorf("fetch.Consumers() = %v, want [summarize]", got)
	}
	if !summarize.DependsOn("fetch") {
		t.Error("summarize.DependsOn(fetch) = false, want true")
	}
	if got := g.Edges(); !reflect.DeepEqual(got, []Edge{{From: "fetch", To: "summarize"}}) {
		t.Errorf("Edges() = %v", got)
	}
}

func TestGraph_AddDependency_Idempotent(t *testing.T) {
	g := NewGraph("test")
	mustAdd(t, g, "a", "b")
	mustWire(t, g, "a", "b")
	mustWire(t, g, "a", "b")

	a, _ := g.Node("a")
	b, _ := g.Node("b")
	if len(a.Dependencies()) != 1 {
		t.Errorf("a.Dependencies() = %v, want exactly one edge", a.Dependencies())
	}
	if len(b.Consumers()) != 1 {
		t.Errorf("b.Consumers() = %v, want exactly one edge", b.Consumers())
	}
	if len(g.Edges()) != 1 {
		t.Errorf("len(Edges()) = %d, want 1", len(g.Edges()))
	}
}

func TestGraph_AddDependency_UnknownNode(t *testing.T) {
	tests := []struct {
		name       string
		dependent  string
		dependency string
		wantNode   string
	}{
		{"unknown dependent", "ghost", "a", "ghost"},
		{"unknown dependency", "a", "ghost", "ghost"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGraph("test")
			mustAdd(t, g, "a")

			err := g.AddDependency(tt.dependent, tt.dependency)
			if !errors.Is(err, ErrUnknownNode) {
				t.Fatalf("error = %v, want %v", err, ErrUnknownNode)
			}
			var cfgErr *ConfigurationError
			if !errors.As(err, &cfgErr) || cfgErr.Kind != KindUnknownNode {
				t.Fatalf("error = %v, want ConfigurationError of kind %q", err, KindUnknownNode)
			}
			if cfgErr.Node != tt.wantNode {
				t.Errorf("Node = %q, want %q", cfgErr.Node, tt.wantNode)
			}

			a, _ := g.Node("a")
			if len(a.Dependencies()) != 0 || len(a.Consumers()) != 0 {
				t.Error("failed AddDependency must not wire anything")
			}
		})
	}
}

func TestGraph_AddDependency_SelfEdge(t *testing.T) {
	g := NewGraph("test")
	mustAdd(t, g, "a")

	err := g.AddDependency("a", "a")
	if !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("error = %v, want %v", err, ErrCycleDetected)
	}
	if !IsConfigurationError(err) {
		t.Errorf("IsConfigurationError(%v) = false", err)
	}
}

func TestGraph_ConcurrentWiring(t *testing.T) {
	g := NewGraph("test")
	mustAdd(t, g, "sink")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := string(rune('a' + i))
			if _, err := g.AddNode(name, nil, "svc"); err != nil {
				t.Errorf("AddNode(%q) error = %v", name, err)
				return
			}
			if err := g.AddDependency("sink", name); err != nil {
				t.Errorf("AddDependency error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	sink, _ := g.Node("sink")
	if len(sink.Dependencies()) != 20 {
		t.Errorf("sink has %d dependencies, want 20", len(sink.Dependencies()))
	}
}

// --- Roots ---

func TestGraph_Roots_InsertionOrder(t *testing.T) {
	g := NewGraph("test")
	mustAdd(t, g, "c", "a", "d", "b")
	// Edge insertion order differs from node insertion order.
	mustWire(t, g, "d", "b")
	mustWire(t, g, "d", "a")

	got := nodeNames(g.Roots())
	want := []string{"c", "a", "b"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Roots() = %v, want %v", got, want)
	}
}

func TestGraph_Roots_ExactlyEmptyDependencySet(t *testing.T) {
	g := NewGraph("test")
	mustAdd(t, g, "a", "b", "c", "d")
	mustWire(t, g, "b", "a")
	mustWire(t, g, "c", "b")
	mustWire(t, g, "c", "d")

	for _, n := range g.Roots() {
		if len(n.Dependencies()) != 0 {
			t.Errorf("root %q has dependencies %v", n.Name(), n.Dependencies())
		}
	}
	if got := nodeNames(g.Roots()); !reflect.DeepEqual(got, []string{"a", "d"}) {
		t.Errorf("Roots() = %v, want [a d]", got)
	}
}

// --- Validate ---

func TestGraph_Validate_Acyclic(t *testing.T) {
	g := NewGraph("test")
	mustAdd(t, g, "a", "b", "c", "d")
	mustWire(t, g, "b", "a")
	mustWire(t, g, "c", "a")
	mustWire(t, g, "d", "b")
	mustWire(t, g, "d", "c")

	if err := g.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	order, err := g.TopologicalOrder()
	if err != nil {
		t.Fatalf("TopologicalOrder() error = %v", err)
	}
	if !reflect.DeepEqual(order, []string{"a", "b", "c", "d"}) {
		t.Errorf("TopologicalOrder() = %v, want [a b c d]", order)
	}
}

func TestGraph_Validate_Cycle(t *testing.T) {
	g := NewGraph("test")
	mustAdd(t, g, "root", "x", "y")
	mustWire(t, g, "x", "y")
	mustWire(t, g, "y", "x")

	err := g.Validate()
	if !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("Validate() error = %v, want %v", err, ErrCycleDetected)
	}

	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("error should wrap a CycleError, got %T", err)
	}
	want := []string{"x", "y", "x"}
	if !reflect.DeepEqual(cycleErr.Path, want) {
		t.Errorf("Path = %v, want %v", cycleErr.Path, want)
	}
}

func TestGraph_Validate_CycleBehindRoot(t *testing.T) {
	g := NewGraph("test")
	mustAdd(t, g, "a", "b", "c", "d")
	mustWire(t, g, "b", "a")
	mustWire(t, g, "c", "b")
	mustWire(t, g, "d", "c")
	mustWire(t, g, "b", "d")

	err := g.Validate()
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("Validate() error = %v, want CycleError", err)
	}
	want := []string{"b", "d", "c", "b"}
	if !reflect.DeepEqual(cycleErr.Path, want) {
		t.Errorf("Path = %v, want %v", cycleErr.Path, want)
	}
}

func TestGraph_Validate_Empty(t *testing.T) {
	if err := NewGraph("empty").Validate(); err != nil {
		t.Errorf("Validate() on empty graph error = %v", err)
	}
}

// --- RenderTree ---

func TestGraph_RenderTree(t *testing.T) {
	g := NewGraph("test")
	if _, err := g.AddNode("fetch", nil, "timeseries"); err != nil {
		t.Fatal(err)
	}
	if _, err := g.AddNode("search", nil, "docsearch"); err != nil {
		t.Fatal(err)
	}
	if _, err := g.AddNode("summarize", nil, "analysis"); err != nil {
		t.Fatal(err)
	}
	if _, err := g.AddNode("notes", nil, ""); err != nil {
		t.Fatal(err)
	}
	mustWire(t, g, "summarize", "fetch")
	mustWire(t, g, "summarize", "search")
	mustWire(t, g, "notes", "summarize")

	want := []string{
		"fetch (timeseries)",
		"  summarize (analysis)",
		"    notes",
		"search (docsearch)",
		"  summarize [see above]",
	}
	if got := g.RenderTree(); !reflect.DeepEqual(got, want) {
		t.Errorf("RenderTree() =\n%v\nwant\n%v", got, want)
	}
}

func TestGraph_RenderTree_LayeredGraphStaysLinear(t *testing.T) {
	// Two nodes per layer, each depending on both nodes of the layer above:
	// the number of root-to-leaf paths doubles with every layer.
	const layers = 40
	g := NewGraph("layered")
	for i := 0; i < layers; i++ {
		for _, side := range []string{"a", "b"} {
			if _, err := g.AddNode(fmt.Sprintf("%s%d", side, i), nil, ""); err != nil {
				t.Fatal(err)
			}
		}
		if i == 0 {
			continue
		}
		for _, side := range []string{"a", "b"} {
			mustWire(t, g, fmt.Sprintf("%s%d", side, i), fmt.Sprintf("a%d", i-1))
			mustWire(t, g, fmt.Sprintf("%s%d", side, i), fmt.Sprintf("b%d", i-1))
		}
	}

	lines := g.RenderTree()
	if bound := g.Len() + len(g.Edges()); len(lines) > bound {
		t.Fatalf("RenderTree() produced %d lines, want at most %d", len(lines), bound)
	}

	expanded := 0
	for _, l := range lines {
		if !strings.HasSuffix(l, "[see above]") {
			expanded++
		}
	}
	if expanded != g.Len() {
		t.Errorf("expanded %d nodes, want each of the %d nodes exactly once", expanded, g.Len())
	}
}

func TestGraph_RenderTree_Cycles(t *testing.T) {
	g := NewGraph("test")
	mustAdd(t, g, "r", "x", "y", "p", "q")
	mustWire(t, g, "x", "r")
	mustWire(t, g, "y", "x")
	mustWire(t, g, "x", "y")
	mustWire(t, g, "p", "q")
	mustWire(t, g, "q", "p")

	want := []string{
		"r (svc)",
		"  x (svc)",
		"    y (svc)",
		"      x [cycle]",
		"p (svc) [unreachable]",
		"q (svc) [unreachable]",
	}
	if got := g.RenderTree(); !reflect.DeepEqual(got, want) {
		t.Errorf("RenderTree() =\n%v\nwant\n%v", got, want)
	}
}

func TestRenderTree_NilAndEmpty(t *testing.T) {
	if got := RenderTree(nil); got != nil {
		t.Errorf("RenderTree(nil) = %v, want nil", got)
	}
	if got := RenderTree(NewGraph("empty")); len(got) != 0 {
		t.Errorf("RenderTree(empty) = %v, want no lines", got)
	}
}
