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

import "strings"

const treeIndent = "  "

// RenderTree returns a forest view of the graph for logs.
//
// Description:
//
//	Starts at each root in insertion order and follows consumer edges depth
//	first, indenting one level per edge. A node reachable along several
//	paths is expanded under the first of them; later visits print its name
//	with a "[see above]" marker, so output is bounded by nodes plus edges.
//	A node revisited on its own path is printed with a "[cycle]" marker and
//	not expanded. Nodes that no
//	root reaches (members of a rootless cycle) are listed last with an
//	"[unreachable]" marker. The output is diagnostic only and has no
//	execution side effects.
//
// Outputs:
//
//	[]string - One line per rendered node. Empty for an empty graph.
//
// Example:
//
//	fetch (timeseries)
//	  summarize (analysis)
func (g *Graph) RenderTree() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	lines := make([]string, 0, len(g.order))
	seen := make(map[*Node]bool, len(g.order))
	onPath := make(map[*Node]bool)

	var walk func(n *Node, depth int)
	walk = func(n *Node, depth int) {
		prefix := strings.Repeat(treeIndent, depth)
		if onPath[n] {
			lines = append(lines, prefix+n.name+" [cycle]")
			return
		}
		if seen[n] {
			lines = append(lines, prefix+n.name+" [see above]")
			return
		}
		seen[n] = true
		lines = append(lines, prefix+nodeLabel(n))

		onPath[n] = true
		for _, c := range n.consumers {
			walk(c, depth+1)
		}
		onPath[n] = false
	}

	for _, r := range roots(g.order) {
		walk(r, 0)
	}

	for _, n := range g.order {
		if !seen[n] {
			lines = append(lines, nodeLabel(n)+" [unreachable]")
		}
	}
	return lines
}

// RenderTree is a convenience wrapper around Graph.RenderTree.
func RenderTree(g *Graph) []string {
	if g == nil {
		return nil
	}
	return g.RenderTree()
}

func nodeLabel(n *Node) string {
	if n.serviceRef == "" {
		return n.name
	}
	return n.name + " (" + n.serviceRef + ")"
}
