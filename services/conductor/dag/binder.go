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

// Args are the call arguments bound for one service invocation.
type Args struct {
	// Node is the name of the node being executed. Always set.
	Node string

	// Instruction is the node's instruction when HasInstruction is true.
	Instruction any

	// HasInstruction is true when the service accepts instructions.
	HasInstruction bool

	// PriorOutputs holds dependency outputs in dependency-declaration order.
	// It is nil when the service does not accept prior outputs or the node
	// has no dependencies; it is never an empty non-nil slice.
	PriorOutputs []any
}

// Bind decides what a node's service body receives.
//
// Description:
//
//	Pure function of the node, the outputs produced so far and the
//	service's declared capabilities. A node without dependencies gets nil
//	PriorOutputs so "no dependencies" is never confused with a dependency
//	that produced an empty value. Outputs missing from the map bind as nil
//	in their slot, which cannot happen under the scheduler's AND-join.
//
// Inputs:
//
//	node - The node about to be dispatched.
//	outputs - Outputs of completed nodes keyed by name.
//	caps - Capabilities declared by the node's service.
//
// Outputs:
//
//	Args - The bound call arguments.
func Bind(node *Node, outputs map[string]any, caps Capability) Args {
	args := Args{Node: node.name}

	if caps.Has(AcceptsInstruction) {
		args.Instruction = node.instruction
		args.HasInstruction = true
	}

	if caps.Has(AcceptsPriorOutputs) && len(node.dependencies) > 0 {
		prior := make([]any, len(node.dependencies))
		for i, dep := range node.dependencies {
			prior[i] = outputs[dep.name]
		}
		args.PriorOutputs = prior
	}

	return args
}
