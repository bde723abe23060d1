// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package units

import (
	"context"
	"fmt"
	"strings"

	"github.com/AleutianAI/conductor/services/conductor/dag"
)

// Static returns a fixed value, or echoes the instruction when built with NewEcho.
type Static struct {
	value any
	fixed bool
}

// NewStatic returns a unit that always produces value.
func NewStatic(value any) *Static {
	return &Static{value: value, fixed: true}
}

// NewEcho returns a unit that produces its instruction.
func NewEcho() *Static {
	return &Static{}
}

// Capabilities implements dag.Service.
func (s *Static) Capabilities() dag.Capability {
	return dag.AcceptsInstruction
}

// Invoke implements dag.Service.
func (s *Static) Invoke(_ context.Context, args dag.Args) (any, error) {
	if s.fixed {
		return s.value, nil
	}
	return args.Instruction, nil
}

// Template assembles prompt text from the instruction and prior outputs.
//
// Output layout:
//
//	<header>
//
//	<instruction>
//
//	--- input 1 ---
//	<prior output 1>
type Template struct {
	header string
}

// NewTemplate creates a template unit. header may be empty.
func NewTemplate(header string) *Template {
	return &Template{header: header}
}

// Capabilities implements dag.Service.
func (t *Template) Capabilities() dag.Capability {
	return dag.AcceptsInstruction | dag.AcceptsPriorOutputs
}

// Invoke implements dag.Service.
func (t *Template) Invoke(_ context.Context, args dag.Args) (any, error) {
	return BuildPrompt(t.header, args), nil
}

// BuildPrompt renders header, instruction and prior outputs into one text.
// Empty sections are omitted.
func BuildPrompt(header string, args dag.Args) string {
	sections := make([]string, 0, 2+len(args.PriorOutputs))
	if h := strings.TrimSpace(header); h != "" {
		sections = append(sections, h)
	}
	if args.HasInstruction {
		if s := strings.TrimSpace(Stringify(args.Instruction)); s != "" {
			sections = append(sections, s)
		}
	}
	for i, out := range args.PriorOutputs {
		sections = append(sections, fmt.Sprintf("--- input %d ---\n%s", i+1, Stringify(out)))
	}
	return strings.Join(sections, "\n\n")
}
