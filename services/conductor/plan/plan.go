// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package plan turns plan documents into dependency graphs.
//
// A plan names its nodes, the service each node invokes, an opaque
// instruction and the nodes it depends on:
//
//	name: morning-report
//	nodes:
//	  - name: fetch
//	    service: market_data
//	    instruction: AAPL
//	  - name: summarize
//	    service: analyze
//	    instruction: Summarize the last month of closes.
//	    depends_on: [fetch]
//
// JSON documents are accepted as well. Structural problems (duplicate
// names, unknown dependencies, cycles) surface as *dag.ConfigurationError.
package plan

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/conductor/services/conductor/dag"
)

const (
	// MaxPlanFileSize bounds plan files (4MB).
	MaxPlanFileSize = 4 * 1024 * 1024

	// MaxNodes bounds the number of nodes in one plan.
	MaxNodes = 10000
)

// ErrInvalidPlan is returned when a document fails field validation.
var ErrInvalidPlan = errors.New("invalid plan")

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)

var planValidate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("nodename", func(fl validator.FieldLevel) bool {
		return namePattern.MatchString(fl.Field().String())
	})
	return v
}

// Document is a plan as written on disk or posted to the API.
type Document struct {
	Name  string     `yaml:"name" json:"name" validate:"required,max=128"`
	Nodes []NodeSpec `yaml:"nodes" json:"nodes" validate:"required,min=1,max=10000,dive"`
}

// NodeSpec declares one node.
type NodeSpec struct {
	Name        string        `yaml:"name" json:"name" validate:"required,max=128,nodename"`
	Service     string        `yaml:"service" json:"service" validate:"required,max=128"`
	Instruction any           `yaml:"instruction" json:"instruction,omitempty"`
	DependsOn   []string      `yaml:"depends_on" json:"depends_on,omitempty" validate:"dive,required"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout,omitempty" validate:"min=0"`
}

// Parse decodes and validates a YAML or JSON plan.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}
	if err := Validate(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate checks field constraints. Graph-level checks happen in Build.
func Validate(doc *Document) error {
	if doc == nil {
		return fmt.Errorf("%w: nil document", ErrInvalidPlan)
	}
	if err := planValidate.Struct(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}
	return nil
}

// Load reads and parses the plan at path.
func Load(path string) (*Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("load plan: %w", err)
	}
	if info.Size() > MaxPlanFileSize {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrInvalidPlan, path, MaxPlanFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load plan: %w", err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("load plan %s: %w", path, err)
	}
	return doc, nil
}

// Build constructs the graph described by doc.
//
// Description:
//
//	Adds every node first, then every edge in declaration order, so a
//	node may depend on one declared later in the file. A dependency on a
//	name that is not declared is a configuration error. The graph is
//	validated for cycles before it is returned.
//
// Inputs:
//
//	doc - A parsed plan. Validated again here.
//
// Outputs:
//
//	*dag.Graph - The graph, ready for dag.Scheduler.Run.
//	error - ErrInvalidPlan or *dag.ConfigurationError.
func Build(doc *Document) (*dag.Graph, error) {
	if err := Validate(doc); err != nil {
		return nil, err
	}

	g := dag.NewGraph(doc.Name)
	for _, n := range doc.Nodes {
		var opts []dag.NodeOption
		if n.Timeout > 0 {
			opts = append(opts, dag.WithTimeout(n.Timeout))
		}
		if _, err := g.AddNode(n.Name, n.Instruction, n.Service, opts...); err != nil {
			return nil, err
		}
	}

	for _, n := range doc.Nodes {
		for _, dep := range n.DependsOn {
			if err := g.AddDependency(n.Name, dep); err != nil {
				return nil, err
			}
		}
	}

	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// LoadGraph loads the plan at path and builds its graph.
func LoadGraph(path string) (*dag.Graph, error) {
	doc, err := Load(path)
	if err != nil {
		return nil, err
	}
	return Build(doc)
}
