// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/conductor/services/conductor/dag"
	"github.com/AleutianAI/conductor/services/conductor/plan"
)

func newTreeCmd(c *cli) *cobra.Command {
	var showOrder bool
	cmd := &cobra.Command{
		Use:   "tree <plan>",
		Short: "Print the plan's dependency tree",
		Long: `Prints each root node followed by the nodes that consume it, indented
by depth. A node with several dependencies is expanded under the first
and marked [see above] under the rest.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := plan.LoadGraph(args[0])
			if err != nil {
				return err
			}
			p := c.printer()
			p.Title(fmt.Sprintf("%s (%d nodes)", g.Name(), g.Len()))
			p.Lines(g.RenderTree())
			if showOrder {
				order, err := g.TopologicalOrder()
				if err != nil {
					return err
				}
				p.KeyValue("order", strings.Join(order, " → "))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showOrder, "order", false, "also print a topological order")
	return cmd
}

func newValidateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <plan>",
		Short: "Check a plan without running it",
		Long: `Checks the plan document, its graph (duplicate names, unknown
dependencies, cycles) and that every referenced service is in the catalog.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := c.printer()
			g, err := plan.LoadGraph(args[0])
			if err != nil {
				var cfgErr *dag.ConfigurationError
				if errors.As(err, &cfgErr) {
					p.Error(fmt.Sprintf("%s: %v", cfgErr.Kind, err))
				} else {
					p.Error(err.Error())
				}
				return &exitError{code: 1, msg: "invalid plan"}
			}

			rt, err := newRuntime(cmd.Context(), c.cfg, c.logger.Slog(), runtimeOptions{})
			if err != nil {
				return err
			}
			defer rt.close()

			missing := 0
			for _, n := range g.Nodes() {
				if _, ok := rt.catalog.Entry(n.ServiceRef()); !ok {
					p.Error(fmt.Sprintf("node %q references unknown service %q", n.Name(), n.ServiceRef()))
					missing++
				}
			}
			if missing > 0 {
				return &exitError{code: 1, msg: "unknown services"}
			}
			p.Success(fmt.Sprintf("%s is valid (%d nodes, %d edges)", g.Name(), g.Len(), len(g.Edges())))
			return nil
		},
	}
}
