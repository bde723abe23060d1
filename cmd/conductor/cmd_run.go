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
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/conductor/services/conductor/api"
	"github.com/AleutianAI/conductor/services/conductor/dag"
	"github.com/AleutianAI/conductor/services/conductor/plan"
)

type runFlags struct {
	json        bool
	outputs     bool
	noHistory   bool
	workers     int
	nodeTimeout time.Duration
}

func newRunCmd(c *cli) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run <plan>",
		Short: "Execute a plan and report every node's outcome",
		Long: `Runs every node of the plan, dispatching each as soon as its dependencies
are done. A failed node skips everything downstream of it; unrelated
branches keep running. Exits 1 if any node failed or was skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runPlan(cmd.Context(), args[0], f)
		},
	}
	cmd.Flags().BoolVar(&f.json, "json", false, "print the result as JSON")
	cmd.Flags().BoolVar(&f.outputs, "outputs", false, "print node outputs")
	cmd.Flags().BoolVar(&f.noHistory, "no-history", false, "do not record the run")
	cmd.Flags().IntVarP(&f.workers, "workers", "w", 0, "concurrent nodes (default from config)")
	cmd.Flags().DurationVar(&f.nodeTimeout, "node-timeout", 0, "default per-node timeout (default from config)")
	return cmd
}

func (c *cli) runPlan(ctx context.Context, path string, f runFlags) error {
	g, err := plan.LoadGraph(path)
	if err != nil {
		return err
	}

	logger := c.logger.Slog()
	rt, err := newRuntime(ctx, c.cfg, logger, runtimeOptions{
		telemetry:       true,
		history:         !f.noHistory,
		historyOptional: true,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.close(); err != nil {
			logger.Warn("shutdown incomplete", slog.String("error", err.Error()))
		}
	}()

	opts := rt.schedulerOptions()
	if f.workers > 0 {
		opts = append(opts, dag.WithWorkers(f.workers))
	}
	if f.nodeTimeout > 0 {
		opts = append(opts, dag.WithNodeTimeout(f.nodeTimeout))
	}
	sched, err := dag.NewScheduler(rt.catalog, opts...)
	if err != nil {
		return err
	}

	res, err := sched.Run(ctx, g)
	if err != nil {
		return err
	}

	if rt.journal != nil {
		if _, err := rt.journal.Save(context.WithoutCancel(ctx), res); err != nil {
			logger.Warn("failed to record run", slog.String("run_id", res.RunID), slog.String("error", err.Error()))
		}
	}

	if f.json {
		enc := json.NewEncoder(c.stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(api.NewRunResponse(res)); err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
	} else {
		renderResult(c.printer(), g, res, f.outputs)
	}

	switch {
	case ctx.Err() != nil:
		return &exitError{code: 130, msg: "run cancelled"}
	case !res.Succeeded():
		return &exitError{code: 1, msg: fmt.Sprintf("%d node(s) did not complete", len(res.Failures))}
	}
	return nil
}
