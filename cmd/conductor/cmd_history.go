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
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/conductor/services/conductor/api"
	"github.com/AleutianAI/conductor/services/conductor/history"
)

// errHistoryDisabled is returned when a history command runs with history off.
var errHistoryDisabled = errors.New("run history is disabled (history.enabled: false)")

func newHistoryCmd(c *cli) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recorded runs, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx, c.cfg, c.logger.Slog(), runtimeOptions{history: true})
			if err != nil {
				return err
			}
			defer rt.close()
			if rt.journal == nil {
				return errHistoryDisabled
			}

			var out any
			if len(args) == 1 {
				rec, err := rt.journal.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if !asJSON {
					renderRecord(c.printer(), rec)
					return nil
				}
				out = rec
			} else {
				recs, err := rt.journal.List(ctx, limit)
				if err != nil {
					return err
				}
				if !asJSON {
					renderRecordList(c.printer(), recs)
					return nil
				}
				if recs == nil {
					recs = []*history.Record{}
				}
				out = api.RunsResponse{Runs: recs}
			}

			enc := json.NewEncoder(c.stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newServicesCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "services",
		Short: "List catalog services",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := newRuntime(cmd.Context(), c.cfg, c.logger.Slog(), runtimeOptions{})
			if err != nil {
				return err
			}
			defer rt.close()

			p := c.printer()
			entries := rt.catalog.Entries()
			p.Title(fmt.Sprintf("%d services", len(entries)))
			for _, e := range entries {
				caps := "none"
				if len(e.Capabilities) > 0 {
					caps = strings.Join(e.Capabilities, ",")
				}
				line := fmt.Sprintf("%-16s %-11s %-26s %s", e.Name, e.Kind, caps, e.Description)
				if e.Timeout > 0 {
					line += p.Muted(fmt.Sprintf(" (timeout %s)", e.Timeout))
				}
				p.Line(strings.TrimRight(line, " "))
			}
			return nil
		},
	}
}
