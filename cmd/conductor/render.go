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
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/conductor/pkg/ux"
	"github.com/AleutianAI/conductor/services/conductor/dag"
	"github.com/AleutianAI/conductor/services/conductor/history"
	"github.com/AleutianAI/conductor/services/conductor/units"
)

// maxOutputChars bounds each printed node output.
const maxOutputChars = 2000

func statusIcon(s dag.NodeStatus) ux.Icon {
	switch s {
	case dag.NodeStatusDone:
		return ux.IconSuccess
	case dag.NodeStatusFailed:
		return ux.IconError
	case dag.NodeStatusSkipped:
		return ux.IconPending
	default:
		return ux.IconBullet
	}
}

// nodeLine formats one node's outcome.
func nodeLine(p *ux.Printer, name string, status dag.NodeStatus, d time.Duration, kind dag.FailureKind, reason, cause string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-8s", name, status)
	if d > 0 {
		b.WriteString(" " + p.Muted(d.Round(time.Millisecond).String()))
	}
	if reason != "" {
		detail := reason
		if kind != "" {
			detail = string(kind) + ": " + reason
		}
		if cause != "" {
			detail += " (" + cause + ")"
		}
		b.WriteString("  " + detail)
	}
	return b.String()
}

// countsLine summarizes node statuses, e.g. "3 done, 1 failed, 1 skipped".
func countsLine(counts map[dag.NodeStatus]int) string {
	parts := make([]string, 0, 3)
	for _, s := range []dag.NodeStatus{dag.NodeStatusDone, dag.NodeStatusFailed, dag.NodeStatusSkipped} {
		if n := counts[s]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, s))
		}
	}
	if len(parts) == 0 {
		return "no nodes"
	}
	return strings.Join(parts, ", ")
}

// renderResult prints a run in dependency order.
func renderResult(p *ux.Printer, g *dag.Graph, res *dag.ExecutionResult, withOutputs bool) {
	p.Title(fmt.Sprintf("Run %s (%s)", res.RunID, res.Graph))

	order, err := g.TopologicalOrder()
	if err != nil {
		order = res.Order()
	}
	for _, name := range order {
		rep := res.Nodes[name]
		var kind dag.FailureKind
		var reason, cause string
		if f, ok := res.Failures[name]; ok {
			kind, reason, cause = f.Kind, f.Reason, f.Cause
		}
		p.Status(statusIcon(rep.Status), nodeLine(p, name, rep.Status, rep.Duration, kind, reason, cause))
	}

	summary := fmt.Sprintf("%s in %s", countsLine(res.Counts()), res.Duration.Round(time.Millisecond))
	if res.Succeeded() {
		p.Success(summary)
	} else {
		p.Error(summary)
	}

	if !withOutputs {
		return
	}
	for _, name := range order {
		out, ok := res.Outputs[name]
		if !ok {
			continue
		}
		text := units.Stringify(out)
		if len(text) > maxOutputChars {
			text = text[:maxOutputChars] + "…"
		}
		p.Line("")
		p.Title(name)
		p.Line(text)
	}
}

// renderRecord prints one recorded run.
func renderRecord(p *ux.Printer, rec *history.Record) {
	p.Title(fmt.Sprintf("Run %s (%s)", rec.RunID, rec.Graph))
	p.KeyValue("started", rec.StartedAt.Local().Format(time.RFC3339))
	p.KeyValue("duration", rec.Duration.Round(time.Millisecond).String())
	for _, n := range rec.Nodes {
		p.Status(statusIcon(n.Status), nodeLine(p, n.Name, n.Status, n.Duration, n.Kind, n.Reason, n.Cause))
	}
	if rec.Succeeded {
		p.Success(countsLine(rec.Counts()))
	} else {
		p.Error(countsLine(rec.Counts()))
	}
}

// renderRecordList prints one line per recorded run.
func renderRecordList(p *ux.Printer, recs []*history.Record) {
	if len(recs) == 0 {
		p.Line("no recorded runs")
		return
	}
	for _, rec := range recs {
		icon := ux.IconSuccess
		if !rec.Succeeded {
			icon = ux.IconError
		}
		p.Status(icon, fmt.Sprintf("%-14s %-24s %s  %s",
			rec.RunID,
			rec.Graph,
			rec.StartedAt.Local().Format("2006-01-02 15:04:05"),
			countsLine(rec.Counts()),
		))
	}
}
