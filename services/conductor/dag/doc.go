// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dag is the Conductor execution engine.
//
// It runs a set of named service units whose order is constrained by a
// dependency graph decided at run time:
//   - Graph owns nodes and dependency edges (both directions kept in sync)
//   - Bind decides a unit's call arguments from its declared capabilities
//   - Scheduler dispatches ready nodes onto a bounded worker pool and
//     propagates outputs to consumers (AND-join)
//   - Failures are contained: a failed node skips its transitive consumers,
//     independent branches still complete
//
// The engine never plans edges and never retries a unit. Cycles and unknown
// node references are configuration errors raised before anything runs.
//
// # Thread Safety
//
// All exported types are safe for concurrent use.
//
// # Example
//
//	registry := dag.NewRegistry()
//	registry.Register("fetch", fetchService)
//	registry.Register("summarize", summarizeService)
//
//	g := dag.NewGraph("report")
//	g.AddNode("fetch", "AAPL", "fetch")
//	g.AddNode("summarize", "two sentences", "summarize")
//	g.AddDependency("summarize", "fetch")
//
//	sched, _ := dag.NewScheduler(registry, dag.WithWorkers(4))
//	result, err := sched.Run(ctx, g)
//	if err != nil {
//	    // configuration error: nothing ran
//	}
//	for _, line := range result.Summary() {
//	    log.Println(line)
//	}
package dag
