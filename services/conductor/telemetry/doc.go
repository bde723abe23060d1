// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry wires OpenTelemetry tracing and metrics for Conductor.
//
// The engine and the HTTP surface use the OTel APIs directly; this package
// only installs providers and exporters. Backends are swapped through
// configuration, not code.
//
// # Traces
//
// Exporters: "otlp" (gRPC), "stdout", or "none". The scheduler opens a
// "conductor.Run" span per run and one child span per dispatched node.
//
// # Metrics
//
// Exporters: "prometheus" (pull, served by MetricsHandler), "stdout", or
// "none". When Config.Registry is set, OTel instruments and native
// Prometheus collectors (catalog lookups, history writes) share it.
//
// # Usage
//
//	shutdown, err := telemetry.Init(ctx, cfg)
//	if err != nil {
//	    return fmt.Errorf("init telemetry: %w", err)
//	}
//	defer shutdown(context.Background())
//
// # Environment Variables
//
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint (default: localhost:4317)
//   - OTEL_TRACES_EXPORTER: otlp, stdout, or none (default: none)
//   - OTEL_METRICS_EXPORTER: prometheus, stdout, or none (default: prometheus)
//   - CONDUCTOR_ENV: environment name (default: development)
package telemetry
