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
	"log/slog"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/conductor/pkg/validation"
	"github.com/AleutianAI/conductor/services/conductor/dag"
	"github.com/AleutianAI/conductor/services/conductor/telemetry"
)

const unitsTracerName = "aleutian.conductor.units"

// DefaultRange is the look-back window for ticker shortcuts.
const DefaultRange = "30d"

// Row is one point returned by a Flux query.
type Row struct {
	Time        time.Time `json:"time"`
	Measurement string    `json:"measurement,omitempty"`
	Field       string    `json:"field"`
	Value       any       `json:"value"`
}

// QueryRunner executes Flux queries.
type QueryRunner interface {
	Query(ctx context.Context, flux string) ([]Row, error)
}

// InfluxRunner runs queries against InfluxDB 2.x.
//
// Thread Safety: Safe for concurrent use.
type InfluxRunner struct {
	client influxdb2.Client
	org    string
}

// NewInfluxRunner creates a runner. No connection is made until the first query.
func NewInfluxRunner(url, token, org string) *InfluxRunner {
	return &InfluxRunner{
		client: influxdb2.NewClient(url, token),
		org:    org,
	}
}

// Query implements QueryRunner.
func (r *InfluxRunner) Query(ctx context.Context, flux string) ([]Row, error) {
	result, err := r.client.QueryAPI(r.org).Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("influx query: %w", err)
	}
	defer result.Close()

	rows := make([]Row, 0, 64)
	for result.Next() {
		rec := result.Record()
		rows = append(rows, Row{
			Time:        rec.Time(),
			Measurement: rec.Measurement(),
			Field:       rec.Field(),
			Value:       rec.Value(),
		})
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("read influx results: %w", result.Err())
	}
	return rows, nil
}

// Close releases the underlying HTTP client.
func (r *InfluxRunner) Close() {
	r.client.Close()
}

// TimeSeriesOptions configures a TimeSeries unit.
type TimeSeriesOptions struct {
	// Bucket is used for ticker shortcuts.
	Bucket string

	// Window is the Flux relative duration for ticker shortcuts, e.g. "30d".
	// Empty selects DefaultRange.
	Window string

	Logger *slog.Logger
}

// TimeSeries runs Flux queries. An instruction that looks like a ticker
// symbol expands to a query for its recent closing prices.
type TimeSeries struct {
	runner QueryRunner
	bucket string
	window string
	logger *slog.Logger
}

// NewTimeSeries creates a timeseries unit.
//
// Inputs:
//
//	runner - Executes the queries. Must not be nil.
//	opts - Bucket and window for ticker shortcuts, and the logger.
func NewTimeSeries(runner QueryRunner, opts TimeSeriesOptions) (*TimeSeries, error) {
	if runner == nil {
		return nil, fmt.Errorf("%w: query runner", dag.ErrInvalidInput)
	}
	if opts.Window == "" {
		opts.Window = DefaultRange
	}
	if err := validation.ValidateRange(opts.Window); err != nil {
		return nil, fmt.Errorf("%w: %v", dag.ErrInvalidInput, err)
	}
	if err := validation.ValidateBucket(opts.Bucket); err != nil {
		return nil, fmt.Errorf("%w: %v", dag.ErrInvalidInput, err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &TimeSeries{runner: runner, bucket: opts.Bucket, window: opts.Window, logger: logger}, nil
}

// Capabilities implements dag.Service.
func (t *TimeSeries) Capabilities() dag.Capability {
	return dag.AcceptsInstruction
}

// Invoke implements dag.Service.
func (t *TimeSeries) Invoke(ctx context.Context, args dag.Args) (any, error) {
	q := strings.TrimSpace(Stringify(args.Instruction))
	if q == "" {
		return nil, ErrEmptyInstruction
	}

	flux, shortcut := t.Expand(q)

	ctx, span := telemetry.StartSpan(ctx, unitsTracerName, "timeseries.Query",
		trace.WithAttributes(
			attribute.String("node", args.Node),
			attribute.Bool("ticker_shortcut", shortcut),
		),
	)
	defer span.End()

	rows, err := t.runner.Query(ctx, flux)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("rows", len(rows)))

	t.logger.Debug("timeseries query complete",
		slog.String("node", args.Node),
		slog.Int("rows", len(rows)),
	)
	return rows, nil
}

// Expand returns the Flux to execute for an instruction and whether the
// ticker shortcut was applied.
func (t *TimeSeries) Expand(instruction string) (string, bool) {
	ticker, err := validation.SanitizeTicker(instruction)
	if err != nil {
		return instruction, false
	}
	return fmt.Sprintf(`from(bucket: "%s")
  |> range(start: -%s)
  |> filter(fn: (r) => r._measurement == "stock_prices")
  |> filter(fn: (r) => r.ticker == "%s")
  |> filter(fn: (r) => r._field == "close")
  |> sort(columns: ["_time"], desc: false)`, t.bucket, t.window, ticker), true
}
