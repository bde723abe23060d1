// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package units provides the service bodies Conductor ships with.
//
// Each unit implements dag.Service. Units that talk to an external system
// (InfluxDB, Weaviate, an OpenAI-compatible model) do so through a small
// interface so tests can substitute a fake:
//
//   - static: returns a fixed value or echoes the instruction
//   - template: assembles instruction and prior outputs into prompt text
//   - timeseries: Flux queries through a QueryRunner
//   - docsearch: BM25 search through a Searcher
//   - chunker: splits prior outputs into overlapping chunks
//   - analysis: sends a prompt to an LLMClient
//
// Toolkit.Factories exposes them to the service catalog by kind.
package units

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/AleutianAI/conductor/services/conductor/catalog"
	"github.com/AleutianAI/conductor/services/conductor/dag"
)

// Unit kinds referenced by catalog entries.
const (
	KindStatic     = "static"
	KindTemplate   = "template"
	KindTimeSeries = "timeseries"
	KindDocSearch  = "docsearch"
	KindChunker    = "chunker"
	KindAnalysis   = "analysis"
)

var (
	// ErrEmptyInstruction is returned when a unit that needs an instruction gets none.
	ErrEmptyInstruction = errors.New("instruction is empty")

	// ErrNoInput is returned when a unit has neither instruction nor prior outputs.
	ErrNoInput = errors.New("no input to process")

	// ErrBackendNotConfigured is returned by a factory whose backend client is nil.
	ErrBackendNotConfigured = errors.New("backend not configured")
)

// Toolkit holds the backend clients units are built on. Nil clients leave
// the corresponding kinds unbuildable.
type Toolkit struct {
	Influx       QueryRunner
	InfluxBucket string

	Search      Searcher
	SearchLimit int

	LLM        LLMClient
	LLMLimiter *rate.Limiter

	Logger *slog.Logger
}

// Factories returns one catalog factory per unit kind.
//
// Entry options recognized per kind:
//
//	static:     value
//	template:   header
//	timeseries: bucket, range
//	docsearch:  limit
//	chunker:    chunk_size, chunk_overlap
//	analysis:   system_prompt, max_tokens
func (tk *Toolkit) Factories() map[string]catalog.Factory {
	logger := tk.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return map[string]catalog.Factory{
		KindStatic: func(e catalog.Entry) (dag.Service, error) {
			if v, ok := e.Options["value"]; ok {
				return NewStatic(v), nil
			}
			return NewEcho(), nil
		},
		KindTemplate: func(e catalog.Entry) (dag.Service, error) {
			return NewTemplate(optString(e.Options, "header", "")), nil
		},
		KindTimeSeries: func(e catalog.Entry) (dag.Service, error) {
			if tk.Influx == nil {
				return nil, fmt.Errorf("%w: influx", ErrBackendNotConfigured)
			}
			return NewTimeSeries(tk.Influx, TimeSeriesOptions{
				Bucket: optString(e.Options, "bucket", tk.InfluxBucket),
				Window: optString(e.Options, "range", DefaultRange),
				Logger: logger,
			})
		},
		KindDocSearch: func(e catalog.Entry) (dag.Service, error) {
			if tk.Search == nil {
				return nil, fmt.Errorf("%w: weaviate", ErrBackendNotConfigured)
			}
			limit, err := optInt(e.Options, "limit", tk.SearchLimit)
			if err != nil {
				return nil, err
			}
			return NewDocSearch(tk.Search, limit), nil
		},
		KindChunker: func(e catalog.Entry) (dag.Service, error) {
			size, err := optInt(e.Options, "chunk_size", DefaultChunkSize)
			if err != nil {
				return nil, err
			}
			overlap, err := optInt(e.Options, "chunk_overlap", DefaultChunkOverlap)
			if err != nil {
				return nil, err
			}
			return NewChunker(size, overlap)
		},
		KindAnalysis: func(e catalog.Entry) (dag.Service, error) {
			if tk.LLM == nil {
				return nil, fmt.Errorf("%w: llm", ErrBackendNotConfigured)
			}
			maxTokens, err := optInt(e.Options, "max_tokens", 0)
			if err != nil {
				return nil, err
			}
			return NewAnalysis(tk.LLM, AnalysisOptions{
				SystemPrompt: optString(e.Options, "system_prompt", DefaultSystemPrompt),
				MaxTokens:    maxTokens,
				Limiter:      tk.LLMLimiter,
				Logger:       logger,
			}), nil
		},
	}
}

// NewLimiter builds the LLM rate limiter. rps <= 0 means unlimited.
func NewLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

func optString(opts map[string]any, key, fallback string) string {
	v, ok := opts[key]
	if !ok || v == nil {
		return fallback
	}
	switch x := v.(type) {
	case string:
		return x
	case time.Duration:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

func optInt(opts map[string]any, key string, fallback int) (int, error) {
	v, ok := opts[key]
	if !ok || v == nil {
		return fallback, nil
	}
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case uint64:
		return int(x), nil
	case float64:
		return int(x), nil
	case string:
		n, err := strconv.Atoi(x)
		if err != nil {
			return 0, fmt.Errorf("option %s: %w", key, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("option %s: expected integer, got %T", key, v)
	}
}
