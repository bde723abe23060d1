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
	"net/url"
	"strconv"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/conductor/services/conductor/dag"
	"github.com/AleutianAI/conductor/services/conductor/telemetry"
)

// DefaultSearchLimit is used when neither the entry nor the toolkit sets one.
const DefaultSearchLimit = 5

// Passage is one search hit.
type Passage struct {
	ID      string  `json:"id"`
	Source  string  `json:"source,omitempty"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Searcher runs keyword searches over a document index.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]Passage, error)
}

// WeaviateSearcher runs BM25 queries against one Weaviate class whose
// objects carry "content" and "source" properties.
//
// Thread Safety: Safe for concurrent use.
type WeaviateSearcher struct {
	client *weaviate.Client
	class  string
}

// NewWeaviateSearcher creates a searcher for class at rawURL.
//
// Inputs:
//
//	rawURL - Weaviate base URL, e.g. "http://localhost:8080".
//	class - Class to search. Must not be empty.
//
// Outputs:
//
//	*WeaviateSearcher - The searcher. No connection is made yet.
//	error - Non-nil if the URL or class is invalid.
func NewWeaviateSearcher(rawURL, class string) (*WeaviateSearcher, error) {
	if class == "" {
		return nil, fmt.Errorf("%w: weaviate class", dag.ErrInvalidInput)
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: weaviate url %q", dag.ErrInvalidInput, rawURL)
	}
	scheme := u.Scheme
	if scheme == "" {
		scheme = "http"
	}

	client, err := weaviate.NewClient(weaviate.Config{Host: u.Host, Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	return &WeaviateSearcher{client: client, class: class}, nil
}

// Search implements Searcher.
func (s *WeaviateSearcher) Search(ctx context.Context, query string, limit int) ([]Passage, error) {
	fields := []graphql.Field{
		{Name: "content"},
		{Name: "source"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "id"}, {Name: "score"}}},
	}

	result, err := s.client.GraphQL().Get().
		WithClassName(s.class).
		WithFields(fields...).
		WithBM25(s.client.GraphQL().Bm25ArgBuilder().WithQuery(query)).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	return parsePassages(result, s.class)
}

// parsePassages extracts passages from a GraphQL Get response.
func parsePassages(result *models.GraphQLResponse, class string) ([]Passage, error) {
	if result == nil {
		return []Passage{}, nil
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("search error: %s", result.Errors[0].Message)
	}

	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return []Passage{}, nil
	}
	objects, ok := data[class].([]interface{})
	if !ok {
		return []Passage{}, nil
	}

	passages := make([]Passage, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		p := Passage{
			Content: getString(m, "content"),
			Source:  getString(m, "source"),
		}
		if additional, ok := m["_additional"].(map[string]interface{}); ok {
			p.ID = getString(additional, "id")
			p.Score = getScore(additional["score"])
		}
		passages = append(passages, p)
	}
	return passages, nil
}

func getString(m map[string]interface{}, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// getScore reads a BM25 score, which Weaviate reports as a string.
func getScore(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err == nil {
			return f
		}
	}
	return 0
}

// DocSearch searches the document index with the instruction as query.
// Identical queries issued concurrently share one backend call.
type DocSearch struct {
	searcher Searcher
	limit    int
	group    singleflight.Group
}

// NewDocSearch creates a docsearch unit. limit < 1 selects DefaultSearchLimit.
func NewDocSearch(searcher Searcher, limit int) *DocSearch {
	if limit < 1 {
		limit = DefaultSearchLimit
	}
	return &DocSearch{searcher: searcher, limit: limit}
}

// Capabilities implements dag.Service.
func (d *DocSearch) Capabilities() dag.Capability {
	return dag.AcceptsInstruction
}

// Invoke implements dag.Service.
func (d *DocSearch) Invoke(ctx context.Context, args dag.Args) (any, error) {
	query := strings.TrimSpace(Stringify(args.Instruction))
	if query == "" {
		return nil, ErrEmptyInstruction
	}

	ctx, span := telemetry.StartSpan(ctx, unitsTracerName, "docsearch.Search",
		trace.WithAttributes(
			attribute.String("node", args.Node),
			attribute.Int("limit", d.limit),
		),
	)
	defer span.End()

	v, err, shared := d.group.Do(query, func() (interface{}, error) {
		return d.searcher.Search(ctx, query, d.limit)
	})
	span.SetAttributes(attribute.Bool("shared", shared))
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	passages, ok := v.([]Passage)
	if !ok {
		return nil, fmt.Errorf("unexpected type from search group: got %T", v)
	}
	// Callers sharing a result must not alias each other's slice.
	out := make([]Passage, len(passages))
	copy(out, passages)
	return out, nil
}
