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
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/AleutianAI/conductor/services/conductor/dag"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 100
)

var defaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Chunker splits the text of every prior output into overlapping chunks.
// Chunks keep the order of the inputs.
type Chunker struct {
	splitter textsplitter.TextSplitter
}

// NewChunker creates a chunker.
//
// Inputs:
//
//	size - Maximum chunk length in characters. Must be positive.
//	overlap - Characters shared by neighbouring chunks. Must be in [0, size).
func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 || overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: chunk size %d, overlap %d", dag.ErrInvalidInput, size, overlap)
	}
	return &Chunker{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
			textsplitter.WithSeparators(defaultSeparators),
		),
	}, nil
}

// Capabilities implements dag.Service.
func (c *Chunker) Capabilities() dag.Capability {
	return dag.AcceptsPriorOutputs
}

// Invoke implements dag.Service.
func (c *Chunker) Invoke(ctx context.Context, args dag.Args) (any, error) {
	if args.PriorOutputs == nil {
		return nil, ErrNoInput
	}

	chunks := make([]string, 0, len(args.PriorOutputs))
	for i, out := range args.PriorOutputs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text := strings.TrimSpace(Stringify(out))
		if text == "" {
			continue
		}
		parts, err := c.splitter.SplitText(text)
		if err != nil {
			return nil, fmt.Errorf("split input %d: %w", i+1, err)
		}
		chunks = append(chunks, parts...)
	}
	return chunks, nil
}
