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
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/conductor/services/conductor/dag"
	"github.com/AleutianAI/conductor/services/conductor/telemetry"
)

// DefaultSystemPrompt is sent when an entry does not set system_prompt.
const DefaultSystemPrompt = "You are a careful analyst. Answer using only the provided context."

// ErrNoCompletion is returned when the model returns no choices.
var ErrNoCompletion = errors.New("model returned no completion")

// GenerationParams tunes one completion.
type GenerationParams struct {
	SystemPrompt string
	MaxTokens    int
}

// LLMClient generates text from a prompt.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
}

// OpenAIClient is an LLMClient for OpenAI-compatible chat completion APIs.
//
// Thread Safety: Safe for concurrent use.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient creates a client. baseURL may be empty for api.openai.com.
func NewOpenAIClient(apiKey, baseURL, model string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: openai api key", ErrBackendNotConfigured)
	}
	if model == "" {
		return nil, fmt.Errorf("%w: openai model", dag.ErrInvalidInput)
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg), model: model}, nil
}

// Generate implements LLMClient.
func (o *OpenAIClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: params.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if params.MaxTokens > 0 {
		req.MaxCompletionTokens = params.MaxTokens
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoCompletion
	}
	return resp.Choices[0].Message.Content, nil
}

// AnalysisOptions configures an Analysis unit.
type AnalysisOptions struct {
	SystemPrompt string
	MaxTokens    int

	// Limiter bounds request rate across every analysis node sharing it.
	// Nil means unlimited.
	Limiter *rate.Limiter

	Logger *slog.Logger
}

// Analysis sends the instruction and prior outputs to a language model and
// returns its answer.
type Analysis struct {
	llm    LLMClient
	opts   AnalysisOptions
	logger *slog.Logger
}

// NewAnalysis creates an analysis unit.
func NewAnalysis(llm LLMClient, opts AnalysisOptions) *Analysis {
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = DefaultSystemPrompt
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Analysis{llm: llm, opts: opts, logger: logger}
}

// Capabilities implements dag.Service.
func (a *Analysis) Capabilities() dag.Capability {
	return dag.AcceptsInstruction | dag.AcceptsPriorOutputs
}

// Invoke implements dag.Service.
func (a *Analysis) Invoke(ctx context.Context, args dag.Args) (any, error) {
	prompt := BuildPrompt("", args)
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrNoInput
	}

	ctx, span := telemetry.StartSpan(ctx, unitsTracerName, "analysis.Generate",
		trace.WithAttributes(
			attribute.String("node", args.Node),
			attribute.Int("prompt_chars", len(prompt)),
		),
	)
	defer span.End()

	if a.opts.Limiter != nil {
		if err := a.opts.Limiter.Wait(ctx); err != nil {
			err = fmt.Errorf("rate limit wait: %w", err)
			telemetry.RecordError(span, err)
			return nil, err
		}
	}

	answer, err := a.llm.Generate(ctx, prompt, GenerationParams{
		SystemPrompt: a.opts.SystemPrompt,
		MaxTokens:    a.opts.MaxTokens,
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	a.logger.Debug("analysis complete",
		slog.String("node", args.Node),
		slog.Int("answer_chars", len(answer)),
	)
	return answer, nil
}
