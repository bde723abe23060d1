// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/conductor/services/conductor/catalog"
	"github.com/AleutianAI/conductor/services/conductor/dag"
	"github.com/AleutianAI/conductor/services/conductor/history"
	"github.com/AleutianAI/conductor/services/conductor/plan"
)

// ServiceCatalog resolves services and lists what is available.
type ServiceCatalog interface {
	dag.ServiceLocator
	Entries() []catalog.Entry
}

// RunJournal records and reads completed runs.
type RunJournal interface {
	Save(ctx context.Context, res *dag.ExecutionResult) (*history.Record, error)
	Get(ctx context.Context, runID string) (*history.Record, error)
	List(ctx context.Context, limit int) ([]*history.Record, error)
}

// Handlers contains the HTTP handlers for the conductor API.
//
// Thread Safety: Safe for concurrent use.
type Handlers struct {
	catalog   ServiceCatalog
	scheduler *dag.Scheduler
	journal   RunJournal
	logger    *slog.Logger
	version   string
}

// Option configures Handlers.
type Option func(*handlerOptions)

type handlerOptions struct {
	journal   RunJournal
	logger    *slog.Logger
	version   string
	scheduler []dag.Option
}

// WithJournal enables the history endpoints and records every run.
func WithJournal(j RunJournal) Option {
	return func(o *handlerOptions) { o.journal = j }
}

// WithLogger sets the handler logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *handlerOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithVersion sets the version reported by /healthz.
func WithVersion(v string) Option {
	return func(o *handlerOptions) { o.version = v }
}

// WithSchedulerOptions passes options to the scheduler that runs submitted plans.
func WithSchedulerOptions(opts ...dag.Option) Option {
	return func(o *handlerOptions) { o.scheduler = append(o.scheduler, opts...) }
}

// NewHandlers creates handlers bound to a service catalog.
func NewHandlers(cat ServiceCatalog, opts ...Option) (*Handlers, error) {
	if cat == nil {
		return nil, errors.New("catalog must not be nil")
	}
	o := handlerOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	schedOpts := append([]dag.Option{dag.WithLogger(o.logger)}, o.scheduler...)
	sched, err := dag.NewScheduler(cat, schedOpts...)
	if err != nil {
		return nil, err
	}

	return &Handlers{
		catalog:   cat,
		scheduler: sched,
		journal:   o.journal,
		logger:    o.logger,
		version:   o.version,
	}, nil
}

// HandleRun handles POST /v1/runs.
//
// Description:
//
//	Parses the plan in the request body (YAML or JSON), runs it to
//	completion and returns the aggregate result. Node failures are part of
//	a 200 response; only plans that cannot start are rejected. The run is
//	cancelled if the client goes away, and is recorded in the journal when
//	one is configured.
//
// Request Body:
//
//	plan.Document
//
// Response:
//
//	200 OK: RunResponse
//	400 Bad Request: Invalid plan or configuration error
//	413 Request Entity Too Large: Body exceeds plan.MaxPlanFileSize
func (h *Handlers) HandleRun(c *gin.Context) {
	logger := h.requestLogger(c, "HandleRun")

	g, ok := h.bindGraph(c, logger)
	if !ok {
		return
	}

	logger.Info("running plan", slog.String("graph", g.Name()), slog.Int("nodes", g.Len()))

	res, err := h.scheduler.Run(c.Request.Context(), g)
	if err != nil {
		status, code := classify(err)
		logger.Error("run rejected", slog.String("error", err.Error()))
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}

	if h.journal != nil {
		saveCtx := context.WithoutCancel(c.Request.Context())
		if _, err := h.journal.Save(saveCtx, res); err != nil {
			logger.Warn("failed to record run",
				slog.String("run_id", res.RunID),
				slog.String("error", err.Error()),
			)
		}
	}

	c.JSON(http.StatusOK, NewRunResponse(res))
}

// HandleTree handles POST /v1/plans/tree.
//
// Description:
//
//	Validates the plan without running it and returns its topological
//	order and dependency tree.
func (h *Handlers) HandleTree(c *gin.Context) {
	logger := h.requestLogger(c, "HandleTree")

	g, ok := h.bindGraph(c, logger)
	if !ok {
		return
	}
	order, err := g.TopologicalOrder()
	if err != nil {
		status, code := classify(err)
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}

	c.JSON(http.StatusOK, TreeResponse{
		Graph: g.Name(),
		Nodes: g.Len(),
		Order: order,
		Tree:  g.RenderTree(),
	})
}

// HandleServices handles GET /v1/services.
func (h *Handlers) HandleServices(c *gin.Context) {
	entries := h.catalog.Entries()
	resp := ServicesResponse{Services: make([]ServiceInfo, 0, len(entries))}
	for _, e := range entries {
		caps := e.Capabilities
		if caps == nil {
			caps = []string{}
		}
		resp.Services = append(resp.Services, ServiceInfo{
			Name:         e.Name,
			Kind:         e.Kind,
			Capabilities: caps,
			TimeoutMs:    e.Timeout.Milliseconds(),
			Description:  e.Description,
		})
	}
	c.JSON(http.StatusOK, resp)
}

// HandleListRuns handles GET /v1/runs.
//
// Query Parameters:
//
//	limit: Maximum number of runs, newest first (optional, default history.DefaultListLimit)
//
// Response:
//
//	200 OK: RunsResponse
//	400 Bad Request: Invalid limit
//	503 Service Unavailable: History disabled
func (h *Handlers) HandleListRuns(c *gin.Context) {
	logger := h.requestLogger(c, "HandleListRuns")
	if !h.requireJournal(c) {
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > history.MaxListLimit {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "limit must be an integer between 1 and " + strconv.Itoa(history.MaxListLimit),
				Code:  CodeInvalidRequest,
			})
			return
		}
		limit = n
	}

	runs, err := h.journal.List(c.Request.Context(), limit)
	if err != nil {
		logger.Error("list runs failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to list runs", Code: CodeInternal})
		return
	}
	if runs == nil {
		runs = []*history.Record{}
	}
	c.JSON(http.StatusOK, RunsResponse{Runs: runs})
}

// HandleGetRun handles GET /v1/runs/:id.
func (h *Handlers) HandleGetRun(c *gin.Context) {
	logger := h.requestLogger(c, "HandleGetRun")
	if !h.requireJournal(c) {
		return
	}

	rec, err := h.journal.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		status, code := classify(err)
		if status == http.StatusInternalServerError {
			logger.Error("get run failed", slog.String("error", err.Error()))
		}
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// HandleHealth handles GET /healthz.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:   "healthy",
		Version:  h.version,
		Services: len(h.catalog.Entries()),
		History:  h.journal != nil,
	})
}

// bindGraph reads the plan body and builds its graph. It writes the error
// response and returns false on failure.
func (h *Handlers) bindGraph(c *gin.Context, logger *slog.Logger) (*dag.Graph, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, plan.MaxPlanFileSize)
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{
				Error: "plan too large",
				Code:  CodeInvalidRequest,
			})
			return nil, false
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "failed to read request body", Code: CodeInvalidRequest})
		return nil, false
	}

	doc, err := plan.Parse(body)
	if err != nil {
		logger.Warn("invalid plan", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: CodeInvalidPlan})
		return nil, false
	}

	g, err := plan.Build(doc)
	if err != nil {
		status, code := classify(err)
		resp := ErrorResponse{Error: err.Error(), Code: code}
		var cfgErr *dag.ConfigurationError
		if errors.As(err, &cfgErr) {
			resp.Details = string(cfgErr.Kind)
		}
		logger.Warn("plan rejected", slog.String("error", err.Error()))
		c.JSON(status, resp)
		return nil, false
	}
	return g, true
}

func (h *Handlers) requireJournal(c *gin.Context) bool {
	if h.journal != nil {
		return true
	}
	c.JSON(http.StatusServiceUnavailable, ErrorResponse{
		Error: "run history is disabled",
		Code:  CodeHistoryDisabled,
	})
	return false
}

func (h *Handlers) requestLogger(c *gin.Context, handler string) *slog.Logger {
	return h.logger.With(
		slog.String("request_id", getOrCreateRequestID(c)),
		slog.String("handler", handler),
	)
}

// classify maps an error to an HTTP status and error code.
func classify(err error) (int, string) {
	switch {
	case dag.IsConfigurationError(err):
		return http.StatusBadRequest, CodeConfiguration
	case errors.Is(err, plan.ErrInvalidPlan), errors.Is(err, dag.ErrInvalidInput):
		return http.StatusBadRequest, CodeInvalidPlan
	case errors.Is(err, history.ErrInvalidRunID):
		return http.StatusBadRequest, CodeInvalidRequest
	case errors.Is(err, history.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, history.ErrRecordCorrupt):
		return http.StatusInternalServerError, CodeHistoryCorrupt
	case errors.Is(err, dag.ErrNilGraph), errors.Is(err, dag.ErrNilContext):
		return http.StatusInternalServerError, CodeRunFailed
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// getOrCreateRequestID gets or creates a request ID.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
