// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var (
	tracer = otel.Tracer("aleutian.conductor.dag")
	meter  = otel.Meter("aleutian.conductor.dag")
)

// DefaultWorkers is the worker pool size when none is configured.
const DefaultWorkers = 4

// Scheduler executes graphs on a bounded worker pool.
//
// Description:
//
//	A single coordinator goroutine owns all run state: ready queue, in-flight
//	count, outputs and failures. Workers invoke service bodies and report
//	back only through a completion channel. The coordinator blocks until at
//	least one unit completes, drains every completion already queued, then
//	releases consumers whose dependencies are all done.
//
//	A failed node fails only itself; every transitive consumer that has not
//	started is skipped. Independent branches run to completion.
//
// Thread Safety:
//
//	Scheduler is safe for concurrent use. Different graphs may run
//	concurrently on the same Scheduler. A single graph runs at most once
//	at a time.
type Scheduler struct {
	locator     ServiceLocator
	workers     int
	nodeTimeout time.Duration
	logger      *slog.Logger

	// Metrics (initialized lazily)
	metricsOnce   sync.Once
	nodeLatency   metric.Float64Histogram
	nodeSuccesses metric.Int64Counter
	nodeFailures  metric.Int64Counter
	nodeSkips     metric.Int64Counter
	activeNodes   metric.Int64UpDownCounter
	runLatency    metric.Float64Histogram
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithWorkers bounds the number of concurrently executing nodes. Values below 1 are ignored.
func WithWorkers(n int) Option {
	return func(s *Scheduler) {
		if n >= 1 {
			s.workers = n
		}
	}
}

// WithNodeTimeout sets the default per-node timeout. Zero disables it.
func WithNodeTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d >= 0 {
			s.nodeTimeout = d
		}
	}
}

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewScheduler creates a scheduler bound to a service locator.
//
// Inputs:
//
//	locator - Resolves node service references. Must not be nil.
//	opts - Optional settings.
//
// Outputs:
//
//	*Scheduler - The configured scheduler.
//	error - ErrInvalidInput if locator is nil.
func NewScheduler(locator ServiceLocator, opts ...Option) (*Scheduler, error) {
	if locator == nil {
		return nil, fmt.Errorf("%w: locator must not be nil", ErrInvalidInput)
	}

	s := &Scheduler{
		locator: locator,
		workers: DefaultWorkers,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Workers returns the worker pool size.
func (s *Scheduler) Workers() int {
	return s.workers
}

// initMetrics lazily initializes metrics.
// Logs errors if metric creation fails but continues execution.
func (s *Scheduler) initMetrics() {
	s.metricsOnce.Do(func() {
		var initErrors []string
		var err error

		s.nodeLatency, err = meter.Float64Histogram("conductor_node_duration_seconds",
			metric.WithDescription("Time spent executing each node"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "node_latency: "+err.Error())
		}

		s.nodeSuccesses, err = meter.Int64Counter("conductor_node_success_total",
			metric.WithDescription("Number of nodes that completed successfully"),
		)
		if err != nil {
			initErrors = append(initErrors, "node_successes: "+err.Error())
		}

		s.nodeFailures, err = meter.Int64Counter("conductor_node_failure_total",
			metric.WithDescription("Number of nodes that failed"),
		)
		if err != nil {
			initErrors = append(initErrors, "node_failures: "+err.Error())
		}

		s.nodeSkips, err = meter.Int64Counter("conductor_node_skipped_total",
			metric.WithDescription("Number of nodes skipped after an upstream failure or cancellation"),
		)
		if err != nil {
			initErrors = append(initErrors, "node_skips: "+err.Error())
		}

		s.activeNodes, err = meter.Int64UpDownCounter("conductor_active_nodes",
			metric.WithDescription("Number of currently executing nodes"),
		)
		if err != nil {
			initErrors = append(initErrors, "active_nodes: "+err.Error())
		}

		s.runLatency, err = meter.Float64Histogram("conductor_run_duration_seconds",
			metric.WithDescription("Total run time"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "run_latency: "+err.Error())
		}

		if len(initErrors) > 0 {
			s.logger.Error("failed to initialize some scheduler metrics (observability degraded)",
				slog.Int("failed_count", len(initErrors)),
				slog.Any("errors", initErrors),
			)
		}
	})
}

// completion is what a worker sends back for one node.
type completion struct {
	node     *Node
	output   any
	err      error
	finished time.Time
}

// runState is owned by the coordinator goroutine.
type runState struct {
	runID     string
	result    *ExecutionResult
	status    map[*Node]NodeStatus
	remaining map[*Node]int
	ready     []*Node
	inFlight  int
}

// Run executes every node of the graph once.
//
// Description:
//
//	Validates the graph (Kahn's algorithm) before any dispatch, then runs
//	nodes as their dependencies complete. Node failures, timeouts, panics
//	and unresolvable services are recorded in the result; Run itself only
//	fails for configuration problems.
//
//	Cancelling ctx stops further dispatch. Units already running finish
//	(bounded by their node timeout) and keep their outcome; every node
//	still pending is recorded as skipped with ErrRunCancelled.
//
// Inputs:
//
//	ctx - Cancellation for the whole run. Must not be nil.
//	g - The graph to execute. Must not be nil.
//
// Outputs:
//
//	*ExecutionResult - Outputs and failures keyed by node name.
//	error - ConfigurationError, ErrNilContext, ErrNilGraph or ErrAlreadyRunning.
//	        No node runs when error is non-nil.
func (s *Scheduler) Run(ctx context.Context, g *Graph) (*ExecutionResult, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if g == nil {
		return nil, ErrNilGraph
	}

	nodes, err := g.seal()
	if err != nil {
		return nil, err
	}
	defer g.unseal()

	if _, err := topoOrder(nodes); err != nil {
		s.logger.Error("graph rejected",
			slog.String("graph", g.Name()),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	s.initMetrics()

	ctx, span := tracer.Start(ctx, "conductor.Run",
		trace.WithAttributes(
			attribute.String("conductor.graph", g.Name()),
			attribute.Int("conductor.node_count", len(nodes)),
			attribute.Int("conductor.workers", s.workers),
		),
	)
	defer span.End()

	start := time.Now()
	runID := uuid.NewString()[:12] // 48 bits of entropy
	st := &runState{
		runID:     runID,
		result:    newExecutionResult(runID, g.Name(), start),
		status:    make(map[*Node]NodeStatus, len(nodes)),
		remaining: make(map[*Node]int, len(nodes)),
	}
	span.SetAttributes(attribute.String("conductor.run_id", st.runID))

	logger := s.logger.With(
		slog.String("graph", g.Name()),
		slog.String("run_id", st.runID),
	)
	logger.Info("run started",
		slog.Int("nodes", len(nodes)),
		slog.Int("workers", s.workers),
	)

	for _, n := range nodes {
		st.status[n] = NodeStatusPending
		st.remaining[n] = len(n.dependencies)
	}
	st.ready = roots(nodes)

	s.coordinate(ctx, st, logger)

	for _, n := range nodes {
		rep := st.result.Nodes[n.name]
		rep.Status = st.status[n]
		st.result.Nodes[n.name] = rep
	}

	duration := time.Since(start)
	st.result.Duration = duration
	if s.runLatency != nil {
		s.runLatency.Record(ctx, duration.Seconds(),
			metric.WithAttributes(attribute.String("graph", g.Name())),
		)
	}

	if st.result.Succeeded() {
		span.SetStatus(codes.Ok, "")
		logger.Info("run completed",
			slog.Duration("duration", duration),
			slog.Int("outputs", len(st.result.Outputs)),
		)
	} else {
		span.SetStatus(codes.Error, fmt.Sprintf("%d node(s) did not complete", len(st.result.Failures)))
		logger.Warn("run completed with failures",
			slog.Duration("duration", duration),
			slog.Int("outputs", len(st.result.Outputs)),
			slog.Int("failures", len(st.result.Failures)),
		)
	}

	return st.result, nil
}

// coordinate is the readiness loop. It returns once nothing is ready or in flight.
func (s *Scheduler) coordinate(ctx context.Context, st *runState, logger *slog.Logger) {
	var pool errgroup.Group
	pool.SetLimit(s.workers)

	// Buffered for every node so workers never block on send.
	done := make(chan completion, len(st.remaining))

	// In-flight units run detached from run cancellation; node timeouts still apply.
	workCtx := context.WithoutCancel(ctx)

	cancelled := ctx.Done()
	stopped := false

	for len(st.ready) > 0 || st.inFlight > 0 {
		if !stopped {
			select {
			case <-cancelled:
				stopped = true
				s.cancelPending(ctx, st, logger)
			default:
			}
		}

		if !stopped {
			s.dispatch(workCtx, &pool, done, st, logger)
		}

		if st.inFlight == 0 {
			// Everything ready was resolved without dispatch (unknown services).
			continue
		}

		// Block until at least one unit completes, or the run is cancelled.
		var waitCancel <-chan struct{}
		if !stopped {
			waitCancel = cancelled
		}
		select {
		case c := <-done:
			s.complete(ctx, st, c, logger)
		case <-waitCancel:
			stopped = true
			s.cancelPending(ctx, st, logger)
			continue
		}

	drain:
		for {
			select {
			case c := <-done:
				s.complete(ctx, st, c, logger)
			default:
				break drain
			}
		}

		sortReady(st.ready)
	}

	// Every worker has reported; Wait only reaps goroutines.
	_ = pool.Wait()
}

// dispatch submits ready nodes while worker slots are free.
func (s *Scheduler) dispatch(
	ctx context.Context,
	pool *errgroup.Group,
	done chan<- completion,
	st *runState,
	logger *slog.Logger,
) {
	for len(st.ready) > 0 && st.inFlight < s.workers {
		n := st.ready[0]
		st.ready = st.ready[1:]

		if st.status[n] != NodeStatusPending {
			continue
		}

		svc, err := s.locator.Resolve(n.serviceRef)
		if err != nil {
			if !errors.Is(err, ErrServiceNotFound) {
				err = fmt.Errorf("%w: %v", ErrServiceNotFound, err)
			}
			logger.Warn("service not resolved",
				slog.String("node", n.name),
				slog.String("service", n.serviceRef),
				slog.String("error", err.Error()),
			)
			s.fail(ctx, st, n, err, time.Now(), logger)
			continue
		}

		args := Bind(n, st.result.Outputs, svc.Capabilities())
		timeout := n.timeout
		if timeout == 0 {
			if tp, ok := svc.(TimeoutProvider); ok {
				timeout = tp.Timeout()
			}
		}
		if timeout == 0 {
			timeout = s.nodeTimeout
		}

		st.status[n] = NodeStatusRunning
		st.result.Nodes[n.name] = NodeReport{DispatchedAt: time.Now()}
		st.inFlight++

		logger.Debug("node dispatched",
			slog.String("node", n.name),
			slog.String("service", n.serviceRef),
			slog.Int("in_flight", st.inFlight),
		)

		// inFlight stays below the pool limit, so Go never blocks.
		pool.Go(func() error {
			done <- s.execute(ctx, st.runID, n, svc, args, timeout)
			return nil
		})
	}
}

// execute runs one service body on a worker and converts every outcome
// into a completion. Panics and timeouts become errors here.
func (s *Scheduler) execute(
	ctx context.Context,
	runID string,
	n *Node,
	svc Service,
	args Args,
	timeout time.Duration,
) completion {
	ctx, span := tracer.Start(ctx, "conductor.Node",
		trace.WithAttributes(
			attribute.String("conductor.node", n.name),
			attribute.String("conductor.service", n.serviceRef),
			attribute.StringSlice("conductor.dependencies", n.Dependencies()),
			attribute.String("conductor.run_id", runID),
		),
	)
	defer span.End()

	if s.activeNodes != nil {
		s.activeNodes.Add(ctx, 1)
		defer s.activeNodes.Add(ctx, -1)
	}

	callCtx := ctx
	cancel := func() {}
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	type outcome struct {
		output any
		err    error
	}
	resultCh := make(chan outcome, 1)

	start := time.Now()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- outcome{err: fmt.Errorf("%w: %v", ErrServicePanic, r)}
			}
		}()
		out, err := svc.Invoke(callCtx, args)
		resultCh <- outcome{output: out, err: err}
	}()

	var res outcome
	select {
	case res = <-resultCh:
	case <-callCtx.Done():
		// The body ignored its context; abandon it.
		res = outcome{err: callCtx.Err()}
	}

	duration := time.Since(start)
	if s.nodeLatency != nil {
		s.nodeLatency.Record(ctx, duration.Seconds(),
			metric.WithAttributes(attribute.String("service", n.serviceRef)),
		)
	}

	err := res.err
	if err != nil {
		if timeout > 0 && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s: %v", ErrNodeTimeout, timeout, err)
		}
		var svcErr *ServiceError
		if !errors.As(err, &svcErr) {
			err = &ServiceError{Service: n.serviceRef, Err: err}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return completion{node: n, err: err, finished: time.Now()}
	}

	span.SetStatus(codes.Ok, "")
	return completion{node: n, output: res.output, finished: time.Now()}
}

// complete applies one worker result to the run state.
func (s *Scheduler) complete(ctx context.Context, st *runState, c completion, logger *slog.Logger) {
	st.inFlight--
	n := c.node

	if c.err != nil {
		s.fail(ctx, st, n, c.err, c.finished, logger)
		return
	}

	rep := st.result.Nodes[n.name]
	rep.CompletedAt = c.finished
	rep.Duration = c.finished.Sub(rep.DispatchedAt)
	st.result.Nodes[n.name] = rep
	st.result.Outputs[n.name] = c.output
	st.status[n] = NodeStatusDone

	if s.nodeSuccesses != nil {
		s.nodeSuccesses.Add(ctx, 1, metric.WithAttributes(attribute.String("service", n.serviceRef)))
	}
	logger.Debug("node completed",
		slog.String("node", n.name),
		slog.Duration("duration", rep.Duration),
	)

	for _, consumer := range n.consumers {
		st.remaining[consumer]--
		if st.remaining[consumer] == 0 && st.status[consumer] == NodeStatusPending {
			st.ready = append(st.ready, consumer)
		}
	}
}

// fail marks n failed and skips every not-yet-started transitive consumer.
func (s *Scheduler) fail(ctx context.Context, st *runState, n *Node, err error, at time.Time, logger *slog.Logger) {
	rep := st.result.Nodes[n.name]
	rep.CompletedAt = at
	if !rep.DispatchedAt.IsZero() {
		rep.Duration = at.Sub(rep.DispatchedAt)
	}
	st.result.Nodes[n.name] = rep

	st.status[n] = NodeStatusFailed
	st.result.Failures[n.name] = &Failure{
		Node:   n.name,
		Status: NodeStatusFailed,
		Kind:   classifyFailure(err),
		Reason: err.Error(),
		Err:    err,
	}

	if s.nodeFailures != nil {
		s.nodeFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("service", n.serviceRef)))
	}
	logger.Warn("node failed",
		slog.String("node", n.name),
		slog.String("service", n.serviceRef),
		slog.String("error", err.Error()),
	)

	skipErr := fmt.Errorf("%w: %s", ErrDependencyFailed, n.name)
	queue := append([]*Node(nil), n.consumers...)
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		if st.status[c] != NodeStatusPending {
			continue
		}
		s.skip(ctx, st, c, &Failure{
			Node:   c.name,
			Status: NodeStatusSkipped,
			Kind:   FailureDependencyFailed,
			Reason: ReasonDependencyFailed,
			Cause:  n.name,
			Err:    skipErr,
		})
		queue = append(queue, c.consumers...)
	}
}

// cancelPending skips every pending node once the run is cancelled.
func (s *Scheduler) cancelPending(ctx context.Context, st *runState, logger *slog.Logger) {
	cause := context.Cause(ctx)
	if cause == nil {
		cause = context.Canceled
	}
	skipErr := fmt.Errorf("%w: %w", ErrRunCancelled, cause)

	skipped := 0
	for n := range st.remaining {
		if st.status[n] != NodeStatusPending {
			continue
		}
		s.skip(ctx, st, n, &Failure{
			Node:   n.name,
			Status: NodeStatusSkipped,
			Kind:   FailureCancelled,
			Reason: ReasonRunCancelled,
			Err:    skipErr,
		})
		skipped++
	}
	st.ready = nil

	logger.Warn("run cancelled",
		slog.Int("skipped", skipped),
		slog.Int("in_flight", st.inFlight),
		slog.String("cause", cause.Error()),
	)
}

func (s *Scheduler) skip(ctx context.Context, st *runState, n *Node, f *Failure) {
	st.status[n] = NodeStatusSkipped
	st.result.Failures[n.name] = f
	if s.nodeSkips != nil {
		s.nodeSkips.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(f.Kind))))
	}
}

// sortReady orders the ready queue by insertion order so dispatch order is
// reproducible for a given graph.
func sortReady(ready []*Node) {
	sort.SliceStable(ready, func(i, j int) bool {
		return ready[i].index < ready[j].index
	})
}

// Run executes g with a scheduler built from locator and opts.
//
// Example:
//
//	result, err := dag.Run(ctx, g, registry, dag.WithWorkers(8), dag.WithNodeTimeout(time.Minute))
func Run(ctx context.Context, g *Graph, locator ServiceLocator, opts ...Option) (*ExecutionResult, error) {
	s, err := NewScheduler(locator, opts...)
	if err != nil {
		return nil, err
	}
	return s.Run(ctx, g)
}
