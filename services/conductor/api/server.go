// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api exposes the conductor over HTTP.
//
// Routes:
//
//	POST /v1/runs          run a plan and return its result
//	POST /v1/plans/tree    validate a plan and render its dependency tree
//	GET  /v1/runs          list recorded runs, newest first
//	GET  /v1/runs/:id      fetch one recorded run
//	GET  /v1/services      list catalog services
//	GET  /healthz          liveness
//	GET  /metrics          Prometheus scrape endpoint, when enabled
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// ServiceName identifies the HTTP server in traces.
const ServiceName = "conductor-api"

// NewRouter builds the gin engine.
//
// Inputs:
//
//	h - Route handlers. Must not be nil.
//	metrics - Handler for GET /metrics. Nil leaves the route unregistered.
func NewRouter(h *Handlers, metrics http.Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(ServiceName))
	RegisterRoutes(router, h)

	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}
	return router
}

// RegisterRoutes registers the conductor routes on r.
func RegisterRoutes(r gin.IRouter, h *Handlers) {
	r.GET("/healthz", h.HandleHealth)

	v1 := r.Group("/v1")
	{
		v1.POST("/runs", h.HandleRun)
		v1.GET("/runs", h.HandleListRuns)
		v1.GET("/runs/:id", h.HandleGetRun)
		v1.POST("/plans/tree", h.HandleTree)
		v1.GET("/services", h.HandleServices)
	}
}

// ServerConfig configures Serve.
type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
}

// Serve listens on cfg.Addr and serves handler until ctx is cancelled,
// then shuts down gracefully.
//
// Outputs:
//
//	error - Nil after a clean shutdown, otherwise the listen or shutdown error.
func Serve(ctx context.Context, cfg ServerConfig, handler http.Handler) error {
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Addr, err)
	}
	return serveListener(ctx, cfg, ln, handler)
}

func serveListener(ctx context.Context, cfg ServerConfig, ln net.Listener, handler http.Handler) error {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	srv := &http.Server{
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("conductor API listening", slog.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	logger.Info("conductor API shutting down", slog.Duration("timeout", timeout))
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
