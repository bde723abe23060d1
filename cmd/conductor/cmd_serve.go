// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/conductor/services/conductor/api"
	"github.com/AleutianAI/conductor/services/conductor/telemetry"
)

func newServeCmd(c *cli) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Serves plan submission, run history and the service catalog over HTTP.
With catalog.watch enabled and a catalog file configured, edits to the file
are picked up without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := c.logger.Slog()
			if addr != "" {
				c.cfg.Server.Addr = addr
			}

			rt, err := newRuntime(ctx, c.cfg, logger, runtimeOptions{telemetry: true, history: true})
			if err != nil {
				return err
			}
			defer func() {
				if err := rt.close(); err != nil {
					logger.Warn("shutdown incomplete", slog.String("error", err.Error()))
				}
			}()

			if c.cfg.Catalog.Watch && c.cfg.Catalog.Path != "" {
				go func() {
					err := rt.catalog.Watch(ctx, c.cfg.Catalog.Path, func(err error) {
						if err == nil {
							logger.Info("catalog reloaded", slog.Int("services", len(rt.catalog.Entries())))
						}
					})
					if err != nil {
						logger.Error("catalog watcher stopped", slog.String("error", err.Error()))
					}
				}()
			}

			opts := []api.Option{
				api.WithLogger(logger),
				api.WithVersion(Version),
				api.WithSchedulerOptions(rt.schedulerOptions()...),
			}
			if rt.journal != nil {
				opts = append(opts, api.WithJournal(rt.journal))
			}
			handlers, err := api.NewHandlers(rt.catalog, opts...)
			if err != nil {
				return err
			}

			metrics := telemetry.MetricsHandler()
			if metrics == nil {
				metrics = promhttp.HandlerFor(rt.registry, promhttp.HandlerOpts{Registry: rt.registry})
			}

			gin.SetMode(gin.ReleaseMode)
			router := api.NewRouter(handlers, metrics)

			return api.Serve(ctx, api.ServerConfig{
				Addr:            c.cfg.Server.Addr,
				ReadTimeout:     c.cfg.Server.ReadTimeout,
				ShutdownTimeout: c.cfg.Server.ShutdownTimeout,
				Logger:          logger,
			}, router)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}
