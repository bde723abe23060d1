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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/AleutianAI/conductor/services/conductor/catalog"
	"github.com/AleutianAI/conductor/services/conductor/config"
	"github.com/AleutianAI/conductor/services/conductor/dag"
	"github.com/AleutianAI/conductor/services/conductor/history"
	"github.com/AleutianAI/conductor/services/conductor/telemetry"
	"github.com/AleutianAI/conductor/services/conductor/units"
)

// runtime is the wired set of components one command invocation uses.
type runtime struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	catalog  *catalog.Catalog
	journal  *history.Store

	closers []func(context.Context) error
}

// runtimeOptions selects the optional parts of a runtime.
type runtimeOptions struct {
	telemetry bool
	history   bool

	// historyOptional downgrades a journal that cannot be opened (for
	// example, locked by a running server) to a warning.
	historyOptional bool
}

// newRuntime wires telemetry, backends, the catalog and the run journal
// from configuration. Backends whose settings are missing are left out;
// services that need them fail when a node resolves them.
func newRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts runtimeOptions) (*runtime, error) {
	rt := &runtime{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	rt.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if opts.telemetry {
		tcfg := cfg.TelemetryConfig(Version)
		tcfg.Registry = rt.registry
		shutdown, err := telemetry.Init(ctx, tcfg)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, shutdown)
	}

	tk := &units.Toolkit{
		InfluxBucket: cfg.Influx.Bucket,
		SearchLimit:  cfg.Weaviate.Limit,
		LLMLimiter:   units.NewLimiter(cfg.OpenAI.RequestsPerSecond, cfg.OpenAI.Burst),
		Logger:       logger,
	}
	if cfg.Influx.URL != "" && cfg.Influx.Token != "" {
		runner := units.NewInfluxRunner(cfg.Influx.URL, cfg.Influx.Token, cfg.Influx.Org)
		tk.Influx = runner
		rt.closers = append(rt.closers, func(context.Context) error {
			runner.Close()
			return nil
		})
	}
	if cfg.Weaviate.URL != "" {
		searcher, err := units.NewWeaviateSearcher(cfg.Weaviate.URL, cfg.Weaviate.Class)
		if err != nil {
			logger.Warn("weaviate search disabled", slog.String("error", err.Error()))
		} else {
			tk.Search = searcher
		}
	}
	if cfg.OpenAI.APIKey != "" {
		client, err := units.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model)
		if err != nil {
			logger.Warn("analysis disabled", slog.String("error", err.Error()))
		} else {
			tk.LLM = client
		}
	}

	cat, err := catalog.New(tk.Factories(),
		catalog.WithRegisterer(rt.registry),
		catalog.WithLogger(logger),
	)
	if err != nil {
		_ = rt.close()
		return nil, err
	}
	if cfg.Catalog.Path != "" {
		err = cat.LoadFile(cfg.Catalog.Path)
	} else {
		err = cat.LoadDefault()
	}
	if err != nil {
		_ = rt.close()
		return nil, err
	}
	rt.catalog = cat

	if opts.history && cfg.History.Enabled {
		hcfg := history.DefaultConfig()
		hcfg.Path = cfg.History.Path
		hcfg.InMemory = cfg.History.InMemory
		hcfg.SyncWrites = cfg.History.SyncWrites
		hcfg.Registerer = rt.registry
		hcfg.Logger = logger
		store, err := history.Open(hcfg)
		switch {
		case err == nil:
			rt.journal = store
			rt.closers = append(rt.closers, func(context.Context) error { return store.Close() })
		case opts.historyOptional:
			logger.Warn("run history unavailable", slog.String("error", err.Error()))
		default:
			_ = rt.close()
			return nil, err
		}
	}

	return rt, nil
}

// schedulerOptions maps the engine section to scheduler options.
func (rt *runtime) schedulerOptions() []dag.Option {
	return []dag.Option{
		dag.WithWorkers(rt.cfg.Engine.Workers),
		dag.WithNodeTimeout(rt.cfg.Engine.NodeTimeout),
		dag.WithLogger(rt.logger),
	}
}

// close releases components in reverse order of creation.
func (rt *runtime) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	if len(errs) > 0 {
		return fmt.Errorf("close runtime: %w", errors.Join(errs...))
	}
	return nil
}
