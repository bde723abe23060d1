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
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/conductor/pkg/logging"
	"github.com/AleutianAI/conductor/pkg/ux"
	"github.com/AleutianAI/conductor/services/conductor/config"
)

// cli holds state shared by every subcommand.
type cli struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	logLevel   string
	plain      bool

	cfg    *config.Config
	logger *logging.Logger
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	c := &cli{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:           "conductor",
		Short:         "Run dependency graphs of service calls",
		Long:          "Conductor executes plans: named nodes that call catalog services, wired by their dependencies.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.logger != nil {
				_ = c.logger.Close()
			}
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVarP(&c.configPath, "config", "c", os.Getenv("CONDUCTOR_CONFIG"), "config file (YAML)")
	flags.StringVar(&c.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.BoolVar(&c.plain, "plain", false, "disable colors and icons")

	root.AddCommand(
		newRunCmd(c),
		newTreeCmd(c),
		newValidateCmd(c),
		newServeCmd(c),
		newHistoryCmd(c),
		newServicesCmd(c),
	)
	return root
}

// setup loads configuration and builds the logger.
func (c *cli) setup() error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	if c.logLevel != "" {
		cfg.Logging.Level = c.logLevel
	}

	logCfg, err := cfg.LoggingConfig()
	if err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	logCfg.Output = c.stderr
	logger, err := logging.New(logCfg)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}

	c.cfg = cfg
	c.logger = logger
	return nil
}

// printer returns a printer for stdout, styled only on a terminal.
func (c *cli) printer() *ux.Printer {
	if f, ok := c.stdout.(*os.File); ok && !c.plain {
		return ux.NewPrinter(f)
	}
	return ux.NewPlainPrinter(c.stdout)
}
