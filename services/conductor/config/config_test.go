// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/conductor/pkg/logging"
)

var envKeys = []string{
	"CONDUCTOR_WORKERS", "CONDUCTOR_NODE_TIMEOUT", "CONDUCTOR_HISTORY_ENABLED",
	"CONDUCTOR_LOG_LEVEL", "CONDUCTOR_LOG_FORMAT", "CONDUCTOR_LOG_DIR",
	"CONDUCTOR_CATALOG", "CONDUCTOR_HISTORY_PATH", "CONDUCTOR_ADDR", "CONDUCTOR_ENV",
	"OTEL_TRACES_EXPORTER", "OTEL_METRICS_EXPORTER", "OTEL_EXPORTER_OTLP_ENDPOINT",
	"INFLUXDB_URL", "INFLUXDB_TOKEN", "INFLUXDB_ORG", "INFLUXDB_BUCKET",
	"WEAVIATE_SERVICE_URL", "OPENAI_API_KEY", "OPENAI_MODEL", "OPENAI_BASE_URL",
}

// clearEnv blanks every variable Load reads so host settings do not leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "conductor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestDefault(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Engine.Workers)
	assert.Equal(t, time.Duration(0), cfg.Engine.NodeTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "prometheus", cfg.Telemetry.MetricExporter)
	assert.Equal(t, 5, cfg.Weaviate.Limit)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_NoFile(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Engine.Workers)
	assert.False(t, strings.HasPrefix(cfg.History.Path, "~"), "history path should be expanded")
}

func TestLoad_FileOverlay(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
engine:
  workers: 8
  node_timeout: 1500ms
catalog:
  path: /etc/conductor/catalog.yaml
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Engine.Workers)
	assert.Equal(t, 1500*time.Millisecond, cfg.Engine.NodeTimeout)
	assert.Equal(t, "/etc/conductor/catalog.yaml", cfg.Catalog.Path)
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAI.Model, "untouched sections keep defaults")
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONDUCTOR_WORKERS", "16")
	t.Setenv("CONDUCTOR_NODE_TIMEOUT", "2s")
	t.Setenv("CONDUCTOR_HISTORY_ENABLED", "false")
	t.Setenv("INFLUXDB_BUCKET", "ticks")
	t.Setenv("WEAVIATE_SERVICE_URL", "http://weaviate:8080")
	t.Setenv("OPENAI_MODEL", "gpt-4o")

	path := writeConfig(t, "engine:\n  workers: 2\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 16, cfg.Engine.Workers, "environment wins over file")
	assert.Equal(t, 2*time.Second, cfg.Engine.NodeTimeout)
	assert.False(t, cfg.History.Enabled)
	assert.Equal(t, "ticks", cfg.Influx.Bucket)
	assert.Equal(t, "http://weaviate:8080", cfg.Weaviate.URL)
	assert.Equal(t, "gpt-4o", cfg.OpenAI.Model)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		env     map[string]string
		wantErr string
	}{
		{name: "zero workers", body: "engine:\n  workers: 0\n", wantErr: "Workers"},
		{name: "bad log level", body: "logging:\n  level: chatty\n", wantErr: "Level"},
		{name: "bad exporter", body: "telemetry:\n  trace_exporter: zipkin\n", wantErr: "TraceExporter"},
		{name: "bad url", body: "influx:\n  url: not a url\n", wantErr: "URL"},
		{name: "malformed yaml", body: "engine: [\n", wantErr: "parse config"},
		{name: "bad env int", env: map[string]string{"CONDUCTOR_WORKERS": "many"}, wantErr: "CONDUCTOR_WORKERS"},
		{name: "bad env duration", env: map[string]string{"CONDUCTOR_NODE_TIMEOUT": "soon"}, wantErr: "CONDUCTOR_NODE_TIMEOUT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			if tt.body != "" {
				path = writeConfig(t, tt.body)
			}

			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_TooLarge(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "# "+strings.Repeat("x", MaxConfigFileSize)+"\n")

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrConfigTooLarge)
}

func TestConfig_Conversions(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)
	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "json"

	lc, err := cfg.LoggingConfig()
	require.NoError(t, err)
	assert.Equal(t, logging.LevelDebug, lc.Level)
	assert.Equal(t, logging.FormatJSON, lc.Format)
	assert.Equal(t, "conductor", lc.Service)

	tc := cfg.TelemetryConfig("1.2.3")
	assert.Equal(t, "1.2.3", tc.ServiceVersion)
	assert.Equal(t, cfg.Telemetry.MetricExporter, tc.MetricExporter)
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	assert.Equal(t, filepath.Join(home, ".conductor"), expandHome("~/.conductor"))
	assert.Equal(t, "/abs", expandHome("/abs"))
	assert.Equal(t, "~user/x", expandHome("~user/x"))
}
