// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads Conductor configuration.
//
// Configuration is layered: the embedded defaults.yaml, then an optional
// user file, then environment variables. The merged result is validated
// before it is returned.
//
// Thread Safety:
//
//	Config values are plain data. Load is safe to call concurrently.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/conductor/pkg/logging"
	"github.com/AleutianAI/conductor/services/conductor/telemetry"
)

// MaxConfigFileSize bounds the size of a user config file (1MB).
const MaxConfigFileSize = 1024 * 1024

//go:embed defaults.yaml
var defaultsYAML []byte

// ErrConfigTooLarge is returned when a config file exceeds MaxConfigFileSize.
var ErrConfigTooLarge = errors.New("config file too large")

var configValidate = validator.New()

// Config is the root configuration.
type Config struct {
	Engine    EngineConfig    `yaml:"engine"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	History   HistoryConfig   `yaml:"history"`
	Server    ServerConfig    `yaml:"server"`
	Influx    InfluxConfig    `yaml:"influx"`
	Weaviate  WeaviateConfig  `yaml:"weaviate"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
}

// EngineConfig controls the scheduler.
type EngineConfig struct {
	// Workers bounds concurrently executing nodes.
	Workers int `yaml:"workers" validate:"min=1,max=1024"`

	// NodeTimeout is the default per-node deadline. Zero disables it.
	NodeTimeout time.Duration `yaml:"node_timeout" validate:"min=0"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"oneof=auto text json"`
	Dir    string `yaml:"dir"`
}

type TelemetryConfig struct {
	Environment    string `yaml:"environment"`
	TraceExporter  string `yaml:"trace_exporter" validate:"oneof=otlp stdout none"`
	MetricExporter string `yaml:"metric_exporter" validate:"oneof=prometheus stdout none"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
}

// CatalogConfig locates the service catalog. An empty Path selects the
// built-in catalog.
type CatalogConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

// HistoryConfig controls the run journal.
type HistoryConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path" validate:"required_without=InMemory"`
	InMemory   bool   `yaml:"in_memory"`
	SyncWrites bool   `yaml:"sync_writes"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"min=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"min=0"`
}

// InfluxConfig configures the timeseries unit.
type InfluxConfig struct {
	URL    string `yaml:"url" validate:"omitempty,url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

// WeaviateConfig configures the docsearch unit.
type WeaviateConfig struct {
	URL   string `yaml:"url" validate:"omitempty,url"`
	Class string `yaml:"class"`
	Limit int    `yaml:"limit" validate:"min=1,max=100"`
}

// OpenAIConfig configures the analysis unit.
type OpenAIConfig struct {
	APIKey            string  `yaml:"api_key"`
	BaseURL           string  `yaml:"base_url" validate:"omitempty,url"`
	Model             string  `yaml:"model" validate:"required"`
	MaxTokens         int     `yaml:"max_tokens" validate:"min=1"`
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gt=0"`
	Burst             int     `yaml:"burst" validate:"min=1"`
}

// Default returns the embedded defaults with no environment applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parse embedded defaults: %w", err)
	}
	return cfg, nil
}

// Load builds the effective configuration.
//
// Description:
//
//	Starts from the embedded defaults, overlays the file at path when path
//	is non-empty, applies environment overrides, then validates.
//
// Inputs:
//
//	path - Optional YAML file. "~" expands to the home directory.
//
// Outputs:
//
//	*Config - The validated configuration.
//	error - Read, parse, environment or validation failure.
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	if path != "" {
		data, err := readFile(expandHome(path))
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("apply environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.History.Path = expandHome(cfg.History.Path)
	cfg.Logging.Dir = expandHome(cfg.Logging.Dir)
	return cfg, nil
}

// Validate checks struct constraints.
func (c *Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// TelemetryConfig converts the telemetry section for telemetry.Init.
func (c *Config) TelemetryConfig(version string) telemetry.Config {
	return telemetry.Config{
		ServiceName:    "conductor",
		ServiceVersion: version,
		Environment:    c.Telemetry.Environment,
		TraceExporter:  c.Telemetry.TraceExporter,
		MetricExporter: c.Telemetry.MetricExporter,
		OTLPEndpoint:   c.Telemetry.OTLPEndpoint,
		OTLPInsecure:   c.Telemetry.OTLPInsecure,
	}
}

// LoggingConfig converts the logging section for logging.New.
func (c *Config) LoggingConfig() (logging.Config, error) {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return logging.Config{}, err
	}
	return logging.Config{
		Level:   level,
		Format:  logging.Format(c.Logging.Format),
		LogDir:  c.Logging.Dir,
		Service: "conductor",
	}, nil
}

// applyEnv overlays environment variables. lookup is os.LookupEnv outside tests.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := lookup("CONDUCTOR_WORKERS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CONDUCTOR_WORKERS: %w", err)
		}
		c.Engine.Workers = n
	}
	if v, ok := lookup("CONDUCTOR_NODE_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CONDUCTOR_NODE_TIMEOUT: %w", err)
		}
		c.Engine.NodeTimeout = d
	}
	if v, ok := lookup("CONDUCTOR_HISTORY_ENABLED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CONDUCTOR_HISTORY_ENABLED: %w", err)
		}
		c.History.Enabled = b
	}

	str("CONDUCTOR_LOG_LEVEL", &c.Logging.Level)
	str("CONDUCTOR_LOG_FORMAT", &c.Logging.Format)
	str("CONDUCTOR_LOG_DIR", &c.Logging.Dir)
	str("CONDUCTOR_CATALOG", &c.Catalog.Path)
	str("CONDUCTOR_HISTORY_PATH", &c.History.Path)
	str("CONDUCTOR_ADDR", &c.Server.Addr)
	str("CONDUCTOR_ENV", &c.Telemetry.Environment)

	str("OTEL_TRACES_EXPORTER", &c.Telemetry.TraceExporter)
	str("OTEL_METRICS_EXPORTER", &c.Telemetry.MetricExporter)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Telemetry.OTLPEndpoint)

	str("INFLUXDB_URL", &c.Influx.URL)
	str("INFLUXDB_TOKEN", &c.Influx.Token)
	str("INFLUXDB_ORG", &c.Influx.Org)
	str("INFLUXDB_BUCKET", &c.Influx.Bucket)

	str("WEAVIATE_SERVICE_URL", &c.Weaviate.URL)

	str("OPENAI_API_KEY", &c.OpenAI.APIKey)
	str("OPENAI_MODEL", &c.OpenAI.Model)
	str("OPENAI_BASE_URL", &c.OpenAI.BaseURL)
	return nil
}

func readFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > MaxConfigFileSize {
		return nil, fmt.Errorf("%w: %s is %d bytes (max %d)", ErrConfigTooLarge, path, info.Size(), MaxConfigFileSize)
	}
	return os.ReadFile(path)
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
