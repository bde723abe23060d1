// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package catalog resolves service names to service bodies from a YAML
// catalog.
//
// A catalog lists services by name, the unit kind implementing each, the
// inputs it accepts and an optional default timeout. Bodies are built on
// first use by a Factory registered for the entry's kind, so a catalog may
// mention units whose backends are not configured as long as no plan uses
// them.
//
// Thread Safety:
//
//	Catalog is safe for concurrent use. Reloads swap the entry set
//	atomically; services already resolved by a running graph keep working.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/conductor/services/conductor/dag"
)

// MaxCatalogFileSize bounds catalog files (1MB).
const MaxCatalogFileSize = 1024 * 1024

//go:embed catalog.yaml
var defaultCatalogYAML []byte

var (
	// ErrInvalidCatalog is returned when a catalog document fails validation.
	ErrInvalidCatalog = errors.New("invalid catalog")

	// ErrUnknownKind is returned when an entry names a kind with no factory.
	ErrUnknownKind = errors.New("unknown service kind")
)

var serviceNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

var catalogValidate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("servicename", func(fl validator.FieldLevel) bool {
		return serviceNamePattern.MatchString(fl.Field().String())
	})
	return v
}

// Entry describes one service.
type Entry struct {
	Name         string         `yaml:"name" json:"name" validate:"required,max=128,servicename"`
	Kind         string         `yaml:"kind" json:"kind" validate:"required"`
	Capabilities []string       `yaml:"capabilities" json:"capabilities" validate:"dive,oneof=instruction prior_outputs none"`
	Timeout      time.Duration  `yaml:"timeout" json:"timeout,omitempty" validate:"min=0"`
	Description  string         `yaml:"description" json:"description,omitempty"`
	Options      map[string]any `yaml:"options" json:"options,omitempty"`
}

// Capability folds the entry's capability names into a dag.Capability.
func (e Entry) Capability() (dag.Capability, error) {
	var caps dag.Capability
	for _, name := range e.Capabilities {
		c, err := dag.ParseCapability(name)
		if err != nil {
			return dag.CapabilityNone, err
		}
		caps |= c
	}
	return caps, nil
}

// Document is the on-disk catalog format.
type Document struct {
	Services []Entry `yaml:"services" validate:"required,min=1,dive"`
}

// Factory builds the service body for an entry.
type Factory func(entry Entry) (dag.Service, error)

// Parse decodes and validates a catalog document. Kinds are checked later
// against the factories of a Catalog.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	if err := catalogValidate.Struct(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}

	seen := make(map[string]struct{}, len(doc.Services))
	for _, e := range doc.Services {
		if _, dup := seen[e.Name]; dup {
			return nil, fmt.Errorf("%w: %w: %s", ErrInvalidCatalog, dag.ErrDuplicateService, e.Name)
		}
		seen[e.Name] = struct{}{}
	}
	return &doc, nil
}

// ReadFile parses the catalog at path.
func ReadFile(path string) (*Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	if info.Size() > MaxCatalogFileSize {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrInvalidCatalog, path, MaxCatalogFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("load catalog %s: %w", path, err)
	}
	return doc, nil
}

// Default returns the built-in catalog document.
func Default() (*Document, error) {
	return Parse(defaultCatalogYAML)
}

// Catalog is a ServiceLocator backed by catalog entries.
type Catalog struct {
	factories map[string]Factory
	logger    *slog.Logger
	lookups   *prometheus.CounterVec

	mu      sync.RWMutex
	entries map[string]Entry
	built   map[string]dag.Service
}

// Option configures a Catalog.
type Option func(*catalogOptions)

type catalogOptions struct {
	registerer prometheus.Registerer
	logger     *slog.Logger
}

// WithRegisterer registers the lookup counter on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *catalogOptions) { o.registerer = reg }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *catalogOptions) { o.logger = l }
}

// New creates an empty catalog that builds bodies with factories.
//
// Inputs:
//
//	factories - Unit factories keyed by kind. Must not be empty.
//	opts - Optional settings.
//
// Outputs:
//
//	*Catalog - The catalog. Call Replace or one of the Load methods before use.
//	error - Non-nil if factories is empty or the counter cannot be registered.
func New(factories map[string]Factory, opts ...Option) (*Catalog, error) {
	if len(factories) == 0 {
		return nil, fmt.Errorf("%w: no factories", dag.ErrInvalidInput)
	}
	o := catalogOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	lookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "conductor_catalog_lookups_total",
		Help: "Service lookups by result (hit, miss, build_error)",
	}, []string{"result"})
	if o.registerer != nil {
		if err := o.registerer.Register(lookups); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return nil, fmt.Errorf("register catalog metrics: %w", err)
			}
			lookups = are.ExistingCollector.(*prometheus.CounterVec)
		}
	}

	fs := make(map[string]Factory, len(factories))
	for k, f := range factories {
		fs[k] = f
	}

	return &Catalog{
		factories: fs,
		logger:    o.logger.With(slog.String("component", "catalog")),
		lookups:   lookups,
		entries:   make(map[string]Entry),
		built:     make(map[string]dag.Service),
	}, nil
}

// Replace installs doc as the active entry set.
//
// Every entry's kind must have a factory and its capabilities must parse;
// otherwise the current entries are kept and an error is returned.
func (c *Catalog) Replace(doc *Document) error {
	if doc == nil {
		return fmt.Errorf("%w: nil document", ErrInvalidCatalog)
	}
	entries := make(map[string]Entry, len(doc.Services))
	for _, e := range doc.Services {
		if _, ok := c.factories[e.Kind]; !ok {
			return fmt.Errorf("%w: %w %q for service %s (known: %s)",
				ErrInvalidCatalog, ErrUnknownKind, e.Kind, e.Name, strings.Join(c.Kinds(), ", "))
		}
		if _, err := e.Capability(); err != nil {
			return fmt.Errorf("%w: service %s: %v", ErrInvalidCatalog, e.Name, err)
		}
		entries[e.Name] = e
	}

	c.mu.Lock()
	c.entries = entries
	c.built = make(map[string]dag.Service)
	c.mu.Unlock()

	c.logger.Info("catalog loaded", slog.Int("services", len(entries)))
	return nil
}

// LoadFile reads path and replaces the entry set.
func (c *Catalog) LoadFile(path string) error {
	doc, err := ReadFile(path)
	if err != nil {
		return err
	}
	return c.Replace(doc)
}

// LoadDefault installs the built-in catalog.
func (c *Catalog) LoadDefault() error {
	doc, err := Default()
	if err != nil {
		return err
	}
	return c.Replace(doc)
}

// Resolve implements dag.ServiceLocator.
//
// The body is built on first lookup and cached until the next reload. A
// missing entry or a build failure wraps dag.ErrServiceNotFound.
func (c *Catalog) Resolve(ref string) (dag.Service, error) {
	c.mu.RLock()
	svc, ok := c.built[ref]
	entry, known := c.entries[ref]
	c.mu.RUnlock()

	if ok {
		c.lookups.WithLabelValues("hit").Inc()
		return svc, nil
	}
	if !known {
		c.lookups.WithLabelValues("miss").Inc()
		return nil, fmt.Errorf("%w: %q", dag.ErrServiceNotFound, ref)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another goroutine may have built it, or a reload may have dropped it.
	if svc, ok := c.built[ref]; ok {
		c.lookups.WithLabelValues("hit").Inc()
		return svc, nil
	}
	if current, ok := c.entries[ref]; ok {
		entry = current
	} else {
		c.lookups.WithLabelValues("miss").Inc()
		return nil, fmt.Errorf("%w: %q", dag.ErrServiceNotFound, ref)
	}

	body, err := c.factories[entry.Kind](entry)
	if err != nil {
		c.lookups.WithLabelValues("build_error").Inc()
		c.logger.Warn("service build failed",
			slog.String("service", ref),
			slog.String("kind", entry.Kind),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %q: %v", dag.ErrServiceNotFound, ref, err)
	}

	caps, _ := entry.Capability()
	if len(entry.Capabilities) == 0 {
		caps = body.Capabilities()
	}
	svc = &entryService{Service: body, caps: caps, timeout: entry.Timeout}
	c.built[ref] = svc
	c.lookups.WithLabelValues("hit").Inc()
	return svc, nil
}

// Entry returns the entry named name.
func (c *Catalog) Entry(name string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[name]
	return e, ok
}

// Entries returns all entries sorted by name.
func (c *Catalog) Entries() []Entry {
	c.mu.RLock()
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Kinds returns the registered unit kinds, sorted.
func (c *Catalog) Kinds() []string {
	kinds := make([]string, 0, len(c.factories))
	for k := range c.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// entryService applies the catalog entry's declared capabilities and
// timeout to a built body.
type entryService struct {
	dag.Service
	caps    dag.Capability
	timeout time.Duration
}

func (s *entryService) Capabilities() dag.Capability { return s.caps }

func (s *entryService) Timeout() time.Duration { return s.timeout }

var (
	_ dag.ServiceLocator  = (*Catalog)(nil)
	_ dag.TimeoutProvider = (*entryService)(nil)
)
