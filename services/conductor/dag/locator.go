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
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Capability is the closed set of inputs a service body declares it accepts.
type Capability uint8

const (
	// AcceptsInstruction means the body receives the node's instruction.
	AcceptsInstruction Capability = 1 << iota

	// AcceptsPriorOutputs means the body receives its dependencies' outputs.
	AcceptsPriorOutputs
)

// CapabilityNone declares a body that takes no inputs.
const CapabilityNone Capability = 0

// Has reports whether every capability in other is declared.
func (c Capability) Has(other Capability) bool {
	return c&other == other
}

// String returns a comma-separated list of capability names.
func (c Capability) String() string {
	parts := make([]string, 0, 2)
	if c.Has(AcceptsInstruction) {
		parts = append(parts, "instruction")
	}
	if c.Has(AcceptsPriorOutputs) {
		parts = append(parts, "prior_outputs")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ",")
}

// ParseCapability converts a capability name used in configuration files.
func ParseCapability(s string) (Capability, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "instruction":
		return AcceptsInstruction, nil
	case "prior_outputs":
		return AcceptsPriorOutputs, nil
	case "none", "":
		return CapabilityNone, nil
	default:
		return CapabilityNone, fmt.Errorf("%w: unknown capability %q", ErrInvalidInput, s)
	}
}

// Service is an invokable service body.
//
// Implementations must be safe for concurrent use: the scheduler may invoke
// the same service for several nodes at once.
type Service interface {
	// Capabilities returns the inputs the body accepts.
	Capabilities() Capability

	// Invoke runs the body. Any non-nil error fails the node.
	Invoke(ctx context.Context, args Args) (any, error)
}

// TimeoutProvider is implemented by services that carry their own default
// timeout. A node's own timeout still takes precedence; zero means unset.
type TimeoutProvider interface {
	Timeout() time.Duration
}

// ServiceLocator resolves a node's service reference to a service body.
type ServiceLocator interface {
	// Resolve returns the service for ref, or an error wrapping ErrServiceNotFound.
	Resolve(ref string) (Service, error)
}

// ServiceFunc adapts a function to the Service interface.
//
// Example:
//
//	svc := dag.NewServiceFunc(dag.AcceptsInstruction, func(ctx context.Context, a dag.Args) (any, error) {
//	    return strings.ToUpper(a.Instruction.(string)), nil
//	})
type ServiceFunc struct {
	caps Capability
	fn   func(context.Context, Args) (any, error)
}

// NewServiceFunc creates a ServiceFunc.
func NewServiceFunc(caps Capability, fn func(context.Context, Args) (any, error)) *ServiceFunc {
	return &ServiceFunc{caps: caps, fn: fn}
}

// Capabilities implements Service.
func (s *ServiceFunc) Capabilities() Capability {
	return s.caps
}

// Invoke implements Service.
func (s *ServiceFunc) Invoke(ctx context.Context, args Args) (any, error) {
	if s.fn == nil {
		return nil, ErrInvalidInput
	}
	return s.fn(ctx, args)
}

// Registry is an in-memory ServiceLocator.
//
// Thread Safety: Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	services map[string]Service
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{services: make(map[string]Service)}
}

// Register adds a service under name.
func (r *Registry) Register(name string, svc Service) error {
	if name == "" || svc == nil {
		return fmt.Errorf("%w: service name and body are required", ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.services[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateService, name)
	}
	r.services[name] = svc
	return nil
}

// Resolve implements ServiceLocator.
func (r *Registry) Resolve(ref string) (Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrServiceNotFound, ref)
	}
	return svc, nil
}

// Names returns registered service names sorted alphabetically.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
