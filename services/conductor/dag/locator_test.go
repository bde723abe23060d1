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
	"testing"
)

func TestRegistry_RegisterResolve(t *testing.T) {
	r := NewRegistry()
	svc := NewServiceFunc(AcceptsInstruction, func(_ context.Context, a Args) (any, error) {
		return a.Instruction, nil
	})

	if err := r.Register("echo", svc); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	got, err := r.Resolve("echo")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.Capabilities() != AcceptsInstruction {
		t.Errorf("Capabilities() = %v, want %v", got.Capabilities(), AcceptsInstruction)
	}

	out, err := got.Invoke(context.Background(), Args{Instruction: "hi", HasInstruction: true})
	if err != nil || out != "hi" {
		t.Errorf("Invoke() = (%v, %v), want (hi, nil)", out, err)
	}
}

func TestRegistry_Duplicate(t *testing.T) {
	r := NewRegistry()
	svc := NewServiceFunc(CapabilityNone, nil)

	if err := r.Register("x", svc); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register("x", svc); !errors.Is(err, ErrDuplicateService) {
		t.Errorf("second Register() error = %v, want %v", err, ErrDuplicateService)
	}
}

func TestRegistry_InvalidInput(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("", NewServiceFunc(CapabilityNone, nil)); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Register(\"\") error = %v, want %v", err, ErrInvalidInput)
	}
	if err := r.Register("x", nil); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Register(nil) error = %v, want %v", err, ErrInvalidInput)
	}
}

func TestRegistry_NotFound(t *testing.T) {
	_, err := NewRegistry().Resolve("missing")
	if !errors.Is(err, ErrServiceNotFound) {
		t.Errorf("Resolve() error = %v, want %v", err, ErrServiceNotFound)
	}
}

func TestRegistry_Names(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"b", "c", "a"} {
		if err := r.Register(name, NewServiceFunc(CapabilityNone, nil)); err != nil {
			t.Fatal(err)
		}
	}

	names := r.Names()
	want := []string{"a", "b", "c"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("Names() = %v, want %v", names, want)
		}
	}
}

func TestServiceFunc_NilFunc(t *testing.T) {
	_, err := NewServiceFunc(CapabilityNone, nil).Invoke(context.Background(), Args{})
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Invoke() error = %v, want %v", err, ErrInvalidInput)
	}
}
