// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package eval holds the operation registry and error taxonomy shared by
// the bench services.
//
// Operations are registered explicitly by the caller. There is no
// package-level default registry and no discovery by reflection: whatever
// the caller puts into a Registry is exactly what gets measured.
package eval

import (
	"fmt"
	"sort"
	"sync"
)

// -----------------------------------------------------------------------------
// Operations
// -----------------------------------------------------------------------------

// Func is a measurable zero-argument invocable.
//
// The returned value is used only for cold/hot result-consistency checks
// and may be nil. A non-nil error marks the invocation as a failed attempt.
type Func func() (any, error)

// Operation is a named unit of work to benchmark.
//
// Exactly one of Func or Recorded is set. Recorded holds durations in
// nanoseconds measured by an external collaborator.
type Operation struct {
	Name     string
	Func     Func
	Recorded []float64
}

// IsRecorded returns true if the operation carries pre-recorded durations
// rather than an invocable.
func (o Operation) IsRecorded() bool {
	return o.Func == nil && o.Recorded != nil
}

// Validate checks that the operation is well formed.
func (o Operation) Validate() error {
	if o.Name == "" {
		return InvalidConfig("operation name is required")
	}
	switch {
	case o.Func != nil && o.Recorded != nil:
		return InvalidConfig("operation %s has both a function and recorded durations", o.Name)
	case o.Func == nil && o.Recorded == nil:
		return InvalidConfig("operation %s has neither a function nor recorded durations", o.Name)
	case o.Recorded != nil && len(o.Recorded) == 0:
		return fmt.Errorf("operation %s: %w", o.Name, ErrEmptyInput)
	}
	for i, ns := range o.Recorded {
		if ns < 0 {
			return InvalidConfig("operation %s: negative duration %v at index %d", o.Name, ns, i)
		}
	}
	return nil
}

// Invocable adapts a func() with no result.
func Invocable(fn func()) Func {
	return func() (any, error) {
		fn()
		return nil, nil
	}
}

// Fallible adapts a func() error.
func Fallible(fn func() error) Func {
	return func() (any, error) {
		return nil, fn()
	}
}

// -----------------------------------------------------------------------------
// Registry
// -----------------------------------------------------------------------------

// Registry maps operation names to operations.
//
// Description:
//
//	The Registry is the caller-supplied set of operations a run measures.
//	It supports concurrent registration and lookup, and notifies hooks on
//	changes.
//
// Thread Safety: Safe for concurrent use via read-write mutex.
type Registry struct {
	mu         sync.RWMutex
	operations map[string]Operation
	hooks      []RegistrationHook
}

// RegistrationHook is called when an operation is registered or removed.
type RegistrationHook func(name string, registered bool)

// NewRegistry creates a new empty registry.
//
// Example:
//
//	registry := eval.NewRegistry()
//	registry.MustRegister(eval.Operation{Name: "sort", Func: eval.Invocable(sortInput)})
func NewRegistry() *Registry {
	return &Registry{
		operations: make(map[string]Operation),
	}
}

// Register adds an operation.
//
// Inputs:
//   - op: The operation. Must pass Validate.
//
// Outputs:
//   - error: nil on success, ErrInvalidConfiguration or ErrEmptyInput if
//     the operation is malformed, ErrAlreadyRegistered on a duplicate name.
//
// Thread Safety: Safe for concurrent use.
func (r *Registry) Register(op Operation) error {
	if err := op.Validate(); err != nil {
		return err
	}
	if op.Recorded != nil {
		op.Recorded = append([]float64(nil), op.Recorded...)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.operations[op.Name]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, op.Name)
	}
	r.operations[op.Name] = op

	for _, hook := range r.hooks {
		hook(op.Name, true)
	}
	return nil
}

// RegisterFunc registers a func() under name.
func (r *Registry) RegisterFunc(name string, fn func()) error {
	if fn == nil {
		return InvalidConfig("operation %s: nil function", name)
	}
	return r.Register(Operation{Name: name, Func: Invocable(fn)})
}

// RegisterRecorded registers pre-recorded durations in nanoseconds.
func (r *Registry) RegisterRecorded(name string, ns []float64) error {
	if ns == nil {
		ns = []float64{}
	}
	return r.Register(Operation{Name: name, Recorded: ns})
}

// MustRegister registers an operation and panics on error. Intended for
// program setup only.
func (r *Registry) MustRegister(op Operation) {
	if err := r.Register(op); err != nil {
		panic(fmt.Sprintf("eval: failed to register %s: %v", op.Name, err))
	}
}

// Unregister removes an operation.
//
// Outputs:
//   - error: nil on success, ErrNotFound if not registered.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.operations[name]; !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(r.operations, name)

	for _, hook := range r.hooks {
		hook(name, false)
	}
	return nil
}

// Get retrieves an operation by name.
func (r *Registry) Get(name string) (Operation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	op, ok := r.operations[name]
	return op, ok
}

// List returns all operation names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.operations))
	for name := range r.operations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered operations.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.operations)
}

// AddHook adds a registration hook. Hooks run under the registry lock and
// must not call back into the registry.
func (r *Registry) AddHook(hook RegistrationHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, hook)
}
