// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package eval

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestRegistry_Register(t *testing.T) {
	t.Run("function operation", func(t *testing.T) {
		registry := NewRegistry()
		if err := registry.RegisterFunc("noop", func() {}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		op, ok := registry.Get("noop")
		if !ok {
			t.Fatal("expected operation to be registered")
		}
		if op.IsRecorded() {
			t.Error("function operation reported as recorded")
		}
	})

	t.Run("recorded operation is copied", func(t *testing.T) {
		registry := NewRegistry()
		durations := []float64{100, 200, 300}
		if err := registry.RegisterRecorded("ext", durations); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		durations[0] = 999

		op, _ := registry.Get("ext")
		if !op.IsRecorded() {
			t.Error("expected recorded operation")
		}
		if op.Recorded[0] != 100 {
			t.Errorf("expected registry to own a copy, got %v", op.Recorded[0])
		}
	})

	t.Run("duplicate name", func(t *testing.T) {
		registry := NewRegistry()
		_ = registry.RegisterFunc("dup", func() {})
		err := registry.RegisterFunc("dup", func() {})
		if !errors.Is(err, ErrAlreadyRegistered) {
			t.Errorf("expected ErrAlreadyRegistered, got %v", err)
		}
	})

	t.Run("invalid operations", func(t *testing.T) {
		registry := NewRegistry()
		cases := []struct {
			name string
			op   Operation
			want error
		}{
			{"no name", Operation{Func: Invocable(func() {})}, ErrInvalidConfiguration},
			{"neither", Operation{Name: "x"}, ErrInvalidConfiguration},
			{"both", Operation{Name: "x", Func: Invocable(func() {}), Recorded: []float64{1}}, ErrInvalidConfiguration},
			{"empty recorded", Operation{Name: "x", Recorded: []float64{}}, ErrEmptyInput},
			{"negative duration", Operation{Name: "x", Recorded: []float64{1, -1}}, ErrInvalidConfiguration},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				if err := registry.Register(tc.op); !errors.Is(err, tc.want) {
					t.Errorf("expected %v, got %v", tc.want, err)
				}
			})
		}
		if registry.Count() != 0 {
			t.Errorf("expected no registrations, got %d", registry.Count())
		}
	})

	t.Run("nil function", func(t *testing.T) {
		registry := NewRegistry()
		if err := registry.RegisterFunc("nil", nil); !errors.Is(err, ErrInvalidConfiguration) {
			t.Errorf("expected ErrInvalidConfiguration, got %v", err)
		}
	})
}

func TestRegistry_MustRegisterPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on invalid operation")
		}
	}()
	NewRegistry().MustRegister(Operation{Name: "bad"})
}

func TestRegistry_ListSorted(t *testing.T) {
	registry := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		_ = registry.RegisterFunc(name, func() {})
	}
	got := registry.List()
	want := []string{"alpha", "mid", "zeta"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestRegistry_UnregisterAndHooks(t *testing.T) {
	registry := NewRegistry()
	var events []string
	registry.AddHook(func(name string, registered bool) {
		events = append(events, fmt.Sprintf("%s:%v", name, registered))
	})

	_ = registry.RegisterFunc("a", func() {})
	if err := registry.Unregister("a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := registry.Unregister("a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if len(events) != 2 || events[0] != "a:true" || events[1] != "a:false" {
		t.Errorf("unexpected hook events: %v", events)
	}
}

func TestRegistry_Concurrent(t *testing.T) {
	registry := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = registry.RegisterFunc(fmt.Sprintf("op-%d", i), func() {})
			_ = registry.List()
		}(i)
	}
	wg.Wait()
	if registry.Count() != 50 {
		t.Errorf("expected 50 operations, got %d", registry.Count())
	}
}

func TestAdapters(t *testing.T) {
	called := false
	v, err := Invocable(func() { called = true })()
	if !called || v != nil || err != nil {
		t.Errorf("Invocable: called=%v v=%v err=%v", called, v, err)
	}

	boom := errors.New("boom")
	if _, err := Fallible(func() error { return boom })(); !errors.Is(err, boom) {
		t.Errorf("Fallible: expected boom, got %v", err)
	}
}

func TestOperationFailureError(t *testing.T) {
	cause := errors.New("disk full")
	err := error(&OperationFailureError{Operation: "write", Attempts: 40, Cause: cause})

	if !errors.Is(err, ErrOperationFailure) {
		t.Error("expected errors.Is ErrOperationFailure")
	}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is cause")
	}
	var ofe *OperationFailureError
	if !errors.As(err, &ofe) || ofe.Attempts != 40 {
		t.Errorf("expected errors.As to recover attempts, got %+v", ofe)
	}
}

func TestInvalidConfig(t *testing.T) {
	err := InvalidConfig("alpha must be in (0,1), got %v", 1.5)
	if !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("expected ErrInvalidConfiguration, got %v", err)
	}
	if err.Error() != "invalid configuration: alpha must be in (0,1), got 1.5" {
		t.Errorf("unexpected message: %q", err.Error())
	}
}
