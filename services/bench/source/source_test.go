// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package source

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianBench/services/bench/eval"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFormatFromPath(t *testing.T) {
	for path, want := range map[string]Format{
		"a.json": FormatJSON,
		"a.YAML": FormatYAML,
		"a.yml":  FormatYAML,
		"a.csv":  FormatCSV,
	} {
		got, ok := FormatFromPath(path)
		assert.True(t, ok, path)
		assert.Equal(t, want, got, path)
	}
	_, ok := FormatFromPath("a.txt")
	assert.False(t, ok)
}

func TestDecode(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		sets, err := Decode(strings.NewReader(`{"operations":{"b":[3,4],"a":[1,2,3]},"cpu":{"a":[1,1,2]}}`), FormatJSON)
		require.NoError(t, err)
		require.Len(t, sets, 2)
		assert.Equal(t, "a", sets[0].Name(), "sets are ordered by name")
		assert.Equal(t, []float64{1, 2, 3}, sets[0].Wall())
		assert.Equal(t, []float64{1, 1, 2}, sets[0].CPU())
		assert.Equal(t, 2, sets[1].Len())
	})

	t.Run("yaml", func(t *testing.T) {
		sets, err := Decode(strings.NewReader("operations:\n  parse: [1200, 1180, 1250]\n"), FormatYAML)
		require.NoError(t, err)
		require.Len(t, sets, 1)
		assert.Equal(t, []float64{1200, 1180, 1250}, sets[0].Wall())
	})

	t.Run("csv", func(t *testing.T) {
		input := "# exported by perf harness\noperation,wall_ns,cpu_ns\nx,10,9\ny,20,19\nx,11,10\n"
		sets, err := Decode(strings.NewReader(input), FormatCSV)
		require.NoError(t, err)
		require.Len(t, sets, 2)
		assert.Equal(t, []float64{10, 11}, sets[0].Wall(), "rows keep file order")
		assert.Equal(t, []float64{9, 10}, sets[0].CPU())
	})

	invalid := map[string]struct {
		input  string
		format Format
		want   error
	}{
		"empty json":      {`{"operations":{}}`, FormatJSON, eval.ErrEmptyInput},
		"unknown field":   {`{"ops":{"a":[1]}}`, FormatJSON, eval.ErrInvalidConfiguration},
		"negative":        {`{"operations":{"a":[1,-2]}}`, FormatJSON, eval.ErrInvalidConfiguration},
		"cpu mismatch":    {`{"operations":{"a":[1,2]},"cpu":{"a":[1]}}`, FormatJSON, eval.ErrInvalidConfiguration},
		"empty list":      {`{"operations":{"a":[]}}`, FormatJSON, eval.ErrEmptyInput},
		"empty yaml":      {"", FormatYAML, eval.ErrEmptyInput},
		"empty csv":       {"", FormatCSV, eval.ErrEmptyInput},
		"csv no wall":     {"operation,cpu_ns\na,1\n", FormatCSV, eval.ErrInvalidConfiguration},
		"csv bad number":  {"operation,ns\na,fast\n", FormatCSV, eval.ErrInvalidConfiguration},
		"csv blank name":  {"operation,ns\n,1\n", FormatCSV, eval.ErrInvalidConfiguration},
		"unknown format":  {"", Format("xml"), eval.ErrInvalidConfiguration},
		"csv header only": {"operation,ns\n", FormatCSV, eval.ErrEmptyInput},
	}
	for name, tc := range invalid {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tc.input), tc.format)
			assert.True(t, errors.Is(err, tc.want), "error = %v, want %v", err, tc.want)
		})
	}
}

func TestFileSource(t *testing.T) {
	ctx := context.Background()

	t.Run("collect and register", func(t *testing.T) {
		path := writeFile(t, "runs.yaml", "operations:\n  a: [1, 2, 3]\n  b: [4, 5, 6]\n")
		src := NewFileSource(path, "")
		require.True(t, src.IsAvailable())

		registry := eval.NewRegistry()
		names, err := Register(ctx, src, registry)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, names)

		op, ok := registry.Get("b")
		require.True(t, ok)
		assert.True(t, op.IsRecorded())
		assert.Equal(t, []float64{4, 5, 6}, op.Recorded)
	})

	t.Run("unavailable", func(t *testing.T) {
		cases := map[string]*FileSource{
			"missing":   NewFileSource(filepath.Join(t.TempDir(), "none.json"), ""),
			"directory": NewFileSource(t.TempDir(), FormatJSON),
			"format":    NewFileSource(writeFile(t, "runs.txt", "x"), ""),
		}
		for name, src := range cases {
			t.Run(name, func(t *testing.T) {
				assert.False(t, src.IsAvailable())
				err := src.Check()
				var unavailable *Unavailable
				require.True(t, errors.As(err, &unavailable))
				assert.True(t, errors.Is(err, ErrUnavailable))
				assert.Equal(t, src.Name(), unavailable.Source)

				_, err = Register(ctx, src, eval.NewRegistry())
				assert.True(t, errors.Is(err, ErrUnavailable))
			})
		}
	})

	t.Run("duplicate registration", func(t *testing.T) {
		path := writeFile(t, "runs.json", `{"operations":{"a":[1]}}`)
		registry := eval.NewRegistry()
		require.NoError(t, registry.RegisterRecorded("a", []float64{1}))
		_, err := Register(ctx, NewFileSource(path, ""), registry)
		assert.True(t, errors.Is(err, eval.ErrAlreadyRegistered))
	})
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestCommandSource(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid config", func(t *testing.T) {
		for name, tc := range map[string]struct {
			name string
			opts []CommandOption
		}{
			"no name":     {"", nil},
			"zero runs":   {"op", []CommandOption{WithRuns(0)}},
			"neg warmup":  {"op", []CommandOption{WithWarmup(-1)}},
			"neg timeout": {"op", []CommandOption{WithRunTimeout(-1)}},
		} {
			t.Run(name, func(t *testing.T) {
				_, err := NewCommandSource(tc.name, []string{"sh"}, tc.opts...)
				assert.True(t, errors.Is(err, eval.ErrInvalidConfiguration))
			})
		}
	})

	t.Run("unavailable", func(t *testing.T) {
		src, err := NewCommandSource("ghost", []string{"definitely-not-a-real-binary-xyz"})
		require.NoError(t, err)
		src.lookPath = func(string) (string, error) { return "", exec.ErrNotFound }
		assert.False(t, src.IsAvailable())

		_, err = src.Collect(ctx)
		assert.True(t, errors.Is(err, ErrUnavailable))

		empty, err := NewCommandSource("empty", nil)
		require.NoError(t, err)
		assert.True(t, errors.Is(empty.Check(), ErrUnavailable))
	})

	t.Run("collect", func(t *testing.T) {
		requireShell(t)
		src, err := NewCommandSource("noop", []string{"sh", "-c", "exit 0"}, WithRuns(3), WithWarmup(1))
		require.NoError(t, err)
		require.True(t, src.IsAvailable())

		sets, err := src.Collect(ctx)
		require.NoError(t, err)
		require.Len(t, sets, 1)
		assert.Equal(t, "noop", sets[0].Name())
		assert.Equal(t, 3, sets[0].Len())
		for _, s := range sets[0].Samples() {
			assert.Greater(t, s.WallNs, 0.0)
			assert.True(t, s.HasCPU)
		}
	})

	t.Run("all runs fail", func(t *testing.T) {
		requireShell(t)
		src, err := NewCommandSource("broken", []string{"sh", "-c", "echo nope >&2; exit 3"},
			WithRuns(2), WithWarmup(0))
		require.NoError(t, err)

		_, err = src.Collect(ctx)
		var failure *eval.OperationFailureError
		require.True(t, errors.As(err, &failure))
		assert.Equal(t, "broken", failure.Operation)
		assert.Equal(t, 2, failure.Attempts)
		assert.Contains(t, err.Error(), "nope")
	})

	t.Run("operation", func(t *testing.T) {
		requireShell(t)
		src, err := NewCommandSource("noop", []string{"sh", "-c", "exit 0"}, WithEnv("BENCH=1"))
		require.NoError(t, err)
		op := src.Operation()
		require.NoError(t, op.Validate())
		_, err = op.Func()
		assert.NoError(t, err)
	})

	t.Run("cancelled", func(t *testing.T) {
		requireShell(t)
		src, err := NewCommandSource("noop", []string{"sh", "-c", "exit 0"})
		require.NoError(t, err)
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err = src.Collect(cancelled)
		assert.True(t, errors.Is(err, context.Canceled))
	})
}

func TestLimitedBuffer(t *testing.T) {
	b := &limitedBuffer{limit: 4}
	n, err := b.Write([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 6, n, "writes report full length so the child never blocks")
	_, _ = b.Write([]byte("gh"))
	assert.Equal(t, "abcd", b.String())
}
