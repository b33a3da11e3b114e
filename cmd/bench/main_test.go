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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianBench/services/bench/eval"
	"github.com/AleutianAI/AleutianBench/services/bench/regression"
	"github.com/AleutianAI/AleutianBench/services/bench/report"
	"github.com/AleutianAI/AleutianBench/services/bench/source"
)

// execute runs the CLI with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd(&out, &errOut)
	root.SetArgs(append([]string{"--log-level", "warn"}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// timings writes a JSON durations file with two operations of n samples.
func timings(t *testing.T, dir, name string, fast, slow float64, n int) string {
	t.Helper()
	ops := map[string][]float64{"fast": make([]float64, n), "slow": make([]float64, n)}
	for i := 0; i < n; i++ {
		ops["fast"][i] = fast + float64(i%7)
		ops["slow"][i] = slow + float64(i%7)
	}
	data, err := json.Marshal(map[string]any{"operations": ops})
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRun_List(t *testing.T) {
	out, err := execute(t, "run", "--list")
	if err != nil {
		t.Fatalf("run --list error = %v", err)
	}
	for _, w := range builtinWorkloads() {
		if !strings.Contains(out, w.name) {
			t.Errorf("listing missing %q", w.name)
		}
	}
}

func TestRun_UnknownWorkload(t *testing.T) {
	_, err := execute(t, "run", "no/such")
	if !errors.Is(err, eval.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestRun_Workloads(t *testing.T) {
	out, err := execute(t, "--json", "run", "sort/1k", "sha256/4k", "--max-time", "200ms", "--target-error", "0.2")
	if err != nil {
		t.Fatalf("run error = %v", err)
	}
	r, err := report.Unmarshal([]byte(out))
	if err != nil {
		t.Fatalf("report.Unmarshal() error = %v", err)
	}
	if len(r.Operations) != 2 || len(r.Comparisons) != 1 {
		t.Errorf("got %d operations and %d comparisons", len(r.Operations), len(r.Comparisons))
	}
}

func TestRun_Command(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	out, err := execute(t, "--json", "run", "--cmd", "noop=sh -c true", "--runs", "3", "--warmup", "0")
	if err != nil {
		t.Fatalf("run --cmd error = %v", err)
	}
	r, err := report.Unmarshal([]byte(out))
	if err != nil {
		t.Fatalf("report.Unmarshal() error = %v", err)
	}
	op, ok := r.Operations["noop"]
	if !ok || op.Count != 3 {
		t.Errorf("noop summary = %+v, want 3 samples", op)
	}
}

func TestParseCommand(t *testing.T) {
	o := &runOptions{runs: 5, warmup: 0, runTimeout: time.Second}

	src, err := parseCommand("gz = gzip -k file", o)
	if err != nil {
		t.Fatalf("parseCommand() error = %v", err)
	}
	if src.Name() != "gz" {
		t.Errorf("Name() = %q, want gz", src.Name())
	}

	for _, bad := range []string{"gzip -k", "=gzip", "gz=", "gz=   "} {
		if _, err := parseCommand(bad, o); !errors.Is(err, eval.ErrInvalidConfiguration) {
			t.Errorf("parseCommand(%q) error = %v, want ErrInvalidConfiguration", bad, err)
		}
	}
}

func TestAnalyze(t *testing.T) {
	dir := t.TempDir()
	path := timings(t, dir, "runs.json", 100, 200, 40)

	t.Run("json", func(t *testing.T) {
		out, err := execute(t, "--json", "analyze", path)
		if err != nil {
			t.Fatalf("analyze error = %v", err)
		}
		r, err := report.Unmarshal([]byte(out))
		if err != nil {
			t.Fatalf("report.Unmarshal() error = %v", err)
		}
		c, ok := r.Comparison("fast", "slow")
		if !ok || c.Faster != "fast" {
			t.Errorf("comparison = %+v, want fast faster", c)
		}
	})

	t.Run("console", func(t *testing.T) {
		out, err := execute(t, "analyze", path, "--label", "branch=main")
		if err != nil {
			t.Fatalf("analyze error = %v", err)
		}
		if !strings.Contains(out, "Benchmark Report") || !strings.Contains(out, "fast") {
			t.Errorf("unexpected console output:\n%s", out)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := execute(t, "analyze", filepath.Join(dir, "none.json"))
		if !errors.Is(err, source.ErrUnavailable) {
			t.Errorf("error = %v, want ErrUnavailable", err)
		}
	})

	t.Run("duplicate operations", func(t *testing.T) {
		_, err := execute(t, "analyze", path, path)
		if !errors.Is(err, eval.ErrInvalidConfiguration) {
			t.Errorf("error = %v, want ErrInvalidConfiguration", err)
		}
	})

	t.Run("no args", func(t *testing.T) {
		if _, err := execute(t, "analyze"); err == nil {
			t.Error("expected an argument error")
		}
	})
}

func TestPower(t *testing.T) {
	t.Run("effect", func(t *testing.T) {
		out, err := execute(t, "--json", "power", "--effect", "0.5")
		if err != nil {
			t.Fatalf("power error = %v", err)
		}
		var res powerResult
		if err := json.Unmarshal([]byte(out), &res); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if res.RequiredSampleSize < 3 || res.Analysis != nil {
			t.Errorf("unexpected result %+v", res)
		}
	})

	t.Run("observed", func(t *testing.T) {
		path := timings(t, t.TempDir(), "runs.json", 100, 200, 30)
		out, err := execute(t, "--json", "power", path, "fast", "slow")
		if err != nil {
			t.Fatalf("power error = %v", err)
		}
		var res powerResult
		if err := json.Unmarshal([]byte(out), &res); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if res.Analysis == nil || res.Analysis.Power < 0.99 {
			t.Errorf("separated samples should have power near 1, got %+v", res.Analysis)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		if _, err := execute(t, "power"); !errors.Is(err, eval.ErrInvalidConfiguration) {
			t.Errorf("error = %v, want ErrInvalidConfiguration", err)
		}
		if _, err := execute(t, "power", "a.json", "x"); err == nil {
			t.Error("expected an argument count error")
		}
		path := timings(t, t.TempDir(), "runs.json", 100, 200, 30)
		if _, err := execute(t, "power", path, "fast", "ghost"); !errors.Is(err, eval.ErrNotFound) {
			t.Errorf("error = %v, want ErrNotFound", err)
		}
	})
}

func TestHistory(t *testing.T) {
	dir := t.TempDir()
	history := filepath.Join(dir, "history")
	before := timings(t, dir, "before.json", 100, 200, 40)
	after := timings(t, dir, "after.json", 300, 200, 40)

	if _, err := execute(t, "--history", history, "--json", "analyze", before); err != nil {
		t.Fatalf("first analyze error = %v", err)
	}
	// The first report has nothing to compare to.
	if _, err := execute(t, "--history", history, "history", "check"); !errors.Is(err, regression.ErrNoBaseline) {
		t.Errorf("check error = %v, want ErrNoBaseline", err)
	}

	_, err := execute(t, "--history", history, "--json", "analyze", after, "--check")
	if !errors.Is(err, errRegression) {
		t.Fatalf("analyze --check error = %v, want errRegression", err)
	}
	if exitCode(err) != 2 {
		t.Errorf("exitCode() = %d, want 2", exitCode(err))
	}

	out, err := execute(t, "--history", history, "--json", "history", "list")
	if err != nil {
		t.Fatalf("history list error = %v", err)
	}
	var entries []regression.Entry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}

	out, err = execute(t, "--history", history, "--json", "history", "check")
	if !errors.Is(err, errRegression) {
		t.Fatalf("history check error = %v, want errRegression", err)
	}
	var result regression.Result
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if result.CurrentID != entries[0].ID || result.BaselineID != entries[1].ID {
		t.Errorf("compared %s -> %s, want %s -> %s",
			result.BaselineID, result.CurrentID, entries[1].ID, entries[0].ID)
	}

	out, err = execute(t, "--history", history, "--json", "history", "show", entries[1].ID)
	if err != nil {
		t.Fatalf("history show error = %v", err)
	}
	if r, err := report.Unmarshal([]byte(out)); err != nil || r.ID != entries[1].ID {
		t.Errorf("show returned %v, %v", r, err)
	}

	if _, err := execute(t, "--history", history, "history", "delete", entries[0].ID); err != nil {
		t.Fatalf("history delete error = %v", err)
	}
	if _, err := execute(t, "--history", history, "history", "show", entries[0].ID); !errors.Is(err, regression.ErrReportNotFound) {
		t.Errorf("show deleted error = %v, want ErrReportNotFound", err)
	}
}

func TestHistory_Disabled(t *testing.T) {
	if _, err := execute(t, "history", "list"); err == nil || !strings.Contains(err.Error(), "history is disabled") {
		t.Errorf("error = %v, want history disabled", err)
	}
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("sampling:\n  min_samples: 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "--config", bad, "power", "--effect", "0.5"); !errors.Is(err, eval.ErrInvalidConfiguration) {
		t.Errorf("error = %v, want ErrInvalidConfiguration", err)
	}

	good := filepath.Join(dir, "good.yaml")
	cfg := fmt.Sprintf("correction: benjamini-hochberg\nhistory:\n  enabled: true\n  path: %s\n", filepath.Join(dir, "h"))
	if err := os.WriteFile(good, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	path := timings(t, dir, "runs.json", 100, 200, 40)
	out, err := execute(t, "--config", good, "--json", "analyze", path)
	if err != nil {
		t.Fatalf("analyze error = %v", err)
	}
	r, err := report.Unmarshal([]byte(out))
	if err != nil {
		t.Fatal(err)
	}
	if r.Correction == nil || r.Correction.Method != "benjamini-hochberg" {
		t.Errorf("correction = %+v, want benjamini-hochberg", r.Correction)
	}
}

func TestExitCode(t *testing.T) {
	if got := exitCode(fmt.Errorf("wrapped: %w", errRegression)); got != 2 {
		t.Errorf("exitCode(regression) = %d, want 2", got)
	}
	if got := exitCode(errors.New("boom")); got != 1 {
		t.Errorf("exitCode(other) = %d, want 1", got)
	}
}

func TestWatchFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runs.json")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	changed := make(chan struct{}, 4)
	done := make(chan error, 1)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	go func() {
		done <- watchFiles(ctx, []string{path}, 20*time.Millisecond, logger, func() {
			calls.Add(1)
			changed <- struct{}{}
		})
	}()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)

	// Unrelated files in the same directory are ignored.
	if err := os.WriteFile(filepath.Join(dir, "other.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	// A burst of writes is debounced into one call.
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(path, []byte(fmt.Sprintf(`{"n":%d}`, i)), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("onChange was not called")
	}
	time.Sleep(100 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Errorf("onChange called %d times, want 1", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("watchFiles() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watchFiles did not return after cancellation")
	}
}
