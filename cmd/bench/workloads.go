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
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianBench/services/bench/eval"
)

// workload is a built-in operation for smoke-testing a machine.
type workload struct {
	name        string
	description string
	fn          eval.Func
}

// builtinWorkloads returns the built-in operations. Inputs are generated
// once from a fixed seed so every call does identical work.
func builtinWorkloads() []workload {
	rng := rand.New(rand.NewPCG(7, 7))

	ints := make([]int, 1000)
	for i := range ints {
		ints[i] = rng.IntN(1 << 20)
	}
	blob := make([]byte, 4096)
	for i := range blob {
		blob[i] = byte(rng.IntN(256))
	}
	type record struct {
		ID     int               `json:"id"`
		Name   string            `json:"name"`
		Scores []float64         `json:"scores"`
		Tags   map[string]string `json:"tags"`
	}
	doc := record{ID: 42, Name: "fixture", Scores: []float64{0.5, 1.25, 3.75}, Tags: map[string]string{"env": "bench"}}

	return []workload{
		{
			name:        "sort/1k",
			description: "sort 1000 random ints",
			fn: eval.Invocable(func() {
				buf := slices.Clone(ints)
				sort.Ints(buf)
			}),
		},
		{
			name:        "slices/sort-1k",
			description: "slices.Sort on 1000 random ints",
			fn: eval.Invocable(func() {
				buf := slices.Clone(ints)
				slices.Sort(buf)
			}),
		},
		{
			name:        "map/insert-1k",
			description: "insert 1000 keys into a fresh map",
			fn: func() (any, error) {
				m := make(map[int]int)
				for i, v := range ints {
					m[v] = i
				}
				return len(m), nil
			},
		},
		{
			name:        "sha256/4k",
			description: "hash a 4 KiB buffer",
			fn: func() (any, error) {
				sum := sha256.Sum256(blob)
				return sum[0], nil
			},
		},
		{
			name:        "json/encode",
			description: "encode a small struct",
			fn: func() (any, error) {
				return json.Marshal(doc)
			},
		},
		{
			name:        "strings/builder-1k",
			description: "build a string from 1000 integers",
			fn: eval.Invocable(func() {
				var b strings.Builder
				for _, v := range ints {
					b.WriteString(strconv.Itoa(v))
				}
				_ = b.String()
			}),
		},
	}
}

// registerWorkloads adds the named workloads to registry, or all of them
// when names is empty.
func registerWorkloads(registry *eval.Registry, names []string) error {
	all := builtinWorkloads()
	if len(names) == 0 {
		for _, w := range all {
			names = append(names, w.name)
		}
	}
	for _, name := range names {
		i := slices.IndexFunc(all, func(w workload) bool { return w.name == name })
		if i < 0 {
			return fmt.Errorf("unknown workload %q (see bench run --list): %w", name, eval.ErrNotFound)
		}
		if err := registry.Register(eval.Operation{Name: name, Func: all[i].fn}); err != nil {
			return err
		}
	}
	return nil
}
