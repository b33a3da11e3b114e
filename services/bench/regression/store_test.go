// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package regression

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianBench/services/bench/report"
	"github.com/AleutianAI/AleutianBench/services/bench/stats"
	benchdb "github.com/AleutianAI/AleutianBench/services/bench/storage/badger"
)

var epoch = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

// newReport builds a report whose operations carry raw samples.
func newReport(t *testing.T, id string, created time.Time, ops map[string][]float64) *report.Report {
	t.Helper()
	r := report.New()
	r.ID = id
	r.CreatedAt = created
	for name, ns := range ops {
		set, err := stats.FromDurations(name, ns)
		require.NoError(t, err)
		desc, err := stats.Describe(set)
		require.NoError(t, err)
		r.AddOperation(name, report.OperationSummary{
			DescriptiveReport: desc,
			Source:            report.SourceRecorded,
			SufficientSamples: true,
		})
		r.AddSamples(set)
	}
	r.Finalize()
	return r
}

func series(n int, base, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = base + float64(i%10)*step
	}
	return out
}

type storeFactory struct {
	name string
	open func(t *testing.T) Store
}

func storeFactories() []storeFactory {
	return []storeFactory{
		{"memory", func(t *testing.T) Store {
			s := NewMemoryStore()
			t.Cleanup(func() { _ = s.Close() })
			return s
		}},
		{"badger", func(t *testing.T) Store {
			s, err := OpenBadgerStore(benchdb.InMemoryConfig())
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		}},
	}
}

func TestStore_SaveGet(t *testing.T) {
	for _, f := range storeFactories() {
		t.Run(f.name, func(t *testing.T) {
			ctx := context.Background()
			store := f.open(t)
			r := newReport(t, "run-1", epoch, map[string][]float64{"op": series(20, 100, 1)})
			r.Labels = map[string]string{"commit": "abc"}

			require.NoError(t, store.Save(ctx, r))
			got, err := store.Get(ctx, "run-1")
			require.NoError(t, err)

			assert.Equal(t, r.ID, got.ID)
			assert.True(t, got.CreatedAt.Equal(r.CreatedAt))
			assert.Equal(t, "abc", got.Labels["commit"])
			set, ok := got.SampleSet("op")
			require.True(t, ok)
			assert.Equal(t, 20, set.Len())

			got.Labels["commit"] = "mutated"
			again, err := store.Get(ctx, "run-1")
			require.NoError(t, err)
			assert.Equal(t, "abc", again.Labels["commit"], "stored history must not be mutable")

			_, err = store.Get(ctx, "missing")
			assert.True(t, errors.Is(err, ErrReportNotFound))
		})
	}
}

func TestStore_ListAndLatest(t *testing.T) {
	for _, f := range storeFactories() {
		t.Run(f.name, func(t *testing.T) {
			ctx := context.Background()
			store := f.open(t)

			_, err := store.Latest(ctx)
			assert.True(t, errors.Is(err, ErrReportNotFound))

			ops := map[string][]float64{"op": series(10, 100, 1)}
			for i, id := range []string{"b", "c", "a"} {
				require.NoError(t, store.Save(ctx, newReport(t, id, epoch.Add(time.Duration(i)*time.Hour), ops)))
			}

			entries, err := store.List(ctx, 0)
			require.NoError(t, err)
			require.Len(t, entries, 3)
			assert.Equal(t, []string{"a", "c", "b"}, []string{entries[0].ID, entries[1].ID, entries[2].ID})
			assert.Equal(t, []string{"op"}, entries[0].Operations)

			limited, err := store.List(ctx, 2)
			require.NoError(t, err)
			assert.Len(t, limited, 2)

			latest, err := store.Latest(ctx)
			require.NoError(t, err)
			assert.Equal(t, "a", latest.ID)
		})
	}
}

func TestStore_ReplaceAndDelete(t *testing.T) {
	for _, f := range storeFactories() {
		t.Run(f.name, func(t *testing.T) {
			ctx := context.Background()
			store := f.open(t)
			ops := map[string][]float64{"op": series(10, 100, 1)}

			require.NoError(t, store.Save(ctx, newReport(t, "x", epoch, ops)))
			require.NoError(t, store.Save(ctx, newReport(t, "x", epoch.Add(time.Hour), ops)))

			entries, err := store.List(ctx, 0)
			require.NoError(t, err)
			require.Len(t, entries, 1, "saving the same ID must replace")
			assert.True(t, entries[0].CreatedAt.Equal(epoch.Add(time.Hour)))

			require.NoError(t, store.Delete(ctx, "x"))
			assert.True(t, errors.Is(store.Delete(ctx, "x"), ErrReportNotFound))

			entries, err = store.List(ctx, 0)
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestStore_InvalidAndClosed(t *testing.T) {
	for _, f := range storeFactories() {
		t.Run(f.name, func(t *testing.T) {
			ctx := context.Background()
			store := f.open(t)

			assert.True(t, errors.Is(store.Save(ctx, nil), ErrInvalidReport))
			noID := report.New()
			noID.ID = ""
			assert.True(t, errors.Is(store.Save(ctx, noID), ErrInvalidReport))

			require.NoError(t, store.Close())
			require.NoError(t, store.Close())
			assert.True(t, errors.Is(store.Save(ctx, report.New()), ErrStoreClosed))
			_, err := store.List(ctx, 0)
			assert.True(t, errors.Is(err, ErrStoreClosed))
		})
	}
}

func TestBadgerStore_SharedDB(t *testing.T) {
	db, err := benchdb.OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	store := NewBadgerStore(db)
	require.NoError(t, store.Close())

	// The store does not own db, so it stays usable.
	require.NoError(t, db.Put(context.Background(), []byte("k"), []byte("v")))
}
