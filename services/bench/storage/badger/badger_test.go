// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// TestOpenInMemory verifies in-memory database creation works.
func TestOpenInMemory(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	assert.True(t, db.InMemory())
	assert.Empty(t, db.Path())

	require.NoError(t, db.Put(ctx, []byte("key"), []byte("value")))
	got, err := db.Get(ctx, []byte("key"))
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), got)
}

// TestOpen_Persistent verifies data survives a reopen.
func TestOpen_Persistent(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Path = dir
	cfg.GCInterval = 10 * time.Millisecond

	db, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, db.Put(context.Background(), []byte("run/1"), []byte("report")))
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, db.Close())

	db, err = Open(cfg)
	require.NoError(t, err)
	defer db.Close()

	got, err := db.Get(context.Background(), []byte("run/1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("report"), got)
	assert.Equal(t, dir, db.Path())
}

func TestOpen_InvalidConfig(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err, "persistent database without a path")

	cfg := DefaultConfig()
	cfg.Path = t.TempDir()
	cfg.GCDiscardRatio = 1.5
	_, err = Open(cfg)
	assert.Error(t, err, "discard ratio out of range")
}

func TestDB_GetMissing(t *testing.T) {
	db := openTestDB(t)
	_, err := db.Get(context.Background(), []byte("missing"))
	assert.True(t, errors.Is(err, ErrKeyNotFound))
}

func TestDB_Delete(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Put(ctx, []byte("k"), []byte("v")))
	require.NoError(t, db.Delete(ctx, []byte("k")))
	require.NoError(t, db.Delete(ctx, []byte("k")))

	_, err := db.Get(ctx, []byte("k"))
	assert.True(t, errors.Is(err, ErrKeyNotFound))
}

func TestDB_WithTxn_RollbackOnError(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := db.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := txn.Set([]byte("k"), []byte("v")); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = db.Get(ctx, []byte("k"))
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestDB_WithTxn_ContextCancelled(t *testing.T) {
	db := openTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := db.WithTxn(ctx, func(*badger.Txn) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
	err = db.WithReadTxn(ctx, func(*badger.Txn) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDB_Scan(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for _, k := range []string{"run/001", "run/002", "run/003", "other/001"} {
		require.NoError(t, db.Put(ctx, []byte(k), []byte("v-"+k)))
	}

	collect := func(reverse bool, limit int) []string {
		var keys []string
		err := db.Scan(ctx, []byte("run/"), reverse, func(key, value []byte) (bool, error) {
			keys = append(keys, string(key))
			assert.Equal(t, "v-"+string(key), string(value))
			return limit <= 0 || len(keys) < limit, nil
		})
		require.NoError(t, err)
		return keys
	}

	assert.Equal(t, []string{"run/001", "run/002", "run/003"}, collect(false, 0))
	assert.Equal(t, []string{"run/003", "run/002", "run/001"}, collect(true, 0))
	assert.Equal(t, []string{"run/003", "run/002"}, collect(true, 2))

	boom := errors.New("stop")
	err := db.Scan(ctx, []byte("run/"), false, func([]byte, []byte) (bool, error) { return true, boom })
	assert.ErrorIs(t, err, boom)
}
