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
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianBench/services/bench/report"
	benchdb "github.com/AleutianAI/AleutianBench/services/bench/storage/badger"
)

// Key layout:
//
//	report/<created-unix-nano, 20 digits>/<id>  encoded report
//	entry/<created-unix-nano, 20 digits>/<id>   encoded Entry
//	id/<id>                                     "<created>/<id>" suffix
//
// The zero-padded timestamp makes key order chronological.
const (
	reportPrefix = "report/"
	entryPrefix  = "entry/"
	indexPrefix  = "id/"
)

// BadgerStore persists reports in BadgerDB.
//
// Thread Safety: Safe for concurrent use.
type BadgerStore struct {
	db   *benchdb.DB
	owns bool

	mu     sync.RWMutex
	closed bool
}

// NewBadgerStore creates a store over an open database. The caller keeps
// ownership of db.
func NewBadgerStore(db *benchdb.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

// OpenBadgerStore opens the database described by cfg and returns a store
// that closes it on Close.
func OpenBadgerStore(cfg benchdb.Config) (*BadgerStore, error) {
	db, err := benchdb.Open(cfg)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db, owns: true}, nil
}

func suffixFor(r *report.Report) string {
	return fmt.Sprintf("%020d/%s", r.CreatedAt.UnixNano(), r.ID)
}

func (s *BadgerStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Save implements Store.
func (s *BadgerStore) Save(ctx context.Context, r *report.Report) error {
	if err := validate(r); err != nil {
		return err
	}
	if err := s.checkOpen(); err != nil {
		return err
	}

	encoded, err := report.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode report %s: %w", r.ID, err)
	}
	entry, err := json.Marshal(EntryFor(r))
	if err != nil {
		return fmt.Errorf("encode entry %s: %w", r.ID, err)
	}
	suffix := suffixFor(r)

	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := deleteByID(txn, r.ID); err != nil && !errors.Is(err, ErrReportNotFound) {
			return err
		}
		if err := txn.Set([]byte(reportPrefix+suffix), encoded); err != nil {
			return err
		}
		if err := txn.Set([]byte(entryPrefix+suffix), entry); err != nil {
			return err
		}
		return txn.Set([]byte(indexPrefix+r.ID), []byte(suffix))
	})
}

// deleteByID removes every key of the report with the given ID.
func deleteByID(txn *badger.Txn, id string) error {
	item, err := txn.Get([]byte(indexPrefix + id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%s: %w", id, ErrReportNotFound)
	}
	if err != nil {
		return err
	}
	suffix, err := item.ValueCopy(nil)
	if err != nil {
		return err
	}
	for _, key := range []string{reportPrefix + string(suffix), entryPrefix + string(suffix), indexPrefix + id} {
		if err := txn.Delete([]byte(key)); err != nil {
			return err
		}
	}
	return nil
}

// Get implements Store.
func (s *BadgerStore) Get(ctx context.Context, id string) (*report.Report, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var encoded []byte
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(indexPrefix + id))
		if err != nil {
			return err
		}
		suffix, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		item, err = txn.Get([]byte(reportPrefix + string(suffix)))
		if err != nil {
			return err
		}
		encoded, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%s: %w", id, ErrReportNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read report %s: %w", id, err)
	}
	return report.Unmarshal(encoded)
}

// List implements Store.
func (s *BadgerStore) List(ctx context.Context, limit int) ([]Entry, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var entries []Entry
	err := s.db.Scan(ctx, []byte(entryPrefix), true, func(_, value []byte) (bool, error) {
		var e Entry
		if err := json.Unmarshal(value, &e); err != nil {
			return false, fmt.Errorf("decode entry: %w", err)
		}
		entries = append(entries, e)
		return limit <= 0 || len(entries) < limit, nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Latest implements Store.
func (s *BadgerStore) Latest(ctx context.Context) (*report.Report, error) {
	entries, err := s.List(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrReportNotFound
	}
	return s.Get(ctx, entries[0].ID)
}

// Delete implements Store.
func (s *BadgerStore) Delete(ctx context.Context, id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return deleteByID(txn, id)
	})
}

// Close implements Store. The database is closed only when the store
// opened it. Idempotent.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.owns {
		return s.db.Close()
	}
	return nil
}

var _ Store = (*BadgerStore)(nil)
