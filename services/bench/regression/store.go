// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package regression keeps a history of benchmark reports and detects
// performance regressions between runs.
//
// A Store persists reports; a Detector compares a new report against a
// baseline report with a one-sided rank-sum test per operation.
package regression

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianBench/services/bench/report"
)

var (
	// ErrReportNotFound is returned when a report ID is not in the store.
	ErrReportNotFound = errors.New("report not found")

	// ErrInvalidReport is returned for nil or ID-less reports.
	ErrInvalidReport = errors.New("invalid report")

	// ErrStoreClosed is returned after Close.
	ErrStoreClosed = errors.New("store has been closed")
)

// Store persists benchmark reports.
//
// Thread Safety: All implementations must be safe for concurrent use.
type Store interface {
	// Save stores r, replacing any report with the same ID.
	Save(ctx context.Context, r *report.Report) error

	// Get returns the report with the given ID, or ErrReportNotFound.
	Get(ctx context.Context, id string) (*report.Report, error)

	// List returns up to limit entries, newest first. limit <= 0 means all.
	List(ctx context.Context, limit int) ([]Entry, error)

	// Latest returns the newest report, or ErrReportNotFound when empty.
	Latest(ctx context.Context) (*report.Report, error)

	// Delete removes the report with the given ID.
	Delete(ctx context.Context, id string) error

	Close() error
}

// Entry is the listing summary of a stored report.
type Entry struct {
	ID         string            `json:"id"`
	CreatedAt  time.Time         `json:"created_at"`
	Operations []string          `json:"operations"`
	Labels     map[string]string `json:"labels,omitempty"`

	PrecisionAchieved bool `json:"precision_achieved"`
	SufficientSamples bool `json:"sufficient_samples"`
}

// EntryFor summarizes r.
func EntryFor(r *report.Report) Entry {
	return Entry{
		ID:                r.ID,
		CreatedAt:         r.CreatedAt,
		Operations:        r.OperationNames(),
		Labels:            r.Labels,
		PrecisionAchieved: r.PrecisionAchieved,
		SufficientSamples: r.SufficientSamples,
	}
}

func validate(r *report.Report) error {
	if r == nil {
		return fmt.Errorf("%w: nil report", ErrInvalidReport)
	}
	if r.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidReport)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Memory Store
// -----------------------------------------------------------------------------

// MemoryStore keeps reports in memory. Reports are stored as encoded JSON
// so callers can never mutate stored history.
//
// Thread Safety: Safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	data    map[string][]byte
	entries map[string]Entry
	closed  bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:    make(map[string][]byte),
		entries: make(map[string]Entry),
	}
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, r *report.Report) error {
	if err := validate(r); err != nil {
		return err
	}
	encoded, err := report.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode report %s: %w", r.ID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	m.data[r.ID] = encoded
	m.entries[r.ID] = EntryFor(r)
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, id string) (*report.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	encoded, ok := m.data[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrReportNotFound)
	}
	return report.Unmarshal(encoded)
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context, limit int) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}

	entries := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	slices.SortFunc(entries, newestFirst)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Latest implements Store.
func (m *MemoryStore) Latest(ctx context.Context) (*report.Report, error) {
	entries, err := m.List(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrReportNotFound
	}
	return m.Get(ctx, entries[0].ID)
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	if _, ok := m.data[id]; !ok {
		return fmt.Errorf("%s: %w", id, ErrReportNotFound)
	}
	delete(m.data, id)
	delete(m.entries, id)
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// newestFirst orders entries by creation time, then ID, both descending.
func newestFirst(a, b Entry) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(b.ID, a.ID)
}

var _ Store = (*MemoryStore)(nil)
