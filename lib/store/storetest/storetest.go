// Copyright 2026 The Flkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package storetest provides an instrumented in-memory store for
// exercising the router, cache, and pack/unpack paths without any
// real backend.
package storetest

import (
	"context"
	"sync"

	"github.com/flkit/flkit/lib/blob"
	"github.com/flkit/flkit/lib/store"
)

// Memory is an in-memory Store. It counts operations so tests can
// assert on idempotency, replication, and single-flight behavior,
// and can be forced to fail to exercise error paths.
type Memory struct {
	mu      sync.Mutex
	objects map[blob.Hash][]byte

	gets int
	sets int

	// URL is reported from Routes. Defaults to "mem://".
	URL string

	// FailGets, when set, makes every Get return this error.
	FailGets error

	// FailSets, when set, makes every Set return this error.
	FailSets error

	// ReadOnly makes Set return store.ErrReadOnly.
	ReadOnly bool
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[blob.Hash][]byte), URL: "mem://"}
}

func (m *Memory) Get(_ context.Context, id blob.Hash) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.gets++
	if m.FailGets != nil {
		return nil, m.FailGets
	}
	data, ok := m.objects[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *Memory) Set(_ context.Context, id blob.Hash, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sets++
	if m.ReadOnly {
		return store.ErrReadOnly
	}
	if m.FailSets != nil {
		return m.FailSets
	}
	if _, exists := m.objects[id]; !exists {
		m.objects[id] = append([]byte(nil), data...)
	}
	return nil
}

func (m *Memory) Routes() []store.Route {
	return []store.Route{{Start: 0x00, End: 0xff, URL: m.URL}}
}

// Len returns the number of distinct objects held.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

// Gets returns the number of Get calls observed.
func (m *Memory) Gets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gets
}

// Sets returns the number of Set calls observed.
func (m *Memory) Sets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sets
}

// Delete removes an object, simulating external data loss.
func (m *Memory) Delete(id blob.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, id)
}

// Clear removes every object.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects = make(map[blob.Hash][]byte)
}

// Corrupt truncates the stored bytes for an id to zero length,
// simulating a damaged backend object.
func (m *Memory) Corrupt(id blob.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[id]; ok {
		m.objects[id] = nil
	}
}

// IDs returns the ids currently held.
func (m *Memory) IDs() []blob.Hash {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]blob.Hash, 0, len(m.objects))
	for id := range m.objects {
		ids = append(ids, id)
	}
	return ids
}
