/*
Copyright 2024 The Pinacle Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package podlock serializes state transitions per pod: no two
// of Provision/Start/Stop/Delete/Rebuild/Retry may run concurrently against
// the same podId, while different pods run fully in parallel. It is a small
// owned store with its own synchronization, in the shape of a
// cloudprovider cache (a map guarded by one mutex, generalized here from a
// TTL value cache to a reference-counted mutex-per-key store) -- never an
// ambient global.
package podlock

import "sync"

type entry struct {
	mu       sync.Mutex
	refCount int
}

// Store hands out an exclusive lock per key (here, podId).
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New returns an empty Store.
func New() *Store {
	return &Store{entries: map[string]*entry{}}
}

// Lock acquires the per-key mutex, blocking until it is free, and returns an
// Unlock func that releases it and evicts the entry once unreferenced.
func (s *Store) Lock(key string) (unlock func()) {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		e = &entry{}
		s.entries[key] = e
	}
	e.refCount++
	s.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()

		s.mu.Lock()
		e.refCount--
		if e.refCount == 0 {
			delete(s.entries, key)
		}
		s.mu.Unlock()
	}
}

// TryLock acquires the per-key mutex without blocking. ok is false if
// another operation already holds it -- the caller (e.g. a concurrent
// Stop/Delete race) should return a Conflict error.
func (s *Store) TryLock(key string) (unlock func(), ok bool) {
	s.mu.Lock()
	e, exists := s.entries[key]
	if !exists {
		e = &entry{}
		s.entries[key] = e
	}
	e.refCount++
	s.mu.Unlock()

	if !e.mu.TryLock() {
		s.mu.Lock()
		e.refCount--
		if e.refCount == 0 {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return nil, false
	}

	return func() {
		e.mu.Unlock()

		s.mu.Lock()
		e.refCount--
		if e.refCount == 0 {
			delete(s.entries, key)
		}
		s.mu.Unlock()
	}, true
}
