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

package store

import (
	"context"
	"sync"

	"github.com/rogeriochaves/pinacle/pkg/apierrors"
)

const (
	portRangeMin = 20000
	portRangeMax = 59999
)

// PortAllocator hands out host-local external ports from the range
// 20000-59999, first-fit with wrap-around, skipping ports already held by
// any non-archived pod on that host. The
// in-memory held-set is a cache; PodRepository.ListByHost is the
// authoritative source a caller should reconcile against on startup.
type PortAllocator struct {
	mu   sync.Mutex
	held map[string]map[int]bool // hostID -> held external ports
	next map[string]int          // hostID -> next port to try, for wrap-around fairness
}

// NewPortAllocator returns an empty PortAllocator.
func NewPortAllocator() *PortAllocator {
	return &PortAllocator{
		held: map[string]map[int]bool{},
		next: map[string]int{},
	}
}

// Reserve marks a specific port as held on hostID, used to seed the
// allocator from persisted Pod.Ports at startup or after a pod is created.
func (a *PortAllocator) Reserve(hostID string, port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reserveLocked(hostID, port)
}

func (a *PortAllocator) reserveLocked(hostID string, port int) {
	set, ok := a.held[hostID]
	if !ok {
		set = map[int]bool{}
		a.held[hostID] = set
	}
	set[port] = true
}

// Release frees a port on hostID, used when a pod is deleted or rebuilt.
func (a *PortAllocator) Release(hostID string, port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if set, ok := a.held[hostID]; ok {
		delete(set, port)
	}
}

// Allocate returns the first free port on hostID at or after the
// allocator's cursor, wrapping around once, or a KindExhausted error if the
// entire range is held.
func (a *PortAllocator) Allocate(ctx context.Context, hostID string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	start, ok := a.next[hostID]
	if !ok {
		start = portRangeMin
	}

	set := a.held[hostID]
	span := portRangeMax - portRangeMin + 1

	for i := 0; i < span; i++ {
		candidate := portRangeMin + (start-portRangeMin+i)%span
		if set == nil || !set[candidate] {
			a.reserveLocked(hostID, candidate)
			a.next[hostID] = candidate + 1
			return candidate, nil
		}
	}

	return 0, apierrors.New(apierrors.KindExhausted, "no external port available in range on host "+hostID)
}
