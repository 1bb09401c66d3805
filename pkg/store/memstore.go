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
	"time"

	"github.com/rogeriochaves/pinacle/pkg/model"
)

// MemStore implements every repository interface in this package over plain
// maps guarded by a single sync.RWMutex shared by all tables. It is the justified
// stdlib-only persistence layer (see DESIGN.md) and is safe for concurrent
// use by the control plane's HTTP handlers.
type MemStore struct {
	mu sync.RWMutex

	servers map[string]model.Server

	pods     map[string]model.Pod
	podSlugs map[string]string // slug -> pod id

	podLogs    map[string][]model.PodLog // pod id -> ordered log
	podLogNext map[string]int64

	snapshots map[string]model.SnapshotRecord

	serverSamples map[string][]model.ServerMetricsSample
	podSamples    map[string][]model.PodMetricsSample
}

// NewMemStore returns an empty, ready-to-use MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		servers:       map[string]model.Server{},
		pods:          map[string]model.Pod{},
		podSlugs:      map[string]string{},
		podLogs:       map[string][]model.PodLog{},
		podLogNext:    map[string]int64{},
		snapshots:     map[string]model.SnapshotRecord{},
		serverSamples: map[string][]model.ServerMetricsSample{},
		podSamples:    map[string][]model.PodMetricsSample{},
	}
}

// -- ServerRepository --------------------------------------------------

func (m *MemStore) Upsert(ctx context.Context, s model.Server) (model.Server, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.servers[s.ID]; ok {
		s.CreatedAt = existing.CreatedAt
	} else if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	m.servers[s.ID] = s
	return s, nil
}

func (m *MemStore) Get(ctx context.Context, id string) (model.Server, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.servers[id]
	if !ok {
		return model.Server{}, ErrNotFound
	}
	return s, nil
}

func (m *MemStore) List(ctx context.Context) ([]model.Server, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Server, 0, len(m.servers))
	for _, s := range m.servers {
		out = append(out, s)
	}
	return out, nil
}

func (m *MemStore) UpdateHeartbeat(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.servers[id]
	if !ok {
		return ErrNotFound
	}
	s.LastHeartbeatAt = at
	s.Status = model.ServerOnline
	m.servers[id] = s
	return nil
}

func (m *MemStore) SetStatus(ctx context.Context, id string, status model.ServerStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.servers[id]
	if !ok {
		return ErrNotFound
	}
	s.Status = status
	m.servers[id] = s
	return nil
}

// -- PodRepository -------------------------------------------------------

func (m *MemStore) Create(ctx context.Context, p model.Pod) (model.Pod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.podSlugs[p.Slug]; exists {
		return model.Pod{}, ErrConflict
	}
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	m.pods[p.ID] = p
	m.podSlugs[p.Slug] = p.ID
	return p, nil
}

func (m *MemStore) GetPod(ctx context.Context, id string) (model.Pod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pods[id]
	if !ok {
		return model.Pod{}, ErrNotFound
	}
	return p, nil
}

func (m *MemStore) GetBySlug(ctx context.Context, slug string) (model.Pod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.podSlugs[slug]
	if !ok {
		return model.Pod{}, ErrNotFound
	}
	return m.pods[id], nil
}

func (m *MemStore) UpdatePod(ctx context.Context, updated model.Pod) (model.Pod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.pods[updated.ID]
	if !ok {
		return model.Pod{}, ErrNotFound
	}
	if !current.UpdatedAt.IsZero() && !updated.UpdatedAt.Equal(current.UpdatedAt) {
		return model.Pod{}, ErrConflict
	}
	updated.UpdatedAt = time.Now()
	m.pods[updated.ID] = updated
	return updated, nil
}

func (m *MemStore) ListByHost(ctx context.Context, hostID string, includeArchived bool) ([]model.Pod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Pod
	for _, p := range m.pods {
		if p.HostID != hostID {
			continue
		}
		if p.IsArchived() && !includeArchived {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (m *MemStore) ListPods(ctx context.Context, includeArchived bool) ([]model.Pod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Pod, 0, len(m.pods))
	for _, p := range m.pods {
		if p.IsArchived() && !includeArchived {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// -- PodLogRepository ------------------------------------------------------

func (m *MemStore) Append(ctx context.Context, entry model.PodLog) (model.PodLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.podLogNext[entry.PodID] + 1
	entry.ID = next
	m.podLogNext[entry.PodID] = next
	m.podLogs[entry.PodID] = append(m.podLogs[entry.PodID], entry)
	return entry, nil
}

func (m *MemStore) UpdateLog(ctx context.Context, entry model.PodLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	logs := m.podLogs[entry.PodID]
	for i := range logs {
		if logs[i].ID == entry.ID {
			logs[i] = entry
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemStore) ListAfter(ctx context.Context, podID string, afterID int64) ([]model.PodLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.PodLog
	for _, l := range m.podLogs[podID] {
		if l.ID > afterID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *MemStore) Last(ctx context.Context, podID string) (model.PodLog, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	logs := m.podLogs[podID]
	if len(logs) == 0 {
		return model.PodLog{}, false, nil
	}
	return logs[len(logs)-1], true, nil
}

// -- SnapshotRepository ------------------------------------------------

func (m *MemStore) CreateSnapshot(ctx context.Context, s model.SnapshotRecord) (model.SnapshotRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	m.snapshots[s.ID] = s
	return s, nil
}

func (m *MemStore) GetSnapshot(ctx context.Context, id string) (model.SnapshotRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.snapshots[id]
	if !ok {
		return model.SnapshotRecord{}, ErrNotFound
	}
	return s, nil
}

func (m *MemStore) UpdateSnapshot(ctx context.Context, s model.SnapshotRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.snapshots[s.ID]; !ok {
		return ErrNotFound
	}
	m.snapshots[s.ID] = s
	return nil
}

func (m *MemStore) ListByPod(ctx context.Context, podID string) ([]model.SnapshotRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.SnapshotRecord
	for _, s := range m.snapshots {
		if s.PodID == podID {
			out = append(out, s)
		}
	}
	return out, nil
}

// -- MetricsRepository ------------------------------------------------

func (m *MemStore) AppendServerSample(ctx context.Context, s model.ServerMetricsSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.serverSamples[s.ServerID] = append(m.serverSamples[s.ServerID], s)
	return nil
}

func (m *MemStore) AppendPodSamples(ctx context.Context, samples []model.PodMetricsSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range samples {
		m.podSamples[s.PodID] = append(m.podSamples[s.PodID], s)
	}
	return nil
}

func (m *MemStore) ServerSamplesSince(ctx context.Context, serverID string, since time.Time) ([]model.ServerMetricsSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.ServerMetricsSample
	for _, s := range m.serverSamples[serverID] {
		if s.Timestamp.After(since) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *MemStore) PodSamplesSince(ctx context.Context, podID string, since time.Time) ([]model.PodMetricsSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.PodMetricsSample
	for _, s := range m.podSamples[podID] {
		if s.Timestamp.After(since) {
			out = append(out, s)
		}
	}
	return out, nil
}
