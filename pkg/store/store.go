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

// Package store defines the C8 Persistence Model as repository interfaces
// and provides an in-memory implementation. No SQL driver exists anywhere in
// this module's retrieval corpus (see DESIGN.md), so sync.RWMutex-guarded
// maps is the justified stdlib-only implementation; callers depend only on
// the interfaces, so a real database can replace MemStore later without
// touching the orchestrator, control plane, or proxy.
//
// The schema carries no enforced foreign keys between tables by design
// except the one identity-critical reference each entity
// documents on its own field; integrity of the other "soft" references is
// the orchestrator's job.
package store

import (
	"context"
	"time"

	"github.com/rogeriochaves/pinacle/pkg/model"
)

// ErrNotFound is returned by Get-style methods when no row matches.
// Callers map it to apierrors.KindNotFound at the API boundary.
var ErrNotFound = notFoundError{}

type notFoundError struct{}

func (notFoundError) Error() string { return "not found" }

// ServerRepository persists Server rows. Upsert is keyed by Server.ID, per
// a server row is created by the first successful register call and never
// deleted by the system".
type ServerRepository interface {
	Upsert(ctx context.Context, s model.Server) (model.Server, error)
	Get(ctx context.Context, id string) (model.Server, error)
	List(ctx context.Context) ([]model.Server, error)
	UpdateHeartbeat(ctx context.Context, id string, at time.Time) error
	SetStatus(ctx context.Context, id string, status model.ServerStatus) error
}

// PodRepository persists Pod rows.
type PodRepository interface {
	Create(ctx context.Context, p model.Pod) (model.Pod, error)
	GetPod(ctx context.Context, id string) (model.Pod, error)
	GetBySlug(ctx context.Context, slug string) (model.Pod, error)
	// UpdatePod replaces the stored Pod with updated, failing with
	// ErrConflict if updated.UpdatedAt does not match the row's current
	// UpdatedAt (optimistic versioning).
	UpdatePod(ctx context.Context, updated model.Pod) (model.Pod, error)
	ListByHost(ctx context.Context, hostID string, includeArchived bool) ([]model.Pod, error)
	ListPods(ctx context.Context, includeArchived bool) ([]model.Pod, error)
}

// ErrConflict is returned by PodRepository.UpdatePod on a lost optimistic-lock
// race.
var ErrConflict = conflictError{}

type conflictError struct{}

func (conflictError) Error() string { return "conflict: pod was modified concurrently" }

// PodLogRepository is the append-only, strictly-monotonic-per-pod log store.
type PodLogRepository interface {
	// Append assigns the next monotonic ID for entry.PodID and stores it.
	Append(ctx context.Context, entry model.PodLog) (model.PodLog, error)
	// UpdateLog overwrites an existing entry in place (used to fill in
	// stdout/stderr/exitCode once a previously in-flight command finishes).
	UpdateLog(ctx context.Context, entry model.PodLog) error
	ListAfter(ctx context.Context, podID string, afterID int64) ([]model.PodLog, error)
	Last(ctx context.Context, podID string) (model.PodLog, bool, error)
}

// SnapshotRepository persists Snapshot Records.
type SnapshotRepository interface {
	CreateSnapshot(ctx context.Context, s model.SnapshotRecord) (model.SnapshotRecord, error)
	GetSnapshot(ctx context.Context, id string) (model.SnapshotRecord, error)
	UpdateSnapshot(ctx context.Context, s model.SnapshotRecord) error
	ListByPod(ctx context.Context, podID string) ([]model.SnapshotRecord, error)
}

// MetricsRepository stores time-indexed Server/Pod metrics samples.
type MetricsRepository interface {
	AppendServerSample(ctx context.Context, s model.ServerMetricsSample) error
	AppendPodSamples(ctx context.Context, samples []model.PodMetricsSample) error
	ServerSamplesSince(ctx context.Context, serverID string, since time.Time) ([]model.ServerMetricsSample, error)
	PodSamplesSince(ctx context.Context, podID string, since time.Time) ([]model.PodMetricsSample, error)
}
