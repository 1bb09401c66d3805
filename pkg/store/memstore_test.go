package store

import (
	"context"
	"testing"
	"time"

	"github.com/rogeriochaves/pinacle/pkg/model"
)

func TestServerUpsertAndGet(t *testing.T) {
	mem := NewMemStore()
	ctx := context.Background()

	created, err := mem.Upsert(ctx, model.Server{ID: "server_1", Hostname: "host-1"})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if created.CreatedAt.IsZero() {
		t.Fatal("expected CreatedAt to be stamped on first upsert")
	}

	updated, err := mem.Upsert(ctx, model.Server{ID: "server_1", Hostname: "host-1-renamed"})
	if err != nil {
		t.Fatalf("Upsert (update): %v", err)
	}
	if !updated.CreatedAt.Equal(created.CreatedAt) {
		t.Fatalf("expected CreatedAt to be preserved across re-upsert, got %v want %v", updated.CreatedAt, created.CreatedAt)
	}

	got, err := mem.Get(ctx, "server_1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Hostname != "host-1-renamed" {
		t.Fatalf("expected renamed hostname, got %q", got.Hostname)
	}

	if _, err := mem.Get(ctx, "does-not-exist"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestServerUpdateHeartbeatSetsOnlineStatus(t *testing.T) {
	mem := NewMemStore()
	ctx := context.Background()
	if _, err := mem.Upsert(ctx, model.Server{ID: "server_1", Status: model.ServerOffline}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	now := time.Now()
	if err := mem.UpdateHeartbeat(ctx, "server_1", now); err != nil {
		t.Fatalf("UpdateHeartbeat: %v", err)
	}

	got, err := mem.Get(ctx, "server_1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != model.ServerOnline {
		t.Fatalf("expected status online after heartbeat, got %q", got.Status)
	}
	if !got.LastHeartbeatAt.Equal(now) {
		t.Fatalf("expected heartbeat timestamp to be recorded")
	}
}

func TestPodCreateRejectsDuplicateSlug(t *testing.T) {
	mem := NewMemStore()
	ctx := context.Background()

	if _, err := mem.Create(ctx, model.Pod{ID: "pod_1", Slug: "my-pod"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, err := mem.Create(ctx, model.Pod{ID: "pod_2", Slug: "my-pod"})
	if err != ErrConflict {
		t.Fatalf("expected ErrConflict on duplicate slug, got %v", err)
	}
}

func TestPodGetBySlugAndByID(t *testing.T) {
	mem := NewMemStore()
	ctx := context.Background()
	created, err := mem.Create(ctx, model.Pod{ID: "pod_1", Slug: "my-pod"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	byID, err := mem.GetPod(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetPod: %v", err)
	}
	bySlug, err := mem.GetBySlug(ctx, "my-pod")
	if err != nil {
		t.Fatalf("GetBySlug: %v", err)
	}
	if byID.ID != bySlug.ID {
		t.Fatalf("expected same pod via ID and slug lookup, got %q and %q", byID.ID, bySlug.ID)
	}

	if _, err := mem.GetBySlug(ctx, "nope"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPodUpdateDetectsOptimisticLockConflict(t *testing.T) {
	mem := NewMemStore()
	ctx := context.Background()
	created, err := mem.Create(ctx, model.Pod{ID: "pod_1", Slug: "my-pod"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	stale := created
	stale.UpdatedAt = stale.UpdatedAt.Add(-time.Hour)
	if _, err := mem.UpdatePod(ctx, stale); err != ErrConflict {
		t.Fatalf("expected ErrConflict for stale UpdatedAt, got %v", err)
	}

	created.Status = model.PodRunning
	updated, err := mem.UpdatePod(ctx, created)
	if err != nil {
		t.Fatalf("UpdatePod: %v", err)
	}
	if updated.Status != model.PodRunning {
		t.Fatalf("expected status to persist, got %q", updated.Status)
	}
}

func TestPodListByHostExcludesArchivedByDefault(t *testing.T) {
	mem := NewMemStore()
	ctx := context.Background()
	archivedAt := time.Now()
	if _, err := mem.Create(ctx, model.Pod{ID: "pod_1", Slug: "a", HostID: "host-1"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := mem.Create(ctx, model.Pod{ID: "pod_2", Slug: "b", HostID: "host-1", ArchivedAt: &archivedAt}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	active, err := mem.ListByHost(ctx, "host-1", false)
	if err != nil {
		t.Fatalf("ListByHost: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected 1 active pod, got %d", len(active))
	}

	all, err := mem.ListByHost(ctx, "host-1", true)
	if err != nil {
		t.Fatalf("ListByHost(includeArchived): %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 pods including archived, got %d", len(all))
	}
}

func TestPodLogAppendAssignsMonotonicIDsPerPod(t *testing.T) {
	mem := NewMemStore()
	ctx := context.Background()

	first, err := mem.Append(ctx, model.PodLog{PodID: "pod_1", Label: "start"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	second, err := mem.Append(ctx, model.PodLog{PodID: "pod_1", Label: "step"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if second.ID != first.ID+1 {
		t.Fatalf("expected monotonic IDs, got %d then %d", first.ID, second.ID)
	}

	otherPodFirst, err := mem.Append(ctx, model.PodLog{PodID: "pod_2", Label: "start"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if otherPodFirst.ID != 1 {
		t.Fatalf("expected independent ID sequence per pod, got %d", otherPodFirst.ID)
	}

	last, ok, err := mem.Last(ctx, "pod_1")
	if err != nil || !ok {
		t.Fatalf("Last: %v, ok=%v", err, ok)
	}
	if last.ID != second.ID {
		t.Fatalf("expected Last to return the most recent entry, got %+v", last)
	}
}

func TestPodLogListAfterFiltersByID(t *testing.T) {
	mem := NewMemStore()
	ctx := context.Background()
	for _, label := range []string{"a", "b", "c"} {
		if _, err := mem.Append(ctx, model.PodLog{PodID: "pod_1", Label: label}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	after, err := mem.ListAfter(ctx, "pod_1", 1)
	if err != nil {
		t.Fatalf("ListAfter: %v", err)
	}
	if len(after) != 2 {
		t.Fatalf("expected 2 entries after ID 1, got %d", len(after))
	}
}

func TestSnapshotCreateGetUpdate(t *testing.T) {
	mem := NewMemStore()
	ctx := context.Background()

	created, err := mem.CreateSnapshot(ctx, model.SnapshotRecord{ID: "snap_1", PodID: "pod_1"})
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}
	if created.CreatedAt.IsZero() {
		t.Fatal("expected CreatedAt to be stamped")
	}

	created.SizeBytes = 1024
	if err := mem.UpdateSnapshot(ctx, created); err != nil {
		t.Fatalf("UpdateSnapshot: %v", err)
	}

	got, err := mem.GetSnapshot(ctx, "snap_1")
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if got.SizeBytes != 1024 {
		t.Fatalf("expected updated size, got %d", got.SizeBytes)
	}

	if err := mem.UpdateSnapshot(ctx, model.SnapshotRecord{ID: "does-not-exist"}); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSnapshotListByPod(t *testing.T) {
	mem := NewMemStore()
	ctx := context.Background()
	if _, err := mem.CreateSnapshot(ctx, model.SnapshotRecord{ID: "snap_1", PodID: "pod_1"}); err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}
	if _, err := mem.CreateSnapshot(ctx, model.SnapshotRecord{ID: "snap_2", PodID: "pod_2"}); err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}

	list, err := mem.ListByPod(ctx, "pod_1")
	if err != nil {
		t.Fatalf("ListByPod: %v", err)
	}
	if len(list) != 1 || list[0].ID != "snap_1" {
		t.Fatalf("expected only snap_1 for pod_1, got %+v", list)
	}
}

func TestMetricsSamplesFilteredBySince(t *testing.T) {
	mem := NewMemStore()
	ctx := context.Background()
	old := time.Now().Add(-time.Hour)
	recent := time.Now()

	if err := mem.AppendServerSample(ctx, model.ServerMetricsSample{ServerID: "server_1", Timestamp: old}); err != nil {
		t.Fatalf("AppendServerSample: %v", err)
	}
	if err := mem.AppendServerSample(ctx, model.ServerMetricsSample{ServerID: "server_1", Timestamp: recent}); err != nil {
		t.Fatalf("AppendServerSample: %v", err)
	}

	since, err := mem.ServerSamplesSince(ctx, "server_1", time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("ServerSamplesSince: %v", err)
	}
	if len(since) != 1 {
		t.Fatalf("expected 1 sample after cutoff, got %d", len(since))
	}
}
