package snapshot

import (
	"context"
	"net"
	"testing"

	"go.uber.org/zap"

	"github.com/rogeriochaves/pinacle/pkg/hostconn"
	"github.com/rogeriochaves/pinacle/pkg/model"
	"github.com/rogeriochaves/pinacle/pkg/snapshot/storage"
	"github.com/rogeriochaves/pinacle/pkg/store"
)

// fakeMountsJSON is what "docker inspect --format {{json .Mounts}}" would
// report for a container with the eight canonical volumes mounted, letting
// withHelperContainer discover them without a real container runtime.
const fakeMountsJSON = `[` +
	`{"Type":"volume","Name":"pinacle-vol-pod_1-workspace","Destination":"/workspace"},` +
	`{"Type":"volume","Name":"pinacle-vol-pod_1-home","Destination":"/home"},` +
	`{"Type":"volume","Name":"pinacle-vol-pod_1-root","Destination":"/root"},` +
	`{"Type":"volume","Name":"pinacle-vol-pod_1-etc","Destination":"/etc"},` +
	`{"Type":"volume","Name":"pinacle-vol-pod_1-usr-local","Destination":"/usr/local"},` +
	`{"Type":"volume","Name":"pinacle-vol-pod_1-opt","Destination":"/opt"},` +
	`{"Type":"volume","Name":"pinacle-vol-pod_1-var","Destination":"/var"},` +
	`{"Type":"volume","Name":"pinacle-vol-pod_1-srv","Destination":"/srv"}` +
	`]`

// fakeConn mirrors a live docker CLI run against empty volumes -- enough
// for the tar/gzip archive/restore plumbing, including the snapshot helper
// container's own inspect/create calls, to round-trip without a real
// container runtime.
type fakeConn struct{}

func (fakeConn) Exec(ctx context.Context, cmd string, args []string, opts hostconn.ExecOptions) (hostconn.ExecResult, error) {
	if len(args) > 0 {
		switch args[0] {
		case "inspect":
			return hostconn.ExecResult{ExitCode: 0, Stdout: fakeMountsJSON}, nil
		case "create":
			return hostconn.ExecResult{ExitCode: 0, Stdout: "fake_helper_container_id"}, nil
		}
	}
	return hostconn.ExecResult{ExitCode: 0}, nil
}
func (fakeConn) CopyIn(ctx context.Context, localPath, remotePath string) error  { return nil }
func (fakeConn) CopyOut(ctx context.Context, remotePath, localPath string) error { return nil }
func (fakeConn) Dial(ctx context.Context, targetPort int) (net.Conn, error)     { return nil, nil }
func (fakeConn) Close() error                                                    { return nil }

type fakeDialer struct{}

func (fakeDialer) Open(ctx context.Context, host hostconn.HostDescriptor) (hostconn.Conn, error) {
	return fakeConn{}, nil
}

type fakeCatalog struct{}

func (fakeCatalog) TemplateByName(name string) (model.Template, bool) {
	return model.Template{Name: name}, true
}

func newTestEngine(t *testing.T) (*Engine, *store.MemStore) {
	t.Helper()
	mem := store.NewMemStore()
	provider, err := storage.NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystem: %v", err)
	}
	log := zap.NewNop().Sugar()
	engine := New(mem, mem, mem, fakeDialer{}, fakeCatalog{}, provider, log)
	return engine, mem
}

func seedRunningPodWithContainer(t *testing.T, mem *store.MemStore) model.Pod {
	t.Helper()
	ctx := context.Background()
	if _, err := mem.Upsert(ctx, model.Server{ID: "server_1", Status: model.ServerOnline}); err != nil {
		t.Fatalf("Upsert server: %v", err)
	}
	pod, err := mem.Create(ctx, model.Pod{
		ID:          "pod_1",
		Slug:        "my-pod",
		HostID:      "server_1",
		ContainerID: "container_abc",
		Template:    "ubuntu-dev",
		Status:      model.PodRunning,
	})
	if err != nil {
		t.Fatalf("Create pod: %v", err)
	}
	return pod
}

func TestEngineCreateThenRestoreRoundTrip(t *testing.T) {
	engine, mem := newTestEngine(t)
	seedRunningPodWithContainer(t, mem)
	ctx := context.Background()

	rec, err := engine.Create(ctx, "pod_1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.Status != model.SnapshotReady {
		t.Fatalf("expected SnapshotReady, got %q", rec.Status)
	}
	if rec.StoragePath == "" {
		t.Fatal("expected a storage path to be recorded")
	}

	if err := engine.Restore(ctx, "pod_1", rec.ID); err != nil {
		t.Fatalf("Restore: %v", err)
	}
}

func TestEngineCreateRejectsPodWithoutContainer(t *testing.T) {
	engine, mem := newTestEngine(t)
	ctx := context.Background()
	if _, err := mem.Create(ctx, model.Pod{ID: "pod_1", Slug: "my-pod", Status: model.PodCreating}); err != nil {
		t.Fatalf("Create pod: %v", err)
	}

	if _, err := engine.Create(ctx, "pod_1"); err == nil {
		t.Fatal("expected an error for a pod with no container")
	}
}

func TestEngineRestoreRejectsSnapshotNotReady(t *testing.T) {
	engine, mem := newTestEngine(t)
	seedRunningPodWithContainer(t, mem)
	ctx := context.Background()

	rec, err := mem.CreateSnapshot(ctx, model.SnapshotRecord{ID: "snap_pending", PodID: "pod_1", Status: model.SnapshotCreating})
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}

	if err := engine.Restore(ctx, "pod_1", rec.ID); err == nil {
		t.Fatal("expected Restore to reject a snapshot that is not ready")
	}
}
