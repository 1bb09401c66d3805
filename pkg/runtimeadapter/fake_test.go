package runtimeadapter

import (
	"bytes"
	"context"
	"testing"

	"github.com/rogeriochaves/pinacle/pkg/apierrors"
)

func TestNewLooksUpRegisteredKind(t *testing.T) {
	adapter, ok := New(Fake, nil)
	if !ok {
		t.Fatal("expected the fake kind to be registered")
	}
	if adapter == nil {
		t.Fatal("expected a non-nil adapter")
	}

	if _, ok := New(Kind("does-not-exist"), nil); ok {
		t.Fatal("expected an unregistered kind to return ok=false")
	}
}

func TestFakeAdapterContainerLifecycle(t *testing.T) {
	ctx := context.Background()
	f := NewFakeAdapter()

	if err := f.CreateNetwork(ctx, "pod_1", "10.88.0.0/24"); err != nil {
		t.Fatalf("CreateNetwork: %v", err)
	}
	if err := f.CreateVolume(ctx, "pinacle-vol-pod_1-workspace"); err != nil {
		t.Fatalf("CreateVolume: %v", err)
	}
	if ok, err := f.InspectVolume(ctx, "pinacle-vol-pod_1-workspace"); err != nil || !ok {
		t.Fatalf("InspectVolume: ok=%v err=%v", ok, err)
	}

	id, err := f.CreateContainer(ctx, ContainerSpec{Name: "pinacle-pod-pod_1", Labels: map[string]string{"podId": "pod_1", "role": "pod"}})
	if err != nil {
		t.Fatalf("CreateContainer: %v", err)
	}
	if len(id) != 64 {
		t.Fatalf("expected a 64-char container ID, got %d chars: %q", len(id), id)
	}

	if err := f.StartContainer(ctx, id); err != nil {
		t.Fatalf("StartContainer: %v", err)
	}

	var stdout, stderr bytes.Buffer
	res, err := f.Exec(ctx, id, []string{"echo", "hi"}, nil, &stdout, &stderr)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %d", res.ExitCode)
	}

	stats, err := f.Stats(ctx, id)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.MemoryBytes == 0 {
		t.Fatal("expected non-zero fake memory stats")
	}

	list, err := f.ListContainers(ctx, ContainerFilter{Labels: map[string]string{"podId": "pod_1"}})
	if err != nil || len(list) != 1 {
		t.Fatalf("ListContainers: list=%+v err=%v", list, err)
	}

	if err := f.RemoveContainer(ctx, id, true); err != nil {
		t.Fatalf("RemoveContainer: %v", err)
	}
	if _, err := f.Stats(ctx, id); apierrors.KindOf(err) != apierrors.KindNotFound {
		t.Fatalf("expected KindNotFound after removal, got %v", err)
	}
}

func TestFakeAdapterStartUnknownContainerFails(t *testing.T) {
	f := NewFakeAdapter()
	err := f.StartContainer(context.Background(), "does-not-exist")
	if apierrors.KindOf(err) != apierrors.KindNotFound {
		t.Fatalf("expected KindNotFound, got %v", err)
	}
}
