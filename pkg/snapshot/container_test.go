package snapshot

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/rogeriochaves/pinacle/pkg/apierrors"
	"github.com/rogeriochaves/pinacle/pkg/model"
	"github.com/rogeriochaves/pinacle/pkg/runtimeadapter"
)

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func testVolumeMounts(volumes []string) []runtimeadapter.Mount {
	mounts := make([]runtimeadapter.Mount, 0, len(volumes))
	for _, name := range volumes {
		mounts = append(mounts, runtimeadapter.Mount{VolumeName: "vol-" + name, Target: volumeTarget(name)})
	}
	return mounts
}

func TestExportImportContainerRoundTrip(t *testing.T) {
	adapter := runtimeadapter.NewFakeAdapter()
	ctx := context.Background()
	volumes := []string{"workspace", "home"}
	containerID, err := adapter.CreateContainer(ctx, runtimeadapter.ContainerSpec{Name: "pinacle-pod-pod_1", Mounts: testVolumeMounts(volumes)})
	if err != nil {
		t.Fatalf("CreateContainer: %v", err)
	}

	var archive bytes.Buffer
	if err := ExportContainer(ctx, adapter, containerID, "snap_1", volumes, nopWriteCloser{&archive}); err != nil {
		t.Fatalf("ExportContainer: %v", err)
	}
	if archive.Len() == 0 {
		t.Fatal("expected a non-empty archive")
	}

	if err := ImportContainer(ctx, adapter, containerID, bytes.NewReader(archive.Bytes())); err != nil {
		t.Fatalf("ImportContainer: %v", err)
	}
}

func TestImportContainerRejectsUnsupportedManifestVersion(t *testing.T) {
	adapter := runtimeadapter.NewFakeAdapter()
	ctx := context.Background()
	containerID, err := adapter.CreateContainer(ctx, runtimeadapter.ContainerSpec{Name: "pinacle-pod-pod_1"})
	if err != nil {
		t.Fatalf("CreateContainer: %v", err)
	}

	var archive bytes.Buffer
	gz := gzip.NewWriter(&archive)
	tw := tar.NewWriter(gz)
	mb, err := json.Marshal(model.SnapshotManifest{Version: "9.9", SnapshotID: "snap_1"})
	if err != nil {
		t.Fatalf("marshal manifest: %v", err)
	}
	if err := tw.WriteHeader(&tar.Header{Name: "snapshot-metadata.json", Size: int64(len(mb)), Mode: 0o644}); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	if _, err := tw.Write(mb); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar Close: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip Close: %v", err)
	}

	err = ImportContainer(ctx, adapter, containerID, bytes.NewReader(archive.Bytes()))
	if apierrors.KindOf(err) != apierrors.KindInvariant {
		t.Fatalf("expected KindInvariant for unsupported manifest version, got %v", err)
	}
}
