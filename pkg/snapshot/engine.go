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

// Package snapshot is the Snapshot Engine (C6): export and import of a
// pod's named volumes as one gzip-compressed archive, against a pluggable
// storage.Provider, following a fixed manifest layout
// ("snapshot-metadata.json" + "volumes/<name>.tar").
package snapshot

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/rogeriochaves/pinacle/pkg/apierrors"
	"github.com/rogeriochaves/pinacle/pkg/hostconn"
	"github.com/rogeriochaves/pinacle/pkg/idgen"
	"github.com/rogeriochaves/pinacle/pkg/model"
	"github.com/rogeriochaves/pinacle/pkg/runtimeadapter"
	"github.com/rogeriochaves/pinacle/pkg/snapshot/storage"
	"github.com/rogeriochaves/pinacle/pkg/store"
)

// TemplateCatalog resolves a template name, mirroring orchestrator.TemplateCatalog.
type TemplateCatalog interface {
	TemplateByName(name string) (model.Template, bool)
}

// Engine drives Create/Restore against a pod's live container.
type Engine struct {
	pods      store.PodRepository
	snapshots store.SnapshotRepository
	servers   store.ServerRepository
	dialer    hostconn.Dialer
	templates TemplateCatalog
	storage   storage.Provider
	log       *zap.SugaredLogger

	runtimeKind runtimeadapter.Kind
}

// New constructs a Snapshot Engine.
func New(
	pods store.PodRepository,
	snapshots store.SnapshotRepository,
	servers store.ServerRepository,
	dialer hostconn.Dialer,
	templates TemplateCatalog,
	provider storage.Provider,
	log *zap.SugaredLogger,
) *Engine {
	return &Engine{
		pods:        pods,
		snapshots:   snapshots,
		servers:     servers,
		dialer:      dialer,
		templates:   templates,
		storage:     provider,
		log:         log,
		runtimeKind: runtimeadapter.Runsc,
	}
}

func (e *Engine) connect(ctx context.Context, hostID string) (hostconn.Conn, runtimeadapter.Adapter, error) {
	server, err := e.servers.Get(ctx, hostID)
	if err != nil {
		return nil, nil, apierrors.Wrap(apierrors.KindNotFound, err, "host not found: "+hostID)
	}
	conn, err := e.dialer.Open(ctx, hostconn.HostDescriptor{
		SSHHost:     server.SSH.Host,
		SSHPort:     server.SSH.Port,
		SSHUser:     server.SSH.User,
		LocalVMName: server.LocalVMName,
	})
	if err != nil {
		return nil, nil, apierrors.Wrap(apierrors.KindTransient, err, "dial host "+hostID)
	}
	adapter, ok := runtimeadapter.New(e.runtimeKind, runtimeadapter.FromHostConn(conn))
	if !ok {
		conn.Close()
		return nil, nil, apierrors.New(apierrors.KindInvariant, "unregistered runtime kind: "+string(e.runtimeKind))
	}
	return conn, adapter, nil
}

func storageKey(podID, snapshotID string) string {
	return "snapshots/" + podID + "/" + snapshotID + ".tar.gz"
}

// volumeTarget mirrors orchestrator's canonical mount points; duplicated
// here (rather than imported) to keep this package free of a dependency on
// orchestrator, which depends on snapshot's sibling concerns the other way
// in a full build.
func volumeTarget(name string) string {
	switch name {
	case "workspace":
		return "/workspace"
	case "home":
		return "/home"
	case "root":
		return "/root"
	case "etc":
		return "/etc"
	case "usr-local":
		return "/usr/local"
	case "opt":
		return "/opt"
	case "var":
		return "/var"
	case "srv":
		return "/srv"
	default:
		return "/mnt/" + name
	}
}

// Create exports every canonical volume of podID's container into one
// archive and uploads it, returning the resulting SnapshotRecord. The
// export runs inside a short-lived helper container that mounts the same
// named volumes read-only, so the workload container that produced them is
// not required to be stopped -- or even running, since nothing is exec'd
// into it directly. On failure the record's status is set to failed rather
// than the row being deleted, so operators can see the attempt; the
// partially uploaded key is deleted from storage in that failure branch.
func (e *Engine) Create(ctx context.Context, podID string) (model.SnapshotRecord, error) {
	pod, err := e.pods.GetPod(ctx, podID)
	if err != nil {
		return model.SnapshotRecord{}, err
	}
	if pod.ContainerID == "" {
		return model.SnapshotRecord{}, apierrors.New(apierrors.KindInvariant, "pod has no container: "+podID)
	}

	tmpl, _ := e.templates.TemplateByName(pod.Template)

	conn, adapter, err := e.connect(ctx, pod.HostID)
	if err != nil {
		return model.SnapshotRecord{}, err
	}
	defer conn.Close()

	if tmpl.PreSnapshotHook != "" {
		if _, err := adapter.Exec(ctx, pod.ContainerID, []string{"sh", "-c", tmpl.PreSnapshotHook}, nil, io.Discard, io.Discard); err != nil {
			e.log.Warnw("pre-snapshot hook failed, continuing with crash-consistent export", "podId", podID, zap.Error(err))
		}
	}

	id := idgen.NewSnapshotID()
	rec := model.SnapshotRecord{
		ID:              id,
		PodID:           podID,
		Status:          model.SnapshotCreating,
		ManifestVersion: model.ManifestVersion,
	}
	rec, err = e.snapshots.CreateSnapshot(ctx, rec)
	if err != nil {
		return model.SnapshotRecord{}, err
	}

	key := storageKey(podID, id)
	if err := e.exportAndUpload(ctx, pod, adapter, id, key); err != nil {
		rec.Status = model.SnapshotFailed
		_ = e.snapshots.UpdateSnapshot(ctx, rec)
		_ = e.storage.Delete(context.Background(), key)
		return rec, err
	}

	rec.Status = model.SnapshotReady
	rec.StoragePath = key
	if err := e.snapshots.UpdateSnapshot(ctx, rec); err != nil {
		return rec, err
	}
	return rec, nil
}

func (e *Engine) exportAndUpload(ctx context.Context, pod model.Pod, adapter runtimeadapter.Adapter, snapshotID, key string) error {
	pr, pw := io.Pipe()

	exportDone := make(chan error, 1)
	go func() {
		exportDone <- e.writeArchive(ctx, pod, adapter, snapshotID, pw)
	}()

	uploadErr := e.storage.Upload(ctx, key, pr, -1)
	exportErr := <-exportDone

	if exportErr != nil {
		return errors.Wrap(exportErr, "export volumes")
	}
	if uploadErr != nil {
		return errors.Wrap(uploadErr, "upload snapshot archive")
	}
	return nil
}

// writeArchive tars+gzips the manifest plus every canonical volume into w,
// always closing w (with the error, if any, so Upload unblocks).
func (e *Engine) writeArchive(ctx context.Context, pod model.Pod, adapter runtimeadapter.Adapter, snapshotID string, w io.WriteCloser) (err error) {
	defer func() {
		if cerr := w.Close(); err == nil {
			err = cerr
		}
	}()

	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	manifest := model.SnapshotManifest{
		Version:    model.ManifestVersion,
		SnapshotID: snapshotID,
		PodID:      pod.ID,
		Volumes:    model.CanonicalVolumeNames,
		CreatedAt:  time.Now(),
	}
	mb, merr := json.Marshal(manifest)
	if merr != nil {
		return errors.Wrap(merr, "marshal manifest")
	}
	if err := writeTarEntry(tw, "snapshot-metadata.json", mb); err != nil {
		return err
	}

	exportErr := withHelperContainer(ctx, adapter, pod.ContainerID, true, func(helperID string) error {
		for _, name := range model.CanonicalVolumeNames {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			var buf bytes.Buffer
			cmd := []string{"tar", "-cf", "-", "-C", volumeTarget(name), "."}
			if _, execErr := adapter.Exec(ctx, helperID, cmd, nil, &buf, io.Discard); execErr != nil {
				return errors.Wrapf(execErr, "export volume %s", name)
			}
			if err := writeTarEntry(tw, "volumes/"+name+".tar", buf.Bytes()); err != nil {
				return err
			}
		}
		return nil
	})
	if exportErr != nil {
		return exportErr
	}

	if err := tw.Close(); err != nil {
		return errors.Wrap(err, "close tar writer")
	}
	if err := gz.Close(); err != nil {
		return errors.Wrap(err, "close gzip writer")
	}
	return nil
}

func writeTarEntry(tw *tar.Writer, name string, content []byte) error {
	hdr := &tar.Header{
		Name: name,
		Mode: 0o644,
		Size: int64(len(content)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return errors.Wrapf(err, "write tar header %s", name)
	}
	if _, err := tw.Write(content); err != nil {
		return errors.Wrapf(err, "write tar content %s", name)
	}
	return nil
}

// Restore downloads snapshotID and extracts every volume into podID's
// container, refusing unknown manifest versions. The extraction runs
// inside a short-lived helper container that mounts the same named volumes
// read-write; the pod's own container is expected to be stopped by the
// caller before invocation (the orchestrator creates it via the normal
// provisioning pipeline, stopped, before invoking Restore during
// Rebuild(fromSnapshot)) so nothing is writing to those volumes
// concurrently with the wipe-and-extract below.
func (e *Engine) Restore(ctx context.Context, podID, snapshotID string) error {
	pod, err := e.pods.GetPod(ctx, podID)
	if err != nil {
		return err
	}
	rec, err := e.snapshots.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return err
	}
	if rec.Status != model.SnapshotReady {
		return apierrors.New(apierrors.KindInvariant, "snapshot not ready: "+snapshotID)
	}

	conn, adapter, err := e.connect(ctx, pod.HostID)
	if err != nil {
		return err
	}
	defer conn.Close()

	rc, err := e.storage.Download(ctx, rec.StoragePath)
	if err != nil {
		return errors.Wrap(err, "download snapshot archive")
	}
	defer rc.Close()

	gz, err := gzip.NewReader(rc)
	if err != nil {
		return errors.Wrap(err, "open gzip stream")
	}
	defer gz.Close()

	tr := tar.NewReader(gz)

	var manifest *model.SnapshotManifest
	volumes := map[string][]byte{}

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrap(err, "read tar entry")
		}

		content, err := io.ReadAll(tr)
		if err != nil {
			return errors.Wrapf(err, "read tar content %s", hdr.Name)
		}

		switch {
		case hdr.Name == "snapshot-metadata.json":
			var m model.SnapshotManifest
			if err := json.Unmarshal(content, &m); err != nil {
				return errors.Wrap(err, "unmarshal manifest")
			}
			manifest = &m
		case len(hdr.Name) > len("volumes/") && hdr.Name[:len("volumes/")] == "volumes/":
			name := hdr.Name[len("volumes/") : len(hdr.Name)-len(".tar")]
			volumes[name] = content
		}
	}

	if manifest == nil {
		return apierrors.New(apierrors.KindInvariant, "archive missing snapshot-metadata.json")
	}
	if manifest.Version != model.ManifestVersion {
		return apierrors.New(apierrors.KindInvariant, "unsupported manifest version: "+manifest.Version)
	}

	return withHelperContainer(ctx, adapter, pod.ContainerID, false, func(helperID string) error {
		for _, name := range manifest.Volumes {
			content, ok := volumes[name]
			if !ok {
				return apierrors.New(apierrors.KindInvariant, "archive missing volume: "+name)
			}

			target := volumeTarget(name)
			wipe := []string{"sh", "-c", "rm -rf " + target + "/* " + target + "/.[!.]* 2>/dev/null; true"}
			if _, err := adapter.Exec(ctx, helperID, wipe, nil, io.Discard, io.Discard); err != nil {
				return errors.Wrapf(err, "wipe volume %s", name)
			}

			extract := []string{"tar", "-xf", "-", "-C", target}
			if _, err := adapter.Exec(ctx, helperID, extract, bytes.NewReader(content), io.Discard, io.Discard); err != nil {
				return errors.Wrapf(err, "extract volume %s", name)
			}
		}
		return nil
	})
}
