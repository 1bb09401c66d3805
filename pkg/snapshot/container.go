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

	"github.com/rogeriochaves/pinacle/pkg/apierrors"
	"github.com/rogeriochaves/pinacle/pkg/model"
	"github.com/rogeriochaves/pinacle/pkg/runtimeadapter"
)

// ExportContainer tars+gzips snapshot-metadata.json plus every named volume
// of containerID into w, always closing w. It is the container-id-addressed
// counterpart to Engine.Create, used by the snapshot-create CLI binary,
// which runs colocated with the container and has no access to the control
// plane's persistence model. The actual export runs inside a short-lived
// helper container that mounts containerID's same named volumes read-only
// (discovered via Adapter.InspectMounts), so containerID itself is never
// exec'd into and need not be running.
func ExportContainer(ctx context.Context, adapter runtimeadapter.Adapter, containerID, snapshotID string, volumes []string, w io.WriteCloser) (err error) {
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
		Volumes:    volumes,
		CreatedAt:  time.Now(),
	}
	mb, merr := json.Marshal(manifest)
	if merr != nil {
		return errors.Wrap(merr, "marshal manifest")
	}
	if err := writeTarEntry(tw, "snapshot-metadata.json", mb); err != nil {
		return err
	}

	exportErr := withHelperContainer(ctx, adapter, containerID, true, func(helperID string) error {
		for _, name := range volumes {
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

// ImportContainer downloads-equivalent: extracts an archive previously
// written by ExportContainer into containerID's volumes, refusing unknown
// manifest versions. Used by the snapshot-restore CLI binary. The
// extraction runs inside a short-lived helper container mounting the same
// named volumes read-write; the caller is expected to have containerID
// stopped before invocation.
func ImportContainer(ctx context.Context, adapter runtimeadapter.Adapter, containerID string, r io.Reader) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return errors.Wrap(err, "open gzip stream")
	}
	defer gz.Close()

	tr := tar.NewReader(gz)

	var manifest *model.SnapshotManifest
	volumeContents := map[string][]byte{}

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
			volumeContents[name] = content
		}
	}

	if manifest == nil {
		return apierrors.New(apierrors.KindInvariant, "archive missing snapshot-metadata.json")
	}
	if manifest.Version != model.ManifestVersion {
		return apierrors.New(apierrors.KindInvariant, "unsupported manifest version: "+manifest.Version)
	}

	return withHelperContainer(ctx, adapter, containerID, false, func(helperID string) error {
		for _, name := range manifest.Volumes {
			content, ok := volumeContents[name]
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
