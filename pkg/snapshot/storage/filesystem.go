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

package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Filesystem stores snapshot blobs under a root directory on local disk,
// the backend used by single-host / developer-VM deployments that have no
// S3-compatible endpoint configured.
type Filesystem struct {
	Root string
}

// NewFilesystem returns a Provider rooted at root, creating it if absent.
func NewFilesystem(root string) (*Filesystem, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create snapshot storage root %s", root)
	}
	return &Filesystem{Root: root}, nil
}

func (f *Filesystem) path(key string) string {
	return filepath.Join(f.Root, filepath.FromSlash(key))
}

func (f *Filesystem) Upload(ctx context.Context, key string, r io.Reader, size int64) error {
	dst := f.path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errors.Wrapf(err, "mkdir for %s", key)
	}
	tmp := dst + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return errors.Wrapf(err, "create %s", tmp)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		os.Remove(tmp)
		return errors.Wrapf(err, "write %s", key)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "close %s", tmp)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "finalize %s", key)
	}
	return nil
}

func (f *Filesystem) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	file, err := os.Open(f.path(key))
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", key)
	}
	return file, nil
}

func (f *Filesystem) Delete(ctx context.Context, key string) error {
	if err := os.Remove(f.path(key)); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "delete %s", key)
	}
	return nil
}

func (f *Filesystem) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(f.path(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errors.Wrapf(err, "stat %s", key)
}
