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

// Package storage is the pluggable object-storage back end for the Snapshot
// Engine: one Provider interface, two implementations
// (S3-compatible and local filesystem), selected at startup by
// pkg/config.Snapshot.
package storage

import (
	"context"
	"io"
)

// Provider uploads, downloads, and manages snapshot archive blobs keyed by
// an opaque storage key (never a user-facing path).
type Provider interface {
	// Upload streams r to key. size may be -1 when the caller does not know
	// the content length up front (a gzip stream piped from a live tar
	// export); implementations must support that case.
	Upload(ctx context.Context, key string, r io.Reader, size int64) error
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// Kind names a supported storage backend.
type Kind string

const (
	KindS3         Kind = "s3"
	KindFilesystem Kind = "filesystem"
)
