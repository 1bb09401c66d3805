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

package model

import "time"

// ManifestVersion is the only manifest version this build understands.
// Snapshot Engine implementations must refuse any other value.
const ManifestVersion = "2.0"

// SnapshotStatus is the lifecycle status of a Snapshot Record.
type SnapshotStatus string

const (
	SnapshotCreating SnapshotStatus = "creating"
	SnapshotReady    SnapshotStatus = "ready"
	SnapshotFailed   SnapshotStatus = "failed"
)

// SnapshotRecord is the control plane's bookkeeping row for one archive.
type SnapshotRecord struct {
	ID              string
	PodID           string
	CreatedAt       time.Time
	Status          SnapshotStatus
	StoragePath     string
	SizeBytes       int64
	ManifestVersion string
}

// SnapshotManifest is the JSON document at the root of a snapshot archive.
type SnapshotManifest struct {
	Version    string    `json:"version"`
	SnapshotID string    `json:"snapshotId"`
	PodID      string    `json:"podId"`
	Volumes    []string  `json:"volumes"`
	CreatedAt  time.Time `json:"createdAt"`
}
