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

// Package idgen mints the prefixed, stable identifiers used across entities:
// "server_", "pod_", "snap_". google/uuid is the primary random
// source; pborman/uuid backs the fallback path on the rare occasion the
// primary generator's crypto/rand read fails, the same two-generator
// resilience shape a provider-bootstrap ID allocator would use.
package idgen

import (
	"fmt"
	"time"

	googleuuid "github.com/google/uuid"
	legacyuuid "github.com/pborman/uuid"
)

func randomSuffix() string {
	id, err := googleuuid.NewRandom()
	if err != nil {
		return legacyuuid.NewRandom().String()
	}
	return id.String()
}

// NewServerID mints a fresh "server_<timestamp>-<random>" identifier,
// sortable the same way as a Pod ID, persisted by the host agent on first
// boot and reused across restarts.
func NewServerID() string {
	return "server_" + sortableSuffix()
}

// sortableSuffix is a zero-padded-nanosecond-timestamp-then-random string:
// lexical ordering matches creation order, and the random tail keeps two
// IDs minted in the same nanosecond from colliding. No KSUID/ULID library
// appears anywhere in the dependency corpus this module draws from, so the
// monotonic-sortable property is built directly on time.Now() and the
// existing uuid random source rather than pulling in an unseen dependency.
func sortableSuffix() string {
	return fmt.Sprintf("%020d-%s", time.Now().UnixNano(), randomSuffix()[:8])
}

// NewPodID mints a fresh "pod_<timestamp>-<random>" identifier at Pod
// creation time: monotonic and lexically sortable by creation order.
func NewPodID() string {
	return "pod_" + sortableSuffix()
}

// NewSnapshotID mints a fresh "snap_<timestamp>-<random>" identifier for a
// Snapshot Record, sortable the same way as a Pod ID.
func NewSnapshotID() string {
	return "snap_" + sortableSuffix()
}
