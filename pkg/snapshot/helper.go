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
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/rogeriochaves/pinacle/pkg/apierrors"
	"github.com/rogeriochaves/pinacle/pkg/runtimeadapter"
)

// helperImage is the image the short-lived export/import helper container
// runs: it only needs a shell and tar, never the workload's own image.
const helperImage = "pinacle/snapshot-helper:latest"

// withHelperContainer inspects workloadContainerID's existing volume mounts
// and starts a short-lived helper container bound to the same named
// volumes -- read-only for Create, read-write for Restore -- so the
// workload container is never exec'd into directly: Create does not
// require it to be running, and Restore's "caller stops the container
// first" invariant holds because nothing here touches it at all beyond the
// inspect. The helper is always removed before returning.
func withHelperContainer(ctx context.Context, adapter runtimeadapter.Adapter, workloadContainerID string, readOnly bool, fn func(helperContainerID string) error) error {
	mounts, err := adapter.InspectMounts(ctx, workloadContainerID)
	if err != nil {
		return errors.Wrap(err, "inspect workload container mounts")
	}
	if len(mounts) == 0 {
		return apierrors.New(apierrors.KindInvariant, "workload container has no volume mounts: "+workloadContainerID)
	}

	helperMounts := make([]runtimeadapter.Mount, len(mounts))
	for i, m := range mounts {
		helperMounts[i] = runtimeadapter.Mount{VolumeName: m.VolumeName, Target: m.Target, ReadOnly: readOnly}
	}

	spec := runtimeadapter.ContainerSpec{
		Name:    fmt.Sprintf("pinacle-snaphelper-%s", uuid.NewString()),
		Image:   helperImage,
		Command: []string{"sleep", "infinity"},
		Mounts:  helperMounts,
		Labels:  map[string]string{"role": "snapshot-helper"},
	}
	helperID, err := adapter.CreateContainer(ctx, spec)
	if err != nil {
		return errors.Wrap(err, "create snapshot helper container")
	}
	defer func() {
		_ = adapter.RemoveContainer(context.Background(), helperID, true)
	}()

	if err := adapter.StartContainer(ctx, helperID); err != nil {
		return errors.Wrap(err, "start snapshot helper container")
	}

	return fn(helperID)
}
