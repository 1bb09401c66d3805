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

package runtimeadapter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"sync"

	"github.com/rogeriochaves/pinacle/pkg/apierrors"
)

// Fake is an in-memory Adapter used by orchestrator tests, in the shape of
// a cloudprovider fake test double: it never shells out, so state-machine
// tests don't need a real host.
const Fake Kind = "fake"

func init() {
	Register(Fake, func(conn HostExecutor) Adapter {
		return NewFakeAdapter()
	})
}

// NewFakeAdapter returns a ready-to-use in-memory Adapter.
func NewFakeAdapter() *FakeAdapter {
	return &FakeAdapter{
		networks:   map[string]bool{},
		volumes:    map[string]bool{},
		containers: map[string]*fakeContainer{},
	}
}

type fakeContainer struct {
	spec   ContainerSpec
	status string
}

// FakeAdapter is exported so orchestrator tests can assert against its
// internal state directly.
type FakeAdapter struct {
	mu         sync.Mutex
	networks   map[string]bool
	volumes    map[string]bool
	containers map[string]*fakeContainer
	nextID     int
}

func (f *FakeAdapter) CreateNetwork(ctx context.Context, podID, subnet string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.networks["pinacle-net-"+podID] = true
	return nil
}

func (f *FakeAdapter) DestroyNetwork(ctx context.Context, podID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.networks, "pinacle-net-"+podID)
	return nil
}

func (f *FakeAdapter) CreateVolume(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volumes[name] = true
	return nil
}

func (f *FakeAdapter) RemoveVolume(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.volumes, name)
	return nil
}

func (f *FakeAdapter) InspectVolume(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.volumes[name], nil
}

// InspectMounts returns a copy of the mounts recorded at CreateContainer
// time for containerID.
func (f *FakeAdapter) InspectMounts(ctx context.Context, containerID string) ([]Mount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[containerID]
	if !ok {
		return nil, apierrors.New(apierrors.KindNotFound, "container not found")
	}
	out := make([]Mount, len(c.spec.Mounts))
	copy(out, c.spec.Mounts)
	return out, nil
}

func (f *FakeAdapter) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fakeContainerID(spec.Name, f.nextID)
	f.containers[id] = &fakeContainer{spec: spec, status: "created"}
	return id, nil
}

// fakeContainerID produces a deterministic 64-hex-character ID, matching
// the shape real runtimes return.
func fakeContainerID(name string, seq int) string {
	sum := sha256.Sum256([]byte(name + string(rune(seq))))
	return hex.EncodeToString(sum[:])
}

func (f *FakeAdapter) StartContainer(ctx context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[containerID]
	if !ok {
		return apierrors.New(apierrors.KindNotFound, "container not found")
	}
	c.status = "running"
	return nil
}

func (f *FakeAdapter) StopContainer(ctx context.Context, containerID string, gracePeriodSec int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[containerID]; ok {
		c.status = "stopped"
	}
	return nil
}

func (f *FakeAdapter) RemoveContainer(ctx context.Context, containerID string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, containerID)
	return nil
}

func (f *FakeAdapter) ListContainers(ctx context.Context, filter ContainerFilter) ([]ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ContainerInfo
	for id, c := range f.containers {
		if !matchesLabels(c.spec.Labels, filter.Labels) {
			continue
		}
		out = append(out, ContainerInfo{ID: id, Name: c.spec.Name, Labels: c.spec.Labels, Status: c.status})
	}
	return out, nil
}

func matchesLabels(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}

func (f *FakeAdapter) Exec(ctx context.Context, containerID string, cmd []string, stdin io.Reader, stdout, stderr io.Writer) (ExecResult, error) {
	f.mu.Lock()
	_, ok := f.containers[containerID]
	f.mu.Unlock()
	if !ok {
		return ExecResult{}, apierrors.New(apierrors.KindNotFound, "container not found")
	}
	return ExecResult{ExitCode: 0}, nil
}

func (f *FakeAdapter) Stats(ctx context.Context, containerID string) (Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.containers[containerID]; !ok {
		return Stats{}, apierrors.New(apierrors.KindNotFound, "container not found")
	}
	return Stats{CPUPercent: 1.5, MemoryBytes: 64 << 20}, nil
}
