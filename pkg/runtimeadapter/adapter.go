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

// Package runtimeadapter is the thin contract over a sandboxed container
// runtime. One adapter ships per supported runtime, registered
// by name the same way a cloudprovider package registers one
// cloud.Provider per provider tag.
package runtimeadapter

import (
	"context"
	"io"
)

// Kind names a supported container runtime.
type Kind string

// Runsc is the reference target: a gVisor-style userspace-kernel sandbox
// invoked through the host's container CLI.
const Runsc Kind = "runsc"

// ResourceLimits are derived from a pod's tier.
type ResourceLimits struct {
	CPUCores  float64
	MemoryMB  int64
	PidsCap   int
	StorageMB int64 // advisory unless the runtime supports per-volume quotas.
}

// Mount is one volume mount into the container.
type Mount struct {
	VolumeName string
	Target     string
	ReadOnly   bool
}

// PublishedPort maps an external host port to an internal container port.
type PublishedPort struct {
	External int
	Internal int
}

// ContainerSpec describes a container to create. Labels always carry
// "podId" and "role=pod".
type ContainerSpec struct {
	Name    string
	Image   string
	Command []string
	Env     []string
	Limits  ResourceLimits
	Mounts  []Mount
	Network string
	Ports   []PublishedPort
	Labels  map[string]string
}

// ContainerFilter narrows ListContainers.
type ContainerFilter struct {
	Labels map[string]string
}

// ContainerInfo is one row returned by ListContainers.
type ContainerInfo struct {
	ID     string // full 64-char ID.
	Name   string
	Labels map[string]string
	Status string
}

// Stats is a point-in-time resource snapshot for a running container.
type Stats struct {
	CPUPercent    float64
	MemoryBytes   int64
	NetworkRxByte int64
	NetworkTxByte int64
}

// ExecResult is the outcome of a streaming exec inside a container.
type ExecResult struct {
	ExitCode int
}

// Adapter is the contract every container runtime backend implements. All
// volume/network operations are idempotent: repeat calls with matching
// state succeed silently.
type Adapter interface {
	CreateNetwork(ctx context.Context, podID, subnet string) error
	DestroyNetwork(ctx context.Context, podID string) error

	CreateVolume(ctx context.Context, name string) error
	RemoveVolume(ctx context.Context, name string) error
	InspectVolume(ctx context.Context, name string) (bool, error)

	// InspectMounts returns the volume mounts bound into an existing
	// container, used to stand up a short-lived helper container against
	// the same named volumes without the caller needing to already know
	// the volume names.
	InspectMounts(ctx context.Context, containerID string) ([]Mount, error)

	// CreateContainer returns the full 64-character container ID, used
	// everywhere downstream.
	CreateContainer(ctx context.Context, spec ContainerSpec) (string, error)
	StartContainer(ctx context.Context, containerID string) error
	StopContainer(ctx context.Context, containerID string, gracePeriodSec int) error
	RemoveContainer(ctx context.Context, containerID string, force bool) error
	ListContainers(ctx context.Context, filter ContainerFilter) ([]ContainerInfo, error)

	// Exec streams command output into stdout/stderr as it is produced.
	Exec(ctx context.Context, containerID string, cmd []string, stdin io.Reader, stdout, stderr io.Writer) (ExecResult, error)

	Stats(ctx context.Context, containerID string) (Stats, error)
}

// Constructor builds an Adapter given the host connection it should issue
// CLI calls over.
type Constructor func(conn HostExecutor) Adapter

var registry = map[Kind]Constructor{}

// Register adds a runtime backend to the registry. Called from each
// backend's package init(), the same way a providers map gets populated by
// each provider subpackage.
func Register(kind Kind, ctor Constructor) {
	registry[kind] = ctor
}

// New looks up and constructs the Adapter for kind.
func New(kind Kind, conn HostExecutor) (Adapter, bool) {
	ctor, ok := registry[kind]
	if !ok {
		return nil, false
	}
	return ctor(conn), true
}
