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

import (
	"fmt"
	"regexp"
	"time"
)

// PodStatus is a state in the provisioning state machine.
type PodStatus string

const (
	PodCreating     PodStatus = "creating"
	PodProvisioning PodStatus = "provisioning"
	PodRunning      PodStatus = "running"
	PodStopping     PodStatus = "stopping"
	PodStopped      PodStatus = "stopped"
	PodDeleting     PodStatus = "deleting"
	PodError        PodStatus = "error"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,62}$`)

// ValidSlug reports whether slug matches the canonical proxy-hostname slug
// grammar.
func ValidSlug(slug string) bool {
	return slugPattern.MatchString(slug)
}

// CanonicalVolumeNames is the fixed set of eight named persistent volumes
// that make up a pod's durable state. Order matters for manifest/test
// fixtures but carries no other semantics.
var CanonicalVolumeNames = []string{
	"workspace", "home", "root", "etc", "usr-local", "opt", "var", "srv",
}

// VolumeName returns the canonical Docker/runsc volume name for a pod volume.
func VolumeName(podID, name string) string {
	return fmt.Sprintf("pinacle-vol-%s-%s", podID, name)
}

// NetworkName returns the canonical per-pod bridge network name.
func NetworkName(podID string) string {
	return fmt.Sprintf("pinacle-net-%s", podID)
}

// ContainerName returns the canonical container name the host agent uses to
// recognize a pod's workload container when scraping stats.
func ContainerName(podID string) string {
	return fmt.Sprintf("pinacle-pod-%s", podID)
}

// NginxProxyPortName is the one distinguished, structurally-required port
// mapping: the in-pod entry point the Proxy routes every request through.
// All other port names are informational.
const NginxProxyPortName = "nginx-proxy"

// PortMapping is one published port on a pod's container.
type PortMapping struct {
	Name     string
	Internal int
	External int
}

// Tier is a named tuple of resource limits applied to a pod's container.
// Tiers are totally ordered by price via Rank.
type Tier struct {
	Name      string
	Rank      int
	CPUCores  float64
	MemoryMB  int64
	StorageMB int64
}

// PodConfig is the decoded sum of template + tier + service toggles +
// environment-variable-set reference. It is parsed once at the control-plane
// edge; the orchestrator only ever sees this decoded form.
type PodConfig struct {
	Template         string
	Tier             string
	ServicesEnabled  []string
	EnvVarSetID      string
}

// Pod is a user-visible sandboxed workload.
//
// Invariant: a Pod with Status == PodRunning always has non-empty HostID and
// ContainerID. ArchivedAt != nil marks a soft-deleted pod,
// excluded from scheduling and proxy resolution.
type Pod struct {
	ID      string // KSUID-like, monotonic, sortable.
	Name    string
	Slug    string
	OwnerUserID string
	OwnerTeamID string

	HostID      string
	ContainerID string // full 64-char runtime ID once created.

	Template string
	Tier     string
	Config   PodConfig
	Ports    []PortMapping

	Status           PodStatus
	LastErrorMessage string
	ArchivedAt       *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsArchived reports whether the pod has been soft-deleted.
func (p *Pod) IsArchived() bool {
	return p.ArchivedAt != nil
}

// Port looks up a port mapping by name.
func (p *Pod) Port(name string) (PortMapping, bool) {
	for _, pm := range p.Ports {
		if pm.Name == name {
			return pm, true
		}
	}
	return PortMapping{}, false
}

// PodLog is one append-only structured provisioning-command record.
// ExitCode == nil means "in flight".
type PodLog struct {
	ID               int64 // strictly monotonic per pod.
	PodID            string
	Timestamp        time.Time
	Label            string
	Command          string
	ContainerCommand string
	Stdout           string
	Stderr           string
	ExitCode         *int
	Duration         time.Duration
}

// InFlight reports whether the log entry has not yet completed.
func (l *PodLog) InFlight() bool {
	return l.ExitCode == nil
}

// Failed reports whether the log entry recorded a non-zero exit.
func (l *PodLog) Failed() bool {
	return l.ExitCode != nil && *l.ExitCode != 0
}

// PodMetricsSample is one time-indexed resource reading for a pod.
type PodMetricsSample struct {
	PodID           string
	ContainerID     string
	Timestamp       time.Time
	CPUUsagePercent float64
	MemoryUsageMB   int64
	DiskUsageMB     int64
	NetworkRxBytes  int64
	NetworkTxBytes  int64
}
