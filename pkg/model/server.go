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

// Package model holds the entity schema shared by the orchestrator, host
// agent, control plane and proxy. There are no enforced foreign keys between
// these types other than the ones explicitly called out below: integrity
// across the soft references is the orchestrator's job, not the store's.
package model

import "time"

// ServerStatus is the lifecycle status of a registered host.
type ServerStatus string

const (
	ServerOnline  ServerStatus = "online"
	ServerOffline ServerStatus = "offline"
)

// SSHEndpoint is the address the control plane dials to reach a remote host.
type SSHEndpoint struct {
	Host string
	Port int
	User string
}

// Server is a physical (or VM) host in the fleet that can run pods.
//
// Invariant: Status == ServerOnline iff LastHeartbeatAt is within
// HeartbeatStaleThreshold of now; this is enforced by the control plane's
// heartbeat handler and periodic stale sweep, never by callers mutating the
// field directly.
type Server struct {
	ID         string // "server_<ksuid>", stable across reboots.
	Hostname   string
	IPAddress  string
	CPUCores   int
	MemoryMB   int64
	DiskGB     int64
	SSH        SSHEndpoint
	LocalVMName string // non-empty when this host is a developer VM, not SSH-reachable.

	Status          ServerStatus
	LastHeartbeatAt time.Time
	CreatedAt       time.Time
}

// IsLocalVM reports whether this host is dispatched through the local
// VM-management CLI instead of SSH.
func (s *Server) IsLocalVM() bool {
	return s.LocalVMName != ""
}

// ServerMetricsSample is one time-indexed resource reading for a server.
type ServerMetricsSample struct {
	ServerID        string
	Timestamp       time.Time
	CPUUsagePercent float64
	MemoryUsageMB   int64
	DiskUsageGB     int64
	ActivePodsCount int
}
