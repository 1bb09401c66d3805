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

// Package hostconn abstracts command execution and file transfer against a
// single host. There are two variants -- SSH-reachable remote
// hosts and local developer VMs dispatched through a local VM-management CLI
// -- but callers never branch on which one they hold.
package hostconn

import (
	"context"
	"io"
	"net"
	"time"
)

// ExecOptions customize one Exec call.
type ExecOptions struct {
	Stdin   io.Reader
	Dir     string
	Env     []string
	Timeout time.Duration
}

// ExecResult is the outcome of a command run on the host. A non-zero
// ExitCode is NOT an error -- callers decide whether to treat it as data or
// escalate it.
type ExecResult struct {
	Stdout     string
	Stderr     string
	ExitCode   int
	DurationMs int64
}

// Conn is a live, logically-multiplexed connection to one host. Concurrent
// Exec calls against the same Conn must not serialize behind each other.
type Conn interface {
	// Exec runs cmd with args on the host.
	Exec(ctx context.Context, cmd string, args []string, opts ExecOptions) (ExecResult, error)

	// CopyIn uploads a local file to the host.
	CopyIn(ctx context.Context, localPath, remotePath string) error

	// CopyOut downloads a file from the host.
	CopyOut(ctx context.Context, remotePath, localPath string) error

	// Dial opens a stream to a port on the host, for stream-level proxying.
	Dial(ctx context.Context, targetPort int) (net.Conn, error)

	// Close releases any underlying connection resources.
	Close() error
}

// HostDescriptor is the subset of model.Server needed to open a Conn,
// decoupled from the model package so hostconn has no upward dependency.
type HostDescriptor struct {
	SSHHost     string
	SSHPort     int
	SSHUser     string
	LocalVMName string
}

// IsLocalVM reports whether this descriptor names a local developer VM.
func (h HostDescriptor) IsLocalVM() bool {
	return h.LocalVMName != ""
}

// Dialer opens a Conn for a host descriptor. One Dialer implementation (the
// PrivateKeyDialer, in ssh.go) covers SSH; a separate one covers local VMs; the
// Pod Orchestrator holds a Dialer and never branches on which it got.
type Dialer interface {
	Open(ctx context.Context, host HostDescriptor) (Conn, error)
}
