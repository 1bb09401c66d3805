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
	"io"
	"time"
)

// HostExecutor is the narrow slice of hostconn.Conn that a CLI-backed
// Adapter needs. Declaring it locally (rather than importing pkg/hostconn)
// keeps this package usable against any command runner, including the fake
// adapter's in-memory test double.
type HostExecutor interface {
	Exec(ctx context.Context, cmd string, args []string, opts HostExecOptions) (HostExecResult, error)
}

// HostExecOptions mirrors hostconn.ExecOptions.
type HostExecOptions struct {
	Stdin   io.Reader
	Timeout time.Duration
}

// HostExecResult mirrors hostconn.ExecResult.
type HostExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}
