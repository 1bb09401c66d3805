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

	"github.com/rogeriochaves/pinacle/pkg/hostconn"
)

// FromHostConn adapts a hostconn.Conn into the narrower HostExecutor this
// package's CLI-backed adapters need.
func FromHostConn(conn hostconn.Conn) HostExecutor {
	return hostConnShim{conn: conn}
}

type hostConnShim struct {
	conn hostconn.Conn
}

func (s hostConnShim) Exec(ctx context.Context, cmd string, args []string, opts HostExecOptions) (HostExecResult, error) {
	res, err := s.conn.Exec(ctx, cmd, args, hostconn.ExecOptions{
		Stdin:   opts.Stdin,
		Timeout: opts.Timeout,
	})
	if err != nil {
		return HostExecResult{}, err
	}
	return HostExecResult{Stdout: res.Stdout, Stderr: res.Stderr, ExitCode: res.ExitCode}, nil
}
