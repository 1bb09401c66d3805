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

package hostconn

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os/exec"
	"time"

	"github.com/pkg/errors"

	"github.com/rogeriochaves/pinacle/pkg/apierrors"
)

// LocalVMDialer dispatches Exec/Copy calls through a local VM-management CLI
// (e.g. a "multipass"/"lima"-style tool) instead of SSH, for hosts that are
// developer VMs running on the same machine as the control plane.
type LocalVMDialer struct {
	// CLIPath is the VM-management binary, e.g. "/usr/local/bin/pinacle-vmctl".
	CLIPath string
}

func (d *LocalVMDialer) Open(ctx context.Context, host HostDescriptor) (Conn, error) {
	if host.LocalVMName == "" {
		return nil, apierrors.New(apierrors.KindInvariant, "localvm dialer given a descriptor with no VM name")
	}
	return &localVMConn{cliPath: d.CLIPath, vmName: host.LocalVMName}, nil
}

type localVMConn struct {
	cliPath string
	vmName  string
}

func (c *localVMConn) Exec(ctx context.Context, cmd string, args []string, opts ExecOptions) (ExecResult, error) {
	argv := append([]string{"exec", c.vmName, "--", cmd}, args...)
	if opts.Dir != "" {
		argv = append([]string{"exec", c.vmName, "--workdir", opts.Dir, "--", cmd}, args...)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// exec.CommandContext builds argv directly -- no shell involved, so no
	// quoting is needed and no argument can be interpreted as shell syntax
	// (the CLI path must be argv-safe).
	command := exec.CommandContext(runCtx, c.cliPath, argv...)
	command.Env = opts.Env
	if opts.Stdin != nil {
		command.Stdin = opts.Stdin
	}

	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	start := time.Now()
	err := command.Run()
	result := ExecResult{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMs: time.Since(start).Milliseconds(),
	}

	if runCtx.Err() == context.DeadlineExceeded {
		result.ExitCode = 124
		return result, nil
	}
	if err == nil {
		result.ExitCode = 0
		return result, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	return ExecResult{}, apierrors.Wrap(apierrors.KindTransient, err, "run local-vm command")
}

func (c *localVMConn) CopyIn(ctx context.Context, localPath, remotePath string) error {
	cmd := exec.CommandContext(ctx, c.cliPath, "copy-in", c.vmName, localPath, remotePath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return apierrors.Wrap(apierrors.KindTransient, err, fmt.Sprintf("local-vm copy-in: %s", stderr.String()))
	}
	return nil
}

func (c *localVMConn) CopyOut(ctx context.Context, remotePath, localPath string) error {
	cmd := exec.CommandContext(ctx, c.cliPath, "copy-out", c.vmName, remotePath, localPath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return apierrors.Wrap(apierrors.KindTransient, err, fmt.Sprintf("local-vm copy-out: %s", stderr.String()))
	}
	return nil
}

// Dial for local VMs connects straight to the loopback-published port: VM
// hosts publish container ports onto the host's own loopback interface
// rather than a routable IP.
func (c *localVMConn) Dial(ctx context.Context, targetPort int) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", fmt.Sprintf("127.0.0.1:%d", targetPort))
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindTransient, err, "dial local-vm port")
	}
	return conn, nil
}

func (c *localVMConn) Close() error {
	return nil
}
