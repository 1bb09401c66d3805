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

package hostagent

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"github.com/pkg/errors"

	"github.com/rogeriochaves/pinacle/pkg/apierrors"
	"github.com/rogeriochaves/pinacle/pkg/runtimeadapter"
)

// localExecutor runs commands directly on the host the agent is itself
// running on -- no SSH hop, no VM-management CLI, since the host agent is
// always colocated with the runtime it drives.
type localExecutor struct{}

func (localExecutor) Exec(ctx context.Context, cmd string, args []string, opts runtimeadapter.HostExecOptions) (runtimeadapter.HostExecResult, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	command := exec.CommandContext(runCtx, cmd, args...)
	if opts.Stdin != nil {
		command.Stdin = opts.Stdin
	}
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	err := command.Run()
	result := runtimeadapter.HostExecResult{Stdout: stdout.String(), Stderr: stderr.String()}

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
	return runtimeadapter.HostExecResult{}, apierrors.Wrap(apierrors.KindTransient, err, "run local command")
}

// NewAdapter builds the runtime adapter the host agent uses to enumerate and
// inspect containers on its own host.
func NewAdapter(kind runtimeadapter.Kind) (runtimeadapter.Adapter, bool) {
	return runtimeadapter.New(kind, localExecutor{})
}
