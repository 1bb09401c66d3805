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
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/rogeriochaves/pinacle/pkg/apierrors"
)

func init() {
	Register(Runsc, func(conn HostExecutor) Adapter {
		return &runscAdapter{conn: conn}
	})
}

// runscAdapter talks to gVisor-backed containers through the host's docker
// CLI, invoked with "--runtime=runsc" -- the native
// API/SDK when available, fall back to the runtime CLI otherwise -- no
// docker client library is wired into this module, see DESIGN.md, so the
// CLI path is used for every operation here, always argv-quoted, never
// built by string concatenation).
type runscAdapter struct {
	conn HostExecutor
}

func (a *runscAdapter) run(ctx context.Context, args ...string) (HostExecResult, error) {
	return a.conn.Exec(ctx, "docker", args, HostExecOptions{})
}

func (a *runscAdapter) CreateNetwork(ctx context.Context, podID, subnet string) error {
	name := "pinacle-net-" + podID
	res, err := a.run(ctx, "network", "create", "--driver", "bridge", "--subnet", subnet, name)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 && !strings.Contains(res.Stderr, "already exists") {
		return apierrors.New(apierrors.KindStepFailure, fmt.Sprintf("create network %s: %s", name, res.Stderr))
	}
	return nil
}

func (a *runscAdapter) DestroyNetwork(ctx context.Context, podID string) error {
	name := "pinacle-net-" + podID
	res, err := a.run(ctx, "network", "rm", name)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 && !strings.Contains(res.Stderr, "not found") {
		return apierrors.New(apierrors.KindStepFailure, fmt.Sprintf("destroy network %s: %s", name, res.Stderr))
	}
	return nil
}

func (a *runscAdapter) CreateVolume(ctx context.Context, name string) error {
	res, err := a.run(ctx, "volume", "create", name)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return apierrors.New(apierrors.KindStepFailure, fmt.Sprintf("create volume %s: %s", name, res.Stderr))
	}
	return nil
}

func (a *runscAdapter) RemoveVolume(ctx context.Context, name string) error {
	res, err := a.run(ctx, "volume", "rm", "-f", name)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 && !strings.Contains(res.Stderr, "no such volume") {
		return apierrors.New(apierrors.KindStepFailure, fmt.Sprintf("remove volume %s: %s", name, res.Stderr))
	}
	return nil
}

func (a *runscAdapter) InspectVolume(ctx context.Context, name string) (bool, error) {
	res, err := a.run(ctx, "volume", "inspect", name)
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0, nil
}

// InspectMounts reports the volume mounts docker recorded for containerID,
// narrowed to bind-type "volume" (skipping bind-mounts, tmpfs, etc.).
func (a *runscAdapter) InspectMounts(ctx context.Context, containerID string) ([]Mount, error) {
	res, err := a.run(ctx, "inspect", "--format", "{{json .Mounts}}", containerID)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, apierrors.New(apierrors.KindStepFailure, fmt.Sprintf("inspect mounts %s: %s", containerID, res.Stderr))
	}

	var rows []struct {
		Type        string `json:"Type"`
		Name        string `json:"Name"`
		Destination string `json:"Destination"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(res.Stdout)), &rows); err != nil {
		return nil, errors.Wrap(err, "parse docker inspect mounts json")
	}

	var out []Mount
	for _, r := range rows {
		if r.Type != "volume" {
			continue
		}
		out = append(out, Mount{VolumeName: r.Name, Target: r.Destination})
	}
	return out, nil
}

func (a *runscAdapter) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	args := []string{"create", "--runtime=runsc", "--name", spec.Name}

	if spec.Network != "" {
		args = append(args, "--network", spec.Network)
	}
	if spec.Limits.CPUCores > 0 {
		args = append(args, "--cpus", strconv.FormatFloat(spec.Limits.CPUCores, 'f', -1, 64))
	}
	if spec.Limits.MemoryMB > 0 {
		args = append(args, "--memory", fmt.Sprintf("%dm", spec.Limits.MemoryMB))
	}
	if spec.Limits.PidsCap > 0 {
		args = append(args, "--pids-limit", strconv.Itoa(spec.Limits.PidsCap))
	}
	for _, m := range spec.Mounts {
		mountArg := fmt.Sprintf("type=volume,source=%s,target=%s", m.VolumeName, m.Target)
		if m.ReadOnly {
			mountArg += ",readonly"
		}
		args = append(args, "--mount", mountArg)
	}
	for _, p := range spec.Ports {
		args = append(args, "-p", fmt.Sprintf("%d:%d", p.External, p.Internal))
	}
	for k, v := range spec.Labels {
		args = append(args, "--label", fmt.Sprintf("%s=%s", k, v))
	}
	for _, e := range spec.Env {
		args = append(args, "--env", e)
	}
	args = append(args, spec.Image)
	args = append(args, spec.Command...)

	res, err := a.run(ctx, args...)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", apierrors.New(apierrors.KindStepFailure, fmt.Sprintf("create container %s: %s", spec.Name, res.Stderr))
	}
	return strings.TrimSpace(res.Stdout), nil
}

func (a *runscAdapter) StartContainer(ctx context.Context, containerID string) error {
	res, err := a.run(ctx, "start", containerID)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return apierrors.New(apierrors.KindStepFailure, fmt.Sprintf("start container %s: %s", containerID, res.Stderr))
	}
	return nil
}

func (a *runscAdapter) StopContainer(ctx context.Context, containerID string, gracePeriodSec int) error {
	res, err := a.run(ctx, "stop", "--time", strconv.Itoa(gracePeriodSec), containerID)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 && !strings.Contains(res.Stderr, "No such container") {
		return apierrors.New(apierrors.KindStepFailure, fmt.Sprintf("stop container %s: %s", containerID, res.Stderr))
	}
	return nil
}

func (a *runscAdapter) RemoveContainer(ctx context.Context, containerID string, force bool) error {
	args := []string{"rm"}
	if force {
		args = append(args, "-f")
	}
	args = append(args, containerID)
	res, err := a.run(ctx, args...)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 && !strings.Contains(res.Stderr, "No such container") {
		return apierrors.New(apierrors.KindStepFailure, fmt.Sprintf("remove container %s: %s", containerID, res.Stderr))
	}
	return nil
}

func (a *runscAdapter) ListContainers(ctx context.Context, filter ContainerFilter) ([]ContainerInfo, error) {
	args := []string{"ps", "-a", "--no-trunc", "--format", "{{json .}}"}
	for k, v := range filter.Labels {
		args = append(args, "--filter", fmt.Sprintf("label=%s=%s", k, v))
	}
	res, err := a.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, apierrors.New(apierrors.KindStepFailure, fmt.Sprintf("list containers: %s", res.Stderr))
	}

	var out []ContainerInfo
	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		if line == "" {
			continue
		}
		var row struct {
			ID     string `json:"ID"`
			Names  string `json:"Names"`
			Status string `json:"Status"`
		}
		if err := json.Unmarshal([]byte(line), &row); err != nil {
			return nil, errors.Wrap(err, "parse docker ps json")
		}
		out = append(out, ContainerInfo{ID: row.ID, Name: row.Names, Status: row.Status})
	}
	return out, nil
}

func (a *runscAdapter) Exec(ctx context.Context, containerID string, cmd []string, stdin io.Reader, stdout, stderr io.Writer) (ExecResult, error) {
	args := append([]string{"exec", "-i", containerID}, cmd...)
	res, err := a.conn.Exec(ctx, "docker", args, HostExecOptions{Stdin: stdin})
	if err != nil {
		return ExecResult{}, err
	}
	if stdout != nil {
		io.WriteString(stdout, res.Stdout)
	}
	if stderr != nil {
		io.WriteString(stderr, res.Stderr)
	}
	return ExecResult{ExitCode: res.ExitCode}, nil
}

func (a *runscAdapter) Stats(ctx context.Context, containerID string) (Stats, error) {
	res, err := a.run(ctx, "stats", "--no-stream", "--format", "{{json .}}", containerID)
	if err != nil {
		return Stats{}, err
	}
	if res.ExitCode != 0 {
		return Stats{}, apierrors.New(apierrors.KindStepFailure, fmt.Sprintf("stats %s: %s", containerID, res.Stderr))
	}

	var row struct {
		CPUPerc   string `json:"CPUPerc"`
		MemUsage  string `json:"MemUsage"`
		NetIO     string `json:"NetIO"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(res.Stdout)), &row); err != nil {
		return Stats{}, errors.Wrap(err, "parse docker stats json")
	}

	cpu, _ := strconv.ParseFloat(strings.TrimSuffix(row.CPUPerc, "%"), 64)
	memBytes := parseMemUsage(row.MemUsage)
	rx, tx := parseNetIO(row.NetIO)

	return Stats{CPUPercent: cpu, MemoryBytes: memBytes, NetworkRxByte: rx, NetworkTxByte: tx}, nil
}

// parseMemUsage extracts the "used" side of a "12MiB / 512MiB" field.
func parseMemUsage(s string) int64 {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) == 0 {
		return 0
	}
	return parseByteSize(strings.TrimSpace(parts[0]))
}

// parseNetIO extracts the "rx / tx" pair of a "1.2kB / 0B" field.
func parseNetIO(s string) (int64, int64) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return 0, 0
	}
	return parseByteSize(strings.TrimSpace(parts[0])), parseByteSize(strings.TrimSpace(parts[1]))
}

func parseByteSize(s string) int64 {
	units := []struct {
		suffix string
		mult   float64
	}{
		{"GiB", 1 << 30}, {"MiB", 1 << 20}, {"KiB", 1 << 10},
		{"GB", 1e9}, {"MB", 1e6}, {"kB", 1e3}, {"B", 1},
	}
	for _, u := range units {
		if strings.HasSuffix(s, u.suffix) {
			n, _ := strconv.ParseFloat(strings.TrimSuffix(s, u.suffix), 64)
			return int64(n * u.mult)
		}
	}
	n, _ := strconv.ParseFloat(s, 64)
	return int64(n)
}
