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
	"context"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rogeriochaves/pinacle/pkg/apierrors"
	"github.com/rogeriochaves/pinacle/pkg/runtimeadapter"
)

// Target is one control-plane endpoint this agent reports to. A host agent
// normally has one primary target; DEV_API_URL/DEV_API_KEY adds a second,
// best-effort one so a developer can shadow-test a second control plane
// without the primary registration path depending on it.
type Target struct {
	Name   string
	Client *Client
}

// Agent drives the registration/heartbeat/metrics-report loop against one
// or more Targets.
type Agent struct {
	ServerID  string
	Hostname  string
	IPAddress string
	CPUCores  int
	MemoryMB  int64
	DiskGB    int64
	SSHHost   string
	SSHPort   int
	SSHUser   string

	RuntimeKind runtimeadapter.Kind
	DiskPath    string

	Targets []Target

	log *zap.SugaredLogger

	collector       *Collector
	lastSuccessAt   time.Time
}

// NewAgent constructs an Agent ready to Run. hostname/ipAddress/cpu/mem/disk
// describe this host's static capacity, reported once at registration and
// again on every heartbeat-triggered re-register.
func NewAgent(serverID, hostname, ipAddress string, cpuCores int, memoryMB, diskGB int64, sshHost string, sshPort int, sshUser string, runtimeKind runtimeadapter.Kind, diskPath string, targets []Target, log *zap.SugaredLogger) *Agent {
	return &Agent{
		ServerID:    serverID,
		Hostname:    hostname,
		IPAddress:   ipAddress,
		CPUCores:    cpuCores,
		MemoryMB:    memoryMB,
		DiskGB:      diskGB,
		SSHHost:     sshHost,
		SSHPort:     sshPort,
		SSHUser:     sshUser,
		RuntimeKind: runtimeKind,
		DiskPath:    diskPath,
		Targets:     targets,
		log:         log,
		collector:   NewCollector(diskPath),
	}
}

func (a *Agent) registerPayload() registerPayload {
	return registerPayload{
		ID:        a.ServerID,
		Hostname:  a.Hostname,
		IPAddress: a.IPAddress,
		CPUCores:  a.CPUCores,
		MemoryMB:  a.MemoryMB,
		DiskGB:    a.DiskGB,
		SSHHost:   a.SSHHost,
		SSHPort:   a.SSHPort,
		SSHUser:   a.SSHUser,
	}
}

// RegisterAll registers with every target, logging (not failing) on
// secondary-target errors.
func (a *Agent) RegisterAll(ctx context.Context) error {
	var firstErr error
	for i, t := range a.Targets {
		if err := t.Client.Register(ctx, a.registerPayload()); err != nil {
			a.log.Warnw("register failed", "target", t.Name, zap.Error(err))
			if i == 0 && firstErr == nil {
				firstErr = err
			}
			continue
		}
		a.log.Infow("registered", "target", t.Name, "serverId", a.ServerID)
	}
	return firstErr
}

// podContainers enumerates this host's pod workload containers via the
// configured runtime adapter.
func (a *Agent) podContainers(ctx context.Context) ([]runtimeadapter.ContainerInfo, error) {
	adapter, ok := NewAdapter(a.RuntimeKind)
	if !ok {
		return nil, apierrors.New(apierrors.KindInvariant, "unregistered runtime kind: "+string(a.RuntimeKind))
	}
	return adapter.ListContainers(ctx, runtimeadapter.ContainerFilter{Labels: map[string]string{"role": "pod"}})
}

func podIDFromContainerName(name string) string {
	const prefix = "pinacle-pod-"
	if !strings.HasPrefix(name, prefix) {
		return ""
	}
	return strings.TrimPrefix(name, prefix)
}

// collectPodMetrics samples every local pod container's resource usage.
func (a *Agent) collectPodMetrics(ctx context.Context) ([]podMetricsPayload, error) {
	adapter, ok := NewAdapter(a.RuntimeKind)
	if !ok {
		return nil, apierrors.New(apierrors.KindInvariant, "unregistered runtime kind: "+string(a.RuntimeKind))
	}
	containers, err := adapter.ListContainers(ctx, runtimeadapter.ContainerFilter{Labels: map[string]string{"role": "pod"}})
	if err != nil {
		return nil, err
	}

	samples := make([]podMetricsPayload, 0, len(containers))
	for _, c := range containers {
		podID := c.Labels["podId"]
		if podID == "" {
			podID = podIDFromContainerName(c.Name)
		}
		if podID == "" {
			continue
		}
		stats, err := adapter.Stats(ctx, c.ID)
		if err != nil {
			a.log.Warnw("stats failed for container", "containerId", c.ID, zap.Error(err))
			continue
		}
		samples = append(samples, podMetricsPayload{
			PodID:           podID,
			ContainerID:     c.ID,
			CPUUsagePercent: stats.CPUPercent,
			MemoryUsageMB:   stats.MemoryBytes / (1024 * 1024),
			NetworkRxBytes:  stats.NetworkRxByte,
			NetworkTxBytes:  stats.NetworkTxByte,
		})
	}
	return samples, nil
}

// reportOnce collects host + pod stats and posts them to every target,
// re-registering and retrying once against a target that returns 404
// (its server row was lost, e.g. a control-plane reseed).
func (a *Agent) reportOnce(ctx context.Context) {
	host, err := a.collector.CollectHost()
	if err != nil {
		a.log.Errorw("collect host stats failed", zap.Error(err))
		return
	}
	podMetrics, err := a.collectPodMetrics(ctx)
	if err != nil {
		a.log.Warnw("collect pod metrics failed", zap.Error(err))
	}

	payload := reportMetricsPayload{
		ServerID:        a.ServerID,
		CPUUsagePercent: host.CPUUsagePercent,
		MemoryUsageMB:   host.MemoryUsageMB,
		DiskUsageGB:     host.DiskUsageGB,
		ActivePodsCount: len(podMetrics),
		PodMetrics:      podMetrics,
	}

	for _, t := range a.Targets {
		if err := t.Client.Heartbeat(ctx, a.ServerID); err != nil {
			if apierrors.Is(err, apierrors.KindNotFound) {
				a.log.Warnw("heartbeat 404, re-registering then retrying once", "target", t.Name)
				if rerr := t.Client.Register(ctx, a.registerPayload()); rerr != nil {
					a.log.Warnw("re-register failed", "target", t.Name, zap.Error(rerr))
					continue
				}
				if err := t.Client.Heartbeat(ctx, a.ServerID); err != nil {
					a.log.Warnw("heartbeat retry failed", "target", t.Name, zap.Error(err))
					continue
				}
			} else {
				a.log.Warnw("heartbeat failed", "target", t.Name, zap.Error(err))
				continue
			}
		}

		if err := t.Client.ReportMetrics(ctx, payload); err != nil {
			a.log.Warnw("report metrics failed", "target", t.Name, zap.Error(err))
			continue
		}
		if t.Name == "primary" {
			a.lastSuccessAt = time.Now()
		}
	}
}

// LastSuccessAt is when the primary target last accepted a metrics report,
// used by the /healthz check.
func (a *Agent) LastSuccessAt() time.Time {
	return a.lastSuccessAt
}

// Run loops reportOnce every interval until ctx is canceled.
func (a *Agent) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.reportOnce(ctx)
		}
	}
}

// DefaultRuntimeKind is runsc unless the platform genuinely can't run it
// (tests on non-Linux hosts substitute a fake adapter instead).
func DefaultRuntimeKind() runtimeadapter.Kind {
	if runtime.GOOS != "linux" {
		return runtimeadapter.Fake
	}
	return runtimeadapter.Runsc
}
