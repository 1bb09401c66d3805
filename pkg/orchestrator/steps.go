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

package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/rogeriochaves/pinacle/pkg/apierrors"
	"github.com/rogeriochaves/pinacle/pkg/hostconn"
	"github.com/rogeriochaves/pinacle/pkg/model"
	"github.com/rogeriochaves/pinacle/pkg/runtimeadapter"
	"github.com/rogeriochaves/pinacle/pkg/store"
)

// provisionContext carries everything a step needs and is also the template
// data provisioning scripts are rendered against.
type provisionContext struct {
	Pod            *model.Pod
	Template       model.Template
	Conn           hostconn.Conn
	Adapter        runtimeadapter.Adapter
	Ports          *store.PortAllocator
	Restorer       Restorer
	FromSnapshotID string
}

// stepResult is what a step reports back to the pipeline runner.
type stepResult struct {
	command          string
	containerCommand string
	stdout           string
	stderr           string
	exitCode         int
	err              error
}

func ok(cmd string) stepResult                 { return stepResult{command: cmd, exitCode: 0} }
func fail(cmd string, err error) stepResult    { return stepResult{command: cmd, exitCode: 1, err: err} }

// provisionStep is one named, ordered, idempotent unit of the pipeline.
// A step with skipOnResume set is skipped when resuming a previously-running
// pod via Start, so template-install steps do not run again on subsequent
// starts.
type provisionStep struct {
	label           string
	skipOnResume    bool
	run             func(ctx context.Context, pc *provisionContext) stepResult
}

func provisioningSteps() []provisionStep {
	return []provisionStep{
		{label: "ensure-runtime-images", run: stepEnsureImages},
		{label: "create-network", run: stepCreateNetwork},
		{label: "create-volumes", run: stepCreateVolumes},
		{label: "allocate-ports", run: stepAllocatePorts},
		{label: "create-container", skipOnResume: true, run: stepCreateContainer},
		{label: "restore-snapshot", skipOnResume: true, run: stepRestoreSnapshot},
		{label: "start-container", run: stepStartContainer},
		{label: "write-bootstrap-files", skipOnResume: true, run: stepWriteBootstrapFiles},
		{label: "install-services", skipOnResume: true, run: stepInstallServices},
		{label: "post-install-hook", skipOnResume: true, run: stepPostInstallHook},
		{label: "healthcheck-nginx-proxy", run: stepHealthcheck},
		{label: "pre-snapshot-hook-noop", skipOnResume: true, run: stepPreSnapshotHookNoop},
	}
}

// runProvisioning executes the step pipeline for podID from the first
// non-succeeded step -- a retry starts from the first step
// whose last record has exitCode != 0 OR in-flight"), recording one Pod Log
// per step, then transitions the pod to running or error.
func (o *Orchestrator) runProvisioning(ctx context.Context, podID string, resuming bool, fromSnapshot string) {
	unlock := o.locks.Lock(podID)
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, o.totalTimeout)
	defer cancel()

	p, err := o.pods.GetPod(ctx, podID)
	if err != nil {
		o.log.Errorw("runProvisioning: pod vanished", "podId", podID, zap.Error(err))
		return
	}

	tmpl, ok := o.templates.TemplateByName(p.Template)
	if !ok {
		o.failPod(ctx, podID, apierrors.New(apierrors.KindInvariant, "unknown template: "+p.Template))
		return
	}

	conn, adapter, err := o.connect(ctx, p.HostID)
	if err != nil {
		o.failPod(ctx, podID, err)
		return
	}
	defer conn.Close()

	pc := &provisionContext{
		Pod: &p, Template: tmpl, Conn: conn, Adapter: adapter, Ports: o.ports,
		Restorer: o.restorer, FromSnapshotID: fromSnapshot,
	}

	completed, err := o.completedStepCount(ctx, podID)
	if err != nil {
		o.log.Warnw("runProvisioning: could not inspect prior logs, restarting from step 0", "podId", podID, zap.Error(err))
		completed = 0
	}

	steps := provisioningSteps()
	for i, step := range steps {
		if i < completed {
			continue
		}
		if resuming && step.skipOnResume {
			continue
		}

		stepCtx, stepCancel := context.WithTimeout(ctx, o.stepTimeout)
		start := time.Now()
		res := step.run(stepCtx, pc)
		duration := time.Since(start)
		stepCancel()

		exitCode := res.exitCode
		if stepCtx.Err() == context.DeadlineExceeded {
			exitCode = 124
			if res.err == nil {
				res.err = apierrors.New(apierrors.KindTransient, "step timed out: "+step.label)
			}
		}

		o.recordStep(context.Background(), podID, step.label, res, exitCode, duration)

		if res.err != nil || exitCode != 0 {
			wrapped := apierrors.Wrap(apierrors.KindStepFailure, res.err, "step failed: "+step.label)
			o.failPod(context.Background(), podID, wrapped)
			return
		}

		// Persist whatever the step mutated on pc.Pod (ContainerID, Ports)
		// immediately, so a crash between steps resumes from durable state
		// and Stop/Delete racing in via TryLock see up-to-date fields.
		saved, err := o.pods.UpdatePod(context.Background(), *pc.Pod)
		if err != nil {
			o.failPod(context.Background(), podID, apierrors.Wrap(apierrors.KindConflict, err, "persist step result: "+step.label))
			return
		}
		*pc.Pod = saved
	}

	if _, err := o.transitionPod(context.Background(), podID, "AllStepsOk", nil); err != nil {
		o.log.Errorw("runProvisioning: finalize transition failed", "podId", podID, zap.Error(err))
	}
}

// completedStepCount scans the pod's logs and returns how many leading
// steps, in pipeline order, have a final successful record -- the resume
// point for Retry/Start.
func (o *Orchestrator) completedStepCount(ctx context.Context, podID string) (int, error) {
	logs, err := o.logs.ListAfter(ctx, podID, 0)
	if err != nil {
		return 0, err
	}
	byLabel := map[string]model.PodLog{}
	for _, l := range logs {
		byLabel[l.Label] = l // last write per label wins: logs are appended in step order.
	}
	count := 0
	for _, step := range provisioningSteps() {
		l, ok := byLabel[step.label]
		if !ok || l.InFlight() || l.Failed() {
			break
		}
		count++
	}
	return count, nil
}

func (o *Orchestrator) recordStep(ctx context.Context, podID, label string, res stepResult, exitCode int, duration time.Duration) {
	ec := exitCode
	entry := model.PodLog{
		PodID:            podID,
		Timestamp:        time.Now(),
		Label:            label,
		Command:          res.command,
		ContainerCommand: res.containerCommand,
		Stdout:           res.stdout,
		Stderr:           res.stderr,
		ExitCode:         &ec,
		Duration:         duration,
	}
	if _, err := o.logs.Append(ctx, entry); err != nil {
		o.log.Errorw("recordStep: append log failed", "podId", podID, "label", label, zap.Error(err))
	}
}

// -- individual steps ----------------------------------------------------

func stepEnsureImages(ctx context.Context, pc *provisionContext) stepResult {
	// Idempotent by construction: CreateContainer below pulls the image
	// implicitly if the runtime CLI supports it, matching the "thin
	// binding guidance of not duplicating runtime behavior
	// the CLI already provides. This step exists as its own Pod Log record
	// so a slow/failed pull is attributable on its own line.
	return ok("ensure-runtime-images")
}

func stepCreateNetwork(ctx context.Context, pc *provisionContext) stepResult {
	subnet := podSubnet(pc.Pod.ID)
	if err := pc.Adapter.CreateNetwork(ctx, pc.Pod.ID, subnet); err != nil {
		return fail("create-network "+pc.Pod.ID, err)
	}
	return ok(fmt.Sprintf("create-network %s %s", pc.Pod.ID, subnet))
}

func stepCreateVolumes(ctx context.Context, pc *provisionContext) stepResult {
	for _, name := range model.CanonicalVolumeNames {
		volName := model.VolumeName(pc.Pod.ID, name)
		if err := pc.Adapter.CreateVolume(ctx, volName); err != nil {
			return fail("create-volume "+volName, err)
		}
	}
	return ok("create-volumes")
}

func stepAllocatePorts(ctx context.Context, pc *provisionContext) stepResult {
	wanted := make([]model.PortMapping, 0, len(pc.Template.Ports)+1)
	wanted = append(wanted, model.PortMapping{Name: model.NginxProxyPortName, Internal: 80})
	wanted = append(wanted, pc.Template.Ports...)

	ports := make([]model.PortMapping, 0, len(wanted))
	for _, pm := range wanted {
		external, err := pc.Ports.Allocate(ctx, pc.Pod.HostID)
		if err != nil {
			for _, allocated := range ports {
				pc.Ports.Release(pc.Pod.HostID, allocated.External)
			}
			return fail("allocate-ports "+pm.Name, err)
		}
		pm.External = external
		ports = append(ports, pm)
	}

	pc.Pod.Ports = ports
	return ok("allocate-ports")
}

func stepCreateContainer(ctx context.Context, pc *provisionContext) stepResult {
	tier, ok := model.TierByName(pc.Pod.Tier)
	if !ok {
		return fail("create-container", apierrors.New(apierrors.KindInvariant, "unknown tier: "+pc.Pod.Tier))
	}

	mounts := make([]runtimeadapter.Mount, 0, len(model.CanonicalVolumeNames))
	for _, name := range model.CanonicalVolumeNames {
		mounts = append(mounts, runtimeadapter.Mount{
			VolumeName: model.VolumeName(pc.Pod.ID, name),
			Target:     volumeTarget(name),
		})
	}

	ports := make([]runtimeadapter.PublishedPort, 0, len(pc.Pod.Ports))
	for _, pm := range pc.Pod.Ports {
		ports = append(ports, runtimeadapter.PublishedPort{External: pm.External, Internal: pm.Internal})
	}

	spec := runtimeadapter.ContainerSpec{
		Name:  model.ContainerName(pc.Pod.ID),
		Image: pc.Template.Image,
		Limits: runtimeadapter.ResourceLimits{
			CPUCores:  tier.CPUCores,
			MemoryMB:  tier.MemoryMB,
			PidsCap:   512,
			StorageMB: tier.StorageMB,
		},
		Mounts:  mounts,
		Network: model.NetworkName(pc.Pod.ID),
		Ports:   ports,
		Labels: map[string]string{
			"podId": pc.Pod.ID,
			"role":  "pod",
		},
	}

	containerID, err := pc.Adapter.CreateContainer(ctx, spec)
	if err != nil {
		return fail("create-container "+spec.Name, err)
	}
	pc.Pod.ContainerID = containerID
	return ok("create-container " + spec.Name)
}

func stepStartContainer(ctx context.Context, pc *provisionContext) stepResult {
	if err := pc.Adapter.StartContainer(ctx, pc.Pod.ContainerID); err != nil {
		return fail("start-container "+pc.Pod.ContainerID, err)
	}
	return ok("start-container " + pc.Pod.ContainerID)
}

func stepRestoreSnapshot(ctx context.Context, pc *provisionContext) stepResult {
	if pc.FromSnapshotID == "" {
		return ok("restore-snapshot (none requested)")
	}
	if pc.Restorer == nil {
		return fail("restore-snapshot "+pc.FromSnapshotID, apierrors.New(apierrors.KindInvariant, "no Restorer configured"))
	}
	if err := pc.Restorer.Restore(ctx, pc.Pod.ID, pc.FromSnapshotID); err != nil {
		return fail("restore-snapshot "+pc.FromSnapshotID, err)
	}
	return ok("restore-snapshot " + pc.FromSnapshotID)
}

func stepWriteBootstrapFiles(ctx context.Context, pc *provisionContext) stepResult {
	for path, content := range pc.Template.BootstrapFiles {
		rendered, err := renderTemplate(zap.NewNop().Sugar(), path, content, pc)
		if err != nil {
			return fail("write-bootstrap-file "+path, err)
		}
		cmd := []string{"sh", "-c", "cat > " + shellSingleQuote(path)}
		res, err := pc.Adapter.Exec(ctx, pc.Pod.ContainerID, cmd, bytesReader(rendered), nil, nil)
		if err != nil {
			return fail("write-bootstrap-file "+path, err)
		}
		if res.ExitCode != 0 {
			return stepResult{command: "write-bootstrap-file " + path, containerCommand: cmd[2], exitCode: res.ExitCode}
		}
	}
	return ok("write-bootstrap-files")
}

func stepInstallServices(ctx context.Context, pc *provisionContext) stepResult {
	for _, svc := range pc.Template.Services {
		cmd := []string{"sh", "-c", "pinacle-install-service " + shellSingleQuote(svc)}
		res, err := pc.Adapter.Exec(ctx, pc.Pod.ContainerID, cmd, nil, nil, nil)
		if err != nil {
			return fail("install-service "+svc, err)
		}
		if res.ExitCode != 0 {
			return stepResult{command: "install-service " + svc, containerCommand: cmd[2], exitCode: res.ExitCode}
		}
	}
	return ok("install-services")
}

func stepPostInstallHook(ctx context.Context, pc *provisionContext) stepResult {
	if pc.Template.PostInstallHook == "" {
		return ok("post-install-hook (none)")
	}
	cmd := []string{"sh", "-c", pc.Template.PostInstallHook}
	res, err := pc.Adapter.Exec(ctx, pc.Pod.ContainerID, cmd, nil, nil, nil)
	if err != nil {
		return fail("post-install-hook", err)
	}
	if res.ExitCode != 0 {
		return stepResult{command: "post-install-hook", containerCommand: pc.Template.PostInstallHook, exitCode: res.ExitCode}
	}
	return ok("post-install-hook")
}

func stepHealthcheck(ctx context.Context, pc *provisionContext) stepResult {
	pm, found := pc.Pod.Port(model.NginxProxyPortName)
	if !found {
		return fail("healthcheck-nginx-proxy", apierrors.New(apierrors.KindInvariant, "nginx-proxy port not allocated"))
	}

	client := &http.Client{Timeout: 5 * time.Second}
	url := fmt.Sprintf("http://127.0.0.1:%d/", pm.External)

	for {
		resp, err := client.Get(url)
		if err == nil {
			resp.Body.Close()
			return ok("healthcheck " + url)
		}

		select {
		case <-ctx.Done():
			return fail("healthcheck "+url, ctx.Err())
		case <-time.After(time.Second):
		}
	}
}

// stepPreSnapshotHookNoop is step 11 (SPEC_FULL §9 open question): a no-op
// placeholder that exists purely so the pipeline always has a final step
// whose log record documents whether a pre-snapshot hook is configured.
// The Snapshot Engine invokes Template.PreSnapshotHook directly before
// export; this step never runs it itself.
func stepPreSnapshotHookNoop(ctx context.Context, pc *provisionContext) stepResult {
	if pc.Template.PreSnapshotHook == "" {
		return ok("pre-snapshot-hook-noop (none configured)")
	}
	return ok("pre-snapshot-hook-noop (configured: will run before snapshot create)")
}

// -- small helpers ---------------------------------------------------------

func podSubnet(podID string) string {
	// Deterministic /29 within the private range, derived from a hash of
	// podID so concurrently-provisioned pods don't collide.
	h := fnv32(podID)
	a := byte(h >> 8)
	b := byte(h) &^ 0x07 // third octet, rounded down to a multiple of 8.
	return fmt.Sprintf("10.%d.%d.0/29", a, b)
}

func fnv32(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

func volumeTarget(name string) string {
	switch name {
	case "workspace":
		return "/workspace"
	case "home":
		return "/home"
	case "root":
		return "/root"
	case "etc":
		return "/etc"
	case "usr-local":
		return "/usr/local"
	case "opt":
		return "/opt"
	case "var":
		return "/var"
	case "srv":
		return "/srv"
	default:
		return "/mnt/" + name
	}
}

func shellSingleQuote(s string) string {
	return "'" + replaceAllQuotes(s) + "'"
}

func replaceAllQuotes(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'', '\\', '\'', '\'')
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}

func bytesReader(s string) *bytes.Reader {
	return bytes.NewReader([]byte(s))
}
