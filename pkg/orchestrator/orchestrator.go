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

// Package orchestrator is the Pod Orchestrator (C3): the state machine that
// composes Host Connection and the Container Runtime Adapter to create,
// start, stop, delete, and rebuild a pod, running the ordered provisioning
// step pipeline and recording structured Pod Log entries as it goes.
//
// Modeled on a controller reconcile-loop shape: a dedicated
// goroutine per in-flight operation, driven to completion or failure, with
// all cross-pod shared state (locks, port allocation) held in small owned
// stores rather than package globals.
package orchestrator

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/rogeriochaves/pinacle/pkg/apierrors"
	"github.com/rogeriochaves/pinacle/pkg/hostconn"
	"github.com/rogeriochaves/pinacle/pkg/model"
	"github.com/rogeriochaves/pinacle/pkg/podlock"
	"github.com/rogeriochaves/pinacle/pkg/runtimeadapter"
	"github.com/rogeriochaves/pinacle/pkg/store"
)

// Default step and total provisioning timeouts.
const (
	DefaultStepTimeout  = 5 * time.Minute
	DefaultTotalTimeout = 20 * time.Minute
)

// TemplateCatalog resolves a template name to its descriptor. The catalog
// contents are out of scope; the orchestrator only consumes
// this lookup.
type TemplateCatalog interface {
	TemplateByName(name string) (model.Template, bool)
}

// Restorer extracts a previously-created snapshot's volumes into a pod's
// live container. Satisfied by *pkg/snapshot.Engine; kept as a narrow
// interface here so Rebuild's tests can substitute a fake without pulling
// in the whole Snapshot Engine.
type Restorer interface {
	Restore(ctx context.Context, podID, snapshotID string) error
}

// Orchestrator drives pod lifecycle operations. All public methods return
// promptly after recording the state transition; the actual work runs on a
// background goroutine spawned internally.
type Orchestrator struct {
	pods      store.PodRepository
	logs      store.PodLogRepository
	servers   store.ServerRepository
	ports     *store.PortAllocator
	locks     *podlock.Store
	dialer    hostconn.Dialer
	templates TemplateCatalog
	restorer  Restorer
	log       *zap.SugaredLogger

	runtimeKind  runtimeadapter.Kind
	stepTimeout  time.Duration
	totalTimeout time.Duration
}

// Option configures an Orchestrator at construction time.
type Option func(*Orchestrator)

// WithRuntimeKind overrides the default runsc runtime adapter, used by tests
// to substitute runtimeadapter.Fake.
func WithRuntimeKind(kind runtimeadapter.Kind) Option {
	return func(o *Orchestrator) { o.runtimeKind = kind }
}

// WithRestorer wires in the Snapshot Engine so Rebuild(fromSnapshot) can
// restore volume contents once the fresh container is up.
func WithRestorer(r Restorer) Option {
	return func(o *Orchestrator) { o.restorer = r }
}

// WithTimeouts overrides the default per-step and total provisioning
// timeouts.
func WithTimeouts(step, total time.Duration) Option {
	return func(o *Orchestrator) {
		o.stepTimeout = step
		o.totalTimeout = total
	}
}

// New constructs an Orchestrator.
func New(
	pods store.PodRepository,
	logs store.PodLogRepository,
	servers store.ServerRepository,
	ports *store.PortAllocator,
	dialer hostconn.Dialer,
	templates TemplateCatalog,
	log *zap.SugaredLogger,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		pods:         pods,
		logs:         logs,
		servers:      servers,
		ports:        ports,
		locks:        podlock.New(),
		dialer:       dialer,
		templates:    templates,
		log:          log,
		runtimeKind:  runtimeadapter.Runsc,
		stepTimeout:  DefaultStepTimeout,
		totalTimeout: DefaultTotalTimeout,
	}
	return o
}

func hostDescriptor(s model.Server) hostconn.HostDescriptor {
	return hostconn.HostDescriptor{
		SSHHost:     s.SSH.Host,
		SSHPort:     s.SSH.Port,
		SSHUser:     s.SSH.User,
		LocalVMName: s.LocalVMName,
	}
}

// connect dials the host a pod lives on and builds the runtime adapter atop
// it.
func (o *Orchestrator) connect(ctx context.Context, hostID string) (hostconn.Conn, runtimeadapter.Adapter, error) {
	server, err := o.servers.Get(ctx, hostID)
	if err != nil {
		return nil, nil, apierrors.Wrap(apierrors.KindNotFound, err, "host not found: "+hostID)
	}
	conn, err := o.dialer.Open(ctx, hostDescriptor(server))
	if err != nil {
		return nil, nil, apierrors.Wrap(apierrors.KindTransient, err, "dial host "+hostID)
	}
	adapter, ok := runtimeadapter.New(o.runtimeKind, runtimeadapter.FromHostConn(conn))
	if !ok {
		conn.Close()
		return nil, nil, apierrors.New(apierrors.KindInvariant, "unregistered runtime kind: "+string(o.runtimeKind))
	}
	return conn, adapter, nil
}

// transitionPod loads the pod, checks the transition is legal, applies the
// mutator, and persists it with optimistic-lock retry against ErrConflict.
// Callers hold the per-pod lock for the duration of the whole operation, so
// the only source of conflicting writers is the asynchronous step pipeline
// updating LastErrorMessage/Status concurrently with a Stop/Delete racing in
// through TryLock -- see Stop/Delete below.
func (o *Orchestrator) transitionPod(ctx context.Context, podID, event string, mutate func(*model.Pod)) (model.Pod, error) {
	p, err := o.pods.GetPod(ctx, podID)
	if err != nil {
		return model.Pod{}, err
	}
	newStatus, ok := canTransition(p.Status, event)
	if !ok {
		return model.Pod{}, apierrors.New(apierrors.KindInvariant,
			"illegal transition "+event+" from "+string(p.Status))
	}
	p.Status = newStatus
	if mutate != nil {
		mutate(&p)
	}
	return o.pods.UpdatePod(ctx, p)
}

// Provision creates a fresh pod's infrastructure and starts it, per
// the same public operation by that name.
func (o *Orchestrator) Provision(ctx context.Context, podID, hostID string) error {
	unlock := o.locks.Lock(podID)
	defer unlock()

	_, err := o.transitionPod(ctx, podID, "BeginProvision", func(p *model.Pod) {
		p.HostID = hostID
	})
	if err != nil {
		return err
	}

	go o.runProvisioning(context.Background(), podID, false, "")
	return nil
}

// Start resumes a stopped pod.
func (o *Orchestrator) Start(ctx context.Context, podID string) error {
	unlock := o.locks.Lock(podID)
	defer unlock()

	if _, err := o.transitionPod(ctx, podID, "Start", nil); err != nil {
		return err
	}

	go o.runProvisioning(context.Background(), podID, true, "")
	return nil
}

// Stop gracefully stops a running pod's container without destroying its
// volumes.
func (o *Orchestrator) Stop(ctx context.Context, podID string) error {
	unlock, ok := o.locks.TryLock(podID)
	if !ok {
		return apierrors.New(apierrors.KindConflict, "pod has a transition already in flight: "+podID)
	}
	defer unlock()

	p, err := o.transitionPod(ctx, podID, "Stop", nil)
	if err != nil {
		return err
	}

	go o.doStop(context.Background(), p)
	return nil
}

func (o *Orchestrator) doStop(ctx context.Context, p model.Pod) {
	unlock := o.locks.Lock(p.ID)
	defer unlock()

	conn, adapter, err := o.connect(ctx, p.HostID)
	if err != nil {
		o.failPod(ctx, p.ID, err)
		return
	}
	defer conn.Close()

	if err := adapter.StopContainer(ctx, p.ContainerID, 30); err != nil {
		o.failPod(ctx, p.ID, err)
		return
	}

	if _, err := o.transitionPod(ctx, p.ID, "Stopped", nil); err != nil {
		o.log.Errorw("stop: finalize transition failed", "podId", p.ID, zap.Error(err))
	}
}

// Delete tears down a pod's container, network, and volumes.
func (o *Orchestrator) Delete(ctx context.Context, podID string) error {
	unlock, ok := o.locks.TryLock(podID)
	if !ok {
		return apierrors.New(apierrors.KindConflict, "pod has a transition already in flight: "+podID)
	}
	defer unlock()

	p, err := o.pods.GetPod(ctx, podID)
	if err != nil {
		return err
	}
	// Delete is reachable from running, stopped, or error.
	newStatus, ok := canTransition(p.Status, "Delete")
	if !ok {
		return apierrors.New(apierrors.KindInvariant, "illegal transition Delete from "+string(p.Status))
	}
	p.Status = newStatus
	p, err = o.pods.UpdatePod(ctx, p)
	if err != nil {
		return err
	}

	go o.doDelete(context.Background(), p)
	return nil
}

func (o *Orchestrator) doDelete(ctx context.Context, p model.Pod) {
	unlock := o.locks.Lock(p.ID)
	defer unlock()

	conn, adapter, err := o.connect(ctx, p.HostID)
	if err != nil {
		o.failPod(ctx, p.ID, err)
		return
	}
	defer conn.Close()

	if p.ContainerID != "" {
		if err := adapter.RemoveContainer(ctx, p.ContainerID, true); err != nil {
			o.log.Warnw("delete: remove container failed, continuing", "podId", p.ID, zap.Error(err))
		}
	}
	for _, name := range model.CanonicalVolumeNames {
		if err := adapter.RemoveVolume(ctx, model.VolumeName(p.ID, name)); err != nil {
			o.log.Warnw("delete: remove volume failed, continuing", "podId", p.ID, "volume", name, zap.Error(err))
		}
	}
	if err := adapter.DestroyNetwork(ctx, p.ID); err != nil {
		o.log.Warnw("delete: destroy network failed, continuing", "podId", p.ID, zap.Error(err))
	}
	for _, pm := range p.Ports {
		o.ports.Release(p.HostID, pm.External)
	}

	now := time.Now()
	p.ArchivedAt = &now
	if _, err := o.pods.UpdatePod(ctx, p); err != nil {
		o.log.Errorw("delete: finalize archive failed", "podId", p.ID, zap.Error(err))
	}
}

// Rebuild destroys and recreates a pod's container while preserving its
// named volumes, optionally restoring fromSnapshot first. Port values may
// change; volume contents are untouched by Rebuild
// itself.
func (o *Orchestrator) Rebuild(ctx context.Context, podID string, fromSnapshot string) error {
	unlock := o.locks.Lock(podID)
	defer unlock()

	p, err := o.pods.GetPod(ctx, podID)
	if err != nil {
		return err
	}

	conn, adapter, err := o.connect(ctx, p.HostID)
	if err != nil {
		return err
	}
	defer conn.Close()

	if p.ContainerID != "" {
		if err := adapter.RemoveContainer(ctx, p.ContainerID, true); err != nil {
			return errors.Wrap(err, "rebuild: remove old container")
		}
	}
	for _, pm := range p.Ports {
		o.ports.Release(p.HostID, pm.External)
	}
	p.ContainerID = ""
	p.Ports = nil
	p.Status = model.PodCreating
	p, err = o.pods.UpdatePod(ctx, p)
	if err != nil {
		return err
	}

	if _, err := o.transitionPod(ctx, podID, "BeginProvision", nil); err != nil {
		return err
	}

	go o.runProvisioning(context.Background(), podID, false, fromSnapshot)
	return nil
}

// Retry re-invokes the provisioning pipeline from the first non-succeeded
// step, along the error->Retry->provisioning edge.
func (o *Orchestrator) Retry(ctx context.Context, podID string) error {
	unlock := o.locks.Lock(podID)
	defer unlock()

	if _, err := o.transitionPod(ctx, podID, "Retry", func(p *model.Pod) {
		p.LastErrorMessage = ""
	}); err != nil {
		return err
	}

	go o.runProvisioning(context.Background(), podID, false, "")
	return nil
}

// failPod records err as the pod's terminal failure and transitions it to
// error. Called from background goroutines only, always under the per-pod
// lock.
func (o *Orchestrator) failPod(ctx context.Context, podID string, cause error) {
	p, err := o.pods.GetPod(ctx, podID)
	if err != nil {
		o.log.Errorw("failPod: pod vanished", "podId", podID, zap.Error(err))
		return
	}
	newStatus, ok := canTransition(p.Status, "Fail")
	if !ok {
		newStatus = model.PodError
	}
	p.Status = newStatus
	p.LastErrorMessage = cause.Error()
	if _, err := o.pods.UpdatePod(ctx, p); err != nil {
		o.log.Errorw("failPod: persist failure failed", "podId", podID, zap.Error(err))
	}
}
