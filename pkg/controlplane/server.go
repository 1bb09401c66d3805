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

// Package controlplane is the Control Plane API (C5): the HTTP surface host
// agents and operator tooling talk to, wiring the persistence model, the pod
// orchestrator, and the snapshot engine behind a capacity-aware host
// selector. Routing is a plain http.ServeMux, health checks are
// heptiolabs/healthcheck, and metrics are prometheus/client_golang -- the
// same shape as a util HTTP server exposing /metrics, /live, /ready.
package controlplane

import (
	"context"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rogeriochaves/pinacle/pkg/model"
	"github.com/rogeriochaves/pinacle/pkg/prxtoken"
	"github.com/rogeriochaves/pinacle/pkg/snapshot"
	"github.com/rogeriochaves/pinacle/pkg/store"
)

// HeartbeatStaleThreshold is how long a Server may go without a heartbeat
// before it is considered offline.
const HeartbeatStaleThreshold = 90 * time.Second

// PodOrchestrator is the subset of *orchestrator.Orchestrator the control
// plane drives; kept narrow so handlers can be tested against a fake.
type PodOrchestrator interface {
	Provision(ctx context.Context, podID, hostID string) error
	Start(ctx context.Context, podID string) error
	Stop(ctx context.Context, podID string) error
	Delete(ctx context.Context, podID string) error
	Rebuild(ctx context.Context, podID string, fromSnapshot string) error
	Retry(ctx context.Context, podID string) error
}

// Server wires the persistence model, orchestrator, and snapshot engine into
// one HTTP handler.
type Server struct {
	servers    store.ServerRepository
	pods       store.PodRepository
	logs       store.PodLogRepository
	snapshots  store.SnapshotRepository
	metrics    store.MetricsRepository

	orchestrator   PodOrchestrator
	snapshotEngine *snapshot.Engine
	proxySigner    *prxtoken.Signer

	apiKey string

	log *zap.SugaredLogger

	health healthcheck.Handler
}

// New constructs a Server. snapshotEngine may be nil if the binary does not
// expose snapshot endpoints; proxySigner may be nil if it does not expose
// the proxy-auth endpoint. apiKey is the static key host agents present in
// X-Api-Key; an empty apiKey disables the check (used by tests).
func New(
	servers store.ServerRepository,
	pods store.PodRepository,
	logs store.PodLogRepository,
	snapshots store.SnapshotRepository,
	metrics store.MetricsRepository,
	orch PodOrchestrator,
	snapshotEngine *snapshot.Engine,
	proxySigner *prxtoken.Signer,
	apiKey string,
	log *zap.SugaredLogger,
) *Server {
	s := &Server{
		servers:        servers,
		pods:           pods,
		logs:           logs,
		snapshots:      snapshots,
		metrics:        metrics,
		orchestrator:   orch,
		snapshotEngine: snapshotEngine,
		proxySigner:    proxySigner,
		apiKey:         apiKey,
		log:            log,
		health:         healthcheck.NewHandler(),
	}
	s.health.AddReadinessCheck("store-reachable", func() error {
		_, err := s.servers.List(context.Background())
		return err
	})
	return s
}

// Handler builds the full routed http.Handler for this Server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/register", s.requireAPIKey(s.handleRegisterServer))
	mux.HandleFunc("/heartbeat", s.requireAPIKey(s.handleHeartbeat))
	mux.HandleFunc("/metrics-report", s.requireAPIKey(s.handleReportMetrics))

	mux.HandleFunc("/pods", s.handleCreatePod)
	mux.HandleFunc("/pods/start", s.handleStartPod)
	mux.HandleFunc("/pods/stop", s.handleStopPod)
	mux.HandleFunc("/pods/delete", s.handleDeletePod)
	mux.HandleFunc("/pods/rebuild", s.handleRebuildPod)
	mux.HandleFunc("/pods/retry", s.handleRetryProvisioning)
	mux.HandleFunc("/pods/status", s.handleGetPodStatusWithLogs)
	mux.HandleFunc("/pods/snapshot", s.handleCreateSnapshot)

	mux.HandleFunc("/v1/proxy-auth", s.handleProxyAuth)

	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/live", http.HandlerFunc(s.health.LiveEndpoint))
	mux.Handle("/ready", http.HandlerFunc(s.health.ReadyEndpoint))

	return mux
}

// requireAPIKey rejects host-agent requests that don't present the
// configured static key in X-Api-Key.
func (s *Server) requireAPIKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" && r.Header.Get("X-Api-Key") != s.apiKey {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid or missing X-Api-Key"})
			return
		}
		next(w, r)
	}
}

// NewHTTPServer builds the *http.Server with the same timeouts as the rest
// of this module's binaries.
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// RunStaleHostSweep flips online Servers past HeartbeatStaleThreshold to
// offline every interval, until ctx is canceled.
func (s *Server) RunStaleHostSweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepStaleHosts(ctx)
		}
	}
}

func (s *Server) sweepStaleHosts(ctx context.Context) {
	servers, err := s.servers.List(ctx)
	if err != nil {
		s.log.Warnw("stale host sweep: list failed", zap.Error(err))
		return
	}
	cutoff := time.Now().Add(-HeartbeatStaleThreshold)
	for _, srv := range servers {
		if srv.Status == model.ServerOffline {
			continue
		}
		if srv.LastHeartbeatAt.Before(cutoff) {
			if err := s.servers.SetStatus(ctx, srv.ID, model.ServerOffline); err != nil {
				s.log.Warnw("stale host sweep: mark offline failed", "serverId", srv.ID, zap.Error(err))
				continue
			}
			s.log.Infow("host marked offline by stale sweep", "serverId", srv.ID)
		}
	}
}
