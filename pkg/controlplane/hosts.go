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

package controlplane

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/rogeriochaves/pinacle/pkg/apierrors"
	"github.com/rogeriochaves/pinacle/pkg/model"
)

type registerServerRequest struct {
	ID        string `json:"id"`
	Hostname  string `json:"hostname"`
	IPAddress string `json:"ipAddress"`
	CPUCores  int    `json:"cpuCores"`
	MemoryMB  int64  `json:"memoryMb"`
	DiskGB    int64  `json:"diskGb"`
	SSHHost   string `json:"sshHost"`
	SSHPort   int    `json:"sshPort"`
	SSHUser   string `json:"sshUser"`
}

type registerServerResponse struct {
	ID string `json:"id"`
}

// RegisterServer upserts a Server by its stable ID, per the external
// interface's POST /register body.
func (s *Server) RegisterServer(ctx context.Context, req registerServerRequest) (model.Server, error) {
	existing, err := s.servers.Get(ctx, req.ID)
	status := model.ServerOnline
	createdAt := time.Time{}
	if err == nil {
		createdAt = existing.CreatedAt
	}

	srv := model.Server{
		ID:        req.ID,
		Hostname:  req.Hostname,
		IPAddress: req.IPAddress,
		CPUCores:  req.CPUCores,
		MemoryMB:  req.MemoryMB,
		DiskGB:    req.DiskGB,
		SSH: model.SSHEndpoint{
			Host: req.SSHHost,
			Port: req.SSHPort,
			User: req.SSHUser,
		},
		Status:          status,
		LastHeartbeatAt: time.Now(),
		CreatedAt:       createdAt,
	}
	return s.servers.Upsert(ctx, srv)
}

func (s *Server) handleRegisterServer(w http.ResponseWriter, r *http.Request) {
	var req registerServerRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, "register: decode body", apierrors.Wrap(apierrors.KindInvariant, err, "invalid body"))
		return
	}
	if req.ID == "" {
		s.writeError(w, "register: missing id", apierrors.New(apierrors.KindInvariant, "id is required"))
		return
	}
	srv, err := s.RegisterServer(r.Context(), req)
	if err != nil {
		s.writeError(w, "register: upsert failed", err)
		return
	}
	writeJSON(w, http.StatusOK, registerServerResponse{ID: srv.ID})
}

type heartbeatRequest struct {
	ServerID string `json:"serverId"`
}

// Heartbeat bumps lastHeartbeatAt and marks the server online.
func (s *Server) Heartbeat(ctx context.Context, serverID string) error {
	return s.servers.UpdateHeartbeat(ctx, serverID, time.Now())
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, "heartbeat: decode body", apierrors.Wrap(apierrors.KindInvariant, err, "invalid body"))
		return
	}
	if err := s.Heartbeat(r.Context(), req.ServerID); err != nil {
		s.writeError(w, "heartbeat: update failed", err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

type podMetricsPayload struct {
	PodID           string `json:"podId"`
	ContainerID     string `json:"containerId"`
	CPUUsagePercent float64 `json:"cpuUsagePercent"`
	MemoryUsageMB   int64  `json:"memoryUsageMb"`
	DiskUsageMB     int64  `json:"diskUsageMb"`
	NetworkRxBytes  int64  `json:"networkRxBytes"`
	NetworkTxBytes  int64  `json:"networkTxBytes"`
}

type reportMetricsRequest struct {
	ServerID        string              `json:"serverId"`
	CPUUsagePercent float64             `json:"cpuUsagePercent"`
	MemoryUsageMB   int64               `json:"memoryUsageMb"`
	DiskUsageGB     int64               `json:"diskUsageGb"`
	ActivePodsCount int                 `json:"activePodsCount"`
	PodMetrics      []podMetricsPayload `json:"podMetrics"`
}

// ReportMetrics appends one Server sample and N Pod samples.
func (s *Server) ReportMetrics(ctx context.Context, req reportMetricsRequest) error {
	now := time.Now()
	if err := s.metrics.AppendServerSample(ctx, model.ServerMetricsSample{
		ServerID:        req.ServerID,
		Timestamp:       now,
		CPUUsagePercent: req.CPUUsagePercent,
		MemoryUsageMB:   req.MemoryUsageMB,
		DiskUsageGB:     req.DiskUsageGB,
		ActivePodsCount: req.ActivePodsCount,
	}); err != nil {
		return err
	}

	if len(req.PodMetrics) == 0 {
		return nil
	}
	samples := make([]model.PodMetricsSample, 0, len(req.PodMetrics))
	for _, pm := range req.PodMetrics {
		samples = append(samples, model.PodMetricsSample{
			PodID:           pm.PodID,
			ContainerID:     pm.ContainerID,
			Timestamp:       now,
			CPUUsagePercent: pm.CPUUsagePercent,
			MemoryUsageMB:   pm.MemoryUsageMB,
			DiskUsageMB:     pm.DiskUsageMB,
			NetworkRxBytes:  pm.NetworkRxBytes,
			NetworkTxBytes:  pm.NetworkTxBytes,
		})
	}
	return s.metrics.AppendPodSamples(ctx, samples)
}

func (s *Server) handleReportMetrics(w http.ResponseWriter, r *http.Request) {
	var req reportMetricsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, "report-metrics: decode body", apierrors.Wrap(apierrors.KindInvariant, err, "invalid body"))
		return
	}
	if err := s.ReportMetrics(r.Context(), req); err != nil {
		s.writeError(w, "report-metrics: append failed", err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

// SelectHost returns the next Server satisfying status=online AND
// lastHeartbeatAt within HeartbeatStaleThreshold, first-fit by creation
// order, additionally excluding hosts at capacity (the sum of their
// non-archived pods' tier CPU/memory/storage at or above the host total).
func (s *Server) SelectHost(ctx context.Context) (model.Server, error) {
	servers, err := s.servers.List(ctx)
	if err != nil {
		return model.Server{}, err
	}
	sort.Slice(servers, func(i, j int) bool {
		return servers[i].CreatedAt.Before(servers[j].CreatedAt)
	})

	cutoff := time.Now().Add(-HeartbeatStaleThreshold)
	for _, srv := range servers {
		if srv.Status != model.ServerOnline {
			continue
		}
		if srv.LastHeartbeatAt.Before(cutoff) {
			continue
		}
		hasCapacity, err := s.hostHasCapacity(ctx, srv)
		if err != nil {
			return model.Server{}, err
		}
		if hasCapacity {
			return srv, nil
		}
	}
	return model.Server{}, apierrors.New(apierrors.KindExhausted, "no schedulable host available")
}

func (s *Server) hostHasCapacity(ctx context.Context, srv model.Server) (bool, error) {
	pods, err := s.pods.ListByHost(ctx, srv.ID, false)
	if err != nil {
		return false, err
	}
	var cpu float64
	var mem, disk int64
	for _, p := range pods {
		tier, ok := model.TierByName(p.Tier)
		if !ok {
			continue
		}
		cpu += tier.CPUCores
		mem += tier.MemoryMB
		disk += tier.StorageMB / 1024
	}
	return cpu < float64(srv.CPUCores) && mem < srv.MemoryMB && disk < srv.DiskGB, nil
}
