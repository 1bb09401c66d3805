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
	"net/http"
	"strconv"
	"time"

	"github.com/rogeriochaves/pinacle/pkg/apierrors"
	"github.com/rogeriochaves/pinacle/pkg/idgen"
	"github.com/rogeriochaves/pinacle/pkg/model"
)

type createPodRequest struct {
	Name            string   `json:"name"`
	Slug            string   `json:"slug"`
	OwnerUserID     string   `json:"ownerUserId"`
	OwnerTeamID     string   `json:"ownerTeamId"`
	Template        string   `json:"template"`
	Tier            string   `json:"tier"`
	ServicesEnabled []string `json:"servicesEnabled"`
	EnvVarSetID     string   `json:"envVarSetId"`
}

type createPodResponse struct {
	Pod model.Pod `json:"pod"`
}

// handleCreatePod validates the request, selects a host with spare capacity,
// and persists a new Pod row in creating before handing it to the
// orchestrator.
func (s *Server) handleCreatePod(w http.ResponseWriter, r *http.Request) {
	var req createPodRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, "create-pod: decode body", apierrors.Wrap(apierrors.KindInvariant, err, "invalid body"))
		return
	}
	if !model.ValidSlug(req.Slug) {
		s.writeError(w, "create-pod: invalid slug", apierrors.New(apierrors.KindInvariant, "invalid slug: "+req.Slug))
		return
	}
	if _, ok := model.TierByName(req.Tier); !ok {
		s.writeError(w, "create-pod: unknown tier", apierrors.New(apierrors.KindInvariant, "unknown tier: "+req.Tier))
		return
	}

	host, err := s.SelectHost(r.Context())
	if err != nil {
		s.writeError(w, "create-pod: select host", err)
		return
	}

	now := time.Now()
	p := model.Pod{
		ID:          idgen.NewPodID(),
		Name:        req.Name,
		Slug:        req.Slug,
		OwnerUserID: req.OwnerUserID,
		OwnerTeamID: req.OwnerTeamID,
		HostID:      host.ID,
		Template:    req.Template,
		Tier:        req.Tier,
		Config: model.PodConfig{
			Template:        req.Template,
			Tier:            req.Tier,
			ServicesEnabled: req.ServicesEnabled,
			EnvVarSetID:     req.EnvVarSetID,
		},
		Status:    model.PodCreating,
		CreatedAt: now,
		UpdatedAt: now,
	}
	created, err := s.pods.Create(r.Context(), p)
	if err != nil {
		s.writeError(w, "create-pod: persist failed", err)
		return
	}

	if err := s.orchestrator.Provision(r.Context(), created.ID, host.ID); err != nil {
		s.writeError(w, "create-pod: provision failed", err)
		return
	}

	writeJSON(w, http.StatusAccepted, createPodResponse{Pod: created})
}

type podIDRequest struct {
	PodID string `json:"podId"`
}

func (s *Server) handleStartPod(w http.ResponseWriter, r *http.Request) {
	var req podIDRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, "start-pod: decode body", apierrors.Wrap(apierrors.KindInvariant, err, "invalid body"))
		return
	}
	if err := s.orchestrator.Start(r.Context(), req.PodID); err != nil {
		s.writeError(w, "start-pod: failed", err)
		return
	}
	writeJSON(w, http.StatusAccepted, struct{}{})
}

func (s *Server) handleStopPod(w http.ResponseWriter, r *http.Request) {
	var req podIDRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, "stop-pod: decode body", apierrors.Wrap(apierrors.KindInvariant, err, "invalid body"))
		return
	}
	if err := s.orchestrator.Stop(r.Context(), req.PodID); err != nil {
		s.writeError(w, "stop-pod: failed", err)
		return
	}
	writeJSON(w, http.StatusAccepted, struct{}{})
}

func (s *Server) handleDeletePod(w http.ResponseWriter, r *http.Request) {
	var req podIDRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, "delete-pod: decode body", apierrors.Wrap(apierrors.KindInvariant, err, "invalid body"))
		return
	}
	if err := s.orchestrator.Delete(r.Context(), req.PodID); err != nil {
		s.writeError(w, "delete-pod: failed", err)
		return
	}
	writeJSON(w, http.StatusAccepted, struct{}{})
}

type rebuildPodRequest struct {
	PodID        string `json:"podId"`
	FromSnapshot string `json:"fromSnapshot"`
}

func (s *Server) handleRebuildPod(w http.ResponseWriter, r *http.Request) {
	var req rebuildPodRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, "rebuild-pod: decode body", apierrors.Wrap(apierrors.KindInvariant, err, "invalid body"))
		return
	}
	if err := s.orchestrator.Rebuild(r.Context(), req.PodID, req.FromSnapshot); err != nil {
		s.writeError(w, "rebuild-pod: failed", err)
		return
	}
	writeJSON(w, http.StatusAccepted, struct{}{})
}

func (s *Server) handleRetryProvisioning(w http.ResponseWriter, r *http.Request) {
	var req podIDRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, "retry-pod: decode body", apierrors.Wrap(apierrors.KindInvariant, err, "invalid body"))
		return
	}
	if err := s.orchestrator.Retry(r.Context(), req.PodID); err != nil {
		s.writeError(w, "retry-pod: failed", err)
		return
	}
	writeJSON(w, http.StatusAccepted, struct{}{})
}

type podStatusResponse struct {
	Pod  model.Pod      `json:"pod"`
	Logs []model.PodLog `json:"logs"`
}

// handleGetPodStatusWithLogs returns the current pod row plus its log tail.
// ?podId= selects the pod; ?afterId= (default 0) bounds the log window.
func (s *Server) handleGetPodStatusWithLogs(w http.ResponseWriter, r *http.Request) {
	podID := r.URL.Query().Get("podId")
	if podID == "" {
		s.writeError(w, "pod-status: missing podId", apierrors.New(apierrors.KindInvariant, "podId is required"))
		return
	}
	afterID := int64(0)
	if raw := r.URL.Query().Get("afterId"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.writeError(w, "pod-status: bad afterId", apierrors.New(apierrors.KindInvariant, "afterId must be an integer"))
			return
		}
		afterID = v
	}

	p, err := s.pods.GetPod(r.Context(), podID)
	if err != nil {
		s.writeError(w, "pod-status: get pod failed", err)
		return
	}
	logs, err := s.logs.ListAfter(r.Context(), podID, afterID)
	if err != nil {
		s.writeError(w, "pod-status: list logs failed", err)
		return
	}
	writeJSON(w, http.StatusOK, podStatusResponse{Pod: p, Logs: logs})
}

type createSnapshotResponse struct {
	Snapshot model.SnapshotRecord `json:"snapshot"`
}

func (s *Server) handleCreateSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.snapshotEngine == nil {
		s.writeError(w, "create-snapshot: engine unavailable",
			apierrors.New(apierrors.KindInvariant, "snapshot engine not wired into this control plane"))
		return
	}
	var req podIDRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, "create-snapshot: decode body", apierrors.Wrap(apierrors.KindInvariant, err, "invalid body"))
		return
	}
	snap, err := s.snapshotEngine.Create(r.Context(), req.PodID)
	if err != nil {
		s.writeError(w, "create-snapshot: failed", err)
		return
	}
	writeJSON(w, http.StatusAccepted, createSnapshotResponse{Snapshot: snap})
}
