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
	"encoding/json"
	"net/http"
	"time"

	"github.com/rogeriochaves/pinacle/pkg/apierrors"
)

// registerPayload mirrors controlplane's registerServerRequest wire shape.
type registerPayload struct {
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

type heartbeatPayload struct {
	ServerID string `json:"serverId"`
}

type podMetricsPayload struct {
	PodID           string  `json:"podId"`
	ContainerID     string  `json:"containerId"`
	CPUUsagePercent float64 `json:"cpuUsagePercent"`
	MemoryUsageMB   int64   `json:"memoryUsageMb"`
	DiskUsageMB     int64   `json:"diskUsageMb"`
	NetworkRxBytes  int64   `json:"networkRxBytes"`
	NetworkTxBytes  int64   `json:"networkTxBytes"`
}

type reportMetricsPayload struct {
	ServerID        string              `json:"serverId"`
	CPUUsagePercent float64             `json:"cpuUsagePercent"`
	MemoryUsageMB   int64               `json:"memoryUsageMb"`
	DiskUsageGB     int64               `json:"diskUsageGb"`
	ActivePodsCount int                 `json:"activePodsCount"`
	PodMetrics      []podMetricsPayload `json:"podMetrics"`
}

// Client posts registration, heartbeat, and metrics reports to one control
// plane target.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

// NewClient builds a Client with a sane request timeout.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) post(ctx context.Context, path string, body interface{}) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return apierrors.Wrap(apierrors.KindInvariant, err, "marshal request body")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(buf))
	if err != nil {
		return apierrors.Wrap(apierrors.KindInvariant, err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.APIKey)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return apierrors.Wrap(apierrors.KindTransient, err, "post "+path)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return apierrors.New(apierrors.KindNotFound, "control plane returned 404 for "+path)
	}
	if resp.StatusCode >= 500 {
		return apierrors.New(apierrors.KindTransient, "control plane returned "+resp.Status+" for "+path)
	}
	if resp.StatusCode >= 400 {
		return apierrors.New(apierrors.KindInvariant, "control plane returned "+resp.Status+" for "+path)
	}
	return nil
}

// Register posts the host's identity and capacity to /register.
func (c *Client) Register(ctx context.Context, p registerPayload) error {
	return c.post(ctx, "/register", p)
}

// Heartbeat posts a liveness ping to /heartbeat.
func (c *Client) Heartbeat(ctx context.Context, serverID string) error {
	return c.post(ctx, "/heartbeat", heartbeatPayload{ServerID: serverID})
}

// ReportMetrics posts one host+pod metrics sample to /metrics-report.
func (c *Client) ReportMetrics(ctx context.Context, r reportMetricsPayload) error {
	return c.post(ctx, "/metrics-report", r)
}
