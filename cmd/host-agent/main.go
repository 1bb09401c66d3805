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

// Command host-agent runs on a registered host, reporting its capacity and
// resource usage to the control plane and re-registering itself across
// restarts under a stable identity.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"github.com/rogeriochaves/pinacle/pkg/config"
	"github.com/rogeriochaves/pinacle/pkg/hostagent"
	"github.com/rogeriochaves/pinacle/pkg/plog"
)

type options struct {
	identityFile   string
	hostname       string
	ipAddress      string
	cpuCores       int
	memoryMB       int64
	diskGB         int64
	diskPath       string
	sshHost        string
	sshPort        int
	sshUser        string
	healthzAddress string
}

func main() {
	logFlags := plog.NewDefaultOptions()
	flag.BoolVar(&logFlags.Debug, "debug", logFlags.Debug, "enable debug logging")
	flag.StringVar(&logFlags.Format, "log-format", logFlags.Format, "log format: console or json")

	opt := &options{}
	flag.StringVar(&opt.identityFile, "identity-file", "./.server-config.json", "path where this agent persists its stable server ID")
	flag.StringVar(&opt.hostname, "hostname", "", "this host's hostname, reported at registration")
	flag.StringVar(&opt.ipAddress, "ip-address", "", "this host's reachable IP address")
	flag.IntVar(&opt.cpuCores, "cpu-cores", 0, "this host's CPU core count")
	flag.Int64Var(&opt.memoryMB, "memory-mb", 0, "this host's total memory, in MB")
	flag.Int64Var(&opt.diskGB, "disk-gb", 0, "this host's total disk, in GB")
	flag.StringVar(&opt.diskPath, "disk-path", "/", "filesystem path to statfs for disk usage")
	flag.StringVar(&opt.sshHost, "ssh-host", "", "SSH host the control plane dials to reach this host")
	flag.IntVar(&opt.sshPort, "ssh-port", 22, "SSH port the control plane dials")
	flag.StringVar(&opt.sshUser, "ssh-user", "root", "SSH user the control plane authenticates as")
	flag.StringVar(&opt.healthzAddress, "healthz-address", ":9877", "address the /healthz endpoint listens on")
	flag.Parse()

	if err := logFlags.Validate(); err != nil {
		log.Fatalf("invalid options: %v", err)
	}
	zlog := plog.New(logFlags).Sugar()

	cfg := config.LoadHostAgent()
	if cfg.APIURL == "" {
		zlog.Fatalw("API_URL is required")
	}

	serverID, err := hostagent.LoadOrCreateServerID(opt.identityFile)
	if err != nil {
		zlog.Fatalw("load identity failed", zap.Error(err))
	}

	targets := []hostagent.Target{
		{Name: "primary", Client: hostagent.NewClient(cfg.APIURL, cfg.APIKey)},
	}
	if cfg.DevAPIURL != "" {
		targets = append(targets, hostagent.Target{Name: "dev", Client: hostagent.NewClient(cfg.DevAPIURL, cfg.DevAPIKey)})
	}

	agent := hostagent.NewAgent(
		serverID, opt.hostname, opt.ipAddress, opt.cpuCores, opt.memoryMB, opt.diskGB,
		opt.sshHost, opt.sshPort, opt.sshUser,
		hostagent.DefaultRuntimeKind(), opt.diskPath,
		targets, zlog,
	)

	if err := agent.RegisterAll(context.Background()); err != nil {
		zlog.Fatalw("initial registration failed", zap.Error(err))
	}

	health := healthcheck.NewHandler()
	health.AddReadinessCheck("identity-file-readable", func() error {
		_, err := os.Stat(opt.identityFile)
		return err
	})
	health.AddLivenessCheck("recent-metrics-report", func() error {
		if agent.LastSuccessAt().IsZero() {
			return nil // not failed yet, just hasn't reported.
		}
		if time.Since(agent.LastSuccessAt()) > 3*cfg.HeartbeatInterval {
			return os.ErrDeadlineExceeded
		}
		return nil
	})

	healthSrv := &http.Server{Addr: opt.healthzAddress, Handler: health}
	go func() {
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Errorw("healthz server failed", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zlog.Infow("host agent running", "serverId", serverID, "interval", cfg.HeartbeatInterval)
	agent.Run(ctx, cfg.HeartbeatInterval)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = healthSrv.Shutdown(shutdownCtx)
}
