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

// Command control-plane runs the Control Plane API: host registration and
// heartbeats, pod lifecycle operations, and (when a storage provider is
// configured) snapshot creation, behind one HTTP server.
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

	"go.uber.org/zap"

	"github.com/rogeriochaves/pinacle/pkg/config"
	"github.com/rogeriochaves/pinacle/pkg/controlplane"
	"github.com/rogeriochaves/pinacle/pkg/hostconn"
	"github.com/rogeriochaves/pinacle/pkg/orchestrator"
	"github.com/rogeriochaves/pinacle/pkg/plog"
	"github.com/rogeriochaves/pinacle/pkg/prxtoken"
	"github.com/rogeriochaves/pinacle/pkg/snapshot"
	"github.com/rogeriochaves/pinacle/pkg/snapshot/storage"
	"github.com/rogeriochaves/pinacle/pkg/store"
	"github.com/rogeriochaves/pinacle/pkg/templatecatalog"
)

type options struct {
	localVMCLIPath string
}

func main() {
	logFlags := plog.NewDefaultOptions()
	flag.BoolVar(&logFlags.Debug, "debug", logFlags.Debug, "enable debug logging")
	flag.StringVar(&logFlags.Format, "log-format", logFlags.Format, "log format: console or json")

	opt := &options{}
	flag.StringVar(&opt.localVMCLIPath, "local-vm-cli", "pinacle-vmctl", "local VM-management CLI used to reach developer-VM hosts")
	flag.Parse()

	if err := logFlags.Validate(); err != nil {
		log.Fatalf("invalid options: %v", err)
	}
	zlog := plog.New(logFlags).Sugar()

	cfg := config.LoadControlPlane()

	localVMFlagSet := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "local-vm-cli" {
			localVMFlagSet = true
		}
	})
	if !localVMFlagSet && cfg.LocalVMCLIPath != "" {
		opt.localVMCLIPath = cfg.LocalVMCLIPath
	}

	mem := store.NewMemStore()
	ports := store.NewPortAllocator()

	dialer := &hostconn.MultiDialer{
		LocalVM: &hostconn.LocalVMDialer{CLIPath: opt.localVMCLIPath},
		SSH:     sshDialer(cfg, zlog),
	}

	catalog := templatecatalog.New(templatecatalog.Default)

	snapCfg := config.LoadSnapshot()
	provider, err := snapshotProvider(snapCfg)
	if err != nil {
		zlog.Fatalw("snapshot storage provider failed", zap.Error(err))
	}

	var snapshotEngine *snapshot.Engine
	if provider != nil {
		snapshotEngine = snapshot.New(mem, mem, mem, dialer, catalog, provider, zlog)
	} else {
		zlog.Warnw("no snapshot storage configured, /pods/snapshot will return an error")
	}

	var orchOpts []orchestrator.Option
	if snapshotEngine != nil {
		orchOpts = append(orchOpts, orchestrator.WithRestorer(snapshotEngine))
	}
	orch := orchestrator.New(mem, mem, mem, ports, dialer, catalog, zlog, orchOpts...)

	var signer *prxtoken.Signer
	if cfg.ProxyTokenSigningKey != "" {
		signer, err = prxtoken.NewSigner(cfg.ProxyTokenSigningKey)
		if err != nil {
			zlog.Fatalw("invalid proxy token signing key", zap.Error(err))
		}
	} else {
		zlog.Warnw("no proxy token signing key configured, /v1/proxy-auth will return an error")
	}

	srv := controlplane.New(mem, mem, mem, mem, mem, orch, snapshotEngine, signer, cfg.APIKey, zlog)
	httpSrv := srv.NewHTTPServer(cfg.ListenAddress)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go srv.RunStaleHostSweep(sweepCtx, cfg.StaleSweepInterval)

	go func() {
		<-ctx.Done()
		stopSweep()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	zlog.Infow("control plane listening", "address", cfg.ListenAddress)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		zlog.Fatalw("control plane server failed", zap.Error(err))
	}
}

// sshDialer builds the remote-host transport from the configured private
// key file, falling back to a dialer that always errors if none is
// configured -- a deployment running only developer VMs never needs it.
func sshDialer(cfg config.ControlPlane, zlog *zap.SugaredLogger) hostconn.Dialer {
	if cfg.SSHPrivateKeyPath == "" {
		zlog.Warnw("no SSH private key configured, remote (non-VM) hosts are unreachable")
		return unconfiguredSSHDialer{}
	}
	keyPEM, err := os.ReadFile(cfg.SSHPrivateKeyPath)
	if err != nil {
		zlog.Fatalw("read ssh private key failed", zap.Error(err))
	}
	dialer, err := hostconn.NewPrivateKeyDialer(keyPEM, 10*time.Second)
	if err != nil {
		zlog.Fatalw("parse ssh private key failed", zap.Error(err))
	}
	return dialer
}

type unconfiguredSSHDialer struct{}

func (unconfiguredSSHDialer) Open(ctx context.Context, host hostconn.HostDescriptor) (hostconn.Conn, error) {
	return nil, os.ErrInvalid
}

func snapshotProvider(cfg config.Snapshot) (storage.Provider, error) {
	switch {
	case cfg.S3Bucket != "":
		return storage.NewS3(context.Background(), storage.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
	case cfg.StoragePath != "":
		return storage.NewFilesystem(cfg.StoragePath)
	default:
		return nil, nil
	}
}
