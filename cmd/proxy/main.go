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

// Command proxy terminates the authenticated subdomain routes
// (localhost-<port>.pod-<slug>.<base-domain>), running the capability-token
// callback flow and forwarding authenticated traffic to the right pod.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"github.com/rogeriochaves/pinacle/pkg/config"
	"github.com/rogeriochaves/pinacle/pkg/plog"
	"github.com/rogeriochaves/pinacle/pkg/proxy"
	"github.com/rogeriochaves/pinacle/pkg/prxtoken"
	"github.com/rogeriochaves/pinacle/pkg/store"
)

type options struct {
	listenAddress   string
	healthzAddress  string
	controlPlaneURL string
	devMode         bool
}

func main() {
	logFlags := plog.NewDefaultOptions()
	flag.BoolVar(&logFlags.Debug, "debug", logFlags.Debug, "enable debug logging")
	flag.StringVar(&logFlags.Format, "log-format", logFlags.Format, "log format: console or json")

	opt := &options{}
	flag.StringVar(&opt.listenAddress, "listen-address", ":8443", "address the proxy listens on")
	flag.StringVar(&opt.healthzAddress, "healthz-address", ":9878", "address the /healthz endpoint listens on")
	flag.StringVar(&opt.controlPlaneURL, "control-plane-url", "http://localhost:8080", "base URL of the control plane, used to build auth redirects")
	flag.BoolVar(&opt.devMode, "dev", false, "disable Secure on non-embed cookies, for local HTTP testing")
	flag.Parse()

	if err := logFlags.Validate(); err != nil {
		log.Fatalf("invalid options: %v", err)
	}
	zlog := plog.New(logFlags).Sugar()

	cfg := config.LoadProxy()
	if cfg.TokenSigningKey == "" {
		zlog.Fatalw("PROXY_TOKEN_SIGNING_KEY is required")
	}
	if cfg.BaseDomain == "" {
		zlog.Fatalw("PROXY_BASE_DOMAIN is required")
	}

	signer, err := prxtoken.NewSigner(cfg.TokenSigningKey)
	if err != nil {
		zlog.Fatalw("invalid token signing key", zap.Error(err))
	}

	// The proxy resolves pods and hosts from its own process-local
	// in-memory store; it is not shared with the control plane's store, so
	// rows the control plane writes are not visible here. A networked store
	// swap (see DESIGN.md) would let the two share state.
	mem := store.NewMemStore()
	pool := proxy.NewPool(mem, mem, cfg.CacheTTL, cfg.BaseDomain)

	handler := &proxy.Handler{
		Pool:       pool,
		Signer:     signer,
		BaseDomain: cfg.BaseDomain,
		DevMode:    opt.devMode,
		AuthURL:    buildAuthURLFunc(opt.controlPlaneURL),
		Log:        zlog,
	}

	health := healthcheck.NewHandler()
	health.AddReadinessCheck("token-signing-key-loaded", func() error {
		if cfg.TokenSigningKey == "" {
			return fmt.Errorf("no signing key loaded")
		}
		return nil
	})
	health.AddLivenessCheck("upstream-pool-reachable", func() error {
		done := make(chan struct{})
		go func() {
			pool.Invalidate(proxy.UpstreamKey{})
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-time.After(2 * time.Second):
			return fmt.Errorf("upstream pool lock appears stuck")
		}
	})

	mux := http.NewServeMux()
	mux.Handle("/", handler)

	srv := &http.Server{Addr: opt.listenAddress, Handler: mux}
	healthSrv := &http.Server{Addr: opt.healthzAddress, Handler: health}

	go func() {
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Errorw("healthz server failed", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = healthSrv.Shutdown(shutdownCtx)
	}()

	zlog.Infow("proxy listening", "address", opt.listenAddress, "baseDomain", cfg.BaseDomain)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		zlog.Fatalw("proxy server failed", zap.Error(err))
	}
}

// buildAuthURLFunc points the capability-flow redirect at the control
// plane's proxy-auth endpoint, which mints a scoped token and bounces the
// browser back to the callback path on this host.
func buildAuthURLFunc(controlPlaneURL string) proxy.AuthURLBuilder {
	return func(route proxy.Route, proxyHost, returnURL string, embed bool) string {
		u, err := url.Parse(controlPlaneURL + "/v1/proxy-auth")
		if err != nil {
			return controlPlaneURL
		}
		q := u.Query()
		q.Set("pod_slug", route.PodSlug)
		q.Set("target_port", fmt.Sprintf("%d", route.TargetPort))
		q.Set("proxy_host", proxyHost)
		q.Set("return_url", returnURL)
		if embed {
			q.Set("embed", "true")
		}
		u.RawQuery = q.Encode()
		return u.String()
	}
}
