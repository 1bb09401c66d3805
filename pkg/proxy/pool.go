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

package proxy

import (
	"context"
	"fmt"
	"net/http/httputil"
	"net/url"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/rogeriochaves/pinacle/pkg/apierrors"
	"github.com/rogeriochaves/pinacle/pkg/model"
	"github.com/rogeriochaves/pinacle/pkg/store"
)

// UpstreamKey identifies one cached reverse-proxy entry.
type UpstreamKey struct {
	PodID      string
	TargetPort int
}

func (k UpstreamKey) cacheKey() string {
	return fmt.Sprintf("%s/%d", k.PodID, k.TargetPort)
}

// Upstream is a prebuilt reverse-proxy handle for one (podId, targetPort)
// pair, plus the canonical Host header the in-pod router expects.
type Upstream struct {
	Proxy          *httputil.ReverseProxy
	CanonicalHost  string
	TargetBase     string // e.g. "http://203.0.113.5:41000"
}

// Pool caches Upstreams keyed by (podId, targetPort) with a TTL, creating
// them single-flight: concurrent misses for the same key coalesce into one
// build.
type Pool struct {
	servers    store.ServerRepository
	pods       store.PodRepository
	ttl        time.Duration
	baseDomain string

	cache *gocache.Cache

	mu       sync.Mutex
	inflight map[string]*poolBuild
}

type poolBuild struct {
	done chan struct{}
	up   Upstream
	err  error
}

// NewPool builds a Pool with the given cache TTL. baseDomain is used to
// build the canonical in-pod Host header each cached Upstream rewrites to.
func NewPool(servers store.ServerRepository, pods store.PodRepository, ttl time.Duration, baseDomain string) *Pool {
	return &Pool{
		servers:    servers,
		pods:       pods,
		ttl:        ttl,
		baseDomain: baseDomain,
		cache:      gocache.New(ttl, ttl/2),
		inflight:   map[string]*poolBuild{},
	}
}

// Get returns the cached Upstream for key, building (and caching) it if
// absent or expired. Concurrent calls for the same key block on the first
// builder rather than each building their own.
func (p *Pool) Get(ctx context.Context, key UpstreamKey) (Upstream, error) {
	ck := key.cacheKey()
	if v, ok := p.cache.Get(ck); ok {
		return v.(Upstream), nil
	}

	p.mu.Lock()
	if v, ok := p.cache.Get(ck); ok {
		p.mu.Unlock()
		return v.(Upstream), nil
	}
	if b, ok := p.inflight[ck]; ok {
		p.mu.Unlock()
		<-b.done
		return b.up, b.err
	}
	b := &poolBuild{done: make(chan struct{})}
	p.inflight[ck] = b
	p.mu.Unlock()

	up, err := p.build(ctx, key)
	if err == nil {
		p.cache.Set(ck, up, gocache.DefaultExpiration)
	}
	b.up, b.err = up, err
	close(b.done)

	p.mu.Lock()
	delete(p.inflight, ck)
	p.mu.Unlock()

	if err != nil {
		return Upstream{}, err
	}
	return up, nil
}

// Invalidate evicts key immediately, used after a rebuild that the proxy
// learns about out of band from the TTL.
func (p *Pool) Invalidate(key UpstreamKey) {
	p.cache.Delete(key.cacheKey())
}

func (p *Pool) build(ctx context.Context, key UpstreamKey) (Upstream, error) {
	pod, err := p.pods.GetPod(ctx, key.PodID)
	if err != nil {
		return Upstream{}, err
	}
	if pod.IsArchived() || pod.HostID == "" {
		return Upstream{}, apierrors.New(apierrors.KindNotFound, "pod has no live host: "+key.PodID)
	}
	pm, ok := pod.Port(model.NginxProxyPortName)
	if !ok {
		return Upstream{}, apierrors.New(apierrors.KindNotFound, "pod has no nginx-proxy port: "+key.PodID)
	}

	server, err := p.servers.Get(ctx, pod.HostID)
	if err != nil {
		return Upstream{}, err
	}

	host := server.IPAddress
	if server.IsLocalVM() {
		host = "127.0.0.1"
	}
	targetBase := fmt.Sprintf("http://%s:%d", host, pm.External)
	target, err := url.Parse(targetBase)
	if err != nil {
		return Upstream{}, apierrors.Wrap(apierrors.KindInvariant, err, "parse upstream url")
	}

	rp := httputil.NewSingleHostReverseProxy(target)

	return Upstream{
		Proxy:         rp,
		CanonicalHost: CanonicalHostname(key.TargetPort, pod.Slug, p.baseDomain),
		TargetBase:    targetBase,
	}, nil
}
