package controlplane

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/rogeriochaves/pinacle/pkg/apierrors"
	"github.com/rogeriochaves/pinacle/pkg/model"
	"github.com/rogeriochaves/pinacle/pkg/prxtoken"
	"github.com/rogeriochaves/pinacle/pkg/store"
)

func newTestServer(t *testing.T, mem *store.MemStore, signer *prxtoken.Signer) *Server {
	t.Helper()
	return New(mem, mem, mem, mem, mem, nil, nil, signer, "", zap.NewNop().Sugar())
}

func TestWriteErrorMapsBehavioralKindsToStatusCodes(t *testing.T) {
	mem := store.NewMemStore()
	s := newTestServer(t, mem, nil)

	testcases := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "store not found", err: store.ErrNotFound, wantStatus: http.StatusNotFound},
		{name: "store conflict", err: store.ErrConflict, wantStatus: http.StatusConflict},
		{name: "kind not found", err: apierrors.New(apierrors.KindNotFound, "x"), wantStatus: http.StatusNotFound},
		{name: "kind conflict", err: apierrors.New(apierrors.KindConflict, "x"), wantStatus: http.StatusConflict},
		{name: "kind unauthorized", err: apierrors.New(apierrors.KindUnauthorized, "x"), wantStatus: http.StatusUnauthorized},
		{name: "kind forbidden", err: apierrors.New(apierrors.KindForbidden, "x"), wantStatus: http.StatusForbidden},
		{name: "kind exhausted", err: apierrors.New(apierrors.KindExhausted, "x"), wantStatus: http.StatusServiceUnavailable},
		{name: "kind invariant", err: apierrors.New(apierrors.KindInvariant, "x"), wantStatus: http.StatusUnprocessableEntity},
		{name: "kind step failure", err: apierrors.New(apierrors.KindStepFailure, "x"), wantStatus: http.StatusUnprocessableEntity},
		{name: "kind transient", err: apierrors.New(apierrors.KindTransient, "x"), wantStatus: http.StatusBadGateway},
		{name: "unknown error", err: errors.New("boom"), wantStatus: http.StatusInternalServerError},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			s.writeError(w, "test", tc.err)
			if w.Code != tc.wantStatus {
				t.Fatalf("writeError(%v) status = %d, want %d", tc.err, w.Code, tc.wantStatus)
			}
		})
	}
}

func TestSelectHostExcludesOfflineAndStaleAndAtCapacity(t *testing.T) {
	mem := store.NewMemStore()
	s := newTestServer(t, mem, nil)
	ctx := context.Background()

	if _, err := mem.Upsert(ctx, model.Server{ID: "offline", Status: model.ServerOffline, LastHeartbeatAt: time.Now(), CPUCores: 8, MemoryMB: 8192, DiskGB: 100}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, err := mem.Upsert(ctx, model.Server{ID: "stale", Status: model.ServerOnline, LastHeartbeatAt: time.Now().Add(-time.Hour), CPUCores: 8, MemoryMB: 8192, DiskGB: 100}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, err := mem.Upsert(ctx, model.Server{ID: "full", Status: model.ServerOnline, LastHeartbeatAt: time.Now(), CPUCores: 1, MemoryMB: 512, DiskGB: 2}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, err := mem.Create(ctx, model.Pod{ID: "pod_full", Slug: "full-pod", HostID: "full", Tier: "dev.large", Status: model.PodRunning}); err != nil {
		t.Fatalf("Create pod: %v", err)
	}
	if _, err := mem.Upsert(ctx, model.Server{ID: "healthy", Status: model.ServerOnline, LastHeartbeatAt: time.Now(), CPUCores: 8, MemoryMB: 8192, DiskGB: 100}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := s.SelectHost(ctx)
	if err != nil {
		t.Fatalf("SelectHost: %v", err)
	}
	if got.ID != "healthy" {
		t.Fatalf("expected the only schedulable host, got %q", got.ID)
	}
}

func TestSelectHostReturnsExhaustedWhenNoneSchedulable(t *testing.T) {
	mem := store.NewMemStore()
	s := newTestServer(t, mem, nil)
	ctx := context.Background()

	if _, err := mem.Upsert(ctx, model.Server{ID: "offline", Status: model.ServerOffline}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	_, err := s.SelectHost(ctx)
	if apierrors.KindOf(err) != apierrors.KindExhausted {
		t.Fatalf("expected KindExhausted, got %v", err)
	}
}

func TestSweepStaleHostsMarksOnlyStaleHostsOffline(t *testing.T) {
	mem := store.NewMemStore()
	s := newTestServer(t, mem, nil)
	ctx := context.Background()

	if _, err := mem.Upsert(ctx, model.Server{ID: "fresh", Status: model.ServerOnline, LastHeartbeatAt: time.Now()}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, err := mem.Upsert(ctx, model.Server{ID: "stale", Status: model.ServerOnline, LastHeartbeatAt: time.Now().Add(-time.Hour)}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	s.sweepStaleHosts(ctx)

	fresh, err := mem.Get(ctx, "fresh")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if fresh.Status != model.ServerOnline {
		t.Fatalf("expected fresh host to stay online, got %q", fresh.Status)
	}

	stale, err := mem.Get(ctx, "stale")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stale.Status != model.ServerOffline {
		t.Fatalf("expected stale host to be marked offline, got %q", stale.Status)
	}
}

func TestHandleProxyAuthRejectsArchivedPod(t *testing.T) {
	mem := store.NewMemStore()
	signer, err := prxtoken.NewSigner("secret")
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	s := newTestServer(t, mem, signer)
	ctx := context.Background()

	archivedAt := time.Now()
	if _, err := mem.Create(ctx, model.Pod{ID: "pod_1", Slug: "my-pod", ArchivedAt: &archivedAt}); err != nil {
		t.Fatalf("Create pod: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/proxy-auth?pod_slug=my-pod&target_port=3000&proxy_host=proxy.pinacle.dev", nil)
	w := httptest.NewRecorder()
	s.handleProxyAuth(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for archived pod, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleProxyAuthRedirectsToCallbackForLivePod(t *testing.T) {
	mem := store.NewMemStore()
	signer, err := prxtoken.NewSigner("secret")
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	s := newTestServer(t, mem, signer)
	ctx := context.Background()

	if _, err := mem.Create(ctx, model.Pod{ID: "pod_1", Slug: "my-pod", Status: model.PodRunning}); err != nil {
		t.Fatalf("Create pod: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/proxy-auth?pod_slug=my-pod&target_port=3000&proxy_host=proxy.pinacle.dev&return_url=http://proxy.pinacle.dev/app", nil)
	w := httptest.NewRecorder()
	s.handleProxyAuth(w, req)

	if w.Code != http.StatusFound {
		t.Fatalf("expected 302 redirect, got %d: %s", w.Code, w.Body.String())
	}
	loc := w.Header().Get("Location")
	if loc == "" {
		t.Fatal("expected a Location header")
	}
}

func TestHandleProxyAuthRejectsMissingSigner(t *testing.T) {
	mem := store.NewMemStore()
	s := newTestServer(t, mem, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/proxy-auth?pod_slug=my-pod&target_port=3000&proxy_host=proxy.pinacle.dev", nil)
	w := httptest.NewRecorder()
	s.handleProxyAuth(w, req)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 when no signer is configured, got %d", w.Code)
	}
}
