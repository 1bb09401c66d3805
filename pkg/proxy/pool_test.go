package proxy

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rogeriochaves/pinacle/pkg/apierrors"
	"github.com/rogeriochaves/pinacle/pkg/model"
	"github.com/rogeriochaves/pinacle/pkg/store"
)

func seedRunningPod(t *testing.T, mem *store.MemStore) model.Pod {
	t.Helper()
	server, err := mem.Upsert(context.Background(), model.Server{
		ID:        "server_1",
		Hostname:  "host-1",
		IPAddress: "203.0.113.5",
		Status:    model.ServerOnline,
	})
	if err != nil {
		t.Fatalf("Upsert server: %v", err)
	}

	pod, err := mem.Create(context.Background(), model.Pod{
		ID:     "pod_1",
		Slug:   "my-pod",
		HostID: server.ID,
		Status: model.PodRunning,
		Ports: []model.PortMapping{
			{Name: model.NginxProxyPortName, Internal: 80, External: 41000},
		},
	})
	if err != nil {
		t.Fatalf("Create pod: %v", err)
	}
	return pod
}

func TestPoolGetBuildsAndCachesUpstream(t *testing.T) {
	mem := store.NewMemStore()
	seedRunningPod(t, mem)

	pool := NewPool(mem, mem, time.Minute, "pinacle.dev")
	key := UpstreamKey{PodID: "pod_1", TargetPort: 80}

	up, err := pool.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if up.CanonicalHost != CanonicalHostname(80, "my-pod", "pinacle.dev") {
		t.Fatalf("unexpected canonical host: %q", up.CanonicalHost)
	}
	if up.TargetBase != "http://203.0.113.5:41000" {
		t.Fatalf("unexpected target base: %q", up.TargetBase)
	}

	cached, err := pool.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get (cached): %v", err)
	}
	if cached.TargetBase != up.TargetBase {
		t.Fatalf("expected cached upstream to match, got %+v", cached)
	}
}

func TestPoolGetRejectsArchivedOrHostlessPod(t *testing.T) {
	mem := store.NewMemStore()
	archivedAt := time.Now()
	pod, err := mem.Create(context.Background(), model.Pod{
		ID:         "pod_archived",
		Slug:       "gone",
		HostID:     "server_1",
		Status:     model.PodStopped,
		ArchivedAt: &archivedAt,
	})
	if err != nil {
		t.Fatalf("Create pod: %v", err)
	}

	pool := NewPool(mem, mem, time.Minute, "pinacle.dev")
	_, err = pool.Get(context.Background(), UpstreamKey{PodID: pod.ID, TargetPort: 80})
	if apierrors.KindOf(err) != apierrors.KindNotFound {
		t.Fatalf("expected KindNotFound for archived pod, got %v", err)
	}
}

func TestPoolGetRejectsPodMissingNginxProxyPort(t *testing.T) {
	mem := store.NewMemStore()
	if _, err := mem.Upsert(context.Background(), model.Server{ID: "server_1", Status: model.ServerOnline}); err != nil {
		t.Fatalf("Upsert server: %v", err)
	}
	pod, err := mem.Create(context.Background(), model.Pod{
		ID:     "pod_no_proxy",
		Slug:   "no-proxy",
		HostID: "server_1",
		Status: model.PodRunning,
	})
	if err != nil {
		t.Fatalf("Create pod: %v", err)
	}

	pool := NewPool(mem, mem, time.Minute, "pinacle.dev")
	_, err = pool.Get(context.Background(), UpstreamKey{PodID: pod.ID, TargetPort: 80})
	if apierrors.KindOf(err) != apierrors.KindNotFound {
		t.Fatalf("expected KindNotFound for pod missing nginx-proxy port, got %v", err)
	}
}

// TestPoolGetCoalescesConcurrentMisses asserts that N concurrent first-time
// Get calls for the same key share a single build, never looking the pod up
// more than once.
func TestPoolGetCoalescesConcurrentMisses(t *testing.T) {
	mem := store.NewMemStore()
	seedRunningPod(t, mem)
	counting := &countingPodRepository{PodRepository: mem}

	pool := NewPool(mem, counting, time.Minute, "pinacle.dev")
	key := UpstreamKey{PodID: "pod_1", TargetPort: 80}

	const n = 20
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := pool.Get(context.Background(), key)
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Get[%d]: %v", i, err)
		}
	}
	if got := atomic.LoadInt32(&counting.calls); got != 1 {
		t.Fatalf("expected exactly 1 underlying GetPod call, got %d", got)
	}
}

type countingPodRepository struct {
	store.PodRepository
	calls int32
}

func (c *countingPodRepository) GetPod(ctx context.Context, id string) (model.Pod, error) {
	atomic.AddInt32(&c.calls, 1)
	return c.PodRepository.GetPod(ctx, id)
}

func TestPoolInvalidateForcesRebuild(t *testing.T) {
	mem := store.NewMemStore()
	seedRunningPod(t, mem)
	pool := NewPool(mem, mem, time.Minute, "pinacle.dev")
	key := UpstreamKey{PodID: "pod_1", TargetPort: 80}

	if _, err := pool.Get(context.Background(), key); err != nil {
		t.Fatalf("Get: %v", err)
	}
	pool.Invalidate(key)

	if _, ok := pool.cache.Get(key.cacheKey()); ok {
		t.Fatal("expected cache entry to be gone after Invalidate")
	}
}
