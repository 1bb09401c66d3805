package podlock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLockSerializesSameKey(t *testing.T) {
	s := New()
	var active int32
	var maxActive int32
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := s.Lock("pod_1")
			defer unlock()

			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Fatalf("expected exactly 1 concurrent holder of the same key, saw %d", maxActive)
	}
}

func TestLockAllowsDifferentKeysInParallel(t *testing.T) {
	s := New()
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	var wg sync.WaitGroup

	for _, key := range []string{"pod_1", "pod_2"} {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			unlock := s.Lock(key)
			defer unlock()
			started <- struct{}{}
			<-release
		}(key)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatal("expected both distinct-key locks to be held concurrently")
		}
	}
	close(release)
	wg.Wait()
}

func TestTryLockFailsOnConflict(t *testing.T) {
	s := New()
	unlock, ok := s.TryLock("pod_1")
	if !ok {
		t.Fatal("expected first TryLock to succeed")
	}

	if _, ok := s.TryLock("pod_1"); ok {
		t.Fatal("expected second TryLock on the same key to fail while held")
	}

	unlock()

	unlock2, ok := s.TryLock("pod_1")
	if !ok {
		t.Fatal("expected TryLock to succeed again after release")
	}
	unlock2()
}

func TestEntryIsEvictedOnceUnreferenced(t *testing.T) {
	s := New()
	unlock := s.Lock("pod_1")
	unlock()

	s.mu.Lock()
	_, exists := s.entries["pod_1"]
	s.mu.Unlock()
	if exists {
		t.Fatal("expected entry to be evicted once refcount reaches zero")
	}
}
