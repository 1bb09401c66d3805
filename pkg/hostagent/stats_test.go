package hostagent

import "testing"

func TestCPUPercentComputesUsageFromJiffieDeltas(t *testing.T) {
	prev := cpuSample{idle: 100, total: 1000}
	cur := cpuSample{idle: 150, total: 1500}

	got := cpuPercent(prev, cur)
	// idleDelta=50, totalDelta=500 -> 90% busy.
	if got < 89.9 || got > 90.1 {
		t.Fatalf("expected ~90%% usage, got %v", got)
	}
}

func TestCPUPercentZeroWhenNoTimeElapsed(t *testing.T) {
	s := cpuSample{idle: 10, total: 100}
	if got := cpuPercent(s, s); got != 0 {
		t.Fatalf("expected 0 usage for identical samples, got %v", got)
	}
}

func TestCollectHostReportsNonNegativeSamples(t *testing.T) {
	c := NewCollector("/")
	stats, err := c.CollectHost()
	if err != nil {
		t.Fatalf("CollectHost: %v", err)
	}
	if stats.MemoryTotalMB <= 0 {
		t.Fatalf("expected positive total memory, got %d", stats.MemoryTotalMB)
	}
	if stats.DiskTotalGB <= 0 {
		t.Fatalf("expected positive total disk, got %d", stats.DiskTotalGB)
	}

	// A second sample lets CPU percent be computed from a real delta.
	stats2, err := c.CollectHost()
	if err != nil {
		t.Fatalf("CollectHost (second sample): %v", err)
	}
	if stats2.CPUUsagePercent < 0 || stats2.CPUUsagePercent > 100 {
		t.Fatalf("expected CPU usage in [0,100], got %v", stats2.CPUUsagePercent)
	}
}
