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

// Package hostagent runs on a registered host, collecting resource stats and
// per-container usage, and reports them to the control plane over the
// external interface (POST /register, /heartbeat, /metrics-report).
package hostagent

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// HostStats is one point-in-time resource reading for the local host.
type HostStats struct {
	CPUUsagePercent float64
	MemoryUsageMB   int64
	MemoryTotalMB   int64
	DiskUsageGB     int64
	DiskTotalGB     int64
}

// cpuSample is one /proc/stat "cpu " line, in jiffies.
type cpuSample struct {
	idle, total uint64
}

func readCPUSample() (cpuSample, error) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return cpuSample{}, errors.Wrap(err, "open /proc/stat")
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || fields[0] != "cpu" {
			continue
		}
		var total, idle uint64
		for i, f := range fields[1:] {
			v, err := strconv.ParseUint(f, 10, 64)
			if err != nil {
				continue
			}
			total += v
			if i == 3 { // idle field
				idle = v
			}
		}
		return cpuSample{idle: idle, total: total}, nil
	}
	return cpuSample{}, errors.New("cpu line not found in /proc/stat")
}

// cpuPercent computes usage between two samples taken HEARTBEAT_INTERVAL
// apart.
func cpuPercent(prev, cur cpuSample) float64 {
	totalDelta := float64(cur.total - prev.total)
	if totalDelta <= 0 {
		return 0
	}
	idleDelta := float64(cur.idle - prev.idle)
	return (1 - idleDelta/totalDelta) * 100
}

func readMemoryMB() (used, total int64, err error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, 0, errors.Wrap(err, "open /proc/meminfo")
	}
	defer f.Close()

	fields := map[string]int64{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		parts := strings.Fields(sc.Text())
		if len(parts) < 2 {
			continue
		}
		key := strings.TrimSuffix(parts[0], ":")
		v, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			continue
		}
		fields[key] = v // kB
	}

	total = fields["MemTotal"] / 1024
	available := fields["MemAvailable"] / 1024
	return total - available, total, nil
}

func readDiskGB(path string) (used, total int64, err error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, 0, errors.Wrapf(err, "statfs %s", path)
	}
	blockSize := int64(stat.Bsize)
	totalBytes := int64(stat.Blocks) * blockSize
	freeBytes := int64(stat.Bfree) * blockSize
	const gb = 1024 * 1024 * 1024
	return (totalBytes - freeBytes) / gb, totalBytes / gb, nil
}

// Collector samples host-wide resource usage, tracking the previous CPU
// jiffie counters across calls so CollectHost can report a percentage rather
// than a cumulative counter.
type Collector struct {
	diskPath string
	prevCPU  *cpuSample
}

// NewCollector constructs a Collector that reports disk usage for diskPath
// (typically "/").
func NewCollector(diskPath string) *Collector {
	return &Collector{diskPath: diskPath}
}

// CollectHost samples CPU, memory, and disk for the local host.
func (c *Collector) CollectHost() (HostStats, error) {
	cur, err := readCPUSample()
	if err != nil {
		return HostStats{}, err
	}
	var cpuPct float64
	if c.prevCPU != nil {
		cpuPct = cpuPercent(*c.prevCPU, cur)
	}
	c.prevCPU = &cur

	memUsed, memTotal, err := readMemoryMB()
	if err != nil {
		return HostStats{}, err
	}
	diskUsed, diskTotal, err := readDiskGB(c.diskPath)
	if err != nil {
		return HostStats{}, err
	}

	return HostStats{
		CPUUsagePercent: cpuPct,
		MemoryUsageMB:   memUsed,
		MemoryTotalMB:   memTotal,
		DiskUsageGB:     diskUsed,
		DiskTotalGB:     diskTotal,
	}, nil
}
