/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package health contains the gopsutil-backed metric sampler used by the
// public health monitor.
package health

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	pkghealth "github.com/srediag/memory-guardian/pkg/health"
)

// DefaultCPUInterval is the window CPU utilisation is measured over.
const DefaultCPUInterval = time.Second

// Sampler reads live metrics from the host through gopsutil.
type Sampler struct {
	cpuInterval time.Duration
	diskPath    string
}

var _ pkghealth.Sampler = (*Sampler)(nil)

// NewSampler returns a sampler measuring CPU over cpuInterval. A zero interval
// uses DefaultCPUInterval.
func NewSampler(cpuInterval time.Duration) *Sampler {
	if cpuInterval <= 0 {
		cpuInterval = DefaultCPUInterval
	}
	return &Sampler{cpuInterval: cpuInterval, diskPath: "/"}
}

func (s *Sampler) CPUPercent(ctx context.Context) (float64, error) {
	pcts, err := cpu.PercentWithContext(ctx, s.cpuInterval, false)
	if err != nil {
		return 0, err
	}
	if len(pcts) == 0 {
		return 0, errors.New("cpu: no samples returned")
	}
	return pcts[0], nil
}

func (s *Sampler) Memory(ctx context.Context) (pkghealth.MemoryStats, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return pkghealth.MemoryStats{}, err
	}
	return pkghealth.MemoryStats{
		TotalBytes:     vm.Total,
		AvailableBytes: vm.Available,
		UsedBytes:      vm.Used,
		UsedPercent:    vm.UsedPercent,
	}, nil
}

func (s *Sampler) Disk(ctx context.Context, path string) (pkghealth.DiskStats, error) {
	u, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return pkghealth.DiskStats{}, err
	}
	return pkghealth.DiskStats{
		Path:        u.Path,
		TotalBytes:  u.Total,
		FreeBytes:   u.Free,
		UsedBytes:   u.Used,
		UsedPercent: u.UsedPercent,
	}, nil
}

// Dial probes address with a TCP connect bounded by timeout.
func (s *Sampler) Dial(ctx context.Context, address string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < timeout {
			timeout = left
		}
	}
	return healthcheck.TCPDialCheck(address, timeout)()
}

func (s *Sampler) ProcessExists(ctx context.Context, pid int32) (bool, error) {
	return process.PidExistsWithContext(ctx, pid)
}

func (s *Sampler) Process(ctx context.Context, pid int32) (pkghealth.ProcessStats, error) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if errors.Is(err, process.ErrorProcessNotRunning) {
		return pkghealth.ProcessStats{}, fmt.Errorf("%w: %d", pkghealth.ErrNoSuchProcess, pid)
	}
	if err != nil {
		return pkghealth.ProcessStats{}, err
	}

	running, err := p.IsRunningWithContext(ctx)
	if err != nil {
		return pkghealth.ProcessStats{}, err
	}
	stats := pkghealth.ProcessStats{PID: pid, Running: running}
	if !running {
		stats.Status = "dead"
		return stats, nil
	}

	if states, err := p.StatusWithContext(ctx); err == nil && len(states) > 0 {
		stats.Status = strings.ToLower(states[0])
	}
	if name, err := p.NameWithContext(ctx); err == nil {
		stats.Name = name
	}
	// Usage over the sampling interval, not the process lifetime.
	if stats.CPUPercent, err = p.PercentWithContext(ctx, s.cpuInterval); err != nil {
		return pkghealth.ProcessStats{}, fmt.Errorf("process %d cpu: %w", pid, err)
	}
	mi, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return pkghealth.ProcessStats{}, fmt.Errorf("process %d memory: %w", pid, err)
	}
	stats.MemoryRSSBytes = mi.RSS
	// Descriptor counts need extra privileges on some systems; leave zero.
	if fds, err := p.NumFDsWithContext(ctx); err == nil {
		stats.NumFDs = fds
	}
	return stats, nil
}

// Capabilities exercises each gopsutil subsystem once.
func (s *Sampler) Capabilities(ctx context.Context) map[string]error {
	caps := make(map[string]error, 4)
	_, caps["cpu"] = cpu.CountsWithContext(ctx, true)
	_, caps["memory"] = mem.VirtualMemoryWithContext(ctx)
	_, caps["disk"] = disk.UsageWithContext(ctx, s.diskPath)
	_, caps["process"] = process.NewProcessWithContext(ctx, int32(os.Getpid()))
	return caps
}

// ProcessMemoryMB returns the resident set size of pid in megabytes.
func (s *Sampler) ProcessMemoryMB(ctx context.Context, pid int32) (float64, error) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if errors.Is(err, process.ErrorProcessNotRunning) {
		return 0, fmt.Errorf("%w: %d", pkghealth.ErrNoSuchProcess, pid)
	}
	if err != nil {
		return 0, err
	}
	mi, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("process %d memory: %w", pid, err)
	}
	return float64(mi.RSS) / (1 << 20), nil
}
