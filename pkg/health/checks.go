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

package health

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Names of the built-in checks.
const (
	CheckNameCPU          = "cpu"
	CheckNameMemory       = "memory"
	CheckNameDisk         = "disk"
	CheckNameNetwork      = "network"
	CheckNameProcess      = "process"
	CheckNameDependencies = "dependencies"
)

// builtinChecks lists the battery in execution order. The process check is
// only present when a pid is registered.
func (m *Monitor) builtinChecks(pid int32) []checkSpec {
	specs := []checkSpec{
		{name: CheckNameCPU, typ: CheckCPUUsage, fn: m.checkCPU},
		{name: CheckNameMemory, typ: CheckMemoryUsage, fn: m.checkMemory},
		{name: CheckNameDisk, typ: CheckDiskSpace, fn: m.checkDisk},
		{name: CheckNameNetwork, typ: CheckNetwork, fn: m.checkNetwork},
	}
	if pid > 0 {
		specs = append(specs, checkSpec{
			name: CheckNameProcess,
			typ:  CheckProcess,
			fn:   func(ctx context.Context) (HealthCheck, error) { return m.checkProcess(ctx, pid) },
		})
	}
	return append(specs, checkSpec{name: CheckNameDependencies, typ: CheckDependencies, fn: m.checkDependencies})
}

func (m *Monitor) checkCPU(ctx context.Context) (HealthCheck, error) {
	pct, err := m.sampler.CPUPercent(ctx)
	if err != nil {
		return HealthCheck{}, fmt.Errorf("sample cpu: %w", err)
	}
	status := EvaluateCPU(pct, m.cfg.CPUThresholdPercent)
	var msg string
	switch status {
	case StatusCritical:
		msg = fmt.Sprintf("CPU usage critical: %.1f%%", pct)
	case StatusDegraded:
		msg = fmt.Sprintf("CPU usage high: %.1f%%", pct)
	default:
		msg = fmt.Sprintf("CPU usage normal: %.1f%%", pct)
	}
	return NewHealthCheck(CheckNameCPU, CheckCPUUsage, status, msg, map[string]any{
		"cpu_percent": pct,
		"threshold":   m.cfg.CPUThresholdPercent,
	}), nil
}

func (m *Monitor) checkMemory(ctx context.Context) (HealthCheck, error) {
	mem, err := m.sampler.Memory(ctx)
	if err != nil {
		return HealthCheck{}, fmt.Errorf("sample memory: %w", err)
	}
	status := EvaluateMemory(mem.UsedPercent, m.cfg.MemoryThresholdPercent)
	var msg string
	switch status {
	case StatusCritical:
		msg = fmt.Sprintf("Memory usage critical: %.1f%%", mem.UsedPercent)
	case StatusDegraded:
		msg = fmt.Sprintf("Memory usage high: %.1f%%", mem.UsedPercent)
	default:
		msg = fmt.Sprintf("Memory usage normal: %.1f%%", mem.UsedPercent)
	}
	return NewHealthCheck(CheckNameMemory, CheckMemoryUsage, status, msg, map[string]any{
		"used_percent": mem.UsedPercent,
		"total_gb":     toGB(mem.TotalBytes),
		"available_gb": toGB(mem.AvailableBytes),
		"used_gb":      toGB(mem.UsedBytes),
		"threshold":    m.cfg.MemoryThresholdPercent,
	}), nil
}

func (m *Monitor) checkDisk(ctx context.Context) (HealthCheck, error) {
	disk, err := m.sampler.Disk(ctx, m.cfg.DiskPath)
	if err != nil {
		return HealthCheck{}, fmt.Errorf("sample disk %s: %w", m.cfg.DiskPath, err)
	}
	freeGB := toGB(disk.FreeBytes)
	status := EvaluateDisk(freeGB, disk.UsedPercent, m.cfg.MinDiskSpaceGB, m.cfg.DiskThresholdPercent)
	var msg string
	switch status {
	case StatusCritical:
		msg = fmt.Sprintf("Disk space critical: %.2f GB free (minimum %.2f GB)", freeGB, m.cfg.MinDiskSpaceGB)
	case StatusDegraded:
		msg = fmt.Sprintf("Disk usage high: %.1f%%", disk.UsedPercent)
	default:
		msg = fmt.Sprintf("Disk space OK: %.2f GB free", freeGB)
	}
	return NewHealthCheck(CheckNameDisk, CheckDiskSpace, status, msg, map[string]any{
		"path":         m.cfg.DiskPath,
		"free_gb":      freeGB,
		"total_gb":     toGB(disk.TotalBytes),
		"used_percent": disk.UsedPercent,
		"min_free_gb":  m.cfg.MinDiskSpaceGB,
		"threshold":    m.cfg.DiskThresholdPercent,
	}), nil
}

// checkNetwork is healthy as soon as one target answers and only ever
// degraded when none does.
func (m *Monitor) checkNetwork(ctx context.Context) (HealthCheck, error) {
	results := make(map[string]any, len(m.cfg.NetworkTargets))
	var reached []string
	for _, target := range m.cfg.NetworkTargets {
		if err := m.sampler.Dial(ctx, target, m.cfg.NetworkTimeout()); err != nil {
			results[target] = err.Error()
			continue
		}
		results[target] = "ok"
		reached = append(reached, target)
	}
	if len(reached) > 0 {
		return NewHealthCheck(CheckNameNetwork, CheckNetwork, StatusHealthy,
			fmt.Sprintf("Network connectivity OK (%s)", strings.Join(reached, ", ")),
			map[string]any{"targets": results}), nil
	}
	return NewHealthCheck(CheckNameNetwork, CheckNetwork, StatusDegraded,
		"Network connectivity issues: no target reachable",
		map[string]any{"targets": results}), nil
}

func (m *Monitor) checkProcess(ctx context.Context, pid int32) (HealthCheck, error) {
	p, err := m.sampler.Process(ctx, pid)
	if errors.Is(err, ErrNoSuchProcess) {
		return NewHealthCheck(CheckNameProcess, CheckProcess, StatusCritical,
			fmt.Sprintf("Process %d is not running", pid),
			map[string]any{"pid": pid, "error": err.Error()}), nil
	}
	if err != nil {
		return HealthCheck{}, fmt.Errorf("sample process %d: %w", pid, err)
	}
	status := EvaluateProcess(p)
	var msg string
	switch {
	case !p.Running:
		msg = fmt.Sprintf("Process %d is not running", pid)
	case status == StatusCritical:
		msg = fmt.Sprintf("Process %d is in state %s", pid, p.Status)
	case status == StatusDegraded:
		msg = fmt.Sprintf("Process %d CPU usage high: %.1f%%", pid, p.CPUPercent)
	default:
		msg = fmt.Sprintf("Process %d is running", pid)
	}
	return NewHealthCheck(CheckNameProcess, CheckProcess, status, msg, map[string]any{
		"pid":         pid,
		"name":        p.Name,
		"state":       p.Status,
		"cpu_percent": p.CPUPercent,
		"memory_mb":   toMB(p.MemoryRSSBytes),
		"num_fds":     p.NumFDs,
	}), nil
}

func (m *Monitor) checkDependencies(ctx context.Context) (HealthCheck, error) {
	caps := m.sampler.Capabilities(ctx)
	details := make(map[string]any, len(caps))
	var missing []string
	for name, err := range caps {
		if err != nil {
			details[name] = err.Error()
			missing = append(missing, name)
			continue
		}
		details[name] = "available"
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return NewHealthCheck(CheckNameDependencies, CheckDependencies, StatusDegraded,
			"Missing sampling capabilities: "+strings.Join(missing, ", "), details), nil
	}
	return NewHealthCheck(CheckNameDependencies, CheckDependencies, StatusHealthy,
		"All sampling capabilities available", details), nil
}
