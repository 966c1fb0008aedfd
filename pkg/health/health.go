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

// Package health samples host and process resources and turns them into an
// aggregated health verdict, either on demand or on a periodic loop.
package health

import (
	"context"
	"time"
)

// MemoryStats is a snapshot of host memory.
type MemoryStats struct {
	TotalBytes     uint64
	AvailableBytes uint64
	UsedBytes      uint64
	UsedPercent    float64
}

// DiskStats is a snapshot of one filesystem.
type DiskStats struct {
	Path        string
	TotalBytes  uint64
	FreeBytes   uint64
	UsedBytes   uint64
	UsedPercent float64
}

// ProcessStats is a snapshot of one process.
type ProcessStats struct {
	PID            int32
	Name           string
	Running        bool
	Status         string // running, sleep, zombie, dead, ...
	CPUPercent     float64
	MemoryRSSBytes uint64
	NumFDs         int32
}

// Sampler reads instantaneous resource metrics. Implementations hold no state
// between calls and must honour ctx for anything that can block.
type Sampler interface {
	// CPUPercent returns host-wide CPU utilisation.
	CPUPercent(ctx context.Context) (float64, error)
	// Memory returns host memory usage.
	Memory(ctx context.Context) (MemoryStats, error)
	// Disk returns usage of the filesystem holding path.
	Disk(ctx context.Context, path string) (DiskStats, error)
	// Dial opens and closes a TCP connection to address within timeout.
	Dial(ctx context.Context, address string, timeout time.Duration) error
	// ProcessExists reports whether pid exists.
	ProcessExists(ctx context.Context, pid int32) (bool, error)
	// Process samples pid. It returns an error wrapping ErrNoSuchProcess when
	// the process is gone.
	Process(ctx context.Context, pid int32) (ProcessStats, error)
	// Capabilities probes each sampling capability and maps its name to nil
	// when usable or to the reason it is not.
	Capabilities(ctx context.Context) map[string]error
}

// Checker is a user supplied check run on every cycle after the built-in
// battery.
type Checker interface {
	Name() string
	Check(ctx context.Context) (HealthCheck, error)
}
