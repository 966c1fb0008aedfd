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
	"sync"
	"time"
)

// fakeSampler returns canned values. Zero-valued errors mean success.
type fakeSampler struct {
	mu sync.Mutex

	cpu    float64
	cpuErr error
	mem    MemoryStats
	memErr error
	disk   DiskStats
	diskEr error

	reachable map[string]bool
	procs     map[int32]ProcessStats
	procErr   error
	caps      map[string]error

	cpuHang chan struct{} // when set, CPUPercent blocks until it is closed
	dials   []string
}

func newFakeSampler() *fakeSampler {
	return &fakeSampler{
		cpu: 10,
		mem: MemoryStats{
			TotalBytes:     16 << 30,
			AvailableBytes: 8 << 30,
			UsedBytes:      8 << 30,
			UsedPercent:    50,
		},
		disk: DiskStats{
			Path:        "/",
			TotalBytes:  100 << 30,
			FreeBytes:   50 << 30,
			UsedBytes:   50 << 30,
			UsedPercent: 50,
		},
		reachable: map[string]bool{"8.8.8.8:53": true, "1.1.1.1:53": true},
		procs:     map[int32]ProcessStats{},
		caps:      map[string]error{"cpu": nil, "memory": nil, "disk": nil, "process": nil},
	}
}

func (f *fakeSampler) CPUPercent(context.Context) (float64, error) {
	f.mu.Lock()
	hang := f.cpuHang
	f.mu.Unlock()
	if hang != nil {
		<-hang
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cpu, f.cpuErr
}

func (f *fakeSampler) Memory(context.Context) (MemoryStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mem, f.memErr
}

func (f *fakeSampler) Disk(_ context.Context, path string) (DiskStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.disk
	d.Path = path
	return d, f.diskEr
}

func (f *fakeSampler) Dial(_ context.Context, address string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials = append(f.dials, address)
	if f.reachable[address] {
		return nil
	}
	return errors.New("connection refused")
}

func (f *fakeSampler) ProcessExists(_ context.Context, pid int32) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.procs[pid]
	return ok, nil
}

func (f *fakeSampler) Process(_ context.Context, pid int32) (ProcessStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.procErr != nil {
		return ProcessStats{}, f.procErr
	}
	p, ok := f.procs[pid]
	if !ok {
		return ProcessStats{}, ErrNoSuchProcess
	}
	return p, nil
}

func (f *fakeSampler) Capabilities(context.Context) map[string]error {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]error, len(f.caps))
	for k, v := range f.caps {
		out[k] = v
	}
	return out
}

func (f *fakeSampler) set(fn func(*fakeSampler)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}
