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
	"sync"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/srediag/memory-guardian/internal/ring"
)

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithTracer sets the tracer used for cycle and check spans.
func WithTracer(t trace.Tracer) Option {
	return func(m *Monitor) {
		if t != nil {
			m.tracer = t
		}
	}
}

// WithClock overrides the time source used to stamp snapshots.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// Monitor runs the health battery and keeps a bounded history of verdicts.
type Monitor struct {
	cfg     Config
	sampler Sampler
	logger  *zap.Logger
	tracer  trace.Tracer
	now     func() time.Time
	runner  *checkRunner
	custom  cmap.ConcurrentMap[string, Checker]

	// cycleMu serializes whole cycles; mu guards the state below.
	cycleMu sync.Mutex
	mu      sync.Mutex
	pid     int32
	history *ring.Buffer[SystemHealth]

	loopMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor builds a monitor. Zero fields of cfg take their defaults.
func NewMonitor(cfg Config, sampler Sampler, opts ...Option) (*Monitor, error) {
	if sampler == nil {
		return nil, ErrNoSampler
	}
	cfg.ApplyDefaults()
	if err := cfg.Verify(); err != nil {
		return nil, err
	}
	m := &Monitor{
		cfg:     cfg,
		sampler: sampler,
		logger:  zap.NewNop(),
		tracer:  noop.NewTracerProvider().Tracer(""),
		now:     time.Now,
		custom:  cmap.New[Checker](),
		history: ring.New[SystemHealth](cfg.HistorySize),
	}
	for _, opt := range opts {
		opt(m)
	}
	runner, err := newCheckRunner(cfg.WorkerPoolSize, cfg.CheckTimeout(), m.tracer, m.now)
	if err != nil {
		return nil, err
	}
	m.runner = runner
	return m, nil
}

// Config returns the effective configuration.
func (m *Monitor) Config() Config { return m.cfg }

// SetMonitoredProcess attaches pid to the process check. It returns false and
// leaves the previous pid in place when no such process exists.
func (m *Monitor) SetMonitoredProcess(ctx context.Context, pid int32) bool {
	if pid <= 0 {
		return false
	}
	ok, err := m.sampler.ProcessExists(ctx, pid)
	if err != nil || !ok {
		m.logger.Warn("cannot monitor process", zap.Int32("pid", pid), zap.Error(err))
		return false
	}
	m.mu.Lock()
	m.pid = pid
	m.mu.Unlock()
	m.logger.Info("monitoring process", zap.Int32("pid", pid))
	return true
}

// ClearMonitoredProcess drops the process check from later cycles.
func (m *Monitor) ClearMonitoredProcess() {
	m.mu.Lock()
	m.pid = 0
	m.mu.Unlock()
}

// MonitoredProcess returns the registered pid, if any.
func (m *Monitor) MonitoredProcess() (int32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pid, m.pid > 0
}

// RegisterHealthCheck adds c to every later cycle, replacing any check with
// the same name.
func (m *Monitor) RegisterHealthCheck(c Checker) error {
	if c == nil || c.Name() == "" {
		return errors.New("health: custom check needs a name")
	}
	m.custom.Set(c.Name(), c)
	m.logger.Debug("registered custom health check", zap.String("check", c.Name()))
	return nil
}

// UnregisterHealthCheck removes a custom check by name.
func (m *Monitor) UnregisterHealthCheck(name string) {
	m.custom.Remove(name)
}

func (m *Monitor) customCheckers() []Checker {
	names := m.custom.Keys()
	sort.Strings(names)
	out := make([]Checker, 0, len(names))
	for _, n := range names {
		if c, ok := m.custom.Get(n); ok {
			out = append(out, c)
		}
	}
	return out
}

// CheckHealth runs one full cycle and records it in the history. It never
// fails: built-in checks that error out are reported as unhealthy, custom
// checks that error out are logged and left out.
func (m *Monitor) CheckHealth(ctx context.Context) SystemHealth {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()

	ctx, span := m.tracer.Start(ctx, "health.check_health")
	defer span.End()

	pid, _ := m.MonitoredProcess()
	builtins := m.builtinChecks(pid)
	custom := m.customCheckers()
	checks := make([]HealthCheck, 0, len(builtins)+len(custom))

	for _, cs := range builtins {
		checks = append(checks, m.runner.run(ctx, cs))
	}
	for _, c := range custom {
		hc, err := m.runner.execute(ctx, checkSpec{name: c.Name(), typ: CheckCustom, fn: c.Check})
		if err != nil {
			m.logger.Warn("custom health check failed, skipping", zap.String("check", c.Name()), zap.Error(err))
			continue
		}
		checks = append(checks, hc)
	}

	result := SystemHealth{
		Status:    Aggregate(checks),
		Checks:    checks,
		Timestamp: m.now(),
	}

	m.mu.Lock()
	m.history.Push(result.clone())
	m.mu.Unlock()

	span.SetAttributes(
		attribute.String("health.status", result.Status.String()),
		attribute.Int("health.checks", result.TotalChecks()),
	)
	if result.Status != StatusHealthy {
		m.logger.Warn("health degraded",
			zap.Stringer("status", result.Status),
			zap.Int("healthy_checks", result.HealthyChecks()),
			zap.Int("total_checks", result.TotalChecks()))
	} else {
		m.logger.Debug("health check complete", zap.Int("total_checks", result.TotalChecks()))
	}
	return result
}

// HealthStatus returns the latest verdict; ok is false before the first cycle.
func (m *Monitor) HealthStatus() (SystemHealth, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sh, ok := m.history.Last()
	return sh.clone(), ok
}

// HealthHistory returns up to limit verdicts, oldest first. A limit of zero or
// less returns the whole history.
func (m *Monitor) HealthHistory(limit int) []SystemHealth {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SystemHealth
	if limit <= 0 {
		out = m.history.Slice()
	} else {
		out = m.history.Tail(limit)
	}
	for i := range out {
		out[i] = out[i].clone()
	}
	return out
}

// ValidateBeforeStart is the pre-flight gate run before launching the
// monitored process.
func (m *Monitor) ValidateBeforeStart(ctx context.Context) (bool, string) {
	mem, err := m.sampler.Memory(ctx)
	if err != nil {
		return false, fmt.Sprintf("Pre-flight check failed: %v", err)
	}
	if availMB := toMB(mem.AvailableBytes); availMB < MinStartAvailableMemoryMB {
		return false, fmt.Sprintf("Insufficient memory: %.0f MB available (minimum %.0f MB)", availMB, MinStartAvailableMemoryMB)
	}

	disk, err := m.sampler.Disk(ctx, m.cfg.DiskPath)
	if err != nil {
		return false, fmt.Sprintf("Pre-flight check failed: %v", err)
	}
	if freeGB := toGB(disk.FreeBytes); freeGB < m.cfg.MinDiskSpaceGB {
		return false, fmt.Sprintf("Insufficient disk space: %.2f GB free (minimum %.2f GB)", freeGB, m.cfg.MinDiskSpaceGB)
	}

	cpu, err := m.sampler.CPUPercent(ctx)
	if err != nil {
		return false, fmt.Sprintf("Pre-flight check failed: %v", err)
	}
	if cpu >= MaxStartCPUPercent {
		return false, fmt.Sprintf("CPU usage too high: %.1f%%", cpu)
	}
	return true, "System resources OK"
}

// StartMonitoring runs CheckHealth immediately and then every check interval
// until ctx is cancelled or StopMonitoring is called.
func (m *Monitor) StartMonitoring(ctx context.Context) error {
	m.loopMu.Lock()
	defer m.loopMu.Unlock()
	if m.loopActiveLocked() {
		return ErrAlreadyRunning
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.loop(loopCtx, m.done)
	m.logger.Info("health monitoring started", zap.Duration("interval", m.cfg.CheckInterval()))
	return nil
}

// StopMonitoring cancels the loop and waits for the in-flight cycle to finish.
func (m *Monitor) StopMonitoring() {
	m.loopMu.Lock()
	defer m.loopMu.Unlock()
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.cancel, m.done = nil, nil
	m.logger.Info("health monitoring stopped")
}

// Running reports whether the periodic loop is active.
func (m *Monitor) Running() bool {
	m.loopMu.Lock()
	defer m.loopMu.Unlock()
	return m.loopActiveLocked()
}

// loopActiveLocked clears the loop state once the goroutine has exited on its
// own, which happens when the parent context is cancelled.
func (m *Monitor) loopActiveLocked() bool {
	if m.cancel == nil {
		return false
	}
	select {
	case <-m.done:
		m.cancel()
		m.cancel, m.done = nil, nil
		return false
	default:
		return true
	}
}

func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.cfg.CheckInterval())
	defer ticker.Stop()

	for {
		// A started cycle runs to completion even if ctx is cancelled meanwhile.
		m.CheckHealth(context.WithoutCancel(ctx))
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Close stops the loop and releases the check workers.
func (m *Monitor) Close() {
	m.StopMonitoring()
	m.runner.release()
}
