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
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type staticChecker struct {
	name   string
	status Status
	err    error
	panics bool
}

func (c *staticChecker) Name() string { return c.name }

func (c *staticChecker) Check(context.Context) (HealthCheck, error) {
	if c.panics {
		panic("custom check exploded")
	}
	if c.err != nil {
		return HealthCheck{}, c.err
	}
	return NewHealthCheck("", "", c.status, "custom "+c.name, nil), nil
}

type MonitorTestSuite struct {
	suite.Suite
	sampler *fakeSampler
	monitor *Monitor
}

func (s *MonitorTestSuite) SetupTest() {
	s.sampler = newFakeSampler()
	cfg := DefaultConfig()
	cfg.CheckTimeoutSeconds = 0.2
	cfg.CheckIntervalSeconds = 0.05
	m, err := NewMonitor(cfg, s.sampler)
	s.Require().NoError(err)
	s.monitor = m
}

func (s *MonitorTestSuite) TearDownTest() {
	s.monitor.Close()
}

func (s *MonitorTestSuite) names(h SystemHealth) []string {
	out := make([]string, 0, len(h.Checks))
	for _, c := range h.Checks {
		out = append(out, c.Name)
	}
	return out
}

func (s *MonitorTestSuite) TestHealthyBattery() {
	h := s.monitor.CheckHealth(context.Background())
	s.Equal(StatusHealthy, h.Status)
	s.Equal([]string{CheckNameCPU, CheckNameMemory, CheckNameDisk, CheckNameNetwork, CheckNameDependencies}, s.names(h))
	s.InDelta(100.0, h.HealthPercentage(), 1e-9)

	latest, ok := s.monitor.HealthStatus()
	s.True(ok)
	s.Equal(h.Timestamp, latest.Timestamp)
}

func (s *MonitorTestSuite) TestNoStatusBeforeFirstCycle() {
	_, ok := s.monitor.HealthStatus()
	s.False(ok)
	s.Empty(s.monitor.HealthHistory(10))
}

func (s *MonitorTestSuite) TestAggregatesWorstCheck() {
	s.sampler.set(func(f *fakeSampler) {
		f.cpu = 85
		f.disk.FreeBytes = 512 << 20
	})
	h := s.monitor.CheckHealth(context.Background())
	s.Equal(StatusCritical, h.Status)

	cpu, _ := h.Check(CheckNameCPU)
	s.Equal(StatusDegraded, cpu.Status)
	disk, _ := h.Check(CheckNameDisk)
	s.Equal(StatusCritical, disk.Status)
}

func (s *MonitorTestSuite) TestFailingProbeBecomesUnhealthy() {
	s.sampler.set(func(f *fakeSampler) { f.memErr = errors.New("permission denied") })
	h := s.monitor.CheckHealth(context.Background())
	mem, ok := h.Check(CheckNameMemory)
	s.Require().True(ok)
	s.Equal(StatusUnhealthy, mem.Status)
	s.Contains(mem.Message, "permission denied")
	s.Equal(StatusUnhealthy, h.Status)
	s.Len(h.Checks, 5)
}

func (s *MonitorTestSuite) TestHungCheckIsIsolated() {
	hang := make(chan struct{})
	defer close(hang)
	s.sampler.set(func(f *fakeSampler) { f.cpuHang = hang })

	start := time.Now()
	h := s.monitor.CheckHealth(context.Background())
	s.Less(time.Since(start), 2*time.Second)

	cpu, _ := h.Check(CheckNameCPU)
	s.Equal(StatusUnhealthy, cpu.Status)
	s.Contains(cpu.Message, "timed out")
	mem, _ := h.Check(CheckNameMemory)
	s.Equal(StatusHealthy, mem.Status)
}

func (s *MonitorTestSuite) TestNetworkDegradesOnlyWhenAllTargetsFail() {
	s.sampler.set(func(f *fakeSampler) { f.reachable = map[string]bool{"1.1.1.1:53": true} })
	h := s.monitor.CheckHealth(context.Background())
	n, _ := h.Check(CheckNameNetwork)
	s.Equal(StatusHealthy, n.Status)

	s.sampler.set(func(f *fakeSampler) { f.reachable = map[string]bool{} })
	h = s.monitor.CheckHealth(context.Background())
	n, _ = h.Check(CheckNameNetwork)
	s.Equal(StatusDegraded, n.Status)
	s.Equal(StatusDegraded, h.Status)
}

func (s *MonitorTestSuite) TestProcessCheck() {
	s.False(s.monitor.SetMonitoredProcess(context.Background(), 4242))
	_, ok := s.monitor.MonitoredProcess()
	s.False(ok)

	s.sampler.set(func(f *fakeSampler) {
		f.procs[4242] = ProcessStats{PID: 4242, Running: true, Status: "running", CPUPercent: 95}
	})
	s.True(s.monitor.SetMonitoredProcess(context.Background(), 4242))

	h := s.monitor.CheckHealth(context.Background())
	s.Equal([]string{CheckNameCPU, CheckNameMemory, CheckNameDisk, CheckNameNetwork, CheckNameProcess, CheckNameDependencies}, s.names(h))
	p, _ := h.Check(CheckNameProcess)
	s.Equal(StatusDegraded, p.Status)

	s.sampler.set(func(f *fakeSampler) { delete(f.procs, 4242) })
	h = s.monitor.CheckHealth(context.Background())
	p, _ = h.Check(CheckNameProcess)
	s.Equal(StatusCritical, p.Status)

	s.monitor.ClearMonitoredProcess()
	h = s.monitor.CheckHealth(context.Background())
	_, ok = h.Check(CheckNameProcess)
	s.False(ok)
}

func (s *MonitorTestSuite) TestMissingCapabilityDegrades() {
	s.sampler.set(func(f *fakeSampler) { f.caps["process"] = errors.New("not implemented on this platform") })
	h := s.monitor.CheckHealth(context.Background())
	d, _ := h.Check(CheckNameDependencies)
	s.Equal(StatusDegraded, d.Status)
	s.Contains(d.Message, "process")
}

func (s *MonitorTestSuite) TestCustomChecks() {
	s.Require().NoError(s.monitor.RegisterHealthCheck(&staticChecker{name: "queue", status: StatusDegraded}))
	s.Require().NoError(s.monitor.RegisterHealthCheck(&staticChecker{name: "broken", err: errors.New("boom")}))
	s.Require().NoError(s.monitor.RegisterHealthCheck(&staticChecker{name: "panicky", panics: true}))
	s.Error(s.monitor.RegisterHealthCheck(&staticChecker{}))

	h := s.monitor.CheckHealth(context.Background())
	s.Len(h.Checks, 6)
	q, ok := h.Check("queue")
	s.Require().True(ok)
	s.Equal(CheckCustom, q.Type)
	s.Equal(StatusDegraded, h.Status)
	_, ok = h.Check("broken")
	s.False(ok)

	s.monitor.UnregisterHealthCheck("queue")
	h = s.monitor.CheckHealth(context.Background())
	s.Equal(StatusHealthy, h.Status)
}

func (s *MonitorTestSuite) TestHistoryIsBounded() {
	cfg := DefaultConfig()
	cfg.HistorySize = 3
	m, err := NewMonitor(cfg, s.sampler)
	s.Require().NoError(err)
	defer m.Close()

	for i := 0; i < 5; i++ {
		m.CheckHealth(context.Background())
	}
	s.Len(m.HealthHistory(0), 3)
	s.Len(m.HealthHistory(2), 2)
	s.Len(m.HealthHistory(50), 3)
}

func (s *MonitorTestSuite) TestValidateBeforeStart() {
	ok, msg := s.monitor.ValidateBeforeStart(context.Background())
	s.True(ok, msg)

	s.sampler.set(func(f *fakeSampler) { f.mem.AvailableBytes = 400 << 20 })
	ok, msg = s.monitor.ValidateBeforeStart(context.Background())
	s.False(ok)
	s.Contains(msg, "Insufficient memory")

	s.sampler.set(func(f *fakeSampler) {
		f.mem.AvailableBytes = 1 << 30
		f.disk.FreeBytes = 100 << 20
	})
	ok, msg = s.monitor.ValidateBeforeStart(context.Background())
	s.False(ok)
	s.Contains(msg, "Insufficient disk space")

	s.sampler.set(func(f *fakeSampler) {
		f.disk.FreeBytes = 10 << 30
		f.cpu = 97
	})
	ok, msg = s.monitor.ValidateBeforeStart(context.Background())
	s.False(ok)
	s.Contains(msg, "CPU usage too high")
}

func (s *MonitorTestSuite) TestMonitoringLoop() {
	s.Require().NoError(s.monitor.StartMonitoring(context.Background()))
	s.ErrorIs(s.monitor.StartMonitoring(context.Background()), ErrAlreadyRunning)
	s.True(s.monitor.Running())

	s.Eventually(func() bool { return len(s.monitor.HealthHistory(0)) >= 3 }, 2*time.Second, 10*time.Millisecond)
	s.monitor.StopMonitoring()
	s.False(s.monitor.Running())

	n := len(s.monitor.HealthHistory(0))
	time.Sleep(150 * time.Millisecond)
	s.Equal(n, len(s.monitor.HealthHistory(0)))

	s.monitor.StopMonitoring()
}

func (s *MonitorTestSuite) TestSnapshotsAreCopies() {
	returned := s.monitor.CheckHealth(context.Background())
	returned.Checks[0].Status = StatusCritical

	latest, ok := s.monitor.HealthStatus()
	s.Require().True(ok)
	latest.Checks[0].Status = StatusCritical
	latest.Checks[0].Details["cpu_percent"] = 99.0
	tampered, _ := latest.Check(CheckNameNetwork)
	targets := tampered.Details["targets"].(map[string]any)
	for k := range targets {
		targets[k] = "tampered"
	}
	history := s.monitor.HealthHistory(0)
	history[0].Checks[1].Status = StatusCritical

	again, _ := s.monitor.HealthStatus()
	s.Equal(StatusHealthy, again.Status)
	for _, c := range again.Checks {
		s.Equal(StatusHealthy, c.Status, c.Name)
	}
	cpu, _ := again.Check(CheckNameCPU)
	s.NotEqual(99.0, cpu.Details["cpu_percent"])
	network, _ := again.Check(CheckNameNetwork)
	for target, result := range network.Details["targets"].(map[string]any) {
		s.Equal("ok", result, target)
	}
}

func (s *MonitorTestSuite) TestLoopEndsWithParentContext() {
	ctx, cancel := context.WithCancel(context.Background())
	s.Require().NoError(s.monitor.StartMonitoring(ctx))
	cancel()

	s.Eventually(func() bool { return !s.monitor.Running() }, 2*time.Second, 10*time.Millisecond)
	s.Require().NoError(s.monitor.StartMonitoring(context.Background()))
	s.True(s.monitor.Running())
	s.monitor.StopMonitoring()
}

func (s *MonitorTestSuite) TestNewMonitorRejectsBadInput() {
	_, err := NewMonitor(DefaultConfig(), nil)
	s.ErrorIs(err, ErrNoSampler)

	cfg := DefaultConfig()
	cfg.DiskThresholdPercent = 150
	_, err = NewMonitor(cfg, s.sampler)
	s.ErrorIs(err, ErrInvalidConfig)
}

func TestMonitorTestSuite(t *testing.T) {
	suite.Run(t, new(MonitorTestSuite))
}
