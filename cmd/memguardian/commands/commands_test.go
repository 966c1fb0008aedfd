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

package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/srediag/memory-guardian/internal/config"
	"github.com/srediag/memory-guardian/pkg/health"
	"github.com/srediag/memory-guardian/pkg/lifecycle"
)

// staticSampler reports a healthy host with a configurable memory figure.
type staticSampler struct {
	availableBytes uint64
	rssBytes       uint64
}

func (s staticSampler) CPUPercent(context.Context) (float64, error) { return 12, nil }

func (s staticSampler) Memory(context.Context) (health.MemoryStats, error) {
	return health.MemoryStats{TotalBytes: 16 << 30, AvailableBytes: s.availableBytes, UsedBytes: 16<<30 - s.availableBytes, UsedPercent: 40}, nil
}

func (s staticSampler) Disk(_ context.Context, path string) (health.DiskStats, error) {
	return health.DiskStats{Path: path, TotalBytes: 100 << 30, FreeBytes: 60 << 30, UsedBytes: 40 << 30, UsedPercent: 40}, nil
}

func (s staticSampler) Dial(context.Context, string, time.Duration) error { return nil }

func (s staticSampler) ProcessExists(_ context.Context, pid int32) (bool, error) { return pid == 42, nil }

func (s staticSampler) Process(_ context.Context, pid int32) (health.ProcessStats, error) {
	if pid != 42 {
		return health.ProcessStats{}, health.ErrNoSuchProcess
	}
	return health.ProcessStats{PID: pid, Name: "worker", Running: true, Status: "s", CPUPercent: 3, MemoryRSSBytes: s.rssBytes}, nil
}

func (s staticSampler) Capabilities(context.Context) map[string]error {
	return map[string]error{"cpu": nil, "memory": nil, "disk": nil, "process": nil}
}

func newTestApp(s health.Sampler) *app {
	return &app{log: zap.NewNop(), newSampler: func() health.Sampler { return s }}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "memguardian.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func execute(a *app, args ...string) (string, error) {
	root := newRootCmd(a)
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func healthyApp() *app {
	return newTestApp(staticSampler{availableBytes: 8 << 30, rssBytes: 256 << 20})
}

func TestRootHelp(t *testing.T) {
	out, err := execute(healthyApp(), "--help")
	require.NoError(t, err)
	for _, sub := range []string{"check", "validate", "status", "reset-circuit", "backoff", "config", "serve"} {
		assert.Contains(t, out, sub)
	}
}

func TestCheckTable(t *testing.T) {
	cfg := writeConfig(t, "")
	out, err := execute(healthyApp(), "-c", cfg, "check", "--pid", "42", "-v")
	require.NoError(t, err)
	assert.Contains(t, out, "overall: healthy (6/6 healthy, 100%)")
	assert.Contains(t, out, "process")
	assert.Contains(t, out, "pid=42")
}

func TestCheckJSON(t *testing.T) {
	out, err := execute(healthyApp(), "-c", writeConfig(t, ""), "check", "--json")
	require.NoError(t, err)
	var sh map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &sh))
	assert.Equal(t, "healthy", sh["status"])
	assert.Len(t, sh["checks"], 5)
}

func TestCheckUnknownPid(t *testing.T) {
	_, err := execute(healthyApp(), "-c", writeConfig(t, ""), "check", "--pid", "7")
	assert.ErrorContains(t, err, "process 7 not found")
}

func TestValidate(t *testing.T) {
	out, err := execute(healthyApp(), "-c", writeConfig(t, ""), "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "System resources OK")

	starved := newTestApp(staticSampler{availableBytes: 100 << 20})
	out, err = execute(starved, "-c", writeConfig(t, ""), "validate")
	assert.ErrorIs(t, err, errPreflightFailed)
	assert.Contains(t, out, "Insufficient memory")
}

func TestBackoff(t *testing.T) {
	out, err := execute(healthyApp(), "-c", writeConfig(t, ""), "backoff", "4")
	require.NoError(t, err)
	assert.Contains(t, out, "attempt 4:")
	assert.Contains(t, out, "(nominal 8s)")

	_, err = execute(healthyApp(), "-c", writeConfig(t, ""), "backoff", "zero")
	assert.Error(t, err)
}

func TestConfigPrintsEffectiveYAML(t *testing.T) {
	out, err := execute(healthyApp(), "-c", writeConfig(t, "restart:\n  max_restarts_per_hour: 9\n"), "config")
	require.NoError(t, err)
	assert.Contains(t, out, "max_restarts_per_hour: 9")
	assert.Contains(t, out, "cpu_threshold_percent: 80")
}

func TestStatusAndResetCircuit(t *testing.T) {
	state := filepath.Join(t.TempDir(), "state.json")
	cfgPath := writeConfig(t, fmt.Sprintf("restart:\n  state_file: %s\n  max_consecutive_failures: 2\n", state))

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	p, err := lifecycle.New(cfg.Restart)
	require.NoError(t, err)
	p.RecordRestart("oom", 900, false, time.Second)
	p.RecordRestart("oom", 950, false, 2*time.Second)
	require.NoError(t, p.Save())
	p.Transitions().Close()

	out, err := execute(healthyApp(), "-c", cfgPath, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "restarts:             2 (0 ok, 2 failed, 0% success)")
	assert.Contains(t, out, "circuit:              open")
	assert.Equal(t, 2, strings.Count(out, "failed  "))

	out, err = execute(healthyApp(), "-c", cfgPath, "reset-circuit")
	require.NoError(t, err)
	assert.Contains(t, out, "circuit open -> closed")

	out, err = execute(healthyApp(), "-c", cfgPath, "status", "--json")
	require.NoError(t, err)
	var doc struct {
		Statistics lifecycle.RestartStatistics `json:"statistics"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, lifecycle.CircuitClosed, doc.Statistics.CircuitState)
	assert.Zero(t, doc.Statistics.ConsecutiveFailures)
	assert.Equal(t, 2, doc.Statistics.TotalRestarts)
}

func TestStatusNeedsStateFile(t *testing.T) {
	_, err := execute(healthyApp(), "-c", writeConfig(t, ""), "status")
	assert.ErrorIs(t, err, errNoStateFile)
}

func TestServe(t *testing.T) {
	state := filepath.Join(t.TempDir(), "state.json")
	cfgPath := writeConfig(t, fmt.Sprintf(`
health:
  check_interval_seconds: 0.05
restart:
  state_file: %s
  analysis_interval_seconds: 0.05
server:
  listen_addr: 127.0.0.1:0
`, state))

	a := healthyApp()
	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	a.cfg = cfg

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan string, 1)
	done := make(chan error, 1)
	go func() { done <- a.serve(ctx, 42, ready) }()

	var addr string
	select {
	case addr = <-ready:
	case err := <-done:
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not start")
	}

	get := func(path string) (int, string) {
		resp, err := http.Get("http://" + addr + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(body)
	}

	assert.Eventually(t, func() bool {
		code, _ := get("/ready")
		return code == http.StatusOK
	}, 3*time.Second, 20*time.Millisecond)

	code, _ := get("/live")
	assert.Equal(t, http.StatusOK, code)

	code, body := get("/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "memguardian_health_status")
	assert.Contains(t, body, "memguardian_restart_circuit_state")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}

	_, err = os.Stat(state)
	assert.NoError(t, err, "state is saved on shutdown")
}
