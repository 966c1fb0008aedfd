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
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/srediag/memory-guardian/adapter"
	"github.com/srediag/memory-guardian/pkg/health"
	"github.com/srediag/memory-guardian/pkg/lifecycle"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var pid int32
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the health and restart loops and expose probes and metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, pid, nil)
		},
	}
	cmd.Flags().Int32Var(&pid, "pid", 0, "supervised process to monitor and sample memory from")
	return cmd
}

// serve runs until ctx is cancelled. When ready is non-nil it receives the
// bound listen address once the HTTP server accepts connections.
func (a *app) serve(ctx context.Context, pid int32, ready chan<- string) error {
	tel := adapter.NewTelemetry(nil, nil)

	sampler := a.newSampler()
	m, err := health.NewMonitor(a.cfg.Health, sampler, health.WithLogger(a.log), health.WithTracer(tel.Tracer))
	if err != nil {
		return err
	}
	defer m.Close()

	p, err := a.protection(lifecycle.WithMeter(tel.Meter))
	if err != nil {
		return err
	}
	if err := p.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := p.Stop(); err != nil {
			a.log.Warn("final state save failed", zap.Error(err))
		}
	}()

	if pid > 0 {
		if !m.SetMonitoredProcess(ctx, pid) {
			return fmt.Errorf("process %d not found", pid)
		}
		go a.sampleMemory(ctx, p, processMemory(sampler), pid, m.Config().CheckInterval())
	}
	go a.logTransitions(p.Transitions())
	defer p.Transitions().Close()

	if err := m.StartMonitoring(ctx); err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		adapter.NewCollector(m, p),
	)
	probes := adapter.NewHealthHandler(m, p, registry)

	mux := http.NewServeMux()
	mux.HandleFunc(a.cfg.Server.LivePath, probes.LiveEndpoint)
	mux.HandleFunc(a.cfg.Server.ReadyPath, probes.ReadyEndpoint)
	mux.Handle(a.cfg.Server.MetricsPath, promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.cfg.Server.ListenAddr, err)
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	a.log.Info("memguardian serving",
		zap.String("addr", ln.Addr().String()),
		zap.Int32("pid", pid),
		zap.String("state_file", a.cfg.Restart.StateFile))
	if ready != nil {
		ready <- ln.Addr().String()
	}

	select {
	case <-ctx.Done():
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("http shutdown", zap.Error(err))
	}
	m.StopMonitoring()
	a.log.Info("memguardian stopped")
	return nil
}

type memoryReader func(ctx context.Context, pid int32) (float64, error)

// processMemory prefers the sampler's cheap RSS reader over a full process
// sample.
func processMemory(s health.Sampler) memoryReader {
	if r, ok := s.(interface {
		ProcessMemoryMB(ctx context.Context, pid int32) (float64, error)
	}); ok {
		return r.ProcessMemoryMB
	}
	return func(ctx context.Context, pid int32) (float64, error) {
		ps, err := s.Process(ctx, pid)
		if err != nil {
			return 0, err
		}
		return float64(ps.MemoryRSSBytes) / (1 << 20), nil
	}
}

// sampleMemory feeds the leak detector with RSS readings of pid.
func (a *app) sampleMemory(ctx context.Context, p *lifecycle.RestartProtection, read memoryReader, pid int32, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		mb, err := read(ctx, pid)
		if err != nil {
			a.log.Debug("sample process memory", zap.Int32("pid", pid), zap.Error(err))
		} else {
			p.RecordMemorySample(mb)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (a *app) logTransitions(feed *lifecycle.TransitionFeed) {
	for {
		t, err := feed.Next(time.Minute)
		switch {
		case errors.Is(err, lifecycle.ErrFeedClosed):
			return
		case errors.Is(err, lifecycle.ErrFeedTimeout):
			continue
		case err != nil:
			a.log.Warn("read circuit transitions", zap.Error(err))
			return
		}
		a.log.Info("circuit transition",
			zap.Stringer("from", t.From),
			zap.Stringer("to", t.To),
			zap.Time("at", t.At),
			zap.String("reason", t.Reason))
	}
}
