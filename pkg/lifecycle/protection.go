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

package lifecycle

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	statestore "github.com/srediag/memory-guardian/internal/lifecycle"
	"github.com/srediag/memory-guardian/internal/ring"
)

// StateStore loads and saves the persisted state document.
type StateStore interface {
	Load(v any) (bool, error)
	Save(v any) error
}

// Locker is implemented by stores that can claim exclusive ownership while
// the engine is started.
type Locker interface {
	Lock() error
	Unlock() error
}

// Option configures a RestartProtection.
type Option func(*RestartProtection)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(p *RestartProtection) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *RestartProtection) {
		if now != nil {
			p.now = now
		}
	}
}

// WithStateStore replaces the file store derived from Config.StateFile.
func WithStateStore(s StateStore) Option {
	return func(p *RestartProtection) { p.store = s }
}

// WithMeter records restart and admission counters on m.
func WithMeter(m metric.Meter) Option {
	return func(p *RestartProtection) {
		if m != nil {
			p.meter = m
		}
	}
}

type instruments struct {
	restarts   metric.Int64Counter
	admissions metric.Int64Counter
	trips      metric.Int64Counter
}

func newInstruments(m metric.Meter) (instruments, error) {
	var ins instruments
	var err error
	if ins.restarts, err = m.Int64Counter("memguardian.restarts",
		metric.WithDescription("Restart attempts recorded, by outcome.")); err != nil {
		return ins, err
	}
	if ins.admissions, err = m.Int64Counter("memguardian.restart_admissions",
		metric.WithDescription("Restart admission decisions, by verdict.")); err != nil {
		return ins, err
	}
	if ins.trips, err = m.Int64Counter("memguardian.circuit_trips",
		metric.WithDescription("Times the restart circuit breaker opened.")); err != nil {
		return ins, err
	}
	return ins, nil
}

// RestartProtection is the restart admission engine. All of its state sits
// behind one mutex so that each operation evaluates and records atomically.
type RestartProtection struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
	store  StateStore
	meter  metric.Meter
	ins    instruments
	feed   *TransitionFeed

	mu      sync.Mutex
	history *ring.Buffer[RestartRecord]
	samples *ring.Buffer[MemorySample]
	stats   RestartStatistics
	breaker *CircuitBreaker

	saveMu sync.Mutex

	loopMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds the engine and resumes from the state store when one is
// configured. An unreadable or corrupt state file is logged and ignored.
func New(cfg Config, opts ...Option) (*RestartProtection, error) {
	cfg.ApplyDefaults()
	if err := cfg.Verify(); err != nil {
		return nil, err
	}
	p := &RestartProtection{
		cfg:     cfg,
		logger:  zap.NewNop(),
		now:     time.Now,
		meter:   noop.NewMeterProvider().Meter(""),
		feed:    newTransitionFeed(DefaultFeedCapacity),
		history: ring.New[RestartRecord](cfg.RestartHistorySize),
		samples: ring.New[MemorySample](cfg.MemorySampleCapacity),
		breaker: NewCircuitBreaker(cfg.MaxConsecutiveFailures, cfg.circuitReset()),
	}
	if cfg.StateFile != "" {
		p.store = statestore.NewFileStore(cfg.StateFile)
	}
	for _, opt := range opts {
		opt(p)
	}
	ins, err := newInstruments(p.meter)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: create instruments: %w", err)
	}
	p.ins = ins
	p.breaker.onTransition = p.onTransition
	p.load()
	return p, nil
}

// Config returns the effective configuration.
func (p *RestartProtection) Config() Config { return p.cfg }

// Transitions returns the feed of circuit breaker transitions.
func (p *RestartProtection) Transitions() *TransitionFeed { return p.feed }

// onTransition runs with p.mu held.
func (p *RestartProtection) onTransition(t CircuitTransition) {
	p.feed.publish(t)
	fields := []zap.Field{
		zap.Stringer("from", t.From),
		zap.Stringer("to", t.To),
		zap.String("reason", t.Reason),
	}
	if t.To == CircuitOpen {
		p.ins.trips.Add(context.Background(), 1)
		p.logger.Warn("restart circuit opened", append(fields, zap.Time("retry_at", p.breaker.RetryAt()))...)
		return
	}
	p.logger.Info("restart circuit transition", fields...)
}

// ShouldAllowRestart runs the admission gates in order and returns on the
// first rejection: circuit breaker, hourly rate, memory leak, consecutive
// failures. currentMemoryMB <= 0 skips the leak gate.
func (p *RestartProtection) ShouldAllowRestart(currentMemoryMB float64) (bool, string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	allowed, reason := p.admit(p.now(), currentMemoryMB)
	p.ins.admissions.Add(context.Background(), 1, metric.WithAttributes(attribute.Bool("allowed", allowed)))
	if allowed {
		p.logger.Debug("restart admitted", zap.Float64("memory_mb", currentMemoryMB))
	} else {
		p.logger.Warn("restart rejected", zap.String("reason", reason), zap.Float64("memory_mb", currentMemoryMB))
	}
	return allowed, reason
}

func (p *RestartProtection) admit(now time.Time, memoryMB float64) (bool, string) {
	if ok, wait := p.breaker.Allow(now); !ok {
		return false, fmt.Sprintf("Circuit breaker is OPEN, retry in %d seconds", int(math.Ceil(wait.Seconds())))
	}

	if recent := p.restartsSince(now.Add(-restartWindow)); recent >= p.cfg.MaxRestartsPerHour {
		return false, fmt.Sprintf("Restart limit exceeded: %d restarts in the last hour (max %d per hour)",
			recent, p.cfg.MaxRestartsPerHour)
	}

	if memoryMB > 0 {
		if trend, ok := p.detectLocked(now); ok && trend.IsLeakSuspected() {
			predicted := trend.PredictAt(now)
			if memoryMB > predicted*leakExcessRatio {
				return false, fmt.Sprintf("Memory leak suspected: %.1f MB exceeds trend prediction of %.1f MB (slope %.1f MB/min, R² %.2f)",
					memoryMB, predicted, trend.SlopeMBPerMin, trend.RSquared)
			}
		}
	}

	// Closed circuits only; a half-open trial is the breaker's call.
	if p.breaker.State() == CircuitClosed && p.stats.ConsecutiveFailures >= p.cfg.MaxConsecutiveFailures {
		return false, fmt.Sprintf("Too many consecutive failures: %d (max %d)",
			p.stats.ConsecutiveFailures, p.cfg.MaxConsecutiveFailures)
	}
	return true, "Restart allowed"
}

func (p *RestartProtection) restartsSince(cutoff time.Time) int {
	n := 0
	for _, r := range p.history.Slice() {
		if r.Timestamp.After(cutoff) {
			n++
		}
	}
	return n
}

// RecordRestart records the outcome of one restart attempt. Supervisors call
// it exactly once per attempt.
func (p *RestartProtection) RecordRestart(reason string, memoryMB float64, success bool, backoffApplied time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	p.history.Push(RestartRecord{
		Timestamp:      now,
		Reason:         reason,
		MemoryMB:       memoryMB,
		Success:        success,
		BackoffSeconds: backoffApplied.Seconds(),
	})

	st := &p.stats
	if !st.LastRestartTime.IsZero() && st.TotalRestarts > 0 {
		interval := now.Sub(st.LastRestartTime).Minutes()
		intervals := float64(st.TotalRestarts)
		st.AverageRestartIntervalMinutes = (st.AverageRestartIntervalMinutes*(intervals-1) + interval) / intervals
		if st.TotalRestarts == 1 || interval < st.ShortestRestartIntervalMinutes {
			st.ShortestRestartIntervalMinutes = interval
		}
	}
	st.TotalRestarts++
	st.LastRestartTime = now

	if success {
		st.SuccessfulRestarts++
		st.ConsecutiveFailures = 0
		p.breaker.RecordSuccess(now)
	} else {
		st.FailedRestarts++
		st.ConsecutiveFailures++
		p.breaker.RecordFailure(st.ConsecutiveFailures, now)
	}

	if memoryMB > 0 {
		p.samples.Push(MemorySample{Timestamp: now, MemoryMB: memoryMB})
	}

	p.ins.restarts.Add(context.Background(), 1, metric.WithAttributes(attribute.Bool("success", success)))
	p.logger.Info("restart recorded",
		zap.String("reason", reason),
		zap.Bool("success", success),
		zap.Float64("memory_mb", memoryMB),
		zap.Duration("backoff", backoffApplied),
		zap.Int("consecutive_failures", st.ConsecutiveFailures),
		zap.Stringer("circuit", p.breaker.State()))
}

// RecordMemorySample adds a reading to the trend history.
func (p *RestartProtection) RecordMemorySample(memoryMB float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.samples.Push(MemorySample{Timestamp: p.now(), MemoryMB: memoryMB})
}

// DetectMemoryLeak fits a trend over the samples in the configured window. It
// returns false when fewer than MinLeakSamples readings fall in the window.
// The result is also cached in the statistics.
func (p *RestartProtection) DetectMemoryLeak() (MemoryTrend, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.detectLocked(p.now())
}

func (p *RestartProtection) detectLocked(now time.Time) (MemoryTrend, bool) {
	cutoff := now.Add(-p.cfg.sampleWindow())
	var window []MemorySample
	for _, s := range p.samples.Slice() {
		if !s.Timestamp.Before(cutoff) {
			window = append(window, s)
		}
	}
	if len(window) < MinLeakSamples {
		p.stats.MemoryTrend = nil
		return MemoryTrend{}, false
	}
	trend, ok := FitTrend(window)
	if !ok {
		p.stats.MemoryTrend = nil
		return MemoryTrend{}, false
	}
	p.stats.MemoryTrend = &trend
	return trend, true
}

// BackoffDuration returns the jittered delay before restart attempt n.
func (p *RestartProtection) BackoffDuration(attempt int) time.Duration {
	return JitteredBackoff(attempt, p.cfg.baseBackoff(), p.cfg.maxBackoff())
}

// ResetCircuitBreaker closes the circuit and clears the failure run.
func (p *RestartProtection) ResetCircuitBreaker() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.breaker.Reset(p.now())
	p.stats.ConsecutiveFailures = 0
	p.logger.Info("restart circuit reset")
}

// Statistics returns a copy of the aggregate statistics.
func (p *RestartProtection) Statistics() RestartStatistics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statsLocked()
}

func (p *RestartProtection) statsLocked() RestartStatistics {
	st := p.stats
	if st.MemoryTrend != nil {
		t := *st.MemoryTrend
		st.MemoryTrend = &t
	}
	st.CircuitState = p.breaker.State()
	st.CircuitTrips = p.breaker.Trips()
	return st
}

// CircuitStatus is a snapshot of the breaker.
type CircuitStatus struct {
	State    CircuitState
	OpenedAt time.Time
	RetryAt  time.Time
	Trips    int
}

// Circuit returns the breaker snapshot.
func (p *RestartProtection) Circuit() CircuitStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return CircuitStatus{
		State:    p.breaker.State(),
		OpenedAt: p.breaker.OpenedAt(),
		RetryAt:  p.breaker.RetryAt(),
		Trips:    p.breaker.Trips(),
	}
}

// RestartHistory returns up to limit records, oldest first; limit <= 0 returns
// all of them.
func (p *RestartProtection) RestartHistory(limit int) []RestartRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	if limit <= 0 {
		return p.history.Slice()
	}
	return p.history.Tail(limit)
}

// MemorySamples returns all retained samples, oldest first.
func (p *RestartProtection) MemorySamples() []MemorySample {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.samples.Slice()
}

// Sweep performs one analysis pass: it promotes a due open circuit to
// half-open, refreshes the leak verdict and saves state.
func (p *RestartProtection) Sweep() {
	p.mu.Lock()
	now := p.now()
	p.breaker.Sweep(now)
	trend, ok := p.detectLocked(now)
	p.mu.Unlock()

	if ok && trend.IsLeakSuspected() {
		p.logger.Warn("memory leak suspected",
			zap.Float64("slope_mb_per_min", trend.SlopeMBPerMin),
			zap.Float64("r_squared", trend.RSquared),
			zap.Int("samples", trend.SampleCount))
	}
	_ = p.Save()
}

// Start claims the state file, when the store supports it, and runs Sweep on
// the analysis interval until Stop.
func (p *RestartProtection) Start(ctx context.Context) error {
	p.loopMu.Lock()
	defer p.loopMu.Unlock()
	if p.cancel != nil {
		select {
		case <-p.done:
			// The loop ended with its parent context; finish that run first.
			_ = p.finishLocked()
		default:
			return ErrAlreadyStarted
		}
	}
	if l, ok := p.store.(Locker); ok {
		if err := l.Lock(); err != nil {
			return fmt.Errorf("lifecycle: claim state file: %w", err)
		}
	}
	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(loopCtx, p.done)
	p.logger.Info("restart protection started", zap.Duration("analysis_interval", p.cfg.analysisInterval()))
	return nil
}

// Stop ends the analysis loop after its current pass, saves state and
// releases the state file.
func (p *RestartProtection) Stop() error {
	p.loopMu.Lock()
	defer p.loopMu.Unlock()
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	<-p.done
	return p.finishLocked()
}

// Running reports whether the analysis loop is active.
func (p *RestartProtection) Running() bool {
	p.loopMu.Lock()
	defer p.loopMu.Unlock()
	if p.cancel == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// finishLocked saves state and releases the state file after the loop has
// exited. loopMu must be held.
func (p *RestartProtection) finishLocked() error {
	p.cancel()
	p.cancel, p.done = nil, nil

	err := p.Save()
	if l, ok := p.store.(Locker); ok {
		if uerr := l.Unlock(); uerr != nil {
			p.logger.Warn("release state file", zap.Error(uerr))
		}
	}
	p.logger.Info("restart protection stopped")
	return err
}

func (p *RestartProtection) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.cfg.analysisInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Sweep()
		}
	}
}
