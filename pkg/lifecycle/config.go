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
	"fmt"
	"time"
)

const (
	restartWindow = time.Hour

	// MinLeakSamples is the number of in-window samples a trend needs.
	MinLeakSamples = 10
	// LeakMinRSquared, LeakMinSlopeMBPerMin and LeakMinTimespanMinutes bound
	// the leak-suspicion verdict.
	LeakMinRSquared        = 0.7
	LeakMinSlopeMBPerMin   = 10.0
	LeakMinTimespanMinutes = 5.0
	// leakExcessRatio is how far above the trend line memory must be to block.
	leakExcessRatio = 1.10

	backoffJitter = 0.1
)

// Config holds restart protection limits.
type Config struct {
	MaxRestartsPerHour        int     `yaml:"max_restarts_per_hour"`
	MaxConsecutiveFailures    int     `yaml:"max_consecutive_failures"`
	BaseBackoffSeconds        float64 `yaml:"base_backoff_seconds"`
	MaxBackoffSeconds         float64 `yaml:"max_backoff_seconds"`
	CircuitResetMinutes       float64 `yaml:"circuit_reset_minutes"`
	MemorySampleWindowMinutes float64 `yaml:"memory_sample_window_minutes"`
	AnalysisIntervalSeconds   float64 `yaml:"analysis_interval_seconds"`
	StateFile                 string  `yaml:"state_file"`
	RestartHistorySize        int     `yaml:"restart_history_size"`
	MemorySampleCapacity      int     `yaml:"memory_sample_capacity"`
	PersistedMemorySamples    int     `yaml:"persisted_memory_samples"`
}

// DefaultConfig returns the stock limits. No state file is configured.
func DefaultConfig() Config {
	return Config{
		MaxRestartsPerHour:        5,
		MaxConsecutiveFailures:    3,
		BaseBackoffSeconds:        1,
		MaxBackoffSeconds:         300,
		CircuitResetMinutes:       30,
		MemorySampleWindowMinutes: 10,
		AnalysisIntervalSeconds:   60,
		RestartHistorySize:        100,
		MemorySampleCapacity:      1000,
		PersistedMemorySamples:    100,
	}
}

// ApplyDefaults fills zero-valued fields from DefaultConfig.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.MaxRestartsPerHour == 0 {
		c.MaxRestartsPerHour = d.MaxRestartsPerHour
	}
	if c.MaxConsecutiveFailures == 0 {
		c.MaxConsecutiveFailures = d.MaxConsecutiveFailures
	}
	if c.BaseBackoffSeconds == 0 {
		c.BaseBackoffSeconds = d.BaseBackoffSeconds
	}
	if c.MaxBackoffSeconds == 0 {
		c.MaxBackoffSeconds = d.MaxBackoffSeconds
	}
	if c.CircuitResetMinutes == 0 {
		c.CircuitResetMinutes = d.CircuitResetMinutes
	}
	if c.MemorySampleWindowMinutes == 0 {
		c.MemorySampleWindowMinutes = d.MemorySampleWindowMinutes
	}
	if c.AnalysisIntervalSeconds == 0 {
		c.AnalysisIntervalSeconds = d.AnalysisIntervalSeconds
	}
	if c.RestartHistorySize == 0 {
		c.RestartHistorySize = d.RestartHistorySize
	}
	if c.MemorySampleCapacity == 0 {
		c.MemorySampleCapacity = d.MemorySampleCapacity
	}
	if c.PersistedMemorySamples == 0 {
		c.PersistedMemorySamples = d.PersistedMemorySamples
	}
}

// Verify rejects inconsistent limits.
func (c Config) Verify() error {
	switch {
	case c.MaxRestartsPerHour < 1:
		return fmt.Errorf("%w: max_restarts_per_hour must be at least 1", ErrInvalidConfig)
	case c.MaxConsecutiveFailures < 1:
		return fmt.Errorf("%w: max_consecutive_failures must be at least 1", ErrInvalidConfig)
	case c.BaseBackoffSeconds <= 0:
		return fmt.Errorf("%w: base_backoff_seconds must be positive", ErrInvalidConfig)
	case c.MaxBackoffSeconds < c.BaseBackoffSeconds:
		return fmt.Errorf("%w: max_backoff_seconds must be >= base_backoff_seconds", ErrInvalidConfig)
	case c.CircuitResetMinutes <= 0:
		return fmt.Errorf("%w: circuit_reset_minutes must be positive", ErrInvalidConfig)
	case c.MemorySampleWindowMinutes <= 0:
		return fmt.Errorf("%w: memory_sample_window_minutes must be positive", ErrInvalidConfig)
	case c.AnalysisIntervalSeconds <= 0:
		return fmt.Errorf("%w: analysis_interval_seconds must be positive", ErrInvalidConfig)
	case c.RestartHistorySize < 1 || c.MemorySampleCapacity < 1:
		return fmt.Errorf("%w: history capacities must be at least 1", ErrInvalidConfig)
	case c.PersistedMemorySamples < 0 || c.PersistedMemorySamples > c.MemorySampleCapacity:
		return fmt.Errorf("%w: persisted_memory_samples must be within [0, memory_sample_capacity]", ErrInvalidConfig)
	}
	return nil
}

func (c Config) baseBackoff() time.Duration { return seconds(c.BaseBackoffSeconds) }

func (c Config) maxBackoff() time.Duration { return seconds(c.MaxBackoffSeconds) }

func (c Config) circuitReset() time.Duration {
	return time.Duration(c.CircuitResetMinutes * float64(time.Minute))
}

func (c Config) sampleWindow() time.Duration {
	return time.Duration(c.MemorySampleWindowMinutes * float64(time.Minute))
}

func (c Config) analysisInterval() time.Duration { return seconds(c.AnalysisIntervalSeconds) }

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
