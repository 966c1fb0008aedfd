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
	"fmt"
	"time"
)

const (
	// CriticalCPUPercent and CriticalMemoryPercent are fixed critical tiers
	// independent of the configured degraded thresholds.
	CriticalCPUPercent    = 95.0
	CriticalMemoryPercent = 95.0
	// ProcessCPUDegradedPercent marks a monitored process as degraded.
	ProcessCPUDegradedPercent = 90.0

	// Pre-flight limits used by ValidateBeforeStart.
	MinStartAvailableMemoryMB = 500.0
	MaxStartCPUPercent        = 95.0

	defaultHistorySize = 100
)

// DefaultNetworkTargets are probed by the network check.
var DefaultNetworkTargets = []string{"8.8.8.8:53", "1.1.1.1:53"}

// Config holds health monitor thresholds and timing.
type Config struct {
	CPUThresholdPercent    float64  `yaml:"cpu_threshold_percent"`
	MemoryThresholdPercent float64  `yaml:"memory_threshold_percent"`
	DiskThresholdPercent   float64  `yaml:"disk_threshold_percent"`
	MinDiskSpaceGB         float64  `yaml:"min_disk_space_gb"`
	CheckIntervalSeconds   float64  `yaml:"check_interval_seconds"`
	DiskPath               string   `yaml:"disk_path"`
	NetworkTargets         []string `yaml:"network_targets"`
	NetworkTimeoutSeconds  float64  `yaml:"network_timeout_seconds"`
	CheckTimeoutSeconds    float64  `yaml:"check_timeout_seconds"`
	HistorySize            int      `yaml:"history_size"`
	WorkerPoolSize         int      `yaml:"worker_pool_size"`
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		CPUThresholdPercent:    80,
		MemoryThresholdPercent: 90,
		DiskThresholdPercent:   90,
		MinDiskSpaceGB:         1.0,
		CheckIntervalSeconds:   30,
		DiskPath:               "/",
		NetworkTargets:         append([]string(nil), DefaultNetworkTargets...),
		NetworkTimeoutSeconds:  2,
		CheckTimeoutSeconds:    10,
		HistorySize:            defaultHistorySize,
		WorkerPoolSize:         16,
	}
}

// ApplyDefaults fills zero-valued fields from DefaultConfig.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.CPUThresholdPercent == 0 {
		c.CPUThresholdPercent = d.CPUThresholdPercent
	}
	if c.MemoryThresholdPercent == 0 {
		c.MemoryThresholdPercent = d.MemoryThresholdPercent
	}
	if c.DiskThresholdPercent == 0 {
		c.DiskThresholdPercent = d.DiskThresholdPercent
	}
	if c.MinDiskSpaceGB == 0 {
		c.MinDiskSpaceGB = d.MinDiskSpaceGB
	}
	if c.CheckIntervalSeconds == 0 {
		c.CheckIntervalSeconds = d.CheckIntervalSeconds
	}
	if c.DiskPath == "" {
		c.DiskPath = d.DiskPath
	}
	if len(c.NetworkTargets) == 0 {
		c.NetworkTargets = d.NetworkTargets
	}
	if c.NetworkTimeoutSeconds == 0 {
		c.NetworkTimeoutSeconds = d.NetworkTimeoutSeconds
	}
	if c.CheckTimeoutSeconds == 0 {
		c.CheckTimeoutSeconds = d.CheckTimeoutSeconds
	}
	if c.HistorySize == 0 {
		c.HistorySize = d.HistorySize
	}
	if c.WorkerPoolSize == 0 {
		c.WorkerPoolSize = d.WorkerPoolSize
	}
}

// Verify rejects out-of-range values.
func (c Config) Verify() error {
	for name, v := range map[string]float64{
		"cpu_threshold_percent":    c.CPUThresholdPercent,
		"memory_threshold_percent": c.MemoryThresholdPercent,
		"disk_threshold_percent":   c.DiskThresholdPercent,
	} {
		if v <= 0 || v > 100 {
			return fmt.Errorf("%w: %s must be in (0, 100], got %v", ErrInvalidConfig, name, v)
		}
	}
	if c.MinDiskSpaceGB < 0 {
		return fmt.Errorf("%w: min_disk_space_gb must not be negative", ErrInvalidConfig)
	}
	if c.CheckIntervalSeconds <= 0 {
		return fmt.Errorf("%w: check_interval_seconds must be positive", ErrInvalidConfig)
	}
	if c.NetworkTimeoutSeconds <= 0 || c.CheckTimeoutSeconds <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalidConfig)
	}
	if c.HistorySize < 1 {
		return fmt.Errorf("%w: history_size must be at least 1", ErrInvalidConfig)
	}
	if c.WorkerPoolSize < 1 {
		return fmt.Errorf("%w: worker_pool_size must be at least 1", ErrInvalidConfig)
	}
	return nil
}

// CheckInterval is the pause between monitoring cycles.
func (c Config) CheckInterval() time.Duration { return seconds(c.CheckIntervalSeconds) }

// NetworkTimeout bounds each network probe.
func (c Config) NetworkTimeout() time.Duration { return seconds(c.NetworkTimeoutSeconds) }

// CheckTimeout bounds each individual check.
func (c Config) CheckTimeout() time.Duration { return seconds(c.CheckTimeoutSeconds) }

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
