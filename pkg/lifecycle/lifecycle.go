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

// Package lifecycle decides whether a supervised process may be restarted.
// It combines a circuit breaker, exponential backoff, a restart rate limit and
// a memory-leak trend detector, and persists what it learned across runs.
package lifecycle

import (
	"encoding/json"
	"math"
	"time"
)

// RestartRecord describes one restart attempt.
type RestartRecord struct {
	Timestamp      time.Time
	Reason         string
	MemoryMB       float64
	Success        bool
	BackoffSeconds float64
}

type restartRecordWire struct {
	Timestamp      float64 `json:"timestamp"`
	TimestampISO   string  `json:"timestamp_iso"`
	Reason         string  `json:"reason"`
	MemoryMB       float64 `json:"memory_mb"`
	Success        bool    `json:"success"`
	BackoffSeconds float64 `json:"backoff_seconds"`
}

func (r RestartRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(restartRecordWire{
		Timestamp:      unixSeconds(r.Timestamp),
		TimestampISO:   r.Timestamp.UTC().Format(time.RFC3339Nano),
		Reason:         r.Reason,
		MemoryMB:       r.MemoryMB,
		Success:        r.Success,
		BackoffSeconds: r.BackoffSeconds,
	})
}

func (r *RestartRecord) UnmarshalJSON(data []byte) error {
	var w restartRecordWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = RestartRecord{
		Timestamp:      fromUnixSeconds(w.Timestamp),
		Reason:         w.Reason,
		MemoryMB:       w.MemoryMB,
		Success:        w.Success,
		BackoffSeconds: w.BackoffSeconds,
	}
	return nil
}

// MemorySample is one memory reading of the supervised process.
type MemorySample struct {
	Timestamp time.Time
	MemoryMB  float64
}

type memorySampleWire struct {
	Timestamp float64 `json:"timestamp"`
	MemoryMB  float64 `json:"memory_mb"`
}

func (s MemorySample) MarshalJSON() ([]byte, error) {
	return json.Marshal(memorySampleWire{Timestamp: unixSeconds(s.Timestamp), MemoryMB: s.MemoryMB})
}

func (s *MemorySample) UnmarshalJSON(data []byte) error {
	var w memorySampleWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*s = MemorySample{Timestamp: fromUnixSeconds(w.Timestamp), MemoryMB: w.MemoryMB}
	return nil
}

// RestartStatistics aggregates every recorded restart. Interval figures are in
// minutes and stay zero until a second restart is recorded.
type RestartStatistics struct {
	TotalRestarts                  int
	SuccessfulRestarts             int
	FailedRestarts                 int
	ConsecutiveFailures            int
	LastRestartTime                time.Time
	AverageRestartIntervalMinutes  float64
	ShortestRestartIntervalMinutes float64
	MemoryTrend                    *MemoryTrend
	CircuitState                   CircuitState
	CircuitTrips                   int
}

type statisticsWire struct {
	TotalRestarts           int          `json:"total_restarts"`
	SuccessfulRestarts      int          `json:"successful_restarts"`
	FailedRestarts          int          `json:"failed_restarts"`
	ConsecutiveFailures     int          `json:"consecutive_failures"`
	LastRestartTime         *float64     `json:"last_restart_time"`
	AverageRestartInterval  float64      `json:"average_restart_interval"`
	ShortestRestartInterval float64      `json:"shortest_restart_interval"`
	MemoryTrend             *MemoryTrend `json:"memory_trend"`
	CircuitState            CircuitState `json:"circuit_state"`
	CircuitTrips            int          `json:"circuit_trips"`
}

func (s RestartStatistics) MarshalJSON() ([]byte, error) {
	return json.Marshal(statisticsWire{
		TotalRestarts:           s.TotalRestarts,
		SuccessfulRestarts:      s.SuccessfulRestarts,
		FailedRestarts:          s.FailedRestarts,
		ConsecutiveFailures:     s.ConsecutiveFailures,
		LastRestartTime:         optionalSeconds(s.LastRestartTime),
		AverageRestartInterval:  s.AverageRestartIntervalMinutes,
		ShortestRestartInterval: s.ShortestRestartIntervalMinutes,
		MemoryTrend:             s.MemoryTrend,
		CircuitState:            s.CircuitState,
		CircuitTrips:            s.CircuitTrips,
	})
}

func (s *RestartStatistics) UnmarshalJSON(data []byte) error {
	var w statisticsWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*s = RestartStatistics{
		TotalRestarts:                  w.TotalRestarts,
		SuccessfulRestarts:             w.SuccessfulRestarts,
		FailedRestarts:                 w.FailedRestarts,
		ConsecutiveFailures:            w.ConsecutiveFailures,
		LastRestartTime:                fromOptionalSeconds(w.LastRestartTime),
		AverageRestartIntervalMinutes:  w.AverageRestartInterval,
		ShortestRestartIntervalMinutes: w.ShortestRestartInterval,
		MemoryTrend:                    w.MemoryTrend,
		CircuitState:                   w.CircuitState,
		CircuitTrips:                   w.CircuitTrips,
	}
	return nil
}

// SuccessRate is the share of successful restarts in [0, 1].
func (s RestartStatistics) SuccessRate() float64 {
	if s.TotalRestarts == 0 {
		return 0
	}
	return float64(s.SuccessfulRestarts) / float64(s.TotalRestarts)
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func fromUnixSeconds(f float64) time.Time {
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(math.Round(frac*float64(time.Second)))).UTC()
}

func optionalSeconds(t time.Time) *float64 {
	if t.IsZero() {
		return nil
	}
	v := unixSeconds(t)
	return &v
}

func fromOptionalSeconds(f *float64) time.Time {
	if f == nil {
		return time.Time{}
	}
	return fromUnixSeconds(*f)
}
