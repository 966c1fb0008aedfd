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
	"encoding/json"
	"time"
)

// MemoryTrend is a least-squares fit of memory (MB) against minutes elapsed
// since Origin, the time of the first sample used.
type MemoryTrend struct {
	SlopeMBPerMin   float64
	Intercept       float64
	RSquared        float64
	SampleCount     int
	TimespanMinutes float64
	Origin          time.Time
}

// IsLeakSuspected reports a strong, steep and sufficiently long upward trend.
func (t MemoryTrend) IsLeakSuspected() bool {
	return t.RSquared > LeakMinRSquared &&
		t.SlopeMBPerMin > LeakMinSlopeMBPerMin &&
		t.SampleCount >= MinLeakSamples &&
		t.TimespanMinutes >= LeakMinTimespanMinutes
}

// PredictAt evaluates the fitted line at t.
func (t MemoryTrend) PredictAt(at time.Time) float64 {
	return t.Intercept + t.SlopeMBPerMin*at.Sub(t.Origin).Minutes()
}

type memoryTrendWire struct {
	SlopeMBPerMin   float64 `json:"slope_mb_per_min"`
	Intercept       float64 `json:"intercept"`
	RSquared        float64 `json:"r_squared"`
	SampleCount     int     `json:"sample_count"`
	TimespanMinutes float64 `json:"timespan_minutes"`
	Origin          float64 `json:"origin_timestamp"`
	LeakSuspected   bool    `json:"is_leak_suspected"`
}

func (t MemoryTrend) MarshalJSON() ([]byte, error) {
	return json.Marshal(memoryTrendWire{
		SlopeMBPerMin:   t.SlopeMBPerMin,
		Intercept:       t.Intercept,
		RSquared:        t.RSquared,
		SampleCount:     t.SampleCount,
		TimespanMinutes: t.TimespanMinutes,
		Origin:          unixSeconds(t.Origin),
		LeakSuspected:   t.IsLeakSuspected(),
	})
}

func (t *MemoryTrend) UnmarshalJSON(data []byte) error {
	var w memoryTrendWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*t = MemoryTrend{
		SlopeMBPerMin:   w.SlopeMBPerMin,
		Intercept:       w.Intercept,
		RSquared:        w.RSquared,
		SampleCount:     w.SampleCount,
		TimespanMinutes: w.TimespanMinutes,
		Origin:          fromUnixSeconds(w.Origin),
	}
	return nil
}

// FitTrend fits a line through samples, which must be in time order. It
// returns false with fewer than two samples. R² is zero when memory is flat.
func FitTrend(samples []MemorySample) (MemoryTrend, bool) {
	n := len(samples)
	if n < 2 {
		return MemoryTrend{}, false
	}
	origin := samples[0].Timestamp
	var sumX, sumY, sumXY, sumXX float64
	for _, s := range samples {
		x := s.Timestamp.Sub(origin).Minutes()
		sumX += x
		sumY += s.MemoryMB
		sumXY += x * s.MemoryMB
		sumXX += x * x
	}
	fn := float64(n)
	var slope float64
	if denom := fn*sumXX - sumX*sumX; denom != 0 {
		slope = (fn*sumXY - sumX*sumY) / denom
	}
	intercept := (sumY - slope*sumX) / fn

	meanY := sumY / fn
	var ssRes, ssTot float64
	for _, s := range samples {
		x := s.Timestamp.Sub(origin).Minutes()
		d := s.MemoryMB - (intercept + slope*x)
		ssRes += d * d
		m := s.MemoryMB - meanY
		ssTot += m * m
	}
	var r2 float64
	if ssTot > 0 {
		r2 = 1 - ssRes/ssTot
	}
	if r2 < 0 {
		r2 = 0
	} else if r2 > 1 {
		r2 = 1
	}

	return MemoryTrend{
		SlopeMBPerMin:   slope,
		Intercept:       intercept,
		RSquared:        r2,
		SampleCount:     n,
		TimespanMinutes: samples[n-1].Timestamp.Sub(origin).Minutes(),
		Origin:          origin,
	}, true
}
