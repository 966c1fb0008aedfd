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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestCircuitStateText(t *testing.T) {
	for _, st := range []CircuitState{CircuitClosed, CircuitOpen, CircuitHalfOpen} {
		data, err := json.Marshal(st)
		require.NoError(t, err)
		var got CircuitState
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, st, got)
	}
	data, _ := json.Marshal(CircuitHalfOpen)
	assert.JSONEq(t, `"half_open"`, string(data))

	var st CircuitState
	assert.Error(t, st.UnmarshalText([]byte("ajar")))
	_, err := CircuitState(7).MarshalText()
	assert.Error(t, err)
}

func TestCircuitBreakerCycle(t *testing.T) {
	var seen []CircuitTransition
	cb := NewCircuitBreaker(3, 30*time.Minute)
	cb.onTransition = func(tr CircuitTransition) { seen = append(seen, tr) }

	cb.RecordFailure(1, epoch)
	cb.RecordFailure(2, epoch)
	assert.Equal(t, CircuitClosed, cb.State())

	cb.RecordFailure(3, epoch)
	require.Equal(t, CircuitOpen, cb.State())
	assert.Equal(t, epoch, cb.OpenedAt())
	assert.Equal(t, epoch.Add(30*time.Minute), cb.RetryAt())
	assert.Equal(t, 1, cb.Trips())

	ok, wait := cb.Allow(epoch.Add(10 * time.Minute))
	assert.False(t, ok)
	assert.Equal(t, 20*time.Minute, wait)

	ok, _ = cb.Allow(epoch.Add(30 * time.Minute))
	assert.True(t, ok)
	assert.Equal(t, CircuitHalfOpen, cb.State())

	ok, _ = cb.Allow(epoch.Add(31 * time.Minute))
	assert.True(t, ok, "half-open admits the trial")

	cb.RecordSuccess(epoch.Add(32 * time.Minute))
	assert.Equal(t, CircuitClosed, cb.State())
	assert.True(t, cb.OpenedAt().IsZero())

	require.Len(t, seen, 3)
	assert.Equal(t, CircuitTransition{From: CircuitClosed, To: CircuitOpen, At: epoch, Reason: "3 consecutive failures"}, seen[0])
	assert.Equal(t, CircuitHalfOpen, seen[1].To)
	assert.Equal(t, CircuitClosed, seen[2].To)
}

func TestCircuitBreakerFailedTrialReopens(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Minute)
	cb.RecordFailure(2, epoch)
	require.True(t, cb.Sweep(epoch.Add(time.Minute)))
	require.Equal(t, CircuitHalfOpen, cb.State())

	later := epoch.Add(2 * time.Minute)
	cb.RecordFailure(3, later)
	assert.Equal(t, CircuitOpen, cb.State())
	assert.Equal(t, later.Add(time.Minute), cb.RetryAt())
	assert.Equal(t, 2, cb.Trips())

	assert.False(t, cb.Sweep(later), "retry window not reached")
}

func TestCircuitBreakerFailureWhileOpenIsIgnored(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute)
	cb.RecordFailure(1, epoch)
	cb.RecordFailure(2, epoch.Add(time.Second))
	assert.Equal(t, epoch, cb.OpenedAt())
	assert.Equal(t, 1, cb.Trips())
}

func TestCircuitBreakerReset(t *testing.T) {
	var seen []CircuitTransition
	cb := NewCircuitBreaker(1, time.Hour)
	cb.onTransition = func(tr CircuitTransition) { seen = append(seen, tr) }

	cb.Reset(epoch)
	assert.Empty(t, seen, "resetting a closed breaker publishes nothing")

	cb.RecordFailure(1, epoch)
	cb.Reset(epoch.Add(time.Second))
	assert.Equal(t, CircuitClosed, cb.State())
	assert.True(t, cb.RetryAt().IsZero())
	require.Len(t, seen, 2)
	assert.Equal(t, "manual reset", seen[1].Reason)
}

func TestCircuitBreakerIllegalTransitionPanics(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute)
	assert.Panics(t, func() { cb.moveTo(CircuitHalfOpen, epoch, "skip open") })
}

func TestCircuitBreakerRestore(t *testing.T) {
	cb := NewCircuitBreaker(3, 30*time.Minute)
	cb.restore(CircuitOpen, epoch, time.Time{}, 4)
	assert.Equal(t, CircuitOpen, cb.State())
	assert.Equal(t, epoch.Add(30*time.Minute), cb.RetryAt(), "missing retry time derives from the reset timeout")
	assert.Equal(t, 4, cb.Trips())
}
