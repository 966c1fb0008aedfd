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

// CircuitState is the state of the restart circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

var circuitNames = [...]string{"closed", "open", "half_open"}

func (s CircuitState) String() string {
	if s < CircuitClosed || s > CircuitHalfOpen {
		return fmt.Sprintf("circuit(%d)", int(s))
	}
	return circuitNames[s]
}

func (s CircuitState) MarshalText() ([]byte, error) {
	if s < CircuitClosed || s > CircuitHalfOpen {
		return nil, fmt.Errorf("lifecycle: invalid circuit state %d", int(s))
	}
	return []byte(circuitNames[s]), nil
}

func (s *CircuitState) UnmarshalText(text []byte) error {
	for i, name := range circuitNames {
		if name == string(text) {
			*s = CircuitState(i)
			return nil
		}
	}
	return fmt.Errorf("lifecycle: unknown circuit state %q", text)
}

// circuitTransitions lists the legal moves of the state machine. Reset is the
// only way out of any state that is not listed here.
var circuitTransitions = map[CircuitState][]CircuitState{
	CircuitClosed:   {CircuitOpen},
	CircuitOpen:     {CircuitHalfOpen},
	CircuitHalfOpen: {CircuitClosed, CircuitOpen},
}

func canTransition(from, to CircuitState) bool {
	for _, s := range circuitTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CircuitTransition is published every time the breaker changes state.
type CircuitTransition struct {
	From   CircuitState
	To     CircuitState
	At     time.Time
	Reason string
}

// CircuitBreaker opens after a run of consecutive failures and admits a single
// trial once the reset timeout has elapsed. It is not safe for concurrent use.
type CircuitBreaker struct {
	threshold    int
	resetTimeout time.Duration

	state    CircuitState
	openedAt time.Time
	retryAt  time.Time
	trips    int

	onTransition func(CircuitTransition)
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(threshold int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{threshold: threshold, resetTimeout: resetTimeout}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState { return cb.state }

// OpenedAt and RetryAt are zero unless the breaker has been opened.
func (cb *CircuitBreaker) OpenedAt() time.Time { return cb.openedAt }

func (cb *CircuitBreaker) RetryAt() time.Time { return cb.retryAt }

// Trips counts how often the breaker has opened.
func (cb *CircuitBreaker) Trips() int { return cb.trips }

// Allow reports whether an attempt may proceed at now. An open breaker whose
// retry time has come moves to half-open and allows the trial; otherwise it
// returns the time left until the retry.
func (cb *CircuitBreaker) Allow(now time.Time) (bool, time.Duration) {
	switch cb.state {
	case CircuitOpen:
		if now.Before(cb.retryAt) {
			return false, cb.retryAt.Sub(now)
		}
		cb.moveTo(CircuitHalfOpen, now, "retry window reached")
		return true, 0
	default:
		return true, 0
	}
}

// Sweep performs the time-driven open to half-open move without admitting an
// attempt. It reports whether the state changed.
func (cb *CircuitBreaker) Sweep(now time.Time) bool {
	if cb.state == CircuitOpen && !now.Before(cb.retryAt) {
		cb.moveTo(CircuitHalfOpen, now, "retry window reached")
		return true
	}
	return false
}

// RecordSuccess closes a half-open breaker.
func (cb *CircuitBreaker) RecordSuccess(now time.Time) {
	if cb.state == CircuitHalfOpen {
		cb.moveTo(CircuitClosed, now, "trial restart succeeded")
	}
}

// RecordFailure opens the breaker once consecutive reaches the threshold. A
// failed half-open trial reopens it with a fresh retry window.
func (cb *CircuitBreaker) RecordFailure(consecutive int, now time.Time) {
	switch {
	case cb.state == CircuitHalfOpen:
		cb.moveTo(CircuitOpen, now, "trial restart failed")
	case cb.state == CircuitClosed && consecutive >= cb.threshold:
		cb.moveTo(CircuitOpen, now, fmt.Sprintf("%d consecutive failures", consecutive))
	}
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset(now time.Time) {
	prev := cb.state
	cb.state = CircuitClosed
	cb.openedAt, cb.retryAt = time.Time{}, time.Time{}
	if prev != CircuitClosed && cb.onTransition != nil {
		cb.onTransition(CircuitTransition{From: prev, To: CircuitClosed, At: now, Reason: "manual reset"})
	}
}

// restore loads persisted state without publishing a transition.
func (cb *CircuitBreaker) restore(state CircuitState, openedAt, retryAt time.Time, trips int) {
	cb.state = state
	cb.openedAt, cb.retryAt = openedAt, retryAt
	cb.trips = trips
	if state == CircuitOpen && retryAt.IsZero() {
		cb.retryAt = openedAt.Add(cb.resetTimeout)
	}
}

func (cb *CircuitBreaker) moveTo(to CircuitState, now time.Time, reason string) {
	from := cb.state
	if !canTransition(from, to) {
		panic(fmt.Sprintf("lifecycle: illegal circuit transition %s -> %s", from, to))
	}
	cb.state = to
	switch to {
	case CircuitOpen:
		cb.openedAt = now
		cb.retryAt = now.Add(cb.resetTimeout)
		cb.trips++
	case CircuitClosed:
		cb.openedAt, cb.retryAt = time.Time{}, time.Time{}
	}
	if cb.onTransition != nil {
		cb.onTransition(CircuitTransition{From: from, To: to, At: now, Reason: reason})
	}
}
