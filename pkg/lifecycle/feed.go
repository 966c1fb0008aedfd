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
	"errors"
	"fmt"
	"time"

	queuepkg "github.com/Workiva/go-datastructures/queue"
)

// DefaultFeedCapacity bounds the number of undelivered transitions.
const DefaultFeedCapacity = 256

// ErrFeedTimeout is returned by Next when nothing arrived in time.
var ErrFeedTimeout = queuepkg.ErrTimeout

// TransitionFeed delivers circuit transitions to a reader such as a CLI or
// dashboard. When the reader falls behind the oldest transitions are dropped.
type TransitionFeed struct {
	q        *queuepkg.Queue
	capacity int64
}

func newTransitionFeed(capacity int64) *TransitionFeed {
	if capacity < 1 {
		capacity = DefaultFeedCapacity
	}
	return &TransitionFeed{q: queuepkg.New(capacity), capacity: capacity}
}

func (f *TransitionFeed) publish(t CircuitTransition) {
	for f.q.Len() >= f.capacity {
		// Poll rather than Get so a concurrent reader draining the queue
		// cannot leave this call blocked.
		if _, err := f.q.Poll(1, time.Millisecond); err != nil {
			break
		}
	}
	_ = f.q.Put(t)
}

// Next waits up to timeout for the next transition.
func (f *TransitionFeed) Next(timeout time.Duration) (CircuitTransition, error) {
	items, err := f.q.Poll(1, timeout)
	if errors.Is(err, queuepkg.ErrDisposed) {
		return CircuitTransition{}, ErrFeedClosed
	}
	if err != nil {
		return CircuitTransition{}, err
	}
	if len(items) == 0 {
		return CircuitTransition{}, ErrFeedTimeout
	}
	t, ok := items[0].(CircuitTransition)
	if !ok {
		return CircuitTransition{}, fmt.Errorf("lifecycle: unexpected feed item %T", items[0])
	}
	return t, nil
}

// Pending returns the number of undelivered transitions.
func (f *TransitionFeed) Pending() int { return int(f.q.Len()) }

// Close wakes blocked readers; later reads return ErrFeedClosed.
func (f *TransitionFeed) Close() {
	f.q.Dispose()
}
