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
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// UnjitteredBackoff returns min(base*2^(attempt-1), max). Attempts below one
// count as the first attempt.
func UnjitteredBackoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base > max {
		base = max
	}
	d := float64(base) * math.Pow(2, float64(attempt-1))
	if d >= float64(max) {
		return max
	}
	return time.Duration(d)
}

// JitteredBackoff returns UnjitteredBackoff spread uniformly by ±10%.
func JitteredBackoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base > max {
		base = max
	}
	if base <= 0 {
		return 0
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.MaxInterval = max
	b.Multiplier = 2
	b.RandomizationFactor = backoffJitter
	b.MaxElapsedTime = 0
	b.Reset()

	// The interval stops growing once capped, so later calls only re-jitter.
	steps := attempt
	if limit := stepsToCap(base, max); steps > limit {
		steps = limit
	}
	var d time.Duration
	for i := 0; i < steps; i++ {
		d = b.NextBackOff()
	}
	if d < 0 {
		return 0
	}
	return d
}

func stepsToCap(base, max time.Duration) int {
	if base >= max {
		return 1
	}
	return int(math.Ceil(math.Log2(float64(max)/float64(base)))) + 1
}
