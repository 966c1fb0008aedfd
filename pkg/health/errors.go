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

import "errors"

var (
	// ErrInvalidConfig is wrapped by Config.Verify failures.
	ErrInvalidConfig = errors.New("health: invalid configuration")
	// ErrAlreadyRunning is returned when the monitoring loop is started twice.
	ErrAlreadyRunning = errors.New("health: monitoring already running")
	// ErrNoSuchProcess is returned by samplers when a pid does not exist.
	ErrNoSuchProcess = errors.New("health: no such process")
	// ErrNoSampler is returned when a monitor is built without a sampler.
	ErrNoSampler = errors.New("health: sampler is required")
	// ErrCheckTimeout is reported when a check exceeds its time budget.
	ErrCheckTimeout = errors.New("health: check timed out")
)
