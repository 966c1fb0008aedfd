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

	statestore "github.com/srediag/memory-guardian/internal/lifecycle"
)

var (
	// ErrInvalidConfig is wrapped by Config.Verify failures.
	ErrInvalidConfig = errors.New("lifecycle: invalid configuration")
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("lifecycle: restart protection already started")
	// ErrStateLocked is returned by Start when another engine owns the state file.
	ErrStateLocked = statestore.ErrLocked
	// ErrStateCorrupt wraps decode failures of an existing state file.
	ErrStateCorrupt = statestore.ErrCorrupt
	// ErrFeedClosed is returned by TransitionFeed.Next after Close.
	ErrFeedClosed = errors.New("lifecycle: transition feed closed")
)
