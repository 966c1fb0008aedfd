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

	"go.uber.org/zap"
)

// stateDocument is the on-disk layout of the state file.
type stateDocument struct {
	RestartHistory       []RestartRecord   `json:"restart_history"`
	MemorySamples        []MemorySample    `json:"memory_samples"`
	Statistics           RestartStatistics `json:"statistics"`
	CircuitState         CircuitState      `json:"circuit_state"`
	CircuitOpenedAt      *float64          `json:"circuit_opened_at"`
	CircuitTestAllowedAt *float64          `json:"circuit_test_allowed_at"`
}

// snapshotLocked runs with p.mu held.
func (p *RestartProtection) snapshotLocked() stateDocument {
	samples := p.samples.Tail(p.cfg.PersistedMemorySamples)
	if samples == nil {
		samples = []MemorySample{}
	}
	history := p.history.Slice()
	if history == nil {
		history = []RestartRecord{}
	}
	return stateDocument{
		RestartHistory:       history,
		MemorySamples:        samples,
		Statistics:           p.statsLocked(),
		CircuitState:         p.breaker.State(),
		CircuitOpenedAt:      optionalSeconds(p.breaker.OpenedAt()),
		CircuitTestAllowedAt: optionalSeconds(p.breaker.RetryAt()),
	}
}

// Save writes the current state to the store. Without a store it does
// nothing. Failures are logged and returned; the engine keeps running on its
// in-memory state either way.
func (p *RestartProtection) Save() error {
	if p.store == nil {
		return nil
	}
	// saveMu spans snapshot and write so saves land in snapshot order.
	p.saveMu.Lock()
	defer p.saveMu.Unlock()

	p.mu.Lock()
	doc := p.snapshotLocked()
	p.mu.Unlock()

	if err := p.store.Save(doc); err != nil {
		p.logger.Warn("save restart state", zap.Error(err))
		return err
	}
	return nil
}

// load runs once from New, before the engine is shared.
func (p *RestartProtection) load() {
	if p.store == nil {
		return
	}
	var doc stateDocument
	ok, err := p.store.Load(&doc)
	if err != nil {
		if errors.Is(err, ErrStateCorrupt) {
			p.logger.Warn("discard corrupt restart state", zap.Error(err))
		} else {
			p.logger.Warn("load restart state", zap.Error(err))
		}
		return
	}
	if !ok {
		return
	}
	p.restore(doc)
	p.logger.Info("restart state restored",
		zap.Int("restarts", len(doc.RestartHistory)),
		zap.Int("memory_samples", len(doc.MemorySamples)),
		zap.Stringer("circuit", doc.CircuitState))
}

func (p *RestartProtection) restore(doc stateDocument) {
	for _, r := range doc.RestartHistory {
		p.history.Push(r)
	}
	for _, s := range doc.MemorySamples {
		p.samples.Push(s)
	}
	p.stats = doc.Statistics
	p.breaker.restore(doc.CircuitState,
		fromOptionalSeconds(doc.CircuitOpenedAt),
		fromOptionalSeconds(doc.CircuitTestAllowedAt),
		doc.Statistics.CircuitTrips)
}
