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

import "strings"

const bytesPerGB = 1 << 30
const bytesPerMB = 1 << 20

// EvaluateCPU maps a CPU percentage onto the three-tier table.
func EvaluateCPU(percent, threshold float64) Status {
	switch {
	case percent >= CriticalCPUPercent:
		return StatusCritical
	case percent >= threshold:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

// EvaluateMemory maps a memory usage percentage onto the three-tier table.
func EvaluateMemory(percent, threshold float64) Status {
	switch {
	case percent >= CriticalMemoryPercent:
		return StatusCritical
	case percent >= threshold:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

// EvaluateDisk is critical below the free-space floor and degraded at or above
// the usage threshold.
func EvaluateDisk(freeGB, usedPercent, minFreeGB, threshold float64) Status {
	switch {
	case freeGB < minFreeGB:
		return StatusCritical
	case usedPercent >= threshold:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

// EvaluateProcess is critical when the process is gone or a zombie and
// degraded when it burns more than ProcessCPUDegradedPercent.
func EvaluateProcess(p ProcessStats) Status {
	switch {
	case !p.Running || isDeadState(p.Status):
		return StatusCritical
	case p.CPUPercent > ProcessCPUDegradedPercent:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

func isDeadState(status string) bool {
	switch strings.ToLower(status) {
	case "zombie", "dead", "z", "x":
		return true
	}
	return false
}

func toGB(b uint64) float64 { return float64(b) / bytesPerGB }

func toMB(b uint64) float64 { return float64(b) / bytesPerMB }
