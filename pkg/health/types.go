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

import (
	"fmt"
	"time"
)

// Status is the severity of a health verdict. Values are totally ordered:
// StatusHealthy < StatusDegraded < StatusUnhealthy < StatusCritical.
type Status int

const (
	StatusHealthy Status = iota
	StatusDegraded
	StatusUnhealthy
	StatusCritical
)

var statusNames = [...]string{"healthy", "degraded", "unhealthy", "critical"}

func (s Status) String() string {
	if s < StatusHealthy || s > StatusCritical {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	if s < StatusHealthy || s > StatusCritical {
		return nil, fmt.Errorf("health: invalid status %d", int(s))
	}
	return []byte(statusNames[s]), nil
}

// UnmarshalText decodes a status name.
func (s *Status) UnmarshalText(text []byte) error {
	for i, name := range statusNames {
		if name == string(text) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("health: unknown status %q", text)
}

// Worse returns the more severe of s and other.
func (s Status) Worse(other Status) Status {
	if other > s {
		return other
	}
	return s
}

// CheckType classifies a health check.
type CheckType string

const (
	CheckSystemResources CheckType = "system_resources"
	CheckCPUUsage        CheckType = "cpu_usage"
	CheckMemoryUsage     CheckType = "memory_usage"
	CheckDiskSpace       CheckType = "disk_space"
	CheckNetwork         CheckType = "network"
	CheckProcess         CheckType = "process"
	CheckDependencies    CheckType = "dependencies"
	CheckCustom          CheckType = "custom"
)

// Valid reports whether t is one of the known check types.
func (t CheckType) Valid() bool {
	switch t {
	case CheckSystemResources, CheckCPUUsage, CheckMemoryUsage, CheckDiskSpace,
		CheckNetwork, CheckProcess, CheckDependencies, CheckCustom:
		return true
	}
	return false
}

// HealthCheck is the verdict of one check execution. It is a value: it is
// built once per execution and never changed afterwards.
type HealthCheck struct {
	Name       string         `json:"name"`
	Type       CheckType      `json:"check_type"`
	Status     Status         `json:"status"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	DurationMS float64        `json:"duration_ms"`
}

// NewHealthCheck builds a check result stamped with the current time. The
// details map is copied.
func NewHealthCheck(name string, typ CheckType, status Status, message string, details map[string]any) HealthCheck {
	return HealthCheck{
		Name:      name,
		Type:      typ,
		Status:    status,
		Message:   message,
		Details:   copyDetails(details),
		Timestamp: time.Now(),
	}
}

// Healthy reports whether the check passed.
func (c HealthCheck) Healthy() bool { return c.Status == StatusHealthy }

func copyDetails(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = copyValue(v)
	}
	return out
}

// copyValue copies the container types checks put in details. Other values
// are immutable scalars.
func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyDetails(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

func (c HealthCheck) clone() HealthCheck {
	c.Details = copyDetails(c.Details)
	return c
}

// SystemHealth is the aggregated verdict of one monitoring cycle.
type SystemHealth struct {
	Status    Status        `json:"status"`
	Checks    []HealthCheck `json:"checks"`
	Timestamp time.Time     `json:"timestamp"`
}

func (h SystemHealth) clone() SystemHealth {
	if h.Checks != nil {
		checks := make([]HealthCheck, len(h.Checks))
		for i, c := range h.Checks {
			checks[i] = c.clone()
		}
		h.Checks = checks
	}
	return h
}

// HealthyChecks counts the checks whose status is healthy.
func (h SystemHealth) HealthyChecks() int {
	n := 0
	for _, c := range h.Checks {
		if c.Healthy() {
			n++
		}
	}
	return n
}

// TotalChecks returns the number of checks in the cycle.
func (h SystemHealth) TotalChecks() int { return len(h.Checks) }

// HealthPercentage is the share of healthy checks in [0, 100]. A cycle with no
// checks is fully healthy.
func (h SystemHealth) HealthPercentage() float64 {
	if len(h.Checks) == 0 {
		return 100
	}
	return float64(h.HealthyChecks()) / float64(len(h.Checks)) * 100
}

// Check returns the first check with the given name.
func (h SystemHealth) Check(name string) (HealthCheck, bool) {
	for _, c := range h.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return HealthCheck{}, false
}

// Aggregate returns the most severe status among checks, or StatusHealthy when
// there are none.
func Aggregate(checks []HealthCheck) Status {
	overall := StatusHealthy
	for _, c := range checks {
		overall = overall.Worse(c.Status)
	}
	return overall
}
