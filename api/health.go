// Package api defines the contracts between memguardian and the process
// supervisor that embeds it.
package api

import (
	"context"

	"github.com/srediag/memory-guardian/pkg/health"
)

// HealthReporter is the health side of the collaborator contract. The
// supervisor registers the child pid once it is running and reads verdicts.
type HealthReporter interface {
	SetMonitoredProcess(ctx context.Context, pid int32) bool
	ClearMonitoredProcess()
	ValidateBeforeStart(ctx context.Context) (bool, string)
	CheckHealth(ctx context.Context) health.SystemHealth
	HealthStatus() (health.SystemHealth, bool)
	HealthHistory(limit int) []health.SystemHealth
}
