package api_test

import (
	"github.com/srediag/memory-guardian/api"
	"github.com/srediag/memory-guardian/pkg/health"
	"github.com/srediag/memory-guardian/pkg/lifecycle"
)

var (
	_ api.HealthReporter = (*health.Monitor)(nil)
	_ api.RestartGate    = (*lifecycle.RestartProtection)(nil)
)
