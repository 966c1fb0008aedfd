package api

import (
	"time"

	"github.com/srediag/memory-guardian/pkg/lifecycle"
)

// RestartGate is the restart side of the collaborator contract. Before every
// restart attempt the supervisor asks ShouldAllowRestart and restarts only if
// allowed; after every attempt it calls RecordRestart exactly once.
type RestartGate interface {
	ShouldAllowRestart(currentMemoryMB float64) (bool, string)
	RecordRestart(reason string, memoryMB float64, success bool, backoffApplied time.Duration)
	RecordMemorySample(memoryMB float64)
	BackoffDuration(attempt int) time.Duration
	Statistics() lifecycle.RestartStatistics
}
