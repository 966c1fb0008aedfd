// Package adapter exposes memguardian verdicts to external systems: HTTP
// probes, Prometheus and OpenTelemetry.
package adapter

import (
	"errors"
	"fmt"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/srediag/memory-guardian/pkg/health"
	"github.com/srediag/memory-guardian/pkg/lifecycle"
)

// HealthSource yields the latest health verdict.
type HealthSource interface {
	HealthStatus() (health.SystemHealth, bool)
}

// CircuitSource yields the restart circuit breaker state.
type CircuitSource interface {
	Circuit() lifecycle.CircuitStatus
}

var errNoVerdict = errors.New("no health verdict yet")

// NewHealthHandler returns liveness and readiness endpoints. The host is live
// unless the latest verdict is Critical; it is ready when a verdict exists,
// is at most Degraded and the restart circuit is not open. circuit may be nil.
// With a non-nil registry every check is also exported as a gauge.
func NewHealthHandler(src HealthSource, circuit CircuitSource, registry prometheus.Registerer) healthcheck.Handler {
	var h healthcheck.Handler
	if registry != nil {
		h = healthcheck.NewMetricsHandler(registry, metricsNamespace)
	} else {
		h = healthcheck.NewHandler()
	}

	h.AddLivenessCheck("health-not-critical", func() error {
		sh, ok := src.HealthStatus()
		if ok && sh.Status == health.StatusCritical {
			return fmt.Errorf("health is %s: %s", sh.Status, worstMessage(sh))
		}
		return nil
	})
	h.AddReadinessCheck("health-verdict", func() error {
		sh, ok := src.HealthStatus()
		if !ok {
			return errNoVerdict
		}
		if sh.Status > health.StatusDegraded {
			return fmt.Errorf("health is %s: %s", sh.Status, worstMessage(sh))
		}
		return nil
	})
	if circuit != nil {
		h.AddReadinessCheck("restart-circuit", func() error {
			c := circuit.Circuit()
			if c.State == lifecycle.CircuitOpen {
				return fmt.Errorf("restart circuit open until %s", c.RetryAt.Format("15:04:05"))
			}
			return nil
		})
	}
	return h
}

func worstMessage(sh health.SystemHealth) string {
	for _, c := range sh.Checks {
		if c.Status == sh.Status {
			return c.Name + ": " + c.Message
		}
	}
	return "no checks"
}
