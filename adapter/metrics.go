package adapter

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/srediag/memory-guardian/pkg/health"
	"github.com/srediag/memory-guardian/pkg/lifecycle"
)

const metricsNamespace = "memguardian"

// StatisticsSource yields restart statistics.
type StatisticsSource interface {
	Statistics() lifecycle.RestartStatistics
}

// Collector reads the engines on every scrape, so exported values are never
// staler than the latest cycle. Either source may be nil.
type Collector struct {
	health HealthSource
	stats  StatisticsSource

	healthStatus       *prometheus.Desc
	healthPercentage   *prometheus.Desc
	checkStatus        *prometheus.Desc
	checkDuration      *prometheus.Desc
	restarts           *prometheus.Desc
	consecutiveFailure *prometheus.Desc
	circuitState       *prometheus.Desc
	circuitTrips       *prometheus.Desc
	trendSlope         *prometheus.Desc
	leakSuspected      *prometheus.Desc
}

// NewCollector returns a collector over the given sources.
func NewCollector(h HealthSource, s StatisticsSource) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, "", name), help, labels, nil)
	}
	return &Collector{
		health: h,
		stats:  s,

		healthStatus:       desc("health_status", "Overall health verdict (0 healthy, 1 degraded, 2 unhealthy, 3 critical)."),
		healthPercentage:   desc("health_percentage", "Share of healthy checks in the latest cycle."),
		checkStatus:        desc("health_check_status", "Verdict of one check in the latest cycle.", "check", "type"),
		checkDuration:      desc("health_check_duration_seconds", "Run time of one check in the latest cycle.", "check"),
		restarts:           desc("restarts_total", "Recorded restart attempts.", "outcome"),
		consecutiveFailure: desc("restart_consecutive_failures", "Current run of failed restarts."),
		circuitState:       desc("restart_circuit_state", "1 for the current restart circuit state.", "state"),
		circuitTrips:       desc("restart_circuit_trips_total", "Times the restart circuit opened."),
		trendSlope:         desc("memory_trend_slope_mb_per_minute", "Slope of the latest memory trend."),
		leakSuspected:      desc("memory_leak_suspected", "1 when the latest memory trend looks like a leak."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.healthStatus, c.healthPercentage, c.checkStatus, c.checkDuration,
		c.restarts, c.consecutiveFailure, c.circuitState, c.circuitTrips,
		c.trendSlope, c.leakSuspected,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.health != nil {
		if sh, ok := c.health.HealthStatus(); ok {
			c.collectHealth(ch, sh)
		}
	}
	if c.stats != nil {
		c.collectRestarts(ch, c.stats.Statistics())
	}
}

func (c *Collector) collectHealth(ch chan<- prometheus.Metric, sh health.SystemHealth) {
	ch <- prometheus.MustNewConstMetric(c.healthStatus, prometheus.GaugeValue, float64(sh.Status))
	ch <- prometheus.MustNewConstMetric(c.healthPercentage, prometheus.GaugeValue, sh.HealthPercentage())
	for _, chk := range sh.Checks {
		ch <- prometheus.MustNewConstMetric(c.checkStatus, prometheus.GaugeValue, float64(chk.Status), chk.Name, string(chk.Type))
		ch <- prometheus.MustNewConstMetric(c.checkDuration, prometheus.GaugeValue, chk.DurationMS/1000, chk.Name)
	}
}

func (c *Collector) collectRestarts(ch chan<- prometheus.Metric, st lifecycle.RestartStatistics) {
	ch <- prometheus.MustNewConstMetric(c.restarts, prometheus.CounterValue, float64(st.SuccessfulRestarts), "success")
	ch <- prometheus.MustNewConstMetric(c.restarts, prometheus.CounterValue, float64(st.FailedRestarts), "failure")
	ch <- prometheus.MustNewConstMetric(c.consecutiveFailure, prometheus.GaugeValue, float64(st.ConsecutiveFailures))
	for _, state := range []lifecycle.CircuitState{lifecycle.CircuitClosed, lifecycle.CircuitOpen, lifecycle.CircuitHalfOpen} {
		v := 0.0
		if st.CircuitState == state {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(c.circuitState, prometheus.GaugeValue, v, state.String())
	}
	ch <- prometheus.MustNewConstMetric(c.circuitTrips, prometheus.CounterValue, float64(st.CircuitTrips))
	if st.MemoryTrend != nil {
		leak := 0.0
		if st.MemoryTrend.IsLeakSuspected() {
			leak = 1
		}
		ch <- prometheus.MustNewConstMetric(c.trendSlope, prometheus.GaugeValue, st.MemoryTrend.SlopeMBPerMin)
		ch <- prometheus.MustNewConstMetric(c.leakSuspected, prometheus.GaugeValue, leak)
	}
}
