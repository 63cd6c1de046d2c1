// Package telemetry implements an optional PMM-style telemetry emitter:
// a narrow Emitter contract, plus one Prometheus-backed default whose
// registry pattern follows mysqld_exporter's collectors. Transport and
// dashboarding behind the emitted metrics are out of scope.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Emitter is the contract components call through to report a named
// metric value. Implementations decide how (or whether) a metric is
// surfaced; callers never depend on Prometheus directly.
type Emitter interface {
	Emit(metric string, value float64)
}

// Null discards every metric. Used when telemetry is disabled, so
// every component can call Emit unconditionally.
type Null struct{}

// Emit implements Emitter.
func (Null) Emit(string, float64) {}

const namespace = "mydump"

// Prometheus is the default Emitter: each distinct metric name becomes
// a lazily-registered gauge, keyed by name with no further labels.
// Components pass a namespaced name ("dump.rows_written",
// "restore.jobs_active") and the value at the time of the call; the
// gauge always reflects the most recent value, matching how the core
// calls emit (current counts and timings, not deltas).
type Prometheus struct {
	registry *prometheus.Registry
	vec      *prometheus.GaugeVec
}

// NewPrometheus returns a Prometheus emitter registered against reg.
// If reg is nil, a fresh prometheus.Registry is created and can be
// retrieved with Registry() for serving on an HTTP handler.
func NewPrometheus(reg *prometheus.Registry) *Prometheus {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "core",
		Name:      "metric",
		Help:      "Current value of a named mydump core metric, keyed by metric name.",
	}, []string{"metric"})
	reg.MustRegister(vec)
	return &Prometheus{registry: reg, vec: vec}
}

// Emit implements Emitter by setting the gauge for metric to value.
func (p *Prometheus) Emit(metric string, value float64) {
	p.vec.WithLabelValues(metric).Set(value)
}

// Registry returns the underlying registry, for wiring into an
// http.Handler via promhttp.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}
