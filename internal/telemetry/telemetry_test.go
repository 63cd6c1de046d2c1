package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNullDiscards(t *testing.T) {
	var e Emitter = Null{}
	e.Emit("dump.rows_written", 42)
}

func TestPrometheusEmitSetsGauge(t *testing.T) {
	p := NewPrometheus(nil)
	p.Emit("dump.rows_written", 123)
	p.Emit("restore.jobs_active", 4)

	metrics, err := p.Registry().Gather()
	if err != nil {
		t.Fatal(err)
	}

	var found map[string]float64 = make(map[string]float64)
	for _, mf := range metrics {
		if mf.GetName() != namespace+"_core_metric" {
			continue
		}
		for _, m := range mf.Metric {
			for _, l := range m.Label {
				if l.GetName() == "metric" {
					found[l.GetValue()] = m.GetGauge().GetValue()
				}
			}
		}
	}
	if found["dump.rows_written"] != 123 {
		t.Errorf("expected dump.rows_written=123, got %v", found["dump.rows_written"])
	}
	if found["restore.jobs_active"] != 4 {
		t.Errorf("expected restore.jobs_active=4, got %v", found["restore.jobs_active"])
	}
}

func TestPrometheusEmitOverwritesLatestValue(t *testing.T) {
	p := NewPrometheus(prometheus.NewRegistry())
	p.Emit("x", 1)
	p.Emit("x", 2)

	metrics, _ := p.Registry().Gather()
	var got float64
	for _, mf := range metrics {
		for _, m := range mf.Metric {
			got = m.GetGauge().GetValue()
		}
	}
	if got != 2 {
		t.Errorf("expected latest value 2, got %v", got)
	}
}
