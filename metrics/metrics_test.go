package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	return New()
}

func getGaugeValue(g prometheus.Gauge) float64 {
	m := &dto.Metric{}
	g.Write(m)
	return m.GetGauge().GetValue()
}

func getCounterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	c.Write(m)
	return m.GetCounter().GetValue()
}

func TestUpdatePoolStatsReplacesNotAccumulates(t *testing.T) {
	c := newTestCollector(t)

	c.UpdatePoolStats("main", "postgres", 3, 5, 8, 1)
	if v := getGaugeValue(c.connectionsActive.WithLabelValues("main", "postgres")); v != 3 {
		t.Errorf("active = %v, want 3", v)
	}

	c.UpdatePoolStats("main", "postgres", 2, 4, 6, 0)
	if v := getGaugeValue(c.connectionsActive.WithLabelValues("main", "postgres")); v != 2 {
		t.Errorf("active after update = %v, want 2", v)
	}
}

func TestQueryDurationObserves(t *testing.T) {
	c := newTestCollector(t)

	c.QueryDuration("main", "postgres", 100*time.Millisecond)
	c.QueryDuration("main", "postgres", 200*time.Millisecond)

	families, err := c.Registry.Gather()
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "sqlcore_query_duration_seconds" {
			found = true
			for _, m := range f.Metric {
				if m.GetHistogram().GetSampleCount() != 2 {
					t.Errorf("sample count = %d, want 2", m.GetHistogram().GetSampleCount())
				}
			}
		}
	}
	if !found {
		t.Fatal("sqlcore_query_duration_seconds not found in gathered families")
	}
}

func TestPoolExhaustedIncrements(t *testing.T) {
	c := newTestCollector(t)

	c.PoolExhausted("main")
	c.PoolExhausted("main")

	if v := getCounterValue(c.poolExhausted.WithLabelValues("main")); v != 2 {
		t.Errorf("pool_exhausted_total = %v, want 2", v)
	}
}

func TestHealthCheckCompletedLabelsByStatus(t *testing.T) {
	c := newTestCollector(t)

	c.HealthCheckCompleted("main", 5*time.Millisecond, true)
	c.HealthCheckCompleted("main", 50*time.Millisecond, false)

	healthy := c.healthCheckDuration.WithLabelValues("main", "healthy")
	unhealthy := c.healthCheckDuration.WithLabelValues("main", "unhealthy")

	m := &dto.Metric{}
	healthy.(prometheus.Histogram).Write(m)
	if m.GetHistogram().GetSampleCount() != 1 {
		t.Errorf("healthy sample count = %d, want 1", m.GetHistogram().GetSampleCount())
	}
	m = &dto.Metric{}
	unhealthy.(prometheus.Histogram).Write(m)
	if m.GetHistogram().GetSampleCount() != 1 {
		t.Errorf("unhealthy sample count = %d, want 1", m.GetHistogram().GetSampleCount())
	}
}

func TestRemoveDeletesAllSeriesForPool(t *testing.T) {
	c := newTestCollector(t)

	c.UpdatePoolStats("gone", "mysql", 1, 1, 2, 0)
	c.PoolExhausted("gone")
	c.UpdatePoolStats("stays", "mysql", 1, 1, 2, 0)

	c.Remove("gone")

	families, err := c.Registry.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range families {
		for _, m := range f.Metric {
			for _, l := range m.Label {
				if l.GetName() == "pool" && l.GetValue() == "gone" {
					t.Errorf("found leftover series for removed pool in family %s", f.GetName())
				}
			}
		}
	}
}
