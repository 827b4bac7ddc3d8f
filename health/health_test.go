package health

import (
	"testing"
	"time"

	"github.com/dbbouncer/sqlcore/config"
	"github.com/dbbouncer/sqlcore/pool"
)

var testInterval = 30 * time.Second
var testThreshold = 3
var testTimeout = 2 * time.Second

func memOpts() config.ConnectOptions {
	return config.ConnectOptions{Scheme: config.SchemeSQLite, SQLitePath: ":memory:", SQLiteMode: config.SQLiteModeMemory}
}

func TestCheckerInitialStateUnknown(t *testing.T) {
	m := pool.NewManager(pool.Config{MaxSize: 2}.WithDefaults())
	defer m.Close()
	c := NewChecker(m, nil, testInterval, testThreshold, testTimeout)

	if !c.IsHealthy("unknown") {
		t.Error("unknown pool should be treated as healthy")
	}
	if status := c.GetStatus("unknown"); status.Status != StatusUnknown {
		t.Errorf("status = %v, want StatusUnknown", status.Status)
	}
}

func TestCheckerUpdateStatusSingleFailureStaysHealthy(t *testing.T) {
	m := pool.NewManager(pool.Config{MaxSize: 2}.WithDefaults())
	defer m.Close()
	c := NewChecker(m, nil, testInterval, testThreshold, testTimeout)

	c.updateStatus("main", true)
	if !c.IsHealthy("main") {
		t.Error("should be healthy after a healthy update")
	}

	c.updateStatus("main", false)
	if !c.IsHealthy("main") {
		t.Error("a single failure should not cross the threshold of 3")
	}
	if status := c.GetStatus("main"); status.ConsecutiveFailures != 1 {
		t.Errorf("consecutive failures = %d, want 1", status.ConsecutiveFailures)
	}
}

func TestCheckerThresholdMarksUnhealthy(t *testing.T) {
	m := pool.NewManager(pool.Config{MaxSize: 2}.WithDefaults())
	defer m.Close()
	c := NewChecker(m, nil, testInterval, testThreshold, testTimeout)

	c.updateStatus("main", false)
	c.updateStatus("main", false)
	c.updateStatus("main", false)

	if c.IsHealthy("main") {
		t.Error("should be unhealthy after 3 consecutive failures")
	}
	if status := c.GetStatus("main"); status.Status != StatusUnhealthy {
		t.Errorf("status = %v, want StatusUnhealthy", status.Status)
	}
}

func TestCheckerRecoveryResetsFailures(t *testing.T) {
	m := pool.NewManager(pool.Config{MaxSize: 2}.WithDefaults())
	defer m.Close()
	c := NewChecker(m, nil, testInterval, testThreshold, testTimeout)

	c.updateStatus("main", false)
	c.updateStatus("main", false)
	c.updateStatus("main", false)
	if c.IsHealthy("main") {
		t.Fatal("precondition: should be unhealthy")
	}

	c.updateStatus("main", true)
	if !c.IsHealthy("main") {
		t.Error("should be healthy after recovery")
	}
	if status := c.GetStatus("main"); status.ConsecutiveFailures != 0 {
		t.Errorf("consecutive failures after recovery = %d, want 0", status.ConsecutiveFailures)
	}
}

func TestOverallHealthyWithNoChecksYet(t *testing.T) {
	m := pool.NewManager(pool.Config{MaxSize: 2}.WithDefaults())
	defer m.Close()
	c := NewChecker(m, nil, testInterval, testThreshold, testTimeout)

	if !c.OverallHealthy() {
		t.Error("no pools checked yet should read as overall healthy")
	}
}

func TestPingPoolHealthySQLite(t *testing.T) {
	m := pool.NewManager(pool.Config{MaxSize: 2}.WithDefaults())
	defer m.Close()
	p := m.GetOrCreate("main", memOpts(), pool.Config{})

	c := NewChecker(m, nil, testInterval, testThreshold, testTimeout)
	if !c.pingPool("main", p) {
		t.Error("expected ping against a live sqlite pool to succeed")
	}
}

func TestRemoveDropsState(t *testing.T) {
	m := pool.NewManager(pool.Config{MaxSize: 2}.WithDefaults())
	defer m.Close()
	c := NewChecker(m, nil, testInterval, testThreshold, testTimeout)

	c.updateStatus("main", true)
	c.Remove("main")

	if status := c.GetStatus("main"); status.Status != StatusUnknown {
		t.Errorf("status after Remove = %v, want StatusUnknown", status.Status)
	}
}
