// Package health implements periodic connection validation for pools
// managed by a pool.Manager. Rather than probing a raw TCP socket or
// hand-rolling a protocol handshake to prove a backend is alive, it
// acquires a real connection from the pool and runs it through the
// driver's own Ping, which exercises the full connect/auth/protocol
// path a query would.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dbbouncer/sqlcore/metrics"
	"github.com/dbbouncer/sqlcore/pool"
)

// Status is the health classification of a pooled database target.
type Status int

const (
	StatusUnknown Status = iota
	StatusHealthy
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// DatabaseHealth holds health state for one named pool.
type DatabaseHealth struct {
	Status              Status
	LastCheck           time.Time
	ConsecutiveFailures int
	LastError           string
}

// Checker periodically pings every pool registered with a pool.Manager
// and tracks consecutive-failure counts, flipping a pool to unhealthy
// only after FailureThreshold consecutive failed pings — avoiding
// flapping status on a single transient timeout.
type Checker struct {
	mu    sync.RWMutex
	state map[string]*DatabaseHealth

	mgr     *pool.Manager
	metrics *metrics.Collector

	interval         time.Duration
	failureThreshold int
	checkTimeout     time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewChecker creates a Checker over mgr's pools. m may be nil to skip
// metrics emission.
func NewChecker(mgr *pool.Manager, m *metrics.Collector, interval time.Duration, failureThreshold int, checkTimeout time.Duration) *Checker {
	if failureThreshold <= 0 {
		failureThreshold = 3
	}
	if checkTimeout <= 0 {
		checkTimeout = 5 * time.Second
	}
	return &Checker{
		state:            make(map[string]*DatabaseHealth),
		mgr:              mgr,
		metrics:          m,
		interval:         interval,
		failureThreshold: failureThreshold,
		checkTimeout:     checkTimeout,
		stopCh:           make(chan struct{}),
	}
}

// Start begins periodic checking on a background goroutine.
func (c *Checker) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run()
	}()
	slog.Info("health checker started", "interval", c.interval, "threshold", c.failureThreshold)
}

// Stop halts the checker. Safe to call multiple times.
func (c *Checker) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
	slog.Info("health checker stopped")
}

func (c *Checker) run() {
	c.checkAll()
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.checkAll()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Checker) checkAll() {
	stats := c.mgr.AllStats()

	const maxWorkers = 10
	sem := make(chan struct{}, maxWorkers)
	var wg sync.WaitGroup

	for name := range stats {
		name := name
		p, ok := c.mgr.Get(name)
		if !ok {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			start := time.Now()
			healthy := c.pingPool(name, p)
			elapsed := time.Since(start)
			if c.metrics != nil {
				c.metrics.HealthCheckCompleted(name, elapsed, healthy)
			}
			c.updateStatus(name, healthy)
		}()
	}
	wg.Wait()
}

// pingPool acquires a connection from p and validates it with Ping,
// returning it to the pool afterward regardless of outcome.
func (c *Checker) pingPool(name string, p *pool.Pool) bool {
	ctx, cancel := context.WithTimeout(context.Background(), c.checkTimeout)
	defer cancel()

	conn, err := p.Acquire(ctx)
	if err != nil {
		if c.metrics != nil {
			c.metrics.HealthCheckError(name, "acquire_failed")
		}
		c.setLastError(name, "health check acquire: "+err.Error())
		return false
	}
	defer p.Release(conn)

	if err := conn.Ping(ctx); err != nil {
		if c.metrics != nil {
			c.metrics.HealthCheckError(name, "ping_failed")
		}
		c.setLastError(name, "health check ping: "+err.Error())
		return false
	}

	c.setLastError(name, "")
	return true
}

func (c *Checker) setLastError(name, errMsg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	dh := c.getOrCreate(name)
	if errMsg != "" {
		dh.LastError = errMsg
	}
}

func (c *Checker) updateStatus(name string, healthy bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	dh := c.getOrCreate(name)
	dh.LastCheck = time.Now()

	if healthy {
		if dh.ConsecutiveFailures > 0 {
			slog.Info("pool recovered", "pool", name, "failures", dh.ConsecutiveFailures)
		}
		dh.Status = StatusHealthy
		dh.ConsecutiveFailures = 0
		dh.LastError = ""
		return
	}

	dh.ConsecutiveFailures++
	if dh.ConsecutiveFailures >= c.failureThreshold {
		if dh.Status != StatusUnhealthy {
			slog.Warn("pool marked unhealthy", "pool", name, "failures", dh.ConsecutiveFailures, "error", dh.LastError)
		}
		dh.Status = StatusUnhealthy
	}
}

func (c *Checker) getOrCreate(name string) *DatabaseHealth {
	dh, ok := c.state[name]
	if !ok {
		dh = &DatabaseHealth{Status: StatusUnknown}
		c.state[name] = dh
	}
	return dh
}

// IsHealthy reports whether name is healthy. An unknown pool (never
// checked) is treated as healthy: allow through until proven otherwise.
func (c *Checker) IsHealthy(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	dh, ok := c.state[name]
	if !ok {
		return true
	}
	return dh.Status != StatusUnhealthy
}

// GetStatus returns the health snapshot for name.
func (c *Checker) GetStatus(name string) DatabaseHealth {
	c.mu.RLock()
	defer c.mu.RUnlock()
	dh, ok := c.state[name]
	if !ok {
		return DatabaseHealth{Status: StatusUnknown}
	}
	return *dh
}

// GetAllStatuses returns a snapshot of every known pool's health.
func (c *Checker) GetAllStatuses() map[string]DatabaseHealth {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]DatabaseHealth, len(c.state))
	for name, dh := range c.state {
		out[name] = *dh
	}
	return out
}

// OverallHealthy reports whether every known pool is healthy.
func (c *Checker) OverallHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, dh := range c.state {
		if dh.Status == StatusUnhealthy {
			return false
		}
	}
	return true
}

// Remove drops health state for a pool that has been torn down via
// pool.Manager.Remove.
func (c *Checker) Remove(name string) {
	c.mu.Lock()
	delete(c.state, name)
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.Remove(name)
	}
}
