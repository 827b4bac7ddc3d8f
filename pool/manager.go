package pool

import (
	"log/slog"
	"sync"

	"github.com/dbbouncer/sqlcore/config"
)

// Manager owns one Pool per name — one pool per named logical
// database, useful for applications juggling several databases under
// one process. A name maps to the pool created on its first
// GetOrCreate; later calls with the same name return that pool
// whatever options they pass.
type Manager struct {
	mu       sync.RWMutex
	pools    map[string]*Pool
	defaults Config
}

// NewManager creates an empty Manager using cfg for any pool created
// without an explicit override.
func NewManager(defaults Config) *Manager {
	return &Manager{pools: make(map[string]*Pool), defaults: defaults}
}

// GetOrCreate returns the named pool, creating it against opts/cfg if
// it does not yet exist. cfg's zero value uses the Manager's defaults.
func (m *Manager) GetOrCreate(name string, opts config.ConnectOptions, cfg Config) *Pool {
	m.mu.RLock()
	if p, ok := m.pools[name]; ok {
		m.mu.RUnlock()
		return p
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pools[name]; ok {
		return p
	}
	if cfg == (Config{}) {
		cfg = m.defaults
	}
	p := New(opts, cfg)
	m.pools[name] = p
	slog.Info("pool: created", "name", name, "scheme", opts.Scheme, "host", opts.Host)
	return p
}

// Get returns the named pool if it exists.
func (m *Manager) Get(name string) (*Pool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pools[name]
	return p, ok
}

// Remove closes and removes the named pool.
func (m *Manager) Remove(name string) bool {
	m.mu.Lock()
	p, ok := m.pools[name]
	if ok {
		delete(m.pools, name)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	p.Close()
	return true
}

// AllStats returns a snapshot of every managed pool's Stats, keyed by name.
func (m *Manager) AllStats() map[string]Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Stats, len(m.pools))
	for name, p := range m.pools {
		out[name] = p.Stats()
	}
	return out
}

// Close closes every managed pool.
func (m *Manager) Close() {
	m.mu.Lock()
	pools := m.pools
	m.pools = make(map[string]*Pool)
	m.mu.Unlock()
	for _, p := range pools {
		p.Close()
	}
}
