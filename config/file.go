package config

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// File is a YAML file of named ConnectOptions entries, for applications
// that juggle several logical databases through one pool.Manager.
type File struct {
	Defaults PoolDefaults          `yaml:"defaults"`
	Pools    map[string]PoolConfig `yaml:"pools"`
}

// PoolDefaults holds settings applied to every pool that doesn't
// override them.
type PoolDefaults struct {
	MinSize        int           `yaml:"min_size"`
	MaxSize        int           `yaml:"max_size"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	MaxLifetime    time.Duration `yaml:"max_lifetime"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
}

// PoolConfig is one named pool's connection URL plus optional overrides.
type PoolConfig struct {
	URL            string         `yaml:"url"`
	MinSize        *int           `yaml:"min_size,omitempty"`
	MaxSize        *int           `yaml:"max_size,omitempty"`
	IdleTimeout    *time.Duration `yaml:"idle_timeout,omitempty"`
	MaxLifetime    *time.Duration `yaml:"max_lifetime,omitempty"`
	AcquireTimeout *time.Duration `yaml:"acquire_timeout,omitempty"`
}

func (p PoolConfig) EffectiveMinSize(d PoolDefaults) int {
	if p.MinSize != nil {
		return *p.MinSize
	}
	return d.MinSize
}

func (p PoolConfig) EffectiveMaxSize(d PoolDefaults) int {
	if p.MaxSize != nil {
		return *p.MaxSize
	}
	if d.MaxSize == 0 {
		return 10
	}
	return d.MaxSize
}

func (p PoolConfig) EffectiveIdleTimeout(d PoolDefaults) time.Duration {
	if p.IdleTimeout != nil {
		return *p.IdleTimeout
	}
	return d.IdleTimeout
}

func (p PoolConfig) EffectiveMaxLifetime(d PoolDefaults) time.Duration {
	if p.MaxLifetime != nil {
		return *p.MaxLifetime
	}
	if d.MaxLifetime == 0 {
		return 30 * time.Minute
	}
	return d.MaxLifetime
}

func (p PoolConfig) EffectiveAcquireTimeout(d PoolDefaults) time.Duration {
	if p.AcquireTimeout != nil {
		return *p.AcquireTimeout
	}
	if d.AcquireTimeout == 0 {
		return 30 * time.Second
	}
	return d.AcquireTimeout
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

func substituteEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envVarPattern.FindSubmatch(match)[1]
		if val, ok := os.LookupEnv(string(name)); ok {
			return []byte(val)
		}
		return match
	})
}

// LoadFile reads and parses a YAML pool-config file with ${VAR}
// environment substitution.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading pool config file: %w", err)
	}
	data = substituteEnvVars(data)

	f := &File{}
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("config: parsing pool config file: %w", err)
	}
	for name, p := range f.Pools {
		if p.URL == "" {
			return nil, fmt.Errorf("config: pool %q: url is required", name)
		}
	}
	return f, nil
}

// Watcher watches a pool-config file for changes and invokes callback
// with the reloaded File, debounced.
type Watcher struct {
	path     string
	callback func(*File)
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	stopCh   chan struct{}
}

// NewWatcher starts watching path for changes.
func NewWatcher(path string, callback func(*File)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: creating file watcher: %w", err)
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("config: watching pool config file: %w", err)
	}
	cw := &Watcher{path: path, callback: callback, watcher: w, stopCh: make(chan struct{})}
	go cw.run()
	return cw, nil
}

func (cw *Watcher) run() {
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, cw.reload)
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("config watcher error", "err", err)
		case <-cw.stopCh:
			return
		}
	}
}

func (cw *Watcher) reload() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	f, err := LoadFile(cw.path)
	if err != nil {
		slog.Warn("pool config hot-reload failed", "err", err)
		return
	}
	slog.Info("pool config reloaded", "path", cw.path)
	cw.callback(f)
}

// Stop stops the watcher.
func (cw *Watcher) Stop() error {
	close(cw.stopCh)
	return cw.watcher.Close()
}
