// Package pool implements a connection pool: a fixed-capacity set of
// engine connections with idle reuse, background reaping, and a fair
// FIFO wait queue for callers racing for a connection under load. One
// Pool holds sqlcore.Conn values for a single ConnectOptions.
package pool

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dbbouncer/sqlcore"
	"github.com/dbbouncer/sqlcore/config"
)

// Stats is a point-in-time snapshot of one pool's state.
type Stats struct {
	Active                int
	Idle                  int
	Total                 int
	Waiting               int
	MaxSize               int
	MinSize               int
	AcquireTimeoutsTotal  int64
}

// Config holds the pool's sizing and lifecycle knobs.
type Config struct {
	MinSize        int
	MaxSize        int
	IdleTimeout    time.Duration
	MaxLifetime    time.Duration
	AcquireTimeout time.Duration

	// TestBeforeAcquire pings an idle connection before handing it out.
	// A nil value defaults to true in WithDefaults; a plain bool can't
	// tell "unset" from "explicitly false" via its zero value, so this
	// is a pointer.
	TestBeforeAcquire *bool

	// Fair always resolves true: the waiter queue is always FIFO. The
	// field exists so callers can still set it explicitly; there is no
	// non-fair mode to opt into.
	Fair bool

	ReapInterval time.Duration
}

// WithDefaults fills zero-valued fields with their documented defaults.
func (c Config) WithDefaults() Config {
	if c.MaxSize == 0 {
		c.MaxSize = 10
	}
	if c.AcquireTimeout == 0 {
		c.AcquireTimeout = 30 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 10 * time.Minute
	}
	if c.MaxLifetime == 0 {
		c.MaxLifetime = 30 * time.Minute
	}
	if c.TestBeforeAcquire == nil {
		t := true
		c.TestBeforeAcquire = &t
	}
	if c.ReapInterval == 0 {
		c.ReapInterval = 30 * time.Second
	}
	c.Fair = true
	return c
}

type idleConn struct {
	conn      *sqlcore.Conn
	idleSince time.Time
	createdAt time.Time
}

// waiter is one goroutine blocked in Acquire. FIFO ordering (a plain
// sync.Cond's Signal wakes an arbitrary waiter, not necessarily the
// oldest one) is achieved by handing a connection directly to the
// waiter at the front of this list, rather than broadcasting and
// letting goroutines race to re-check a shared slice.
type waiter struct {
	ready chan acquireResult
}

type acquireResult struct {
	conn *sqlcore.Conn
	err  error
}

// Pool is a fixed-capacity set of connections to one ConnectOptions
// target.
type Pool struct {
	opts config.ConnectOptions
	cfg  Config

	mu       sync.Mutex
	idle     []*idleConn
	active   map[*sqlcore.Conn]struct{}
	total    int
	waiters  *list.List // of *waiter
	closed   bool
	stopCh   chan struct{}
	exhausted int64

	onExhausted func()
}

// New creates a pool against opts, starting its background reaper.
// Connections are created lazily on first Acquire (and, if
// cfg.MinSize > 0, warmed in the background).
func New(opts config.ConnectOptions, cfg Config) *Pool {
	p := &Pool{
		opts:   opts.WithDefaults(),
		cfg:    cfg.WithDefaults(),
		active: make(map[*sqlcore.Conn]struct{}),
		waiters: list.New(),
		stopCh: make(chan struct{}),
	}
	go p.reapLoop()
	if p.cfg.MinSize > 0 {
		go p.warmUp()
	}
	return p
}

// OnExhausted installs a callback invoked whenever Acquire must block
// because the pool is at MaxSize with no idle connections.
func (p *Pool) OnExhausted(cb func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onExhausted = cb
}

func (p *Pool) warmUp() {
	for i := 0; i < p.cfg.MinSize; i++ {
		p.mu.Lock()
		if p.closed || p.total >= p.cfg.MinSize {
			p.mu.Unlock()
			return
		}
		p.total++
		p.mu.Unlock()

		c, err := sqlcore.Connect(context.Background(), p.opts)
		if err != nil {
			p.mu.Lock()
			p.total--
			p.mu.Unlock()
			slog.Warn("pool warm-up connection failed", "index", i+1, "target", p.cfg.MinSize, "err", err)
			return
		}
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			c.Close()
			return
		}
		p.idle = append(p.idle, &idleConn{conn: c, idleSince: time.Now(), createdAt: time.Now()})
		p.mu.Unlock()
	}
}

// Acquire returns a connection, creating one if the pool is under
// MaxSize, or blocking in FIFO order if it is not, until ctx is
// cancelled or cfg.AcquireTimeout elapses — whichever is sooner.
func (p *Pool) Acquire(ctx context.Context) (*sqlcore.Conn, error) {
	deadline := time.Now().Add(p.cfg.AcquireTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, sqlcore.ErrPoolClosed
	}

	// Idle reuse: newest-first (LIFO), keeping one connection hot
	// rather than round-robining across all of them.
	for len(p.idle) > 0 {
		ic := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]

		if p.cfg.MaxLifetime > 0 && time.Since(ic.createdAt) > p.cfg.MaxLifetime {
			p.total--
			p.mu.Unlock()
			ic.conn.Close()
			p.mu.Lock()
			continue
		}
		if p.cfg.TestBeforeAcquire != nil && *p.cfg.TestBeforeAcquire {
			p.mu.Unlock()
			if err := ic.conn.Ping(ctx); err != nil {
				ic.conn.Close()
				p.mu.Lock()
				p.total--
				continue
			}
			p.mu.Lock()
		}
		p.active[ic.conn] = struct{}{}
		p.mu.Unlock()
		return ic.conn, nil
	}

	// New connection under capacity.
	if p.total < p.cfg.MaxSize {
		p.total++
		p.mu.Unlock()
		c, err := sqlcore.Connect(ctx, p.opts)
		if err != nil {
			p.mu.Lock()
			p.total--
			p.mu.Unlock()
			return nil, sqlcore.Wrap(sqlcore.KindIO, err, "pool: dialing new connection")
		}
		p.mu.Lock()
		p.active[c] = struct{}{}
		p.mu.Unlock()
		return c, nil
	}

	// Pool exhausted: enqueue as a FIFO waiter.
	cb := p.onExhausted
	w := &waiter{ready: make(chan acquireResult, 1)}
	elem := p.waiters.PushBack(w)
	p.mu.Unlock()

	if cb != nil {
		cb()
	}

	remaining := time.Until(deadline)
	if remaining <= 0 {
		p.removeWaiter(elem)
		p.mu.Lock()
		p.exhausted++
		p.mu.Unlock()
		return nil, sqlcore.ErrPoolTimeout
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()

	select {
	case res := <-w.ready:
		return res.conn, res.err
	case <-ctx.Done():
		p.removeWaiter(elem)
		return nil, ctx.Err()
	case <-timer.C:
		p.removeWaiter(elem)
		p.mu.Lock()
		p.exhausted++
		p.mu.Unlock()
		return nil, sqlcore.ErrPoolTimeout
	}
}

// removeWaiter removes elem from the waiter list if it is still
// present (it may already have been popped and handed a connection
// concurrently with the timeout/cancellation firing).
func (p *Pool) removeWaiter(elem *list.Element) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for e := p.waiters.Front(); e != nil; e = e.Next() {
		if e == elem {
			p.waiters.Remove(e)
			return
		}
	}
}

// Release returns c to the pool, handing it directly to the
// longest-waiting Acquire call if one is queued (FIFO fairness),
// otherwise placing it on the idle list. A poisoned or expired
// connection is closed instead of reused.
func (p *Pool) Release(c *sqlcore.Conn) {
	p.mu.Lock()
	delete(p.active, c)

	if p.closed || c.Poisoned() != nil {
		p.total--
		p.mu.Unlock()
		c.Close()
		return
	}

	if front := p.waiters.Front(); front != nil {
		p.waiters.Remove(front)
		w := front.Value.(*waiter)
		p.active[c] = struct{}{}
		p.mu.Unlock()
		w.ready <- acquireResult{conn: c}
		return
	}

	p.idle = append(p.idle, &idleConn{conn: c, idleSince: time.Now(), createdAt: time.Now()})
	p.mu.Unlock()
}

// Stats returns a point-in-time snapshot.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Active:               len(p.active),
		Idle:                 len(p.idle),
		Total:                p.total,
		Waiting:              p.waiters.Len(),
		MaxSize:              p.cfg.MaxSize,
		MinSize:              p.cfg.MinSize,
		AcquireTimeoutsTotal: p.exhausted,
	}
}

// Close closes all idle connections, waits briefly for active ones to
// be returned, then force-closes whatever remains, waking any blocked
// waiters with ErrPoolClosed.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.stopCh)

	for e := p.waiters.Front(); e != nil; e = e.Next() {
		e.Value.(*waiter).ready <- acquireResult{err: sqlcore.ErrPoolClosed}
	}
	p.waiters.Init()

	idle := p.idle
	p.idle = nil
	p.total -= len(idle)
	active := make([]*sqlcore.Conn, 0, len(p.active))
	for c := range p.active {
		active = append(active, c)
	}
	p.mu.Unlock()

	for _, ic := range idle {
		ic.conn.Close()
	}

	if len(active) == 0 {
		return
	}
	deadline := time.After(30 * time.Second)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.mu.Lock()
			n := len(p.active)
			p.mu.Unlock()
			if n == 0 {
				return
			}
		case <-deadline:
			p.mu.Lock()
			for c := range p.active {
				c.Close()
			}
			p.active = make(map[*sqlcore.Conn]struct{})
			p.mu.Unlock()
			slog.Warn("pool: force-closed active connections after drain timeout")
			return
		}
	}
}

func (p *Pool) reapLoop() {
	ticker := time.NewTicker(p.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.reapIdle()
			p.maintainMinSize()
		case <-p.stopCh:
			return
		}
	}
}

// maintainMinSize tops the pool back up to MinSize after connections
// were lost to errors or reaping. A failed dial is simply retried on
// the next reap tick rather than on its own backoff timer: ReapInterval
// already bounds how often this runs, so a down database is retried at
// a steady, capped rate instead of being hammered.
func (p *Pool) maintainMinSize() {
	p.mu.Lock()
	if p.closed || p.total >= p.cfg.MinSize {
		p.mu.Unlock()
		return
	}
	p.total++
	p.mu.Unlock()

	c, err := sqlcore.Connect(context.Background(), p.opts)
	if err != nil {
		p.mu.Lock()
		p.total--
		p.mu.Unlock()
		slog.Warn("pool min-size top-up failed, retrying next reap interval", "err", err)
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		c.Close()
		return
	}
	p.idle = append(p.idle, &idleConn{conn: c, createdAt: time.Now(), idleSince: time.Now()})
	p.mu.Unlock()
}

func (p *Pool) reapIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.idle) <= p.cfg.MinSize {
		return
	}
	kept := make([]*idleConn, 0, len(p.idle))
	excess := len(p.idle) - p.cfg.MinSize
	for i, ic := range p.idle {
		expired := p.cfg.MaxLifetime > 0 && time.Since(ic.createdAt) > p.cfg.MaxLifetime
		stale := p.cfg.IdleTimeout > 0 && time.Since(ic.idleSince) > p.cfg.IdleTimeout
		if i < excess && (expired || stale) {
			ic.conn.Close()
			p.total--
		} else {
			kept = append(kept, ic)
		}
	}
	p.idle = kept
}
