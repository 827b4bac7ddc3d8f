package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dbbouncer/sqlcore"
	"github.com/dbbouncer/sqlcore/config"
)

// memOpts returns connect options for an in-memory SQLite database,
// used as the pool's backend target in these tests since opening a
// connection requires no real network server — unlike Postgres/MySQL,
// which would need a fake listener speaking the wire protocol.
func memOpts() config.ConnectOptions {
	return config.ConnectOptions{Scheme: config.SchemeSQLite, SQLitePath: ":memory:", SQLiteMode: config.SQLiteModeMemory}
}

func TestPoolAcquireReleaseReusesIdleConnection(t *testing.T) {
	p := New(memOpts(), Config{MaxSize: 2}.WithDefaults())
	defer p.Close()

	ctx := context.Background()
	c1, err := p.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}
	p.Release(c1)

	c2, err := p.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if c2 != c1 {
		t.Error("expected idle connection to be reused")
	}
	p.Release(c2)

	stats := p.Stats()
	if stats.Total != 1 {
		t.Errorf("total = %d, want 1", stats.Total)
	}
}

func TestPoolAcquireUpToMaxSize(t *testing.T) {
	p := New(memOpts(), Config{MaxSize: 2}.WithDefaults())
	defer p.Close()

	ctx := context.Background()
	c1, err := p.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}
	c2, err := p.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}

	stats := p.Stats()
	if stats.Active != 2 || stats.Total != 2 {
		t.Errorf("stats = %+v, want active=2 total=2", stats)
	}

	p.Release(c1)
	p.Release(c2)
}

func TestPoolAcquireTimesOutWhenExhausted(t *testing.T) {
	p := New(memOpts(), Config{MaxSize: 1, AcquireTimeout: 50 * time.Millisecond}.WithDefaults())
	defer p.Close()

	ctx := context.Background()
	c1, err := p.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Release(c1)

	start := time.Now()
	_, err = p.Acquire(ctx)
	elapsed := time.Since(start)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed > 500*time.Millisecond {
		t.Errorf("acquire blocked too long: %v", elapsed)
	}
}

// TestPoolFIFOFairness reproduces the three-waiter scenario: with
// max_size=1, two goroutines queue for the single connection behind
// the one already holding it. They must be served in the order they
// called Acquire.
func TestPoolFIFOFairness(t *testing.T) {
	p := New(memOpts(), Config{MaxSize: 1, AcquireTimeout: 5 * time.Second}.WithDefaults())
	defer p.Close()

	ctx := context.Background()
	holder, err := p.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}

	var order []int
	var mu sync.Mutex
	release := make(chan struct{})
	done := make(chan struct{}, 2)

	acquireN := func(n int) {
		c, err := p.Acquire(ctx)
		if err != nil {
			t.Error(err)
			done <- struct{}{}
			return
		}
		mu.Lock()
		order = append(order, n)
		mu.Unlock()
		<-release
		p.Release(c)
		done <- struct{}{}
	}

	go acquireN(1)
	time.Sleep(20 * time.Millisecond) // ensure goroutine 1 enqueues first
	go acquireN(2)
	time.Sleep(20 * time.Millisecond)

	p.Release(holder)
	close(release)

	<-done
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("acquire order = %v, want [1 2]", order)
	}
}

func TestPoolCloseWakesBlockedWaiters(t *testing.T) {
	p := New(memOpts(), Config{MaxSize: 1, AcquireTimeout: 5 * time.Second}.WithDefaults())

	ctx := context.Background()
	if _, err := p.Acquire(ctx); err != nil {
		t.Fatal(err)
	}
	// holder is deliberately never released, keeping the pool at
	// MaxSize=1 so the next Acquire queues as a waiter. Close is run in
	// the background since its active-connection drain otherwise blocks
	// for up to 30s waiting on a Release that will never come.

	var waitErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, waitErr = p.Acquire(ctx)
	}()
	time.Sleep(20 * time.Millisecond)

	go p.Close()
	wg.Wait()

	if waitErr == nil {
		t.Error("expected waiter to be woken with an error on Close")
	}
}

func TestManagerGetOrCreateReturnsSameInstance(t *testing.T) {
	m := NewManager(Config{MaxSize: 2}.WithDefaults())
	defer m.Close()

	p1 := m.GetOrCreate("main", memOpts(), Config{})
	p2 := m.GetOrCreate("main", memOpts(), Config{})
	if p1 != p2 {
		t.Error("expected same pool instance for repeated GetOrCreate")
	}
}

func TestManagerRemoveClosesPool(t *testing.T) {
	m := NewManager(Config{MaxSize: 2}.WithDefaults())
	defer m.Close()

	m.GetOrCreate("main", memOpts(), Config{})
	if !m.Remove("main") {
		t.Error("Remove should return true for an existing pool")
	}
	if m.Remove("main") {
		t.Error("Remove should return false once already removed")
	}
}

func TestReapIdleTrimsDownToMinSize(t *testing.T) {
	p := New(memOpts(), Config{
		MinSize:      1,
		MaxSize:      5,
		IdleTimeout:  10 * time.Millisecond,
		ReapInterval: 10 * time.Millisecond,
	}.WithDefaults())
	defer p.Close()

	ctx := context.Background()
	conns := make([]*sqlcore.Conn, 0, 3)
	for i := 0; i < 3; i++ {
		c, err := p.Acquire(ctx)
		if err != nil {
			t.Fatal(err)
		}
		conns = append(conns, c)
	}
	for _, c := range conns {
		p.Release(c)
	}

	time.Sleep(100 * time.Millisecond)

	stats := p.Stats()
	if stats.Total > 1 {
		t.Errorf("total after reap = %d, want <= 1 (min size)", stats.Total)
	}
}
