package sqlcore

import (
	"context"

	"github.com/dbbouncer/sqlcore/config"
	"github.com/dbbouncer/sqlcore/internal/myproto"
	"github.com/dbbouncer/sqlcore/internal/pgproto"
	"github.com/dbbouncer/sqlcore/internal/sqlitedriver"
)

// driverConn is the lifecycle surface common to every engine — close,
// ping, poisoned-state check. Query and Exec do not go through it: they
// switch on which engine field of Conn is set.
type driverConn interface {
	Close() error
	Ping(ctx context.Context) error
	Poisoned() error
}

// Conn is one live connection to a Postgres, MySQL, or SQLite database.
// It owns exactly one driverConn and is not safe for concurrent use by
// multiple goroutines, matching the ownership invariant in the data
// model: a Conn belongs to whoever Acquired it from a Pool (or dialed
// it directly via Connect), until it is returned or Closed.
type Conn struct {
	opts config.ConnectOptions
	pg   *pgproto.Conn
	my   *myproto.Conn
	lite *sqlitedriver.Conn
}

// Connect dials a single connection using opts, without a pool. Most
// callers should go through a Pool instead; Connect exists for the
// cases — migrations, one-shot scripts, health probes — where a pool's
// lifecycle management is unwanted overhead.
func Connect(ctx context.Context, opts config.ConnectOptions) (*Conn, error) {
	opts = opts.WithDefaults()
	switch opts.Scheme {
	case config.SchemePostgres:
		pc, err := pgproto.Connect(ctx, opts)
		if err != nil {
			return nil, err
		}
		return &Conn{opts: opts, pg: pc}, nil
	case config.SchemeMySQL:
		mc, err := myproto.Connect(ctx, opts)
		if err != nil {
			return nil, err
		}
		return &Conn{opts: opts, my: mc}, nil
	case config.SchemeSQLite:
		lc, err := sqlitedriver.Connect(ctx, opts)
		if err != nil {
			return nil, err
		}
		return &Conn{opts: opts, lite: lc}, nil
	default:
		return nil, Wrap(KindConfiguration, nil, "sqlcore: unknown scheme %q", opts.Scheme)
	}
}

func (c *Conn) driver() driverConn {
	switch {
	case c.pg != nil:
		return c.pg
	case c.my != nil:
		return c.my
	default:
		return c.lite
	}
}

// Close releases the underlying engine connection.
func (c *Conn) Close() error { return c.driver().Close() }

// Ping validates liveness without corrupting any in-flight protocol
// framing — each engine implements this the way its wire format allows
// rather than with a single shared byte-level probe.
func (c *Conn) Ping(ctx context.Context) error { return c.driver().Ping(ctx) }

// Poisoned reports the sticky error, if any, left by a prior failed
// operation. A poisoned connection must be closed, never reused.
func (c *Conn) Poisoned() error { return c.driver().Poisoned() }

// Query runs sql with positional args and returns a lazily-iterated
// Cursor. Placeholder syntax is engine-native ($1, ?, ?)
// except for the `{…}` in-list expansion extension, which is rewritten
// client-side before dispatch.
func (c *Conn) Query(ctx context.Context, sql string, args ...any) (*Cursor, error) {
	switch {
	case c.pg != nil:
		cur, err := c.pg.ExtendedQuery(sql, args...)
		if err != nil {
			return nil, err
		}
		return &Cursor{pg: cur}, nil
	case c.my != nil:
		stmt, err := c.my.Prepare(sql)
		if err != nil {
			return nil, err
		}
		cur, err := c.my.Execute(stmt, args)
		if err != nil {
			return nil, err
		}
		return &Cursor{my: cur}, nil
	default:
		cur, err := c.lite.Query(ctx, sql, args...)
		if err != nil {
			return nil, err
		}
		return &Cursor{lite: cur}, nil
	}
}

// Exec runs sql for its side effects and returns the affected-row count
// plus, where the engine provides one, the last-inserted id.
func (c *Conn) Exec(ctx context.Context, sql string, args ...any) (rowsAffected int64, lastInsertID int64, err error) {
	switch {
	case c.pg != nil:
		cur, err := c.pg.ExtendedQuery(sql, args...)
		if err != nil {
			return 0, 0, err
		}
		res, err := cur.NextResult()
		if err != nil {
			return 0, 0, err
		}
		return res.RowsAffected, 0, nil
	case c.my != nil:
		stmt, err := c.my.Prepare(sql)
		if err != nil {
			return 0, 0, err
		}
		cur, err := c.my.Execute(stmt, args)
		if err != nil {
			return 0, 0, err
		}
		res, err := cur.NextResult()
		if err != nil {
			return 0, 0, err
		}
		return int64(res.RowsAffected), int64(res.LastInsertID), nil
	default:
		return c.lite.Exec(ctx, sql, args...)
	}
}
