// Package sqlitedriver adapts modernc.org/sqlite's database/sql/driver
// implementation to this module's uniform Conn/Cursor/QueryResult
// shape, without going through database/sql itself. SQLite has no wire
// protocol and no client-side authentication, so this package is
// intentionally the thinnest of the three: a dial step (open the file,
// or the special ":memory:" path), a query path, and
// changes()/last_insert_rowid() bookkeeping — the rest of the budget
// this module spends on Postgres and MySQL goes to their handshake and
// extended-query state machines, which SQLite has no equivalent of.
package sqlitedriver

import (
	"context"
	"database/sql/driver"
	"fmt"

	"modernc.org/sqlite"

	"github.com/dbbouncer/sqlcore"
	"github.com/dbbouncer/sqlcore/config"
)

// Conn wraps one modernc.org/sqlite driver.Conn.
type Conn struct {
	raw    driver.Conn
	opts   config.ConnectOptions
	closed bool
}

// Connect opens path (or an in-memory database) through
// modernc.org/sqlite's exported database/sql/driver.Driver, bypassing
// database/sql so this module owns connection lifetime and pooling
// itself rather than delegating to database/sql's pool.
func Connect(ctx context.Context, opts config.ConnectOptions) (*Conn, error) {
	dsn := buildDSN(opts)
	raw, err := (&sqlite.Driver{}).Open(dsn)
	if err != nil {
		return nil, sqlcore.Wrap(sqlcore.KindIO, err, "sqlitedriver: opening %s", dsn)
	}
	c := &Conn{raw: raw, opts: opts}

	if opts.SQLiteForeignKey {
		if err := c.execPragma("PRAGMA foreign_keys = ON"); err != nil {
			c.Close()
			return nil, err
		}
	}
	if opts.SQLiteJournal != "" {
		if err := c.execPragma(fmt.Sprintf("PRAGMA journal_mode = %s", opts.SQLiteJournal)); err != nil {
			c.Close()
			return nil, err
		}
	}
	return c, nil
}

func buildDSN(opts config.ConnectOptions) string {
	path := opts.SQLitePath
	if path == "" || opts.SQLiteMode == config.SQLiteModeMemory {
		path = ":memory:"
	}
	dsn := path
	switch opts.SQLiteMode {
	case config.SQLiteModeReadOnly:
		dsn += "?mode=ro"
	case config.SQLiteModeReadWrite:
		dsn += "?mode=rw"
	}
	if opts.SQLiteCache == "shared" {
		if dsn == path {
			dsn += "?cache=shared"
		} else {
			dsn += "&cache=shared"
		}
	}
	return dsn
}

func (c *Conn) execPragma(sql string) error {
	execer, ok := c.raw.(driver.Execer)
	if !ok {
		return fmt.Errorf("sqlitedriver: driver connection does not support Exec")
	}
	_, err := execer.Exec(sql, nil)
	if err != nil {
		return sqlcore.Wrap(sqlcore.KindDatabase, err, "sqlitedriver: %s", sql)
	}
	return nil
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.raw.Close()
}

// Ping validates liveness with a trivial statement, since SQLite has no
// protocol-level ping.
func (c *Conn) Ping(ctx context.Context) error {
	return c.execPragma("SELECT 1")
}

// Poisoned is always nil: a closed error surfaces directly from the
// failing call instead of a sticky poisoned flag, since SQLite has no
// framing state that a short read could corrupt.
func (c *Conn) Poisoned() error { return nil }

// Stmt is a prepared statement handle.
type Stmt struct {
	raw driver.Stmt
}

// Prepare compiles sql once; modernc.org/sqlite caches compiled VDBE
// programs internally, so this layer adds no statement cache of its
// own the way the Postgres/MySQL drivers must.
func (c *Conn) Prepare(sql string) (*Stmt, error) {
	prep, ok := c.raw.(driver.Conn)
	if !ok {
		return nil, fmt.Errorf("sqlitedriver: unexpected connection type")
	}
	raw, err := prep.Prepare(sql)
	if err != nil {
		return nil, sqlcore.Wrap(sqlcore.KindDatabase, err, "sqlitedriver: preparing statement")
	}
	return &Stmt{raw: raw}, nil
}

func toDriverValues(args []any) []driver.Value {
	out := make([]driver.Value, len(args))
	for i, a := range args {
		out[i] = driver.Value(a)
	}
	return out
}

// Query executes sql (with positional args) and returns a Cursor.
func (c *Conn) Query(ctx context.Context, sql string, args ...any) (*Cursor, error) {
	stmt, err := c.Prepare(sql)
	if err != nil {
		return nil, err
	}
	return stmt.Query(args)
}

// Query runs the prepared statement and returns a Cursor over its rows.
func (s *Stmt) Query(args []any) (*Cursor, error) {
	queryer, ok := s.raw.(driver.StmtQueryContext)
	values := toDriverValues(args)
	var rows driver.Rows
	var err error
	if ok {
		namedArgs := make([]driver.NamedValue, len(values))
		for i, v := range values {
			namedArgs[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
		}
		rows, err = queryer.QueryContext(context.Background(), namedArgs)
	} else {
		rows, err = s.raw.Query(values)
	}
	if err != nil {
		return nil, translateError(err)
	}
	return &Cursor{rows: rows, cols: rows.Columns()}, nil
}

// Exec runs sql for its side effects (INSERT/UPDATE/DELETE/DDL) and
// returns the affected-row count and, for INSERT, the new rowid via
// last_insert_rowid().
func (c *Conn) Exec(ctx context.Context, sql string, args ...any) (rowsAffected, lastInsertID int64, err error) {
	stmt, err := c.Prepare(sql)
	if err != nil {
		return 0, 0, err
	}
	return stmt.Exec(args)
}

// Exec runs the prepared statement for its side effects.
func (s *Stmt) Exec(args []any) (rowsAffected, lastInsertID int64, err error) {
	execer, ok := s.raw.(driver.StmtExecContext)
	values := toDriverValues(args)
	var result driver.Result
	if ok {
		namedArgs := make([]driver.NamedValue, len(values))
		for i, v := range values {
			namedArgs[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
		}
		result, err = execer.ExecContext(context.Background(), namedArgs)
	} else {
		result, err = s.raw.Exec(values)
	}
	if err != nil {
		return 0, 0, translateError(err)
	}
	rowsAffected, _ = result.RowsAffected()
	lastInsertID, _ = result.LastInsertId()
	return rowsAffected, lastInsertID, nil
}

// Close releases the prepared statement.
func (s *Stmt) Close() error { return s.raw.Close() }
