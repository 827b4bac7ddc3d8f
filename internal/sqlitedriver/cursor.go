package sqlitedriver

import (
	"database/sql/driver"
	"io"
)

// Cursor wraps a database/sql/driver.Rows into this module's uniform
// lazy row-stream contract. Unlike pgproto/myproto, there is no wire
// framing to drain on Close: driver.Rows.Close is the only cleanup
// SQLite needs.
type Cursor struct {
	rows driver.Rows
	cols []string

	finished bool
	pendingErr error
}

// Columns returns the result set's column names.
func (cur *Cursor) Columns() []string { return cur.cols }

// NextRow advances to the next row, returning its values in column
// order. A nil value at index i means SQL NULL.
func (cur *Cursor) NextRow() ([]any, bool, error) {
	if cur.finished {
		return nil, false, cur.pendingErr
	}
	dest := make([]driver.Value, len(cur.cols))
	err := cur.rows.Next(dest)
	if err == io.EOF {
		cur.finished = true
		return nil, false, nil
	}
	if err != nil {
		cur.finished = true
		cur.pendingErr = translateError(err)
		return nil, false, cur.pendingErr
	}
	vals := make([]any, len(dest))
	copy(vals, dest)
	return vals, true, nil
}

// NextResult is a no-op for SQLite: modernc.org/sqlite's driver.Rows
// represents a single statement's result set, so there is nothing
// further to advance to. Present for interface parity with the
// Postgres/MySQL cursors, which can chain multiple result sets from
// one round trip.
func (cur *Cursor) NextResult() error {
	cur.finished = true
	return cur.pendingErr
}

// Close releases the underlying rows handle.
func (cur *Cursor) Close() error {
	cur.finished = true
	return cur.rows.Close()
}
