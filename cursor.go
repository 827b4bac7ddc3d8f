package sqlcore

import (
	"github.com/dbbouncer/sqlcore/internal/myproto"
	"github.com/dbbouncer/sqlcore/internal/pgproto"
	"github.com/dbbouncer/sqlcore/internal/sqlitedriver"
)

// Cursor streams one query's rows lazily: NextRow decodes at most one
// row ahead, and the Row it returns is only valid until the next call
// to NextRow, NextResult, or Close (a borrow-until-advance rule, since
// Row values point into a reused message buffer).
type Cursor struct {
	pg   *pgproto.Cursor
	my   *myproto.Cursor
	lite *sqlitedriver.Cursor

	columns []string
	row     Row
	err     error
}

// NextRow advances to the next row and reports whether one was found.
// A false return with a nil error means the result set is exhausted;
// callers should then call NextResult to move to a subsequent
// statement/result set, or Close if there are none.
func (c *Cursor) NextRow() (bool, error) {
	switch {
	case c.pg != nil:
		vals, ok, err := c.pg.NextRow()
		if err != nil || !ok {
			return false, err
		}
		c.row = rowFromPG(c.pg.ColumnNames(), c.pg.ColumnTypeOIDs(), vals)
		return true, nil
	case c.my != nil:
		vals, ok, err := c.my.NextRow()
		if err != nil || !ok {
			return false, err
		}
		c.row = rowFromMy(c.my.ColumnNames(), c.my.ColumnTypes(), c.my.Binary(), vals)
		return true, nil
	default:
		vals, ok, err := c.lite.NextRow()
		if err != nil || !ok {
			return false, err
		}
		c.row = rowFromSQLite(c.lite.Columns(), vals)
		return true, nil
	}
}

// Row returns the row most recently yielded by NextRow. It is only
// valid until the next NextRow/NextResult/Close call.
func (c *Cursor) Row() Row { return c.row }

// QueryResult summarises rows/statement completion, as returned by
// NextResult.
type QueryResult struct {
	RowsAffected int64
	LastInsertID int64
	Columns      []string
}

// NextResult drains any remaining rows of the current result set and
// returns its summary, then (for engines that support multi-statement
// batches) advances to the next result set if one follows.
func (c *Cursor) NextResult() (*QueryResult, error) {
	switch {
	case c.pg != nil:
		res, err := c.pg.NextResult()
		if err != nil {
			return nil, err
		}
		return &QueryResult{RowsAffected: res.RowsAffected}, nil
	case c.my != nil:
		res, err := c.my.NextResult()
		if err != nil {
			return nil, err
		}
		return &QueryResult{RowsAffected: int64(res.RowsAffected), LastInsertID: int64(res.LastInsertID)}, nil
	default:
		if err := c.lite.NextResult(); err != nil {
			return nil, err
		}
		return &QueryResult{}, nil
	}
}

// Close releases the cursor, draining any unread protocol messages so
// the underlying connection is never left mid-result-set.
func (c *Cursor) Close() error {
	switch {
	case c.pg != nil:
		return c.pg.Close()
	case c.my != nil:
		return c.my.Close()
	default:
		return c.lite.Close()
	}
}
