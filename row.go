package sqlcore

import (
	"fmt"

	"github.com/dbbouncer/sqlcore/internal/myproto"
	"github.com/dbbouncer/sqlcore/internal/pgproto"
)

// Row is a snapshot of one result-row's column values: a reference into
// its cursor's last-read message buffer. Values are copied out eagerly
// here, but a Row must still not outlive the next NextRow/NextResult/
// Close call on its Cursor, since the column name slice it shares is
// reused across rows.
type Row struct {
	columns []string
	values  []RawValue
}

// RawValue is a (format, optional bytes) pair: Null true means SQL
// NULL; otherwise Data holds the native-format encoding
// (binary for the Postgres extended-query path and MySQL's binary
// protocol, text for MySQL's text protocol). Native, when non-nil,
// carries an already-decoded Go value — set by the SQLite driver, which
// gets typed values straight from database/sql/driver, and by the
// Postgres and MySQL binary-protocol paths, which decode Data up front.
type RawValue struct {
	Data   []byte
	Native any
	Null   bool
}

func rowFromPG(cols []string, oids []uint32, vals []pgproto.RawValue) Row {
	values := make([]RawValue, len(vals))
	for i, v := range vals {
		if v.Null {
			values[i] = RawValue{Null: true}
			continue
		}
		var oid uint32
		if i < len(oids) {
			oid = oids[i]
		}
		values[i] = RawValue{Data: v.Data, Native: pgproto.DecodeValue(oid, v.Data)}
	}
	return Row{columns: cols, values: values}
}

func rowFromMy(cols []string, colTypes []byte, binary bool, vals []myproto.RawValue) Row {
	values := make([]RawValue, len(vals))
	for i, v := range vals {
		if v.Null {
			values[i] = RawValue{Null: true}
			continue
		}
		if !binary {
			values[i] = RawValue{Data: v.Data}
			continue
		}
		var colType byte
		if i < len(colTypes) {
			colType = colTypes[i]
		}
		values[i] = RawValue{Data: v.Data, Native: myproto.DecodeValue(colType, v.Data)}
	}
	return Row{columns: cols, values: values}
}

func rowFromSQLite(cols []string, vals []any) Row {
	values := make([]RawValue, len(vals))
	for i, v := range vals {
		if v == nil {
			values[i] = RawValue{Null: true}
			continue
		}
		values[i] = RawValue{Native: v}
	}
	return Row{columns: cols, values: values}
}

// Len returns the column count.
func (r Row) Len() int { return len(r.values) }

// At returns the raw value at ordinal index i.
func (r Row) At(i int) (RawValue, error) {
	if i < 0 || i >= len(r.values) {
		return RawValue{}, &Error{Kind: KindColumnIndexOutOfBounds, Message: fmt.Sprintf("column index %d out of bounds (%d columns)", i, len(r.values))}
	}
	return r.values[i], nil
}

// Column looks up a value by column name. Requires the driver to have
// populated column names (SQLite always does; Postgres/MySQL populate
// them on the first result set of a query that has one).
func (r Row) Column(name string) (RawValue, error) {
	for i, c := range r.columns {
		if c == name {
			return r.values[i], nil
		}
	}
	return RawValue{}, &Error{Kind: KindColumnNotFound, Message: fmt.Sprintf("no column named %q", name)}
}
