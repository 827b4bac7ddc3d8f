package sqlitedriver

import (
	"errors"

	sqlite "modernc.org/sqlite"

	"github.com/dbbouncer/sqlcore"
)

// SQLite's primary SQLITE_CONSTRAINT code and its extended codes
// relevant to the constraint taxonomy (spec §6/§7); modernc.org/sqlite
// surfaces these through its own *sqlite.Error.
const (
	sqliteConstraint       = 19
	sqliteConstraintUnique = (8 << 8) | sqliteConstraint
	sqliteConstraintPK     = (6 << 8) | sqliteConstraint
	sqliteConstraintFK     = (3 << 8) | sqliteConstraint
	sqliteConstraintNotNull = (5 << 8) | sqliteConstraint
	sqliteConstraintCheck  = (1 << 8) | sqliteConstraint
)

// translateError maps a modernc.org/sqlite error into this module's
// error taxonomy, the way pgproto/errors.go and myproto/errors.go do for
// their engines' native error codes.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return sqlcore.Wrap(sqlcore.KindDatabase, err, "sqlitedriver: query failed")
	}
	code := se.Code()
	e := &sqlcore.Error{
		Kind:    sqlcore.KindDatabase,
		Code:    itoa(code),
		Message: se.Error(),
		Cause:   err,
	}
	switch code {
	case sqliteConstraintUnique, sqliteConstraintPK:
		e.DBKind = sqlcore.DBUnique
	case sqliteConstraintFK:
		e.DBKind = sqlcore.DBForeignKey
	case sqliteConstraintNotNull:
		e.DBKind = sqlcore.DBNotNull
	case sqliteConstraintCheck:
		e.DBKind = sqlcore.DBCheck
	default:
		e.DBKind = sqlcore.DBOther
	}
	return e
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
