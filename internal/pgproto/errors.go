package pgproto

import (
	"github.com/dbbouncer/sqlcore"
	"github.com/dbbouncer/sqlcore/internal/wire"
)

// PGError is the parsed form of an ErrorResponse or NoticeResponse field
// set, keyed by the single-byte field tags Postgres defines (severity,
// code, message, ...).
type PGError struct {
	Severity   string
	Code       string
	Message    string
	Detail     string
	Hint       string
	Position   int
	Schema     string
	Table      string
	Column     string
	DataType   string
	Constraint string
	File       string
	Line       string
	Routine    string
}

// parseFields walks the tag-prefixed, NUL-terminated field list an
// ErrorResponse/NoticeResponse payload carries, extracting every field
// instead of stopping at the first 'M'.
func parseFields(payload []byte) PGError {
	var e PGError
	i := 0
	for i < len(payload) {
		tag := payload[i]
		if tag == 0 {
			break
		}
		i++
		s, next, ok := wire.ReadCString(payload, i)
		if !ok {
			break
		}
		i = next
		switch tag {
		case 'S':
			e.Severity = s
		case 'C':
			e.Code = s
		case 'M':
			e.Message = s
		case 'D':
			e.Detail = s
		case 'H':
			e.Hint = s
		case 'P':
			e.Position = atoiSafe(s)
		case 's':
			e.Schema = s
		case 't':
			e.Table = s
		case 'c':
			e.Column = s
		case 'd':
			e.DataType = s
		case 'n':
			e.Constraint = s
		case 'F':
			e.File = s
		case 'L':
			e.Line = s
		case 'R':
			e.Routine = s
		}
	}
	return e
}

func atoiSafe(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// Constraint-violation SQLSTATEs, mapped to the open database-error
// taxonomy so callers can errors.Is(err, sqlcore.ErrUnique) without
// string-matching Postgres codes.
const (
	sqlstateUniqueViolation     = "23505"
	sqlstateForeignKeyViolation = "23503"
	sqlstateNotNullViolation    = "23502"
	sqlstateCheckViolation      = "23514"
	sqlstateExclusionViolation  = "23P01"
)

func (e PGError) dbKind() sqlcore.DatabaseErrorKind {
	switch e.Code {
	case sqlstateUniqueViolation, sqlstateExclusionViolation:
		return sqlcore.DBUnique
	case sqlstateForeignKeyViolation:
		return sqlcore.DBForeignKey
	case sqlstateNotNullViolation:
		return sqlcore.DBNotNull
	case sqlstateCheckViolation:
		return sqlcore.DBCheck
	default:
		return sqlcore.DBOther
	}
}

// asSqlcoreError converts a parsed ErrorResponse into the package's
// single boundary error type.
func (e PGError) asSqlcoreError() *sqlcore.Error {
	return &sqlcore.Error{
		Kind:       sqlcore.KindDatabase,
		DBKind:     e.dbKind(),
		Code:       e.Code,
		Constraint: e.Constraint,
		Position:   e.Position,
		Message:    e.Message,
	}
}
