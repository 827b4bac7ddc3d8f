package myproto

import (
	"fmt"

	"github.com/dbbouncer/sqlcore"
	"github.com/dbbouncer/sqlcore/internal/wire"
)

// MySQLError is the parsed form of an ERR_Packet: a numeric error code,
// the 5-character SQLSTATE when CLIENT_PROTOCOL_41 is in effect, and the
// message.
type MySQLError struct {
	Code     uint16
	SQLState string
	Message  string
}

// parseErrPacket parses an ERR_Packet payload; pkt[0] is the leading
// 0xff header byte, which it skips.
func parseErrPacket(pkt []byte, protocol41 bool) MySQLError {
	var e MySQLError
	pos := 1
	if pos+2 > len(pkt) {
		return e
	}
	e.Code = wire.Uint16LE(pkt[pos : pos+2])
	pos += 2
	if protocol41 && pos < len(pkt) && pkt[pos] == '#' {
		if pos+6 <= len(pkt) {
			e.SQLState = string(pkt[pos+1 : pos+6])
			pos += 6
		}
	}
	e.Message = wire.EOFString(pkt, pos)
	return e
}

// MySQL-specific error codes mapped to the open database-error
// taxonomy.
const (
	codeDupEntry         = 1062
	codeNoReferencedRow  = 1452
	codeNoReferencedRow2 = 1216
	codeRowIsReferenced  = 1217
	codeRowIsReferenced2 = 1451
	codeBadNullError     = 1048
	codeCheckConstraint  = 3819
	codeDeadlock         = 1213
)

func (e MySQLError) dbKind() sqlcore.DatabaseErrorKind {
	switch e.Code {
	case codeDupEntry:
		return sqlcore.DBUnique
	case codeNoReferencedRow, codeNoReferencedRow2, codeRowIsReferenced, codeRowIsReferenced2:
		return sqlcore.DBForeignKey
	case codeBadNullError:
		return sqlcore.DBNotNull
	case codeCheckConstraint:
		return sqlcore.DBCheck
	default:
		return sqlcore.DBOther
	}
}

func (e MySQLError) asSqlcoreError() *sqlcore.Error {
	code := fmt.Sprintf("%d", e.Code)
	return &sqlcore.Error{
		Kind:    sqlcore.KindDatabase,
		DBKind:  e.dbKind(),
		Code:    code,
		Message: e.Message,
	}
}
