package pgproto

import (
	"github.com/dbbouncer/sqlcore"
	"github.com/dbbouncer/sqlcore/internal/wire"
)

// FieldDescription is one column of a RowDescription.
type FieldDescription struct {
	Name       string
	TableOID   uint32
	ColumnAttr int16
	TypeOID    uint32
	TypeSize   int16
	TypeMod    int32
	Format     int16 // 0 = text, 1 = binary
}

// RawValue is one column value off the wire: nil Data (with Null true)
// represents SQL NULL, per the frame's -1 length sentinel.
type RawValue struct {
	Data   []byte
	Null   bool
	Binary bool
}

// QueryResult summarises one completed statement within a (possibly
// multi-statement) query, mirroring CommandComplete's tag.
type QueryResult struct {
	Tag          string
	RowsAffected int64
	Fields       []FieldDescription
}

// SimpleQuery runs sql via the Simple Query protocol: Query,
// then zero or more RowDescription+DataRow*+CommandComplete groups (one
// per semicolon-separated statement), then ReadyForQuery. Results are
// collected eagerly since the simple protocol interleaves all statements
// on one wire exchange; streaming consumption goes through Cursor instead
// (see cursor.go), which this is a fallback for when no cursor is needed.
func (c *Conn) SimpleQuery(sql string) ([]QueryResult, error) {
	if c.state != StateReady {
		return nil, wire.NewProtocolError("pgproto: SimpleQuery called outside Ready state")
	}
	c.state = StateInQuery

	if err := writeMessage(c.w, msgQuery, wire.CString(nil, sql)); err != nil {
		return nil, c.poison(sqlcore.Wrap(sqlcore.KindIO, err, "pgproto: sending Query"))
	}
	if err := c.w.Flush(); err != nil {
		return nil, c.poison(sqlcore.Wrap(sqlcore.KindIO, err, "pgproto: flushing Query"))
	}

	var results []QueryResult
	var cur QueryResult
	var firstErr error

	for {
		m, err := readMessage(c.r)
		if err != nil {
			return nil, c.poison(sqlcore.Wrap(sqlcore.KindIO, err, "pgproto: reading simple query response"))
		}
		switch m.Type {
		case msgRowDescription:
			cur = QueryResult{Fields: parseRowDescription(m.Payload)}
		case msgDataRow:
			// Simple protocol decodes values immediately into RawValue but
			// discards them here: callers that need rows use Cursor, which
			// shares this parsing via parseDataRow.
			_, _ = parseDataRow(m.Payload)
		case msgCommandComplete:
			cur.Tag = string(m.Payload[:len(m.Payload)-1])
			cur.RowsAffected = parseRowsAffected(cur.Tag)
			results = append(results, cur)
			cur = QueryResult{}
		case msgEmptyQueryResponse:
			results = append(results, QueryResult{})
		case msgErrorResponse:
			if firstErr == nil {
				firstErr = parseFields(m.Payload).asSqlcoreError()
			}
		case msgNoticeResponse:
			c.dispatchNotice(m.Payload)
		case msgReadyForQuery:
			c.txStatus = TransactionStatus(m.Payload[0])
			c.state = StateReady
			return results, firstErr
		default:
			// CopyInResponse/CopyOutResponse and similar are out of scope
			// (copy-in/out is a noted Non-goal-adjacent gap); skip.
		}
	}
}

func parseRowDescription(payload []byte) []FieldDescription {
	if len(payload) < 2 {
		return nil
	}
	n := wire.Uint16BE(payload[:2])
	fields := make([]FieldDescription, 0, n)
	pos := 2
	for i := 0; i < int(n); i++ {
		name, next, ok := wire.ReadCString(payload, pos)
		if !ok || pos+18 > len(payload) {
			break
		}
		pos = next
		f := FieldDescription{
			Name:       name,
			TableOID:   wire.Uint32BE(payload[pos : pos+4]),
			ColumnAttr: int16(wire.Uint16BE(payload[pos+4 : pos+6])),
			TypeOID:    wire.Uint32BE(payload[pos+6 : pos+10]),
			TypeSize:   int16(wire.Uint16BE(payload[pos+10 : pos+12])),
			TypeMod:    int32(wire.Uint32BE(payload[pos+12 : pos+16])),
			Format:     int16(wire.Uint16BE(payload[pos+16 : pos+18])),
		}
		pos += 18
		fields = append(fields, f)
	}
	return fields
}

func parseDataRow(payload []byte) ([]RawValue, bool) {
	if len(payload) < 2 {
		return nil, false
	}
	n := wire.Uint16BE(payload[:2])
	values := make([]RawValue, 0, n)
	pos := 2
	for i := 0; i < int(n); i++ {
		if pos+4 > len(payload) {
			return nil, false
		}
		l := int32(wire.Uint32BE(payload[pos : pos+4]))
		pos += 4
		if l < 0 {
			values = append(values, RawValue{Null: true})
			continue
		}
		if pos+int(l) > len(payload) {
			return nil, false
		}
		values = append(values, RawValue{Data: payload[pos : pos+int(l)]})
		pos += int(l)
	}
	return values, true
}

// parseRowsAffected extracts the trailing row count from a
// CommandComplete tag ("INSERT 0 3", "UPDATE 3", "DELETE 1", "SELECT 5").
func parseRowsAffected(tag string) int64 {
	var n int64
	spaceIdx := -1
	for i := len(tag) - 1; i >= 0; i-- {
		if tag[i] == ' ' {
			spaceIdx = i
			break
		}
	}
	if spaceIdx < 0 {
		return 0
	}
	digits := tag[spaceIdx+1:]
	for _, d := range digits {
		if d < '0' || d > '9' {
			return 0
		}
		n = n*10 + int64(d-'0')
	}
	return n
}
