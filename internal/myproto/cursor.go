package myproto

import (
	"github.com/dbbouncer/sqlcore"
	"github.com/dbbouncer/sqlcore/internal/wire"
)

// RawValue is one column value off the wire. Null is set for the SQL
// NULL case (the 0xfb lenenc sentinel in text rows, or a set bit in a
// binary row's NULL bitmap).
type RawValue struct {
	Data []byte
	Null bool
}

// Cursor drains one COM_QUERY/COM_STMT_EXECUTE result stream, exposed
// as a lazy next_row/next_result sequence: read until an
// EOF/OK-with-no-more-results packet, decoding each row as it arrives.
type Cursor struct {
	conn    *Conn
	binary  bool
	columns []ColumnDefinition
	setDone bool
	finished bool
	pendingErr error
	lastResult QueryResult
}

// ColumnNames returns the current result set's column names, empty
// until the result set header has been read.
func (cur *Cursor) ColumnNames() []string {
	names := make([]string, len(cur.columns))
	for i, c := range cur.columns {
		names[i] = c.Name
	}
	return names
}

// ColumnTypes returns the current result set's binary-protocol column
// type codes, in the same order as ColumnNames.
func (cur *Cursor) ColumnTypes() []byte {
	types := make([]byte, len(cur.columns))
	for i, c := range cur.columns {
		types[i] = c.ColumnType
	}
	return types
}

// Binary reports whether rows are being decoded in MySQL's binary
// protocol (prepared-statement execution) as opposed to the text
// protocol (COM_QUERY).
func (cur *Cursor) Binary() bool { return cur.binary }

// readResultSetHeader consumes the first packet of a COM_QUERY/
// COM_STMT_EXECUTE reply: OK (no result set), ERR, or the leading
// column-count lenenc integer that begins a result set.
func (cur *Cursor) readResultSetHeader() error {
	pkt, err := readPacket(cur.conn.r)
	if err != nil {
		return cur.conn.poison(sqlcore.Wrap(sqlcore.KindIO, err, "myproto: reading result set header"))
	}
	cur.conn.seq = pkt.Seq + 1
	if len(pkt.Payload) == 0 {
		return wire.NewProtocolError("myproto: empty result set header")
	}
	switch pkt.Payload[0] {
	case respOK:
		cur.readOKPacket(pkt.Payload)
		cur.setDone = true
		if !cur.moreResultsExist() {
			cur.finished = true
			cur.conn.state = StateReady
		}
		return nil
	case respErr:
		cur.pendingErr = parseErrPacket(pkt.Payload, true).asSqlcoreError()
		cur.setDone = true
		cur.finished = true
		cur.conn.state = StateReady
		return nil
	}

	n, _, ok := wire.LenencInt(pkt.Payload, 0)
	if !ok {
		return wire.NewProtocolError("myproto: malformed result set column count")
	}
	cur.columns = make([]ColumnDefinition, 0, n)
	for i := uint64(0); i < n; i++ {
		colPkt, err := readPacket(cur.conn.r)
		if err != nil {
			return cur.conn.poison(sqlcore.Wrap(sqlcore.KindIO, err, "myproto: reading column definition"))
		}
		cur.conn.seq = colPkt.Seq + 1
		col, ok := parseColumnDefinition41(colPkt.Payload)
		if !ok {
			return wire.NewProtocolError("myproto: malformed column definition")
		}
		cur.columns = append(cur.columns, col)
	}
	cur.lastResult.Columns = cur.columns

	// Intermediate EOF/metadata-end marker, absent under CLIENT_DEPRECATE_EOF.
	if cur.conn.capabilities&capDeprecateEOF == 0 {
		eofPkt, err := readPacket(cur.conn.r)
		if err != nil {
			return cur.conn.poison(sqlcore.Wrap(sqlcore.KindIO, err, "myproto: reading column-definitions EOF"))
		}
		cur.conn.seq = eofPkt.Seq + 1
	}
	return nil
}

func (cur *Cursor) moreResultsExist() bool {
	return cur.conn.serverStatus&serverMoreResultsExists != 0
}

func (cur *Cursor) readOKPacket(pkt []byte) {
	pos := 1
	n, next, ok := wire.LenencInt(pkt, pos)
	if !ok {
		return
	}
	cur.lastResult.RowsAffected = n
	pos = next
	id, next, ok := wire.LenencInt(pkt, pos)
	if ok {
		cur.lastResult.LastInsertID = id
		pos = next
	}
	if pos+2 <= len(pkt) {
		cur.conn.serverStatus = wire.Uint16LE(pkt[pos : pos+2])
		pos += 2
	}
	if pos+2 <= len(pkt) {
		cur.lastResult.Warnings = wire.Uint16LE(pkt[pos : pos+2])
		pos += 2
	}
	cur.lastResult.Info = wire.EOFString(pkt, pos)
}

// NextRow advances to the next row of the current result set.
func (cur *Cursor) NextRow() ([]RawValue, bool, error) {
	if cur.finished || cur.setDone {
		return nil, false, cur.pendingErr
	}
	pkt, err := readPacket(cur.conn.r)
	if err != nil {
		cur.finished = true
		cur.pendingErr = cur.conn.poison(sqlcore.Wrap(sqlcore.KindIO, err, "myproto: reading row"))
		return nil, false, cur.pendingErr
	}
	cur.conn.seq = pkt.Seq + 1

	if len(pkt.Payload) == 0 {
		cur.setDone = true
		return nil, false, nil
	}

	isEOFOrOK := pkt.Payload[0] == respEOF && len(pkt.Payload) < 9
	isOKNewStyle := pkt.Payload[0] == respOK && cur.conn.capabilities&capDeprecateEOF != 0
	if isEOFOrOK || isOKNewStyle {
		cur.readOKPacket(eofAsOK(pkt.Payload))
		cur.setDone = true
		if !cur.moreResultsExist() {
			cur.finished = true
			cur.conn.state = StateReady
		}
		return nil, false, nil
	}
	if pkt.Payload[0] == respErr {
		cur.pendingErr = parseErrPacket(pkt.Payload, true).asSqlcoreError()
		cur.setDone = true
		cur.finished = true
		cur.conn.state = StateReady
		return nil, false, cur.pendingErr
	}

	var vals []RawValue
	if cur.binary {
		vals, err = decodeBinaryRow(pkt.Payload, cur.columns)
	} else {
		vals, err = decodeTextRow(pkt.Payload, len(cur.columns))
	}
	if err != nil {
		cur.finished = true
		cur.pendingErr = err
		return nil, false, err
	}
	return vals, true, nil
}

// eofAsOK normalizes a legacy EOF packet's status/warning fields into
// the OK-packet field order readOKPacket expects (EOF has no
// affected-rows/insert-id lenenc pair).
func eofAsOK(pkt []byte) []byte {
	if pkt[0] != respEOF || len(pkt) >= 9 {
		return pkt
	}
	out := make([]byte, 0, len(pkt)+2)
	out = append(out, respOK, 0, 0)
	if len(pkt) >= 5 {
		// EOF carries warnings then status; OK carries status then warnings.
		out = append(out, pkt[3], pkt[4], pkt[1], pkt[2])
		return append(out, pkt[5:]...)
	}
	out = append(out, pkt[1:]...)
	return out
}

func decodeTextRow(payload []byte, ncols int) ([]RawValue, error) {
	vals := make([]RawValue, 0, ncols)
	pos := 0
	for i := 0; i < ncols; i++ {
		if pos >= len(payload) {
			return nil, wire.NewProtocolError("myproto: truncated text row")
		}
		if payload[pos] == 0xfb {
			vals = append(vals, RawValue{Null: true})
			pos++
			continue
		}
		s, next, ok := wire.LenencString(payload, pos)
		if !ok {
			return nil, wire.NewProtocolError("myproto: malformed lenenc string in text row")
		}
		vals = append(vals, RawValue{Data: []byte(s)})
		pos = next
	}
	return vals, nil
}

func decodeBinaryRow(payload []byte, cols []ColumnDefinition) ([]RawValue, error) {
	if len(payload) < 1 || payload[0] != 0x00 {
		return nil, wire.NewProtocolError("myproto: binary row missing 0x00 packet header")
	}
	nullBitmapLen := (len(cols) + 7 + 2) / 8
	if 1+nullBitmapLen > len(payload) {
		return nil, wire.NewProtocolError("myproto: truncated binary row NULL bitmap")
	}
	nullBitmap := payload[1 : 1+nullBitmapLen]
	pos := 1 + nullBitmapLen

	vals := make([]RawValue, len(cols))
	for i, col := range cols {
		bitPos := i + 2
		isNull := nullBitmap[bitPos/8]&(1<<(uint(bitPos)%8)) != 0
		if isNull {
			vals[i] = RawValue{Null: true}
			continue
		}
		data, next, err := decodeBinaryValue(payload, pos, col.ColumnType)
		if err != nil {
			return nil, err
		}
		vals[i] = RawValue{Data: data}
		pos = next
	}
	return vals, nil
}

// MySQL binary-protocol column type codes this driver decodes directly.
const (
	typeTiny     = 0x01
	typeShort    = 0x02
	typeLong     = 0x03
	typeFloat    = 0x04
	typeDouble   = 0x05
	typeLongLong = 0x08
	typeString   = 0xfe
	typeVarString = 0xfd
	typeVarChar  = 0x0f
	typeBlob     = 0xfc
	typeDecimal  = 0xf6
	typeDate     = 0x0a
	typeDatetime = 0x0c
	typeTimestamp = 0x07
	typeTime     = 0x0b
)

// decodeBinaryValue returns the column's raw fixed-width bytes (for
// numeric types) or decoded byte string (for lenenc-length types),
// leaving semantic conversion to the caller.
func decodeBinaryValue(payload []byte, pos int, colType byte) (data []byte, next int, err error) {
	switch colType {
	case typeTiny:
		if pos+1 > len(payload) {
			return nil, pos, wire.NewProtocolError("myproto: truncated TINY value")
		}
		return payload[pos : pos+1], pos + 1, nil
	case typeShort:
		if pos+2 > len(payload) {
			return nil, pos, wire.NewProtocolError("myproto: truncated SHORT value")
		}
		return payload[pos : pos+2], pos + 2, nil
	case typeLong, typeFloat:
		if pos+4 > len(payload) {
			return nil, pos, wire.NewProtocolError("myproto: truncated 4-byte value")
		}
		return payload[pos : pos+4], pos + 4, nil
	case typeLongLong, typeDouble:
		if pos+8 > len(payload) {
			return nil, pos, wire.NewProtocolError("myproto: truncated 8-byte value")
		}
		return payload[pos : pos+8], pos + 8, nil
	case typeDate, typeDatetime, typeTimestamp, typeTime:
		if pos >= len(payload) {
			return nil, pos, wire.NewProtocolError("myproto: truncated temporal length byte")
		}
		n := int(payload[pos])
		if pos+1+n > len(payload) {
			return nil, pos, wire.NewProtocolError("myproto: truncated temporal value")
		}
		return payload[pos+1 : pos+1+n], pos + 1 + n, nil
	default:
		s, nxt, ok := wire.LenencString(payload, pos)
		if !ok {
			return nil, pos, wire.NewProtocolError("myproto: malformed lenenc binary value")
		}
		return []byte(s), nxt, nil
	}
}

// NextResult drains any remaining rows of the current set and returns
// its summary, following a multi-statement batch when the previous set
// signalled SERVER_MORE_RESULTS_EXISTS.
func (cur *Cursor) NextResult() (*QueryResult, error) {
	for !cur.setDone && !cur.finished {
		_, ok, err := cur.NextRow()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
	}
	if !cur.setDone {
		return nil, cur.pendingErr
	}
	res := cur.lastResult
	more := cur.moreResultsExist() && !cur.finished
	cur.lastResult = QueryResult{}
	cur.setDone = false
	if more {
		if err := cur.readResultSetHeader(); err != nil {
			return &res, err
		}
	}
	return &res, nil
}

// Close drains any remaining messages through the end of the command.
func (cur *Cursor) Close() error {
	for !cur.finished {
		_, ok, err := cur.NextRow()
		if err != nil {
			return err
		}
		if !ok {
			if cur.finished {
				break
			}
			if _, err := cur.NextResult(); err != nil {
				return err
			}
		}
	}
	return cur.pendingErr
}
