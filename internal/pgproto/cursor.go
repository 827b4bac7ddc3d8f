package pgproto

import (
	"github.com/dbbouncer/sqlcore"
)

// Cursor drives the message stream following an extended-query Execute,
// presenting it as a lazy next_row/next_result sequence, reading until
// ReadyForQuery and decoding each DataRow as it arrives.
type Cursor struct {
	conn       *Conn
	fields     []FieldDescription
	setDone    bool // current result set has yielded its terminal message
	finished   bool // ReadyForQuery seen; no more result sets
	pendingErr error
	lastResult QueryResult
}

// ColumnNames returns the current result set's column names, empty
// until the first RowDescription has been read.
func (cur *Cursor) ColumnNames() []string {
	names := make([]string, len(cur.fields))
	for i, f := range cur.fields {
		names[i] = f.Name
	}
	return names
}

// ColumnTypeOIDs returns the current result set's column type OIDs, in
// the same order as ColumnNames.
func (cur *Cursor) ColumnTypeOIDs() []uint32 {
	oids := make([]uint32, len(cur.fields))
	for i, f := range cur.fields {
		oids[i] = f.TypeOID
	}
	return oids
}

// NextRow advances to the next row of the current result set. ok is
// false when the set is exhausted (a CommandComplete/EmptyQueryResponse
// was reached); the caller should then call NextResult.
func (cur *Cursor) NextRow() (vals []RawValue, ok bool, err error) {
	if cur.finished || cur.setDone {
		return nil, false, cur.pendingErr
	}
	for {
		m, err := readMessage(cur.conn.r)
		if err != nil {
			cur.finished = true
			cur.pendingErr = cur.conn.poison(sqlcore.Wrap(sqlcore.KindIO, err, "pgproto: reading cursor row"))
			return nil, false, cur.pendingErr
		}
		switch m.Type {
		case msgBindComplete, msgParseComplete:
			continue
		case msgRowDescription:
			cur.fields = parseRowDescription(m.Payload)
			cur.lastResult.Fields = cur.fields
			continue
		case msgDataRow:
			vals, ok := parseDataRow(m.Payload)
			if !ok {
				cur.finished = true
				cur.pendingErr = cur.conn.poison(cur.conn.r.Poisoned())
				return nil, false, cur.pendingErr
			}
			return vals, true, nil
		case msgCommandComplete:
			cur.lastResult.Tag = string(m.Payload[:len(m.Payload)-1])
			cur.lastResult.RowsAffected = parseRowsAffected(cur.lastResult.Tag)
			cur.setDone = true
			return nil, false, nil
		case msgEmptyQueryResponse, msgPortalSuspended, msgNoData:
			cur.setDone = true
			return nil, false, nil
		case msgErrorResponse:
			cur.pendingErr = parseFields(m.Payload).asSqlcoreError()
			continue
		case msgNoticeResponse:
			cur.conn.dispatchNotice(m.Payload)
			continue
		case msgReadyForQuery:
			cur.conn.txStatus = TransactionStatus(m.Payload[0])
			cur.conn.state = StateReady
			cur.finished = true
			cur.setDone = true
			return nil, false, cur.pendingErr
		default:
			continue
		}
	}
}

// NextResult skips any rows remaining in the current set and returns its
// summary. If the cursor already reached ReadyForQuery with no further
// sets pending, it returns (nil, nil).
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
	cur.lastResult = QueryResult{}
	cur.setDone = false
	if cur.finished {
		if res.Tag == "" && res.Fields == nil {
			return nil, cur.pendingErr
		}
	}
	return &res, nil
}

// Close drains any remaining messages through ReadyForQuery. Per spec
// §4.4, failing to do this before abandoning a cursor poisons the
// connection; Close makes that drain explicit and safe to call multiple
// times.
func (cur *Cursor) Close() error {
	for !cur.finished {
		_, ok, err := cur.NextRow()
		if err != nil {
			return err
		}
		if !ok && cur.setDone && !cur.finished {
			cur.setDone = false
			continue
		}
	}
	return cur.pendingErr
}
