package myproto

import (
	"github.com/dbbouncer/sqlcore"
	"github.com/dbbouncer/sqlcore/internal/wire"
)

// ColumnDefinition is one column of a text or binary result set,
// decoded from a ColumnDefinition41 packet.
type ColumnDefinition struct {
	Name         string
	Table        string
	OrgName      string
	CharacterSet uint16
	ColumnLength uint32
	ColumnType   byte
	Flags        uint16
	Decimals     byte
}

// QueryResult summarises one statement's outcome within a
// CLIENT_MULTI_STATEMENTS batch.
type QueryResult struct {
	RowsAffected uint64
	LastInsertID uint64
	Warnings     uint16
	Info         string
	Columns      []ColumnDefinition
}

// Query runs sql via COM_QUERY and returns a Cursor driving the
// (possibly multi-statement) text result stream.
func (c *Conn) Query(sql string) (*Cursor, error) {
	if c.state != StateReady {
		return nil, wire.NewProtocolError("myproto: Query called outside Ready state")
	}
	c.state = StateInCommand
	c.seq = 0
	if err := writePacket(c.w, append([]byte{comQuery}, sql...), &c.seq); err != nil {
		return nil, c.poison(sqlcore.Wrap(sqlcore.KindIO, err, "myproto: sending COM_QUERY"))
	}
	if err := c.w.Flush(); err != nil {
		return nil, c.poison(sqlcore.Wrap(sqlcore.KindIO, err, "myproto: flushing COM_QUERY"))
	}

	cur := &Cursor{conn: c, binary: false}
	if err := cur.readResultSetHeader(); err != nil {
		return nil, err
	}
	return cur, nil
}

func parseColumnDefinition41(pkt []byte) (ColumnDefinition, bool) {
	var col ColumnDefinition
	pos := 0
	ok := true
	next := func() string {
		if !ok {
			return ""
		}
		s, p, good := wire.LenencString(pkt, pos)
		if !good {
			ok = false
			return ""
		}
		pos = p
		return s
	}
	_ = next() // catalog
	_ = next() // schema
	col.Table = next()
	_ = next() // org_table
	col.Name = next()
	col.OrgName = next()
	if !ok {
		return col, false
	}
	// Fixed-length fields: lenenc(1, always 0x0c) + charset(2) + len(4) +
	// type(1) + flags(2) + decimals(1) + filler(2).
	if pos >= len(pkt) {
		return col, false
	}
	pos++ // length-of-fixed-fields, always 0x0c
	if pos+12 > len(pkt) {
		return col, false
	}
	col.CharacterSet = wire.Uint16LE(pkt[pos : pos+2])
	col.ColumnLength = wire.Uint32LE(pkt[pos+2 : pos+6])
	col.ColumnType = pkt[pos+6]
	col.Flags = wire.Uint16LE(pkt[pos+7 : pos+9])
	col.Decimals = pkt[pos+9]
	return col, true
}
