package myproto

import (
	"fmt"
	"math"

	"github.com/dbbouncer/sqlcore"
	"github.com/dbbouncer/sqlcore/internal/wire"
)

// maxParams is the COM_STMT_EXECUTE parameter-count ceiling this driver
// enforces client-side before ever writing a byte, matching the
// Postgres driver's equivalent guard even though MySQL's own format
// allows more; capping here keeps NULL-bitmap sizing and client
// behavior predictable.
const maxParams = 65535

// preparedStmt is one cached prepared statement's server-assigned id
// plus the parameter/column metadata COM_STMT_PREPARE returned.
type preparedStmt struct {
	ID          uint32
	ParamCount  int
	ColumnCount int
	ParamTypes  []byte // cached so unchanged-type executes skip re-sending types
}

// stmtCache is an LRU cache of prepared statements keyed by SQL text.
// Eviction sends COM_STMT_CLOSE (no reply) before the slot is reused.
type stmtCache struct {
	capacity int
	order    []string
	entries  map[string]*preparedStmt
}

func newStmtCache(capacity int) *stmtCache {
	if capacity <= 0 {
		capacity = 100
	}
	return &stmtCache{capacity: capacity, entries: make(map[string]*preparedStmt)}
}

func (c *stmtCache) get(sql string) (*preparedStmt, bool) {
	e, ok := c.entries[sql]
	if ok {
		c.touch(sql)
	}
	return e, ok
}

func (c *stmtCache) touch(sql string) {
	for i, s := range c.order {
		if s == sql {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.order = append([]string{sql}, c.order...)
}

func (c *stmtCache) put(sql string, e *preparedStmt) (evicted *preparedStmt, ok bool) {
	if len(c.entries) >= c.capacity && c.capacity > 0 {
		lru := c.order[len(c.order)-1]
		c.order = c.order[:len(c.order)-1]
		evicted = c.entries[lru]
		ok = true
		delete(c.entries, lru)
	}
	c.entries[sql] = e
	c.order = append([]string{sql}, c.order...)
	return
}

// Prepare issues COM_STMT_PREPARE if sql is not already cached,
// installing the returned statement id and evicting the LRU entry (with
// COM_STMT_CLOSE) if the cache is full.
func (c *Conn) Prepare(sql string) (*preparedStmt, error) {
	if stmt, ok := c.stmts.get(sql); ok {
		return stmt, nil
	}
	if c.state != StateReady {
		return nil, wire.NewProtocolError("myproto: Prepare called outside Ready state")
	}
	c.state = StateInCommand
	c.seq = 0
	if err := writePacket(c.w, append([]byte{comStmtPrepare}, sql...), &c.seq); err != nil {
		return nil, c.poison(sqlcore.Wrap(sqlcore.KindIO, err, "myproto: sending COM_STMT_PREPARE"))
	}
	if err := c.w.Flush(); err != nil {
		return nil, c.poison(sqlcore.Wrap(sqlcore.KindIO, err, "myproto: flushing COM_STMT_PREPARE"))
	}

	pkt, err := readPacket(c.r)
	if err != nil {
		return nil, c.poison(sqlcore.Wrap(sqlcore.KindIO, err, "myproto: reading prepare response"))
	}
	c.seq = pkt.Seq + 1
	if len(pkt.Payload) == 0 {
		return nil, wire.NewProtocolError("myproto: empty prepare response")
	}
	if pkt.Payload[0] == respErr {
		c.state = StateReady
		return nil, parseErrPacket(pkt.Payload, true).asSqlcoreError()
	}
	if len(pkt.Payload) < 9 {
		return nil, wire.NewProtocolError("myproto: malformed COM_STMT_PREPARE_OK")
	}
	stmt := &preparedStmt{
		ID:          wire.Uint32LE(pkt.Payload[1:5]),
		ColumnCount: int(wire.Uint16LE(pkt.Payload[5:7])),
		ParamCount:  int(wire.Uint16LE(pkt.Payload[7:9])),
	}

	for i := 0; i < stmt.ParamCount; i++ {
		p, err := readPacket(c.r)
		if err != nil {
			return nil, c.poison(sqlcore.Wrap(sqlcore.KindIO, err, "myproto: reading param definition"))
		}
		c.seq = p.Seq + 1
	}
	if stmt.ParamCount > 0 && c.capabilities&capDeprecateEOF == 0 {
		p, err := readPacket(c.r)
		if err != nil {
			return nil, c.poison(err)
		}
		c.seq = p.Seq + 1
	}
	for i := 0; i < stmt.ColumnCount; i++ {
		p, err := readPacket(c.r)
		if err != nil {
			return nil, c.poison(sqlcore.Wrap(sqlcore.KindIO, err, "myproto: reading column definition"))
		}
		c.seq = p.Seq + 1
	}
	if stmt.ColumnCount > 0 && c.capabilities&capDeprecateEOF == 0 {
		p, err := readPacket(c.r)
		if err != nil {
			return nil, c.poison(err)
		}
		c.seq = p.Seq + 1
	}

	c.state = StateReady
	if evicted, ok := c.stmts.put(sql, stmt); ok {
		if err := c.sendStmtClose(evicted.ID); err != nil {
			return nil, err
		}
	}
	return stmt, nil
}

func (c *Conn) sendStmtClose(id uint32) error {
	var payload [5]byte
	payload[0] = comStmtClose
	wire.PutUint32LE(payload[1:], id)
	c.seq = 0
	return writePacket(c.w, payload[:], &c.seq)
}

// encodeBinaryParam maps a Go parameter value to the MySQL binary-protocol
// type code and its encoded bytes, for COM_STMT_EXECUTE.
func encodeBinaryParam(v any) (typ byte, unsigned bool, data []byte, isNull bool) {
	switch val := v.(type) {
	case nil:
		return typeNull, false, nil, true
	case bool:
		if val {
			return typeTiny, false, []byte{1}, false
		}
		return typeTiny, false, []byte{0}, false
	case int8:
		return typeTiny, false, []byte{byte(val)}, false
	case int16:
		b := make([]byte, 2)
		wire.PutUint16LE(b, uint16(val))
		return typeShort, false, b, false
	case int32:
		b := make([]byte, 4)
		wire.PutUint32LE(b, uint32(val))
		return typeLong, false, b, false
	case int:
		b := make([]byte, 8)
		wire.PutUint64LE(b, uint64(val))
		return typeLongLong, false, b, false
	case int64:
		b := make([]byte, 8)
		wire.PutUint64LE(b, uint64(val))
		return typeLongLong, false, b, false
	case float32:
		b := make([]byte, 4)
		wire.PutUint32LE(b, math.Float32bits(val))
		return typeFloat, false, b, false
	case float64:
		b := make([]byte, 8)
		wire.PutUint64LE(b, math.Float64bits(val))
		return typeDouble, false, b, false
	case string:
		return typeVarString, false, wire.PutLenencString(nil, val), false
	case []byte:
		return typeBlob, false, wire.PutLenencString(nil, string(val)), false
	default:
		return typeVarString, false, wire.PutLenencString(nil, fmt.Sprint(val)), false
	}
}

const typeNull = 0x06

// Execute runs COM_STMT_EXECUTE for stmt with the given parameters,
// sending the NULL bitmap, send_types flag, type codes, and binary
// values in the wire-protocol order. paramTypes is re-sent whenever
// the set of Go types bound changes from the previous execute on this
// statement.
func (c *Conn) Execute(stmt *preparedStmt, args []any) (*Cursor, error) {
	if len(args) != stmt.ParamCount {
		return nil, fmt.Errorf("myproto: statement expects %d parameters, got %d", stmt.ParamCount, len(args))
	}
	if len(args) > maxParams {
		return nil, fmt.Errorf("myproto: %d parameters exceeds the %d limit", len(args), maxParams)
	}
	if c.state != StateReady {
		return nil, wire.NewProtocolError("myproto: Execute called outside Ready state")
	}
	c.state = StateInCommand

	var payload []byte
	var hdr [10]byte
	hdr[0] = comStmtExecute
	wire.PutUint32LE(hdr[1:5], stmt.ID)
	hdr[5] = 0x00 // CURSOR_TYPE_NO_CURSOR
	wire.PutUint32LE(hdr[6:10], 1)
	payload = append(payload, hdr[:]...)

	nullBitmapLen := (len(args) + 7) / 8
	nullBitmap := make([]byte, nullBitmapLen)
	types := make([]byte, 0, len(args)*2)
	var values []byte
	for i, a := range args {
		typ, unsigned, data, isNull := encodeBinaryParam(a)
		if isNull {
			nullBitmap[i/8] |= 1 << uint(i%8)
		}
		flag := byte(0)
		if unsigned {
			flag = 0x80
		}
		types = append(types, typ, flag)
		if !isNull {
			values = append(values, data...)
		}
	}
	payload = append(payload, nullBitmap...)

	sendTypes := stmt.ParamTypes == nil || !bytesEqual(stmt.ParamTypes, types)
	if sendTypes {
		payload = append(payload, 1)
		payload = append(payload, types...)
		stmt.ParamTypes = types
	} else {
		payload = append(payload, 0)
	}
	payload = append(payload, values...)

	c.seq = 0
	if err := writePacket(c.w, payload, &c.seq); err != nil {
		return nil, c.poison(sqlcore.Wrap(sqlcore.KindIO, err, "myproto: sending COM_STMT_EXECUTE"))
	}
	if err := c.w.Flush(); err != nil {
		return nil, c.poison(sqlcore.Wrap(sqlcore.KindIO, err, "myproto: flushing COM_STMT_EXECUTE"))
	}

	cur := &Cursor{conn: c, binary: true}
	if err := cur.readResultSetHeader(); err != nil {
		return nil, err
	}
	return cur, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
