package pgproto

import (
	"fmt"
	"strings"

	"github.com/dbbouncer/sqlcore"
	"github.com/dbbouncer/sqlcore/internal/wire"
)

// maxParams is the 65535 limit the wire protocol allows for both
// ordinary parameter lists and expanded in-lists.
const maxParams = 65535

type stmtCacheEntry struct {
	name      string
	paramOIDs []uint32
	fields    []FieldDescription
}

// stmtCache is an LRU cache of prepared statement names keyed by SQL
// text. Eviction sends Close(Statement) for the evicted name before the
// new Parse.
type stmtCache struct {
	capacity int
	nextID   uint64
	order    []string // most-recently-used first
	entries  map[string]*stmtCacheEntry
}

func newStmtCache(capacity int) *stmtCache {
	if capacity <= 0 {
		capacity = 100
	}
	return &stmtCache{capacity: capacity, entries: make(map[string]*stmtCacheEntry)}
}

func (c *stmtCache) get(sql string) (*stmtCacheEntry, bool) {
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

// put installs a new entry, returning the name of an evicted entry (if
// the cache was full) so the caller can send Close for it.
func (c *stmtCache) put(sql string, e *stmtCacheEntry) (evictedName string, evicted bool) {
	if len(c.entries) >= c.capacity && c.capacity > 0 {
		lru := c.order[len(c.order)-1]
		c.order = c.order[:len(c.order)-1]
		evictedName = c.entries[lru].name
		evicted = true
		delete(c.entries, lru)
	}
	c.entries[sql] = e
	c.order = append([]string{sql}, c.order...)
	return
}

func (c *stmtCache) nextName() string {
	c.nextID++
	return fmt.Sprintf("sc%d", c.nextID)
}

// expandInList implements a "{…}" placeholder-expansion extension: a
// `{n}` marker at a parameter position is replaced with a
// comma-separated run of fresh $n placeholders, one per element of the
// slice-typed argument at that position, and the statement is always
// issued Unnamed so the cache never fills with one-off arities. This is
// intentionally hand-rolled stdlib string scanning — see DESIGN.md.
func expandInList(sql string, args []any) (expandedSQL string, expandedArgs []any, unnamed bool, err error) {
	if !strings.Contains(sql, "{") {
		return sql, args, false, nil
	}

	var b strings.Builder
	out := make([]any, 0, len(args))
	argIdx := 0
	placeholderN := 0
	i := 0
	for i < len(sql) {
		ch := sql[i]
		if ch == '{' {
			end := strings.IndexByte(sql[i:], '}')
			if end < 0 {
				return "", nil, false, wire.NewProtocolError("pgproto: unterminated in-list marker in query")
			}
			end += i
			if argIdx >= len(args) {
				return "", nil, false, fmt.Errorf("pgproto: in-list marker has no corresponding argument")
			}
			slice, ok := asAnySlice(args[argIdx])
			if !ok {
				return "", nil, false, fmt.Errorf("pgproto: in-list marker argument is not a slice")
			}
			argIdx++
			if len(slice) == 0 {
				b.WriteString("(NULL)")
			} else {
				b.WriteByte('(')
				for j, elem := range slice {
					placeholderN++
					if placeholderN > maxParams {
						return "", nil, false, fmt.Errorf("pgproto: in-list expansion exceeds %d placeholders", maxParams)
					}
					if j > 0 {
						b.WriteByte(',')
					}
					fmt.Fprintf(&b, "$%d", placeholderN)
					out = append(out, elem)
				}
				b.WriteByte(')')
			}
			i = end + 1
			continue
		}
		if ch == '$' {
			placeholderN++
			if placeholderN > maxParams {
				return "", nil, false, fmt.Errorf("pgproto: parameter count exceeds %d", maxParams)
			}
		}
		b.WriteByte(ch)
		i++
	}
	for ; argIdx < len(args); argIdx++ {
		out = append(out, args[argIdx])
	}
	return b.String(), out, true, nil
}

func asAnySlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []int:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	case []int64:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	case []string:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	default:
		return nil, false
	}
}

// ExtendedQuery runs sql via Parse/Bind/Describe/Execute/Sync (spec
// §4.2), preparing and caching it if not already cached. It returns a
// Cursor the caller drives with NextRow/NextResult.
func (c *Conn) ExtendedQuery(sql string, args ...any) (*Cursor, error) {
	if c.state != StateReady {
		return nil, wire.NewProtocolError("pgproto: ExtendedQuery called outside Ready state")
	}
	if len(args) > maxParams {
		return nil, fmt.Errorf("pgproto: %d parameters exceeds the %d limit", len(args), maxParams)
	}

	expandedSQL, expandedArgs, forceUnnamed, err := expandInList(sql, args)
	if err != nil {
		return nil, err
	}
	if len(expandedArgs) > maxParams {
		return nil, fmt.Errorf("pgproto: expanded parameter count %d exceeds %d", len(expandedArgs), maxParams)
	}

	c.state = StateInQuery

	name := ""
	entry, cached := c.stmts.get(expandedSQL)
	if forceUnnamed {
		cached = false
	}

	if !cached {
		if !forceUnnamed {
			name = c.stmts.nextName()
			if evictedName, evicted := c.stmts.put(expandedSQL, &stmtCacheEntry{name: name}); evicted {
				if err := writeMessage(c.w, msgClose, append([]byte{closeStatement}, wire.CString(nil, evictedName)...)); err != nil {
					return nil, c.poison(sqlcore.Wrap(sqlcore.KindIO, err, "pgproto: sending Close for evicted statement"))
				}
			}
		}
		if err := c.sendParse(name, expandedSQL); err != nil {
			return nil, c.poison(err)
		}
		if err := writeMessage(c.w, msgDescribe, append([]byte{descStatement}, wire.CString(nil, name)...)); err != nil {
			return nil, c.poison(sqlcore.Wrap(sqlcore.KindIO, err, "pgproto: sending Describe"))
		}
		if err := writeMessage(c.w, msgSync, nil); err != nil {
			return nil, c.poison(sqlcore.Wrap(sqlcore.KindIO, err, "pgproto: sending Sync"))
		}
		if err := c.w.Flush(); err != nil {
			return nil, c.poison(sqlcore.Wrap(sqlcore.KindIO, err, "pgproto: flushing Parse/Describe/Sync"))
		}
		fields, paramOIDs, err := c.readParseDescribeReply()
		if err != nil {
			return nil, err
		}
		if !forceUnnamed {
			entry, _ = c.stmts.get(expandedSQL)
			entry.fields = fields
			entry.paramOIDs = paramOIDs
		} else {
			entry = &stmtCacheEntry{name: "", fields: fields, paramOIDs: paramOIDs}
		}
	}

	if err := c.sendBindExecuteSync(entry.name, expandedArgs); err != nil {
		return nil, c.poison(err)
	}
	if err := c.w.Flush(); err != nil {
		return nil, c.poison(sqlcore.Wrap(sqlcore.KindIO, err, "pgproto: flushing Bind/Execute/Sync"))
	}

	return &Cursor{conn: c, fields: entry.fields}, nil
}

func (c *Conn) sendParse(name, sql string) error {
	var payload []byte
	payload = wire.CString(payload, name)
	payload = wire.CString(payload, sql)
	var nParams [2]byte
	wire.PutUint16BE(nParams[:], 0)
	payload = append(payload, nParams[:]...)
	return writeMessage(c.w, msgParse, payload)
}

// readParseDescribeReply consumes ParseComplete, ParameterDescription,
// RowDescription|NoData, and ReadyForQuery following Parse+Describe+Sync.
func (c *Conn) readParseDescribeReply() ([]FieldDescription, []uint32, error) {
	var fields []FieldDescription
	var paramOIDs []uint32
	for {
		m, err := readMessage(c.r)
		if err != nil {
			return nil, nil, c.poison(sqlcore.Wrap(sqlcore.KindIO, err, "pgproto: reading Parse/Describe reply"))
		}
		switch m.Type {
		case msgParseComplete:
		case msgParameterDesc:
			paramOIDs = parseParameterDescription(m.Payload)
		case msgRowDescription:
			fields = parseRowDescription(m.Payload)
		case msgNoData:
		case msgErrorResponse:
			pgErr := parseFields(m.Payload).asSqlcoreError()
			// still must await ReadyForQuery before returning to Ready.
			if err := c.awaitReadyForQuery(); err != nil {
				return nil, nil, err
			}
			c.state = StateReady
			return nil, nil, pgErr
		case msgReadyForQuery:
			c.txStatus = TransactionStatus(m.Payload[0])
			return fields, paramOIDs, nil
		case msgNoticeResponse:
			c.dispatchNotice(m.Payload)
		}
	}
}

func (c *Conn) awaitReadyForQuery() error {
	for {
		m, err := readMessage(c.r)
		if err != nil {
			return c.poison(sqlcore.Wrap(sqlcore.KindIO, err, "pgproto: awaiting ReadyForQuery"))
		}
		if m.Type == msgReadyForQuery {
			c.txStatus = TransactionStatus(m.Payload[0])
			return nil
		}
	}
}

func parseParameterDescription(payload []byte) []uint32 {
	if len(payload) < 2 {
		return nil
	}
	n := wire.Uint16BE(payload[:2])
	oids := make([]uint32, 0, n)
	pos := 2
	for i := 0; i < int(n) && pos+4 <= len(payload); i++ {
		oids = append(oids, wire.Uint32BE(payload[pos:pos+4]))
		pos += 4
	}
	return oids
}

func (c *Conn) sendBindExecuteSync(stmtName string, args []any) error {
	var bind []byte
	bind = wire.CString(bind, "") // unnamed portal
	bind = wire.CString(bind, stmtName)

	var nFormats [2]byte
	wire.PutUint16BE(nFormats[:], 1)
	bind = append(bind, nFormats[:]...)
	var oneBinary [2]byte
	wire.PutUint16BE(oneBinary[:], 1) // all parameters in binary format
	bind = append(bind, oneBinary[:]...)

	var nParams [2]byte
	wire.PutUint16BE(nParams[:], uint16(len(args)))
	bind = append(bind, nParams[:]...)
	for _, a := range args {
		_, data, isNull := EncodeParam(a)
		if isNull {
			var neg1 [4]byte
			wire.PutUint32BE(neg1[:], 0xFFFFFFFF)
			bind = append(bind, neg1[:]...)
			continue
		}
		var lenBuf [4]byte
		wire.PutUint32BE(lenBuf[:], uint32(len(data)))
		bind = append(bind, lenBuf[:]...)
		bind = append(bind, data...)
	}

	var nResultFormats [2]byte
	wire.PutUint16BE(nResultFormats[:], 1)
	bind = append(bind, nResultFormats[:]...)
	bind = append(bind, oneBinary[:]...)

	if err := writeMessage(c.w, msgBind, bind); err != nil {
		return sqlcore.Wrap(sqlcore.KindIO, err, "pgproto: sending Bind")
	}

	var execPayload []byte
	execPayload = wire.CString(execPayload, "") // unnamed portal
	var maxRows [4]byte
	wire.PutUint32BE(maxRows[:], 0)
	execPayload = append(execPayload, maxRows[:]...)
	if err := writeMessage(c.w, msgExecute, execPayload); err != nil {
		return sqlcore.Wrap(sqlcore.KindIO, err, "pgproto: sending Execute")
	}

	if err := writeMessage(c.w, msgSync, nil); err != nil {
		return sqlcore.Wrap(sqlcore.KindIO, err, "pgproto: sending Sync")
	}
	return nil
}
