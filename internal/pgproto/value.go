package pgproto

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Well-known Postgres type OIDs for the parameter/result binary codecs
// this driver supports directly. Parameters of other Go types are sent
// as their fmt.Sprint text in the same binary-format Bind slot, and
// result values of other types decode to a string of their raw bytes.
const (
	oidBool      = 16
	oidInt8      = 20
	oidInt2      = 21
	oidInt4      = 23
	oidText      = 25
	oidFloat4    = 700
	oidFloat8    = 701
	oidVarchar   = 1043
	oidTimestamp = 1114
	oidBytea     = 17
)

// pgEpoch is 2000-01-01, the origin Postgres binary timestamps count
// microseconds from.
var pgEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// EncodeParam converts a Go value into a wire parameter: the type OID
// for it (0 when it has none), the encoded bytes, and whether the value
// is SQL NULL. Unsupported types are encoded as their fmt.Sprint text
// form.
func EncodeParam(v any) (oid uint32, data []byte, isNull bool) {
	switch val := v.(type) {
	case nil:
		return 0, nil, true
	case bool:
		if val {
			return oidBool, []byte{1}, false
		}
		return oidBool, []byte{0}, false
	case int16:
		b := make([]byte, 2)
		binary.BigEndian.PutUint16(b, uint16(val))
		return oidInt2, b, false
	case int32:
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, uint32(val))
		return oidInt4, b, false
	case int:
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, uint64(val))
		return oidInt8, b, false
	case int64:
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, uint64(val))
		return oidInt8, b, false
	case float32:
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, math.Float32bits(val))
		return oidFloat4, b, false
	case float64:
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, math.Float64bits(val))
		return oidFloat8, b, false
	case string:
		return oidText, []byte(val), false
	case []byte:
		return oidBytea, val, false
	case time.Time:
		micros := val.UTC().Sub(pgEpoch).Microseconds()
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, uint64(micros))
		return oidTimestamp, b, false
	default:
		return 0, []byte(fmt.Sprint(val)), false
	}
}

// DecodeValue converts a binary-format column value back into a Go
// native type, for the OIDs EncodeParam knows how to round-trip.
// Anything else decodes as a string, since Postgres's binary encoding
// for less common types is not worth this driver's limited type
// catalog (the same pragmatic tradeoff EncodeParam makes).
func DecodeValue(oid uint32, data []byte) any {
	switch oid {
	case oidBool:
		return len(data) > 0 && data[0] != 0
	case oidInt2:
		if len(data) < 2 {
			return nil
		}
		return int16(binary.BigEndian.Uint16(data))
	case oidInt4:
		if len(data) < 4 {
			return nil
		}
		return int32(binary.BigEndian.Uint32(data))
	case oidInt8:
		if len(data) < 8 {
			return nil
		}
		return int64(binary.BigEndian.Uint64(data))
	case oidFloat4:
		if len(data) < 4 {
			return nil
		}
		return math.Float32frombits(binary.BigEndian.Uint32(data))
	case oidFloat8:
		if len(data) < 8 {
			return nil
		}
		return math.Float64frombits(binary.BigEndian.Uint64(data))
	case oidTimestamp:
		if len(data) < 8 {
			return nil
		}
		micros := int64(binary.BigEndian.Uint64(data))
		return pgEpoch.Add(time.Duration(micros) * time.Microsecond)
	case oidBytea:
		return data
	default:
		return string(data)
	}
}
