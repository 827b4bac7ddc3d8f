package myproto

import (
	"math"
	"time"

	"github.com/dbbouncer/sqlcore/internal/wire"
)

// DecodeValue converts one binary-protocol column's raw bytes (as
// produced by decodeBinaryValue) into a Go native type, keyed by the
// same type codes encodeBinaryParam writes. Column types outside this
// set decode as a string, mirroring the pragmatic coverage tradeoff
// the Postgres driver's DecodeValue makes.
func DecodeValue(colType byte, data []byte) any {
	switch colType {
	case typeTiny:
		if len(data) < 1 {
			return nil
		}
		return int8(data[0])
	case typeShort:
		if len(data) < 2 {
			return nil
		}
		return int16(wire.Uint16LE(data))
	case typeLong:
		if len(data) < 4 {
			return nil
		}
		return int32(wire.Uint32LE(data))
	case typeLongLong:
		if len(data) < 8 {
			return nil
		}
		return int64(wire.Uint64LE(data))
	case typeFloat:
		if len(data) < 4 {
			return nil
		}
		return math.Float32frombits(wire.Uint32LE(data))
	case typeDouble:
		if len(data) < 8 {
			return nil
		}
		return math.Float64frombits(wire.Uint64LE(data))
	case typeDate, typeDatetime, typeTimestamp:
		return decodeBinaryTemporal(data)
	default:
		return string(data)
	}
}

// decodeBinaryTemporal parses MySQL's variable-length binary DATE/
// DATETIME/TIMESTAMP encoding: a length-prefixed field already stripped
// of its length byte, holding year(2 LE)/month(1)/day(1) and optionally
// hour/min/sec(1 each) and microsecond(4 LE).
func decodeBinaryTemporal(data []byte) time.Time {
	if len(data) < 4 {
		return time.Time{}
	}
	year := int(wire.Uint16LE(data[0:2]))
	month := time.Month(data[2])
	day := int(data[3])
	hour, min, sec, micro := 0, 0, 0, 0
	if len(data) >= 7 {
		hour = int(data[4])
		min = int(data[5])
		sec = int(data[6])
	}
	if len(data) >= 11 {
		micro = int(wire.Uint32LE(data[7:11]))
	}
	return time.Date(year, month, day, hour, min, sec, micro*1000, time.UTC)
}
