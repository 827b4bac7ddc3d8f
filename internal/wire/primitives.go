package wire

import "encoding/binary"

// Postgres frames use big-endian fixed-width integers; MySQL frames use
// little-endian. Both are collected here so the per-engine packages
// never hand-roll byte shifting themselves.

// PutUint16BE writes a big-endian uint16.
func PutUint16BE(b []byte, v uint16) { binary.BigEndian.PutUint16(b, v) }

// Uint16BE reads a big-endian uint16.
func Uint16BE(b []byte) uint16 { return binary.BigEndian.Uint16(b) }

// PutUint32BE writes a big-endian uint32.
func PutUint32BE(b []byte, v uint32) { binary.BigEndian.PutUint32(b, v) }

// Uint32BE reads a big-endian uint32.
func Uint32BE(b []byte) uint32 { return binary.BigEndian.Uint32(b) }

// Uint16LE reads a little-endian uint16.
func Uint16LE(b []byte) uint16 { return binary.LittleEndian.Uint16(b) }

// PutUint16LE writes a little-endian uint16.
func PutUint16LE(b []byte, v uint16) { binary.LittleEndian.PutUint16(b, v) }

// Uint24LE reads a little-endian 3-byte integer (MySQL packet length).
func Uint24LE(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}

// PutUint24LE writes a little-endian 3-byte integer.
func PutUint24LE(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
}

// Uint32LE reads a little-endian uint32.
func Uint32LE(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }

// PutUint32LE writes a little-endian uint32.
func PutUint32LE(b []byte, v uint32) { binary.LittleEndian.PutUint32(b, v) }

// Uint64LE reads a little-endian uint64.
func Uint64LE(b []byte) uint64 { return binary.LittleEndian.Uint64(b) }

// PutUint64LE writes a little-endian uint64.
func PutUint64LE(b []byte, v uint64) { binary.LittleEndian.PutUint64(b, v) }

// CString appends a NUL-terminated string.
func CString(buf []byte, s string) []byte {
	buf = append(buf, s...)
	return append(buf, 0)
}

// ReadCString reads a NUL-terminated string from data starting at pos,
// returning the string and the position just past the terminator.
func ReadCString(data []byte, pos int) (string, int, bool) {
	end := pos
	for end < len(data) && data[end] != 0 {
		end++
	}
	if end >= len(data) {
		return "", pos, false
	}
	return string(data[pos:end]), end + 1, true
}

// LenencInt decodes a MySQL length-encoded integer starting at pos.
// Boundary encodings: values 0-250 are a single byte; 251 is
// reserved as the NULL sentinel in row data (callers check for it before
// calling this); 0xfc/0xfd/0xfe prefix 2/3/8-byte little-endian payloads.
func LenencInt(data []byte, pos int) (val uint64, next int, ok bool) {
	if pos >= len(data) {
		return 0, pos, false
	}
	first := data[pos]
	switch {
	case first < 0xfb:
		return uint64(first), pos + 1, true
	case first == 0xfb:
		// NULL sentinel in row-data context; callers must special-case 0xfb
		// before reaching here. Treated as a zero-length integer otherwise.
		return 0, pos + 1, true
	case first == 0xfc:
		if pos+3 > len(data) {
			return 0, pos, false
		}
		return uint64(Uint16LE(data[pos+1 : pos+3])), pos + 3, true
	case first == 0xfd:
		if pos+4 > len(data) {
			return 0, pos, false
		}
		return uint64(Uint24LE(data[pos+1 : pos+4])), pos + 4, true
	case first == 0xfe:
		if pos+9 > len(data) {
			return 0, pos, false
		}
		return Uint64LE(data[pos+1 : pos+9]), pos + 9, true
	}
	return 0, pos, false
}

// PutLenencInt appends the length-encoded integer encoding of v.
// Boundary cases verified by internal/wire/lenenc_test.go:
// 250 -> 0xFA; 251 -> 0xFC 0xFB 0x00; 65535 -> 0xFC 0xFF 0xFF;
// 65536 -> 0xFD 0x00 0x00 0x01; 1<<24 -> 0xFE + 8 LE bytes.
func PutLenencInt(buf []byte, v uint64) []byte {
	switch {
	case v < 0xfb:
		return append(buf, byte(v))
	case v <= 0xffff:
		b := make([]byte, 2)
		PutUint16LE(b, uint16(v))
		return append(append(buf, 0xfc), b...)
	case v <= 0xffffff:
		b := make([]byte, 3)
		PutUint24LE(b, uint32(v))
		return append(append(buf, 0xfd), b...)
	default:
		b := make([]byte, 8)
		PutUint64LE(b, v)
		return append(append(buf, 0xfe), b...)
	}
}

// LenencString decodes a MySQL length-encoded string starting at pos.
func LenencString(data []byte, pos int) (s string, next int, ok bool) {
	n, p, ok := LenencInt(data, pos)
	if !ok || p+int(n) > len(data) {
		return "", pos, false
	}
	return string(data[p : p+int(n)]), p + int(n), true
}

// PutLenencString appends the length-encoded string encoding of s.
func PutLenencString(buf []byte, s string) []byte {
	buf = PutLenencInt(buf, uint64(len(s)))
	return append(buf, s...)
}

// EOFString returns the remainder of data starting at pos, for MySQL's
// EOF-terminated string fields (e.g. the tail of an ERR packet message).
func EOFString(data []byte, pos int) string {
	if pos >= len(data) {
		return ""
	}
	return string(data[pos:])
}
