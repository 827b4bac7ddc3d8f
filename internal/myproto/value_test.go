package myproto

import (
	"encoding/binary"
	"math"
	"testing"
	"time"
)

func TestDecodeValueIntegers(t *testing.T) {
	if got := DecodeValue(typeTiny, []byte{42}); got != int8(42) {
		t.Errorf("typeTiny: got %v (%T)", got, got)
	}

	b2 := make([]byte, 2)
	binary.LittleEndian.PutUint16(b2, 1000)
	if got := DecodeValue(typeShort, b2); got != int16(1000) {
		t.Errorf("typeShort: got %v (%T)", got, got)
	}

	b4 := make([]byte, 4)
	binary.LittleEndian.PutUint32(b4, 70000)
	if got := DecodeValue(typeLong, b4); got != int32(70000) {
		t.Errorf("typeLong: got %v (%T)", got, got)
	}

	b8 := make([]byte, 8)
	binary.LittleEndian.PutUint64(b8, 1<<40)
	if got := DecodeValue(typeLongLong, b8); got != int64(1<<40) {
		t.Errorf("typeLongLong: got %v (%T)", got, got)
	}
}

func TestDecodeValueFloats(t *testing.T) {
	b4 := make([]byte, 4)
	binary.LittleEndian.PutUint32(b4, math.Float32bits(1.5))
	if got := DecodeValue(typeFloat, b4); got != float32(1.5) {
		t.Errorf("typeFloat: got %v (%T)", got, got)
	}

	b8 := make([]byte, 8)
	binary.LittleEndian.PutUint64(b8, math.Float64bits(3.14159))
	if got := DecodeValue(typeDouble, b8); got != 3.14159 {
		t.Errorf("typeDouble: got %v (%T)", got, got)
	}
}

func TestDecodeBinaryTemporalDateOnly(t *testing.T) {
	data := []byte{0, 0, 7, 30} // year LE, month, day (2026-07-30 set below)
	binary.LittleEndian.PutUint16(data[0:2], 2026)
	got := decodeBinaryTemporal(data)
	want := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("decodeBinaryTemporal(date) = %v, want %v", got, want)
	}
}

func TestDecodeBinaryTemporalDatetimeWithMicros(t *testing.T) {
	data := make([]byte, 11)
	binary.LittleEndian.PutUint16(data[0:2], 2026)
	data[2] = 7
	data[3] = 30
	data[4] = 13
	data[5] = 45
	data[6] = 59
	binary.LittleEndian.PutUint32(data[7:11], 250000)

	got := decodeBinaryTemporal(data)
	want := time.Date(2026, 7, 30, 13, 45, 59, 250000*1000, time.UTC)
	if !got.Equal(want) {
		t.Errorf("decodeBinaryTemporal(datetime) = %v, want %v", got, want)
	}
}

func TestDecodeValueUnknownTypeFallsBackToString(t *testing.T) {
	got := DecodeValue(0xff, []byte("raw"))
	if got != "raw" {
		t.Errorf("DecodeValue(unknown type) = %v, want %q", got, "raw")
	}
}
