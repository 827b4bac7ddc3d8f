package pgproto

import (
	"bytes"
	"testing"
	"time"
)

func TestEncodeDecodeParamRoundTrip(t *testing.T) {
	cases := []any{
		true,
		int16(42),
		int32(-7),
		int64(1 << 40),
		float32(1.5),
		float64(3.14159),
		[]byte{1, 2, 3},
	}
	for _, v := range cases {
		oid, data, isNull := EncodeParam(v)
		if isNull {
			t.Fatalf("EncodeParam(%v): unexpected null", v)
		}
		got := DecodeValue(oid, data)
		switch want := v.(type) {
		case []byte:
			gb, ok := got.([]byte)
			if !ok || !bytes.Equal(gb, want) {
				t.Errorf("round-trip %v: got %v", v, got)
			}
		default:
			if got != v {
				t.Errorf("round-trip %v: got %v (%T)", v, got, got)
			}
		}
	}
}

func TestEncodeDecodeTimestampRoundTrip(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	oid, data, isNull := EncodeParam(now)
	if isNull {
		t.Fatal("unexpected null")
	}
	got := DecodeValue(oid, data)
	gt, ok := got.(time.Time)
	if !ok {
		t.Fatalf("decoded type = %T, want time.Time", got)
	}
	if !gt.Equal(now) {
		t.Errorf("decoded time = %v, want %v", gt, now)
	}
}

func TestEncodeNilIsNull(t *testing.T) {
	_, _, isNull := EncodeParam(nil)
	if !isNull {
		t.Error("expected EncodeParam(nil) to report null")
	}
}

func TestDecodeUnknownOIDFallsBackToString(t *testing.T) {
	got := DecodeValue(999999, []byte("raw text"))
	if got != "raw text" {
		t.Errorf("DecodeValue(unknown oid) = %v, want %q", got, "raw text")
	}
}
