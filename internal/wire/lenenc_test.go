package wire

import (
	"bytes"
	"testing"
)

func TestPutLenencIntBoundaries(t *testing.T) {
	cases := []struct {
		v    uint64
		want []byte
	}{
		{250, []byte{0xfa}},
		{251, []byte{0xfc, 0xfb, 0x00}},
		{65535, []byte{0xfc, 0xff, 0xff}},
		{65536, []byte{0xfd, 0x00, 0x00, 0x01}},
		{1 << 24, append([]byte{0xfe}, le64(1<<24)...)},
	}
	for _, c := range cases {
		got := PutLenencInt(nil, c.v)
		if !bytes.Equal(got, c.want) {
			t.Errorf("PutLenencInt(%d) = % x, want % x", c.v, got, c.want)
		}
	}
}

func le64(v uint64) []byte {
	b := make([]byte, 8)
	PutUint64LE(b, v)
	return b
}

func TestLenencIntRoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 1, 250, 251, 65535, 65536, 1 << 24, 1 << 40} {
		buf := PutLenencInt(nil, v)
		got, next, ok := LenencInt(buf, 0)
		if !ok {
			t.Fatalf("decode failed for %d", v)
		}
		if got != v {
			t.Errorf("round trip %d -> % x -> %d", v, buf, got)
		}
		if next != len(buf) {
			t.Errorf("next = %d, want %d", next, len(buf))
		}
	}
}

func TestLenencStringRoundTrip(t *testing.T) {
	for _, s := range []string{"", "a", "hello world", string(make([]byte, 300))} {
		buf := PutLenencString(nil, s)
		got, next, ok := LenencString(buf, 0)
		if !ok || got != s {
			t.Fatalf("round trip failed for len %d", len(s))
		}
		if next != len(buf) {
			t.Errorf("next = %d, want %d", next, len(buf))
		}
	}
}

func TestCStringRoundTrip(t *testing.T) {
	buf := CString(nil, "hello")
	buf = CString(buf, "world")
	s1, pos, ok := ReadCString(buf, 0)
	if !ok || s1 != "hello" {
		t.Fatalf("got %q", s1)
	}
	s2, _, ok := ReadCString(buf, pos)
	if !ok || s2 != "world" {
		t.Fatalf("got %q", s2)
	}
}
