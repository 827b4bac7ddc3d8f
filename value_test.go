package sqlcore

import (
	"testing"
	"time"
)

func TestRawValueInt64PrefersNative(t *testing.T) {
	rv := RawValue{Native: int32(42), Data: []byte("999")}
	n, err := rv.Int64()
	if err != nil || n != 42 {
		t.Errorf("Int64() = %d, %v, want 42, nil", n, err)
	}
}

func TestRawValueInt64FallsBackToText(t *testing.T) {
	rv := RawValue{Data: []byte("123")}
	n, err := rv.Int64()
	if err != nil || n != 123 {
		t.Errorf("Int64() = %d, %v, want 123, nil", n, err)
	}
}

func TestRawValueNullDecodesAsZero(t *testing.T) {
	rv := RawValue{Null: true}
	if n, err := rv.Int64(); err != nil || n != 0 {
		t.Errorf("Int64() on null = %d, %v", n, err)
	}
	if s, err := rv.String(); err != nil || s != "" {
		t.Errorf("String() on null = %q, %v", s, err)
	}
	if b, err := rv.Bool(); err != nil || b != false {
		t.Errorf("Bool() on null = %v, %v", b, err)
	}
}

func TestRawValueBoolTextForms(t *testing.T) {
	for _, s := range []string{"1", "t", "true", "TRUE"} {
		rv := RawValue{Data: []byte(s)}
		if b, err := rv.Bool(); err != nil || !b {
			t.Errorf("Bool(%q) = %v, %v, want true", s, b, err)
		}
	}
	for _, s := range []string{"0", "f", "false", "FALSE"} {
		rv := RawValue{Data: []byte(s)}
		if b, err := rv.Bool(); err != nil || b {
			t.Errorf("Bool(%q) = %v, %v, want false", s, b, err)
		}
	}
}

func TestRawValueDecodeErrorOnGarbage(t *testing.T) {
	rv := RawValue{Data: []byte("not a number")}
	if _, err := rv.Int64(); err == nil {
		t.Error("expected decode error for non-numeric text")
	}
	if _, err := rv.Float64(); err == nil {
		t.Error("expected decode error for non-numeric text")
	}
}

func TestRawValueTimePrefersNativeThenParsesText(t *testing.T) {
	now := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	rv := RawValue{Native: now}
	got, err := rv.Time()
	if err != nil || !got.Equal(now) {
		t.Errorf("Time() from Native = %v, %v, want %v", got, err, now)
	}

	rv2 := RawValue{Data: []byte("2026-07-30 10:00:00")}
	got2, err := rv2.Time()
	if err != nil || !got2.Equal(now) {
		t.Errorf("Time() from text = %v, %v, want %v", got2, err, now)
	}
}

func TestRawValueBytesCopiesData(t *testing.T) {
	data := []byte("hello")
	rv := RawValue{Data: data}
	b, err := rv.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	b[0] = 'X'
	if data[0] == 'X' {
		t.Error("Bytes() must copy, not alias the original slice")
	}
}

func TestRowInt64FloatStringBoolHelpers(t *testing.T) {
	row := Row{columns: []string{"n", "s", "f", "b"}, values: []RawValue{
		{Native: int64(7)},
		{Data: []byte("hi")},
		{Data: []byte("2.5")},
		{Data: []byte("t")},
	}}
	if n, err := row.Int64(0); err != nil || n != 7 {
		t.Errorf("Row.Int64(0) = %d, %v", n, err)
	}
	if s, err := row.String(1); err != nil || s != "hi" {
		t.Errorf("Row.String(1) = %q, %v", s, err)
	}
	if f, err := row.Float64(2); err != nil || f != 2.5 {
		t.Errorf("Row.Float64(2) = %v, %v", f, err)
	}
	if b, err := row.Bool(3); err != nil || !b {
		t.Errorf("Row.Bool(3) = %v, %v", b, err)
	}
}
