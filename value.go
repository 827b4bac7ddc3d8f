package sqlcore

import (
	"fmt"
	"strconv"
	"time"
)

// decodeErr builds a KindColumnDecode error naming the failing
// conversion.
func decodeErr(want string, rv RawValue) error {
	return &Error{Kind: KindColumnDecode, Message: fmt.Sprintf("cannot decode column as %s: %q", want, rv.Data)}
}

// Int64 decodes the value as a 64-bit integer. Native values from the
// SQLite/binary-protocol paths are used directly when already numeric;
// otherwise the text form is parsed.
func (rv RawValue) Int64() (int64, error) {
	if rv.Null {
		return 0, nil
	}
	switch n := rv.Native.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int:
		return int64(n), nil
	}
	n, err := strconv.ParseInt(string(rv.Data), 10, 64)
	if err != nil {
		return 0, decodeErr("int64", rv)
	}
	return n, nil
}

// Float64 decodes the value as a 64-bit float.
func (rv RawValue) Float64() (float64, error) {
	if rv.Null {
		return 0, nil
	}
	switch n := rv.Native.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	}
	f, err := strconv.ParseFloat(string(rv.Data), 64)
	if err != nil {
		return 0, decodeErr("float64", rv)
	}
	return f, nil
}

// Bool decodes the value as a boolean.
func (rv RawValue) Bool() (bool, error) {
	if rv.Null {
		return false, nil
	}
	if b, ok := rv.Native.(bool); ok {
		return b, nil
	}
	s := string(rv.Data)
	switch s {
	case "1", "t", "true", "TRUE":
		return true, nil
	case "0", "f", "false", "FALSE":
		return false, nil
	}
	if len(rv.Data) == 1 {
		return rv.Data[0] != 0, nil
	}
	return false, decodeErr("bool", rv)
}

// String decodes the value as a string.
func (rv RawValue) String() (string, error) {
	if rv.Null {
		return "", nil
	}
	if s, ok := rv.Native.(string); ok {
		return s, nil
	}
	if rv.Native != nil {
		return fmt.Sprint(rv.Native), nil
	}
	return string(rv.Data), nil
}

// Bytes decodes the value as a raw byte slice, copying so the result
// outlives the cursor advance that produced it.
func (rv RawValue) Bytes() ([]byte, error) {
	if rv.Null {
		return nil, nil
	}
	if b, ok := rv.Native.([]byte); ok {
		out := make([]byte, len(b))
		copy(out, b)
		return out, nil
	}
	out := make([]byte, len(rv.Data))
	copy(out, rv.Data)
	return out, nil
}

// Time decodes the value as a timestamp. Postgres and MySQL binary
// values arrive already parsed via Native; text-format timestamps fall
// back to RFC3339 and the common "YYYY-MM-DD HH:MM:SS" layouts.
func (rv RawValue) Time() (time.Time, error) {
	if rv.Null {
		return time.Time{}, nil
	}
	if t, ok := rv.Native.(time.Time); ok {
		return t, nil
	}
	s := string(rv.Data)
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05.999999", "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, decodeErr("time.Time", rv)
}

// Int64 looks up column i and decodes it as an int64.
func (r Row) Int64(i int) (int64, error) {
	v, err := r.At(i)
	if err != nil {
		return 0, err
	}
	return v.Int64()
}

// Float64 looks up column i and decodes it as a float64.
func (r Row) Float64(i int) (float64, error) {
	v, err := r.At(i)
	if err != nil {
		return 0, err
	}
	return v.Float64()
}

// String looks up column i and decodes it as a string.
func (r Row) String(i int) (string, error) {
	v, err := r.At(i)
	if err != nil {
		return "", err
	}
	return v.String()
}

// Bool looks up column i and decodes it as a bool.
func (r Row) Bool(i int) (bool, error) {
	v, err := r.At(i)
	if err != nil {
		return false, err
	}
	return v.Bool()
}
