// Package hashing implements the canonical value domain and the
// content-addressed hash function H(value) that the rest of hypermesh
// builds on: every hashed object, literal and collection ultimately
// reduces to a hash over a normalized value produced here.
package hashing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// Hash is an opaque, fixed-length, lowercase-hex digest. It is the
// identity of any hashed value.
type Hash string

// String satisfies fmt.Stringer so hashes print as plain hex.
func (h Hash) String() string { return string(h) }

// Empty reports whether h carries no digest.
func (h Hash) Empty() bool { return h == "" }

// ErrUnsupportedValue is returned by Canonicalize when it encounters a
// value outside the JSON-like domain: functions, channels, nil, or a
// non-finite number. Per spec this is a fatal condition, not a
// recoverable one — callers should not attempt to hash partial data.
type ErrUnsupportedValue struct {
	Value any
}

func (e *ErrUnsupportedValue) Error() string {
	return fmt.Sprintf("hashing: unsupported value of type %T", e.Value)
}

// Canonicalize renders v — built from bool, finite numbers, string,
// []any (order preserved) and map[string]any (keys sorted ascending
// during encoding) — into its canonical textual preimage. nil is
// rejected, matching the literalization rule that null fields are never
// produced (spec §4.2).
func Canonicalize(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := canonWrite(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func canonWrite(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		return &ErrUnsupportedValue{Value: v}
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case string:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	case float64:
		return canonWriteFloat(buf, val)
	case float32:
		return canonWriteFloat(buf, float64(val))
	case int:
		buf.WriteString(fmt.Sprintf("%d", val))
		return nil
	case int64:
		buf.WriteString(fmt.Sprintf("%d", val))
		return nil
	case uint64:
		buf.WriteString(fmt.Sprintf("%d", val))
		return nil
	case Hash:
		return canonWrite(buf, string(val))
	case []any:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := canonWrite(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := canonWrite(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	default:
		return &ErrUnsupportedValue{Value: v}
	}
}

func canonWriteFloat(buf *bytes.Buffer, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return &ErrUnsupportedValue{Value: f}
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		buf.WriteString(fmt.Sprintf("%d", int64(f)))
		return nil
	}
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}
