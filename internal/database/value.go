package database

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxSafeInteger is the largest integer a JSON consumer can hold exactly
// in a double. Wider integers are emitted as decimal strings.
const MaxSafeInteger = 1<<53 - 1

// Int returns v as a number when it fits a double exactly and as its
// decimal string otherwise.
func Int(v int64) any {
	if v > MaxSafeInteger || v < -MaxSafeInteger {
		return strconv.FormatInt(v, 10)
	}
	return v
}

// Uint is Int for unsigned values.
func Uint(v uint64) any {
	if v > MaxSafeInteger {
		return strconv.FormatUint(v, 10)
	}
	return int64(v)
}

// Float returns f, or its string form when it is not finite.
func Float(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return f
}

// BigInt renders arbitrary precision integers, keeping small ones numeric.
func BigInt(b *big.Int) any {
	if b == nil {
		return nil
	}
	if b.IsInt64() {
		return Int(b.Int64())
	}
	return b.String()
}

// Binary is the placeholder shown instead of raw bytes.
func Binary(n int) string {
	return fmt.Sprintf("(binary %d bytes)", n)
}

// Timestamp renders a time without zone information.
func Timestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05.999999999")
}

// TimestampTZ renders a time with its zone offset.
func TimestampTZ(t time.Time) string {
	return t.Format("2006-01-02 15:04:05.999999999Z07:00")
}

// Date renders the calendar date part of t.
func Date(t time.Time) string {
	return t.Format("2006-01-02")
}

// TimeOfDay renders the clock part of t.
func TimeOfDay(t time.Time) string {
	return t.Format("15:04:05.999999999")
}

// Text decodes bytes as a string when they are valid UTF-8 and falls back
// to the binary placeholder otherwise.
func Text(b []byte) any {
	if utf8.Valid(b) {
		return string(b)
	}
	return Binary(len(b))
}

// JSON decodes a JSON document into canonical values, keeping integers
// exact. Invalid documents fall back to Text.
func JSON(b []byte) any {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return Text(b)
	}
	return fromJSON(out)
}

func fromJSON(v any) any {
	switch x := v.(type) {
	case json.Number:
		return jsonNumber(x)
	case map[string]any:
		for k, val := range x {
			x[k] = fromJSON(val)
		}
		return x
	case []any:
		for i, val := range x {
			x[i] = fromJSON(val)
		}
		return x
	}
	return v
}

func jsonNumber(n json.Number) any {
	if i, err := n.Int64(); err == nil {
		return Int(i)
	}
	if !strings.ContainsAny(n.String(), ".eE") {
		// integer wider than int64
		return n.String()
	}
	if f, err := n.Float64(); err == nil {
		return Float(f)
	}
	return n.String()
}

// AsInt64 attempts to read v as a signed integer. Textual encodings are
// parsed, which is how database/sql drivers hand over numeric columns.
func AsInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int32:
		return int64(x), true
	case int16:
		return int64(x), true
	case int8:
		return int64(x), true
	case int:
		return int64(x), true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		if x > math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	case []byte:
		n, err := strconv.ParseInt(string(x), 10, 64)
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		return n, err == nil
	}
	return 0, false
}

// AsUint64 attempts to read v as an unsigned integer.
func AsUint64(v any) (uint64, bool) {
	switch x := v.(type) {
	case uint64:
		return x, true
	case []byte:
		n, err := strconv.ParseUint(string(x), 10, 64)
		return n, err == nil
	case string:
		n, err := strconv.ParseUint(x, 10, 64)
		return n, err == nil
	}
	if n, ok := AsInt64(v); ok && n >= 0 {
		return uint64(n), true
	}
	return 0, false
}

// AsFloat64 attempts to read v as a float.
func AsFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case []byte:
		f, err := strconv.ParseFloat(string(x), 64)
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	}
	if n, ok := AsInt64(v); ok {
		return float64(n), true
	}
	return 0, false
}

// AsBool attempts to read v as a boolean, accepting 0/1 encodings.
func AsBool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case []byte:
		b, err := strconv.ParseBool(string(x))
		return b, err == nil
	case string:
		b, err := strconv.ParseBool(x)
		return b, err == nil
	}
	if n, ok := AsInt64(v); ok {
		return n != 0, true
	}
	return false, false
}

// AsString attempts to read v as text.
func AsString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case []byte:
		if utf8.Valid(x) {
			return string(x), true
		}
	case fmt.Stringer:
		return x.String(), true
	}
	return "", false
}

// Integer canonicalises an integer cell, trying integer, then unsigned,
// then textual decoding. Anything unreadable becomes nil.
func Integer(v any) any {
	if v == nil {
		return nil
	}
	if n, ok := AsInt64(v); ok {
		return Int(n)
	}
	if n, ok := AsUint64(v); ok {
		return Uint(n)
	}
	if s, ok := AsString(v); ok {
		return s
	}
	return nil
}

// Decimal canonicalises exact numerics as strings so no precision is lost.
func Decimal(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	}
	if s, ok := AsString(v); ok {
		return s
	}
	return Canonical(v)
}

// Canonical converts an arbitrary driver value into the JSON-friendly
// canonical form. It is the fallback every engine coercer ends on.
func Canonical(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case bool:
		return x
	case string:
		return x
	case []byte:
		return Text(x)
	case int64:
		return Int(x)
	case int:
		return Int(int64(x))
	case int32:
		return int64(x)
	case int16:
		return int64(x)
	case int8:
		return int64(x)
	case uint64:
		return Uint(x)
	case uint:
		return Uint(uint64(x))
	case uint32:
		return int64(x)
	case uint16:
		return int64(x)
	case uint8:
		return int64(x)
	case float64:
		return Float(x)
	case float32:
		return Float(float64(x))
	case *big.Int:
		return BigInt(x)
	case time.Time:
		return TimestampTZ(x)
	case time.Duration:
		return x.String()
	case json.RawMessage:
		return JSON(x)
	case json.Number:
		return jsonNumber(x)
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, val := range x {
			m[k] = Canonical(val)
		}
		return m
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = Canonical(val)
		}
		return out
	case fmt.Stringer:
		return x.String()
	case driver.Valuer:
		inner, err := x.Value()
		if err != nil {
			return nil
		}
		if _, same := inner.(driver.Valuer); same {
			return fmt.Sprint(inner)
		}
		return Canonical(inner)
	}
	return canonicalReflect(reflect.ValueOf(v))
}

func canonicalReflect(rv reflect.Value) any {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return Canonical(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = Canonical(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		if rv.IsNil() {
			return nil
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = Canonical(iter.Value().Interface())
		}
		return out
	case reflect.Struct:
		b, err := json.Marshal(rv.Interface())
		if err != nil {
			return fmt.Sprint(rv.Interface())
		}
		var out any
		if err := json.Unmarshal(b, &out); err != nil {
			return string(b)
		}
		return out
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Uint(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return Float(rv.Float())
	case reflect.String:
		return rv.String()
	case reflect.Invalid:
		return nil
	}
	return nil
}

// NormalizeTypeName upper-cases a driver reported type name for lookup.
func NormalizeTypeName(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}
