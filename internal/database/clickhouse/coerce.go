package clickhouse

import (
	"fmt"
	"math/big"
	"reflect"
	"strings"
	"time"

	"github.com/koustreak/querydeck/internal/database"
)

// splitType breaks "MAP(STRING, ARRAY(UINT64))" into "MAP" and its
// top-level arguments. Quoted arguments (time zones, enum labels) are kept
// intact.
func splitType(t string) (string, []string) {
	open := strings.IndexByte(t, '(')
	if open < 0 || !strings.HasSuffix(t, ")") {
		return t, nil
	}
	name, inner := t[:open], t[open+1:len(t)-1]

	var (
		args   []string
		depth  int
		quoted bool
		start  int
	)
	for i := 0; i < len(inner); i++ {
		switch c := inner[i]; {
		case c == '\'':
			quoted = !quoted
		case quoted:
		case c == '(':
			depth++
		case c == ')':
			depth--
		case c == ',' && depth == 0:
			args = append(args, strings.TrimSpace(inner[start:i]))
			start = i + 1
		}
	}
	args = append(args, strings.TrimSpace(inner[start:]))
	return name, args
}

// unwrap strips the wrappers that do not change the value shape.
func unwrap(t string) string {
	for {
		name, args := splitType(t)
		if (name == "NULLABLE" || name == "LOWCARDINALITY") && len(args) == 1 {
			t = args[0]
			continue
		}
		return t
	}
}

// deref follows pointers produced for Nullable columns.
func deref(v any) any {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil
	}
	return rv.Interface()
}

// coerceValue maps a value decoded by clickhouse-go to its canonical form
// using the upper-cased column type.
func coerceValue(typeName string, v any) any {
	v = deref(v)
	if v == nil {
		return nil
	}

	name, args := splitType(unwrap(typeName))
	switch name {
	case "BOOL", "BOOLEAN":
		if b, ok := database.AsBool(v); ok {
			return b
		}
	case "INT8", "INT16", "INT32", "INT64", "UINT16", "UINT32", "UINT64":
		return database.Integer(v)
	case "UINT8":
		if b, ok := v.(bool); ok {
			return b
		}
		return database.Integer(v)
	case "INT128", "INT256", "UINT128", "UINT256":
		switch b := v.(type) {
		case *big.Int:
			return database.BigInt(b)
		case big.Int:
			return database.BigInt(&b)
		}
		return database.Integer(v)
	case "FLOAT32", "FLOAT64":
		if f, ok := database.AsFloat64(v); ok {
			return database.Float(f)
		}
	case "DECIMAL", "DECIMAL32", "DECIMAL64", "DECIMAL128", "DECIMAL256":
		return database.Decimal(v)
	case "STRING", "FIXEDSTRING", "ENUM8", "ENUM16", "UUID", "IPV4", "IPV6":
		if s, ok := database.AsString(v); ok {
			return s
		}
		if b, ok := v.([]byte); ok {
			return database.Binary(len(b))
		}
	case "DATE", "DATE32":
		if t, ok := v.(time.Time); ok {
			return database.Date(t)
		}
	case "DATETIME", "DATETIME64":
		if t, ok := v.(time.Time); ok {
			return database.Timestamp(t)
		}
	case "ARRAY":
		if len(args) == 1 {
			return coerceList(args[0], v)
		}
	case "MAP":
		if len(args) == 2 {
			return coerceMap(args[1], v)
		}
	case "NOTHING":
		return nil
	}

	return database.Canonical(v)
}

func coerceList(elem string, v any) any {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return database.Canonical(v)
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = coerceValue(elem, rv.Index(i).Interface())
	}
	return out
}

func coerceMap(elem string, v any) any {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map {
		return database.Canonical(v)
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[fmt.Sprint(deref(iter.Key().Interface()))] = coerceValue(elem, iter.Value().Interface())
	}
	return out
}
