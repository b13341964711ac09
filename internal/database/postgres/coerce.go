package postgres

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/koustreak/querydeck/internal/database"
)

// jsonbVersion prefixes jsonb documents sent in binary format.
const jsonbVersion = 1

// decodeRow turns one row of raw wire values into Go values using the
// connection's type map. A cell the codec cannot decode falls back to its
// text form, or nil for binary payloads, without failing the row.
//
// json and jsonb cells are returned as their document bytes. The pgx codec
// decodes numbers into float64, which rounds wide integers.
func decodeRow(tm *pgtype.Map, fields []pgconn.FieldDescription, raw [][]byte) []any {
	out := make([]any, len(fields))
	for i, f := range fields {
		if i >= len(raw) || raw[i] == nil {
			continue
		}
		if doc, ok := jsonDocument(f, raw[i]); ok {
			out[i] = doc
			continue
		}
		if t, ok := tm.TypeForOID(f.DataTypeOID); ok {
			if v, err := t.Codec.DecodeValue(tm, f.DataTypeOID, f.Format, raw[i]); err == nil {
				out[i] = v
				continue
			}
		}
		if f.Format == pgtype.TextFormatCode {
			out[i] = string(raw[i])
		}
	}
	return out
}

func jsonDocument(f pgconn.FieldDescription, raw []byte) ([]byte, bool) {
	switch f.DataTypeOID {
	case pgtype.JSONOID:
	case pgtype.JSONBOID:
		if f.Format == pgtype.BinaryFormatCode {
			if len(raw) == 0 || raw[0] != jsonbVersion {
				return nil, false
			}
			raw = raw[1:]
		}
	default:
		return nil, false
	}
	// raw is only valid until the next row is read
	return append([]byte(nil), raw...), true
}

// typeNames resolves each column's type name ("int4", "_text", ...).
// Unknown OIDs yield "".
func typeNames(tm *pgtype.Map, fields []pgconn.FieldDescription) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		if t, ok := tm.TypeForOID(f.DataTypeOID); ok {
			names[i] = strings.ToLower(t.Name)
		}
	}
	return names
}

// coerceValue maps a decoded Postgres value to its canonical form.
func coerceValue(typeName string, v any) any {
	if v == nil {
		return nil
	}

	if elem, isArray := strings.CutPrefix(typeName, "_"); isArray {
		items, ok := v.([]any)
		if !ok {
			return database.Canonical(v)
		}
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = coerceValue(elem, item)
		}
		return out
	}

	switch typeName {
	case "bool":
		if b, ok := database.AsBool(v); ok {
			return b
		}
	case "int2", "int4", "int8", "oid", "xid":
		return database.Integer(v)
	case "float4", "float8":
		if f, ok := database.AsFloat64(v); ok {
			return database.Float(f)
		}
	case "numeric":
		return numericValue(v)
	case "varchar", "text", "bpchar", "name", "xml", "citext", "tsvector", "tsquery", "money":
		return text(v)
	case "char":
		if r, ok := v.(rune); ok {
			return string(r)
		}
		return text(v)
	case "uuid":
		if b, ok := v.([16]byte); ok {
			return uuid.UUID(b).String()
		}
		return text(v)
	case "json", "jsonb":
		if b, ok := v.([]byte); ok {
			return database.JSON(b)
		}
		return database.Canonical(v)
	case "timestamp":
		if t, ok := v.(time.Time); ok {
			return database.Timestamp(t)
		}
	case "timestamptz":
		if t, ok := v.(time.Time); ok {
			return database.TimestampTZ(t)
		}
	case "date":
		if t, ok := v.(time.Time); ok {
			return database.Date(t)
		}
	case "time":
		if t, ok := v.(pgtype.Time); ok {
			return timeOfDay(t)
		}
	case "interval":
		if iv, ok := v.(pgtype.Interval); ok {
			return isoInterval(iv)
		}
	case "bytea":
		if b, ok := v.([]byte); ok {
			return database.Binary(len(b))
		}
	case "bit", "varbit":
		if bits, ok := v.(pgtype.Bits); ok {
			return bitString(bits)
		}
	}

	return database.Canonical(v)
}

func numericValue(v any) any {
	n, ok := v.(pgtype.Numeric)
	if !ok {
		return database.Decimal(v)
	}
	dv, err := n.Value()
	if err != nil || dv == nil {
		return nil
	}
	return database.Decimal(dv)
}

func timeOfDay(t pgtype.Time) string {
	us := t.Microseconds
	h := us / 3_600_000_000
	us -= h * 3_600_000_000
	m := us / 60_000_000
	us -= m * 60_000_000
	s := us / 1_000_000
	us -= s * 1_000_000
	out := fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	if us > 0 {
		out += strings.TrimRight(fmt.Sprintf(".%06d", us), "0")
	}
	return out
}

// isoInterval renders iv as an ISO 8601 duration, the form Postgres emits
// under intervalstyle iso_8601 (P1Y2M3DT4H5M6.5S). Each field keeps its own
// sign.
func isoInterval(iv pgtype.Interval) string {
	var sb strings.Builder
	sb.WriteByte('P')
	part := func(n int64, unit byte) {
		if n != 0 {
			sb.WriteString(strconv.FormatInt(n, 10))
			sb.WriteByte(unit)
		}
	}
	part(int64(iv.Months/12), 'Y')
	part(int64(iv.Months%12), 'M')
	part(int64(iv.Days), 'D')

	us := iv.Microseconds
	h := us / 3_600_000_000
	us -= h * 3_600_000_000
	m := us / 60_000_000
	us -= m * 60_000_000
	if h != 0 || m != 0 || us != 0 {
		sb.WriteByte('T')
		part(h, 'H')
		part(m, 'M')
		if us != 0 {
			sb.WriteString(seconds(us))
			sb.WriteByte('S')
		}
	}

	if sb.Len() == 1 {
		return "PT0S"
	}
	return sb.String()
}

func seconds(us int64) string {
	sign := ""
	if us < 0 {
		sign, us = "-", -us
	}
	out := sign + strconv.FormatInt(us/1_000_000, 10)
	if frac := us % 1_000_000; frac > 0 {
		out += strings.TrimRight(fmt.Sprintf(".%06d", frac), "0")
	}
	return out
}

func bitString(b pgtype.Bits) string {
	var sb strings.Builder
	for i := int32(0); i < b.Len; i++ {
		if b.Bytes[i/8]&(0x80>>(i%8)) != 0 {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

func text(v any) any {
	if s, ok := database.AsString(v); ok {
		return s
	}
	return database.Canonical(v)
}
