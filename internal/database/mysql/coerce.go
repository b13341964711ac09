package mysql

import (
	"encoding/binary"
	"strings"
	"time"

	"github.com/koustreak/querydeck/internal/database"
)

// coerceValue maps a scanned MySQL cell to its canonical value.
// typeName is the DatabaseTypeName reported by go-sql-driver/mysql.
func coerceValue(typeName string, v any) any {
	if v == nil {
		return nil
	}
	typeName = strings.TrimPrefix(typeName, "UNSIGNED ")

	switch typeName {
	case "TINYINT":
		// TINYINT(1) is how MySQL spells BOOLEAN; the wire value is still 0/1.
		if n, ok := database.AsInt64(v); ok {
			return n
		}
		if b, ok := database.AsBool(v); ok {
			return b
		}
		return text(v)

	case "BOOL", "BOOLEAN":
		if b, ok := database.AsBool(v); ok {
			return b
		}
		return database.Integer(v)

	case "SMALLINT", "MEDIUMINT", "INT", "INTEGER", "BIGINT", "YEAR":
		return database.Integer(v)

	case "DECIMAL":
		return database.Decimal(v)

	case "FLOAT", "DOUBLE":
		if f, ok := database.AsFloat64(v); ok {
			return database.Float(f)
		}
		return text(v)

	case "VARCHAR", "CHAR", "TEXT", "ENUM", "SET":
		return text(v)

	case "JSON":
		if b, ok := v.([]byte); ok {
			return database.JSON(b)
		}
		return text(v)

	case "DATETIME", "TIMESTAMP":
		if t, ok := v.(time.Time); ok {
			return database.Timestamp(t)
		}
		return text(v)

	case "DATE":
		if t, ok := v.(time.Time); ok {
			return database.Date(t)
		}
		return text(v)

	case "TIME":
		return text(v)

	case "BINARY", "VARBINARY", "TINYBLOB", "BLOB", "MEDIUMBLOB", "LONGBLOB", "GEOMETRY":
		if b, ok := v.([]byte); ok {
			return database.Binary(len(b))
		}
		return text(v)

	case "BIT":
		return bitValue(v)
	}

	return database.Canonical(v)
}

// bitValue decodes a BIT(n) column, which arrives as big-endian bytes.
func bitValue(v any) any {
	b, ok := v.([]byte)
	if !ok {
		return database.Integer(v)
	}
	if len(b) > 8 {
		return database.Binary(len(b))
	}
	var buf [8]byte
	copy(buf[8-len(b):], b)
	return database.Uint(binary.BigEndian.Uint64(buf[:]))
}

func text(v any) any {
	if s, ok := database.AsString(v); ok {
		return s
	}
	return database.Canonical(v)
}
