package mysql

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCoerceValue(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

	tests := []struct {
		name     string
		typeName string
		value    any
		expected any
	}{
		{name: "null", typeName: "INT", value: nil, expected: nil},
		{name: "tinyint from text", typeName: "TINYINT", value: []byte("1"), expected: int64(1)},
		{name: "tinyint bool", typeName: "TINYINT", value: true, expected: true},
		{name: "int text protocol", typeName: "INT", value: []byte("42"), expected: int64(42)},
		{name: "bigint wide", typeName: "BIGINT", value: int64(1) << 53, expected: "9007199254740992"},
		{name: "unsigned bigint", typeName: "UNSIGNED BIGINT", value: []byte("18446744073709551615"), expected: "18446744073709551615"},
		{name: "decimal", typeName: "DECIMAL", value: []byte("10.50"), expected: "10.50"},
		{name: "double", typeName: "DOUBLE", value: []byte("2.5"), expected: 2.5},
		{name: "varchar", typeName: "VARCHAR", value: []byte("hello"), expected: "hello"},
		{name: "json", typeName: "JSON", value: []byte(`{"k":[1,"x"]}`), expected: map[string]any{"k": []any{int64(1), "x"}}},
		{name: "datetime", typeName: "DATETIME", value: ts, expected: "2024-03-01 12:30:00"},
		{name: "date", typeName: "DATE", value: ts, expected: "2024-03-01"},
		{name: "time", typeName: "TIME", value: []byte("12:30:00"), expected: "12:30:00"},
		{name: "blob", typeName: "BLOB", value: []byte{0, 1, 2, 3}, expected: "(binary 4 bytes)"},
		{name: "bit", typeName: "BIT", value: []byte{0x01, 0x01}, expected: int64(257)},
		{name: "unknown falls back to text", typeName: "GEOGRAPHY", value: []byte("POINT(1 1)"), expected: "POINT(1 1)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, coerceValue(tt.typeName, tt.value))
		})
	}
}
