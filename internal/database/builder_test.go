package database

import (
	"testing"

	"github.com/koustreak/querydeck/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		name  string
		ident string
		valid bool
	}{
		{name: "simple", ident: "users", valid: true},
		{name: "underscore prefix", ident: "_tmp", valid: true},
		{name: "qualified", ident: "public.users", valid: true},
		{name: "digits after first", ident: "t1_2", valid: true},
		{name: "empty", ident: "", valid: false},
		{name: "leading digit", ident: "1users", valid: false},
		{name: "space", ident: "user name", valid: false},
		{name: "semicolon", ident: "users;drop", valid: false},
		{name: "quote", ident: `users"`, valid: false},
		{name: "dash", ident: "user-name", valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIdentifier(tt.ident)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.True(t, errs.IsInvalidIdentifier(err))
			}
		})
	}
}

func TestEscapeValue(t *testing.T) {
	tests := []struct {
		name     string
		value    any
		expected string
	}{
		{name: "nil", value: nil, expected: "NULL"},
		{name: "string", value: "hello", expected: "'hello'"},
		{name: "embedded quote", value: "O'Reilly", expected: "'O''Reilly'"},
		{name: "int", value: 10, expected: "10"},
		{name: "float", value: 1.5, expected: "1.5"},
		{name: "whole float", value: float64(10), expected: "10"},
		{name: "bool", value: true, expected: "true"},
		{name: "object", value: map[string]any{"a": "it's"}, expected: `'{"a":"it''s"}'`},
		{name: "array", value: []any{1, 2}, expected: "'[1,2]'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, EscapeValue(tt.value))
		})
	}
}

func TestQuoteStyle_Quote(t *testing.T) {
	assert.Equal(t, `"users"`, DoubleQuote.Quote("users"))
	assert.Equal(t, "`users`", Backtick.Quote("users"))
	assert.Equal(t, `"public"."users"`, DoubleQuote.Quote("public.users"))
	assert.Equal(t, `"a""b"`, DoubleQuote.Quote(`a"b`))
}

func TestBuildUpdateSQL(t *testing.T) {
	sql, err := BuildUpdateSQL("users",
		map[string]any{"col1": "val1", "col2": 10},
		map[string]any{"id": 1},
		DoubleQuote)
	require.NoError(t, err)

	assert.Contains(t, sql, `UPDATE "users" SET`)
	assert.Contains(t, sql, `"col1" = 'val1'`)
	assert.Contains(t, sql, `"col2" = 10`)
	assert.Contains(t, sql, `WHERE "id" = 1`)
}

func TestBuildUpdateSQL_NullKeyAndComposite(t *testing.T) {
	sql, err := BuildUpdateSQL("orders",
		map[string]any{"status": "shipped"},
		map[string]any{"tenant": "acme", "ref": nil},
		Backtick)
	require.NoError(t, err)

	assert.Equal(t, "UPDATE `orders` SET `status` = 'shipped' WHERE `ref` IS NULL AND `tenant` = 'acme'", sql)
}

func TestBuildUpdateSQL_Errors(t *testing.T) {
	_, err := BuildUpdateSQL("users", nil, map[string]any{"id": 1}, DoubleQuote)
	assert.True(t, errs.IsInvalidInput(err))

	_, err = BuildUpdateSQL("users", map[string]any{"a": 1}, nil, DoubleQuote)
	assert.True(t, errs.IsInvalidInput(err))

	_, err = BuildUpdateSQL("users; drop", map[string]any{"a": 1}, map[string]any{"id": 1}, DoubleQuote)
	assert.True(t, errs.IsInvalidIdentifier(err))

	_, err = BuildUpdateSQL("users", map[string]any{"a b": 1}, map[string]any{"id": 1}, DoubleQuote)
	assert.True(t, errs.IsInvalidIdentifier(err))
}

func TestBuildSelectSQL(t *testing.T) {
	sql, err := BuildSelectSQL("users", 10, 0, Backtick)
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM `users` LIMIT 10 OFFSET 0", sql)
}

func TestBuildSelectSQL_Sort(t *testing.T) {
	sql, err := BuildSelectSQL("users", 50, 100, DoubleQuote,
		SortItem{ColID: "name", Sort: "desc"},
		SortItem{ColID: "id", Sort: "ASC"})
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "users" ORDER BY "name" DESC, "id" ASC LIMIT 50 OFFSET 100`, sql)
}

func TestBuildSelectSQL_Errors(t *testing.T) {
	_, err := BuildSelectSQL("users", 10, 0, DoubleQuote, SortItem{ColID: "name", Sort: "sideways"})
	assert.True(t, errs.IsInvalidInput(err))

	_, err = BuildSelectSQL("users", 10, 0, DoubleQuote, SortItem{ColID: "1=1", Sort: "asc"})
	assert.True(t, errs.IsInvalidIdentifier(err))

	_, err = BuildSelectSQL("users", -1, 0, DoubleQuote)
	assert.True(t, errs.IsInvalidInput(err))
}
