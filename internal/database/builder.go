package database

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/koustreak/querydeck/internal/errs"
)

// QuoteStyle selects how identifiers are quoted for an engine.
type QuoteStyle int

const (
	// DoubleQuote is ANSI quoting used by Postgres and ClickHouse.
	DoubleQuote QuoteStyle = iota
	// Backtick is MySQL quoting.
	Backtick
)

func (q QuoteStyle) char() string {
	if q == Backtick {
		return "`"
	}
	return `"`
}

// Quote wraps each dot-separated part of ident in the style's quote
// character, doubling any embedded quote characters.
func (q QuoteStyle) Quote(ident string) string {
	c := q.char()
	parts := strings.Split(ident, ".")
	for i, p := range parts {
		parts[i] = c + strings.ReplaceAll(p, c, c+c) + c
	}
	return strings.Join(parts, ".")
}

// ValidateIdentifier accepts names matching [A-Za-z_][A-Za-z0-9_.]*.
func ValidateIdentifier(name string) error {
	if name == "" {
		return errs.New(errs.ErrKindInvalidIdentifier, "identifier is empty")
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r == '.' || (r >= '0' && r <= '9')):
		default:
			return errs.Newf(errs.ErrKindInvalidIdentifier, "invalid identifier %q", name)
		}
	}
	return nil
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// EscapeValue renders v as a SQL literal. Numbers and booleans are bare,
// nil is NULL, strings are single-quoted with embedded quotes doubled and
// anything else is JSON-encoded and then quoted the same way.
func EscapeValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case bool:
		return strconv.FormatBool(x)
	case string:
		return quoteString(x)
	case json.Number:
		if _, err := x.Float64(); err == nil {
			return x.String()
		}
		return quoteString(x.String())
	case int:
		return strconv.FormatInt(int64(x), 10)
	case int8:
		return strconv.FormatInt(int64(x), 10)
	case int16:
		return strconv.FormatInt(int64(x), 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint:
		return strconv.FormatUint(uint64(x), 10)
	case uint8:
		return strconv.FormatUint(uint64(x), 10)
	case uint16:
		return strconv.FormatUint(uint64(x), 10)
	case uint32:
		return strconv.FormatUint(uint64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float32:
		return formatFloat(float64(x))
	case float64:
		return formatFloat(x)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return quoteString(fmt.Sprint(v))
	}
	return quoteString(string(b))
}

func formatFloat(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return quoteString(strconv.FormatFloat(f, 'g', -1, 64))
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// BuildUpdateSQL renders a single-row UPDATE. Column order is sorted by
// name so the output is deterministic. A nil primary key value matches
// with IS NULL.
func BuildUpdateSQL(table string, changes, primaryKeys map[string]any, style QuoteStyle) (string, error) {
	if err := ValidateIdentifier(table); err != nil {
		return "", err
	}
	if len(changes) == 0 {
		return "", errs.New(errs.ErrKindInvalidInput, "no changes to apply")
	}
	if len(primaryKeys) == 0 {
		return "", errs.New(errs.ErrKindInvalidInput, "no primary keys provided")
	}

	sets := make([]string, 0, len(changes))
	for _, col := range sortedKeys(changes) {
		if err := ValidateIdentifier(col); err != nil {
			return "", err
		}
		sets = append(sets, style.Quote(col)+" = "+EscapeValue(changes[col]))
	}

	conds := make([]string, 0, len(primaryKeys))
	for _, col := range sortedKeys(primaryKeys) {
		if err := ValidateIdentifier(col); err != nil {
			return "", err
		}
		if primaryKeys[col] == nil {
			conds = append(conds, style.Quote(col)+" IS NULL")
			continue
		}
		conds = append(conds, style.Quote(col)+" = "+EscapeValue(primaryKeys[col]))
	}

	return fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		style.Quote(table), strings.Join(sets, ", "), strings.Join(conds, " AND ")), nil
}

// BuildSelectSQL renders a paged SELECT * with optional ORDER BY terms.
// Sort directions other than asc and desc are rejected.
func BuildSelectSQL(table string, limit, offset int, style QuoteStyle, sortBy ...SortItem) (string, error) {
	if err := ValidateIdentifier(table); err != nil {
		return "", err
	}
	if limit < 0 || offset < 0 {
		return "", errs.Newf(errs.ErrKindInvalidInput, "limit and offset must be non-negative (got %d, %d)", limit, offset)
	}

	var b strings.Builder
	b.WriteString("SELECT * FROM ")
	b.WriteString(style.Quote(table))

	if len(sortBy) > 0 {
		terms := make([]string, 0, len(sortBy))
		for _, s := range sortBy {
			if err := ValidateIdentifier(s.ColID); err != nil {
				return "", err
			}
			dir := strings.ToUpper(strings.TrimSpace(s.Sort))
			if dir != "ASC" && dir != "DESC" {
				return "", errs.Newf(errs.ErrKindInvalidInput, "invalid sort direction %q", s.Sort)
			}
			terms = append(terms, style.Quote(s.ColID)+" "+dir)
		}
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(terms, ", "))
	}

	fmt.Fprintf(&b, " LIMIT %d OFFSET %d", limit, offset)
	return b.String(), nil
}
