package database

import (
	"database/sql"

	"github.com/koustreak/querydeck/internal/errs"
)

// Coercer maps one scanned cell to its canonical value using the engine
// reported type name. It returns nil for values it cannot decode.
type Coercer func(typeName string, v any) any

const scanFailed = "failed to read rows"

// ScanSQLRows drains rows into canonical Rows. Column names and types are
// taken from the result metadata so an empty result still reports columns.
func ScanSQLRows(rows *sql.Rows, coerce Coercer) ([]string, []Row, error) {
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, nil, errs.Wrap(errs.ErrKindQueryFailed, scanFailed, err)
	}
	columns := make([]string, len(types))
	typeNames := make([]string, len(types))
	for i, t := range types {
		columns[i] = t.Name()
		typeNames[i] = NormalizeTypeName(t.DatabaseTypeName())
	}

	out := make([]Row, 0)
	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, errs.Wrap(errs.ErrKindQueryFailed, scanFailed, err)
		}
		row := make(Row, len(columns))
		for i, col := range columns {
			row[col] = coerce(typeNames[i], values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, errs.Wrap(errs.ErrKindQueryFailed, scanFailed, err)
	}
	return columns, out, nil
}
