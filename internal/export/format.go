// Package export renders a QueryResult as CSV, JSON or an INSERT script,
// and delivers it to a local file or an object store bucket.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/koustreak/querydeck/internal/database"
	"github.com/koustreak/querydeck/internal/errs"
)

// Format is an export file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatSQL  Format = "sql"
)

// InsertTable is the table name every generated INSERT targets.
const InsertTable = "export_table"

// ParseFormat accepts a format name case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatJSON, FormatSQL:
		return f, nil
	}
	return "", errs.Newf(errs.ErrKindInvalidInput, "unsupported export format %q", s)
}

// ContentType is the MIME type used when the export is uploaded.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatJSON:
		return "application/json"
	case FormatSQL:
		return "application/sql"
	}
	return "application/octet-stream"
}

// Extension is the file suffix for f, including the dot.
func (f Format) Extension() string {
	return "." + string(f)
}

// Write renders res to w in format f.
func Write(w io.Writer, res *database.QueryResult, f Format) error {
	if res == nil {
		return errs.New(errs.ErrKindInvalidInput, "nothing to export")
	}
	if res.Failed() {
		return errs.New(errs.ErrKindQueryFailed, *res.Error)
	}

	switch f {
	case FormatCSV:
		return writeCSV(w, res)
	case FormatJSON:
		return writeJSON(w, res)
	case FormatSQL:
		return writeSQL(w, res)
	}
	return errs.Newf(errs.ErrKindInvalidInput, "unsupported export format %q", f)
}

// Encode is Write into memory.
func Encode(res *database.QueryResult, f Format) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, res, f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCSV(w io.Writer, res *database.QueryResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(res.Columns); err != nil {
		return errs.Wrap(errs.ErrKindIO, "failed to write csv header", err)
	}

	record := make([]string, len(res.Columns))
	for _, row := range res.Rows {
		for i, col := range res.Columns {
			cell, err := csvCell(row[col])
			if err != nil {
				return err
			}
			record[i] = cell
		}
		if err := cw.Write(record); err != nil {
			return errs.Wrap(errs.ErrKindIO, "failed to write csv row", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return errs.Wrap(errs.ErrKindIO, "failed to flush csv", err)
	}
	return nil
}

// csvCell writes strings raw, null as empty and everything else as JSON.
func csvCell(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	}
	return jsonText(v)
}

func writeJSON(w io.Writer, res *database.QueryResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res.Rows); err != nil {
		return errs.Wrap(errs.ErrKindSerialization, "failed to encode rows", err)
	}
	return nil
}

func writeSQL(w io.Writer, res *database.QueryResult) error {
	cols := make([]string, len(res.Columns))
	for i, c := range res.Columns {
		cols[i] = database.DoubleQuote.Quote(c)
	}
	prefix := fmt.Sprintf("INSERT INTO %s (%s) VALUES (", InsertTable, strings.Join(cols, ", "))

	values := make([]string, len(res.Columns))
	for _, row := range res.Rows {
		for i, col := range res.Columns {
			lit, err := sqlLiteral(row[col])
			if err != nil {
				return err
			}
			values[i] = lit
		}
		if _, err := io.WriteString(w, prefix+strings.Join(values, ", ")+");\n"); err != nil {
			return errs.Wrap(errs.ErrKindIO, "failed to write sql", err)
		}
	}
	return nil
}

func sqlLiteral(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "NULL", nil
	case bool:
		return strings.ToUpper(strconv.FormatBool(x)), nil
	case string:
		return quote(x), nil
	case int64, int, float64:
		return jsonText(x)
	}
	s, err := jsonText(v)
	if err != nil {
		return "", err
	}
	return quote(s), nil
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func jsonText(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", errs.Wrap(errs.ErrKindSerialization, "failed to encode value", err)
	}
	return string(b), nil
}
