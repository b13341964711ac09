package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/koustreak/querydeck/internal/database"
	"github.com/koustreak/querydeck/internal/errs"
	"github.com/koustreak/querydeck/internal/export"
)

// Output formats accepted by --output.
const (
	outputTable = "table"
	outputJSON  = "json"
	outputCSV   = "csv"
	outputSQL   = "sql"
)

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

// renderResult prints a query result. Table output ends with a row count
// and the server-side duration.
func renderResult(w io.Writer, res *database.QueryResult, format string) error {
	switch format {
	case outputJSON:
		return export.Write(w, res, export.FormatJSON)
	case outputCSV:
		return export.Write(w, res, export.FormatCSV)
	case outputSQL:
		return export.Write(w, res, export.FormatSQL)
	case "", outputTable:
	default:
		return errs.Newf(errs.ErrKindInvalidInput, "unknown output format %q", format)
	}

	if len(res.Columns) == 0 {
		_, _ = fmt.Fprintf(w, "(0 rows, %.1f ms)\n", res.Duration)
		return nil
	}

	t := newTable(w)
	header := make(table.Row, len(res.Columns))
	for i, col := range res.Columns {
		header[i] = col
	}
	t.AppendHeader(header)

	for _, r := range res.Rows {
		row := make(table.Row, len(res.Columns))
		for i, col := range res.Columns {
			row[i] = formatCell(r[col])
		}
		t.AppendRow(row)
	}

	t.Render()
	_, _ = fmt.Fprintf(w, "(%d rows, %.1f ms)\n", len(res.Rows), res.Duration)
	return nil
}

func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return x
	case bool, int64, float64:
		return fmt.Sprint(x)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func renderJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// renderList prints a single-column listing.
func renderList(w io.Writer, header string, items []string, format string) error {
	if format == outputJSON {
		return renderJSON(w, items)
	}
	t := newTable(w)
	t.AppendHeader(table.Row{header})
	for _, item := range items {
		t.AppendRow(table.Row{item})
	}
	t.Render()
	return nil
}

func renderSchema(w io.Writer, schema database.Schema, format string) error {
	if format == outputJSON {
		return renderJSON(w, schema)
	}

	names := make([]string, 0, len(schema))
	for name := range schema {
		names = append(names, name)
	}
	sort.Strings(names)

	t := newTable(w)
	t.AppendHeader(table.Row{"table", "columns"})
	for _, name := range names {
		t.AppendRow(table.Row{name, strings.Join(schema[name], ", ")})
	}
	t.Render()
	return nil
}

func renderMetrics(w io.Writer, m *database.DashboardMetrics, format string) error {
	if format == outputJSON {
		return renderJSON(w, m)
	}

	t := newTable(w)
	t.AppendRows([]table.Row{
		{"version", m.Version},
		{"uptime", database.FormatUptime(m.Uptime)},
		{"connections", fmt.Sprintf("%d / %d", m.ActiveConnections, m.MaxConnections)},
		{"database size", m.DBSize},
		{"indexes size", m.IndexesSize},
		{"tables", m.TableCount},
		{"cache hit ratio", fmt.Sprintf("%.2f%%", m.CacheHitRatio*100)},
	})
	t.Render()

	if len(m.TopQueries) == 0 {
		return nil
	}

	_, _ = fmt.Fprintln(w)
	q := newTable(w)
	q.AppendHeader(table.Row{"pid", "user", "state", "duration", "query"})
	for _, tq := range m.TopQueries {
		q.AppendRow(table.Row{tq.PID, tq.User, tq.State, tq.Duration, truncate(tq.Query, 80)})
	}
	q.Render()
	return nil
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
