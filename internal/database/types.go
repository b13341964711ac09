package database

import (
	"fmt"
	"time"
)

// Row is one result row keyed by column name. Values are already in
// canonical form: nil, bool, int64, float64, string, []any or map[string]any.
type Row map[string]any

// Schema maps table name to its ordered column names.
type Schema map[string][]string

// QueryResult is the uniform shape of every query answer. Query failures
// are folded into Error rather than returned as a Go error.
type QueryResult struct {
	Rows     []Row    `json:"rows"`
	Columns  []string `json:"columns"`
	Error    *string  `json:"error"`
	Duration float64  `json:"duration"`
}

// NewQueryResult builds a successful result, normalising nil slices so
// they encode as [] rather than null.
func NewQueryResult(columns []string, rows []Row, elapsed time.Duration) *QueryResult {
	if columns == nil {
		columns = []string{}
	}
	if rows == nil {
		rows = []Row{}
	}
	return &QueryResult{Rows: rows, Columns: columns, Duration: Millis(elapsed)}
}

// FailedResult builds a result carrying only an error message.
func FailedResult(err error, elapsed time.Duration) *QueryResult {
	msg := err.Error()
	return &QueryResult{Rows: []Row{}, Columns: []string{}, Error: &msg, Duration: Millis(elapsed)}
}

// Failed reports whether the result carries an error.
func (r *QueryResult) Failed() bool {
	return r.Error != nil
}

// Millis converts d to fractional milliseconds.
func Millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// SortItem is one ORDER BY term of a paged table read.
type SortItem struct {
	ColID string `json:"colId"`
	Sort  string `json:"sort"`
}

// DataRequest describes a paged, optionally sorted, table read.
type DataRequest struct {
	TableName string     `json:"tableName"`
	Offset    int        `json:"offset"`
	Limit     int        `json:"limit"`
	Sort      []SortItem `json:"sort,omitempty"`
}

// RowUpdate changes one row identified by its primary key values.
type RowUpdate struct {
	TableName   string         `json:"tableName"`
	PrimaryKeys map[string]any `json:"primaryKeys"`
	Changes     map[string]any `json:"changes"`
}

// UpdateResult reports the outcome of a batch of row updates.
type UpdateResult struct {
	Success      bool    `json:"success"`
	AffectedRows int64   `json:"affectedRows"`
	Error        *string `json:"error"`
}

// TopQuery is one currently running statement reported by a metrics probe.
type TopQuery struct {
	PID      int64  `json:"pid"`
	User     string `json:"user"`
	State    string `json:"state"`
	Duration string `json:"duration"`
	Query    string `json:"query"`
}

// DashboardMetrics is a best-effort snapshot of server health. Fields a
// probe could not read stay at their zero value. Uptime is in seconds.
type DashboardMetrics struct {
	Version           string     `json:"version"`
	Uptime            int64      `json:"uptime"`
	ActiveConnections int64      `json:"activeConnections"`
	MaxConnections    int64      `json:"maxConnections"`
	DBSize            string     `json:"dbSize"`
	IndexesSize       string     `json:"indexesSize"`
	TableCount        int64      `json:"tableCount"`
	CacheHitRatio     float64    `json:"cacheHitRatio"`
	TopQueries        []TopQuery `json:"topQueries"`
}

// NewDashboardMetrics returns metrics with every string field at its
// "unknown" placeholder.
func NewDashboardMetrics() *DashboardMetrics {
	return &DashboardMetrics{
		Version:     "Unknown",
		DBSize:      "0 MB",
		IndexesSize: "0 MB",
		TopQueries:  []TopQuery{},
	}
}

// FormatUptime renders seconds as "Nd HH:MM:SS", omitting the day part
// when it is zero.
func FormatUptime(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	days := seconds / 86400
	hours := (seconds % 86400) / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60
	if days > 0 {
		return fmt.Sprintf("%dd %02d:%02d:%02d", days, hours, minutes, secs)
	}
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, secs)
}

// FormatMB renders a byte count as megabytes with two decimals.
func FormatMB(bytes float64) string {
	return fmt.Sprintf("%.2f MB", bytes/1024/1024)
}
