package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/koustreak/querydeck/internal/database"
)

const (
	qVersion      = `SELECT VERSION()`
	qUptime       = `SHOW GLOBAL STATUS LIKE 'Uptime'`
	qThreads      = `SHOW STATUS LIKE 'Threads_connected'`
	qMaxConns     = `SHOW VARIABLES LIKE 'max_connections'`
	qStorageSizes = `
		SELECT SUM(data_length + index_length),
		       SUM(index_length),
		       COUNT(*)
		FROM information_schema.TABLES
		WHERE table_schema = ?`
	qTopQueries = `
		SELECT ID, USER, COMMAND, TIME, INFO
		FROM information_schema.PROCESSLIST
		WHERE COMMAND <> 'Sleep'
		  AND INFO IS NOT NULL
		  AND ID <> CONNECTION_ID()
		ORDER BY TIME DESC
		LIMIT 10`
)

// GetDashboardMetrics runs each probe independently; a probe that fails
// leaves its field at the zero value.
func (d *Driver) GetDashboardMetrics(ctx context.Context) (*database.DashboardMetrics, error) {
	db, err := d.conn()
	if err != nil {
		return nil, err
	}

	m := database.NewDashboardMetrics()

	if err := db.QueryRowContext(ctx, qVersion).Scan(&m.Version); err != nil {
		d.probeFailed("version", err)
	}
	m.Uptime = d.statusInt(ctx, db, qUptime)
	m.ActiveConnections = d.statusInt(ctx, db, qThreads)
	m.MaxConnections = d.statusInt(ctx, db, qMaxConns)

	var size, indexSize sql.NullFloat64
	var tables sql.NullInt64
	if err := db.QueryRowContext(ctx, qStorageSizes, d.currentDatabase()).Scan(&size, &indexSize, &tables); err != nil {
		d.probeFailed("storage", err)
	}
	m.DBSize = database.FormatMB(size.Float64)
	m.IndexesSize = database.FormatMB(indexSize.Float64)
	m.TableCount = tables.Int64

	top, err := topQueries(ctx, db)
	if err != nil {
		d.probeFailed("processlist", err)
	} else {
		m.TopQueries = top
	}

	return m, nil
}

func (d *Driver) probeFailed(probe string, err error) {
	d.log.Debugf("metrics probe %s failed: %v", probe, err)
}

// statusInt reads the value column of a SHOW STATUS / SHOW VARIABLES row.
func (d *Driver) statusInt(ctx context.Context, db *sql.DB, q string) int64 {
	var name, value string
	if err := db.QueryRowContext(ctx, q).Scan(&name, &value); err != nil {
		d.probeFailed(q, err)
		return 0
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func topQueries(ctx context.Context, db *sql.DB) ([]database.TopQuery, error) {
	rows, err := db.QueryContext(ctx, qTopQueries)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]database.TopQuery, 0)
	for rows.Next() {
		var (
			q    database.TopQuery
			secs int64
		)
		if err := rows.Scan(&q.PID, &q.User, &q.State, &secs, &q.Query); err != nil {
			return nil, err
		}
		q.Duration = fmt.Sprintf("%ds", secs)
		out = append(out, q)
	}
	return out, rows.Err()
}
