package clickhouse

import (
	"context"
	"database/sql"

	"github.com/koustreak/querydeck/internal/database"
)

const (
	qVersion = `SELECT version()`
	qUptime  = `SELECT toInt64(uptime())`
	qStorage = `
		SELECT toInt64(sum(bytes_on_disk)),
		       toInt64(sum(primary_key_bytes_in_memory))
		FROM system.parts
		WHERE active AND database = ?`
	qTableCount  = `SELECT toInt64(count()) FROM system.tables WHERE database != 'system'`
	qConnections = `
		SELECT toInt64(sum(value))
		FROM system.metrics
		WHERE metric IN ('TCPConnection', 'HTTPConnection', 'MySQLConnection', 'PostgreSQLConnection')`
	qTopQueries = `
		SELECT user, toString(round(elapsed, 3)), query
		FROM system.processes
		WHERE query_id != queryID()
		ORDER BY elapsed DESC
		LIMIT 10`
)

// GetDashboardMetrics probes the system tables; each probe is independent
// and a failure leaves its field at the zero value. ClickHouse has no
// connection limit or buffer cache ratio to report.
func (d *Driver) GetDashboardMetrics(ctx context.Context) (*database.DashboardMetrics, error) {
	db, err := d.conn()
	if err != nil {
		return nil, err
	}

	m := database.NewDashboardMetrics()

	d.probe(ctx, db, "version", qVersion, &m.Version)
	d.probe(ctx, db, "uptime", qUptime, &m.Uptime)

	var size, indexes sql.NullInt64
	if err := db.QueryRowContext(ctx, qStorage, d.targetDatabase("")).Scan(&size, &indexes); err != nil {
		d.log.Debugf("metrics probe storage failed: %v", err)
	}
	m.DBSize = database.FormatMB(float64(size.Int64))
	m.IndexesSize = database.FormatMB(float64(indexes.Int64))

	d.probe(ctx, db, "table count", qTableCount, &m.TableCount)
	d.probe(ctx, db, "connections", qConnections, &m.ActiveConnections)

	if top, err := topQueries(ctx, db); err != nil {
		d.log.Debugf("metrics probe processes failed: %v", err)
	} else {
		m.TopQueries = top
	}

	return m, nil
}

func (d *Driver) probe(ctx context.Context, db *sql.DB, name, q string, dest any) {
	if err := db.QueryRowContext(ctx, q).Scan(dest); err != nil {
		d.log.Debugf("metrics probe %s failed: %v", name, err)
	}
}

// topQueries lists running statements. Queries are identified by string
// IDs, so PID stays zero.
func topQueries(ctx context.Context, db *sql.DB) ([]database.TopQuery, error) {
	rows, err := db.QueryContext(ctx, qTopQueries)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]database.TopQuery, 0)
	for rows.Next() {
		q := database.TopQuery{State: "running"}
		var elapsed string
		if err := rows.Scan(&q.User, &elapsed, &q.Query); err != nil {
			return nil, err
		}
		q.Duration = elapsed + "s"
		out = append(out, q)
	}
	return out, rows.Err()
}
