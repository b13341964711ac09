package postgres

import (
	"context"
	"strconv"

	"github.com/koustreak/querydeck/internal/database"
)

const (
	qVersion     = `SHOW server_version`
	qUptime      = `SELECT EXTRACT(EPOCH FROM (now() - pg_postmaster_start_time()))::bigint`
	qDBSize      = `SELECT pg_database_size(current_database())`
	qIndexesSize = `SELECT COALESCE(sum(pg_indexes_size(oid)), 0)::bigint FROM pg_class WHERE relkind = 'r'`
	qTableCount  = `SELECT count(*) FROM pg_class WHERE relkind = 'r' AND relnamespace = 'public'::regnamespace`
	qActivity    = `SELECT count(*) FROM pg_stat_activity`
	qMaxConns    = `SHOW max_connections`
	qCacheHit    = `
		SELECT COALESCE(sum(blks_hit)::float8 / NULLIF(sum(blks_hit) + sum(blks_read), 0), 0)
		FROM pg_stat_database`
	qTopQueries = `
		SELECT pid::bigint,
		       COALESCE(usename::text, ''),
		       COALESCE(state, ''),
		       COALESCE(date_trunc('second', now() - query_start)::text, ''),
		       query
		FROM pg_stat_activity
		WHERE state IS DISTINCT FROM 'idle'
		  AND pid <> pg_backend_pid()
		  AND query <> ''
		ORDER BY query_start NULLS LAST
		LIMIT 10`
)

// GetDashboardMetrics runs every probe independently; failed probes leave
// their field at the zero value.
func (d *Driver) GetDashboardMetrics(ctx context.Context) (*database.DashboardMetrics, error) {
	pool, err := d.conn()
	if err != nil {
		return nil, err
	}

	m := database.NewDashboardMetrics()

	d.probe(ctx, pool, "version", qVersion, &m.Version)
	d.probe(ctx, pool, "uptime", qUptime, &m.Uptime)

	var size, indexes int64
	d.probe(ctx, pool, "database size", qDBSize, &size)
	d.probe(ctx, pool, "indexes size", qIndexesSize, &indexes)
	m.DBSize = database.FormatMB(float64(size))
	m.IndexesSize = database.FormatMB(float64(indexes))

	d.probe(ctx, pool, "table count", qTableCount, &m.TableCount)
	d.probe(ctx, pool, "activity", qActivity, &m.ActiveConnections)

	var maxConns string
	d.probe(ctx, pool, "max connections", qMaxConns, &maxConns)
	m.MaxConnections, _ = strconv.ParseInt(maxConns, 10, 64)

	d.probe(ctx, pool, "cache hit ratio", qCacheHit, &m.CacheHitRatio)

	if top, err := topQueries(ctx, pool); err != nil {
		d.log.Debugf("metrics probe top queries failed: %v", err)
	} else {
		m.TopQueries = top
	}

	return m, nil
}

func (d *Driver) probe(ctx context.Context, pool Pool, name, q string, dest any) {
	if err := pool.QueryRow(ctx, q).Scan(dest); err != nil {
		d.log.Debugf("metrics probe %s failed: %v", name, err)
	}
}

func topQueries(ctx context.Context, pool Pool) ([]database.TopQuery, error) {
	rows, err := pool.Query(ctx, qTopQueries)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]database.TopQuery, 0)
	for rows.Next() {
		var q database.TopQuery
		if err := rows.Scan(&q.PID, &q.User, &q.State, &q.Duration, &q.Query); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}
