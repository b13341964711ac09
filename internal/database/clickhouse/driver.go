package clickhouse

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/koustreak/querydeck/internal/database"
	"github.com/koustreak/querydeck/internal/errs"
	"github.com/koustreak/querydeck/internal/logger"
)

func init() {
	database.Register(database.EngineClickHouse, func(log *logger.Logger, pool database.PoolSettings) database.Service {
		return New(log, pool)
	})
}

const (
	qProbe = `SELECT 1`

	qTables = `SELECT name FROM system.tables WHERE database = ? ORDER BY name`

	qDatabases = `SELECT name FROM system.databases ORDER BY name`

	qColumns = `
		SELECT table, name
		FROM system.columns
		WHERE database = ?
		ORDER BY table, position`

	qPrimaryKeys = `
		SELECT name
		FROM system.columns
		WHERE database = ?
		  AND table = ?
		  AND is_in_primary_key = 1
		ORDER BY position`
)

// Driver is the ClickHouse implementation of database.Service over the
// HTTP interface. Every statement is a stateless request, so there is no
// server-side session to cancel or switch.
type Driver struct {
	db   *sql.DB
	cfg  *database.ConnectionConfig
	pool database.PoolSettings
	log  *logger.Logger
}

// New returns an unconnected Driver.
func New(log *logger.Logger, pool database.PoolSettings) *Driver {
	if log == nil {
		log = logger.Nop()
	}
	return &Driver{pool: pool, log: log.Component("clickhouse")}
}

// Connect validates the endpoint with a trivial probe query.
func (d *Driver) Connect(ctx context.Context, cfg *database.ConnectionConfig) (string, error) {
	d.cfg = cfg.Clone()

	db := buildPool(cfg, d.pool)

	probeCtx, cancel := context.WithTimeout(ctx, database.WithDefault(d.pool.ConnectTimeout, defaultConnectTimeout))
	defer cancel()

	var one uint8
	if err := db.QueryRowContext(probeCtx, qProbe).Scan(&one); err != nil {
		_ = db.Close()
		return "", mapError(err, "probe failed")
	}

	d.db = db
	return "Connected to ClickHouse", nil
}

// Disconnect releases the HTTP client. Safe to call twice.
func (d *Driver) Disconnect(_ context.Context) error {
	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	if err != nil {
		return mapError(err, "close failed")
	}
	return nil
}

func (d *Driver) conn() (*sql.DB, error) {
	if d.db == nil {
		return nil, errs.NotConnected()
	}
	return d.db, nil
}

// targetDatabase resolves the catalog a metadata call targets.
func (d *Driver) targetDatabase(dbName string) string {
	if dbName != "" {
		return dbName
	}
	if d.cfg != nil && d.cfg.Database != "" {
		return d.cfg.Database
	}
	return defaultDatabase
}

func (d *Driver) Execute(ctx context.Context, sql, queryTag string) (*database.QueryResult, error) {
	db, err := d.conn()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	rows, err := db.QueryContext(ctx, database.TagSQL(sql, queryTag))
	if err != nil {
		return database.FailedResult(mapError(err, "query failed"), time.Since(start)), nil
	}
	columns, data, err := database.ScanSQLRows(rows, coerceValue)
	if err != nil {
		return database.FailedResult(err, time.Since(start)), nil
	}
	return database.NewQueryResult(columns, data, time.Since(start)), nil
}

// CancelQuery is a no-op: the HTTP request that carries a statement is the
// statement's whole lifetime.
func (d *Driver) CancelQuery(_ context.Context, _ string) error {
	_, err := d.conn()
	return err
}

func (d *Driver) GetTables(ctx context.Context, dbName string) ([]string, error) {
	db, err := d.conn()
	if err != nil {
		return nil, err
	}
	tables, err := queryStrings(ctx, db, qTables, d.targetDatabase(dbName))
	if err != nil {
		return nil, mapError(err, "failed to list tables")
	}
	return tables, nil
}

func (d *Driver) GetDatabases(ctx context.Context) ([]string, error) {
	db, err := d.conn()
	if err != nil {
		return nil, err
	}
	dbs, err := queryStrings(ctx, db, qDatabases)
	if err != nil {
		return nil, mapError(err, "failed to list databases")
	}
	return dbs, nil
}

func (d *Driver) GetSchema(ctx context.Context, dbName string) (database.Schema, error) {
	db, err := d.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, qColumns, d.targetDatabase(dbName))
	if err != nil {
		return nil, mapError(err, "failed to fetch columns")
	}
	defer rows.Close()

	schema := make(database.Schema)
	for rows.Next() {
		var table, column string
		if err := rows.Scan(&table, &column); err != nil {
			return nil, mapError(err, "failed to scan column info")
		}
		schema[table] = append(schema[table], column)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "error iterating columns")
	}
	return schema, nil
}

func (d *Driver) GetTableData(ctx context.Context, req database.DataRequest) (*database.QueryResult, error) {
	q, err := database.BuildSelectSQL(req.TableName, req.Limit, req.Offset, database.DoubleQuote, req.Sort...)
	if err != nil {
		return nil, err
	}
	return d.Execute(ctx, q, "")
}

// SetActiveDatabase re-probes the endpoint with the database overwritten.
func (d *Driver) SetActiveDatabase(ctx context.Context, name string) error {
	if d.cfg == nil {
		return errs.New(errs.ErrKindConfig, "no active connection configuration found")
	}
	cfg := d.cfg.Clone()
	cfg.Database = name

	_ = d.Disconnect(ctx)
	d.log.Debugf("switching active database to %s", name)
	_, err := d.Connect(ctx, cfg)
	return err
}

// GetPrimaryKeys returns the sorting-key columns, which ClickHouse reports
// as the primary key. Accepts "table" or "database.table".
func (d *Driver) GetPrimaryKeys(ctx context.Context, table string) ([]string, error) {
	if err := database.ValidateIdentifier(table); err != nil {
		return nil, err
	}
	db, err := d.conn()
	if err != nil {
		return nil, err
	}

	schema := d.targetDatabase("")
	if i := strings.IndexByte(table, '.'); i >= 0 {
		schema, table = table[:i], table[i+1:]
	}

	keys, err := queryStrings(ctx, db, qPrimaryKeys, schema, table)
	if err != nil {
		return nil, mapError(err, "failed to fetch primary keys")
	}
	return keys, nil
}

// UpdateRows is not offered: mutations are asynchronous ALTER TABLE jobs
// with no affected-row count.
func (d *Driver) UpdateRows(_ context.Context, _ []database.RowUpdate) (*database.UpdateResult, error) {
	if _, err := d.conn(); err != nil {
		return nil, err
	}
	return nil, errs.New(errs.ErrKindUnsupported, "updates are not supported for ClickHouse")
}

func queryStrings(ctx context.Context, db *sql.DB, q string, args ...any) ([]string, error) {
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
