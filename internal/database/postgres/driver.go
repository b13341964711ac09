package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/koustreak/querydeck/internal/database"
	"github.com/koustreak/querydeck/internal/errs"
	"github.com/koustreak/querydeck/internal/logger"
)

func init() {
	database.Register(database.EnginePostgres, func(log *logger.Logger, pool database.PoolSettings) database.Service {
		return New(log, pool)
	})
}

const defaultSchema = "public"

const (
	qTables = `
		SELECT table_name::text
		FROM information_schema.tables
		WHERE table_schema = $1
		ORDER BY table_name`

	qDatabases = `SELECT datname FROM pg_database WHERE datistemplate = false ORDER BY datname`

	qColumns = `
		SELECT table_name::text, column_name::text
		FROM information_schema.columns
		WHERE table_schema = $1
		ORDER BY table_name, ordinal_position`

	qPrimaryKeys = `
		SELECT a.attname::text
		FROM   pg_index i
		JOIN   pg_attribute a ON a.attrelid = i.indrelid
		                     AND a.attnum = ANY(i.indkey)
		WHERE  i.indrelid = $1::regclass
		AND    i.indisprimary
		ORDER BY array_position(i.indkey, a.attnum)`

	qFindTagged = `
		SELECT pid
		FROM pg_stat_activity
		WHERE query LIKE $1
		  AND pid <> pg_backend_pid()`

	qCancel = `SELECT pg_cancel_backend($1)`
)

// Pool is the part of *pgxpool.Pool the driver uses.
type Pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
	Close()
}

// Opener creates a connected Pool for cfg.
type Opener func(ctx context.Context, cfg *database.ConnectionConfig, settings database.PoolSettings) (Pool, error)

// Driver is the PostgreSQL implementation of database.Service backed by
// pgxpool. Concurrent reads are safe; Connect and Disconnect are
// serialised by the caller.
type Driver struct {
	pool     Pool
	open     Opener
	cfg      *database.ConnectionConfig
	settings database.PoolSettings
	log      *logger.Logger
}

// New returns an unconnected Driver.
func New(log *logger.Logger, settings database.PoolSettings) *Driver {
	if log == nil {
		log = logger.Nop()
	}
	return &Driver{open: openPool, settings: settings, log: log.Component("postgres")}
}

// Connect creates the pool and pings it.
func (d *Driver) Connect(ctx context.Context, cfg *database.ConnectionConfig) (string, error) {
	d.cfg = cfg.Clone()

	pool, err := d.open(ctx, cfg, d.settings)
	if err != nil {
		return "", err
	}
	d.pool = pool
	return "Connected to Postgres", nil
}

func openPool(ctx context.Context, cfg *database.ConnectionConfig, settings database.PoolSettings) (Pool, error) {
	pool, err := buildPool(ctx, cfg, settings)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, database.WithDefault(settings.ConnectTimeout, defaultConnTimeout))
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, mapError(err, "ping failed")
	}
	return pool, nil
}

// Disconnect drains the pool. Safe to call when not connected.
func (d *Driver) Disconnect(_ context.Context) error {
	if d.pool != nil {
		d.pool.Close()
		d.pool = nil
	}
	return nil
}

func (d *Driver) conn() (Pool, error) {
	if d.pool == nil {
		return nil, errs.NotConnected()
	}
	return d.pool, nil
}

func (d *Driver) currentDatabase() string {
	if d.cfg == nil {
		return ""
	}
	return d.cfg.Database
}

func (d *Driver) Execute(ctx context.Context, sql, queryTag string) (*database.QueryResult, error) {
	pool, err := d.conn()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	columns, data, err := query(ctx, pool, database.TagSQL(sql, queryTag))
	if err != nil {
		return database.FailedResult(err, time.Since(start)), nil
	}
	return database.NewQueryResult(columns, data, time.Since(start)), nil
}

// query runs q and canonicalises the result. Column names come from the
// field descriptions, so they are reported even for empty results.
func query(ctx context.Context, pool Pool, q string) ([]string, []database.Row, error) {
	rows, err := pool.Query(ctx, q)
	if err != nil {
		return nil, nil, mapError(err, "query failed")
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	tm := typeMap(rows)
	types := typeNames(tm, fields)

	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}

	out := make([]database.Row, 0)
	for rows.Next() {
		values := decodeRow(tm, fields, rows.RawValues())
		row := make(database.Row, len(columns))
		for i, col := range columns {
			row[col] = coerceValue(types[i], values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, mapError(err, "query failed")
	}
	return columns, out, nil
}

// typeMap returns the type map of the connection that produced rows, or the
// default map when rows are not tied to a connection.
func typeMap(rows pgx.Rows) *pgtype.Map {
	if c := rows.Conn(); c != nil {
		return c.TypeMap()
	}
	return pgtype.NewMap()
}

// CancelQuery asks the server to cancel every backend running a statement
// carrying the tag.
func (d *Driver) CancelQuery(ctx context.Context, queryTag string) error {
	pool, err := d.conn()
	if err != nil {
		return err
	}
	if queryTag == "" {
		return nil
	}

	rows, err := pool.Query(ctx, qFindTagged, database.TagPattern(queryTag))
	if err != nil {
		return mapError(err, "failed to look up query")
	}
	pids, err := pgx.CollectRows(rows, pgx.RowTo[int32])
	if err != nil {
		return mapError(err, "failed to look up query")
	}

	for _, pid := range pids {
		var ok bool
		if err := pool.QueryRow(ctx, qCancel, pid).Scan(&ok); err != nil {
			d.log.Debugf("cancel backend %d: %v", pid, err)
		}
	}
	return nil
}

func (d *Driver) switchIfNeeded(ctx context.Context, dbName string) error {
	if dbName == "" || dbName == d.currentDatabase() {
		return nil
	}
	return d.SetActiveDatabase(ctx, dbName)
}

func (d *Driver) GetTables(ctx context.Context, dbName string) ([]string, error) {
	if err := d.switchIfNeeded(ctx, dbName); err != nil {
		return nil, err
	}
	pool, err := d.conn()
	if err != nil {
		return nil, err
	}
	return d.fetchStringList(ctx, pool, "failed to list tables", qTables, defaultSchema)
}

func (d *Driver) GetDatabases(ctx context.Context) ([]string, error) {
	pool, err := d.conn()
	if err != nil {
		return nil, err
	}
	return d.fetchStringList(ctx, pool, "failed to list databases", qDatabases)
}

func (d *Driver) GetSchema(ctx context.Context, dbName string) (database.Schema, error) {
	if err := d.switchIfNeeded(ctx, dbName); err != nil {
		return nil, err
	}
	pool, err := d.conn()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, qColumns, defaultSchema)
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

// SetActiveDatabase reconnects with the database field overwritten.
// Postgres cannot switch catalogs inside a session.
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

// GetPrimaryKeys accepts "table" (resolved in public) or "schema.table".
func (d *Driver) GetPrimaryKeys(ctx context.Context, table string) ([]string, error) {
	if err := database.ValidateIdentifier(table); err != nil {
		return nil, err
	}
	pool, err := d.conn()
	if err != nil {
		return nil, err
	}
	return d.fetchStringList(ctx, pool, "failed to fetch primary keys", qPrimaryKeys, qualifiedName(table))
}

// qualifiedName renders table as a quoted schema-qualified name for a
// regclass cast.
func qualifiedName(table string) string {
	if !strings.Contains(table, ".") {
		table = defaultSchema + "." + table
	}
	return database.DoubleQuote.Quote(table)
}

func (d *Driver) UpdateRows(ctx context.Context, updates []database.RowUpdate) (*database.UpdateResult, error) {
	pool, err := d.conn()
	if err != nil {
		return nil, err
	}
	return database.ApplyUpdates(ctx, updates, database.DoubleQuote, func(ctx context.Context, stmt string) (int64, error) {
		tag, err := pool.Exec(ctx, stmt)
		if err != nil {
			return 0, mapError(err, "update failed")
		}
		return tag.RowsAffected(), nil
	})
}

// fetchStringList is a helper for queries that return a single text column.
func (d *Driver) fetchStringList(ctx context.Context, pool Pool, errMsg, q string, args ...any) ([]string, error) {
	rows, err := pool.Query(ctx, q, args...)
	if err != nil {
		return nil, mapError(err, errMsg)
	}
	list, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, mapError(err, errMsg)
	}
	if list == nil {
		list = []string{}
	}
	return list, nil
}
