package mysql

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/koustreak/querydeck/internal/database"
	"github.com/koustreak/querydeck/internal/errs"
	"github.com/koustreak/querydeck/internal/logger"

	_ "github.com/go-sql-driver/mysql" // register "mysql" driver
)

func init() {
	database.Register(database.EngineMySQL, func(log *logger.Logger, pool database.PoolSettings) database.Service {
		return New(log, pool)
	})
}

const (
	qTables = `
		SELECT CAST(table_name AS CHAR)
		FROM information_schema.tables
		WHERE table_schema = ?
		ORDER BY table_name`

	qDatabases = `SELECT CAST(schema_name AS CHAR) FROM information_schema.schemata ORDER BY schema_name`

	qColumns = `
		SELECT CAST(table_name AS CHAR), CAST(column_name AS CHAR)
		FROM information_schema.columns
		WHERE table_schema = ?
		ORDER BY table_name, ordinal_position`

	qPrimaryKeys = `
		SELECT CAST(column_name AS CHAR)
		FROM information_schema.key_column_usage
		WHERE table_schema    = ?
		  AND table_name      = ?
		  AND constraint_name = 'PRIMARY'
		ORDER BY ordinal_position`

	qFindTagged = `SELECT ID FROM information_schema.PROCESSLIST WHERE INFO LIKE ?`
)

// Driver is the MySQL implementation of database.Service backed by
// database/sql. Connect and Disconnect must not race other calls; the
// manager serialises them.
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
	return &Driver{pool: pool, log: log.Component("mysql")}
}

// Connect opens the pool and pings it. The config is remembered even on
// failure so SetActiveDatabase can retry against it.
func (d *Driver) Connect(ctx context.Context, cfg *database.ConnectionConfig) (string, error) {
	d.cfg = cfg.Clone()

	db, err := buildPool(cfg, d.pool)
	if err != nil {
		return "", err
	}

	pingCtx, cancel := context.WithTimeout(ctx, database.WithDefault(d.pool.ConnectTimeout, defaultConnectTimeout))
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return "", mapError(err, "ping failed")
	}

	d.db = db
	return "Connected to MySQL", nil
}

// Disconnect closes the pool. Calling it on a closed Driver is a no-op.
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

func (d *Driver) currentDatabase() string {
	if d.cfg == nil {
		return ""
	}
	return d.cfg.Database
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

// CancelQuery kills every statement whose text carries the tag. Kill
// failures are ignored; the statement may already have finished.
func (d *Driver) CancelQuery(ctx context.Context, queryTag string) error {
	db, err := d.conn()
	if err != nil {
		return err
	}
	if queryTag == "" {
		return nil
	}

	ids, err := queryUints(ctx, db, qFindTagged, database.TagPattern(queryTag))
	if err != nil {
		return mapError(err, "failed to look up query")
	}
	for _, id := range ids {
		if _, err := db.ExecContext(ctx, "KILL QUERY "+strconv.FormatUint(id, 10)); err != nil {
			d.log.Debugf("kill query %d: %v", id, err)
		}
	}
	return nil
}

// switchIfNeeded reconnects to dbName when it differs from the current one.
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
	db, err := d.conn()
	if err != nil {
		return nil, err
	}

	tables, err := queryStrings(ctx, db, qTables, d.currentDatabase())
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
	if err := d.switchIfNeeded(ctx, dbName); err != nil {
		return nil, err
	}
	db, err := d.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, qColumns, d.currentDatabase())
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
	q, err := database.BuildSelectSQL(req.TableName, req.Limit, req.Offset, database.Backtick, req.Sort...)
	if err != nil {
		return nil, err
	}
	return d.Execute(ctx, q, "")
}

// SetActiveDatabase tears the pool down and reconnects with the database
// field overwritten, rather than issuing USE on one pooled session.
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

// GetPrimaryKeys accepts "table" or "schema.table".
func (d *Driver) GetPrimaryKeys(ctx context.Context, table string) ([]string, error) {
	if err := database.ValidateIdentifier(table); err != nil {
		return nil, err
	}
	db, err := d.conn()
	if err != nil {
		return nil, err
	}

	schema := d.currentDatabase()
	if i := strings.IndexByte(table, '.'); i >= 0 {
		schema, table = table[:i], table[i+1:]
	}

	keys, err := queryStrings(ctx, db, qPrimaryKeys, schema, table)
	if err != nil {
		return nil, mapError(err, "failed to fetch primary keys")
	}
	return keys, nil
}

func (d *Driver) UpdateRows(ctx context.Context, updates []database.RowUpdate) (*database.UpdateResult, error) {
	db, err := d.conn()
	if err != nil {
		return nil, err
	}
	return database.ApplyUpdates(ctx, updates, database.Backtick, func(ctx context.Context, stmt string) (int64, error) {
		res, err := db.ExecContext(ctx, stmt)
		if err != nil {
			return 0, mapError(err, "update failed")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, mapError(err, "update failed")
		}
		return n, nil
	})
}

// --- helpers ---

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

func queryUints(ctx context.Context, db *sql.DB, q string, args ...any) ([]uint64, error) {
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []uint64
	for rows.Next() {
		var n uint64
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
