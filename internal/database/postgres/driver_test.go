package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/koustreak/querydeck/internal/database"
	"github.com/koustreak/querydeck/internal/errs"
	"github.com/koustreak/querydeck/internal/logger"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherEqual))
	require.NoError(t, err)
	return mock
}

func newMockDriver(t *testing.T) (*Driver, pgxmock.PgxPoolIface) {
	t.Helper()
	mock := newMock(t)
	d := New(logger.Nop(), database.DefaultPoolSettings())
	d.pool = mock
	d.cfg = &database.ConnectionConfig{ID: "c1", Engine: database.EnginePostgres, Host: "db", Database: "shop"}
	return d, mock
}

func textColumn(name string, oid uint32) pgconn.FieldDescription {
	return pgconn.FieldDescription{Name: name, DataTypeOID: oid, Format: pgtype.TextFormatCode}
}

func TestDriver_Connect(t *testing.T) {
	mock := newMock(t)
	var opened *database.ConnectionConfig

	d := New(logger.Nop(), database.DefaultPoolSettings())
	d.open = func(_ context.Context, cfg *database.ConnectionConfig, _ database.PoolSettings) (Pool, error) {
		opened = cfg
		return mock, nil
	}

	msg, err := d.Connect(context.Background(), &database.ConnectionConfig{Engine: database.EnginePostgres, Host: "db", Database: "shop"})
	require.NoError(t, err)
	assert.Equal(t, "Connected to Postgres", msg)
	assert.Equal(t, "shop", opened.Database)

	d.open = func(context.Context, *database.ConnectionConfig, database.PoolSettings) (Pool, error) {
		return nil, errs.New(errs.ErrKindConnectionFailed, "refused")
	}
	_ = d.Disconnect(context.Background())
	_, err = d.Connect(context.Background(), &database.ConnectionConfig{Engine: database.EnginePostgres, Host: "db"})
	assert.True(t, errs.IsConnectionFailed(err))

	_, err = d.Execute(context.Background(), "SELECT 1", "")
	assert.True(t, errs.IsNotConnected(err))
}

func TestDriver_Execute(t *testing.T) {
	d, mock := newMockDriver(t)

	rows := pgxmock.NewRowsWithColumnDefinition(
		textColumn("id", pgtype.Int8OID),
		textColumn("name", pgtype.TextOID),
		textColumn("price", pgtype.NumericOID),
		textColumn("meta", pgtype.JSONBOID),
	).
		AddRow([]byte("7"), []byte("ann"), []byte("12.50"), []byte(`{"n": 9007199254740993}`)).
		AddRow([]byte("9007199254740993"), []byte(nil), []byte(nil), []byte(nil))

	mock.ExpectQuery("/* query_id: q1 */ SELECT id, name, price, meta FROM items").WillReturnRows(rows)

	res, err := d.Execute(context.Background(), "SELECT id, name, price, meta FROM items", "q1")
	require.NoError(t, err)
	require.Nil(t, res.Error)

	assert.Equal(t, []string{"id", "name", "price", "meta"}, res.Columns)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, database.Row{
		"id": int64(7), "name": "ann", "price": "12.50", "meta": map[string]any{"n": "9007199254740993"},
	}, res.Rows[0])
	assert.Equal(t, database.Row{
		"id": "9007199254740993", "name": nil, "price": nil, "meta": nil,
	}, res.Rows[1])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDriver_Execute_EmptyResultKeepsColumns(t *testing.T) {
	d, mock := newMockDriver(t)

	mock.ExpectQuery("SELECT id FROM items WHERE false").
		WillReturnRows(pgxmock.NewRowsWithColumnDefinition(textColumn("id", pgtype.Int4OID)))

	res, err := d.Execute(context.Background(), "SELECT id FROM items WHERE false", "")
	require.NoError(t, err)
	require.Nil(t, res.Error)
	assert.Equal(t, []string{"id"}, res.Columns)
	assert.Equal(t, []database.Row{}, res.Rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDriver_Execute_FoldsQueryError(t *testing.T) {
	d, mock := newMockDriver(t)
	mock.ExpectQuery("SELEC 1").WillReturnError(&pgconn.PgError{Code: "42601", Message: "syntax error at or near \"SELEC\""})

	res, err := d.Execute(context.Background(), "SELEC 1", "")
	require.NoError(t, err)
	require.NotNil(t, res.Error)
	assert.Contains(t, *res.Error, "syntax error")
	assert.Empty(t, res.Columns)
	assert.Empty(t, res.Rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDriver_GetTableData(t *testing.T) {
	d, mock := newMockDriver(t)

	mock.ExpectQuery(`SELECT * FROM "users" ORDER BY "name" ASC LIMIT 5 OFFSET 10`).
		WillReturnRows(pgxmock.NewRowsWithColumnDefinition(textColumn("id", pgtype.Int4OID)).AddRow([]byte("3")))

	res, err := d.GetTableData(context.Background(), database.DataRequest{
		TableName: "users", Limit: 5, Offset: 10,
		Sort: []database.SortItem{{ColID: "name", Sort: "asc"}},
	})
	require.NoError(t, err)
	require.Nil(t, res.Error)
	assert.Equal(t, int64(3), res.Rows[0]["id"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDriver_CancelQuery(t *testing.T) {
	d, mock := newMockDriver(t)

	mock.ExpectQuery(qFindTagged).
		WithArgs("%/* query_id: q1 */%").
		WillReturnRows(pgxmock.NewRows([]string{"pid"}).AddRow(int32(101)).AddRow(int32(102)))
	mock.ExpectQuery(qCancel).WithArgs(int32(101)).
		WillReturnRows(pgxmock.NewRows([]string{"pg_cancel_backend"}).AddRow(true))
	mock.ExpectQuery(qCancel).WithArgs(int32(102)).
		WillReturnError(&pgconn.PgError{Code: "42501", Message: "must be a member of the role"})

	require.NoError(t, d.CancelQuery(context.Background(), "q1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDriver_CancelQuery_NoMatch(t *testing.T) {
	d, mock := newMockDriver(t)

	mock.ExpectQuery(qFindTagged).
		WithArgs("%/* query_id: q2 */%").
		WillReturnRows(pgxmock.NewRows([]string{"pid"}))

	require.NoError(t, d.CancelQuery(context.Background(), "q2"))
	require.NoError(t, d.CancelQuery(context.Background(), ""))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDriver_UpdateRows(t *testing.T) {
	d, mock := newMockDriver(t)

	mock.ExpectExec(`UPDATE "users" SET "name" = 'O''Brien' WHERE "id" = 7`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE "users" SET "active" = false WHERE "tenant" IS NULL`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	res, err := d.UpdateRows(context.Background(), []database.RowUpdate{
		{TableName: "users", PrimaryKeys: map[string]any{"id": 7}, Changes: map[string]any{"name": "O'Brien"}},
		{TableName: "users", PrimaryKeys: map[string]any{"id": 9}, Changes: map[string]any{}},
		{TableName: "users", PrimaryKeys: map[string]any{"tenant": nil}, Changes: map[string]any{"active": false}},
	})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, int64(4), res.AffectedRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDriver_UpdateRows_AbortsOnFailure(t *testing.T) {
	d, mock := newMockDriver(t)

	mock.ExpectExec(`UPDATE "users" SET "name" = 'a' WHERE "id" = 1`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE "users" SET "name" = 'b' WHERE "id" = 2`).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value"})

	_, err := d.UpdateRows(context.Background(), []database.RowUpdate{
		{TableName: "users", PrimaryKeys: map[string]any{"id": 1}, Changes: map[string]any{"name": "a"}},
		{TableName: "users", PrimaryKeys: map[string]any{"id": 2}, Changes: map[string]any{"name": "b"}},
		{TableName: "users", PrimaryKeys: map[string]any{"id": 3}, Changes: map[string]any{"name": "c"}},
	})
	require.Error(t, err)
	assert.True(t, errs.IsQueryFailed(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDriver_Metadata(t *testing.T) {
	d, mock := newMockDriver(t)
	ctx := context.Background()

	mock.ExpectQuery(qTables).WithArgs(defaultSchema).
		WillReturnRows(pgxmock.NewRows([]string{"table_name"}).AddRow("orders").AddRow("users"))
	mock.ExpectQuery(qDatabases).
		WillReturnRows(pgxmock.NewRows([]string{"datname"}).AddRow("postgres").AddRow("shop"))
	mock.ExpectQuery(qColumns).WithArgs(defaultSchema).
		WillReturnRows(pgxmock.NewRows([]string{"table_name", "column_name"}).
			AddRow("orders", "id").AddRow("orders", "total").AddRow("users", "id"))
	mock.ExpectQuery(qPrimaryKeys).WithArgs(`"sales"."orders"`).
		WillReturnRows(pgxmock.NewRows([]string{"attname"}).AddRow("tenant").AddRow("id"))
	mock.ExpectQuery(qTables).WithArgs(defaultSchema).
		WillReturnRows(pgxmock.NewRows([]string{"table_name"}))

	tables, err := d.GetTables(ctx, "shop")
	require.NoError(t, err)
	assert.Equal(t, []string{"orders", "users"}, tables)

	dbs, err := d.GetDatabases(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"postgres", "shop"}, dbs)

	schema, err := d.GetSchema(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, database.Schema{"orders": {"id", "total"}, "users": {"id"}}, schema)

	keys, err := d.GetPrimaryKeys(ctx, "sales.orders")
	require.NoError(t, err)
	assert.Equal(t, []string{"tenant", "id"}, keys)

	tables, err = d.GetTables(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{}, tables)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDriver_GetTables_ReconnectsToOtherDatabase(t *testing.T) {
	d, first := newMockDriver(t)
	first.ExpectClose()

	second := newMock(t)
	second.ExpectQuery(qTables).WithArgs(defaultSchema).
		WillReturnRows(pgxmock.NewRows([]string{"table_name"}).AddRow("events"))

	var opened []string
	d.open = func(_ context.Context, cfg *database.ConnectionConfig, _ database.PoolSettings) (Pool, error) {
		opened = append(opened, cfg.Database)
		return second, nil
	}

	tables, err := d.GetTables(context.Background(), "archive")
	require.NoError(t, err)
	assert.Equal(t, []string{"events"}, tables)
	assert.Equal(t, []string{"archive"}, opened)
	assert.Equal(t, "archive", d.currentDatabase())
	assert.NoError(t, second.ExpectationsWereMet())
}

func TestDriver_GetDashboardMetrics(t *testing.T) {
	d, mock := newMockDriver(t)

	mock.ExpectQuery(qVersion).WillReturnRows(pgxmock.NewRows([]string{"server_version"}).AddRow("16.2"))
	mock.ExpectQuery(qUptime).WillReturnRows(pgxmock.NewRows([]string{"uptime"}).AddRow(int64(7200)))
	mock.ExpectQuery(qDBSize).WillReturnRows(pgxmock.NewRows([]string{"size"}).AddRow(int64(2 * 1024 * 1024)))
	mock.ExpectQuery(qIndexesSize).WillReturnError(&pgconn.PgError{Code: "42501", Message: "permission denied"})
	mock.ExpectQuery(qTableCount).WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(12)))
	mock.ExpectQuery(qActivity).WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(4)))
	mock.ExpectQuery(qMaxConns).WillReturnRows(pgxmock.NewRows([]string{"max_connections"}).AddRow("100"))
	mock.ExpectQuery(qCacheHit).WillReturnError(assert.AnError)
	mock.ExpectQuery(qTopQueries).
		WillReturnRows(pgxmock.NewRows([]string{"pid", "usename", "state", "duration", "query"}).
			AddRow(int64(321), "app", "active", "00:00:05", "SELECT pg_sleep(10)"))

	m, err := d.GetDashboardMetrics(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "16.2", m.Version)
	assert.Equal(t, int64(7200), m.Uptime)
	assert.Equal(t, "2.00 MB", m.DBSize)
	assert.Equal(t, "0.00 MB", m.IndexesSize)
	assert.Equal(t, int64(12), m.TableCount)
	assert.Equal(t, int64(4), m.ActiveConnections)
	assert.Equal(t, int64(100), m.MaxConnections)
	assert.Zero(t, m.CacheHitRatio)
	require.Len(t, m.TopQueries, 1)
	assert.Equal(t, database.TopQuery{PID: 321, User: "app", State: "active", Duration: "00:00:05", Query: "SELECT pg_sleep(10)"}, m.TopQueries[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDriver_GetDashboardMetrics_AllQueriesFail(t *testing.T) {
	d, mock := newMockDriver(t)

	for _, q := range []string{qVersion, qUptime, qDBSize, qIndexesSize, qTableCount, qActivity, qMaxConns, qCacheHit, qTopQueries} {
		mock.ExpectQuery(q).WillReturnError(assert.AnError)
	}

	m, err := d.GetDashboardMetrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, database.NewDashboardMetrics().Version, m.Version)
	assert.Equal(t, "0.00 MB", m.DBSize)
	assert.Empty(t, m.TopQueries)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDriver_Disconnect(t *testing.T) {
	d, mock := newMockDriver(t)
	mock.ExpectClose()

	require.NoError(t, d.Disconnect(context.Background()))
	require.NoError(t, d.Disconnect(context.Background()))

	_, err := d.GetDatabases(context.Background())
	assert.True(t, errs.IsNotConnected(err))
}

func TestDriver_NotConnected(t *testing.T) {
	d := New(logger.Nop(), database.DefaultPoolSettings())
	ctx := context.Background()

	_, err := d.Execute(ctx, "SELECT 1", "")
	assert.True(t, errs.IsNotConnected(err))

	_, err = d.GetTables(ctx, "")
	assert.True(t, errs.IsNotConnected(err))

	_, err = d.GetDashboardMetrics(ctx)
	assert.True(t, errs.IsNotConnected(err))

	assert.True(t, errs.IsNotConnected(d.CancelQuery(ctx, "q")))
	assert.NoError(t, d.Disconnect(ctx))
	assert.NoError(t, d.Disconnect(ctx))
}

func TestDriver_GetPrimaryKeys_ValidatesFirst(t *testing.T) {
	d := New(logger.Nop(), database.DefaultPoolSettings())
	_, err := d.GetPrimaryKeys(context.Background(), "users'; --")
	assert.True(t, errs.IsInvalidIdentifier(err))
}

func TestDriver_GetTableData_InvalidSort(t *testing.T) {
	d := New(logger.Nop(), database.DefaultPoolSettings())
	_, err := d.GetTableData(context.Background(), database.DataRequest{
		TableName: "users", Limit: 5,
		Sort: []database.SortItem{{ColID: "name", Sort: "random()"}},
	})
	assert.True(t, errs.IsInvalidInput(err))
}

func TestDriver_SetActiveDatabase_NoConfig(t *testing.T) {
	d := New(logger.Nop(), database.DefaultPoolSettings())
	assert.True(t, errs.IsConfig(d.SetActiveDatabase(context.Background(), "analytics")))
}

func TestQualifiedName(t *testing.T) {
	assert.Equal(t, `"public"."users"`, qualifiedName("users"))
	assert.Equal(t, `"sales"."orders"`, qualifiedName("sales.orders"))
}

func TestBuildDSN(t *testing.T) {
	dsn := buildDSN(&database.ConnectionConfig{Host: "127.0.0.1", Port: 6543, User: "app", Password: `it's\secret`, Database: "shop"})
	assert.Equal(t, `host='127.0.0.1' port=6543 user='app' dbname='shop' sslmode=prefer password='it\'s\\secret'`, dsn)

	cfg, err := pgx.ParseConfig(dsn)
	require.NoError(t, err)
	assert.Equal(t, `it's\secret`, cfg.Password)
	assert.Equal(t, uint16(6543), cfg.Port)

	dsn = buildDSN(&database.ConnectionConfig{Host: "db", User: "app", Database: "shop"})
	assert.Contains(t, dsn, "port=5432")
	assert.NotContains(t, dsn, "password")
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind errs.ErrKind
	}{
		{name: "syntax", err: &pgconn.PgError{Code: "42601", Message: "syntax error"}, kind: errs.ErrKindQueryFailed},
		{name: "connection class", err: &pgconn.PgError{Code: "08006", Message: "connection failure"}, kind: errs.ErrKindConnectionFailed},
		{name: "auth class", err: &pgconn.PgError{Code: "28P01", Message: "password authentication failed"}, kind: errs.ErrKindConnectionFailed},
		{name: "unknown database", err: &pgconn.PgError{Code: "3D000", Message: "database does not exist"}, kind: errs.ErrKindConnectionFailed},
		{name: "privilege", err: &pgconn.PgError{Code: "42501", Message: "permission denied"}, kind: errs.ErrKindPermissionDenied},
		{name: "canceled statement", err: &pgconn.PgError{Code: "57014", Message: "canceling statement due to user request"}, kind: errs.ErrKindQueryFailed},
		{name: "no rows", err: pgx.ErrNoRows, kind: errs.ErrKindNotFound},
		{name: "deadline", err: fmt.Errorf("q: %w", context.DeadlineExceeded), kind: errs.ErrKindTimeout},
		{name: "network", err: errors.New("dial error"), kind: errs.ErrKindConnectionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapError(tt.err, "op")
			assert.Equal(t, tt.kind, got.Kind)
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestRegistered(t *testing.T) {
	svc, err := database.New(database.EnginePostgres, nil, database.DefaultPoolSettings())
	require.NoError(t, err)
	assert.IsType(t, &Driver{}, svc)
}
