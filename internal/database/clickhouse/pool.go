package clickhouse

import (
	"database/sql"
	"net"
	"strconv"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/koustreak/querydeck/internal/database"
)

const (
	defaultMaxOpenConns   = 10
	defaultMaxIdleConns   = 2
	defaultConnectTimeout = 10 * time.Second
	defaultPort           = 8123
	defaultDatabase       = "default"
)

// buildOptions maps a connection config onto the HTTP client options.
func buildOptions(cfg *database.ConnectionConfig, pool database.PoolSettings) *ch.Options {
	host := cfg.Host
	if host == "localhost" {
		host = "127.0.0.1"
	}
	port := int(cfg.Port)
	if port == 0 {
		port = defaultPort
	}

	return &ch.Options{
		Protocol: ch.HTTP,
		Addr:     []string{net.JoinHostPort(host, strconv.Itoa(port))},
		Auth: ch.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		DialTimeout:     database.WithDefault(pool.ConnectTimeout, defaultConnectTimeout),
		MaxOpenConns:    database.WithDefault(int(pool.MaxConns), defaultMaxOpenConns),
		MaxIdleConns:    database.WithDefault(int(pool.MinConns), defaultMaxIdleConns),
		ConnMaxLifetime: pool.MaxConnLifetime,
	}
}

// buildPool returns a *sql.DB speaking the HTTP interface. Nothing is
// dialled until the first query.
func buildPool(cfg *database.ConnectionConfig, pool database.PoolSettings) *sql.DB {
	db := ch.OpenDB(buildOptions(cfg, pool))
	db.SetConnMaxIdleTime(pool.MaxConnIdleTime)
	return db
}
