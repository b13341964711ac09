package mysql

import (
	"database/sql"
	"net"
	"strconv"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/koustreak/querydeck/internal/database"
)

const (
	defaultMaxOpenConns   = 5
	defaultMaxIdleConns   = 2
	defaultConnectTimeout = 10 * time.Second
	defaultPort           = 3306
)

// buildPool configures and returns a *sql.DB with pool settings
func buildPool(cfg *database.ConnectionConfig, pool database.PoolSettings) (*sql.DB, error) {
	db, err := sql.Open("mysql", buildDSN(cfg, pool))
	if err != nil {
		return nil, mapError(err, "invalid DSN")
	}

	db.SetMaxOpenConns(database.WithDefault(int(pool.MaxConns), defaultMaxOpenConns))
	db.SetMaxIdleConns(database.WithDefault(int(pool.MinConns), defaultMaxIdleConns))
	db.SetConnMaxLifetime(pool.MaxConnLifetime)
	db.SetConnMaxIdleTime(pool.MaxConnIdleTime)

	return db, nil
}

// buildDSN constructs the MySQL DSN string. Going through the driver's
// Config keeps credentials with special characters intact.
func buildDSN(cfg *database.ConnectionConfig, pool database.PoolSettings) string {
	port := int(cfg.Port)
	if port == 0 {
		port = defaultPort
	}

	c := gomysql.NewConfig()
	c.User = cfg.User
	c.Passwd = cfg.Password
	c.Net = "tcp"
	c.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(port))
	c.DBName = cfg.Database
	c.ParseTime = true
	c.Loc = time.UTC
	c.Timeout = database.WithDefault(pool.ConnectTimeout, defaultConnectTimeout)
	return c.FormatDSN()
}
