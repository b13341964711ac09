package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/koustreak/querydeck/internal/database"
)

const (
	defaultMaxConns    = 20
	defaultMinConns    = 0
	defaultConnTimeout = 10 * time.Second
	defaultPort        = 5432
	defaultSSLMode     = "prefer"
)

var _ Pool = (*pgxpool.Pool)(nil)

// buildPool creates a pgxpool from the given config
func buildPool(ctx context.Context, cfg *database.ConnectionConfig, pool database.PoolSettings) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(buildDSN(cfg))
	if err != nil {
		return nil, mapError(err, "invalid postgres config")
	}

	poolCfg.MaxConns = database.WithDefault(pool.MaxConns, defaultMaxConns)
	poolCfg.MinConns = database.WithDefault(pool.MinConns, defaultMinConns)
	if pool.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = pool.MaxConnLifetime
	}
	if pool.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = pool.MaxConnIdleTime
	}
	poolCfg.ConnConfig.ConnectTimeout = database.WithDefault(pool.ConnectTimeout, defaultConnTimeout)

	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, mapError(err, "failed to create connection pool")
	}
	return p, nil
}

// buildDSN constructs the keyword/value connection string.
func buildDSN(cfg *database.ConnectionConfig) string {
	port := int(cfg.Port)
	if port == 0 {
		port = defaultPort
	}
	dsn := fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		dsnValue(cfg.Host), port, dsnValue(cfg.User), dsnValue(cfg.Database), defaultSSLMode)
	if cfg.Password != "" {
		dsn += " password=" + dsnValue(cfg.Password)
	}
	return dsn
}

// dsnValue single-quotes v, escaping backslashes and quotes.
func dsnValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}
