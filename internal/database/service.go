// Package database defines the engine-neutral contract every driver
// implements, the data model exchanged with callers, and the helpers the
// drivers share: SQL text building, value canonicalisation and query tags.
//
// Drivers live in sub-packages and register themselves from init:
//
//	import _ "github.com/koustreak/querydeck/internal/database/postgres"
//
//	svc, err := database.New(database.EnginePostgres, log, pool)
package database

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/koustreak/querydeck/internal/errs"
	"github.com/koustreak/querydeck/internal/logger"
)

// Service is the contract one live connection to one engine satisfies.
// An empty string argument means "not given": Execute without a tag,
// GetTables for the current database.
type Service interface {
	// Connect opens the pool described by cfg and returns a short status
	// message. A connected Service must be Disconnected before reuse.
	Connect(ctx context.Context, cfg *ConnectionConfig) (string, error)
	Disconnect(ctx context.Context) error

	// Execute runs arbitrary SQL. Statement failures are reported inside
	// the QueryResult; only a missing pool is returned as an error.
	Execute(ctx context.Context, sql, queryTag string) (*QueryResult, error)
	CancelQuery(ctx context.Context, queryTag string) error

	GetTables(ctx context.Context, dbName string) ([]string, error)
	GetDatabases(ctx context.Context) ([]string, error)
	GetSchema(ctx context.Context, dbName string) (Schema, error)
	GetTableData(ctx context.Context, req DataRequest) (*QueryResult, error)
	SetActiveDatabase(ctx context.Context, name string) error
	GetPrimaryKeys(ctx context.Context, table string) ([]string, error)
	UpdateRows(ctx context.Context, updates []RowUpdate) (*UpdateResult, error)
	GetDashboardMetrics(ctx context.Context) (*DashboardMetrics, error)
}

// Constructor builds an unconnected Service for one engine.
type Constructor func(log *logger.Logger, pool PoolSettings) Service

var (
	registryMu sync.RWMutex
	registry   = make(map[Engine]Constructor)
)

// Register makes a driver available under engine. Drivers call it from
// init; registering the same engine twice panics.
func Register(engine Engine, c Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[engine]; dup {
		panic("database: driver registered twice for " + string(engine))
	}
	registry[engine] = c
}

// Available lists registered engines in sorted order.
func Available() []Engine {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]Engine, 0, len(registry))
	for e := range registry {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// New constructs an unconnected Service for engine.
func New(engine Engine, log *logger.Logger, pool PoolSettings) (Service, error) {
	registryMu.RLock()
	c, ok := registry[engine]
	registryMu.RUnlock()
	if !ok {
		names := make([]string, 0)
		for _, e := range Available() {
			names = append(names, string(e))
		}
		return nil, errs.Newf(errs.ErrKindConfig, "no driver for engine %q (available: %s)",
			engine, strings.Join(names, ", "))
	}
	if log == nil {
		log = logger.Nop()
	}
	return c(log, pool), nil
}

// Factory creates Services. The manager depends on this rather than on the
// registry so tests can substitute fakes.
type Factory interface {
	Create(engine Engine) (Service, error)
}

// RegistryFactory is the Factory backed by registered drivers.
type RegistryFactory struct {
	Log  *logger.Logger
	Pool PoolSettings
}

func (f RegistryFactory) Create(engine Engine) (Service, error) {
	return New(engine, f.Log, f.Pool)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(engine Engine) (Service, error)

func (f FactoryFunc) Create(engine Engine) (Service, error) {
	return f(engine)
}
