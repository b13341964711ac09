// Package manager owns the live connections of a process, keyed by the
// caller-chosen connection ID.
//
// Each entry carries its own RWMutex. Reads of a driver (Execute,
// GetTableData, UpdateRows, metrics, CancelQuery) share it; operations that
// may tear the driver's session down and reopen it (GetTables, GetSchema,
// SetActiveDatabase) hold it exclusively. The registry lock is only held
// for map access, so unrelated connections never wait on each other.
//
// sync.RWMutex blocks new readers once a writer is waiting. A CancelQuery
// issued while a schema refresh is queued behind a long Execute therefore
// waits for that Execute to finish.
package manager

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/koustreak/querydeck/internal/database"
	"github.com/koustreak/querydeck/internal/errs"
	"github.com/koustreak/querydeck/internal/logger"
	"github.com/koustreak/querydeck/internal/tunnel"
	"golang.org/x/sync/errgroup"
)

// Tunnel is a running SSH forwarder.
type Tunnel interface {
	LocalPort() uint16
	Close() error
}

// TunnelStarter opens a forwarder. The default is tunnel.Start.
type TunnelStarter func(ctx context.Context, opts tunnel.Options, log *logger.Logger) (Tunnel, error)

func startForwarder(ctx context.Context, opts tunnel.Options, log *logger.Logger) (Tunnel, error) {
	f, err := tunnel.Start(ctx, opts, log)
	if err != nil {
		return nil, err
	}
	return f, nil
}

type entry struct {
	mu     sync.RWMutex
	svc    database.Service
	cfg    *database.ConnectionConfig // as supplied, before tunnel rewriting
	tunnel Tunnel                     // nil unless the connection is tunneled
}

// Manager is safe for concurrent use.
type Manager struct {
	factory     database.Factory
	startTunnel TunnelStarter
	log         *logger.Logger

	mu    sync.RWMutex
	conns map[string]*entry
}

// Option configures a Manager.
type Option func(*Manager)

// WithTunnelStarter replaces the SSH forwarder constructor.
func WithTunnelStarter(s TunnelStarter) Option {
	return func(m *Manager) { m.startTunnel = s }
}

// New returns an empty Manager creating drivers through factory.
func New(factory database.Factory, log *logger.Logger, opts ...Option) *Manager {
	if log == nil {
		log = logger.Nop()
	}
	m := &Manager{
		factory:     factory,
		startTunnel: startForwarder,
		log:         log.Component("manager"),
		conns:       make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect opens a connection under id, replacing any existing one. The
// previous session is always disconnected before the new one is
// registered. On failure nothing is registered under id.
func (m *Manager) Connect(ctx context.Context, id string, cfg *database.ConnectionConfig) (string, error) {
	if id == "" {
		return "", errs.New(errs.ErrKindInvalidInput, "connection id is required")
	}
	if cfg == nil {
		return "", errs.New(errs.ErrKindInvalidInput, "connection config is required")
	}
	cfg = cfg.Clone()
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	cfg.ID = id

	_ = m.Disconnect(ctx, id)

	log := m.log.Conn(id, string(cfg.Engine))

	var fwd Tunnel
	working := cfg.Clone()
	if cfg.WantsTunnel() {
		remotePort := uint16(cfg.Port)
		if remotePort == 0 {
			remotePort = uint16(cfg.Engine.DefaultPort())
		}
		t, err := m.startTunnel(ctx, tunnel.OptionsFromConfig(cfg, remotePort), log)
		if err != nil {
			return "", err
		}
		fwd = t
		working.Host = "127.0.0.1"
		working.Port = database.Port(t.LocalPort())
		log.InfoWith("ssh tunnel started", map[string]any{"local_port": t.LocalPort()})
	}

	svc, err := m.factory.Create(cfg.Engine)
	if err != nil {
		m.closeTunnel(id, fwd)
		return "", err
	}

	msg, err := svc.Connect(ctx, working)
	if err != nil {
		m.closeTunnel(id, fwd)
		log.ErrorWith("connect failed", err, nil)
		return "", err
	}

	m.insert(ctx, id, &entry{svc: svc, cfg: cfg, tunnel: fwd})
	log.Info("connected")
	return msg, nil
}

// insert registers e, first disconnecting any entry a racing Connect
// registered in the meantime.
func (m *Manager) insert(ctx context.Context, id string, e *entry) {
	for {
		m.mu.Lock()
		old, ok := m.conns[id]
		if !ok {
			m.conns[id] = e
			m.mu.Unlock()
			return
		}
		delete(m.conns, id)
		m.mu.Unlock()
		m.shutdown(ctx, id, old)
	}
}

// Disconnect closes the connection under id and its tunnel. Unknown IDs
// are not an error.
func (m *Manager) Disconnect(ctx context.Context, id string) error {
	m.mu.Lock()
	e, ok := m.conns[id]
	delete(m.conns, id)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return m.shutdown(ctx, id, e)
}

// shutdown disconnects e and then closes the tunnel it was opened through.
func (m *Manager) shutdown(ctx context.Context, id string, e *entry) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.svc.Disconnect(ctx)
	m.closeTunnel(id, e.tunnel)
	if err != nil {
		m.log.ErrorWith("disconnect failed", err, map[string]any{"conn_id": id})
		return err
	}
	m.log.Conn(id, string(e.cfg.Engine)).Info("disconnected")
	return nil
}

// DisconnectAll closes every connection concurrently.
func (m *Manager) DisconnectAll(ctx context.Context) error {
	var g errgroup.Group
	for _, id := range m.List() {
		g.Go(func() error { return m.Disconnect(ctx, id) })
	}
	return g.Wait()
}

// TestConnection opens and immediately closes a connection for cfg under a
// scratch ID.
func (m *Manager) TestConnection(ctx context.Context, cfg *database.ConnectionConfig) (string, error) {
	id := "test-" + uuid.NewString()
	msg, err := m.Connect(ctx, id, cfg)
	if err != nil {
		return "", err
	}
	_ = m.Disconnect(ctx, id)
	return msg, nil
}

// List returns the live connection IDs in sorted order.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Summaries describes the live connections without their secrets.
func (m *Manager) Summaries() []database.ConnectionSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]database.ConnectionSummary, 0, len(m.conns))
	for _, e := range m.conns {
		out = append(out, e.cfg.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Manager) lookup(id string) (*entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.conns[id]
	if !ok {
		return nil, errs.ConnectionNotFound(id)
	}
	return e, nil
}

// read runs fn holding the entry's shared lock.
func read[T any](m *Manager, id string, fn func(database.Service) (T, error)) (T, error) {
	e, err := m.lookup(id)
	if err != nil {
		var zero T
		return zero, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return fn(e.svc)
}

// write runs fn holding the entry's exclusive lock.
func write[T any](m *Manager, id string, fn func(database.Service) (T, error)) (T, error) {
	e, err := m.lookup(id)
	if err != nil {
		var zero T
		return zero, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.svc)
}

func (m *Manager) Execute(ctx context.Context, id, sql, queryTag string) (*database.QueryResult, error) {
	return read(m, id, func(s database.Service) (*database.QueryResult, error) {
		return s.Execute(ctx, sql, queryTag)
	})
}

func (m *Manager) CancelQuery(ctx context.Context, id, queryTag string) error {
	_, err := read(m, id, func(s database.Service) (struct{}, error) {
		return struct{}{}, s.CancelQuery(ctx, queryTag)
	})
	return err
}

func (m *Manager) GetTables(ctx context.Context, id, dbName string) ([]string, error) {
	return write(m, id, func(s database.Service) ([]string, error) {
		return s.GetTables(ctx, dbName)
	})
}

// GetDatabases lists databases, dropping those named in the connection's
// exclude list.
func (m *Manager) GetDatabases(ctx context.Context, id string) ([]string, error) {
	e, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	dbs, err := read(m, id, func(s database.Service) ([]string, error) {
		return s.GetDatabases(ctx)
	})
	if err != nil {
		return nil, err
	}
	return filterExcluded(dbs, e.cfg.ExcludeList), nil
}

// filterExcluded drops names found in the comma-separated list, ignoring
// case and surrounding space.
func filterExcluded(names []string, excludeList string) []string {
	excluded := make(map[string]struct{})
	for _, name := range strings.Split(excludeList, ",") {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			excluded[name] = struct{}{}
		}
	}
	if len(excluded) == 0 {
		return names
	}

	out := make([]string, 0, len(names))
	for _, name := range names {
		if _, skip := excluded[strings.ToLower(name)]; !skip {
			out = append(out, name)
		}
	}
	return out
}

func (m *Manager) GetSchema(ctx context.Context, id, dbName string) (database.Schema, error) {
	return write(m, id, func(s database.Service) (database.Schema, error) {
		return s.GetSchema(ctx, dbName)
	})
}

func (m *Manager) GetTableData(ctx context.Context, id string, req database.DataRequest) (*database.QueryResult, error) {
	return read(m, id, func(s database.Service) (*database.QueryResult, error) {
		return s.GetTableData(ctx, req)
	})
}

func (m *Manager) GetPrimaryKeys(ctx context.Context, id, table string) ([]string, error) {
	return read(m, id, func(s database.Service) ([]string, error) {
		return s.GetPrimaryKeys(ctx, table)
	})
}

func (m *Manager) UpdateRows(ctx context.Context, id string, updates []database.RowUpdate) (*database.UpdateResult, error) {
	return read(m, id, func(s database.Service) (*database.UpdateResult, error) {
		return s.UpdateRows(ctx, updates)
	})
}

func (m *Manager) SetActiveDatabase(ctx context.Context, id, name string) error {
	_, err := write(m, id, func(s database.Service) (struct{}, error) {
		return struct{}{}, s.SetActiveDatabase(ctx, name)
	})
	return err
}

func (m *Manager) GetDashboardMetrics(ctx context.Context, id string) (*database.DashboardMetrics, error) {
	return read(m, id, func(s database.Service) (*database.DashboardMetrics, error) {
		return s.GetDashboardMetrics(ctx)
	})
}

func (m *Manager) closeTunnel(id string, t Tunnel) {
	if t == nil {
		return
	}
	if err := t.Close(); err != nil {
		m.log.ErrorWith("tunnel close failed", err, map[string]any{"conn_id": id})
	}
}
