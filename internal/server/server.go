// Package server exposes the connection manager as JSON over HTTP.
//
// Every route under /connections/{id} addresses one live connection
// registered with the manager. Errors are rendered as
//
//	{"error": "[kind] message: cause", "kind": "kind"}
//
// with the status code derived from the error kind (see statusFor).
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/koustreak/querydeck/internal/config"
	"github.com/koustreak/querydeck/internal/database"
	"github.com/koustreak/querydeck/internal/errs"
	"github.com/koustreak/querydeck/internal/filestore"
	"github.com/koustreak/querydeck/internal/logger"
	"golang.org/x/sync/errgroup"
)

// Connections is the subset of the manager the HTTP surface drives.
type Connections interface {
	Connect(ctx context.Context, id string, cfg *database.ConnectionConfig) (string, error)
	Disconnect(ctx context.Context, id string) error
	TestConnection(ctx context.Context, cfg *database.ConnectionConfig) (string, error)
	Summaries() []database.ConnectionSummary

	Execute(ctx context.Context, id, sql, queryTag string) (*database.QueryResult, error)
	CancelQuery(ctx context.Context, id, queryTag string) error
	GetTables(ctx context.Context, id, dbName string) ([]string, error)
	GetDatabases(ctx context.Context, id string) ([]string, error)
	GetSchema(ctx context.Context, id, dbName string) (database.Schema, error)
	GetTableData(ctx context.Context, id string, req database.DataRequest) (*database.QueryResult, error)
	GetPrimaryKeys(ctx context.Context, id, table string) ([]string, error)
	UpdateRows(ctx context.Context, id string, updates []database.RowUpdate) (*database.UpdateResult, error)
	SetActiveDatabase(ctx context.Context, id, name string) error
	GetDashboardMetrics(ctx context.Context, id string) (*database.DashboardMetrics, error)
}

// Server serves the operation surface.
type Server struct {
	conns  Connections
	cfg    config.ServerConfig
	store  filestore.Store
	export filestore.Config
	log    *logger.Logger
	router chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithStore enables object-store exports. Without it the export route
// answers 501.
func WithStore(store filestore.Store, cfg filestore.Config) Option {
	return func(s *Server) {
		s.store = store
		s.export = cfg
	}
}

// New builds a Server and its routes.
func New(conns Connections, cfg config.ServerConfig, log *logger.Logger, opts ...Option) *Server {
	if log == nil {
		log = logger.Nop()
	}
	s := &Server{conns: conns, cfg: cfg, log: log.Component("server")}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Recoverer,
		s.requestLogger,
	)

	r.Get("/healthz", s.handleHealth)

	r.Route("/connections", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Post("/test", s.handleTest)

		r.Route("/{id}", func(r chi.Router) {
			r.Post("/connect", s.handleConnect)
			r.Delete("/", s.handleDisconnect)

			r.Post("/query", s.handleQuery)
			r.Post("/cancel", s.handleCancel)
			r.Post("/export", s.handleExport)

			r.Get("/databases", s.handleDatabases)
			r.Put("/active-database", s.handleActiveDatabase)
			r.Get("/tables", s.handleTables)
			r.Get("/tables/{table}/primary-keys", s.handlePrimaryKeys)
			r.Get("/schema", s.handleSchema)
			r.Post("/table-data", s.handleTableData)
			r.Post("/rows", s.handleUpdateRows)
			r.Get("/metrics", s.handleMetrics)
		})
	})

	return r
}

// requestLogger logs every request and hands the logger to handlers
// through the request context.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		reqLog := s.log.With().Str("request_id", middleware.GetReqID(r.Context())).Logger()
		next.ServeHTTP(ww, r.WithContext(reqLog.WithContext(r.Context())))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		reqLog.Request(r.Method, r.URL.Path, status, time.Since(start))
	})
}

// Serve listens on the configured address and blocks until ctx is
// cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return errs.Wrap(errs.ErrKindIO, "failed to listen on "+s.cfg.Addr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener is Serve on an existing listener.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Handler:           s.router,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
	}

	s.log.Infof("listening on http://%s", ln.Addr())

	eg.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errs.Wrap(errs.ErrKindIO, "server error", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), database.WithDefault(s.cfg.ShutdownTimeout, config.DefaultShutdownTimeout))
		defer cancel()

		s.log.Debug("shutting down server")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}
