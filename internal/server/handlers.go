package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/koustreak/querydeck/internal/database"
	"github.com/koustreak/querydeck/internal/errs"
	"github.com/koustreak/querydeck/internal/export"
)

type queryRequest struct {
	SQL     string `json:"sql"`
	QueryID string `json:"queryId,omitempty"`
}

type queryResponse struct {
	*database.QueryResult
	QueryID string `json:"queryId"`
}

type cancelRequest struct {
	QueryID string `json:"queryId"`
}

type activeDatabaseRequest struct {
	Name string `json:"name"`
}

type exportRequest struct {
	SQL    string `json:"sql"`
	Format string `json:"format"`
	Bucket string `json:"bucket,omitempty"`
	Key    string `json:"key,omitempty"`
}

func connID(r *http.Request) string {
	return chi.URLParam(r, "id")
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": len(s.conns.Summaries()),
	})
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.conns.Summaries())
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var cfg database.ConnectionConfig
	if err := decode(w, r, &cfg); err != nil {
		fail(w, r, err)
		return
	}
	cfg.ID = connID(r)

	msg, err := s.conns.Connect(r.Context(), cfg.ID, &cfg)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageBody{Message: msg})
}

func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	var cfg database.ConnectionConfig
	if err := decode(w, r, &cfg); err != nil {
		fail(w, r, err)
		return
	}
	msg, err := s.conns.TestConnection(r.Context(), &cfg)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageBody{Message: msg})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.conns.Disconnect(r.Context(), connID(r)); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}
	if strings.TrimSpace(req.SQL) == "" {
		fail(w, r, errs.New(errs.ErrKindInvalidInput, "sql is required"))
		return
	}
	if req.QueryID == "" {
		req.QueryID = database.NewQueryTag()
	}

	res, err := s.conns.Execute(r.Context(), connID(r), req.SQL, req.QueryID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, queryResponse{QueryResult: res, QueryID: req.QueryID})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}
	if req.QueryID == "" {
		fail(w, r, errs.New(errs.ErrKindInvalidInput, "queryId is required"))
		return
	}
	if err := s.conns.CancelQuery(r.Context(), connID(r), req.QueryID); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDatabases(w http.ResponseWriter, r *http.Request) {
	dbs, err := s.conns.GetDatabases(r.Context(), connID(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dbs)
}

func (s *Server) handleActiveDatabase(w http.ResponseWriter, r *http.Request) {
	var req activeDatabaseRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}
	if req.Name == "" {
		fail(w, r, errs.New(errs.ErrKindInvalidInput, "name is required"))
		return
	}
	if err := s.conns.SetActiveDatabase(r.Context(), connID(r), req.Name); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTables(w http.ResponseWriter, r *http.Request) {
	tables, err := s.conns.GetTables(r.Context(), connID(r), r.URL.Query().Get("db"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tables)
}

func (s *Server) handlePrimaryKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.conns.GetPrimaryKeys(r.Context(), connID(r), chi.URLParam(r, "table"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	schema, err := s.conns.GetSchema(r.Context(), connID(r), r.URL.Query().Get("db"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, schema)
}

func (s *Server) handleTableData(w http.ResponseWriter, r *http.Request) {
	var req database.DataRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}
	res, err := s.conns.GetTableData(r.Context(), connID(r), req)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleUpdateRows(w http.ResponseWriter, r *http.Request) {
	var updates []database.RowUpdate
	if err := decode(w, r, &updates); err != nil {
		fail(w, r, err)
		return
	}
	res, err := s.conns.UpdateRows(r.Context(), connID(r), updates)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := s.conns.GetDashboardMetrics(r.Context(), connID(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// handleExport runs a statement and uploads its result to the object
// store.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		fail(w, r, errs.New(errs.ErrKindUnsupported, "object store is not configured"))
		return
	}

	var req exportRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}
	if strings.TrimSpace(req.SQL) == "" {
		fail(w, r, errs.New(errs.ErrKindInvalidInput, "sql is required"))
		return
	}
	format, err := export.ParseFormat(req.Format)
	if err != nil {
		fail(w, r, err)
		return
	}
	bucket, err := s.export.BucketOr(req.Bucket)
	if err != nil {
		fail(w, r, err)
		return
	}
	key := req.Key
	if key == "" {
		key = export.ObjectKey(s.export.Prefix, format, time.Now())
	}

	res, err := s.conns.Execute(r.Context(), connID(r), req.SQL, database.NewQueryTag())
	if err != nil {
		fail(w, r, err)
		return
	}

	info, err := export.Upload(r.Context(), s.store, bucket, key, res, format)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}
