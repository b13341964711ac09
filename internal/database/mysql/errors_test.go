package mysql

import (
	"context"
	"errors"
	"fmt"
	"testing"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/koustreak/querydeck/internal/database"
	"github.com/koustreak/querydeck/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind errs.ErrKind
	}{
		{name: "access denied", err: &gomysql.MySQLError{Number: 1045, Message: "Access denied"}, kind: errs.ErrKindConnectionFailed},
		{name: "unknown database", err: &gomysql.MySQLError{Number: 1049, Message: "Unknown database"}, kind: errs.ErrKindConnectionFailed},
		{name: "table access", err: &gomysql.MySQLError{Number: 1142, Message: "SELECT command denied"}, kind: errs.ErrKindPermissionDenied},
		{name: "syntax", err: &gomysql.MySQLError{Number: 1064, Message: "syntax"}, kind: errs.ErrKindQueryFailed},
		{name: "statement timeout", err: &gomysql.MySQLError{Number: 3024, Message: "max_execution_time"}, kind: errs.ErrKindTimeout},
		{name: "deadline", err: fmt.Errorf("wrapped: %w", context.DeadlineExceeded), kind: errs.ErrKindTimeout},
		{name: "network", err: errors.New("dial tcp: connection refused"), kind: errs.ErrKindConnectionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapError(tt.err, "op")
			assert.Equal(t, tt.kind, got.Kind)
			assert.ErrorIs(t, got, tt.err)
		})
	}

	assert.Nil(t, mapError(nil, "op"))
}

func TestBuildDSN(t *testing.T) {
	dsn := buildDSN(&database.ConnectionConfig{
		Host: "db.local", User: "root", Password: "p@ss:word", Database: "shop",
	}, database.DefaultPoolSettings())

	assert.Contains(t, dsn, "tcp(db.local:3306)/shop")
	assert.Contains(t, dsn, "parseTime=true")

	parsed, err := gomysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "p@ss:word", parsed.Passwd)
	assert.Equal(t, "root", parsed.User)
}
