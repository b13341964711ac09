package database

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/koustreak/querydeck/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.yaml.in/yaml/v3"
)

func TestConnectionConfig_PortDecoding(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		port    Port
		sshPort Port
	}{
		{name: "numbers", payload: `{"type":"mysql","host":"h","port":3306,"sshPort":22}`, port: 3306, sshPort: 22},
		{name: "strings", payload: `{"type":"mysql","host":"h","port":"3306","sshPort":"2222"}`, port: 3306, sshPort: 2222},
		{name: "empty ssh port", payload: `{"type":"mysql","host":"h","port":"5432","sshPort":""}`, port: 5432, sshPort: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg ConnectionConfig
			require.NoError(t, json.Unmarshal([]byte(tt.payload), &cfg))
			assert.Equal(t, tt.port, cfg.Port)
			assert.Equal(t, tt.sshPort, cfg.SSHPort)
		})
	}
}

func TestConnectionConfig_PortOutOfRange(t *testing.T) {
	var cfg ConnectionConfig
	err := json.Unmarshal([]byte(`{"port":70000}`), &cfg)
	assert.True(t, errs.IsConfig(err))
}

func TestConnectionConfig_YAMLPort(t *testing.T) {
	var cfg ConnectionConfig
	require.NoError(t, yaml.Unmarshal([]byte("type: postgres\nhost: db\nport: \"5432\"\nsshPort: 22\n"), &cfg))
	assert.Equal(t, Port(5432), cfg.Port)
	assert.Equal(t, Port(22), cfg.SSHPort)
}

func TestConnectionConfig_Validate(t *testing.T) {
	cfg := &ConnectionConfig{Engine: "postgresql", Host: "db"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, EnginePostgres, cfg.Engine)

	assert.True(t, errs.IsConfig((&ConnectionConfig{Engine: "oracle", Host: "db"}).Validate()))
	assert.True(t, errs.IsConfig((&ConnectionConfig{Engine: EngineMySQL}).Validate()))
}

func TestEngine_DefaultPort(t *testing.T) {
	assert.Equal(t, Port(3306), EngineMySQL.DefaultPort())
	assert.Equal(t, Port(5432), EnginePostgres.DefaultPort())
	assert.Equal(t, Port(8123), EngineClickHouse.DefaultPort())
	assert.Zero(t, Engine("oracle").DefaultPort())
}

func TestConnectionConfig_SummaryDropsSecrets(t *testing.T) {
	cfg := &ConnectionConfig{ID: "a", Engine: EngineMySQL, Password: "pw", SSHPassword: "sshpw"}
	b, err := json.Marshal(cfg.Summary())
	require.NoError(t, err)
	assert.NotContains(t, string(b), "pw")
}

func TestQueryResult_JSONShape(t *testing.T) {
	b, err := json.Marshal(NewQueryResult(nil, nil, 1500*time.Microsecond))
	require.NoError(t, err)
	assert.JSONEq(t, `{"rows":[],"columns":[],"error":null,"duration":1.5}`, string(b))

	failed := FailedResult(errors.New("syntax error"), time.Millisecond)
	assert.True(t, failed.Failed())
	assert.Empty(t, failed.Rows)
	assert.Empty(t, failed.Columns)
	assert.Equal(t, "syntax error", *failed.Error)
}
