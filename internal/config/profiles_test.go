package config

import (
	"path/filepath"
	"testing"

	"github.com/koustreak/querydeck/internal/database"
	"github.com/koustreak/querydeck/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadProfiles_Mapping(t *testing.T) {
	path := writeFile(t, "conns.yaml", `
connections:
  - id: local-pg
    type: postgresql
    host: localhost
    port: "5432"
    user: postgres
    database: app
  - id: bastion-mysql
    type: mysql
    host: 10.0.0.5
    port: 3306
    useSsh: true
    sshHost: bastion.example.com
    sshUser: deploy
    sshKeyPath: ~/.ssh/id_ed25519
`)

	p, err := LoadProfiles(path)
	require.NoError(t, err)
	require.Len(t, p, 2)
	assert.Equal(t, []string{"local-pg", "bastion-mysql"}, p.IDs())

	pg, err := p.Find("local-pg")
	require.NoError(t, err)
	assert.Equal(t, database.EnginePostgres, pg.Engine)
	assert.Equal(t, database.Port(5432), pg.Port)

	my, err := p.Find("bastion-mysql")
	require.NoError(t, err)
	assert.True(t, my.WantsTunnel())
	assert.Equal(t, database.Port(0), my.SSHPort)
}

func TestParseProfiles_BareListAndJSON(t *testing.T) {
	p, err := ParseProfiles([]byte(`[{"id":"ch","type":"clickhouse","host":"ch.local","port":"8123"}]`))
	require.NoError(t, err)
	require.Len(t, p, 1)
	assert.Equal(t, database.EngineClickHouse, p[0].Engine)
	assert.Equal(t, database.Port(8123), p[0].Port)
}

func TestParseProfiles_Empty(t *testing.T) {
	p, err := ParseProfiles(nil)
	require.NoError(t, err)
	assert.Empty(t, p)
}

func TestParseProfiles_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
		kind func(error) bool
	}{
		{name: "scalar root", data: `just a string`, kind: func(err error) bool { return errs.KindOf(err) == errs.ErrKindSerialization }},
		{name: "missing id", data: "- type: mysql\n  host: h\n", kind: errs.IsConfig},
		{name: "duplicate id", data: "- {id: a, type: mysql, host: h}\n- {id: a, type: mysql, host: h}\n", kind: errs.IsConfig},
		{name: "unknown engine", data: "- {id: a, type: oracle, host: h}\n", kind: errs.IsConfig},
		{name: "bad port", data: "- {id: a, type: mysql, host: h, port: \"x\"}\n", kind: errs.IsConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseProfiles([]byte(tt.data))
			require.Error(t, err)
			assert.True(t, tt.kind(err), "unexpected error: %v", err)
		})
	}
}

func TestProfiles_FindReturnsCopy(t *testing.T) {
	p := Profiles{{ID: "a", Engine: database.EngineMySQL, Host: "h"}}
	got, err := p.Find("a")
	require.NoError(t, err)
	got.Host = "changed"
	assert.Equal(t, "h", p[0].Host)

	_, err = p.Find("b")
	assert.True(t, errs.IsConnectionNotFound(err))
}

func TestLoadProfiles_MissingFile(t *testing.T) {
	_, err := LoadProfiles(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errs.IsIO(err))
}
