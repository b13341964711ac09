package database

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/koustreak/querydeck/internal/errs"
	"go.yaml.in/yaml/v3"
)

// Engine identifies the database engine behind a connection.
type Engine string

const (
	EngineMySQL      Engine = "mysql"
	EnginePostgres   Engine = "postgres"
	EngineClickHouse Engine = "clickhouse"
)

// Engines lists the closed set of supported engines.
var Engines = []Engine{EngineMySQL, EnginePostgres, EngineClickHouse}

// ParseEngine normalises an engine name, accepting common aliases.
func ParseEngine(s string) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mysql", "mariadb":
		return EngineMySQL, nil
	case "postgres", "postgresql", "pg":
		return EnginePostgres, nil
	case "clickhouse", "ch":
		return EngineClickHouse, nil
	default:
		return "", errs.Newf(errs.ErrKindConfig, "unknown engine %q", s)
	}
}

// Valid reports whether e is one of Engines.
func (e Engine) Valid() bool {
	for _, known := range Engines {
		if e == known {
			return true
		}
	}
	return false
}

// DefaultPort is the port a connection uses when none is configured.
func (e Engine) DefaultPort() Port {
	switch e {
	case EngineMySQL:
		return 3306
	case EnginePostgres:
		return 5432
	case EngineClickHouse:
		return 8123
	}
	return 0
}

// Port is a TCP port that decodes from either a JSON/YAML number or a
// numeric string. An empty string decodes to 0 (unset).
type Port uint16

func parsePort(s string) (Port, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, errs.Wrap(errs.ErrKindConfig, fmt.Sprintf("invalid port %q", s), err)
	}
	return Port(n), nil
}

func (p *Port) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*p = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return errs.Wrap(errs.ErrKindSerialization, "invalid port", err)
		}
		v, err := parsePort(s)
		if err != nil {
			return err
		}
		*p = v
		return nil
	}
	v, err := parsePort(string(data))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

func (p *Port) UnmarshalYAML(node *yaml.Node) error {
	v, err := parsePort(node.Value)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// ConnectionConfig is everything needed to open one connection, optionally
// through an SSH bastion. The JSON shape is the one the UI process sends.
type ConnectionConfig struct {
	ID          string `json:"id" yaml:"id"`
	Engine      Engine `json:"type" yaml:"type"`
	Name        string `json:"name" yaml:"name"`
	Host        string `json:"host" yaml:"host"`
	Port        Port   `json:"port" yaml:"port"`
	User        string `json:"user" yaml:"user"`
	Password    string `json:"password,omitempty" yaml:"password,omitempty"`
	Database    string `json:"database" yaml:"database"`
	ExcludeList string `json:"excludeList,omitempty" yaml:"excludeList,omitempty"`

	UseSSH      bool   `json:"useSsh,omitempty" yaml:"useSsh,omitempty"`
	SSHHost     string `json:"sshHost,omitempty" yaml:"sshHost,omitempty"`
	SSHPort     Port   `json:"sshPort,omitempty" yaml:"sshPort,omitempty"`
	SSHUser     string `json:"sshUser,omitempty" yaml:"sshUser,omitempty"`
	SSHPassword string `json:"sshPassword,omitempty" yaml:"sshPassword,omitempty"`
	SSHKeyPath  string `json:"sshKeyPath,omitempty" yaml:"sshKeyPath,omitempty"`
}

// Validate checks the invariants every driver relies on.
func (c *ConnectionConfig) Validate() error {
	if !c.Engine.Valid() {
		e, err := ParseEngine(string(c.Engine))
		if err != nil {
			return err
		}
		c.Engine = e
	}
	if c.Host == "" {
		return errs.New(errs.ErrKindConfig, "host is required")
	}
	return nil
}

// WantsTunnel reports whether the config asks for SSH forwarding.
func (c *ConnectionConfig) WantsTunnel() bool {
	return c.UseSSH && c.SSHHost != ""
}

// Clone returns a copy that can be rewritten without touching c.
func (c *ConnectionConfig) Clone() *ConnectionConfig {
	cp := *c
	return &cp
}

// Summary drops every secret from the config.
func (c *ConnectionConfig) Summary() ConnectionSummary {
	return ConnectionSummary{
		ID:          c.ID,
		Engine:      c.Engine,
		Name:        c.Name,
		Host:        c.Host,
		Port:        c.Port,
		User:        c.User,
		Database:    c.Database,
		ExcludeList: c.ExcludeList,
		UseSSH:      c.UseSSH,
		SSHHost:     c.SSHHost,
		SSHPort:     c.SSHPort,
		SSHUser:     c.SSHUser,
		SSHKeyPath:  c.SSHKeyPath,
	}
}

// ConnectionSummary is the password-free view of a ConnectionConfig.
type ConnectionSummary struct {
	ID          string `json:"id"`
	Engine      Engine `json:"type"`
	Name        string `json:"name"`
	Host        string `json:"host"`
	Port        Port   `json:"port"`
	User        string `json:"user"`
	Database    string `json:"database"`
	ExcludeList string `json:"excludeList,omitempty"`
	UseSSH      bool   `json:"useSsh,omitempty"`
	SSHHost     string `json:"sshHost,omitempty"`
	SSHPort     Port   `json:"sshPort,omitempty"`
	SSHUser     string `json:"sshUser,omitempty"`
	SSHKeyPath  string `json:"sshKeyPath,omitempty"`
}

// PoolSettings tunes the per-connection pool each driver opens.
type PoolSettings struct {
	MaxConns        int32         `koanf:"max_conns"`
	MinConns        int32         `koanf:"min_conns"`
	MaxConnLifetime time.Duration `koanf:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `koanf:"max_conn_idle_time"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
}

// DefaultPoolSettings returns the settings used when nothing is configured.
// MaxConns of 0 lets each driver pick its own engine default.
func DefaultPoolSettings() PoolSettings {
	return PoolSettings{
		MaxConnLifetime: 30 * time.Minute,
		MaxConnIdleTime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// WithDefault returns val if non-zero, otherwise def.
func WithDefault[T int | int32 | time.Duration](val, def T) T {
	if val == 0 {
		return def
	}
	return val
}
