// Package config loads process configuration for querydeck.
//
// Values are layered in this order, later sources winning:
//
//	defaults < querydeck.yaml < QUERYDECK_* environment variables
//
// Nested keys are separated by a double underscore in the environment, so
// QUERYDECK_SERVER__ADDR sets server.addr and QUERYDECK_POOL__MAX_CONNS
// sets pool.max_conns.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/koustreak/querydeck/internal/database"
	"github.com/koustreak/querydeck/internal/errs"
	"github.com/koustreak/querydeck/internal/filestore"
	"github.com/koustreak/querydeck/internal/logger"
)

// EnvPrefix is the prefix every environment override carries.
const EnvPrefix = "QUERYDECK_"

// Config file names searched for in the working directory.
const (
	FileName    = "querydeck.yaml"
	FileNameAlt = "querydeck.yml"
)

// Defaults for the HTTP server.
const (
	DefaultAddr            = "127.0.0.1:7878"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 5 * time.Minute
	DefaultShutdownTimeout = 10 * time.Second
)

// Config is the full process configuration.
type Config struct {
	Log    logger.Config         `koanf:"log"`
	Server ServerConfig          `koanf:"server"`
	Pool   database.PoolSettings `koanf:"pool"`
	Export filestore.Config      `koanf:"export"`

	// ConnectionsFile points at a profile file, see LoadProfiles.
	ConnectionsFile string `koanf:"connections_file"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// Load reads path (or the first config file found in the working directory
// when path is empty), overlays the environment and applies defaults. A
// missing file is only an error when path was given explicitly.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path == "" {
		path = findConfigFile(".")
	} else if _, err := os.Stat(path); err != nil {
		return nil, errs.Wrap(errs.ErrKindConfig, "config file not found: "+path, err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errs.Wrap(errs.ErrKindConfig, "error reading config file "+path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, errs.Wrap(errs.ErrKindConfig, "failed to load env vars", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errs.Wrap(errs.ErrKindConfig, "unable to decode config", err)
	}
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps QUERYDECK_SERVER__READ_TIMEOUT to server.read_timeout.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	def := logger.DefaultConfig()
	if c.Log.Level == "" {
		c.Log.Level = def.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Format
	}
	if c.Log.TimeFormat == "" {
		c.Log.TimeFormat = def.TimeFormat
	}
	if c.Log.Output == nil {
		c.Log.Output = def.Output
	}

	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	c.Server.ReadTimeout = database.WithDefault(c.Server.ReadTimeout, DefaultReadTimeout)
	c.Server.WriteTimeout = database.WithDefault(c.Server.WriteTimeout, DefaultWriteTimeout)
	c.Server.ShutdownTimeout = database.WithDefault(c.Server.ShutdownTimeout, DefaultShutdownTimeout)

	pool := database.DefaultPoolSettings()
	c.Pool.MaxConnLifetime = database.WithDefault(c.Pool.MaxConnLifetime, pool.MaxConnLifetime)
	c.Pool.MaxConnIdleTime = database.WithDefault(c.Pool.MaxConnIdleTime, pool.MaxConnIdleTime)
	c.Pool.ConnectTimeout = database.WithDefault(c.Pool.ConnectTimeout, pool.ConnectTimeout)
}

// Validate rejects configurations the process cannot start with.
func (c *Config) Validate() error {
	if c.Pool.MaxConns < 0 || c.Pool.MinConns < 0 {
		return errs.New(errs.ErrKindConfig, "pool sizes must not be negative")
	}
	if c.Pool.MaxConns > 0 && c.Pool.MinConns > c.Pool.MaxConns {
		return errs.Newf(errs.ErrKindConfig, "pool.min_conns (%d) exceeds pool.max_conns (%d)", c.Pool.MinConns, c.Pool.MaxConns)
	}
	if c.Export.Enabled() {
		if err := c.Export.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func findConfigFile(dir string) string {
	for _, name := range []string{FileName, FileNameAlt} {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}
