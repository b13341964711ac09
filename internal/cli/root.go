// Package cli provides the querydeck command-line interface.
package cli

import (
	"context"

	"github.com/koustreak/querydeck/internal/config"
	"github.com/koustreak/querydeck/internal/database"
	"github.com/koustreak/querydeck/internal/logger"
	"github.com/koustreak/querydeck/internal/manager"
	"github.com/spf13/cobra"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
)

// app carries state shared by every command of one invocation.
type app struct {
	cfgFile  string
	logLevel string
	conn     connFlags

	cfg *config.Config
	log *logger.Logger

	// factory overrides the driver registry when set.
	factory database.Factory
}

// NewRootCmd creates the root command with every subcommand attached.
func NewRootCmd() *cobra.Command {
	return newRootCmd(nil)
}

func newRootCmd(factory database.Factory) *cobra.Command {
	a := &app{factory: factory}

	root := &cobra.Command{
		Use:   "querydeck",
		Short: "querydeck - one access layer for MySQL, Postgres and ClickHouse",
		Long: `querydeck connects to MySQL, PostgreSQL and ClickHouse servers, optionally
through an SSH bastion, and runs queries, browses metadata, edits rows and
exports results. "serve" exposes the same operations as JSON over HTTP.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}
			return a.load()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.SetVersionTemplate("{{.Name}} {{.Version}}\n")

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default: ./querydeck.yaml)")
	pf.StringVar(&a.logLevel, "log-level", "", "log level (debug|info|warn|error)")
	a.conn.register(root)

	root.AddCommand(
		newVersionCommand(),
		newServeCommand(a),
		newPingCommand(a),
		newQueryCommand(a),
		newDatabasesCommand(a),
		newTablesCommand(a),
		newSchemaCommand(a),
		newPrimaryKeysCommand(a),
		newMetricsCommand(a),
		newExportCommand(a),
	)

	return root
}

func (a *app) load() error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	a.cfg = cfg
	a.log = logger.New(&cfg.Log)
	logger.SetGlobal(a.log)
	return nil
}

func (a *app) newManager() *manager.Manager {
	f := a.factory
	if f == nil {
		f = database.RegistryFactory{Log: a.log, Pool: a.cfg.Pool}
	}
	return manager.New(f, a.log)
}

// withConnection connects the connection named by the flags, runs fn and
// tears everything down again.
func (a *app) withConnection(ctx context.Context, fn func(m *manager.Manager, id string) error) error {
	cfg, err := a.conn.resolve(a.cfg)
	if err != nil {
		return err
	}

	m := a.newManager()
	defer func() {
		if err := m.DisconnectAll(context.Background()); err != nil {
			a.log.Warnf("disconnect: %v", err)
		}
	}()

	if _, err := m.Connect(ctx, cfg.ID, cfg); err != nil {
		return err
	}
	return fn(m, cfg.ID)
}
