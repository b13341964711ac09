package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/koustreak/querydeck/internal/database"
	"github.com/koustreak/querydeck/internal/errs"
	"github.com/koustreak/querydeck/internal/manager"
	"github.com/spf13/cobra"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "querydeck v%s (%s)\n", Version, GitCommit)
		},
	}
}

func newPingCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that a connection can be opened",
		Long:  `Connects with the selected profile or inline flags, then disconnects again.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.conn.resolve(a.cfg)
			if err != nil {
				return err
			}
			msg, err := a.newManager().TestConnection(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}
}

// readSQL takes the statement from the argument, or from stdin when the
// argument is "-".
func readSQL(cmd *cobra.Command, arg string) (string, error) {
	if arg == "-" {
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", errs.Wrap(errs.ErrKindIO, "failed to read SQL from stdin", err)
		}
		arg = string(b)
	}
	if strings.TrimSpace(arg) == "" {
		return "", errs.New(errs.ErrKindInvalidInput, "empty SQL statement")
	}
	return arg, nil
}

func newQueryCommand(a *app) *cobra.Command {
	var (
		output  string
		queryID string
	)

	cmd := &cobra.Command{
		Use:   "query <sql|->",
		Short: "Run a SQL statement and print the result",
		Example: `  querydeck query -c local-pg "SELECT * FROM users LIMIT 5"
  echo "SELECT 1" | querydeck query --engine mysql --host db -u root -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sql, err := readSQL(cmd, args[0])
			if err != nil {
				return err
			}
			if queryID == "" {
				queryID = database.NewQueryTag()
			}

			return a.withConnection(cmd.Context(), func(m *manager.Manager, id string) error {
				res, err := m.Execute(cmd.Context(), id, sql, queryID)
				if err != nil {
					return err
				}
				if res.Failed() {
					return errs.New(errs.ErrKindQueryFailed, *res.Error)
				}
				return renderResult(cmd.OutOrStdout(), res, output)
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", outputTable, "output format (table|json|csv|sql)")
	cmd.Flags().StringVar(&queryID, "query-id", "", "tag attached to the statement (default: random)")
	return cmd
}

func newDatabasesCommand(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "databases",
		Short: "List databases, honouring the profile's exclude list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withConnection(cmd.Context(), func(m *manager.Manager, id string) error {
				dbs, err := m.GetDatabases(cmd.Context(), id)
				if err != nil {
					return err
				}
				return renderList(cmd.OutOrStdout(), "database", dbs, output)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", outputTable, "output format (table|json)")
	return cmd
}

func newTablesCommand(a *app) *cobra.Command {
	var output, db string
	cmd := &cobra.Command{
		Use:   "tables",
		Short: "List tables of the current or given database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withConnection(cmd.Context(), func(m *manager.Manager, id string) error {
				tables, err := m.GetTables(cmd.Context(), id, db)
				if err != nil {
					return err
				}
				return renderList(cmd.OutOrStdout(), "table", tables, output)
			})
		},
	}
	cmd.Flags().StringVar(&db, "db", "", "database to list (default: the connection's)")
	cmd.Flags().StringVarP(&output, "output", "o", outputTable, "output format (table|json)")
	return cmd
}

func newSchemaCommand(a *app) *cobra.Command {
	var output, db string
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Show every table with its columns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withConnection(cmd.Context(), func(m *manager.Manager, id string) error {
				schema, err := m.GetSchema(cmd.Context(), id, db)
				if err != nil {
					return err
				}
				return renderSchema(cmd.OutOrStdout(), schema, output)
			})
		},
	}
	cmd.Flags().StringVar(&db, "db", "", "database to describe (default: the connection's)")
	cmd.Flags().StringVarP(&output, "output", "o", outputTable, "output format (table|json)")
	return cmd
}

func newPrimaryKeysCommand(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "primary-keys <table>",
		Short: "List the primary key columns of a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withConnection(cmd.Context(), func(m *manager.Manager, id string) error {
				keys, err := m.GetPrimaryKeys(cmd.Context(), id, args[0])
				if err != nil {
					return err
				}
				return renderList(cmd.OutOrStdout(), "column", keys, output)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", outputTable, "output format (table|json)")
	return cmd
}

func newMetricsCommand(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show a server health snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withConnection(cmd.Context(), func(m *manager.Manager, id string) error {
				metrics, err := m.GetDashboardMetrics(cmd.Context(), id)
				if err != nil {
					return err
				}
				return renderMetrics(cmd.OutOrStdout(), metrics, output)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", outputTable, "output format (table|json)")
	return cmd
}
