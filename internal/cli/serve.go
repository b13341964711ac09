package cli

import (
	"context"

	"github.com/koustreak/querydeck/internal/filestore/minio"
	"github.com/koustreak/querydeck/internal/manager"
	"github.com/koustreak/querydeck/internal/server"
	"github.com/spf13/cobra"
)

func newServeCommand(a *app) *cobra.Command {
	var (
		addr       string
		preconnect bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the connection manager over HTTP",
		Long: `Starts the JSON-over-HTTP surface. Connections are opened by clients with
POST /connections/{id}/connect, or at startup with --preconnect, which opens
every profile in the connection file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if addr != "" {
				a.cfg.Server.Addr = addr
			}

			m := a.newManager()
			defer func() {
				if err := m.DisconnectAll(context.Background()); err != nil {
					a.log.Warnf("disconnect: %v", err)
				}
			}()

			var opts []server.Option
			if a.cfg.Export.Enabled() {
				store, err := minio.New(ctx, &a.cfg.Export)
				if err != nil {
					return err
				}
				defer store.Close()
				opts = append(opts, server.WithStore(store, a.cfg.Export))
			}

			if preconnect {
				a.preconnect(ctx, m)
			}

			return server.New(m, a.cfg.Server, a.log, opts...).Serve(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: server.addr from config)")
	cmd.Flags().BoolVar(&preconnect, "preconnect", false, "open every saved profile before serving")
	return cmd
}

// preconnect opens every profile. A profile that fails is logged and
// skipped.
func (a *app) preconnect(ctx context.Context, m *manager.Manager) {
	profiles, err := a.conn.profiles(a.cfg)
	if err != nil {
		a.log.Warnf("preconnect: %v", err)
		return
	}
	for i := range profiles {
		p := profiles[i].Clone()
		if _, err := m.Connect(ctx, p.ID, p); err != nil {
			a.log.ErrorWith("preconnect failed", err, map[string]any{"conn_id": p.ID})
			continue
		}
		a.log.Infof("connected %s", p.ID)
	}
}
