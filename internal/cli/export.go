package cli

import (
	"fmt"
	"time"

	"github.com/koustreak/querydeck/internal/database"
	"github.com/koustreak/querydeck/internal/errs"
	"github.com/koustreak/querydeck/internal/export"
	"github.com/koustreak/querydeck/internal/filestore"
	"github.com/koustreak/querydeck/internal/filestore/minio"
	"github.com/koustreak/querydeck/internal/manager"
	"github.com/spf13/cobra"
)

type exportFlags struct {
	format string
	out    string
	bucket string
	key    string
}

func newExportCommand(a *app) *cobra.Command {
	var f exportFlags

	cmd := &cobra.Command{
		Use:   "export <sql|->",
		Short: "Export a query result as CSV, JSON or INSERT statements",
		Long: `Runs the statement and writes the result to --out, to an object store
bucket (--bucket, or export.bucket from config), or to stdout.`,
		Example: `  querydeck export -c local-pg -f csv --out users.csv "SELECT * FROM users"
  querydeck export -c local-pg -f json --bucket exports "SELECT * FROM orders"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sql, err := readSQL(cmd, args[0])
			if err != nil {
				return err
			}
			format, err := export.ParseFormat(f.format)
			if err != nil {
				return err
			}

			return a.withConnection(cmd.Context(), func(m *manager.Manager, id string) error {
				res, err := m.Execute(cmd.Context(), id, sql, database.NewQueryTag())
				if err != nil {
					return err
				}
				return a.deliver(cmd, res, format, f)
			})
		},
	}

	cmd.Flags().StringVarP(&f.format, "format", "f", string(export.FormatCSV), "export format (csv|json|sql)")
	cmd.Flags().StringVar(&f.out, "out", "", "write to this file")
	cmd.Flags().StringVar(&f.bucket, "bucket", "", "upload to this object store bucket")
	cmd.Flags().StringVar(&f.key, "key", "", "object key (default: generated)")
	cmd.MarkFlagsMutuallyExclusive("out", "bucket")
	return cmd
}

func (a *app) deliver(cmd *cobra.Command, res *database.QueryResult, format export.Format, f exportFlags) error {
	w := cmd.OutOrStdout()

	if f.out != "" {
		if err := export.ToFile(f.out, res, format); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(w, "exported %d rows to %s\n", len(res.Rows), f.out)
		return nil
	}

	if f.bucket == "" && !a.cfg.Export.Enabled() {
		return export.Write(w, res, format)
	}

	if !a.cfg.Export.Enabled() {
		return errs.New(errs.ErrKindConfig, "no object store configured (set export.endpoint)")
	}
	bucket, err := a.cfg.Export.BucketOr(f.bucket)
	if err != nil {
		return err
	}
	key := f.key
	if key == "" {
		key = export.ObjectKey(a.cfg.Export.Prefix, format, time.Now())
	}

	store, err := minio.New(cmd.Context(), &a.cfg.Export)
	if err != nil {
		return err
	}
	defer store.Close()

	info, err := a.upload(cmd, store, bucket, key, res, format)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w, "exported %d rows (%d bytes) to %s/%s\n", len(res.Rows), info.Size, info.Bucket, info.Key)
	if info.URL != "" {
		_, _ = fmt.Fprintln(w, info.URL)
	}
	return nil
}

// upload stores the export and attaches a download link valid for a day.
func (a *app) upload(cmd *cobra.Command, store filestore.Store, bucket, key string, res *database.QueryResult, format export.Format) (*filestore.ObjectInfo, error) {
	info, err := export.Upload(cmd.Context(), store, bucket, key, res, format)
	if err != nil {
		return nil, err
	}
	url, err := store.PresignGetURL(cmd.Context(), bucket, key, 24*time.Hour)
	if err != nil {
		a.log.Warnf("presign %s/%s: %v", bucket, key, err)
		return info, nil
	}
	info.URL = url
	return info, nil
}
