package database

import "context"

// ExecFunc runs one statement and reports the rows it affected.
type ExecFunc func(ctx context.Context, sql string) (int64, error)

// ApplyUpdates builds and runs each update in order. Entries without
// changes are skipped. The first failure aborts the remaining entries;
// updates already applied are not rolled back.
func ApplyUpdates(ctx context.Context, updates []RowUpdate, style QuoteStyle, exec ExecFunc) (*UpdateResult, error) {
	var affected int64
	for _, u := range updates {
		if len(u.Changes) == 0 {
			continue
		}
		stmt, err := BuildUpdateSQL(u.TableName, u.Changes, u.PrimaryKeys, style)
		if err != nil {
			return nil, err
		}
		n, err := exec(ctx, stmt)
		if err != nil {
			return nil, err
		}
		affected += n
	}
	return &UpdateResult{Success: true, AffectedRows: affected}, nil
}
