package export

import (
	"bytes"
	"context"
	"os"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/koustreak/querydeck/internal/database"
	"github.com/koustreak/querydeck/internal/errs"
	"github.com/koustreak/querydeck/internal/filestore"
)

// ToFile writes res to path, replacing any existing file. A partially
// written file is removed.
func ToFile(filePath string, res *database.QueryResult, f Format) error {
	data, err := Encode(res, f)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filePath, data, 0o644); err != nil {
		_ = os.Remove(filePath)
		return errs.Wrap(errs.ErrKindIO, "failed to write export file", err)
	}
	return nil
}

// ObjectKey generates a unique key for an export under prefix.
func ObjectKey(prefix string, f Format, now time.Time) string {
	name := now.UTC().Format("20060102-150405") + "-" + uuid.NewString()[:8] + f.Extension()
	return path.Join(prefix, name)
}

// Upload encodes res and stores it at bucket/key, creating the bucket
// when needed.
func Upload(ctx context.Context, store filestore.Store, bucket, key string, res *database.QueryResult, f Format) (*filestore.ObjectInfo, error) {
	data, err := Encode(res, f)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureBucket(ctx, bucket); err != nil {
		return nil, err
	}
	return store.Put(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), f.ContentType())
}
