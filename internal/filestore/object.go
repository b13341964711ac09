package filestore

import "time"

// ObjectInfo describes an object after it has been written.
type ObjectInfo struct {
	Bucket string `json:"bucket"`

	// Key is the full object path within the bucket (e.g. "exports/q.csv").
	Key string `json:"key"`

	// Size is the byte size of the object.
	Size int64 `json:"bytes"`

	ContentType  string    `json:"contentType,omitempty"`
	ETag         string    `json:"etag,omitempty"`
	LastModified time.Time `json:"lastModified,omitempty"`

	// URL is a time-limited download link, when one was requested.
	URL string `json:"url,omitempty"`
}
