package filestore

import "github.com/koustreak/querydeck/internal/errs"

// Config holds the settings for the object store exports are uploaded to.
type Config struct {
	// Endpoint is the host:port of the storage server.
	// Example: "localhost:9000" for local MinIO.
	Endpoint string `koanf:"endpoint"`

	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`

	// UseSSL controls whether TLS is used for the connection.
	UseSSL bool `koanf:"use_ssl"`

	// Region is used by region-aware backends. Leave empty for MinIO.
	Region string `koanf:"region"`

	// Bucket receives exports unless a request names another.
	Bucket string `koanf:"bucket"`

	// Prefix is prepended to generated object keys.
	Prefix string `koanf:"prefix"`
}

// Enabled reports whether an object store is configured at all.
func (c *Config) Enabled() bool {
	return c != nil && c.Endpoint != ""
}

// Validate checks the fields a client needs.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errs.New(errs.ErrKindConfig, "object store endpoint is required")
	}
	if c.AccessKey == "" || c.SecretKey == "" {
		return errs.New(errs.ErrKindConfig, "object store credentials are required")
	}
	return nil
}

// BucketOr returns bucket, falling back to the configured default.
func (c *Config) BucketOr(bucket string) (string, error) {
	if bucket != "" {
		return bucket, nil
	}
	if c.Bucket != "" {
		return c.Bucket, nil
	}
	return "", errs.New(errs.ErrKindInvalidInput, "no bucket given and no default bucket configured")
}
