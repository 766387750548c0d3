package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/jonwraymond/xpersist/store"
)

// MinIOConfig configures a MinIO adapter.
type MinIOConfig struct {
	// Endpoint is the host:port of the server. Required unless Client is set.
	Endpoint string

	// Bucket holds the objects. Required.
	Bucket string

	// AccessKey and SecretKey are static credentials. Required unless
	// Client is set.
	AccessKey string
	SecretKey string

	// Region is passed to the client.
	// Default: "" (server default)
	Region string

	// UseSSL enables TLS.
	UseSSL bool

	// Client, if set, is used instead of constructing one.
	Client *minio.Client
}

func (c *MinIOConfig) validate() error {
	if c.Bucket == "" {
		return errors.New("bucket is required")
	}
	if c.Client != nil {
		return nil
	}
	if c.Endpoint == "" {
		return errors.New("endpoint is required when client is not provided")
	}
	if c.AccessKey == "" || c.SecretKey == "" {
		return errors.New("access and secret keys are required when client is not provided")
	}
	return nil
}

// MinIO adapts a MinIO (or any S3-compatible) bucket to store.ObjectStore.
type MinIO struct {
	client *minio.Client
	bucket string
}

// NewMinIO creates a MinIO adapter.
func NewMinIO(cfg MinIOConfig) (*MinIO, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("objstore: invalid minio config: %w", err)
	}
	client := cfg.Client
	if client == nil {
		var err error
		client, err = minio.New(cfg.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
			Secure: cfg.UseSSL,
			Region: cfg.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("objstore: create minio client: %w", err)
		}
	}
	return &MinIO{client: client, bucket: cfg.Bucket}, nil
}

// translate maps missing keys to store.ErrObjectNotFound.
func (m *MinIO) translate(key string, err error) error {
	if err == nil {
		return nil
	}
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return fmt.Errorf("%w: %s", store.ErrObjectNotFound, key)
	}
	return fmt.Errorf("minio: %w", err)
}

// Put uploads the object.
func (m *MinIO) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	return m.translate(key, err)
}

// Get opens the object. A missing key is detected eagerly via Stat since
// GetObject is lazy.
func (m *MinIO) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, m.translate(key, err)
	}
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, m.translate(key, err)
	}
	return obj, nil
}

// Stat describes the object.
func (m *MinIO) Stat(ctx context.Context, key string) (store.ObjectInfo, error) {
	info, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return store.ObjectInfo{}, m.translate(key, err)
	}
	return store.ObjectInfo{Key: info.Key, Size: info.Size, LastModified: info.LastModified}, nil
}

// Delete removes the object. MinIO reports success for missing keys.
func (m *MinIO) Delete(ctx context.Context, key string) error {
	return m.translate(key, m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}))
}

// List returns objects under prefix.
func (m *MinIO) List(ctx context.Context, prefix string) ([]store.ObjectInfo, error) {
	var out []store.ObjectInfo
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, m.translate(prefix, obj.Err)
		}
		out = append(out, store.ObjectInfo{Key: obj.Key, Size: obj.Size, LastModified: obj.LastModified})
	}
	return out, nil
}

// Ping checks that the bucket exists.
func (m *MinIO) Ping(ctx context.Context) error {
	ok, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("minio: %w", err)
	}
	if !ok {
		return fmt.Errorf("minio: bucket %q does not exist", m.bucket)
	}
	return nil
}

var (
	_ store.ObjectStore = (*MinIO)(nil)
	_ store.Pinger      = (*MinIO)(nil)
)
