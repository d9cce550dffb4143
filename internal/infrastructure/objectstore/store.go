// Package objectstore wraps the S3-compatible object store holding the
// uploaded document bytes.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/anders-planck/parseur/internal/core"
)

const (
	// multipartThreshold switches uploads to multipart above 5 MiB.
	multipartThreshold = 5 * 1024 * 1024

	// DefaultSignedURLTTL is the lifetime of presigned read URLs.
	DefaultSignedURLTTL = 15 * time.Minute
)

// Config holds object store connection settings.
type Config struct {
	Endpoint       string `mapstructure:"endpoint"`
	Region         string `mapstructure:"region"`
	Bucket         string `mapstructure:"bucket"`
	AccessKey      string `mapstructure:"access_key"`
	SecretKey      string `mapstructure:"secret_key"`
	UseSSL         bool   `mapstructure:"use_ssl"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
}

// Store is the object store adapter. Safe for concurrent use; one instance
// is shared process-wide.
type Store struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// New connects to the object store and ensures the bucket exists.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	}
	if cfg.ForcePathStyle {
		opts.BucketLookup = minio.BucketLookupPath
	}

	client, err := minio.New(cfg.Endpoint, opts)
	if err != nil {
		return nil, core.NewError(core.KindStorage, "connect object store", err)
	}

	s := &Store{
		client: client,
		bucket: cfg.Bucket,
		logger: logger.With("component", "objectstore", "bucket", cfg.Bucket),
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, core.NewError(core.KindStorage, "check bucket", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, core.NewError(core.KindStorage, "create bucket", err)
		}
		s.logger.Info("bucket created")
	}
	return s, nil
}

// Bucket returns the configured bucket name.
func (s *Store) Bucket() string { return s.bucket }

// Upload stores the document bytes under key. Large payloads go multipart.
func (s *Store) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	opts := minio.PutObjectOptions{ContentType: contentType}
	if len(data) > multipartThreshold {
		opts.PartSize = multipartThreshold
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), opts)
	if err != nil {
		return core.NewError(core.KindStorage, fmt.Sprintf("upload %s", key), err)
	}
	s.logger.Debug("object uploaded", "key", key, "size", len(data))
	return nil
}

// Download fetches the full object payload.
func (s *Store) Download(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, core.NewError(core.KindStorage, fmt.Sprintf("get %s", key), err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, core.NewError(core.KindStorage, fmt.Sprintf("read %s", key), err)
	}
	return data, nil
}

// Delete removes the object. Used best-effort on archive.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return core.NewError(core.KindStorage, fmt.Sprintf("delete %s", key), err)
	}
	return nil
}

// SignedURL returns a presigned GET URL. Zero ttl uses the default.
func (s *Store) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultSignedURLTTL
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, url.Values{})
	if err != nil {
		return "", core.NewError(core.KindStorage, fmt.Sprintf("presign %s", key), err)
	}
	return u.String(), nil
}

// Health verifies the bucket is reachable.
func (s *Store) Health(ctx context.Context) error {
	if _, err := s.client.BucketExists(ctx, s.bucket); err != nil {
		return core.NewError(core.KindStorage, "object store unreachable", err)
	}
	return nil
}

var unsafeKeyChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// BuildKey derives the object key for an upload:
// documents/<userID>/<unixMillis>_<sanitized>.<ext>
func BuildKey(userID, filename string, now time.Time) string {
	ext := strings.ToLower(filepath.Ext(filename))
	stem := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	stem = unsafeKeyChars.ReplaceAllString(stem, "_")
	if stem == "" {
		stem = "document"
	}
	return fmt.Sprintf("documents/%s/%d_%s%s", userID, now.UnixMilli(), stem, ext)
}

// mimeByExtension infers a MIME type when the caller did not provide one.
var mimeByExtension = map[string]string{
	".pdf":  "application/pdf",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
}

// InferMimeType resolves the content type from the filename extension,
// defaulting to application/octet-stream.
func InferMimeType(filename string) string {
	if mt, ok := mimeByExtension[strings.ToLower(filepath.Ext(filename))]; ok {
		return mt
	}
	return "application/octet-stream"
}
