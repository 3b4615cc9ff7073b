package origin

import (
	"context"
	"io"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	apperrors "github.com/kimhsiao/gymnexus/backend/internal/errors"
)

// MinIOConfig configures a MinIO origin. Media URLs have the form
// minio://bucket/key.
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint" env:"ENDPOINT"`
	AccessKey string `yaml:"access_key" env:"ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"SECRET_KEY"`
	UseSSL    bool   `yaml:"use_ssl" env:"USE_SSL"`
}

// MinIOFetcher reads objects with minio-go.
type MinIOFetcher struct {
	client *minio.Client
}

// NewMinIOFetcher builds the client for cfg.
func NewMinIOFetcher(cfg MinIOConfig) (*MinIOFetcher, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	return &MinIOFetcher{client: client}, nil
}

// Fetch implements Fetcher.
func (f *MinIOFetcher) Fetch(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	bucket, key, err := bucketKey(rawURL)
	if err != nil {
		return nil, err
	}
	obj, err := f.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, minioErr(err)
	}
	// GetObject is lazy; Stat surfaces missing objects before the
	// caller starts streaming.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, minioErr(err)
	}
	return obj, nil
}

func minioErr(err error) error {
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" || resp.StatusCode == http.StatusNotFound:
		return apperrors.Wrap(apperrors.ErrNotFound, "object not found", err)
	case resp.StatusCode == http.StatusForbidden || resp.Code == "AccessDenied":
		return apperrors.Wrap(apperrors.ErrRemoteRejected, "object access denied", err)
	default:
		return apperrors.Wrap(apperrors.ErrTransientNetwork, "minio get object failed", err)
	}
}
