package origin

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	apperrors "github.com/kimhsiao/gymnexus/backend/internal/errors"
)

// S3 providers.
const (
	ProviderAWS    = "aws"
	ProviderR2     = "r2"
	ProviderCustom = "custom"
)

// S3Config configures an S3-compatible origin. Media URLs have the form
// s3://bucket/key.
type S3Config struct {
	Provider        string `yaml:"provider" env:"PROVIDER"`
	Region          string `yaml:"region" env:"REGION"`
	Endpoint        string `yaml:"endpoint" env:"ENDPOINT"`
	AccountID       string `yaml:"account_id" env:"ACCOUNT_ID"`
	AccessKeyID     string `yaml:"access_key_id" env:"ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" env:"SECRET_ACCESS_KEY"`
	UsePathStyle    bool   `yaml:"use_path_style" env:"USE_PATH_STYLE"`
}

// resolve fills provider presets: AWS uses the regional endpoint chosen
// by the SDK, R2 an account endpoint with region "auto".
func (c S3Config) resolve() (S3Config, error) {
	switch c.Provider {
	case "", ProviderAWS:
		c.Provider = ProviderAWS
		if c.Region == "" {
			c.Region = "us-east-1"
		}
	case ProviderR2:
		if c.AccountID == "" && c.Endpoint == "" {
			return c, fmt.Errorf("r2 origin requires account_id")
		}
		if c.Endpoint == "" {
			c.Endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", c.AccountID)
		}
		c.Region = "auto"
	case ProviderCustom:
		if c.Endpoint == "" {
			return c, fmt.Errorf("custom s3 origin requires endpoint")
		}
		if c.Region == "" {
			c.Region = "us-east-1"
		}
	default:
		return c, fmt.Errorf("unknown s3 provider %q", c.Provider)
	}
	return c, nil
}

// S3Fetcher reads objects with the AWS SDK.
type S3Fetcher struct {
	client *s3.Client
}

// NewS3Fetcher builds the SDK client for cfg.
func NewS3Fetcher(ctx context.Context, cfg S3Config) (*S3Fetcher, error) {
	cfg, err := cfg.resolve()
	if err != nil {
		return nil, err
	}

	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(cfg.Region))
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = cfg.UsePathStyle
		})
	}
	return &S3Fetcher{client: s3.NewFromConfig(awsCfg, s3Opts...)}, nil
}

// Fetch implements Fetcher.
func (f *S3Fetcher) Fetch(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	bucket, key, err := bucketKey(rawURL)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		var noBucket *types.NoSuchBucket
		if errors.As(err, &noKey) || errors.As(err, &noBucket) {
			return nil, apperrors.Wrap(apperrors.ErrNotFound, "object not found", err)
		}
		return nil, apperrors.Wrap(apperrors.ErrTransientNetwork, "S3 get object failed", err)
	}
	return resp.Body, nil
}
