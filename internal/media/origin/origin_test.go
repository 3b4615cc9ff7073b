package origin

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"

	apperrors "github.com/kimhsiao/gymnexus/backend/internal/errors"
)

// =====================================================
// Router Tests
// =====================================================

func TestRouter(t *testing.T) {
	r := NewRouter()
	r.Register("HTTPS", FetcherFunc(func(ctx context.Context, u string) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader("https:" + u)), nil
	}))

	rc, err := r.Fetch(context.Background(), "https://cdn.example.com/a.png")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	body, _ := io.ReadAll(rc)
	if string(body) != "https:https://cdn.example.com/a.png" {
		t.Errorf("body = %q", body)
	}

	if _, err := r.Fetch(context.Background(), "ftp://x/y"); !apperrors.Is(err, apperrors.ErrValidation) {
		t.Errorf("Fetch(ftp) error = %v, want VALIDATION_ERROR", err)
	}
	if _, err := r.Fetch(context.Background(), "::bad"); !apperrors.Is(err, apperrors.ErrValidation) {
		t.Errorf("Fetch(bad url) error = %v, want VALIDATION_ERROR", err)
	}
}

func TestBucketKey(t *testing.T) {
	tests := []struct {
		url     string
		bucket  string
		key     string
		wantErr bool
	}{
		{"s3://media/exercises/squat.png", "media", "exercises/squat.png", false},
		{"minio://b/k", "b", "k", false},
		{"s3://media/", "", "", true},
		{"s3:///key", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			bucket, key, err := bucketKey(tt.url)
			if (err != nil) != tt.wantErr {
				t.Fatalf("bucketKey() error = %v, wantErr %v", err, tt.wantErr)
			}
			if bucket != tt.bucket || key != tt.key {
				t.Errorf("bucketKey() = %q, %q, want %q, %q", bucket, key, tt.bucket, tt.key)
			}
		})
	}
}

// =====================================================
// HTTP Tests
// =====================================================

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.png":
			if r.Header.Get("User-Agent") == "" {
				t.Error("missing User-Agent")
			}
			w.Write([]byte("png-bytes"))
		case "/gone.png":
			w.WriteHeader(http.StatusGone)
		case "/busy.png":
			w.WriteHeader(http.StatusServiceUnavailable)
		case "/throttled.png":
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			w.WriteHeader(http.StatusForbidden)
		}
	}))
	defer srv.Close()

	f := NewHTTPFetcher(5 * time.Second)
	ctx := context.Background()

	rc, err := f.Fetch(ctx, srv.URL+"/ok.png")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	body, _ := io.ReadAll(rc)
	rc.Close()
	if string(body) != "png-bytes" {
		t.Errorf("body = %q", body)
	}

	tests := []struct {
		path string
		code apperrors.ErrorCode
	}{
		{"/gone.png", apperrors.ErrNotFound},
		{"/busy.png", apperrors.ErrTransientNetwork},
		{"/throttled.png", apperrors.ErrTransientNetwork},
		{"/private.png", apperrors.ErrRemoteRejected},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			_, err := f.Fetch(ctx, srv.URL+tt.path)
			if !apperrors.Is(err, tt.code) {
				t.Errorf("Fetch(%s) error = %v, want %s", tt.path, err, tt.code)
			}
		})
	}

	srv.Close()
	if _, err := f.Fetch(ctx, srv.URL+"/ok.png"); !apperrors.Is(err, apperrors.ErrTransientNetwork) {
		t.Errorf("Fetch(closed server) error = %v, want TRANSIENT_NETWORK", err)
	}
}

// =====================================================
// S3 Tests
// =====================================================

func TestS3Config_Resolve(t *testing.T) {
	aws, err := S3Config{}.resolve()
	if err != nil || aws.Provider != ProviderAWS || aws.Region != "us-east-1" {
		t.Errorf("aws default = %+v, %v", aws, err)
	}

	r2, err := S3Config{Provider: ProviderR2, AccountID: "abc123"}.resolve()
	if err != nil {
		t.Fatalf("r2 resolve error = %v", err)
	}
	if r2.Endpoint != "https://abc123.r2.cloudflarestorage.com" || r2.Region != "auto" {
		t.Errorf("r2 = %+v", r2)
	}

	if _, err := (S3Config{Provider: ProviderR2}).resolve(); err == nil {
		t.Error("r2 without account should fail")
	}
	if _, err := (S3Config{Provider: ProviderCustom}).resolve(); err == nil {
		t.Error("custom without endpoint should fail")
	}
	if _, err := (S3Config{Provider: "gcs"}).resolve(); err == nil {
		t.Error("unknown provider should fail")
	}
}

func TestS3Fetcher_PathStyleEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/media/exercises/squat.png":
			w.Header().Set("Content-Type", "image/png")
			w.Write([]byte("object-bytes"))
		default:
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`))
		}
	}))
	defer srv.Close()

	f, err := NewS3Fetcher(context.Background(), S3Config{
		Provider:        ProviderCustom,
		Endpoint:        srv.URL,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		UsePathStyle:    true,
	})
	if err != nil {
		t.Fatalf("NewS3Fetcher() error = %v", err)
	}

	rc, err := f.Fetch(context.Background(), "s3://media/exercises/squat.png")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	body, _ := io.ReadAll(rc)
	rc.Close()
	if string(body) != "object-bytes" {
		t.Errorf("body = %q", body)
	}

	if _, err := f.Fetch(context.Background(), "s3://media/missing.png"); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Fetch(missing) error = %v, want NOT_FOUND", err)
	}
}

// =====================================================
// MinIO Tests
// =====================================================

func TestMinioErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code apperrors.ErrorCode
	}{
		{"no such key", minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404}, apperrors.ErrNotFound},
		{"denied", minio.ErrorResponse{Code: "AccessDenied", StatusCode: 403}, apperrors.ErrRemoteRejected},
		{"server", minio.ErrorResponse{Code: "InternalError", StatusCode: 500}, apperrors.ErrTransientNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := minioErr(tt.err); !apperrors.Is(got, tt.code) {
				t.Errorf("minioErr() = %v, want %s", got, tt.code)
			}
		})
	}
}

func TestNewMinIOFetcher(t *testing.T) {
	if _, err := NewMinIOFetcher(MinIOConfig{Endpoint: "localhost:9000", AccessKey: "k", SecretKey: "s"}); err != nil {
		t.Errorf("NewMinIOFetcher() error = %v", err)
	}
	if _, err := NewMinIOFetcher(MinIOConfig{Endpoint: "http://bad/endpoint"}); err == nil {
		t.Error("endpoint with scheme and path should be rejected")
	}
}
