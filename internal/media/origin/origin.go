// Package origin fetches media from where it is published: plain
// HTTP(S), S3-compatible object stores (AWS S3, Cloudflare R2) and MinIO.
package origin

import (
	"context"
	"io"
	"net/url"
	"strings"

	apperrors "github.com/kimhsiao/gymnexus/backend/internal/errors"
)

// Fetcher retrieves the bytes behind a media URL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (io.ReadCloser, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, rawURL string) (io.ReadCloser, error)

// Fetch implements Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	return f(ctx, rawURL)
}

// Router dispatches on URL scheme.
type Router struct {
	fetchers map[string]Fetcher
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{fetchers: make(map[string]Fetcher)}
}

// Register routes scheme (e.g. "https", "s3") to f.
func (r *Router) Register(scheme string, f Fetcher) {
	r.fetchers[strings.ToLower(scheme)] = f
}

// Schemes lists the registered schemes.
func (r *Router) Schemes() []string {
	out := make([]string, 0, len(r.fetchers))
	for s := range r.fetchers {
		out = append(out, s)
	}
	return out
}

// Fetch implements Fetcher.
func (r *Router) Fetch(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrValidation, "invalid media url", err)
	}
	f, ok := r.fetchers[strings.ToLower(u.Scheme)]
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrValidation, "no origin for scheme %q", u.Scheme)
	}
	return f.Fetch(ctx, rawURL)
}

// bucketKey splits scheme://bucket/key/path.
func bucketKey(rawURL string) (bucket, key string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", apperrors.Wrap(apperrors.ErrValidation, "invalid object url", err)
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", apperrors.Newf(apperrors.ErrValidation, "object url %q needs bucket and key", rawURL)
	}
	return bucket, key, nil
}
