package origin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "github.com/kimhsiao/gymnexus/backend/internal/errors"
)

// HTTPFetcher downloads media with GET.
type HTTPFetcher struct {
	Client    *http.Client
	UserAgent string
}

// NewHTTPFetcher creates an HTTPFetcher with the given per-request timeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		Client:    &http.Client{Timeout: timeout},
		UserAgent: "gymnexus-media/1.0",
	}
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrValidation, "invalid media url", err)
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, apperrors.Wrap(apperrors.ErrTransientNetwork, "media request failed", err)
	}
	if resp.StatusCode/100 == 2 {
		return resp.Body, nil
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	return nil, statusErr(resp.StatusCode, rawURL)
}

func statusErr(code int, rawURL string) error {
	msg := fmt.Sprintf("media origin returned %d for %s", code, rawURL)
	switch {
	case code == http.StatusNotFound || code == http.StatusGone:
		return apperrors.New(apperrors.ErrNotFound, msg)
	case code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500:
		return apperrors.New(apperrors.ErrTransientNetwork, msg)
	default:
		return apperrors.New(apperrors.ErrRemoteRejected, msg)
	}
}
