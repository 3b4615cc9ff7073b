package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kimhsiao/gymnexus/backend/internal/models"
)

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 4 << 10

// ListResponse is the body of GET /v1/{table}.
type ListResponse struct {
	Records []models.EntityRecord `json:"records"`
}

// ErrorResponse is the body of a failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HTTPClient speaks JSON over REST:
//
//	GET    /v1/{table}?since={unix millis}
//	POST   /v1/{table}
//	PUT    /v1/{table}/{id}
//	DELETE /v1/{table}/{id}
type HTTPClient struct {
	BaseURL   string
	Token     string
	UserAgent string
	Client    *http.Client
}

// NewHTTPClient creates a client for baseURL.
func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		Token:     token,
		UserAgent: "gymnexus-sync/1.0",
		Client:    &http.Client{Timeout: timeout},
	}
}

// List implements Service.
func (c *HTTPClient) List(ctx context.Context, table models.EntityTable, since time.Time) ([]models.EntityRecord, error) {
	path := "/v1/" + url.PathEscape(string(table))
	if !since.IsZero() {
		path += "?since=" + strconv.FormatInt(models.Millis(since), 10)
	}
	var out ListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	for i, rec := range out.Records {
		if rec.Table == "" {
			out.Records[i].Table = table
		}
	}
	return out.Records, nil
}

// Create implements Service.
func (c *HTTPClient) Create(ctx context.Context, rec models.EntityRecord) error {
	return c.do(ctx, http.MethodPost, "/v1/"+url.PathEscape(string(rec.Table)), rec, nil)
}

// Update implements Service.
func (c *HTTPClient) Update(ctx context.Context, rec models.EntityRecord) error {
	return c.do(ctx, http.MethodPut, recordPath(rec.Table, rec.ID), rec, nil)
}

// Delete implements Service.
func (c *HTTPClient) Delete(ctx context.Context, table models.EntityTable, id string) error {
	return c.do(ctx, http.MethodDelete, recordPath(table, id), nil, nil)
}

func recordPath(table models.EntityTable, id string) string {
	return "/v1/" + url.PathEscape(string(table)) + "/" + url.PathEscape(id)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return &Error{Kind: KindValidation, Message: "encode request", Err: err}
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return &Error{Kind: KindValidation, Message: "build request", Err: err}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return &Error{Kind: KindTransient, Message: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return statusError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Kind: KindTransient, Status: resp.StatusCode, Message: "decode response", Err: err}
	}
	return nil
}

// statusError maps an HTTP failure onto an ErrorKind. Authentication
// failures are transient: credentials can be refreshed without touching
// the queued mutation.
func statusError(resp *http.Response) *Error {
	msg := http.StatusText(resp.StatusCode)
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var er ErrorResponse
	if json.Unmarshal(data, &er) == nil && er.Error != "" {
		msg = er.Error
	}

	kind := KindValidation
	switch code := resp.StatusCode; {
	case code == http.StatusNotFound || code == http.StatusGone:
		kind = KindNotFound
	case code == http.StatusConflict || code == http.StatusPreconditionFailed:
		kind = KindConflict
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests,
		code == http.StatusUnauthorized || code == http.StatusForbidden,
		code >= 500:
		kind = KindTransient
	case code < 400:
		msg = fmt.Sprintf("unexpected redirect: %s", msg)
		kind = KindTransient
	}
	return &Error{Kind: kind, Status: resp.StatusCode, Message: msg}
}
