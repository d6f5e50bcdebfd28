// Package httpclient is the shared HTTP transport used by the Manifest
// Resolver and the File Fetcher: a *http.Client tuned for large-file range
// requests, plus the exponential-backoff helper used by both callers'
// retry loops. It classifies responses by raw status code and leaves
// retry policy to its callers, which attach the engine's taxonomy codes.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrRangeNotSupported signals the server answered a ranged request with
// a full 200 and no Content-Range header: treat as a full restart.
var ErrRangeNotSupported = errors.New("httpclient: server does not support range requests")

// Options configures the Client.
type Options struct {
	MaxIdleConnsPerHost int
	Timeout             time.Duration
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{MaxIdleConnsPerHost: 100, Timeout: 30 * time.Second}
}

// RangeResponse is the raw result of a (possibly ranged) GET, left for the
// caller to classify by StatusCode.
type RangeResponse struct {
	Body          io.ReadCloser
	StatusCode    int
	ContentLength int64
	ContentRange  string
	ETag          string
}

// Credentials is attached as an Authorization header to every request
// when set, in the archive's documented format.
type Credentials struct {
	AccessKey string
	SecretKey string
}

// Client wraps *http.Client with a transport tuned for large downloads.
type Client struct {
	http *http.Client
}

// NewClient builds a Client from Options.
func NewClient(opts Options) *Client {
	transport := &http.Transport{
		MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
		MaxIdleConns:        opts.MaxIdleConnsPerHost * 2,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  true, // raw bytes required for digest + range math
	}
	return &Client{http: &http.Client{Transport: transport, Timeout: opts.Timeout}}
}

func (c *Client) authorize(req *http.Request, creds *Credentials) {
	if creds == nil || creds.AccessKey == "" {
		return
	}
	req.Header.Set("Authorization", fmt.Sprintf("LOW %s:%s", creds.AccessKey, creds.SecretKey))
}

// GetRange issues a GET with an inclusive byte range when start > 0, or a
// plain GET otherwise. The caller classifies RangeResponse.StatusCode.
func (c *Client) GetRange(ctx context.Context, url string, start int64, creds *Credentials) (*RangeResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("httpclient: build GET request: %w", err)
	}
	if start > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", start))
	}
	c.authorize(req, creds)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusOK && start > 0 && resp.Header.Get("Content-Range") == "" {
		resp.Body.Close()
		return nil, ErrRangeNotSupported
	}

	return &RangeResponse{
		Body:          resp.Body,
		StatusCode:    resp.StatusCode,
		ContentLength: resp.ContentLength,
		ContentRange:  resp.Header.Get("Content-Range"),
		ETag:          cleanETag(resp.Header.Get("ETag")),
	}, nil
}

// Get performs a plain GET, used by the Manifest Resolver to fetch the
// metadata document.
func (c *Client) Get(ctx context.Context, url string, creds *Credentials) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("httpclient: build GET request: %w", err)
	}
	c.authorize(req, creds)
	return c.http.Do(req)
}

// Backoff computes an exponential backoff duration with 0.5x-1.5x jitter,
// capped at max. attempt is 1-indexed.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	d := base * time.Duration(1<<uint(attempt-1))
	if d > max || d <= 0 {
		d = max
	}
	return time.Duration(float64(d) * (0.5 + rand.Float64()))
}

func cleanETag(etag string) string {
	etag = strings.TrimPrefix(etag, "W/")
	return strings.Trim(etag, `"`)
}

// ParseContentRange parses a "bytes start-end/total" header. total is -1
// when the server reports "*".
func ParseContentRange(header string) (start, end, total int64, err error) {
	header = strings.TrimPrefix(header, "bytes ")
	parts := strings.Split(header, "/")
	if len(parts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range: %s", header)
	}
	rangeParts := strings.Split(parts[0], "-")
	if len(rangeParts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range: %s", header)
	}
	start, err = strconv.ParseInt(rangeParts[0], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid start byte: %w", err)
	}
	end, err = strconv.ParseInt(rangeParts[1], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid end byte: %w", err)
	}
	if parts[1] == "*" {
		total = -1
	} else if total, err = strconv.ParseInt(parts[1], 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid total bytes: %w", err)
	}
	return start, end, total, nil
}
