// Package manifest implements the Manifest Resolver: for each item
// identifier it fetches the archive's metadata document, applies the
// filter pipeline, computes a scheduling priority tier, and returns the
// file records the Controller persists before any fetch begins.
package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/godzooka/grab-ia/internal/backoff"
	"github.com/godzooka/grab-ia/internal/httpclient"
	"github.com/godzooka/grab-ia/internal/model"
)

// Priority tiers mirror the original engine's auto-assigned scheduling
// weight: small/metadata files drain first, large files drain last.
const (
	PrioritySmall    = 10
	PriorityStandard = 50
	PriorityLarge    = 80

	largeFileThreshold = 100 * 1024 * 1024
	smallFileThreshold = 1 * 1024 * 1024
)

// RemoteFile is one file entry from a resolved manifest, after filtering.
type RemoteFile struct {
	Name     string
	Size     int64
	Checksum string
	Priority int
}

// rawManifest is the archive's metadata document shape: a flat list of
// files with size and md5 per entry.
type rawManifest struct {
	Files []rawFile `json:"files"`
}

type rawFile struct {
	Name string `json:"name"`
	Size string `json:"size"`
	MD5  string `json:"md5"`
}

// Resolver fetches and filters manifests for archive items.
type Resolver struct {
	client     *httpclient.Client
	backoff    *backoff.Coordinator
	baseURL    func(identifier string) string
	retryCeil  int
	retryBase  time.Duration
	retryMax   time.Duration
}

// Config configures a Resolver.
type Config struct {
	BaseURL       func(identifier string) string
	RetryCeiling  int
	RetryBase     time.Duration
	RetryMax      time.Duration
}

// New builds a Resolver.
func New(client *httpclient.Client, coord *backoff.Coordinator, cfg Config) *Resolver {
	if cfg.RetryCeiling <= 0 {
		cfg.RetryCeiling = 5
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 2 * time.Second
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 60 * time.Second
	}
	return &Resolver{
		client:    client,
		backoff:   coord,
		baseURL:   cfg.BaseURL,
		retryCeil: cfg.RetryCeiling,
		retryBase: cfg.RetryBase,
		retryMax:  cfg.RetryMax,
	}
}

// Resolve fetches the manifest for one item and returns its filtered file
// list. Transient errors are retried with exponential backoff up to the
// retry ceiling; throttled/overloaded responses trip the shared
// Coordinator and retry after the quiet period.
func (r *Resolver) Resolve(ctx context.Context, identifier string, filter FilterConfig) ([]RemoteFile, error) {
	url := r.baseURL(identifier)

	var lastErr error
	for attempt := 1; attempt <= r.retryCeil; attempt++ {
		if attempt > 1 {
			d := httpclient.Backoff(attempt, r.retryBase, r.retryMax)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(d):
			}
		}
		if err := r.backoff.Wait(ctx); err != nil {
			return nil, err
		}

		files, retryable, err := r.fetchOnce(ctx, url)
		if err == nil {
			return r.filterAndPrioritize(files, filter)
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
	}
	return nil, fmt.Errorf("manifest: resolve %s: exhausted retries: %w", identifier, lastErr)
}

func (r *Resolver) fetchOnce(ctx context.Context, url string) ([]rawFile, bool, error) {
	resp, err := r.client.Get(ctx, url, nil)
	if err != nil {
		return nil, true, model.NewFetchError(model.CodeTransientNet, 0, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		r.backoff.Trip(backoff.ReasonThrottled)
		return nil, true, model.NewFetchError(model.CodeThrottled, resp.StatusCode, fmt.Errorf("throttled"))
	case resp.StatusCode == http.StatusServiceUnavailable:
		r.backoff.Trip(backoff.ReasonOverloaded)
		return nil, true, model.NewFetchError(model.CodeOverloaded, resp.StatusCode, fmt.Errorf("overloaded"))
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, model.NewFetchError(model.CodeNotFound, resp.StatusCode, fmt.Errorf("item not found"))
	case resp.StatusCode >= 500:
		return nil, true, model.NewFetchError(model.CodeTransientNet, resp.StatusCode, fmt.Errorf("server error"))
	case resp.StatusCode != http.StatusOK:
		return nil, false, model.NewFetchError(model.CodeFatal, resp.StatusCode, fmt.Errorf("unexpected status"))
	}

	var m rawManifest
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, true, model.NewFetchError(model.CodeTransientNet, 0, fmt.Errorf("decode manifest: %w", err))
	}
	return m.Files, false, nil
}

func (r *Resolver) filterAndPrioritize(raw []rawFile, filter FilterConfig) ([]RemoteFile, error) {
	remote := make([]RemoteFile, 0, len(raw))
	for _, f := range raw {
		remote = append(remote, RemoteFile{Name: f.Name, Size: parseSize(f.Size), Checksum: f.MD5})
	}
	filtered, err := Apply(filter, remote)
	if err != nil {
		return nil, err
	}
	for i := range filtered {
		filtered[i].Priority = priorityFor(filtered[i])
	}
	return filtered, nil
}

func priorityFor(f RemoteFile) int {
	return PriorityForSize(f.Size)
}

// PriorityForSize computes the scheduling priority tier for a file of the
// given size, exported so the Controller can recompute it for files
// rebuilt from the State Store on resume (where only size survives).
func PriorityForSize(size int64) int {
	switch {
	case size > 0 && size <= smallFileThreshold:
		return PrioritySmall
	case size > largeFileThreshold:
		return PriorityLarge
	default:
		return PriorityStandard
	}
}

func parseSize(s string) int64 {
	var n int64
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0
	}
	return n
}
