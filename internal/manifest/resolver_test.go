package manifest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/godzooka/grab-ia/internal/backoff"
	"github.com/godzooka/grab-ia/internal/httpclient"
)

func newResolver(t *testing.T, base string) *Resolver {
	t.Helper()
	return New(httpclient.NewClient(httpclient.DefaultOptions()), backoff.New(), Config{
		BaseURL:      func(id string) string { return base + "/" + id + "/manifest.json" },
		RetryCeiling: 3,
		RetryBase:    5 * time.Millisecond,
		RetryMax:     20 * time.Millisecond,
	})
}

func TestResolveSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(rawManifest{Files: []rawFile{
			{Name: "book.pdf", Size: "1024", MD5: "abc"},
			{Name: "book_meta.xml", Size: "10", MD5: "def"},
		}})
	}))
	defer server.Close()

	r := newResolver(t, server.URL)
	files, err := r.Resolve(context.Background(), "item1", FilterConfig{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(files) != 1 || files[0].Name != "book.pdf" {
		t.Errorf("expected only book.pdf to survive the default filter, got %+v", files)
	}
	if files[0].Size != 1024 {
		t.Errorf("expected size 1024, got %d", files[0].Size)
	}
}

func TestResolveNotFoundIsTerminal(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	r := newResolver(t, server.URL)
	_, err := r.Resolve(context.Background(), "missing", FilterConfig{})
	if err == nil {
		t.Fatal("expected an error for a missing item")
	}
	if attempts != 1 {
		t.Errorf("expected a 404 not to be retried, got %d attempts", attempts)
	}
}

func TestResolveRetriesOnServerError(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(rawManifest{Files: []rawFile{{Name: "a.pdf", Size: "1", MD5: "x"}}})
	}))
	defer server.Close()

	r := newResolver(t, server.URL)
	files, err := r.Resolve(context.Background(), "item1", FilterConfig{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
	if len(files) != 1 {
		t.Errorf("expected 1 file after retries succeed, got %d", len(files))
	}
}

func TestResolveTripsCoordinatorOnThrottle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	coord := backoff.New()
	r := New(httpclient.NewClient(httpclient.DefaultOptions()), coord, Config{
		BaseURL:      func(id string) string { return server.URL + "/" + id },
		RetryCeiling: 1,
		RetryBase:    time.Millisecond,
		RetryMax:     time.Millisecond,
	})
	_, err := r.Resolve(context.Background(), "item1", FilterConfig{})
	if err == nil {
		t.Fatal("expected an error once the retry ceiling is exhausted")
	}
	if coord.QuietUntil().IsZero() {
		t.Error("expected a 429 response to trip the shared backoff coordinator")
	}
}
