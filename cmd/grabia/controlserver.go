package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/godzooka/grab-ia/internal/controller"
)

// serveControl exposes a running engine's Prometheus metrics and a stop
// endpoint on addr, returning once ctx is cancelled. It is optional: a
// job started without --metrics-addr is only stoppable by SIGINT/SIGTERM
// on its own process.
func serveControl(ctx context.Context, addr string, ctrl *controller.Controller, logger interface{ Error(string, ...any) }) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(ctrl.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/stop", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := ctrl.Stop(); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("/limits", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		workers, err := strconv.Atoi(r.URL.Query().Get("workers"))
		if err != nil {
			http.Error(w, "invalid workers", http.StatusBadRequest)
			return
		}
		bandwidth, err := strconv.ParseInt(r.URL.Query().Get("bandwidth_bps"), 10, 64)
		if err != nil {
			http.Error(w, "invalid bandwidth_bps", http.StatusBadRequest)
			return
		}
		ctrl.UpdateLimits(workers, bandwidth)
		w.WriteHeader(http.StatusAccepted)
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("control server stopped", "error", err)
		}
	}()
}

// requestStop posts to a running engine's control endpoint.
func requestStop(addr string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(fmt.Sprintf("http://%s/stop", addr), "", nil)
	if err != nil {
		return fmt.Errorf("stop: request %s: %w", addr, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("stop: %s returned %s", addr, resp.Status)
	}
	return nil
}

// requestLimits posts a new worker/bandwidth ceiling to a running
// engine's control endpoint.
func requestLimits(addr string, workerCeiling int, bandwidthCeilingBps int64) error {
	params := url.Values{
		"workers":       {strconv.Itoa(workerCeiling)},
		"bandwidth_bps": {strconv.FormatInt(bandwidthCeilingBps, 10)},
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(fmt.Sprintf("http://%s/limits?%s", addr, params.Encode()), "", nil)
	if err != nil {
		return fmt.Errorf("limits: request %s: %w", addr, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("limits: %s returned %s", addr, resp.Status)
	}
	return nil
}
