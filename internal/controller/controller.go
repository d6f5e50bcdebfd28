// Package controller implements the Job Controller: the top-level state
// machine that sequences resolution then fetching, owns job lifecycle,
// and publishes metrics. It is the public contract every UI/CLI
// collaborator sits above (spec section 6): start, resume, stop, status,
// subscribe(metrics_sink), subscribe(log_sink).
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/godzooka/grab-ia/internal/backoff"
	"github.com/godzooka/grab-ia/internal/credentials"
	"github.com/godzooka/grab-ia/internal/fetcher"
	"github.com/godzooka/grab-ia/internal/httpclient"
	"github.com/godzooka/grab-ia/internal/inputlist"
	"github.com/godzooka/grab-ia/internal/manifest"
	"github.com/godzooka/grab-ia/internal/model"
	"github.com/godzooka/grab-ia/internal/ratelimit"
	"github.com/godzooka/grab-ia/internal/scheduler"
	"github.com/godzooka/grab-ia/internal/store"
)

const stateFileName = "grabia.db"

// EngineConfig is the configuration recognized by the engine, per spec
// section 6.
type EngineConfig struct {
	ItemsPath           string
	OutputRoot          string
	WorkerCeiling        int
	BandwidthCeilingBps  int64
	Sync                 bool
	Dynamic              bool
	MetadataOnly         bool
	NameRegex            string
	ExtensionWhitelist   []string
	AuthPath             string
	ManifestURL          func(identifier string) string
	DownloadBaseURL      func(identifier string) string

	// OnItemResolved is an optional hook a CLI/UI collaborator supplies to
	// act on an item's resolved file list — e.g. writing a README.txt
	// alongside the fetched files. The engine itself never acts on it;
	// nil means no collaborator is attached.
	OnItemResolved func(itemDir, identifier string, files []manifest.RemoteFile)
}

func (c EngineConfig) validate() error {
	if c.ItemsPath == "" {
		return errors.New("controller: items_path is required")
	}
	if c.OutputRoot == "" {
		return errors.New("controller: output_root is required")
	}
	if c.WorkerCeiling < 1 || c.WorkerCeiling > 64 {
		return errors.New("controller: worker_ceiling must be in [1,64]")
	}
	if c.BandwidthCeilingBps < 0 {
		return errors.New("controller: bandwidth_ceiling_bps must be >= 0")
	}
	if c.NameRegex != "" {
		if _, err := regexp.Compile(c.NameRegex); err != nil {
			return fmt.Errorf("controller: invalid name_regex: %w", err)
		}
	}
	return nil
}

// Snapshot is the point-in-time status returned by Status and pushed to
// metric subscribers every second.
type Snapshot struct {
	Total         int
	Done          int
	Failed        int
	InProgress    int
	Pending       int
	Skipped       int
	BytesDone     int64
	Workers       int
	BytesPerSecond float64
	ETASeconds    float64
	QuietUntil    time.Time
	DiskFreeBytes uint64
	At            time.Time
}

// Controller is the engine's public contract implementation.
type Controller struct {
	logger   *slog.Logger
	ring     *ringHandler
	metrics  *metricsSet
	registry *prometheus.Registry

	mu          sync.Mutex
	st          *store.Store
	job         *model.Job
	state       model.JobState
	cancel      context.CancelFunc
	runErr      error
	governor    *ratelimit.Governor
	coord       *backoff.Coordinator
	scheduler   *scheduler.Scheduler
	lastBytes   int64
	lastSampled time.Time
	subs        []chan Snapshot
}

// New builds a Controller with a fresh slog ring-buffered log sink and its
// own Prometheus registry (never the global default, so constructing more
// than one Controller in a process, as tests do, never double-registers
// a metric name).
func New() *Controller {
	ring := newRingHandler(1024, slog.NewTextHandler(os.Stderr, nil))
	logger := slog.New(ring)
	registry := prometheus.NewRegistry()
	return &Controller{
		logger:   logger,
		ring:     ring,
		metrics:  newMetricsSet(registry),
		registry: registry,
		state:    model.JobIdle,
	}
}

// Registry exposes the Controller's private Prometheus registry so a
// collaborator can mount a /metrics endpoint over it.
func (c *Controller) Registry() *prometheus.Registry { return c.registry }

// Start persists a new job and begins resolution and fetching.
func (c *Controller) Start(ctx context.Context, cfg EngineConfig) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	jobID, err := DeriveJobID(cfg.OutputRoot)
	if err != nil {
		return fmt.Errorf("controller: derive job id: %w", err)
	}

	if err := os.MkdirAll(cfg.OutputRoot, 0o755); err != nil {
		return fmt.Errorf("controller: create output root: %w", err)
	}

	st, err := store.Open(ctx, filepath.Join(cfg.OutputRoot, stateFileName))
	if err != nil {
		return fmt.Errorf("controller: open store: %w", err)
	}

	job := &model.Job{
		ID:                  jobID,
		OutputRoot:          cfg.OutputRoot,
		NameRegex:           cfg.NameRegex,
		ExtensionWhitelist:  cfg.ExtensionWhitelist,
		MetadataOnly:        cfg.MetadataOnly,
		WorkerCeiling:       cfg.WorkerCeiling,
		BandwidthCeilingBps: cfg.BandwidthCeilingBps,
		Dynamic:             cfg.Dynamic,
		Sync:                cfg.Sync,
		State:               model.JobResolving,
	}
	if err := st.UpsertJob(ctx, job); err != nil {
		st.Close()
		return fmt.Errorf("controller: persist job: %w", err)
	}

	ids, err := inputlist.Read(cfg.ItemsPath)
	if err != nil {
		st.Close()
		return fmt.Errorf("controller: read items: %w", err)
	}
	for _, id := range ids {
		if _, err := st.UpsertItem(ctx, job.ID, id); err != nil {
			st.Close()
			return fmt.Errorf("controller: register item %s: %w", id, err)
		}
	}

	return c.run(ctx, st, job, cfg, false)
}

// Resume loads persisted state, skips resolution for items already
// resolved, and rebuilds the queue from pending/in-progress files (the
// latter are reclaimed as pending: only a live claim is authoritative).
func (c *Controller) Resume(ctx context.Context, outputRoot string, overrides EngineConfig) error {
	if err := os.MkdirAll(outputRoot, 0o755); err != nil {
		return fmt.Errorf("controller: create output root: %w", err)
	}

	st, err := store.Open(ctx, filepath.Join(outputRoot, stateFileName))
	if err != nil {
		return fmt.Errorf("controller: open store: %w", err)
	}

	job, err := st.LoadJob(ctx, outputRoot)
	if err != nil {
		st.Close()
		return fmt.Errorf("controller: load job: %w", err)
	}
	applyOverrides(job, overrides)
	if err := st.UpsertJob(ctx, job); err != nil {
		st.Close()
		return fmt.Errorf("controller: persist resumed job: %w", err)
	}
	if _, err := st.ReclaimInProgress(ctx, job.ID); err != nil {
		st.Close()
		return fmt.Errorf("controller: reclaim in-progress files: %w", err)
	}

	cfg := overrides
	cfg.OutputRoot = outputRoot
	return c.run(ctx, st, job, cfg, true)
}

func applyOverrides(job *model.Job, o EngineConfig) {
	if o.WorkerCeiling > 0 {
		job.WorkerCeiling = o.WorkerCeiling
	}
	if o.BandwidthCeilingBps > 0 {
		job.BandwidthCeilingBps = o.BandwidthCeilingBps
	}
}

// run wires the Resolver, Scheduler, and metrics publisher under one
// errgroup and cancellation context, and blocks until the job finishes,
// is stopped, or fails fatally.
func (c *Controller) run(ctx context.Context, st *store.Store, job *model.Job, cfg EngineConfig, resuming bool) error {
	runCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.st = st
	c.job = job
	c.cancel = cancel
	c.state = model.JobResolving
	c.governor = ratelimit.New(job.BandwidthCeilingBps)
	c.coord = backoff.New()
	c.mu.Unlock()

	runID := uuid.New().String()
	logger := c.logger.With("job_id", job.ID, "run_id", runID)

	var creds *httpclient.Credentials
	if cfg.AuthPath != "" {
		var err error
		creds, err = credentials.Load(cfg.AuthPath)
		if err != nil {
			cancel()
			st.Close()
			return fmt.Errorf("controller: load credentials: %w", err)
		}
	}

	client := httpclient.NewClient(httpclient.DefaultOptions())
	resolver := manifest.New(client, c.coord, manifest.Config{BaseURL: cfg.ManifestURL})
	fetch := fetcher.New(client, c.governor, c.coord, st, creds, 5)

	sched := scheduler.New(job, fetch, scheduler.Config{
		WorkerCeiling: job.WorkerCeiling,
		Dynamic:       job.Dynamic,
	})
	c.mu.Lock()
	c.scheduler = sched
	c.mu.Unlock()

	filter := manifest.FilterConfig{
		MetadataOnly:       job.MetadataOnly,
		ExtensionWhitelist: job.ExtensionWhitelist,
		NameRegex:          job.NameRegex,
	}

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return c.resolve(gctx, st, job, resolver, sched, filter, cfg, resuming, logger) })
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error { return c.publishMetrics(gctx, st, job, sched) })

	err := g.Wait()
	cancel()

	c.mu.Lock()
	c.state = model.JobFinalizing
	c.mu.Unlock()
	if serr := st.SetJobState(context.Background(), job.ID, model.JobFinalizing); serr != nil {
		logger.Error("persist finalizing state", "error", serr)
	}

	c.mu.Lock()
	c.state = model.JobStopped
	c.runErr = err
	c.mu.Unlock()
	if serr := st.SetJobState(context.Background(), job.ID, model.JobStopped); serr != nil {
		logger.Error("persist stopped state", "error", serr)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("job ended with error", "error", err)
		return err
	}
	logger.Info("job finished")
	return nil
}

// resolve enumerates items, applies the filter pipeline, persists file
// rows, and feeds the Scheduler's queue as each item resolves.
func (c *Controller) resolve(ctx context.Context, st *store.Store, job *model.Job, resolver *manifest.Resolver, sched *scheduler.Scheduler, filter manifest.FilterConfig, cfg EngineConfig, resuming bool, logger *slog.Logger) error {
	defer sched.DoneResolving()

	if resuming {
		// Rebuild the queue from files already resolved in a prior run
		// (including those just reclaimed from in-progress to pending).
		files, err := st.ListQueueable(ctx, job.ID)
		if err != nil {
			return fmt.Errorf("resolve: list queueable: %w", err)
		}
		for _, qf := range files {
			url := cfg.DownloadBaseURL(qf.Identifier) + "/" + qf.File.RemoteName
			sched.Enqueue(qf.File.ID, manifest.PriorityForSize(qf.File.RemoteSize), url)
		}
	}

	items, err := st.ListItems(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("resolve: list items: %w", err)
	}

	for _, item := range items {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if item.Status == model.ItemResolved && resuming {
			continue
		}

		if err := st.SetItemStatus(ctx, item.ID, model.ItemResolving, ""); err != nil {
			return fmt.Errorf("resolve: mark resolving: %w", err)
		}

		files, err := resolver.Resolve(ctx, item.Identifier, filter)
		if err != nil {
			logger.Warn("item resolution failed", "item", item.Identifier, "error", err)
			if serr := st.SetItemStatus(ctx, item.ID, model.ItemFailed, err.Error()); serr != nil {
				return fmt.Errorf("resolve: mark failed: %w", serr)
			}
			continue
		}

		itemDir := filepath.Join(job.OutputRoot, item.Identifier)
		if err := os.MkdirAll(itemDir, 0o755); err != nil {
			return fmt.Errorf("resolve: create item dir %s: %w", item.Identifier, err)
		}
		for _, rf := range files {
			row := fetcher.ToFile(item.ID, itemDir, rf)
			id, err := st.InsertFile(ctx, row)
			if err != nil {
				return fmt.Errorf("resolve: persist file %s: %w", rf.Name, err)
			}
			sched.Enqueue(id, rf.Priority, cfg.DownloadBaseURL(item.Identifier)+"/"+rf.Name)
		}

		if err := st.SetItemStatus(ctx, item.ID, model.ItemResolved, ""); err != nil {
			return fmt.Errorf("resolve: mark resolved: %w", err)
		}
		if cfg.OnItemResolved != nil {
			cfg.OnItemResolved(itemDir, item.Identifier, files)
		}
	}
	return nil
}

// publishMetrics ticks once a second, publishing a Snapshot to every
// metrics subscriber and updating the Prometheus gauges.
func (c *Controller) publishMetrics(ctx context.Context, st *store.Store, job *model.Job, sched *scheduler.Scheduler) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	c.lastSampled = time.Now()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			snap, err := c.snapshot(ctx, st, job, sched)
			if err != nil {
				continue
			}
			c.mu.Lock()
			for _, sub := range c.subs {
				select {
				case sub <- snap:
				default:
				}
			}
			c.mu.Unlock()
			c.metrics.observe(snap, sched.QueueDepth(), sched.ActiveWorkers())
		}
	}
}

func (c *Controller) snapshot(ctx context.Context, st *store.Store, job *model.Job, sched *scheduler.Scheduler) (Snapshot, error) {
	agg, err := st.ProgressSnapshot(ctx, job.ID)
	if err != nil {
		return Snapshot{}, err
	}

	now := time.Now()
	elapsed := now.Sub(c.lastSampled).Seconds()
	if elapsed <= 0 {
		elapsed = 1
	}
	bps := float64(agg.BytesDone-c.lastBytes) / elapsed
	c.lastBytes = agg.BytesDone
	c.lastSampled = now

	var eta float64
	remaining := agg.Total - agg.Done - agg.Failed - agg.Skipped
	if bps > 0 && remaining > 0 {
		eta = float64(remaining) / (bps / averageFileSize(agg))
	}

	workers := 0
	var quietUntil time.Time
	if sched != nil {
		workers = sched.ActiveWorkers()
	}
	if c.coord != nil {
		quietUntil = c.coord.QuietUntil()
	}

	return Snapshot{
		Total:          agg.Total,
		Done:           agg.Done,
		Failed:         agg.Failed,
		InProgress:     agg.InProgress,
		Pending:        agg.Pending,
		Skipped:        agg.Skipped,
		BytesDone:      agg.BytesDone,
		Workers:        workers,
		BytesPerSecond: bps,
		ETASeconds:     eta,
		QuietUntil:     quietUntil,
		DiskFreeBytes:  diskFreeBytes(job.OutputRoot),
		At:             now,
	}, nil
}

// averageFileSize avoids a div-by-zero when estimating ETA from a file
// count rather than remaining bytes (remote sizes are not aggregated
// here; callers with exact byte totals may refine this).
func averageFileSize(agg model.ProgressSnapshot) float64 {
	if agg.Done == 0 {
		return 1
	}
	return float64(agg.BytesDone) / float64(agg.Done)
}

// Stop triggers cancellation and waits for workers to drain via the
// in-flight run() call's errgroup; the caller of Start/Resume observes
// the resulting return.
func (c *Controller) Stop() error {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel == nil {
		return errors.New("controller: no job running")
	}
	cancel()
	return nil
}

// Status loads the current snapshot for outputRoot, usable even when no
// Controller in this process owns the job (a read against the State
// Store alone).
func (c *Controller) Status(ctx context.Context, outputRoot string) (Snapshot, error) {
	st, err := store.Open(ctx, filepath.Join(outputRoot, stateFileName))
	if err != nil {
		return Snapshot{}, fmt.Errorf("controller: open store: %w", err)
	}
	defer st.Close()

	job, err := st.LoadJob(ctx, outputRoot)
	if err != nil {
		return Snapshot{}, fmt.Errorf("controller: load job: %w", err)
	}
	agg, err := st.ProgressSnapshot(ctx, job.ID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("controller: snapshot: %w", err)
	}
	return Snapshot{
		Total: agg.Total, Done: agg.Done, Failed: agg.Failed, InProgress: agg.InProgress,
		Pending: agg.Pending, Skipped: agg.Skipped, BytesDone: agg.BytesDone,
		DiskFreeBytes: diskFreeBytes(outputRoot), At: time.Now(),
	}, nil
}

// SubscribeMetrics returns a channel fed one Snapshot per publish tick.
func (c *Controller) SubscribeMetrics(buffer int) <-chan Snapshot {
	ch := make(chan Snapshot, buffer)
	c.mu.Lock()
	c.subs = append(c.subs, ch)
	c.mu.Unlock()
	return ch
}

// SubscribeLogs returns a channel fed every structured log record the
// engine emits from this point forward.
func (c *Controller) SubscribeLogs(buffer int) <-chan slog.Record {
	return c.ring.Subscribe(buffer)
}

// UpdateLimits changes the worker ceiling and bandwidth ceiling of the
// currently running job, taking effect immediately: the rate governor's
// token bucket is resized in place, and the scheduler spawns or retires
// workers toward the new ceiling on its next dispatch.
func (c *Controller) UpdateLimits(workerCeiling int, bandwidthCeilingBps int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.governor != nil && bandwidthCeilingBps >= 0 {
		c.governor.SetRate(bandwidthCeilingBps)
	}
	if c.job != nil && workerCeiling > 0 {
		c.job.WorkerCeiling = workerCeiling
	}
	if c.scheduler != nil && workerCeiling > 0 {
		c.scheduler.SetCeiling(workerCeiling)
	}
}

// Logger exposes the engine's structured logger for collaborators that
// want to attach their own handler in front of it.
func (c *Controller) Logger() *slog.Logger { return c.logger }
