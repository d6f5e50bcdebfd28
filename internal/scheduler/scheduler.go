// Package scheduler implements the Worker Pool / Scheduler: a bounded
// concurrent execution set over a priority queue of files, with a dynamic
// scaling policy that grows the pool on sustained success and shrinks it
// on any failure or backoff trip.
package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"sync"

	"github.com/godzooka/grab-ia/internal/fetcher"
	"github.com/godzooka/grab-ia/internal/model"
)

// Scheduler owns the work queue and the live set of fetch workers.
type Scheduler struct {
	fetcher   *fetcher.Fetcher
	onOutcome func(fetcher.Outcome)
	job       *model.Job

	mu        sync.Mutex
	cond      *sync.Cond
	queue     priorityQueue
	seq       int64
	closed    bool
	resolving bool // true while the Resolver may still enqueue more items

	dynamic       bool
	wMax          int
	wCur          int
	live          int
	successStreak int
	fatalErr      error

	runCtx context.Context
	wg     *sync.WaitGroup
}

// Config configures a Scheduler.
type Config struct {
	WorkerCeiling int  // W_max
	Dynamic       bool // if false, W_cur starts (and stays) at W_max
	OnOutcome     func(fetcher.Outcome)
}

// New builds a Scheduler for job, serving it for the Scheduler's entire
// lifetime. Resolving starts true: the Controller clears it once the
// Resolver has enumerated every item.
func New(job *model.Job, f *fetcher.Fetcher, cfg Config) *Scheduler {
	wCur := 1
	if !cfg.Dynamic {
		wCur = cfg.WorkerCeiling
	}
	s := &Scheduler{
		job:       job,
		fetcher:   f,
		onOutcome: cfg.OnOutcome,
		dynamic:   cfg.Dynamic,
		wMax:      cfg.WorkerCeiling,
		wCur:      wCur,
		resolving: true,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Enqueue adds a file to the queue. Safe to call concurrently with Run.
func (s *Scheduler) Enqueue(fileID int64, priority int, sourceURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.seq++
	heap.Push(&s.queue, &workItem{fileID: fileID, priority: priority, sourceURL: sourceURL, seq: s.seq})
	s.cond.Signal()
}

// DoneResolving tells the Scheduler no more items will ever be enqueued;
// once the queue drains, workers exit cleanly instead of blocking.
func (s *Scheduler) DoneResolving() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolving = false
	s.cond.Broadcast()
}

// QueueDepth reports the current number of queued (not yet dispatched)
// work items, for metrics.
func (s *Scheduler) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// ActiveWorkers reports the live worker goroutine count, for metrics.
func (s *Scheduler) ActiveWorkers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// CurrentTarget reports W_cur, for metrics and tests.
func (s *Scheduler) CurrentTarget() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wCur
}

// SetCeiling updates W_max at runtime. Under fixed scaling (Dynamic
// false) W_cur is pinned to the new ceiling immediately; under dynamic
// scaling W_cur only grows back toward a raised ceiling through the
// normal success-streak policy, but is clamped down right away if the
// new ceiling is lower. Either way, workers are spawned to match any
// increase before returning.
func (s *Scheduler) SetCeiling(wMax int) {
	if wMax < 1 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wMax = wMax
	if s.wCur > wMax {
		s.wCur = wMax
	}
	if !s.dynamic {
		s.wCur = wMax
	}
	if s.runCtx != nil {
		s.spawnUpToLocked()
	}
	s.cond.Broadcast()
}

// Run drives the pool until the queue is drained and resolution has
// finished, or ctx is canceled. It blocks until every worker has exited.
func (s *Scheduler) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	s.mu.Lock()
	s.runCtx = ctx
	s.wg = &wg
	s.spawnUpToLocked()
	s.mu.Unlock()

	// Cancellation wakes every worker blocked on the condition variable so
	// they can observe ctx.Done and exit.
	go func() {
		<-ctx.Done()
		s.mu.Lock()
		s.closed = true
		s.cond.Broadcast()
		s.mu.Unlock()
	}()

	wg.Wait()

	s.mu.Lock()
	fatal := s.fatalErr
	s.mu.Unlock()
	if fatal != nil {
		return fatal
	}
	return ctx.Err()
}

// spawnUpToLocked starts worker goroutines until live reaches wCur.
// Caller holds s.mu.
func (s *Scheduler) spawnUpToLocked() {
	for s.live < s.wCur {
		s.live++
		s.wg.Add(1)
		go s.worker()
	}
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		item, ok := s.nextOrExit()
		if !ok {
			return
		}

		file := &model.File{ID: item.fileID}
		outcome, err := s.fetcher.Fetch(s.runCtx, item.sourceURL, s.job, file)
		if err != nil {
			// A fatal error ends the whole job; the Controller's errgroup
			// cancellation propagates the shutdown to every other worker.
			s.reportFatal(fmt.Errorf("scheduler: file %d: %w", item.fileID, err))
			s.mu.Lock()
			s.live--
			s.mu.Unlock()
			return
		}

		s.applyOutcome(outcome)
		if s.onOutcome != nil {
			s.onOutcome(outcome)
		}
	}
}

// nextOrExit pops the next queue item, blocking on the condition variable
// while the queue is empty but more items may still arrive. Returns
// ok=false when the worker should retire: either the pool scaled down
// below this worker's slot, the job was canceled, or the queue is
// permanently drained.
func (s *Scheduler) nextOrExit() (*workItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if s.closed || s.runCtx.Err() != nil {
			s.live--
			return nil, false
		}
		if s.live > s.wCur {
			// Pool scaled down: this worker retires instead of pulling work.
			s.live--
			return nil, false
		}
		if len(s.queue) > 0 {
			item := heap.Pop(&s.queue).(*workItem)
			return item, true
		}
		if !s.resolving {
			// Nothing queued and nothing more will ever be enqueued.
			s.live--
			return nil, false
		}
		s.cond.Wait()
	}
}

// applyOutcome implements the dynamic-scaling policy: +1 worker (capped
// at W_max) after 5 consecutive successes; -1 worker (floor 1) on any
// non-skip failure or backoff trip, resetting the streak. A no-op when
// dynamic scaling is off: W_cur stays pinned at W_max.
func (s *Scheduler) applyOutcome(o fetcher.Outcome) {
	if o.Skipped {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if o.Success {
		s.successStreak++
		if s.successStreak >= 5 {
			s.successStreak = 0
			if s.wCur < s.wMax {
				s.wCur++
				s.spawnUpToLocked()
			}
		}
		return
	}

	s.successStreak = 0
	if s.dynamic && s.wCur > 1 {
		s.wCur--
	}
	s.cond.Broadcast()
}

func (s *Scheduler) reportFatal(err error) {
	s.mu.Lock()
	if s.fatalErr == nil {
		s.fatalErr = err
	}
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
}
