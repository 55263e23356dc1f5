// Package scheduler runs a small set of named jobs on independent
// tickers, the way internal/worker/sync_worker.go runs one sync loop per
// chain — generalized here from "one worker per chain" to "one
// registered job per pipeline component" (C2/C3/C6/C7/C8).
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/confluence-watch/internal/logging"
	"golang.org/x/sync/errgroup"
)

// Job is anything the scheduler can run on a tick. Implementations fan
// their own internal per-item work out through RunPool.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type registration struct {
	job      Job
	interval time.Duration

	mu        sync.Mutex
	slowRuns  int
	lastStart time.Time
}

// Scheduler drives a fixed set of registered jobs, each on its own
// ticker, each run bounded by a deadline of 2x its interval.
type Scheduler struct {
	poolSize int

	mu    sync.Mutex
	jobs  []*registration
	stopCh chan struct{}
	doneCh chan struct{}
}

// New builds a Scheduler and stores poolSize on it (8 when poolSize <= 0).
// RunPool does not read this value: each RunPool call is bounded by the
// poolSize its caller passes.
func New(poolSize int) *Scheduler {
	if poolSize <= 0 {
		poolSize = 8
	}
	return &Scheduler{poolSize: poolSize}
}

// Register adds job to the schedule at the given interval. Must be
// called before Run; registrations are not honored once Run has started
// (spec §9 "Global state" — no mutation after init).
func (s *Scheduler) Register(job Job, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, &registration{job: job, interval: interval})
}

// Run starts one ticker-driven goroutine per registered job and blocks
// until ctx is cancelled or Stop is called.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	jobs := append([]*registration(nil), s.jobs...)
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, reg := range jobs {
		wg.Add(1)
		go func(r *registration) {
			defer wg.Done()
			s.runLoop(ctx, r)
		}(reg)
	}

	wg.Wait()
	close(s.doneCh)
}

// Stop signals every running job loop to exit after its current tick.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	stopCh := s.stopCh
	s.mu.Unlock()
	if stopCh != nil {
		close(stopCh)
	}
}

// Done returns a channel closed once Run has fully unwound after Stop.
func (s *Scheduler) Done() <-chan struct{} {
	return s.doneCh
}

func (s *Scheduler) runLoop(ctx context.Context, r *registration) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.runOnce(ctx, r)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, r *registration) {
	r.mu.Lock()
	r.lastStart = time.Now()
	r.mu.Unlock()

	deadline := 2 * r.interval
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	start := time.Now()
	err := r.job.Run(runCtx)
	elapsed := time.Since(start)

	logFields := map[string]interface{}{
		"job":         r.job.Name(),
		"elapsed_ms":  elapsed.Milliseconds(),
		"interval_ms": r.interval.Milliseconds(),
	}
	if err != nil {
		logging.WithFields(logFields).WithError(err).Error("scheduled job run failed")
	}

	r.mu.Lock()
	if elapsed > r.interval {
		r.slowRuns++
		if r.slowRuns >= 3 {
			logging.WithFields(logFields).Warn("scheduled job has exceeded its interval for 3 consecutive runs")
		}
	} else {
		r.slowRuns = 0
	}
	r.mu.Unlock()
}

// RunPool fans items out across a bounded worker pool via errgroup,
// stopping at the first error. Jobs with inherently isolated per-item
// failure handling (C3/C8) should catch errors inside fn and return nil
// so one bad item never aborts the whole tick.
func RunPool[T any](ctx context.Context, poolSize int, items []T, fn func(ctx context.Context, item T) error) error {
	if poolSize <= 0 {
		poolSize = 8
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(poolSize)

	for _, item := range items {
		item := item
		g.Go(func() error {
			return fn(gctx, item)
		})
	}
	return g.Wait()
}
