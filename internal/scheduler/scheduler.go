package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/s3shuttle/shuttle/errors"
	"github.com/s3shuttle/shuttle/shuttletypes"
)

// progressInterval is how often a batch pushes aggregate progress to a
// configured tracker.
const progressInterval = 200 * time.Millisecond

// Scheduler runs transfer jobs over a bounded worker pool. The bound
// applies to part units across all concurrent jobs, so a large file
// cannot monopolize the pool and a batch of small files still fills it.
type Scheduler struct {
	rt      Runtime
	tracker shuttletypes.ProgressTracker

	keys *keyMutex

	mu      sync.Mutex
	closed  bool
	batches sync.WaitGroup
}

// New creates a scheduler with the given runtime and concurrency bound.
func New(rt Runtime, maxConcurrency int, tracker shuttletypes.ProgressTracker) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = shuttletypes.DefaultMaxConcurrency
	}
	rt.Sem = make(chan struct{}, maxConcurrency)
	return &Scheduler{
		rt:      rt,
		tracker: tracker,
		keys:    newKeyMutex(),
	}
}

// Submit starts the given jobs and returns immediately with a handle
// for waiting, progress and cancellation. pre holds outcomes settled
// before scheduling (skips, resolution failures); the batch result
// includes them verbatim.
func (s *Scheduler) Submit(
	ctx context.Context,
	jobs []*Job,
	pre map[string]shuttletypes.Outcome,
) (*Batch, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errors.NewError("submit", errors.ErrCancelled).
			WithMessage("scheduler is closed")
	}
	s.batches.Add(1)
	s.mu.Unlock()

	batch := newBatch(ctx, jobs, pre)

	go func() {
		defer s.batches.Done()
		s.runBatch(batch)
	}()

	return batch, nil
}

// runBatch drives every job of a batch to a terminal state, then seals
// the result.
func (s *Scheduler) runBatch(b *Batch) {
	if s.tracker != nil {
		stop := make(chan struct{})
		defer close(stop)
		go s.reportProgress(b, stop)
	}

	var wg sync.WaitGroup
	for _, job := range b.jobs {
		wg.Add(1)
		go func(j *Job) {
			defer wg.Done()
			s.runJob(b.ctx, j)
		}(job)
	}
	wg.Wait()

	b.seal()

	if s.tracker != nil {
		result := b.Result()
		if result.Failed() > 0 {
			if err := firstFailure(result); err != nil {
				s.tracker.Error(err)
			}
		} else {
			s.tracker.Complete()
		}
	}

	s.rt.Logger.Info("batch finished",
		"completed", b.result.Completed(),
		"skipped", b.result.Skipped(),
		"failed", b.result.Failed(),
		"aborted", b.result.Aborted(),
		"duration", b.result.Duration,
	)
}

// runJob executes one job, holding its destination key lock for the
// duration so concurrent writers to the same destination serialize.
func (s *Scheduler) runJob(ctx context.Context, j *Job) {
	unlock := s.keys.lock(j.Key())
	defer unlock()
	j.run(ctx, s.rt)
}

// reportProgress pushes aggregate byte counts to the tracker until the
// batch finishes.
func (s *Scheduler) reportProgress(b *Batch, stop <-chan struct{}) {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p := b.Progress()
			s.tracker.Update(p.BytesCompleted, p.TotalBytes)
		case <-stop:
			p := b.Progress()
			s.tracker.Update(p.BytesCompleted, p.TotalBytes)
			return
		}
	}
}

// WithKeyLock runs fn while holding the destination lock for key. Used
// for metadata operations (rename, delete) that must not interleave
// with a transfer targeting the same key.
func (s *Scheduler) WithKeyLock(key string, fn func() error) error {
	unlock := s.keys.lock(key)
	defer unlock()
	return fn()
}

// WithKeyLocks runs fn while holding the locks for all given keys.
// Keys are acquired in sorted order so two callers with overlapping
// key sets cannot deadlock.
func (s *Scheduler) WithKeyLocks(keys []string, fn func() error) error {
	sorted := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	unlocks := make([]func(), 0, len(sorted))
	for _, k := range sorted {
		unlocks = append(unlocks, s.keys.lock(k))
	}
	defer func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}()

	return fn()
}

// Close stops accepting new batches and waits for in-flight batches to
// drain, up to the context deadline.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.batches.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.NewError("close", errors.ErrTimeout).
			WithMessage("batches still in flight")
	}
}

// firstFailure picks a representative error out of a batch result.
func firstFailure(r *shuttletypes.BatchResult) error {
	for _, o := range r.Outcomes {
		if o.Status == shuttletypes.OutcomeFailed && o.Err != nil {
			return o.Err
		}
	}
	return nil
}

// keyMutex hands out per-key locks with reference counting so the map
// does not grow without bound.
type keyMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyMutex() *keyMutex {
	return &keyMutex{locks: make(map[string]*keyLock)}
}

// lock acquires the lock for key and returns its release function.
func (k *keyMutex) lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
