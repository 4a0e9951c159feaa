package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/s3shuttle/shuttle/errors"
	"github.com/s3shuttle/shuttle/shuttletypes"
)

// Batch is the handle returned at submission. It aggregates the jobs
// of one submission and settles into a BatchResult once every job is
// terminal.
type Batch struct {
	ctx    context.Context
	cancel context.CancelFunc

	// jobs holds the scheduled jobs keyed by request ID.
	jobs map[string]*Job

	// pre holds outcomes settled before scheduling.
	pre map[string]shuttletypes.Outcome

	started time.Time

	mu     sync.Mutex
	result *shuttletypes.BatchResult
	done   chan struct{}
}

func newBatch(ctx context.Context, jobs []*Job, pre map[string]shuttletypes.Outcome) *Batch {
	ctx, cancel := context.WithCancel(ctx)

	byID := make(map[string]*Job, len(jobs))
	for _, j := range jobs {
		byID[j.Request().ID] = j
	}

	if pre == nil {
		pre = map[string]shuttletypes.Outcome{}
	}

	return &Batch{
		ctx:     ctx,
		cancel:  cancel,
		jobs:    byID,
		pre:     pre,
		started: time.Now(),
		done:    make(chan struct{}),
	}
}

// Done returns a channel closed when every job in the batch is terminal.
func (b *Batch) Done() <-chan struct{} { return b.done }

// Wait blocks until the batch settles or ctx expires. The returned
// result holds exactly one outcome per submitted request.
func (b *Batch) Wait(ctx context.Context) (shuttletypes.BatchResult, error) {
	select {
	case <-b.done:
		return *b.Result(), nil
	case <-ctx.Done():
		return shuttletypes.BatchResult{}, errors.NewError("wait", errors.ErrCancelled)
	}
}

// Result returns the settled result, or nil while the batch is running.
func (b *Batch) Result() *shuttletypes.BatchResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.result
}

// Progress returns a point-in-time snapshot across the batch's jobs.
func (b *Batch) Progress() shuttletypes.BatchProgress {
	p := shuttletypes.BatchProgress{
		Jobs: make(map[string]shuttletypes.JobProgress, len(b.jobs)),
	}
	for id, j := range b.jobs {
		jp := j.Progress()
		p.Jobs[id] = jp
		p.BytesCompleted += jp.BytesCompleted
		p.TotalBytes += jp.TotalBytes
	}
	return p
}

// Cancel cooperatively cancels every job still running in the batch.
func (b *Batch) Cancel() {
	for _, j := range b.jobs {
		j.Cancel()
	}
	b.cancel()
}

// CancelJob cancels a single job by request ID. It reports whether the
// ID named a scheduled job.
func (b *Batch) CancelJob(id string) bool {
	j, ok := b.jobs[id]
	if !ok {
		return false
	}
	j.Cancel()
	return true
}

// seal converts the terminal job states into the batch result. Called
// by the scheduler exactly once, after every job goroutine returned.
func (b *Batch) seal() {
	outcomes := make(map[string]shuttletypes.Outcome, len(b.jobs)+len(b.pre))
	for id, o := range b.pre {
		outcomes[id] = o
	}
	for id, j := range b.jobs {
		outcomes[id] = j.outcome()
	}

	b.mu.Lock()
	b.result = &shuttletypes.BatchResult{
		Outcomes: outcomes,
		Duration: time.Since(b.started),
	}
	b.mu.Unlock()

	b.cancel()
	close(b.done)
}
