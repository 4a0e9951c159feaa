// Package scheduler owns the transfer worker pool, the per-file job
// state machine and batch aggregation.
package scheduler

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/input-output-hk/catalyst-forge-libs/fs"

	"github.com/s3shuttle/shuttle/errors"
	"github.com/s3shuttle/shuttle/internal/chunk"
	"github.com/s3shuttle/shuttle/internal/pool"
	"github.com/s3shuttle/shuttle/internal/retry"
	"github.com/s3shuttle/shuttle/internal/store"
	"github.com/s3shuttle/shuttle/shuttletypes"
)

// cleanupTimeout bounds abort-multipart calls issued while tearing a
// job down. Cleanup runs on a fresh context because the job's own
// context is typically already cancelled at that point.
const cleanupTimeout = 30 * time.Second

// Runtime bundles the collaborators a job needs while executing.
type Runtime struct {
	Store    store.Store
	Governor retry.Governor
	FS       fs.Filesystem
	Buffers  *pool.PartBufferPool
	Logger   *slog.Logger
	Limits   shuttletypes.Limits
	PartSize int64

	// Sem is the scheduler's global concurrency semaphore. Every part
	// unit of every job acquires a slot before touching the network, so
	// parts from concurrent jobs interleave under one shared bound.
	Sem chan struct{}
}

// partRecord tracks the state of one planned part.
type partRecord struct {
	status   shuttletypes.PartStatus
	attempts int
	etag     string
	err      error
	length   int64
}

// Job is the per-file unit of work. It owns the part plan, per-part
// state and the terminal outcome, and is driven by the scheduler's
// worker pool for the duration of one batch.
type Job struct {
	id  string
	req shuttletypes.TransferRequest

	// key is the effective destination after conflict resolution: the
	// remote key for uploads, the local path for downloads.
	key string

	mu       sync.Mutex
	state    shuttletypes.JobState
	parts    map[int32]*partRecord
	plan     shuttletypes.PartPlan
	uploadID string
	jobErr   error

	bytesCompleted atomic.Int64

	// fileMu serializes writes to the download target. Workers never
	// hold it across a network call.
	fileMu sync.Mutex

	cancel   context.CancelFunc
	canceled atomic.Bool

	// partFailed flips when a part fails for a reason other than
	// cancellation; it interrupts the rest of the job's queued parts.
	partFailed atomic.Bool

	started time.Time
}

// NewJob creates a job for a resolved request. key is the effective
// destination produced by conflict resolution.
func NewJob(id string, req shuttletypes.TransferRequest, key string) *Job {
	return &Job{
		id:    id,
		req:   req,
		key:   key,
		state: shuttletypes.JobCreated,
		parts: make(map[int32]*partRecord),
	}
}

// ID returns the job's identifier.
func (j *Job) ID() string { return j.id }

// Request returns the originating transfer request.
func (j *Job) Request() shuttletypes.TransferRequest { return j.req }

// Key returns the effective destination.
func (j *Job) Key() string { return j.key }

// remoteKey returns the object key touched on the wire.
func (j *Job) remoteKey() string {
	if j.req.Direction == shuttletypes.DirectionDownload {
		return j.req.RemoteKey
	}
	return j.key
}

// localPath returns the local file involved in the transfer.
func (j *Job) localPath() string {
	if j.req.Direction == shuttletypes.DirectionDownload {
		return j.key
	}
	return j.req.LocalPath
}

// Cancel requests cooperative cancellation: queued parts are dropped,
// in-flight parts settle, then the job transitions to Aborted.
func (j *Job) Cancel() {
	j.canceled.Store(true)
	j.mu.Lock()
	cancel := j.cancel
	j.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// State returns the job's current state.
func (j *Job) State() shuttletypes.JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Progress returns a snapshot of the job's progress.
func (j *Job) Progress() shuttletypes.JobProgress {
	j.mu.Lock()
	defer j.mu.Unlock()

	parts := make(map[int32]shuttletypes.PartState, len(j.parts))
	for idx, rec := range j.parts {
		parts[idx] = shuttletypes.PartState{
			Status:   rec.status,
			Attempts: rec.attempts,
			ETag:     rec.etag,
			Err:      rec.err,
		}
	}

	return shuttletypes.JobProgress{
		JobID:          j.id,
		Key:            j.key,
		State:          j.state,
		BytesCompleted: j.bytesCompleted.Load(),
		TotalBytes:     j.req.Size,
		Parts:          parts,
	}
}

// outcome converts the job's terminal state into a request outcome.
func (j *Job) outcome() shuttletypes.Outcome {
	j.mu.Lock()
	defer j.mu.Unlock()

	status := shuttletypes.OutcomeCompleted
	switch j.state {
	case shuttletypes.JobFailed:
		status = shuttletypes.OutcomeFailed
	case shuttletypes.JobAborted:
		status = shuttletypes.OutcomeAborted
	}

	return shuttletypes.Outcome{
		Request:          j.req,
		Status:           status,
		Key:              j.key,
		BytesTransferred: j.bytesCompleted.Load(),
		Err:              j.jobErr,
		Duration:         time.Since(j.started),
	}
}

// run drives the job through its state machine. It blocks until the
// job reaches a terminal state.
func (j *Job) run(ctx context.Context, rt Runtime) {
	j.started = time.Now()

	ctx, cancel := context.WithCancel(ctx)
	j.mu.Lock()
	j.cancel = cancel
	j.mu.Unlock()
	defer cancel()

	// Planning.
	j.setState(shuttletypes.JobPlanning)
	plan, err := chunk.Plan(j.req.Size, rt.PartSize, rt.Limits)
	if err != nil {
		j.fail(err)
		return
	}
	j.acceptPlan(plan)

	rt.Logger.Debug("job planned",
		"job", j.id,
		"direction", j.req.Direction.String(),
		"key", j.key,
		"size", j.req.Size,
		"parts", len(plan.Parts),
		"multipart", plan.Multipart,
	)

	j.setState(shuttletypes.JobInProgress)

	if j.req.Direction == shuttletypes.DirectionUpload {
		j.runUpload(ctx, rt)
	} else {
		j.runDownload(ctx, rt)
	}
}

// acceptPlan records the plan and seeds pending part records.
func (j *Job) acceptPlan(plan shuttletypes.PartPlan) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.plan = plan
	for _, p := range plan.Parts {
		j.parts[p.Index] = &partRecord{status: shuttletypes.PartPending, length: p.Length}
	}
}

// setState transitions the job unless it is already terminal.
func (j *Job) setState(s shuttletypes.JobState) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.state.Terminal() {
		j.state = s
	}
}

// fail moves the job to Failed with the given error, keeping the first
// failure when called repeatedly.
func (j *Job) fail(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.Terminal() {
		return
	}
	j.state = shuttletypes.JobFailed
	if j.jobErr == nil {
		j.jobErr = err
	}
}

// abort moves the job to Aborted.
func (j *Job) abort() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.Terminal() {
		return
	}
	j.state = shuttletypes.JobAborted
	if j.jobErr == nil {
		j.jobErr = errors.NewError("job", errors.ErrCancelled).WithKey(j.key)
	}
}

// complete moves the job to Completed.
func (j *Job) complete() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.state.Terminal() {
		j.state = shuttletypes.JobCompleted
	}
}

// markInFlight claims a part for a worker. It returns false when the
// job can no longer accept work (cancelled or already terminal), which
// drops queued-but-not-started units.
func (j *Job) markInFlight(index int32) bool {
	if j.canceled.Load() {
		return false
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != shuttletypes.JobInProgress {
		return false
	}
	rec := j.parts[index]
	if rec == nil || rec.status != shuttletypes.PartPending {
		return false
	}
	rec.status = shuttletypes.PartInFlight
	return true
}

// completePart records a successful part and advances bytesCompleted.
// Results arriving after cancellation are discarded.
func (j *Job) completePart(index int32, etag string, attempts int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	rec := j.parts[index]
	if rec == nil || rec.status != shuttletypes.PartInFlight {
		return
	}
	if j.canceled.Load() {
		// In-flight unit of a cancelled job: let it settle, drop the result.
		rec.status = shuttletypes.PartFailed
		rec.attempts = attempts
		rec.err = errors.ErrCancelled
		return
	}
	rec.status = shuttletypes.PartSucceeded
	rec.etag = etag
	rec.attempts = attempts
	j.bytesCompleted.Add(rec.length)
}

// failPart records a permanently failed part. A non-cancellation
// failure interrupts the job so queued parts stop dispatching; other
// jobs in the batch are unaffected.
func (j *Job) failPart(index int32, attempts int, err error) {
	j.mu.Lock()
	rec := j.parts[index]
	if rec != nil && rec.status == shuttletypes.PartInFlight {
		rec.status = shuttletypes.PartFailed
		rec.attempts = attempts
		rec.err = err
	}
	cancel := j.cancel
	j.mu.Unlock()

	if !errors.IsCancelled(err) {
		j.partFailed.Store(true)
		if cancel != nil {
			cancel()
		}
	}
}

// allPartsSucceeded reports whether every planned part succeeded.
func (j *Job) allPartsSucceeded() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, rec := range j.parts {
		if rec.status != shuttletypes.PartSucceeded {
			return false
		}
	}
	return len(j.parts) > 0
}

// firstPartError returns the root cause of the job's failure: the
// first non-cancellation part error in index order, falling back to
// whatever error was recorded first.
func (j *Job) firstPartError() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	var fallback error
	for _, p := range j.plan.Parts {
		rec := j.parts[p.Index]
		if rec == nil || rec.err == nil {
			continue
		}
		if !errors.IsCancelled(rec.err) {
			return rec.err
		}
		if fallback == nil {
			fallback = rec.err
		}
	}
	return fallback
}

// completedParts returns succeeded parts in ascending index order.
func (j *Job) completedParts() []store.CompletedPart {
	j.mu.Lock()
	defer j.mu.Unlock()
	parts := make([]store.CompletedPart, 0, len(j.plan.Parts))
	for _, p := range j.plan.Parts {
		rec := j.parts[p.Index]
		if rec != nil && rec.status == shuttletypes.PartSucceeded {
			parts = append(parts, store.CompletedPart{Index: p.Index, ETag: rec.etag})
		}
	}
	return parts
}

// settle decides the terminal state once all part units have returned:
// finalize on full success, otherwise fail or abort with multipart
// cleanup.
func (j *Job) settle(ctx context.Context, rt Runtime) {
	if j.canceled.Load() {
		j.abort()
		j.cleanupMultipart(rt)
		return
	}

	// Parent teardown (engine close, batch cancel) is an abort, not a
	// failure of the transfer itself.
	if !j.partFailed.Load() && ctx.Err() != nil && !j.allPartsSucceeded() {
		j.abort()
		j.cleanupMultipart(rt)
		return
	}

	if !j.allPartsSucceeded() {
		err := j.firstPartError()
		if err == nil {
			err = errors.NewError("job", errors.ErrPlan).WithKey(j.key)
		}
		j.fail(err)
		j.cleanupMultipart(rt)
		return
	}

	if j.req.Direction == shuttletypes.DirectionUpload && j.plan.Multipart {
		if err := j.finalize(ctx, rt); err != nil {
			j.fail(errors.NewError("finalize", errors.ErrFinalize).WithKey(j.key).WithMessage(err.Error()))
			j.cleanupMultipart(rt)
			return
		}
	}

	j.complete()
}

// finalize completes the multipart upload with the collected part tags.
func (j *Job) finalize(ctx context.Context, rt Runtime) error {
	parts := j.completedParts()
	_, err := rt.Governor.Do(ctx, func(ctx context.Context) error {
		return rt.Store.CompleteMultipart(ctx, j.remoteKey(), j.uploadID, parts)
	})
	return err
}

// cleanupMultipart aborts a half-done multipart upload so no orphaned
// parts keep accruing storage. Failure to clean up is logged, never
// re-raised: it must not mask the job's primary outcome.
func (j *Job) cleanupMultipart(rt Runtime) {
	j.mu.Lock()
	uploadID := j.uploadID
	j.uploadID = ""
	j.mu.Unlock()

	if uploadID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	if err := rt.Store.AbortMultipart(ctx, j.remoteKey(), uploadID); err != nil {
		rt.Logger.Warn("abort multipart failed",
			"job", j.id,
			"key", j.remoteKey(),
			"error", err,
		)
	}
}

// transferPart moves one planned part across the wire through the
// retry governor. Called by pool workers; at most one invocation per
// part is ever in flight.
func (j *Job) transferPart(ctx context.Context, rt Runtime, part shuttletypes.Part, src fs.File, dst fs.File) {
	var (
		etag     string
		attempts int
		err      error
	)

	if j.req.Direction == shuttletypes.DirectionUpload {
		etag, attempts, err = j.uploadPart(ctx, rt, part, src)
	} else {
		attempts, err = j.downloadPart(ctx, rt, part, dst)
	}

	if err != nil {
		j.failPart(part.Index, attempts, err)
		return
	}
	j.completePart(part.Index, etag, attempts)
}

// uploadPart sends one part (or the whole object in single-part mode).
func (j *Job) uploadPart(
	ctx context.Context,
	rt Runtime,
	part shuttletypes.Part,
	src fs.File,
) (string, int, error) {
	key := j.remoteKey()

	if !j.plan.Multipart {
		attempts, err := rt.Governor.Do(ctx, func(ctx context.Context) error {
			reader := io.NewSectionReader(src, 0, part.Length)
			return rt.Store.PutObject(ctx, key, reader, part.Length)
		})
		return "", attempts, err
	}

	var etag string
	attempts, err := rt.Governor.Do(ctx, func(ctx context.Context) error {
		reader := io.NewSectionReader(src, part.Offset, part.Length)
		tag, uerr := rt.Store.UploadPart(ctx, key, j.uploadID, part.Index, reader, part.Length)
		if uerr != nil {
			return uerr
		}
		etag = tag
		return nil
	})
	return etag, attempts, err
}

// downloadPart fetches one byte range into a pooled staging buffer and
// writes it at the part's offset. Ranged requests are only used in
// multipart mode; a single-part plan streams the whole object.
func (j *Job) downloadPart(
	ctx context.Context,
	rt Runtime,
	part shuttletypes.Part,
	dst fs.File,
) (int, error) {
	key := j.remoteKey()

	if !j.plan.Multipart {
		return rt.Governor.Do(ctx, func(ctx context.Context) error {
			body, _, gerr := rt.Store.GetObject(ctx, key, nil)
			if gerr != nil {
				return gerr
			}
			defer body.Close()

			j.fileMu.Lock()
			defer j.fileMu.Unlock()
			if _, serr := dst.Seek(0, io.SeekStart); serr != nil {
				return serr
			}
			_, cerr := io.Copy(dst, body)
			return cerr
		})
	}

	buf := rt.Buffers.Get(part.Length)
	defer rt.Buffers.Put(buf)

	attempts, err := rt.Governor.Do(ctx, func(ctx context.Context) error {
		rng := &store.ByteRange{Start: part.Offset, End: part.Offset + part.Length - 1}
		body, _, gerr := rt.Store.GetObject(ctx, key, rng)
		if gerr != nil {
			return gerr
		}
		defer body.Close()

		if _, rerr := io.ReadFull(body, buf); rerr != nil {
			return rerr
		}

		j.fileMu.Lock()
		defer j.fileMu.Unlock()
		if _, serr := dst.Seek(part.Offset, io.SeekStart); serr != nil {
			return serr
		}
		_, werr := dst.Write(buf)
		return werr
	})
	return attempts, err
}

// prepareUpload opens the source file and, in multipart mode, initiates
// the upload through the governor.
func (j *Job) prepareUpload(ctx context.Context, rt Runtime) (fs.File, error) {
	src, err := rt.FS.Open(j.localPath())
	if err != nil {
		return nil, errors.NewError("openSource", err).WithKey(j.localPath())
	}

	if j.plan.Multipart {
		var uploadID string
		_, err = rt.Governor.Do(ctx, func(ctx context.Context) error {
			id, ierr := rt.Store.InitiateMultipart(ctx, j.remoteKey())
			if ierr != nil {
				return ierr
			}
			uploadID = id
			return nil
		})
		if err != nil {
			_ = src.Close()
			return nil, err
		}
		j.mu.Lock()
		j.uploadID = uploadID
		j.mu.Unlock()
	}

	return src, nil
}

// prepareDownload creates the target file, making parent directories
// as needed.
func (j *Job) prepareDownload(rt Runtime) (fs.File, error) {
	target := j.localPath()
	if dir := filepath.Dir(target); dir != "." && dir != "/" {
		if err := rt.FS.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.NewError("createTargetDir", err).WithKey(target)
		}
	}
	dst, err := rt.FS.Create(target)
	if err != nil {
		return nil, errors.NewError("createTarget", err).WithKey(target)
	}
	return dst, nil
}

// runUpload executes an upload job: open the source, initiate the
// multipart upload if needed, push every part through the pool, then
// settle the terminal state.
func (j *Job) runUpload(ctx context.Context, rt Runtime) {
	src, err := j.prepareUpload(ctx, rt)
	if err != nil {
		if j.canceled.Load() {
			j.abort()
		} else {
			j.fail(err)
		}
		return
	}
	defer func() { _ = src.Close() }()

	j.dispatchParts(ctx, rt, src, nil)
	j.settle(ctx, rt)
}

// runDownload executes a download job: create the target, fetch every
// part through the pool, then settle the terminal state.
func (j *Job) runDownload(ctx context.Context, rt Runtime) {
	dst, err := j.prepareDownload(rt)
	if err != nil {
		if j.canceled.Load() {
			j.abort()
		} else {
			j.fail(err)
		}
		return
	}
	defer func() { _ = dst.Close() }()

	j.dispatchParts(ctx, rt, nil, dst)
	j.settle(ctx, rt)
}

// dispatchParts hands every planned part to the shared worker pool and
// blocks until all units have settled. Units that have not acquired a
// pool slot when the job is interrupted exit without running.
func (j *Job) dispatchParts(ctx context.Context, rt Runtime, src, dst fs.File) {
	var wg sync.WaitGroup
	for _, part := range j.plan.Parts {
		wg.Add(1)
		go func(part shuttletypes.Part) {
			defer wg.Done()

			select {
			case rt.Sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-rt.Sem }()

			if !j.markInFlight(part.Index) {
				return
			}
			j.transferPart(ctx, rt, part, src, dst)
		}(part)
	}
	wg.Wait()
}
