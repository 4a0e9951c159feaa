// Package shuttletypes provides shared type definitions for the shuttle module.
package shuttletypes

import (
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/input-output-hk/catalyst-forge-libs/fs"
)

// Default tunables for the transfer engine. Part size limits follow the
// constraints of S3-compatible stores: parts below 8MiB are rejected by
// some providers, and parts close to 5GiB trigger 413 responses.
const (
	// DefaultPartSize is the default multipart part size (64MiB).
	DefaultPartSize = 64 * 1024 * 1024

	// MinPartSize is the smallest part size the planner will emit (8MiB).
	MinPartSize = 8 * 1024 * 1024

	// MaxPartSize is the largest part size the planner will emit,
	// kept 8MiB under 5GiB to stay clear of request-size limits.
	MaxPartSize = 5*1024*1024*1024 - 8*1024*1024

	// MaxPartCount is the maximum number of parts per multipart upload.
	MaxPartCount = 10000

	// DefaultMaxConcurrency is the default worker pool size.
	DefaultMaxConcurrency = 4

	// DefaultMaxAttempts is the default attempt budget per network operation.
	DefaultMaxAttempts = 6

	// DefaultRetryBaseDelay is the initial backoff delay between retries.
	DefaultRetryBaseDelay = 500 * time.Millisecond

	// DefaultRetryMaxDelay caps the exponential backoff delay.
	DefaultRetryMaxDelay = time.Minute

	// DefaultConnectTimeout bounds connection establishment.
	DefaultConnectTimeout = 30 * time.Second

	// DefaultReadTimeout bounds a single request/response exchange.
	// Long enough for multi-hour transfers of a single large part.
	DefaultReadTimeout = 2 * time.Hour
)

// Direction indicates whether a transfer moves data to or from the store.
type Direction int

// Transfer directions.
const (
	// DirectionUpload transfers a local file to the object store.
	DirectionUpload Direction = iota

	// DirectionDownload transfers an object to the local filesystem.
	DirectionDownload
)

// String returns a human-readable direction name.
func (d Direction) String() string {
	if d == DirectionDownload {
		return "download"
	}
	return "upload"
}

// ChoiceKind identifies the user's answer to a name-conflict prompt.
type ChoiceKind int

// Conflict choices, matching the options offered by the UI dialog.
const (
	// ChoiceUnset means no answer was supplied. Resolving a real
	// conflict with an unset choice is an error.
	ChoiceUnset ChoiceKind = iota

	// ChoiceReplace overwrites the existing destination.
	ChoiceReplace

	// ChoiceMakeCopy writes under a generated non-colliding name.
	ChoiceMakeCopy

	// ChoiceRename writes under a caller-supplied name.
	ChoiceRename

	// ChoiceSkip drops the transfer for this file.
	ChoiceSkip
)

// UserChoice is the pre-decided conflict answer attached to a request.
// The prompt itself is a UI concern; the engine only consumes the result.
type UserChoice struct {
	Kind ChoiceKind

	// RenameTo is the replacement base name for ChoiceRename.
	RenameTo string
}

// ActionKind identifies the effective action a resolved conflict produces.
type ActionKind int

// Resolved conflict actions.
const (
	// ActionProceed means the destination is free; transfer as requested.
	ActionProceed ActionKind = iota

	// ActionReplace overwrites the existing destination in place.
	ActionReplace

	// ActionMakeCopy transfers to a generated unique name.
	ActionMakeCopy

	// ActionRename transfers to the caller-supplied name.
	ActionRename

	// ActionSkip drops the transfer.
	ActionSkip
)

// ConflictAction is the outcome of conflict resolution for one request:
// the action to take and the effective destination key. Resolved once
// before scheduling and never re-evaluated mid-transfer.
type ConflictAction struct {
	Kind ActionKind

	// Key is the effective destination key (or local path for downloads).
	Key string
}

// TransferRequest describes one file transfer in a user-initiated batch.
// Immutable once created.
type TransferRequest struct {
	// ID uniquely identifies the request within a batch. Assigned by
	// the engine at submission when empty.
	ID string

	Direction Direction

	// LocalPath is the local file path (source for uploads, target for
	// downloads).
	LocalPath string

	// RemoteKey is the object key (target for uploads, source for
	// downloads).
	RemoteKey string

	// Size is the source size in bytes.
	Size int64

	// Choice is the pre-decided answer to apply if the destination
	// already exists.
	Choice UserChoice
}

// DestinationKey returns the destination name the request targets before
// conflict resolution: the remote key for uploads, the local path for
// downloads.
func (r TransferRequest) DestinationKey() string {
	if r.Direction == DirectionDownload {
		return r.LocalPath
	}
	return r.RemoteKey
}

// Part is one contiguous byte range of a file, the unit of transfer
// and retry granularity.
type Part struct {
	// Index is the zero-based part index. Wire part numbers are Index+1.
	Index int32

	// Offset is the byte offset of the part within the file.
	Offset int64

	// Length is the part length in bytes.
	Length int64

	// Last marks the final part of the plan.
	Last bool
}

// PartPlan is the computed part layout for one file. Parts partition
// [0, Size) contiguously in index order.
type PartPlan struct {
	// Size is the total file size the plan covers.
	Size int64

	// PartSize is the effective part size after clamping.
	PartSize int64

	// Multipart reports whether the multipart protocol is used. When
	// false the plan has exactly one part transferred as a single object.
	Multipart bool

	Parts []Part
}

// PartStatus tracks the lifecycle of one part. Transitions are monotonic
// forward; a part never returns to pending after leaving it.
type PartStatus int

// Part states.
const (
	// PartPending means the part has not been dispatched yet.
	PartPending PartStatus = iota

	// PartInFlight means a worker currently owns the part. Retries stay
	// within this state.
	PartInFlight

	// PartSucceeded is terminal success.
	PartSucceeded

	// PartFailed is terminal failure after the attempt budget was spent
	// or a fatal error occurred.
	PartFailed
)

// String returns a human-readable part status name.
func (s PartStatus) String() string {
	switch s {
	case PartInFlight:
		return "in-flight"
	case PartSucceeded:
		return "succeeded"
	case PartFailed:
		return "failed"
	default:
		return "pending"
	}
}

// PartState is a snapshot of one part's progress.
type PartState struct {
	Status PartStatus

	// Attempts is the number of attempts consumed so far.
	Attempts int

	// ETag is the store-assigned entity tag for succeeded upload parts.
	ETag string

	// Err is the last error for failed parts.
	Err error
}

// JobState tracks the lifecycle of a transfer job.
type JobState int

// Job states. Completed, Failed and Aborted are terminal.
const (
	JobCreated JobState = iota
	JobPlanning
	JobInProgress
	JobCompleted
	JobFailed
	JobAborted
)

// String returns a human-readable job state name.
func (s JobState) String() string {
	switch s {
	case JobPlanning:
		return "planning"
	case JobInProgress:
		return "in-progress"
	case JobCompleted:
		return "completed"
	case JobFailed:
		return "failed"
	case JobAborted:
		return "aborted"
	default:
		return "created"
	}
}

// Terminal reports whether the state admits no further transitions.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobAborted
}

// OutcomeStatus is the per-request result reported in a BatchResult.
type OutcomeStatus int

// Request outcomes.
const (
	OutcomeCompleted OutcomeStatus = iota
	OutcomeSkipped
	OutcomeFailed
	OutcomeAborted
)

// String returns a human-readable outcome name.
func (s OutcomeStatus) String() string {
	switch s {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	case OutcomeAborted:
		return "aborted"
	default:
		return "completed"
	}
}

// Outcome is the terminal result for one request.
type Outcome struct {
	Request TransferRequest

	Status OutcomeStatus

	// Key is the effective destination after conflict resolution.
	Key string

	// BytesTransferred is the total payload moved for this request.
	BytesTransferred int64

	// Err is set for failed outcomes.
	Err error

	// Duration is how long the job ran.
	Duration time.Duration
}

// BatchResult maps request IDs to outcomes. Produced once every job in
// the batch reached a terminal state; a read-only snapshot.
type BatchResult struct {
	// Outcomes holds exactly one entry per submitted request, keyed by
	// request ID.
	Outcomes map[string]Outcome

	// Duration is how long the whole batch took.
	Duration time.Duration
}

// Completed returns the number of completed requests.
func (r *BatchResult) Completed() int { return r.count(OutcomeCompleted) }

// Skipped returns the number of skipped requests.
func (r *BatchResult) Skipped() int { return r.count(OutcomeSkipped) }

// Failed returns the number of failed requests.
func (r *BatchResult) Failed() int { return r.count(OutcomeFailed) }

// Aborted returns the number of aborted requests.
func (r *BatchResult) Aborted() int { return r.count(OutcomeAborted) }

func (r *BatchResult) count(status OutcomeStatus) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// JobProgress is a snapshot of one job's progress.
type JobProgress struct {
	JobID string

	// Key is the effective destination key.
	Key string

	State JobState

	BytesCompleted int64
	TotalBytes     int64

	// Parts holds a snapshot of every planned part's state, keyed by
	// part index.
	Parts map[int32]PartState
}

// BatchProgress is a snapshot of a batch's progress across all jobs.
type BatchProgress struct {
	Jobs map[string]JobProgress

	// BytesCompleted and TotalBytes aggregate across jobs.
	BytesCompleted int64
	TotalBytes     int64
}

// Fraction returns overall batch completion in [0, 1].
func (p BatchProgress) Fraction() float64 {
	if p.TotalBytes <= 0 {
		if len(p.Jobs) == 0 {
			return 0
		}
		done := 0
		for _, j := range p.Jobs {
			if j.State.Terminal() {
				done++
			}
		}
		return float64(done) / float64(len(p.Jobs))
	}
	f := float64(p.BytesCompleted) / float64(p.TotalBytes)
	if f > 1 {
		f = 1
	}
	return f
}

// ProgressTracker defines the interface for observing transfer progress.
// Implementations can drive progress bars or logging during transfers.
type ProgressTracker interface {
	// Update is called as transferred bytes accumulate.
	Update(bytesTransferred, totalBytes int64)

	// Complete is called when the transfer completes successfully.
	Complete()

	// Error is called when the transfer fails.
	Error(err error)
}

// Limits bounds the chunk planner's output.
type Limits struct {
	// MinPartSize is the smallest allowed part size.
	MinPartSize int64

	// MaxPartSize is the largest allowed part size.
	MaxPartSize int64

	// MaxPartCount is the maximum number of parts per upload.
	MaxPartCount int

	// SinglePartThreshold is the size at or below which a single-object
	// transfer is used instead of multipart.
	SinglePartThreshold int64
}

// DefaultLimits returns the store limits used when none are configured.
func DefaultLimits(partSize int64) Limits {
	if partSize <= 0 {
		partSize = DefaultPartSize
	}
	return Limits{
		MinPartSize:         MinPartSize,
		MaxPartSize:         MaxPartSize,
		MaxPartCount:        MaxPartCount,
		SinglePartThreshold: partSize,
	}
}

// EngineConfig holds configuration for the transfer engine.
type EngineConfig struct {
	// Bucket is the target bucket or volume ID.
	Bucket string

	Region   string
	Endpoint string

	// AccessKey and SecretKey hold static credentials. When empty the
	// default AWS credential chain is used.
	AccessKey string
	SecretKey string

	ForcePathStyle bool

	PartSize            int64
	SinglePartThreshold int64
	MaxConcurrency      int

	MaxAttempts    int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration

	// CustomAWSConfig overrides the default configuration loading.
	CustomAWSConfig *aws.Config

	// Filesystem abstracts local file access. Defaults to the OS
	// filesystem.
	Filesystem fs.Filesystem

	// Logger receives engine lifecycle logging. Defaults to slog.Default().
	Logger *slog.Logger

	// ProgressTracker, when set, observes aggregate batch progress.
	ProgressTracker ProgressTracker
}

// Option is a functional option for configuring the transfer engine.
type Option func(*EngineConfig)
