// Package retry wraps individual network operations with bounded
// retries and exponential backoff.
//
// The governor only decides whether and when to run the operation
// again; it never touches job or part state. Callers apply the returned
// result to their own bookkeeping.
package retry

import (
	"context"
	stderrors "errors"
	"net"
	"syscall"
	"time"

	"github.com/aws/smithy-go"
	"github.com/cenkalti/backoff/v4"

	"github.com/s3shuttle/shuttle/errors"
)

// Kind classifies a failure for retry purposes.
type Kind int

// Failure kinds.
const (
	// KindRetryable covers transient failures: timeouts, connection
	// resets, throttling, server-side 5xx responses.
	KindRetryable Kind = iota

	// KindFatal covers failures retrying cannot fix: auth errors,
	// missing objects, malformed requests.
	KindFatal

	// KindCancelled covers context cancellation.
	KindCancelled
)

// Governor executes idempotent operations with bounded attempts and
// exponential backoff plus jitter between retries.
type Governor struct {
	// MaxAttempts is the total attempt budget, including the first try.
	MaxAttempts int

	// BaseDelay is the initial backoff interval.
	BaseDelay time.Duration

	// MaxDelay caps the backoff interval.
	MaxDelay time.Duration
}

// New returns a governor with the given budget, falling back to sane
// defaults for non-positive values.
func New(maxAttempts int, baseDelay, maxDelay time.Duration) Governor {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = time.Minute
	}
	return Governor{MaxAttempts: maxAttempts, BaseDelay: baseDelay, MaxDelay: maxDelay}
}

// Do runs op until it succeeds, fails fatally, or the attempt budget is
// spent. It returns the number of attempts consumed and the final error.
//
// Retryable failures back off exponentially with jitter between
// attempts; fatal failures and cancellation return immediately. An
// exhausted budget returns the last error wrapped in ErrRetryExhausted.
func (g Governor) Do(ctx context.Context, op func(context.Context) error) (int, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = g.BaseDelay
	bo.MaxInterval = g.MaxDelay
	bo.MaxElapsedTime = 0 // the attempt budget bounds us, not wall time
	bo.Reset()

	var err error
	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return attempt - 1, errors.NewError("retry", errors.ErrCancelled)
		}

		err = op(ctx)
		if err == nil {
			return attempt, nil
		}

		switch Classify(err) {
		case KindFatal:
			return attempt, err
		case KindCancelled:
			return attempt, errors.NewError("retry", errors.ErrCancelled)
		}

		if attempt >= g.MaxAttempts {
			return attempt, errors.NewError("retry", errors.ErrRetryExhausted).
				WithMessage(err.Error())
		}

		select {
		case <-time.After(bo.NextBackOff()):
		case <-ctx.Done():
			return attempt, errors.NewError("retry", errors.ErrCancelled)
		}
	}
}

// Classify sorts a failure into retryable, fatal or cancelled.
func Classify(err error) Kind {
	if err == nil {
		return KindRetryable
	}

	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, errors.ErrCancelled) {
		return KindCancelled
	}

	// Deadline expiry on a single call is a timeout, hence retryable.
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, errors.ErrTimeout) {
		return KindRetryable
	}

	// Module sentinels that no amount of retrying will fix.
	if stderrors.Is(err, errors.ErrObjectNotFound) ||
		stderrors.Is(err, errors.ErrAccessDenied) ||
		stderrors.Is(err, errors.ErrInvalidInput) ||
		stderrors.Is(err, errors.ErrInvalidObjectKey) ||
		stderrors.Is(err, errors.ErrInvalidBucketName) ||
		stderrors.Is(err, errors.ErrConfig) {
		return KindFatal
	}

	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		return classifyAPIError(apiErr)
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return KindRetryable
	}
	if stderrors.Is(err, syscall.ECONNRESET) ||
		stderrors.Is(err, syscall.ECONNREFUSED) ||
		stderrors.Is(err, syscall.EPIPE) {
		return KindRetryable
	}

	// Unknown failures on a network path default to retryable; the
	// attempt budget bounds the damage.
	return KindRetryable
}

// classifyAPIError maps S3 API error codes onto retry kinds.
func classifyAPIError(apiErr smithy.APIError) Kind {
	switch apiErr.ErrorCode() {
	case "SlowDown", "Throttling", "ThrottlingException", "TooManyRequests",
		"RequestTimeout", "RequestTimeoutException", "InternalError",
		"ServiceUnavailable", "503", "500":
		return KindRetryable
	case "AccessDenied", "Forbidden", "403",
		"NoSuchKey", "NoSuchBucket", "NotFound", "404",
		"InvalidRequest", "InvalidArgument", "MalformedXML",
		"SignatureDoesNotMatch", "InvalidAccessKeyId", "ExpiredToken",
		"NoSuchUpload", "400":
		return KindFatal
	}

	// Server faults are worth another try; client faults are not.
	if apiErr.ErrorFault() == smithy.FaultServer {
		return KindRetryable
	}
	if apiErr.ErrorFault() == smithy.FaultClient {
		return KindFatal
	}
	return KindRetryable
}
