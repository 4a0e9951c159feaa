// Package errors provides error types and handling for transfer operations.
package errors

import (
	"errors"
	"fmt"
)

// Error represents a transfer operation error with context about the
// operation that failed. It wraps the underlying AWS SDK or filesystem
// error with additional context for better debugging.
type Error struct {
	// Op is the operation that failed (e.g., "uploadPart", "plan", "rename")
	Op string

	// Bucket is the bucket name (if applicable)
	Bucket string

	// Key is the object key or local path (if applicable)
	Key string

	// Err is the underlying error
	Err error
}

// Error implements the error interface by providing a formatted error message.
func (e *Error) Error() string {
	if e.Bucket != "" && e.Key != "" {
		return fmt.Sprintf("shuttle.%s %s/%s: %v", e.Op, e.Bucket, e.Key, e.Err)
	}
	if e.Bucket != "" {
		return fmt.Sprintf("shuttle.%s bucket %s: %v", e.Op, e.Bucket, e.Err)
	}
	if e.Key != "" {
		return fmt.Sprintf("shuttle.%s %s: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("shuttle.%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error chaining support.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithBucket adds bucket context to an existing error.
func (e *Error) WithBucket(bucket string) *Error {
	e.Bucket = bucket
	return e
}

// WithKey adds object key context to an existing error.
func (e *Error) WithKey(key string) *Error {
	e.Key = key
	return e
}

// WithMessage wraps the underlying error with a custom message.
func (e *Error) WithMessage(message string) *Error {
	e.Err = fmt.Errorf("%s: %w", message, e.Err)
	return e
}

// NewError creates a new Error with the given operation and underlying error.
func NewError(op string, err error) *Error {
	return &Error{
		Op:  op,
		Err: err,
	}
}

// NewObjectError creates a new Error with bucket and key context.
func NewObjectError(op, bucket, key string, err error) *Error {
	return &Error{
		Op:     op,
		Bucket: bucket,
		Key:    key,
		Err:    err,
	}
}

// Sentinel errors for transfer failures. These can be used with
// errors.Is() for error checking.
var (
	// ErrConfig indicates missing or invalid credentials, endpoint or
	// tunables, surfaced before any transfer starts.
	ErrConfig = errors.New("shuttle: invalid configuration")

	// ErrConflictUnresolved indicates a destination collision for which
	// the caller supplied no usable choice.
	ErrConflictUnresolved = errors.New("shuttle: name conflict unresolved")

	// ErrPlan indicates an invalid size or part layout.
	ErrPlan = errors.New("shuttle: invalid transfer plan")

	// ErrRetryExhausted indicates a retryable failure that persisted
	// through the whole attempt budget.
	ErrRetryExhausted = errors.New("shuttle: retry attempts exhausted")

	// ErrObjectNotFound indicates that the requested object does not exist.
	ErrObjectNotFound = errors.New("shuttle: object not found")

	// ErrAccessDenied indicates that access to the resource is denied.
	ErrAccessDenied = errors.New("shuttle: access denied")

	// ErrInvalidInput indicates that the provided input is invalid.
	ErrInvalidInput = errors.New("shuttle: invalid input")

	// ErrInvalidObjectKey indicates that the object key is invalid.
	ErrInvalidObjectKey = errors.New("shuttle: invalid object key")

	// ErrInvalidBucketName indicates that the bucket name is invalid.
	ErrInvalidBucketName = errors.New("shuttle: invalid bucket name")

	// ErrFinalize indicates that multipart completion failed after all
	// parts succeeded.
	ErrFinalize = errors.New("shuttle: multipart finalize failed")

	// ErrCancelled indicates the job or batch was cancelled before
	// reaching a natural terminal state.
	ErrCancelled = errors.New("shuttle: transfer cancelled")

	// ErrTimeout indicates that the operation timed out.
	ErrTimeout = errors.New("shuttle: operation timeout")

	// ErrPathIsFile indicates a folder path level is occupied by a file.
	ErrPathIsFile = errors.New("shuttle: path level exists as a file")
)

// IsObjectNotFound checks if an error indicates that an object was not found.
func IsObjectNotFound(err error) bool {
	return errors.Is(err, ErrObjectNotFound)
}

// IsAccessDenied checks if an error indicates access was denied.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}

// IsCancelled checks if an error indicates a cancelled transfer.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// IsRetryExhausted checks if an error indicates an exhausted retry budget.
func IsRetryExhausted(err error) bool {
	return errors.Is(err, ErrRetryExhausted)
}
