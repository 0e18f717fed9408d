package entity

import (
	"errors"
	"fmt"
)

// DecodeError covers a single frame or file that could not be decoded. It
// never aborts the run.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("decode %s: %v", e.Path, e.Err) }
func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeError covers a frame the encoder rejected.
type EncodeError struct {
	Path string
	Err  error
}

func (e *EncodeError) Error() string { return fmt.Sprintf("encode %s: %v", e.Path, e.Err) }
func (e *EncodeError) Unwrap() error { return e.Err }

// TransportError is a retryable connection-level failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport %s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// AuthError is fatal: an invalid credential will not become valid by
// retrying.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string { return "authentication rejected: " + e.Reason }

var (
	// ErrUnknownFrame marks a response whose frame id is not pending
	// (duplicate or stale). Logged, never fatal.
	ErrUnknownFrame = errors.New("unknown frame id")

	// ErrFrameTimeout is the resolution attached to a frame whose response
	// never arrived within its deadline.
	ErrFrameTimeout = errors.New("frame response timed out")

	// ErrRetriesExhausted terminates a frame after its bounded resubmission
	// budget is spent.
	ErrRetriesExhausted = errors.New("send retries exhausted")
)

// IsFatal reports whether err must terminate the run instead of being
// absorbed into a per-frame failure.
func IsFatal(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}
