package downstream

import (
	"errors"
	"fmt"
)

// Sentinel kinds for gateway errors.
var (
	// ErrDownstream matches every *DownstreamError.
	ErrDownstream = errors.New("downstream failure")
	// ErrUserNotFound signals that the user service answered 404.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidBaseURL is returned by constructors given an unusable URL.
	ErrInvalidBaseURL = errors.New("invalid base url")
)

// DownstreamError describes a failed call to a downstream service.
// StatusCode is zero when no response was received.
type DownstreamError struct {
	Service    string
	StatusCode int
	Err        error
}

func (e *DownstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s service: status %d: %v", e.Service, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s service: %v", e.Service, e.Err)
}

// Unwrap exposes the cause.
func (e *DownstreamError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrDownstream) true for any DownstreamError.
func (e *DownstreamError) Is(target error) bool { return target == ErrDownstream }
