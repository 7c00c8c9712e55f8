package service

import "errors"

var (
	// ErrUserUnavailable wraps any failure of the gating user lookup other than not-found.
	ErrUserUnavailable = errors.New("user service unavailable")
	// ErrNotConfigured is returned when a required reader was never supplied.
	ErrNotConfigured = errors.New("service not configured")
)
