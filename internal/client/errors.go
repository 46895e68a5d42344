package client

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrConcurrentAccess means another process holds the local file.
	ErrConcurrentAccess = errors.New("local file in use")
)

type AuthError struct {
	Code int
	Err  error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed (%d): %v", e.Code, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

type QuotaExceededError struct {
	Ref string
	Err error
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("storage quota exceeded: %v", e.Err)
}

func (e *QuotaExceededError) Unwrap() error { return e.Err }

// MaintenanceError is the server announcing a maintenance window.
type MaintenanceError struct {
	RetryAfter time.Duration
	Schedule   string
	Err        error
}

func (e *MaintenanceError) Error() string {
	return fmt.Sprintf("server in maintenance, retry after %s: %v", e.RetryAfter, e.Err)
}

func (e *MaintenanceError) Unwrap() error { return e.Err }

type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network unavailable: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ServerError is a 5xx answer that is not a maintenance signal.
type ServerError struct {
	Code int
	Err  error
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error (%d): %v", e.Code, e.Err)
}

func (e *ServerError) Unwrap() error { return e.Err }
