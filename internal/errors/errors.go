// Package errors provides centralized error definitions and classification
// for the artistbatch codebase. The session controller relies on the
// classification helpers to decide whether a failure is retried within the
// session loop or surfaced as a terminal condition for the whole run.
package errors

import (
	"errors"
	"fmt"
	"syscall"
)

// Re-export standard library functions for convenience so callers can
// import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Sentinel errors for the supervision and persistence layers.
var (
	// ErrLaunchFailed indicates an external process could not be started,
	// typically because the executable or script is missing.
	ErrLaunchFailed = New("process launch failed")

	// ErrServiceNotReady indicates the service process never reached
	// readiness (explicit down signal or early exit).
	ErrServiceNotReady = New("service not ready")

	// ErrSourceUnavailable indicates the candidate source store cannot
	// be read.
	ErrSourceUnavailable = New("candidate source store unavailable")

	// ErrProgressUnavailable indicates the progress store cannot be
	// opened or created.
	ErrProgressUnavailable = New("progress store unavailable")

	// ErrPersistence indicates a completion record could not be written.
	// Callers log this and continue; the task itself already succeeded.
	ErrPersistence = New("completion record write failed")
)

// LaunchError wraps a process launch failure with the spec that failed.
type LaunchError struct {
	Path string
	Err  error
}

// NewLaunchError creates a LaunchError for the given executable path.
func NewLaunchError(path string, err error) *LaunchError {
	return &LaunchError{Path: path, Err: err}
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s: %v", e.Path, e.Err)
}

func (e *LaunchError) Unwrap() error { return ErrLaunchFailed }

// StoreError wraps a failure from one of the durable stores.
type StoreError struct {
	Store string // "source", "progress", or "metadata"
	Op    string
	Err   error
}

// NewStoreError creates a StoreError for the given store and operation.
func NewStoreError(store, op string, err error) *StoreError {
	return &StoreError{Store: store, Op: op, Err: err}
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s store: %s: %v", e.Store, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// IsEnvironment reports whether err is a resource/environment failure that
// retrying cannot fix: an unreadable source store, an unopenable progress
// store, or OS-level resource exhaustion on fork/exec. These propagate past
// the session controller and end the run.
func IsEnvironment(err error) bool {
	if err == nil {
		return false
	}
	if Is(err, ErrSourceUnavailable) || Is(err, ErrProgressUnavailable) {
		return true
	}
	return IsResourceExhaustion(err)
}

// IsResourceExhaustion reports whether err stems from the OS refusing to
// create a process or thread.
func IsResourceExhaustion(err error) bool {
	return Is(err, syscall.EAGAIN) || Is(err, syscall.ENOMEM) || Is(err, syscall.EMFILE) || Is(err, syscall.ENFILE)
}

// IsRetryable reports whether err describes a transient task failure that
// the session loop may retry after backoff.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsEnvironment(err) {
		return false
	}
	return Is(err, ErrLaunchFailed) || Is(err, ErrServiceNotReady)
}
