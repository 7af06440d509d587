// Package errors classifies the error kinds the supervisor can produce,
// trimmed from the much larger classification scheme this project's
// teacher codebase used for its broader container-orchestration surface
// down to the five kinds this spec actually distinguishes.
package errors

import (
	"errors"
	"fmt"
)

// Kind groups an error by which part of the supervisor's contract it
// violates. See spec §7.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindSpawnFailure  Kind = "spawn_failure"
	KindSignalFailure Kind = "signal_failure"
	KindStoreFailure  Kind = "store_failure"
	KindPidReuse      Kind = "pid_reuse"
)

// Error is a classified error: a Kind plus the wrapped cause.
type Error struct {
	Kind Kind
	Op   string // the operation that failed, e.g. "spawn", "upsert"
	Err  error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err is a classified Error of the given kind.
func Is(err error, kind Kind) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind == kind
	}
	return false
}

// Validation wraps err as a KindValidation error.
func Validation(op string, err error) *Error { return New(KindValidation, op, err) }

// SpawnFailure wraps err as a KindSpawnFailure error.
func SpawnFailure(op string, err error) *Error { return New(KindSpawnFailure, op, err) }

// SignalFailure wraps err as a KindSignalFailure error.
func SignalFailure(op string, err error) *Error { return New(KindSignalFailure, op, err) }

// StoreFailure wraps err as a KindStoreFailure error.
func StoreFailure(op string, err error) *Error { return New(KindStoreFailure, op, err) }

// PidReuse wraps err as a KindPidReuse error.
func PidReuse(op string, err error) *Error { return New(KindPidReuse, op, err) }

// Sentinel errors used across package boundaries where a classified
// wrapper isn't needed by the caller.
var (
	ErrNotFound       = errors.New("job not found")
	ErrEmptyJobID     = errors.New("job id cannot be empty")
	ErrEmptyCommand   = errors.New("command cannot be empty")
	ErrMissingFields  = errors.New("record missing required fields")
)
