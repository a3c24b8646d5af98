// Package undo implements the reversal half of the audit engine: analyzing
// whether a recorded action can still be undone, authorizing who may undo it,
// and executing the undo itself with a race-safe state machine.
package undo

import (
	"errors"
	"fmt"
)

// ErrRecordNotFound is returned when the audit record an operation names does
// not exist.
var ErrRecordNotFound = errors.New("audit record not found")

// FailureKind partitions undo failures so API surfaces can explain *why* an
// undo was refused instead of returning a generic error.
type FailureKind string

const (
	// FailureValidation covers bad input and ineligible records: rejected
	// before any state changes.
	FailureValidation FailureKind = "validation"

	// FailureSnapshot covers backup creation failures at record time.
	FailureSnapshot FailureKind = "snapshot"

	// FailureRaceLost means another undo on the same record started or
	// completed first. A user-visible "already reversed" condition, not a
	// server error.
	FailureRaceLost FailureKind = "race_lost"

	// FailureRestore means the backup was unreadable or could not be applied.
	// The record's undoability is left unchanged so a retry stays possible.
	FailureRestore FailureKind = "restore"

	// FailureExpired means the undo was attempted after the retention window.
	// Kept distinct from FailureRaceLost so the UI can explain the difference.
	FailureExpired FailureKind = "expired"
)

// Error carries the failure kind alongside the cause.
type Error struct {
	Kind FailureKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("undo %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether a later attempt on the same record could succeed.
// Race losses and expiry are final; restore failures are not.
func (e *Error) Retryable() bool {
	return e.Kind == FailureRestore
}

func failf(kind FailureKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}
