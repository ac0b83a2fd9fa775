package errors

import (
	"errors"
)

// Engine error taxonomy. Subsystems return these as values; the update
// dispatcher logs them and keeps processing other events.
var (
	// ErrInvalidDuration marks a malformed or out-of-range duration token.
	// Surfaced to the invoking admin as a usage message, never retried.
	ErrInvalidDuration = errors.New("invalid duration")

	// ErrInsufficientPrivilege means the platform refused an enforcement
	// action. The owning subsystem auto-disables itself for the chat.
	ErrInsufficientPrivilege = errors.New("insufficient privilege")

	// ErrUnknownTarget means the acting user could not be resolved to a
	// platform identity.
	ErrUnknownTarget = errors.New("unknown target")

	// ErrTooStrict rejects flood limits in the 1..5 range.
	ErrTooStrict = errors.New("limit too strict")

	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
)
