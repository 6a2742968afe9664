// Package platformerr centralizes the platform's error taxonomy: public
// operations report classified failures as one of these kinds (or wrap
// one with fmt.Errorf's %w). Some filesystem, git and setup failures are
// returned as plain wrapped errors, for which KindOf reports the empty
// Kind.
package platformerr

import (
	"errors"
	"fmt"
)

// Kind identifies which taxonomy bucket an error belongs to.
type Kind string

const (
	MalformedKit      Kind = "MalformedKit"
	InvalidVersion    Kind = "InvalidVersion"
	VersionExists     Kind = "VersionExists"
	KitNotFound       Kind = "KitNotFound"
	ModuleNotFound    Kind = "ModuleNotFound"
	InvalidPath       Kind = "InvalidPath"
	CapabilityDenied  Kind = "CapabilityDenied"
	CompositionError  Kind = "CompositionError"
	FunctionNotFound  Kind = "FunctionNotFound"
	ToolError         Kind = "ToolError"
	AgentRunnerError  Kind = "AgentRunnerError"
	PlatformCallFailed Kind = "PlatformCallFailed"
	RegistryError     Kind = "RegistryError"
	DecryptionError   Kind = "DecryptionError"
	DBError           Kind = "DBError"
)

// Error is a typed platform error carrying a taxonomy Kind plus a
// human-readable message and optional wrapped cause.
type Error struct {
	kind    Kind
	message string
	cause   error
}

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{kind: kind, message: message}
}

// Wrap constructs an Error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{kind: kind, message: message, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Kind reports the taxonomy bucket, so a Platform Bridge frontend can map
// an error straight to an RPC error payload without inspecting a Go stack.
func (e *Error) Kind() Kind {
	return e.kind
}

// Is supports errors.Is(err, platformerr.New(kind, "")) by comparing kinds.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.kind == other.kind
	}
	return false
}

// Retryable reports whether the kind represents a transient failure a
// caller may reasonably retry (per spec: RegistryError is retryable,
// MalformedKit is not).
func Retryable(kind Kind) bool {
	switch kind {
	case RegistryError, ToolError:
		return true
	default:
		return false
	}
}

// As extracts the *Error from err, if any, mirroring errors.As's contract.
func As(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// KindOf reports the taxonomy Kind of err if it (or something it wraps) is
// a *Error, and the zero Kind otherwise.
func KindOf(err error) Kind {
	if pe, ok := As(err); ok {
		return pe.kind
	}
	return ""
}
