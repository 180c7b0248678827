package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in a boundary call the error occurred
type Phase string

const (
	PhaseInit    Phase = "init"    // engine creation and shutdown
	PhaseAttach  Phase = "attach"  // thread attachment protocol
	PhaseCall    Phase = "call"    // entry-point dispatch
	PhaseMarshal Phase = "marshal" // buffer conversion
	PhaseParams  Phase = "params"  // parameter block conversion
	PhaseRelease Phase = "release" // foreign memory release
)

// Kind categorizes the error
type Kind string

const (
	KindEngineReported     Kind = "engine_reported" // callee set the error signal
	KindHostPending        Kind = "host_pending"    // host-side error raised during the call
	KindFatal              Kind = "fatal"           // boundary itself is broken, no retry
	KindInvalidInput       Kind = "invalid_input"
	KindInvalidData        Kind = "invalid_data"
	KindOutOfBounds        Kind = "out_of_bounds"
	KindAllocation         Kind = "allocation"
	KindAlreadyInitialized Kind = "already_initialized"
	KindNotInitialized     Kind = "not_initialized"
	KindStaleHandle        Kind = "stale_handle"
	KindNotFound           Kind = "not_found"
)

// Error is the structured error type used throughout the boundary layer
type Error struct {
	Cause  error
	Phase  Phase
	Kind   Kind
	Entry  string // entry-point name, when the error is tied to one call
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Entry != "" {
		b.WriteString(" in ")
		b.WriteString(e.Entry)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error. Empty phase or kind in
// the target act as wildcards, so errors.Is can match on kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase != "" && e.Phase != t.Phase {
		return false
	}
	if t.Kind != "" && e.Kind != t.Kind {
		return false
	}
	return true
}

// IsFatal reports whether err marks the boundary itself as broken.
// After a fatal error no further boundary operation can be trusted.
func IsFatal(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Kind == KindFatal
	}
	return false
}

// Convenience constructors for common error patterns

// EngineReported wraps a failure message set by the engine through the
// error-signal slot. The message is carried verbatim.
func EngineReported(entry, message string) *Error {
	return &Error{
		Phase:  PhaseCall,
		Kind:   KindEngineReported,
		Entry:  entry,
		Detail: message,
	}
}

// HostPending wraps an error raised on the host side while the engine call
// was in flight (typically from a host callback).
func HostPending(entry string, cause error) *Error {
	return &Error{
		Phase: PhaseCall,
		Kind:  KindHostPending,
		Entry: entry,
		Cause: cause,
	}
}

// Fatal creates an unrecoverable boundary error
func Fatal(phase Phase, detail string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindFatal,
		Detail: detail,
		Cause:  cause,
	}
}

// AlreadyInitialized is returned when Init is called on a live instance
func AlreadyInitialized() *Error {
	return &Error{
		Phase:  PhaseInit,
		Kind:   KindAlreadyInitialized,
		Detail: "engine instance already exists",
	}
}

// NotInitialized is returned when a boundary operation runs without a live instance
func NotInitialized() *Error {
	return &Error{
		Phase:  PhaseAttach,
		Kind:   KindNotInitialized,
		Detail: "engine instance has not been created",
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Detail: detail,
	}
}

// OutOfBounds creates an out of bounds memory access error
func OutOfBounds(offset, length uint32) *Error {
	return &Error{
		Phase:  PhaseMarshal,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("access out of bounds: offset=%d length=%d", offset, length),
	}
}

// AllocationFailed creates an allocation failure error
func AllocationFailed(size uint32, cause error) *Error {
	return &Error{
		Phase:  PhaseMarshal,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %d bytes in engine memory", size),
		Cause:  cause,
	}
}

// StaleHandle creates an error for use of a handle after its last release
func StaleHandle(entry string) *Error {
	return &Error{
		Phase:  PhaseCall,
		Kind:   KindStaleHandle,
		Entry:  entry,
		Detail: "object handle used after release",
	}
}

// NotFound creates a not-found error
func NotFound(what, name string) *Error {
	return &Error{
		Phase:  PhaseCall,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// Wrap wraps an existing error with boundary context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
