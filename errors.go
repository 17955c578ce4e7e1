package shmuring

import (
	"errors"
	"fmt"
	"syscall"
)

// Error is a structured shmuring error carrying the region/component
// context the failure occurred in, and its errno if the failure
// originated in a syscall.
type Error struct {
	Op        string    // Operation that failed (e.g., "AttachOrInit", "Alloc", "Push")
	Region    string    // Region name/path (empty if not applicable)
	Component string    // Subsystem the error surfaced from ("header", "arena", "ring", "registry", "driver")
	Code      ErrorCode // High-level error category
	Errno     syscall.Errno
	Msg       string
	Inner     error
}

func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.Region != "" {
		parts = append(parts, fmt.Sprintf("region=%s", e.Region))
	}
	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("component=%s", e.Component))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("shmuring: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("shmuring: %s", msg)
}

func (e *Error) Unwrap() error { return e.Inner }

func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode is the high-level error taxonomy of spec.md §7.
type ErrorCode string

const (
	// CodePermissionDenied: map/mprotect returned EPERM/EACCES.
	CodePermissionDenied ErrorCode = "permission denied"
	// CodeMapError: mmap/memfd_create/open of the backing object failed.
	CodeMapError ErrorCode = "map error"
	// CodeOutOfSize: a requested size does not fit its representable
	// bound (size+align past uint32 in the arena, or a region too small
	// for its rings).
	CodeOutOfSize ErrorCode = "out of size"
	// CodeUnenoughSpace: the arena has room in total but no single
	// contiguous span of the requested size is currently free.
	CodeUnenoughSpace ErrorCode = "unenough space"
	// CodeContention: a header attach observed Initializing beyond its
	// local back-off budget.
	CodeContention ErrorCode = "contention"
	// CodeInvalidHeader: magic present but status is Corrupted.
	CodeInvalidHeader ErrorCode = "invalid header"
	// CodeReadOnly: a write was attempted against a read-only mapping.
	CodeReadOnly ErrorCode = "read only"
	// CodeFull: a bounded ring rejected a push because it is at capacity.
	CodeFull ErrorCode = "full"
	// CodeDisconnected: the peer side of a ring or op-cache has closed.
	CodeDisconnected ErrorCode = "disconnected"
	// CodeEmpty: a non-blocking pop found nothing to return.
	CodeEmpty ErrorCode = "empty"
	// CodeIOError is the catch-all for syscall failures not covered above.
	CodeIOError ErrorCode = "I/O error"
	// CodeTimeout: a bounded wait (attach, op, drain) exceeded its deadline.
	CodeTimeout ErrorCode = "timeout"
)

// NewError creates a structured error with no region/component context.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// NewErrorWithErrno creates a structured error carrying a syscall errno.
func NewErrorWithErrno(op string, code ErrorCode, errno syscall.Errno) *Error {
	return &Error{Op: op, Code: code, Errno: errno, Msg: errno.Error()}
}

// NewRegionError creates an error scoped to a named region.
func NewRegionError(op, region string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Region: region, Code: code, Msg: msg}
}

// NewComponentError creates an error scoped to a region and subsystem.
func NewComponentError(op, region, component string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Region: region, Component: component, Code: code, Msg: msg}
}

// WrapError wraps err with shmuring context, preserving any existing
// structured fields and mapping bare syscall errnos to an ErrorCode.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	if se, ok := inner.(*Error); ok {
		return &Error{
			Op:        op,
			Region:    se.Region,
			Component: se.Component,
			Code:      se.Code,
			Errno:     se.Errno,
			Msg:       se.Msg,
			Inner:     se.Inner,
		}
	}

	if errno, ok := inner.(syscall.Errno); ok {
		return &Error{
			Op:    op,
			Code:  mapErrnoToCode(errno),
			Errno: errno,
			Msg:   errno.Error(),
			Inner: inner,
		}
	}

	return &Error{Op: op, Code: CodeIOError, Msg: inner.Error(), Inner: inner}
}

func mapErrnoToCode(errno syscall.Errno) ErrorCode {
	switch errno {
	case syscall.EPERM, syscall.EACCES:
		return CodePermissionDenied
	case syscall.ENOMEM, syscall.ENOSPC:
		return CodeOutOfSize
	case syscall.ETIMEDOUT:
		return CodeTimeout
	case syscall.ENOENT, syscall.EBADF:
		return CodeMapError
	default:
		return CodeIOError
	}
}

// IsCode reports whether err is a *Error carrying the given code.
func IsCode(err error, code ErrorCode) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// IsErrno reports whether err is a *Error carrying the given errno.
func IsErrno(err error, errno syscall.Errno) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Errno == errno
	}
	return false
}
