/*
Copyright (C) 2026 The picotm Authors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package perror is the structured failure descriptor carried on every
// transactional operation. It is the target-language sum type standing in
// for the source's `struct picotm_error*` out-parameter.
package perror

import "fmt"

// Kind selects which field of Error is meaningful.
type Kind uint8

const (
	NoError Kind = iota
	KindErrno
	KindErrorCode
	KindKernelCode
	KindConflicting
)

// ErrorCode enumerates structural, usually non-recoverable failures.
type ErrorCode int

const (
	OutOfMemory ErrorCode = iota
	GeneralError
	InvalidFd
	KernRet
)

func (c ErrorCode) String() string {
	switch c {
	case OutOfMemory:
		return "out of memory"
	case InvalidFd:
		return "invalid file descriptor"
	case KernRet:
		return "kernel return error"
	default:
		return "general error"
	}
}

// Error is the structured failure descriptor. A zero Error has Kind
// NoError and represents success; callers should check IsSet before
// reading the other fields.
type Error struct {
	Kind           Kind
	Errno          int
	Code           ErrorCode
	KernelCode     int
	Conflicting    any // frame-or-object handle, nil if none
	NonRecoverable bool
	Message        string
}

// IsSet reports whether e carries an actual failure.
func (e *Error) IsSet() bool {
	return e != nil && e.Kind != NoError
}

// Error implements the standard error interface so perror.Error composes
// with ordinary Go error-handling idiom.
func (e *Error) Error() string {
	if e == nil || e.Kind == NoError {
		return "picotm: no error"
	}
	switch e.Kind {
	case KindErrno:
		if e.Message != "" {
			return fmt.Sprintf("picotm: errno %d: %s", e.Errno, e.Message)
		}
		return fmt.Sprintf("picotm: errno %d", e.Errno)
	case KindErrorCode:
		return fmt.Sprintf("picotm: %s", e.Code)
	case KindKernelCode:
		return fmt.Sprintf("picotm: kernel error %d", e.KernelCode)
	case KindConflicting:
		return fmt.Sprintf("picotm: conflicting access on %v", e.Conflicting)
	default:
		return "picotm: unknown error"
	}
}

// NewErrno builds a recoverable, errno-style error.
func NewErrno(errno int) *Error {
	return &Error{Kind: KindErrno, Errno: errno}
}

// NewErrorCode builds a structural error. Structural errors are
// non-recoverable unless the caller clears NonRecoverable explicitly.
func NewErrorCode(code ErrorCode) *Error {
	return &Error{Kind: KindErrorCode, Code: code, NonRecoverable: true}
}

// NewKernelCode builds an error carrying a raw kernel/OS return code.
func NewKernelCode(code int) *Error {
	return &Error{Kind: KindKernelCode, KernelCode: code}
}

// NewConflicting builds an optimistic-concurrency-violation error,
// optionally carrying a handle to the contending resource (a *frame.Frame,
// a *fildes.FileBuffer, ...). handle may be nil.
func NewConflicting(handle any) *Error {
	return &Error{Kind: KindConflicting, Conflicting: handle}
}

// MarkNonRecoverable flags e as fatal: the transaction that produced it
// cannot be retried and, if Irrevocable, the error is fatal to the
// process.
func (e *Error) MarkNonRecoverable() *Error {
	if e != nil {
		e.NonRecoverable = true
	}
	return e
}

// AsErrno returns (errno, true) if e carries an errno-kind failure.
func (e *Error) AsErrno() (int, bool) {
	if e != nil && e.Kind == KindErrno {
		return e.Errno, true
	}
	return 0, false
}

// IsConflicting reports whether e is an optimistic-concurrency conflict.
func (e *Error) IsConflicting() bool {
	return e != nil && e.Kind == KindConflicting
}
