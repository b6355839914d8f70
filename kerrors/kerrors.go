//
// Copyright 2024 The Capsule Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

// Package kerrors implements the abstract error taxonomy of §7: every
// capability-path failure classifies as exactly one Kind, optionally
// wrapping a lower-level cause (e.g. a host allocation error) for
// diagnostics.
package kerrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is one of the abstract error kinds from §7.
type Kind int

const (
	// InvalidIndex: (cspace,cindex) out of range or the reserved (0,0).
	InvalidIndex Kind = iota
	// NoSuchCapability: slot empty or CSpace not allocated.
	NoSuchCapability
	// WrongType: capability type does not match the requested operation.
	WrongType
	// InsufficientPrivilege: a derivable() check against required bits failed.
	InsufficientPrivilege
	// TableFull: no free slot and all CSpaces allocated.
	TableFull
	// SlotOccupied: explicit insert_at into a populated slot.
	SlotOccupied
	// BadArgument: null payload, bad priority, unknown syscall number, ...
	BadArgument
	// ResourceExhausted: kernel allocation failure.
	ResourceExhausted
)

func (k Kind) String() string {
	switch k {
	case InvalidIndex:
		return "InvalidIndex"
	case NoSuchCapability:
		return "NoSuchCapability"
	case WrongType:
		return "WrongType"
	case InsufficientPrivilege:
		return "InsufficientPrivilege"
	case TableFull:
		return "TableFull"
	case SlotOccupied:
		return "SlotOccupied"
	case BadArgument:
		return "BadArgument"
	case ResourceExhausted:
		return "ResourceExhausted"
	}
	return "Unknown"
}

// Error wraps a Kind with a message and an optional cause.
type Error struct {
	Kind  Kind
	msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target is a *Error with the same Kind, so callers can
// write errors.Is(err, kerrors.New(kerrors.TableFull, "")).
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return te.Kind == e.Kind
}

// New constructs an *Error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap constructs an *Error of the given kind, wrapping cause via
// github.com/pkg/errors so the cause carries a stack trace for
// diagnostics; Unwrap returns that stack-annotated cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...), cause: errors.WithStack(cause)}
}

// Of reports the Kind of err, or (0, false) if err is not a *Error.
func Of(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// Is reports whether err classifies as kind.
func Is(err error, kind Kind) bool {
	k, ok := Of(err)
	return ok && k == kind
}
