package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Runtime error taxonomy
// ---------------------------------------------------------------------------

// ErrorKind classifies a runtime error.
type ErrorKind int

const (
	SyntaxError ErrorKind = iota
	TypeError
	RangeError
	ReferenceError
	OutOfMemory
	InternalError
)

var errorKindNames = map[ErrorKind]string{
	SyntaxError:    "SyntaxError",
	TypeError:      "TypeError",
	RangeError:     "RangeError",
	ReferenceError: "ReferenceError",
	OutOfMemory:    "OutOfMemory",
	InternalError:  "InternalError",
}

func (k ErrorKind) String() string {
	if s, ok := errorKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Error is a runtime error raised by the heap, the conversions, or the
// evaluator. Errors unwind across the evaluator boundary; the heap never
// raises anything but OutOfMemory.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string {
	return e.Kind.String() + ": " + e.Msg
}

// NewError creates a runtime error of the given kind.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the error kind of err, or InternalError for foreign errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return InternalError
}

func outOfMemory(need, avail uint32) *Error {
	return NewError(OutOfMemory, "allocation of %d slots exceeds capacity (%d free)", need, avail)
}
