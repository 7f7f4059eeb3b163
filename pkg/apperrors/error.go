// Package apperrors is the service's typed error taxonomy. Every error that
// can be surfaced to a client travels as one of these values so it can be
// projected directly onto a MSG_ERROR wire payload.
package apperrors

import (
	"fmt"
	"runtime"
	"strings"
)

// Error carries a taxonomy Code plus enough context to log and to answer a
// client with a MSG_ERROR payload (code, message, context string).
type Error struct {
	Code    Code
	Message string
	Context string
	Details map[string]any
	Err     error
	Stack   string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Code.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error carrying only a code; Message defaults to the code's
// taxonomy name.
func New(code Code) *Error {
	return &Error{Code: code, Message: code.String(), Stack: getStack(2)}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Stack: getStack(2)}
}

// Wrap attaches a code to an existing error, preserving it for Unwrap.
// If err is already an *Error its code is overwritten and it is returned
// unchanged otherwise, matching how a single failure is expected to carry
// exactly one taxonomy code end to end.
func Wrap(err error, code Code) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		e.Code = code
		return e
	}
	return &Error{Code: code, Message: err.Error(), Err: err, Stack: getStack(2)}
}

// Wrapf wraps err with a code and a formatted message that replaces the
// underlying error's message on the wire (the underlying error remains
// reachable via Unwrap for logs).
func Wrapf(err error, code Code, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err, Stack: getStack(2)}
}

// WithMessage overrides the message.
func (e *Error) WithMessage(msg string) *Error {
	e.Message = msg
	return e
}

// WithContext sets the short context string surfaced on the wire.
func (e *Error) WithContext(ctx string) *Error {
	e.Context = ctx
	return e
}

// WithDetail attaches a key-value detail (log-only, not sent on the wire).
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// GetCode extracts the taxonomy code from any error, defaulting to Internal
// for errors that never went through this package.
func GetCode(err error) Code {
	if err == nil {
		return Success
	}
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return Internal
}

// As extracts the *Error from any error, wrapping foreign errors as
// Internal so callers always get a taxonomy code to project onto the wire.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	return Wrap(err, Internal)
}

// Is reports whether err carries the given taxonomy code.
func Is(err error, code Code) bool {
	if err == nil {
		return false
	}
	if e, ok := err.(*Error); ok {
		return e.Code == code
	}
	return false
}

func getStack(skip int) string {
	const maxDepth = 10
	var pcs [maxDepth]uintptr
	n := runtime.Callers(skip+1, pcs[:])
	if n == 0 {
		return ""
	}
	frames := runtime.CallersFrames(pcs[:n])
	var b strings.Builder
	for {
		frame, more := frames.Next()
		if strings.Contains(frame.Function, "runtime.") {
			if !more {
				break
			}
			continue
		}
		fmt.Fprintf(&b, "\n\t%s:%d %s", frame.File, frame.Line, frame.Function)
		if !more {
			break
		}
	}
	return b.String()
}

// Convenience constructors mirroring the common taxonomy entry points.

func BadRequest(msg string) *Error         { return New(InvalidArgument).WithMessage(msg) }
func NotFoundError(resource string) *Error { return Newf(NotFound, "%s not found", resource) }
func PermissionError(msg string) *Error    { return New(Permission).WithMessage(msg) }
func InternalError(err error) *Error {
	if err == nil {
		return New(Internal)
	}
	return Wrap(err, Internal)
}
