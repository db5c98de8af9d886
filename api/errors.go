// Package api
// Author: momentics <momentics@gmail.com>
//
// Error taxonomy shared by the session core, the control channel and the server loop.

package api

import (
	"errors"
	"fmt"
)

// Sentinel errors. Callers match them with errors.Is; producers wrap them with %w.
var (
	ErrCapacityExceeded = errors.New("session capacity exceeded")
	ErrMalformedMessage = errors.New("malformed control message")
	ErrIO               = errors.New("i/o error")
	ErrTimeout          = errors.New("operation timeout")
	ErrBind             = errors.New("bind error")
	ErrAlloc            = errors.New("resource allocation failed")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrQueueFull        = errors.New("control queue full")
	ErrNotRunning       = errors.New("server not running")
	ErrAlreadyRunning   = errors.New("server already running")
	ErrAlreadyExists    = errors.New("resource already exists")
	ErrNotFound         = errors.New("resource not found")
	ErrNotSupported     = errors.New("operation not supported")
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeCapacityExceeded
	ErrCodeMalformedMessage
	ErrCodeIO
	ErrCodeTimeout
	ErrCodeBind
	ErrCodeAlloc
	ErrCodeNotSupported
	ErrCodeInternal
)

var codeSentinels = map[ErrorCode]error{
	ErrCodeInvalidArgument:  ErrInvalidArgument,
	ErrCodeCapacityExceeded: ErrCapacityExceeded,
	ErrCodeMalformedMessage: ErrMalformedMessage,
	ErrCodeIO:               ErrIO,
	ErrCodeTimeout:          ErrTimeout,
	ErrCodeBind:             ErrBind,
	ErrCodeAlloc:            ErrAlloc,
	ErrCodeNotSupported:     ErrNotSupported,
}

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if len(e.Context) == 0 {
		return msg
	}
	return fmt.Sprintf("%s (context: %+v)", msg, e.Context)
}

// Unwrap exposes the cause and, failing that, the sentinel matching Code.
func (e *Error) Unwrap() []error {
	var out []error
	if e.Err != nil {
		out = append(out, e.Err)
	}
	if s, ok := codeSentinels[e.Code]; ok {
		out = append(out, s)
	}
	return out
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// Wrap attaches a cause to the error.
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// CodeOf returns the code of the first *Error in err's chain, or a code derived from
// the sentinel it wraps.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	for code, s := range codeSentinels {
		if errors.Is(err, s) {
			return code
		}
	}
	return ErrCodeInternal
}
