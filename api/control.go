// File: api/control.go
// Package api defines the cross-goroutine control surface of a running server.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// WorkFunc is deferred work executed on the server loop goroutine.
// arg stays owned by the caller and must outlive the call.
type WorkFunc func(arg any)

// Control is everything an external goroutine may do to a running server.
// None of these methods touch loop-owned state directly.
type Control interface {
	QueueWork(fn WorkFunc, arg any) error
	TriggerClose(h Handle) error
	OpenConnections() []Handle
	CopyOpenConnections(dst []Handle) (int, error)
	State() State
	Stop() error
}
