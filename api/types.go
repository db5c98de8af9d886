// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared API-level type declarations and constants.

package api

import "strconv"

// Handle is the ownership token of a transport endpoint (a socket descriptor).
type Handle int

// InvalidHandle marks an unused slot; it is never a valid descriptor.
const InvalidHandle Handle = -1

// Valid reports whether h may refer to an open endpoint.
func (h Handle) Valid() bool { return h >= 0 }

func (h Handle) String() string {
	if !h.Valid() {
		return "invalid"
	}
	return strconv.Itoa(int(h))
}

// State enumerates the server lifecycle.
type State int32

const (
	StateCreated State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// SessionState enumerates the state of a tracked connection.
type SessionState int

const (
	SessionNew SessionState = iota
	SessionActive
	SessionPendingClose
)

func (s SessionState) String() string {
	switch s {
	case SessionNew:
		return "new"
	case SessionActive:
		return "active"
	case SessionPendingClose:
		return "pending_close"
	default:
		return "unknown"
	}
}
