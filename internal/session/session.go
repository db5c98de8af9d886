// File: internal/session/session.go
// Package session
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-connection record kept in a Table slot.

package session

import (
	"time"

	"github.com/eapache/queue"
	"github.com/oklog/ulid/v2"

	"github.com/momentics/hioload-httpd/api"
)

// Session holds the state of one accepted connection.
// It is owned by the server loop and must not be touched from other goroutines.
type Session struct {
	handle  api.Handle
	id      ulid.ULID
	slot    int
	state   api.SessionState
	tick    uint64
	pending bool
	ctx     any
	opened  time.Time

	// outbound holds []byte chunks queued for the next processing step.
	outbound *queue.Queue
}

// Handle returns the endpoint owned by the session.
func (s *Session) Handle() api.Handle { return s.handle }

// ID is a unique identifier for logs; handles are reused by the OS, IDs are not.
func (s *Session) ID() string { return s.id.String() }

// Slot returns the stable slot index in the owning Table.
func (s *Session) Slot() int { return s.slot }

// State returns the lifecycle state.
func (s *Session) State() api.SessionState { return s.state }

// LastActive returns the tick of the last successful read or write.
func (s *Session) LastActive() uint64 { return s.tick }

// OpenedAt returns the registration time.
func (s *Session) OpenedAt() time.Time { return s.opened }

// Pending reports whether the session must be processed without new readiness.
func (s *Session) Pending() bool { return s.pending || s.outboundLen() > 0 }

// SetPending records buffered, unconsumed input.
func (s *Session) SetPending(v bool) { s.pending = v }

// Context returns the opaque per-session user value.
func (s *Session) Context() any { return s.ctx }

// SetContext replaces the per-session user value.
func (s *Session) SetContext(v any) { s.ctx = v }

// Enqueue appends bytes to be written on the next processing step.
func (s *Session) Enqueue(b []byte) {
	if len(b) == 0 {
		return
	}
	if s.outbound == nil {
		s.outbound = queue.New()
	}
	s.outbound.Add(b)
}

// PeekOutbound returns the oldest queued chunk, or nil.
func (s *Session) PeekOutbound() []byte {
	if s.outboundLen() == 0 {
		return nil
	}
	return s.outbound.Peek().([]byte)
}

// PopOutbound removes the oldest queued chunk.
func (s *Session) PopOutbound() {
	if s.outboundLen() > 0 {
		s.outbound.Remove()
	}
}

func (s *Session) outboundLen() int {
	if s.outbound == nil {
		return 0
	}
	return s.outbound.Length()
}

func (s *Session) reset() {
	*s = Session{handle: api.InvalidHandle, slot: s.slot}
}
