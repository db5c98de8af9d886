// File: internal/session/table.go
// Package session
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Fixed-capacity session arena with a free list and LRU bookkeeping.

package session

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/momentics/hioload-httpd/api"
)

// Cursor is a position in a slot-ordered scan. Begin starts a new scan.
type Cursor int

const (
	// Begin positions a scan before the first slot.
	Begin Cursor = -1
)

// Table is an arena of at most Cap() sessions indexed by slot number.
// All mutating methods must be called from the server loop goroutine;
// Handles, CopyHandles and SessionID may be called from anywhere.
type Table struct {
	slots   []Session
	free    []int
	byFD    map[api.Handle]int
	live    int
	clock   uint64
	open    atomic.Pointer[openSet]
}

// openSet is the published view of the occupied slots, in slot order.
type openSet struct {
	handles []api.Handle
	ids     []ulid.ULID
}

// NewTable allocates an arena of capacity slots.
func NewTable(capacity int) (*Table, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("session table capacity %d: %w", capacity, api.ErrInvalidArgument)
	}
	t := &Table{
		slots: make([]Session, capacity),
		free:  make([]int, 0, capacity),
		byFD:  make(map[api.Handle]int, capacity),
	}
	// pop order yields the lowest free slot first
	for i := capacity - 1; i >= 0; i-- {
		t.slots[i] = Session{handle: api.InvalidHandle, slot: i}
		t.free = append(t.free, i)
	}
	t.publish()
	return t, nil
}

// Cap returns the slot count.
func (t *Table) Cap() int { return len(t.slots) }

// Len returns the number of occupied slots.
func (t *Table) Len() int { return t.live }

// Full reports whether no free slot remains.
func (t *Table) Full() bool { return len(t.free) == 0 }

// Insert registers h in a free slot and promotes it to ACTIVE.
func (t *Table) Insert(h api.Handle) (*Session, error) {
	if !h.Valid() {
		return nil, fmt.Errorf("insert handle %v: %w", h, api.ErrInvalidArgument)
	}
	if _, dup := t.byFD[h]; dup {
		return nil, fmt.Errorf("insert handle %v: %w", h, api.ErrAlreadyExists)
	}
	if len(t.free) == 0 {
		return nil, api.ErrCapacityExceeded
	}
	slot := t.free[len(t.free)-1]
	t.free = t.free[:len(t.free)-1]

	s := &t.slots[slot]
	s.reset()
	s.handle = h
	s.id = ulid.Make()
	s.state = api.SessionNew
	s.opened = time.Now()
	t.Touch(s)
	s.state = api.SessionActive

	t.byFD[h] = slot
	t.live++
	t.publish()
	return s, nil
}

// Get returns the session owning h.
func (t *Table) Get(h api.Handle) (*Session, bool) {
	slot, ok := t.byFD[h]
	if !ok {
		return nil, false
	}
	return &t.slots[slot], true
}

// Next returns the first occupied slot after cursor and the cursor to continue from.
// It returns (nil, cursor) once the scan is exhausted.
func (t *Table) Next(cursor Cursor) (*Session, Cursor) {
	for i := int(cursor) + 1; i < len(t.slots); i++ {
		if t.slots[i].handle.Valid() {
			return &t.slots[i], Cursor(i)
		}
	}
	return nil, cursor
}

// Delete releases the slot of h. Deleting an absent handle is a no-op.
// The returned cursor is the deleted slot's occupied predecessor (or Begin), so a scan
// that deleted its current session resumes with Next(cursor) without skipping anything.
func (t *Table) Delete(h api.Handle) (Cursor, bool) {
	slot, ok := t.byFD[h]
	if !ok {
		return Begin, false
	}
	delete(t.byFD, h)
	t.slots[slot].reset()
	t.free = append(t.free, slot)
	t.live--
	t.publish()

	for i := slot - 1; i >= 0; i-- {
		if t.slots[i].handle.Valid() {
			return Cursor(i), true
		}
	}
	return Begin, true
}

// Touch records activity on s.
func (t *Table) Touch(s *Session) {
	t.clock++
	s.tick = t.clock
}

// MarkPendingClose flags s so it is not chosen again for eviction.
func (t *Table) MarkPendingClose(s *Session) {
	if s.handle.Valid() {
		s.state = api.SessionPendingClose
	}
}

// HasPendingClose reports whether any session awaits a scheduled close.
func (t *Table) HasPendingClose() bool {
	for i := range t.slots {
		if t.slots[i].handle.Valid() && t.slots[i].state == api.SessionPendingClose {
			return true
		}
	}
	return false
}

// LeastRecentlyUsed returns the ACTIVE session with the smallest tick, or nil.
// Ties go to the lowest slot.
func (t *Table) LeastRecentlyUsed() *Session {
	var lru *Session
	for i := range t.slots {
		s := &t.slots[i]
		if !s.handle.Valid() || s.state != api.SessionActive {
			continue
		}
		if lru == nil || s.tick < lru.tick {
			lru = s
		}
	}
	return lru
}

// Handles returns the open handles in slot order. Safe from any goroutine.
func (t *Table) Handles() []api.Handle {
	p := t.open.Load()
	out := make([]api.Handle, len(p.handles))
	copy(out, p.handles)
	return out
}

// CopyHandles fills dst with the open handles and returns their count.
// It fails with api.ErrInvalidArgument if dst is too small. Safe from any goroutine.
func (t *Table) CopyHandles(dst []api.Handle) (int, error) {
	p := t.open.Load().handles
	if len(dst) < len(p) {
		return 0, fmt.Errorf("buffer of %d for %d connections: %w", len(dst), len(p), api.ErrInvalidArgument)
	}
	return copy(dst, p), nil
}

// SessionID returns the id of the session currently owning h.
// Safe from any goroutine.
func (t *Table) SessionID(h api.Handle) (string, bool) {
	p := t.open.Load()
	for i, oh := range p.handles {
		if oh == h {
			return p.ids[i].String(), true
		}
	}
	return "", false
}

func (t *Table) publish() {
	p := &openSet{
		handles: make([]api.Handle, 0, t.live),
		ids:     make([]ulid.ULID, 0, t.live),
	}
	for i := range t.slots {
		if t.slots[i].handle.Valid() {
			p.handles = append(p.handles, t.slots[i].handle)
			p.ids = append(p.ids, t.slots[i].id)
		}
	}
	t.open.Store(p)
}
