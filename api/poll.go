// Package api
// Author: momentics
//
// Readiness multiplexing contract: wait for read-readiness across a set of endpoints.

package api

// Poller waits for read-readiness across the endpoints of a WaitSet.
// Any mechanism (poll, epoll, kqueue, a user-space reactor) may satisfy it.
type Poller interface {
	// Wait blocks until at least one endpoint of set is readable or invalid.
	// timeoutMs < 0 blocks indefinitely, 0 returns immediately.
	// Returns the number of endpoints flagged in set.
	Wait(set *WaitSet, timeoutMs int) (int, error)

	// Forget drops any kernel-side registration of h before it is closed.
	Forget(h Handle)

	// Close releases the poller backend.
	Close() error
}

// Interest is one endpoint of a WaitSet and the readiness reported for it.
type Interest struct {
	Handle  Handle
	Ready   bool
	Invalid bool
}

// WaitSet is rebuilt by the server loop on every iteration.
type WaitSet struct {
	entries []Interest
	index   map[Handle]int
}

// NewWaitSet preallocates room for n endpoints.
func NewWaitSet(n int) *WaitSet {
	return &WaitSet{
		entries: make([]Interest, 0, n),
		index:   make(map[Handle]int, n),
	}
}

// Reset empties the set and keeps its storage.
func (w *WaitSet) Reset() {
	w.entries = w.entries[:0]
	clear(w.index)
}

// Add registers h; adding the same handle twice is a no-op.
func (w *WaitSet) Add(h Handle) {
	if !h.Valid() {
		return
	}
	if w.index == nil {
		w.index = make(map[Handle]int)
	}
	if _, ok := w.index[h]; ok {
		return
	}
	w.index[h] = len(w.entries)
	w.entries = append(w.entries, Interest{Handle: h})
}

// Len returns the number of endpoints in the set.
func (w *WaitSet) Len() int { return len(w.entries) }

// At exposes entry i for pollers to fill in.
func (w *WaitSet) At(i int) *Interest { return &w.entries[i] }

// Lookup returns the entry of h, or nil if h is not part of the set.
func (w *WaitSet) Lookup(h Handle) *Interest {
	i, ok := w.index[h]
	if !ok {
		return nil
	}
	return &w.entries[i]
}

// Contains reports whether h is part of the set.
func (w *WaitSet) Contains(h Handle) bool {
	_, ok := w.index[h]
	return ok
}

// Ready reports whether h was flagged readable by the last Wait.
func (w *WaitSet) Ready(h Handle) bool {
	i, ok := w.index[h]
	return ok && w.entries[i].Ready
}

// Invalid reports whether the poller flagged h as not an open descriptor.
func (w *WaitSet) Invalid(h Handle) bool {
	i, ok := w.index[h]
	return ok && w.entries[i].Invalid
}

// ClearResults resets the readiness flags before a Wait.
func (w *WaitSet) ClearResults() {
	for i := range w.entries {
		w.entries[i].Ready = false
		w.entries[i].Invalid = false
	}
}
