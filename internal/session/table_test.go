// File: internal/session/table_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package session_test

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/momentics/hioload-httpd/api"
	"github.com/momentics/hioload-httpd/internal/session"
)

func newTable(t *testing.T, capacity int) *session.Table {
	t.Helper()
	tbl, err := session.NewTable(capacity)
	if err != nil {
		t.Fatalf("NewTable(%d): %v", capacity, err)
	}
	return tbl
}

func scan(tbl *session.Table) []api.Handle {
	var out []api.Handle
	for s, c := tbl.Next(session.Begin); s != nil; s, c = tbl.Next(c) {
		out = append(out, s.Handle())
	}
	return out
}

func TestNewTable_InvalidCapacity(t *testing.T) {
	for _, c := range []int{0, -1} {
		if _, err := session.NewTable(c); !errors.Is(err, api.ErrInvalidArgument) {
			t.Errorf("NewTable(%d) err = %v, want ErrInvalidArgument", c, err)
		}
	}
}

func TestTable_InsertUntilFull(t *testing.T) {
	tbl := newTable(t, 2)
	a, err := tbl.Insert(10)
	if err != nil {
		t.Fatalf("Insert a: %v", err)
	}
	if a.State() != api.SessionActive {
		t.Errorf("state after insert = %v, want active", a.State())
	}
	if _, err := tbl.Insert(11); err != nil {
		t.Fatalf("Insert b: %v", err)
	}
	if !tbl.Full() {
		t.Error("table should be full")
	}
	if _, err := tbl.Insert(12); !errors.Is(err, api.ErrCapacityExceeded) {
		t.Fatalf("Insert c err = %v, want ErrCapacityExceeded", err)
	}
	if tbl.Len() != 2 {
		t.Errorf("Len = %d, want 2", tbl.Len())
	}
}

func TestTable_InsertRejectsBadHandles(t *testing.T) {
	tbl := newTable(t, 4)
	if _, err := tbl.Insert(api.InvalidHandle); !errors.Is(err, api.ErrInvalidArgument) {
		t.Errorf("Insert(invalid) err = %v", err)
	}
	if _, err := tbl.Insert(3); err != nil {
		t.Fatal(err)
	}
	if _, err := tbl.Insert(3); !errors.Is(err, api.ErrAlreadyExists) {
		t.Errorf("duplicate Insert err = %v", err)
	}
}

func TestTable_DeleteIdempotent(t *testing.T) {
	tbl := newTable(t, 2)
	if _, err := tbl.Insert(5); err != nil {
		t.Fatal(err)
	}
	if _, ok := tbl.Delete(5); !ok {
		t.Fatal("first delete should report removal")
	}
	if _, ok := tbl.Delete(5); ok {
		t.Fatal("second delete should be a no-op")
	}
	if tbl.Len() != 0 {
		t.Errorf("Len = %d after delete", tbl.Len())
	}
	if _, ok := tbl.Get(5); ok {
		t.Error("deleted handle still resolvable")
	}
}

func TestTable_SlotStableAndReused(t *testing.T) {
	tbl := newTable(t, 3)
	a, _ := tbl.Insert(1)
	b, _ := tbl.Insert(2)
	c, _ := tbl.Insert(3)
	if a.Slot() != 0 || b.Slot() != 1 || c.Slot() != 2 {
		t.Fatalf("slots = %d,%d,%d", a.Slot(), b.Slot(), c.Slot())
	}
	tbl.Delete(2)
	d, _ := tbl.Insert(4)
	if d.Slot() != 1 {
		t.Errorf("reused slot = %d, want 1", d.Slot())
	}
	if got, _ := tbl.Get(3); got.Slot() != 2 {
		t.Errorf("slot of 3 moved to %d", got.Slot())
	}
	if got := scan(tbl); len(got) != 3 || got[0] != 1 || got[1] != 4 || got[2] != 3 {
		t.Errorf("scan = %v, want [1 4 3]", got)
	}
}

func TestTable_DeleteDuringScan(t *testing.T) {
	tbl := newTable(t, 6)
	for h := api.Handle(1); h <= 6; h++ {
		if _, err := tbl.Insert(h); err != nil {
			t.Fatal(err)
		}
	}
	doomed := map[api.Handle]bool{1: true, 3: true, 4: true, 6: true}
	visits := make(map[api.Handle]int)

	for s, c := tbl.Next(session.Begin); s != nil; s, c = tbl.Next(c) {
		h := s.Handle()
		visits[h]++
		if doomed[h] {
			c, _ = tbl.Delete(h)
		}
	}
	for h := api.Handle(1); h <= 6; h++ {
		if visits[h] != 1 {
			t.Errorf("handle %d visited %d times", h, visits[h])
		}
	}
	if got := scan(tbl); len(got) != 2 || got[0] != 2 || got[1] != 5 {
		t.Errorf("remaining = %v, want [2 5]", got)
	}
}

func TestTable_DeleteReturnsPredecessor(t *testing.T) {
	tbl := newTable(t, 4)
	for h := api.Handle(10); h < 14; h++ {
		tbl.Insert(h)
	}
	tbl.Delete(11)
	c, _ := tbl.Delete(12)
	if c != session.Cursor(0) {
		t.Errorf("predecessor cursor = %d, want 0", c)
	}
	c, _ = tbl.Delete(10)
	if c != session.Begin {
		t.Errorf("predecessor of first slot = %d, want Begin", c)
	}
}

func TestTable_LeastRecentlyUsed(t *testing.T) {
	tbl := newTable(t, 3)
	if tbl.LeastRecentlyUsed() != nil {
		t.Fatal("empty table has no LRU")
	}
	a, _ := tbl.Insert(1)
	b, _ := tbl.Insert(2)
	c, _ := tbl.Insert(3)

	tbl.Touch(a)
	if lru := tbl.LeastRecentlyUsed(); lru != b {
		t.Fatalf("LRU = %v, want 2", lru.Handle())
	}
	tbl.MarkPendingClose(b)
	if lru := tbl.LeastRecentlyUsed(); lru != c {
		t.Fatalf("LRU skipping pending close = %v, want 3", lru.Handle())
	}
	if !tbl.HasPendingClose() {
		t.Error("HasPendingClose = false")
	}
}

func TestTable_CopyHandles(t *testing.T) {
	tbl := newTable(t, 4)
	tbl.Insert(7)
	tbl.Insert(8)
	tbl.Insert(9)

	if _, err := tbl.CopyHandles(make([]api.Handle, 2)); !errors.Is(err, api.ErrInvalidArgument) {
		t.Fatalf("short buffer err = %v", err)
	}
	buf := make([]api.Handle, 4)
	n, err := tbl.CopyHandles(buf)
	if err != nil || n != 3 {
		t.Fatalf("CopyHandles = %d, %v", n, err)
	}
	if buf[0] != 7 || buf[1] != 8 || buf[2] != 9 {
		t.Errorf("handles = %v", buf[:n])
	}
	if hs := tbl.Handles(); len(hs) != 3 {
		t.Errorf("Handles = %v", hs)
	}
}

func TestTable_SessionIDFollowsReuse(t *testing.T) {
	tbl := newTable(t, 2)
	if _, ok := tbl.SessionID(7); ok {
		t.Fatal("SessionID of an empty table")
	}
	first, err := tbl.Insert(7)
	if err != nil {
		t.Fatal(err)
	}
	id, ok := tbl.SessionID(7)
	if !ok || id != first.ID() {
		t.Fatalf("SessionID = %q, %v, want %q", id, ok, first.ID())
	}

	tbl.Delete(7)
	if _, ok := tbl.SessionID(7); ok {
		t.Fatal("SessionID after Delete")
	}
	second, err := tbl.Insert(7)
	if err != nil {
		t.Fatal(err)
	}
	id, _ = tbl.SessionID(7)
	if id != second.ID() || id == first.ID() {
		t.Errorf("SessionID after reuse = %q, first %q, second %q", id, first.ID(), second.ID())
	}
}

func TestTable_OutboundQueue(t *testing.T) {
	tbl := newTable(t, 1)
	s, _ := tbl.Insert(1)
	if s.Pending() {
		t.Fatal("fresh session is pending")
	}
	s.Enqueue([]byte("ab"))
	s.Enqueue([]byte("cd"))
	if !s.Pending() {
		t.Fatal("queued output should make the session pending")
	}
	if got := string(s.PeekOutbound()); got != "ab" {
		t.Fatalf("head = %q", got)
	}
	s.PopOutbound()
	if got := string(s.PeekOutbound()); got != "cd" {
		t.Fatalf("second chunk = %q", got)
	}
	s.PopOutbound()
	if s.Pending() || s.PeekOutbound() != nil {
		t.Error("queue should be drained")
	}
	s.PopOutbound()
	s.Enqueue(nil)
	if s.Pending() {
		t.Error("empty chunk made the session pending")
	}
}

// TestTable_CapacityNeverExceeded drives random insert/delete sequences.
func TestTable_CapacityNeverExceeded(t *testing.T) {
	const capacity = 8
	tbl := newTable(t, capacity)
	rng := rand.New(rand.NewSource(42))
	open := map[api.Handle]bool{}
	next := api.Handle(100)

	for i := 0; i < 5000; i++ {
		if rng.Intn(2) == 0 {
			_, err := tbl.Insert(next)
			switch {
			case err == nil:
				open[next] = true
			case errors.Is(err, api.ErrCapacityExceeded):
				if len(open) != capacity {
					t.Fatalf("rejected with %d open", len(open))
				}
			default:
				t.Fatal(err)
			}
			next++
		} else {
			for h := range open {
				tbl.Delete(h)
				delete(open, h)
				break
			}
		}
		if tbl.Len() > capacity || tbl.Len() != len(open) {
			t.Fatalf("Len = %d, open = %d", tbl.Len(), len(open))
		}
	}
}
