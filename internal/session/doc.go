// Package session
// Author: momentics <momentics@gmail.com>
//
// Bounded session registry for the server loop.
// Each Session maps to one accepted connection and lives in a fixed slot of a Table
// for its whole lifetime. The Table is an arena with a free list: no allocation per
// connection beyond the session's log id, O(capacity) LRU selection, and slot-ordered
// scans that stay valid while the current session is being deleted.
//
// The Table is single-owner: only the server loop mutates it. Handles/CopyHandles read
// an atomically published snapshot and are safe from any goroutine.

package session
