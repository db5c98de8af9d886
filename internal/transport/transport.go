// Package transport
// Author: momentics <momentics@gmail.com>
//
// Platform-independent parts of the socket layer.

package transport

import (
	"io"
	"time"

	"github.com/momentics/hioload-httpd/api"
)

// Conn adapts a connected stream socket to io.Reader/io.Writer.
// Each Read waits at most t.Recv for data; each Write finishes within t.Send.
type Conn struct {
	h api.Handle
	t Timeouts
}

// NewConn wraps h. Ownership of h stays with the caller.
func NewConn(h api.Handle, t Timeouts) *Conn {
	return &Conn{h: h, t: t}
}

// Handle returns the wrapped descriptor.
func (c *Conn) Handle() api.Handle { return c.h }

// Read implements io.Reader. A closed peer yields io.EOF, an expired receive timeout
// an error wrapping api.ErrTimeout.
func (c *Conn) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n, err := Read(c.h, p, deadline(c.t.Recv))
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Write implements io.Writer; it loops until p is written, the send timeout
// expires or an error occurs.
func (c *Conn) Write(p []byte) (int, error) {
	written := 0
	dl := deadline(c.t.Send)
	for written < len(p) {
		n, err := Write(c.h, p[written:], dl)
		if err != nil {
			return written, err
		}
		written += n
	}
	return written, nil
}

// ListenConfig describes the TCP listen endpoint.
type ListenConfig struct {
	Port    uint16
	Backlog int
}

// Timeouts are applied to each accepted connection. Zero disables the timeout.
type Timeouts struct {
	Recv time.Duration
	Send time.Duration
}

func deadline(d time.Duration) time.Time {
	if d <= 0 {
		return time.Time{}
	}
	return time.Now().Add(d)
}
