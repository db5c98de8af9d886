// control/channel.go
// Author: momentics <momentics@gmail.com>
//
// Loopback control channel: a bounded message queue plus a UDP doorbell that wakes
// the server loop out of its readiness wait.

package control

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/momentics/hioload-httpd/api"
	"github.com/momentics/hioload-httpd/internal/transport"
)

// Kind tags a control message.
type Kind uint8

const (
	// KindWork runs Fn(Arg) on the loop goroutine.
	KindWork Kind = iota + 1
	// KindShutdown moves the server to STOPPING.
	KindShutdown
)

func (k Kind) String() string {
	switch k {
	case KindWork:
		return "work"
	case KindShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Message is an immutable command for the server loop.
// Arg stays owned by the sender until Fn has run.
type Message struct {
	Kind Kind
	Fn   api.WorkFunc
	Arg  any
}

// Doorbell frame: 4-byte magic, 1-byte kind, 3 bytes reserved (zero).
const (
	frameSize  = 8
	frameMagic = 0x68696f6c
	// max doorbells consumed per Acknowledge call
	ackBatch = 64
)

// DefaultQueueDepth bounds the number of undelivered messages.
const DefaultQueueDepth = 1024

// Channel carries Messages from any goroutine into the server loop.
type Channel struct {
	log   hclog.Logger
	queue chan Message

	mu     sync.RWMutex
	closed bool
	recv   api.Handle
	send   api.Handle
	addr   netip.AddrPort

	buf [2 * frameSize]byte
}

// NewChannel binds the loop end on 127.0.0.1:port (0 picks a free port) and connects
// the producer end to it. On failure nothing is left open.
func NewChannel(port uint16, depth int, log hclog.Logger) (*Channel, error) {
	if depth <= 0 {
		return nil, fmt.Errorf("control queue depth %d: %w", depth, api.ErrInvalidArgument)
	}
	if log == nil {
		log = hclog.NewNullLogger()
	}
	recv, err := transport.ListenControl(port)
	if err != nil {
		return nil, err
	}
	addr, err := transport.LocalAddr(recv)
	if err != nil {
		transport.Close(recv)
		return nil, err
	}
	send, err := transport.DialControl(addr.Port())
	if err != nil {
		transport.Close(recv)
		return nil, err
	}
	return &Channel{
		log:   log,
		queue: make(chan Message, depth),
		recv:  recv,
		send:  send,
		addr:  addr,
	}, nil
}

// Handle is the endpoint the loop adds to its wait-set.
func (c *Channel) Handle() api.Handle { return c.recv }

// Addr is the loopback address of the loop end.
func (c *Channel) Addr() netip.AddrPort { return c.addr }

// Send queues m and rings the doorbell. It never blocks: a full queue yields
// api.ErrQueueFull, a closed channel api.ErrNotRunning.
func (c *Channel) Send(m Message) error {
	switch m.Kind {
	case KindWork:
		if m.Fn == nil {
			return fmt.Errorf("work without function: %w", api.ErrInvalidArgument)
		}
	case KindShutdown:
	default:
		return fmt.Errorf("message %v: %w", m.Kind, api.ErrInvalidArgument)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return api.ErrNotRunning
	}
	select {
	case c.queue <- m:
	default:
		return fmt.Errorf("control queue (%d): %w", cap(c.queue), api.ErrQueueFull)
	}

	var frame [frameSize]byte
	binary.BigEndian.PutUint32(frame[:4], frameMagic)
	frame[4] = byte(m.Kind)
	err := transport.SendDatagram(c.send, frame[:])
	switch {
	case err == nil, errors.Is(err, api.ErrQueueFull):
		// a full socket buffer already guarantees a wakeup
	default:
		c.log.Warn("control doorbell failed", "kind", m.Kind, "error", err)
	}
	return nil
}

// Backlog returns the number of queued messages.
func (c *Channel) Backlog() int { return len(c.queue) }

// Acknowledge consumes queued doorbell datagrams and reports how many were malformed.
// A malformed datagram is logged and discarded.
func (c *Channel) Acknowledge() (valid, malformed int) {
	for i := 0; i < ackBatch; i++ {
		n, ok, err := transport.RecvDatagram(c.recv, c.buf[:])
		if err != nil {
			c.log.Debug("control receive failed", "error", err)
			return
		}
		if !ok {
			return
		}
		if err := checkFrame(c.buf[:n]); err != nil {
			malformed++
			c.log.Warn("discarding control datagram", "size", n, "error", err)
			continue
		}
		valid++
	}
	return
}

// TryReceive pops at most one message without blocking.
func (c *Channel) TryReceive() (Message, bool) {
	select {
	case m := <-c.queue:
		return m, true
	default:
		return Message{}, false
	}
}

// Discard drops every queued message and returns how many were dropped.
func (c *Channel) Discard() int {
	n := 0
	for {
		if _, ok := c.TryReceive(); !ok {
			return n
		}
		n++
	}
}

// Close releases both endpoints. Later Sends fail with api.ErrNotRunning.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return errors.Join(transport.Close(c.send), transport.Close(c.recv))
}

func checkFrame(b []byte) error {
	if len(b) != frameSize {
		return fmt.Errorf("frame of %d bytes, want %d: %w", len(b), frameSize, api.ErrMalformedMessage)
	}
	if binary.BigEndian.Uint32(b[:4]) != frameMagic {
		return fmt.Errorf("bad frame magic: %w", api.ErrMalformedMessage)
	}
	if k := Kind(b[4]); k != KindWork && k != KindShutdown {
		return fmt.Errorf("unknown frame %v: %w", k, api.ErrMalformedMessage)
	}
	if b[5]|b[6]|b[7] != 0 {
		return fmt.Errorf("reserved bytes set: %w", api.ErrMalformedMessage)
	}
	return nil
}
