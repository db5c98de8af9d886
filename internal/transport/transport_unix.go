//go:build linux || darwin

// internal/transport/transport_unix.go
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Socket primitives on golang.org/x/sys/unix.

package transport

import (
	"errors"
	"fmt"
	"net/netip"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-httpd/api"
)

// Listen opens a non-blocking IPv4 TCP listen socket on all interfaces.
// Socket creation failures wrap api.ErrAlloc, bind/listen failures api.ErrBind.
func Listen(cfg ListenConfig) (api.Handle, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return api.InvalidHandle, fmt.Errorf("listen socket: %w: %w", api.ErrAlloc, err)
	}
	unix.CloseOnExec(fd)
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return api.InvalidHandle, fmt.Errorf("listen nonblock: %w: %w", api.ErrAlloc, err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return api.InvalidHandle, fmt.Errorf("setsockopt SO_REUSEADDR: %w: %w", api.ErrBind, err)
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: int(cfg.Port)}); err != nil {
		unix.Close(fd)
		return api.InvalidHandle, api.NewError(api.ErrCodeBind, "bind").WithContext("port", cfg.Port).Wrap(err)
	}
	backlog := cfg.Backlog
	if backlog <= 0 {
		backlog = unix.SOMAXCONN
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return api.InvalidHandle, api.NewError(api.ErrCodeBind, "listen").
			WithContext("port", cfg.Port).
			WithContext("backlog", backlog).
			Wrap(err)
	}
	return api.Handle(fd), nil
}

// Accept takes one pending connection off h and returns it, in blocking mode, with
// the peer address. An empty accept queue yields an error wrapping api.ErrTimeout.
func Accept(h api.Handle) (api.Handle, string, error) {
	for {
		nfd, sa, err := unix.Accept(int(h))
		if err == unix.EINTR || err == unix.ECONNABORTED {
			continue
		}
		if err != nil {
			return api.InvalidHandle, "", mapErr("accept", err)
		}
		unix.CloseOnExec(nfd)
		// BSD-derived stacks inherit O_NONBLOCK from the listener
		if err := unix.SetNonblock(nfd, false); err != nil {
			unix.Close(nfd)
			return api.InvalidHandle, "", fmt.Errorf("accept: %w: %w", api.ErrIO, err)
		}
		return api.Handle(nfd), sockaddrString(sa), nil
	}
}

// SetTimeouts applies SO_RCVTIMEO/SO_SNDTIMEO to h. They back up the deadlines
// Read and Write enforce themselves.
func SetTimeouts(h api.Handle, t Timeouts) error {
	if t.Recv > 0 {
		tv := unix.NsecToTimeval(t.Recv.Nanoseconds())
		if err := unix.SetsockoptTimeval(int(h), unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
			return fmt.Errorf("setsockopt SO_RCVTIMEO: %w: %w", api.ErrIO, err)
		}
	}
	if t.Send > 0 {
		tv := unix.NsecToTimeval(t.Send.Nanoseconds())
		if err := unix.SetsockoptTimeval(int(h), unix.SOL_SOCKET, unix.SO_SNDTIMEO, &tv); err != nil {
			return fmt.Errorf("setsockopt SO_SNDTIMEO: %w: %w", api.ErrIO, err)
		}
	}
	return nil
}

// ListenControl opens a non-blocking UDP socket bound to 127.0.0.1:port.
func ListenControl(port uint16) (api.Handle, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		return api.InvalidHandle, fmt.Errorf("control socket: %w: %w", api.ErrAlloc, err)
	}
	unix.CloseOnExec(fd)
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return api.InvalidHandle, fmt.Errorf("control nonblock: %w: %w", api.ErrAlloc, err)
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: int(port), Addr: [4]byte{127, 0, 0, 1}}); err != nil {
		unix.Close(fd)
		return api.InvalidHandle, fmt.Errorf("bind control 127.0.0.1:%d: %w: %w", port, api.ErrBind, err)
	}
	return api.Handle(fd), nil
}

// DialControl returns a non-blocking UDP socket connected to 127.0.0.1:port.
func DialControl(port uint16) (api.Handle, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		return api.InvalidHandle, fmt.Errorf("control client socket: %w: %w", api.ErrAlloc, err)
	}
	unix.CloseOnExec(fd)
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return api.InvalidHandle, fmt.Errorf("control client nonblock: %w: %w", api.ErrAlloc, err)
	}
	if err := unix.Connect(fd, &unix.SockaddrInet4{Port: int(port), Addr: [4]byte{127, 0, 0, 1}}); err != nil {
		unix.Close(fd)
		return api.InvalidHandle, fmt.Errorf("connect control 127.0.0.1:%d: %w: %w", port, api.ErrBind, err)
	}
	return api.Handle(fd), nil
}

// LocalAddr returns the bound address of h.
func LocalAddr(h api.Handle) (netip.AddrPort, error) {
	sa, err := unix.Getsockname(int(h))
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("getsockname: %w: %w", api.ErrIO, err)
	}
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(v.Addr), uint16(v.Port)), nil
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(v.Addr), uint16(v.Port)), nil
	default:
		return netip.AddrPort{}, fmt.Errorf("getsockname: unexpected family: %w", api.ErrNotSupported)
	}
}

// Read reads from a stream socket. The wait for data is bounded by deadline
// (zero means none); an interrupted wait resumes with the remaining budget.
func Read(h api.Handle, p []byte, deadline time.Time) (int, error) {
	for {
		if err := waitFor(h, unix.POLLIN, deadline); err != nil {
			return 0, mapErr("recv", err)
		}
		n, err := unix.Read(int(h), p)
		switch {
		case err == nil:
			return n, nil
		case err == unix.EINTR, err == unix.EAGAIN, err == unix.EWOULDBLOCK:
			continue
		default:
			return 0, mapErr("recv", err)
		}
	}
}

// Write writes what fits into the send buffer before deadline (zero means none).
// It never blocks in the kernel past the wait.
func Write(h api.Handle, p []byte, deadline time.Time) (int, error) {
	for {
		if err := waitFor(h, unix.POLLOUT, deadline); err != nil {
			return 0, mapErr("send", err)
		}
		n, err := unix.SendmsgN(int(h), p, nil, nil, unix.MSG_DONTWAIT)
		switch {
		case err == nil:
			return n, nil
		case err == unix.EINTR, err == unix.EAGAIN, err == unix.EWOULDBLOCK:
			continue
		default:
			return 0, mapErr("send", err)
		}
	}
}

// waitFor polls h for events until deadline. An expired deadline reports EAGAIN,
// the same errno a socket timeout yields.
func waitFor(h api.Handle, events int16, deadline time.Time) error {
	fds := []unix.PollFd{{Fd: int32(h), Events: events}}
	for {
		ms := -1
		if !deadline.IsZero() {
			left := time.Until(deadline)
			if left <= 0 {
				return unix.EAGAIN
			}
			ms = int((left + time.Millisecond - 1) / time.Millisecond)
		}
		n, err := unix.Poll(fds, ms)
		switch {
		case err == unix.EINTR:
			continue
		case err != nil:
			return err
		case n == 0:
			return unix.EAGAIN
		}
		// POLLERR and POLLHUP surface through the following read or write
		return nil
	}
}

// RecvDatagram reads one datagram from a non-blocking socket.
// ok is false when no datagram is queued.
func RecvDatagram(h api.Handle, p []byte) (int, bool, error) {
	for {
		n, _, err := unix.Recvfrom(int(h), p, 0)
		switch {
		case err == nil:
			return n, true, nil
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
			return 0, false, nil
		default:
			return 0, false, fmt.Errorf("recvfrom: %w: %w", api.ErrIO, err)
		}
	}
}

// SendDatagram writes one datagram on a connected, non-blocking socket.
// A full socket buffer is reported as api.ErrQueueFull.
func SendDatagram(h api.Handle, p []byte) error {
	for {
		_, err := unix.Write(int(h), p)
		switch {
		case err == nil:
			return nil
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.ENOBUFS:
			return api.ErrQueueFull
		default:
			return fmt.Errorf("send control: %w: %w", api.ErrIO, err)
		}
	}
}

// Close releases h. Closing an invalid handle is a no-op.
func Close(h api.Handle) error {
	if !h.Valid() {
		return nil
	}
	if err := unix.Close(int(h)); err != nil {
		return fmt.Errorf("close: %w: %w", api.ErrIO, err)
	}
	return nil
}

// Valid reports whether h still refers to an open descriptor.
func Valid(h api.Handle) bool {
	if !h.Valid() {
		return false
	}
	_, err := unix.FcntlInt(uintptr(h), unix.F_GETFD, 0)
	return err == nil
}

// mapErr classifies a socket error; a timed-out blocking call reports EAGAIN.
func mapErr(op string, err error) error {
	code := api.ErrCodeIO
	var errno unix.Errno
	if errors.As(err, &errno) && (errno == unix.EAGAIN || errno == unix.EWOULDBLOCK) {
		code = api.ErrCodeTimeout
	}
	return &api.Error{Code: code, Message: op, Err: err}
}

func sockaddrString(sa unix.Sockaddr) string {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(v.Addr), uint16(v.Port)).String()
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(v.Addr), uint16(v.Port)).String()
	default:
		return "unknown"
	}
}
