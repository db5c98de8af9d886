//go:build !linux && !darwin

// internal/transport/transport_other.go
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Stub implementation for unsupported platforms.

package transport

import (
	"net/netip"
	"time"

	"github.com/momentics/hioload-httpd/api"
)

func Listen(ListenConfig) (api.Handle, error) { return api.InvalidHandle, api.ErrNotSupported }

func Accept(api.Handle) (api.Handle, string, error) {
	return api.InvalidHandle, "", api.ErrNotSupported
}

func SetTimeouts(api.Handle, Timeouts) error { return api.ErrNotSupported }

func ListenControl(uint16) (api.Handle, error) { return api.InvalidHandle, api.ErrNotSupported }

func DialControl(uint16) (api.Handle, error) { return api.InvalidHandle, api.ErrNotSupported }

func LocalAddr(api.Handle) (netip.AddrPort, error) { return netip.AddrPort{}, api.ErrNotSupported }

func Read(api.Handle, []byte, time.Time) (int, error) { return 0, api.ErrNotSupported }

func Write(api.Handle, []byte, time.Time) (int, error) { return 0, api.ErrNotSupported }

func RecvDatagram(api.Handle, []byte) (int, bool, error) { return 0, false, api.ErrNotSupported }

func SendDatagram(api.Handle, []byte) error { return api.ErrNotSupported }

func Close(api.Handle) error { return api.ErrNotSupported }

func Valid(api.Handle) bool { return false }
