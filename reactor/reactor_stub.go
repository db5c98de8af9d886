//go:build !linux

// File: reactor/reactor_stub.go
// Author: momentics <momentics@gmail.com>
//
// Platforms without epoll fall back to poll(2).

package reactor

import (
	"fmt"

	"github.com/momentics/hioload-httpd/api"
)

const defaultKind = KindPoll

func newEpollPoller() (api.Poller, error) {
	return nil, fmt.Errorf("epoll poller: %w", api.ErrNotSupported)
}
