//go:build linux || darwin

// File: reactor/poll_unix.go
// Author: momentics <momentics@gmail.com>
//
// poll(2) based readiness multiplexer.

package reactor

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-httpd/api"
)

type pollPoller struct {
	fds []unix.PollFd
}

func newPollPoller() (api.Poller, error) {
	return &pollPoller{}, nil
}

// Wait polls every handle of set for POLLIN. POLLNVAL marks the entry invalid;
// hang-ups and errors are reported as readable so the next read surfaces them.
// An interrupted call returns (0, nil).
func (p *pollPoller) Wait(set *api.WaitSet, timeoutMs int) (int, error) {
	set.ClearResults()
	p.fds = p.fds[:0]
	for i := 0; i < set.Len(); i++ {
		p.fds = append(p.fds, unix.PollFd{Fd: int32(set.At(i).Handle), Events: unix.POLLIN})
	}

	_, err := unix.Poll(p.fds, timeoutMs)
	if err == unix.EINTR {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("poll: %w: %w", api.ErrIO, err)
	}

	flagged := 0
	for i := range p.fds {
		re := p.fds[i].Revents
		if re == 0 {
			continue
		}
		in := set.At(i)
		if re&unix.POLLNVAL != 0 {
			in.Invalid = true
		} else {
			in.Ready = true
		}
		flagged++
	}
	return flagged, nil
}

// Forget is a no-op: poll keeps no kernel-side state.
func (p *pollPoller) Forget(api.Handle) {}

func (p *pollPoller) Close() error { return nil }
