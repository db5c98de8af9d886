//go:build linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor - Linux epoll implementation.

package reactor

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-httpd/api"
)

const defaultKind = KindEpoll

// epollPoller keeps a level-triggered registration per handle and reconciles it
// with the wait-set on every Wait.
type epollPoller struct {
	epfd       int
	registered map[api.Handle]struct{}
	events     []unix.EpollEvent
}

func newEpollPoller() (api.Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w: %w", api.ErrAlloc, err)
	}
	return &epollPoller{
		epfd:       epfd,
		registered: make(map[api.Handle]struct{}),
	}, nil
}

func (r *epollPoller) Wait(set *api.WaitSet, timeoutMs int) (int, error) {
	set.ClearResults()

	for h := range r.registered {
		if !set.Contains(h) {
			r.Forget(h)
		}
	}
	flagged := 0
	for i := 0; i < set.Len(); i++ {
		in := set.At(i)
		if _, ok := r.registered[in.Handle]; ok {
			continue
		}
		ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(in.Handle)}
		err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, int(in.Handle), &ev)
		switch err {
		case nil, unix.EEXIST:
			r.registered[in.Handle] = struct{}{}
		case unix.EBADF:
			in.Invalid = true
			flagged++
		default:
			return flagged, fmt.Errorf("epoll ctl add %d: %w: %w", in.Handle, api.ErrIO, err)
		}
	}
	if flagged > 0 {
		return flagged, nil
	}

	size := max(set.Len(), 1)
	if cap(r.events) < size {
		r.events = make([]unix.EpollEvent, size)
	}
	events := r.events[:size]
	n, err := unix.EpollWait(r.epfd, events, timeoutMs)
	if err == unix.EINTR {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("epoll wait: %w: %w", api.ErrIO, err)
	}
	for i := 0; i < n; i++ {
		if in := set.Lookup(api.Handle(events[i].Fd)); in != nil && !in.Ready {
			in.Ready = true
			flagged++
		}
	}
	return flagged, nil
}

// Forget removes h from the interest list. Must be called before h is closed,
// otherwise a reused descriptor number would look registered.
func (r *epollPoller) Forget(h api.Handle) {
	if _, ok := r.registered[h]; !ok {
		return
	}
	delete(r.registered, h)
	_ = unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, int(h), nil)
}

func (r *epollPoller) Close() error {
	clear(r.registered)
	return unix.Close(r.epfd)
}
