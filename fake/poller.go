// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

// Package fake provides test doubles for the server's collaborators.
package fake

import (
	"errors"
	"sync"

	"github.com/momentics/hioload-httpd/api"
)

// ErrInjected is returned by Poller.Wait while a failure is armed.
var ErrInjected = errors.New("fake: injected poller failure")

// Poller wraps a real api.Poller and injects failures on demand.
type Poller struct {
	Inner api.Poller

	mu       sync.Mutex
	failures int
	waits    int
	forgot   []api.Handle
	closed   bool
}

// NewPoller wraps inner.
func NewPoller(inner api.Poller) *Poller {
	return &Poller{Inner: inner}
}

// FailNext makes the next n calls to Wait fail with ErrInjected.
func (p *Poller) FailNext(n int) {
	p.mu.Lock()
	p.failures += n
	p.mu.Unlock()
}

// Waits returns the number of Wait calls so far.
func (p *Poller) Waits() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waits
}

// Forgotten returns the handles passed to Forget, in order.
func (p *Poller) Forgotten() []api.Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]api.Handle(nil), p.forgot...)
}

// Closed reports whether Close was called.
func (p *Poller) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Poller) Wait(set *api.WaitSet, timeoutMs int) (int, error) {
	p.mu.Lock()
	p.waits++
	fail := p.failures > 0
	if fail {
		p.failures--
	}
	p.mu.Unlock()
	if fail {
		return 0, ErrInjected
	}
	return p.Inner.Wait(set, timeoutMs)
}

func (p *Poller) Forget(h api.Handle) {
	p.mu.Lock()
	p.forgot = append(p.forgot, h)
	p.mu.Unlock()
	p.Inner.Forget(h)
}

func (p *Poller) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return p.Inner.Close()
}
