// File: server/acceptor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Connection acceptance and the capacity policy.

package server

import (
	"errors"

	"github.com/momentics/hioload-httpd/api"
	"github.com/momentics/hioload-httpd/control"
	"github.com/momentics/hioload-httpd/internal/transport"
)

// accept handles readiness of the listen endpoint.
func (s *Server) accept() {
	log := s.log.Named("acceptor")

	if s.table.Full() {
		if s.cfg.LRUPurgeEnabled {
			s.scheduleEviction()
			return
		}
		if !s.cfg.RejectOverflow {
			return
		}
		// fall through: accept and close below
	}

	h, peer, err := transport.Accept(s.listen)
	if err != nil {
		if !errors.Is(err, api.ErrTimeout) {
			log.Warn("accept failed", "error", err)
		}
		return
	}
	reject := func(msg string, args ...any) {
		transport.Close(h)
		s.metrics.ConnectionsRejected.Inc()
		log.Warn(msg, append([]any{"peer", peer}, args...)...)
	}

	timeouts := transport.Timeouts{Recv: s.cfg.RecvTimeout, Send: s.cfg.SendTimeout}
	if err := transport.SetTimeouts(h, timeouts); err != nil {
		reject("cannot apply socket timeouts", "error", err)
		return
	}
	if s.onOpen != nil {
		if err := s.onOpen(h, peer); err != nil {
			reject("connection refused by open hook", "error", err)
			return
		}
	}
	sess, err := s.table.Insert(h)
	if err != nil {
		reject("rejecting connection", "error", err, "sessions", s.table.Len())
		return
	}
	s.streams[sess.Slot()].attach(h, s.cfg.ReadBufferSize, timeouts)

	s.metrics.ConnectionsAccepted.Inc()
	s.metrics.SessionsActive.Set(float64(s.table.Len()))
	log.Debug("session opened", "handle", h, "session", sess.ID(), "peer", peer, "slot", sess.Slot())
}

// scheduleEviction marks the least recently used session PENDING_CLOSE and
// queues its close; acceptance is retried on a later iteration.
func (s *Server) scheduleEviction() {
	if s.table.HasPendingClose() {
		return
	}
	victim := s.table.LeastRecentlyUsed()
	if victim == nil {
		return
	}
	h, id := victim.Handle(), victim.ID()
	s.table.MarkPendingClose(victim)

	err := s.ctrl.Send(control.Message{
		Kind: control.KindWork,
		Fn:   func(any) { s.closeHandle(h, id, control.CloseReasonEvicted) },
	})
	if err != nil {
		// queue full: evict now, outside the processing walk
		s.log.Named("acceptor").Debug("eviction not queued, closing inline", "handle", h, "error", err)
		s.closeHandle(h, id, control.CloseReasonEvicted)
	}
	s.metrics.SessionsEvicted.Inc()
	s.log.Named("acceptor").Info("evicting least recently used session", "handle", h, "session", id)
}
