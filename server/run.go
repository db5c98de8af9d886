// File: server/run.go
// Package server implements the core server loop: readiness wait, control drain,
// session processing and connection acceptance.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"fmt"
	"io"
	"runtime"
	"time"

	"github.com/momentics/hioload-httpd/affinity"
	"github.com/momentics/hioload-httpd/api"
	"github.com/momentics/hioload-httpd/control"
	"github.com/momentics/hioload-httpd/internal/session"
	"github.com/momentics/hioload-httpd/internal/transport"
)

const maxPollerBackoff = 100 * time.Millisecond

// run is the server loop. It owns every socket and the session table until it
// publishes STOPPED.
func (s *Server) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	log := s.log.Named("loop")
	if s.cfg.LoopCPU >= 0 {
		if err := affinity.SetAffinity(s.cfg.LoopCPU); err != nil {
			log.Warn("cannot pin loop thread", "cpu", s.cfg.LoopCPU, "error", err)
		} else {
			log.Debug("loop thread pinned", "cpu", s.cfg.LoopCPU)
		}
	}

	for !s.stopping {
		s.iterate()
	}
	s.teardown()
}

// iterate runs one pass: multiplex, drain one control message, process
// ready or pending sessions, accept.
func (s *Server) iterate() {
	s.metrics.LoopIterations.Inc()
	s.buildWaitSet()

	timeout := -1
	if s.ctrl.Backlog() > 0 || s.anyPending() {
		timeout = 0
	}
	if _, err := s.poller.Wait(s.set, timeout); err != nil {
		s.pollerFailed(err)
	} else {
		s.backoff = 0
	}

	if s.set.Ready(s.ctrl.Handle()) {
		if _, malformed := s.ctrl.Acknowledge(); malformed > 0 {
			s.metrics.ControlMalformed.Add(float64(malformed))
		}
	}
	s.drainControl()
	s.processSessions()
	if !s.stopping && s.set.Ready(s.listen) {
		s.accept()
	}
}

// buildWaitSet collects the control endpoint, the listen endpoint when a new
// connection can be handled, and every open session.
func (s *Server) buildWaitSet() {
	s.set.Reset()
	s.set.Add(s.ctrl.Handle())
	if !s.table.Full() || s.cfg.LRUPurgeEnabled || s.cfg.RejectOverflow {
		s.set.Add(s.listen)
	}
	for sess, cur := s.table.Next(session.Begin); sess != nil; sess, cur = s.table.Next(cur) {
		s.set.Add(sess.Handle())
	}
}

func (s *Server) anyPending() bool {
	for sess, cur := s.table.Next(session.Begin); sess != nil; sess, cur = s.table.Next(cur) {
		if sess.State() == api.SessionActive && sess.Pending() {
			return true
		}
	}
	return false
}

// pollerFailed purges sessions whose descriptor is gone and backs off so a
// persistently failing poller does not spin the loop.
func (s *Server) pollerFailed(err error) {
	s.metrics.PollerErrors.Inc()
	s.set.ClearResults()
	log := s.log.Named("loop")
	log.Warn("readiness wait failed", "error", err)

	purged := 0
	for sess, cur := s.table.Next(session.Begin); sess != nil; sess, cur = s.table.Next(cur) {
		if !transport.Valid(sess.Handle()) {
			cur = s.deleteSession(sess, control.CloseReasonInvalid)
			purged++
		}
	}
	if purged > 0 {
		log.Info("purged invalid sessions", "count", purged)
	}

	s.backoff = min(max(2*s.backoff, time.Millisecond), maxPollerBackoff)
	time.Sleep(s.backoff)
}

// drainControl executes at most one control message.
func (s *Server) drainControl() {
	m, ok := s.ctrl.TryReceive()
	if !ok {
		return
	}
	s.metrics.ControlMessages.WithLabelValues(m.Kind.String()).Inc()
	switch m.Kind {
	case control.KindShutdown:
		if !s.stopping {
			s.stopping = true
			s.state.Store(int32(api.StateStopping))
			s.log.Named("loop").Info("shutdown requested", "sessions", s.table.Len())
		}
	case control.KindWork:
		s.runWork(m)
	}
}

func (s *Server) runWork(m control.Message) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.WorkPanics.Inc()
			s.log.Named("control").Error("queued work panicked", "panic", fmt.Sprint(r))
		}
	}()
	m.Fn(m.Arg)
}

// processSessions walks the table once. A session deleted during the walk hands
// back its predecessor's cursor, so no other session is skipped or revisited.
func (s *Server) processSessions() {
	for sess, cur := s.table.Next(session.Begin); sess != nil; sess, cur = s.table.Next(cur) {
		h := sess.Handle()
		switch {
		case s.set.Invalid(h):
			cur = s.deleteSession(sess, control.CloseReasonInvalid)
			continue
		case sess.State() == api.SessionPendingClose:
			continue
		case !s.set.Ready(h) && !sess.Pending():
			continue
		}
		if keep, reason := s.process(sess); !keep {
			cur = s.deleteSession(sess, reason)
		}
	}
}

// deleteSession runs the close hooks, releases the slot and closes the socket.
// It returns the cursor a table walk continues from.
func (s *Server) deleteSession(sess *session.Session, reason string) session.Cursor {
	h, id, ctx := sess.Handle(), sess.ID(), sess.Context()
	log := s.log.Named("loop")

	if s.onClose != nil {
		s.onClose(h, ctx)
	}
	if c, ok := ctx.(io.Closer); ok {
		if err := c.Close(); err != nil {
			log.Debug("session context close failed", "handle", h, "session", id, "error", err)
		}
	}
	s.streams[sess.Slot()].detach()
	s.poller.Forget(h)
	cur, _ := s.table.Delete(h)
	if err := transport.Close(h); err != nil {
		log.Debug("close failed", "handle", h, "session", id, "error", err)
	}

	s.metrics.SessionsClosed.WithLabelValues(reason).Inc()
	s.metrics.SessionsActive.Set(float64(s.table.Len()))
	log.Debug("session closed", "handle", h, "session", id, "reason", reason)
	return cur
}

// closeHandle deletes the session owning h if it is still open and, when id is
// set, still the same session. Loop only, outside the processing walk.
func (s *Server) closeHandle(h api.Handle, id, reason string) {
	sess, ok := s.table.Get(h)
	if !ok || (id != "" && sess.ID() != id) {
		return
	}
	s.deleteSession(sess, reason)
}

// teardown closes every session and the listen endpoint, then publishes STOPPED.
func (s *Server) teardown() {
	log := s.log.Named("loop")
	closed := 0
	for sess, cur := s.table.Next(session.Begin); sess != nil; sess, cur = s.table.Next(cur) {
		cur = s.deleteSession(sess, control.CloseReasonShutdown)
		closed++
	}
	if n := s.ctrl.Discard(); n > 0 {
		log.Warn("dropping control messages queued behind shutdown", "count", n)
	}
	s.poller.Forget(s.listen)
	s.poller.Forget(s.ctrl.Handle())
	transport.Close(s.listen)
	log.Info("server loop stopped", "sessions_closed", closed)

	s.state.Store(int32(api.StateStopped))
	close(s.done)
}
