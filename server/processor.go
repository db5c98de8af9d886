// File: server/processor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// One request/response exchange per invocation.

package server

import (
	"bufio"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/momentics/hioload-httpd/api"
	"github.com/momentics/hioload-httpd/control"
	"github.com/momentics/hioload-httpd/internal/session"
	"github.com/momentics/hioload-httpd/internal/transport"
)

// maxDrainBody bounds how much of an unread request body is discarded to keep
// the connection reusable; larger leftovers close the connection.
const maxDrainBody = 256 << 10

// stream is the per-slot I/O state. Buffers survive slot reuse.
type stream struct {
	conn *transport.Conn
	rd   *bufio.Reader
}

func (st *stream) attach(h api.Handle, size int, t transport.Timeouts) {
	st.conn = transport.NewConn(h, t)
	if st.rd == nil {
		st.rd = bufio.NewReaderSize(st.conn, size)
		return
	}
	st.rd.Reset(st.conn)
}

func (st *stream) detach() {
	st.conn = nil
	if st.rd != nil {
		st.rd.Reset(nil)
	}
}

func (st *stream) buffered() int {
	if st.conn == nil {
		return 0
	}
	return st.rd.Buffered()
}

// process advances sess by one exchange. keep is false when the session must be
// deleted; reason then labels the close.
func (s *Server) process(sess *session.Session) (keep bool, reason string) {
	st := &s.streams[sess.Slot()]
	log := s.log.Named("loop")

	for chunk := sess.PeekOutbound(); chunk != nil; chunk = sess.PeekOutbound() {
		if _, err := st.conn.Write(chunk); err != nil {
			log.Debug("queued write failed", "handle", sess.Handle(), "session", sess.ID(), "error", err)
			return false, control.CloseReasonError
		}
		sess.PopOutbound()
		s.table.Touch(sess)
	}
	if !s.set.Ready(sess.Handle()) && st.buffered() == 0 {
		sess.SetPending(false)
		return true, ""
	}

	req, err := http.ReadRequest(st.rd)
	if err != nil {
		switch {
		case errors.Is(err, io.EOF):
			return false, control.CloseReasonPeer
		case errors.Is(err, api.ErrIO), errors.Is(err, api.ErrTimeout), errors.Is(err, io.ErrUnexpectedEOF):
			log.Debug("read failed", "handle", sess.Handle(), "session", sess.ID(), "error", err)
		default:
			log.Debug("malformed request", "handle", sess.Handle(), "session", sess.ID(), "error", err)
			s.writeError(st, http.StatusBadRequest)
		}
		return false, control.CloseReasonError
	}
	s.table.Touch(sess)

	rq := newRequest(s, sess, req)
	herr := s.router.dispatch(rq)
	if herr != nil {
		log.Debug("handler failed", "handle", sess.Handle(), "session", sess.ID(),
			"method", req.Method, "uri", req.RequestURI, "error", herr)
		rq.fail(http.StatusInternalServerError)
	}
	drained := drainBody(req.Body)

	closeAfter := req.Close || rq.closeRequested || herr != nil || !drained
	resp := rq.response(closeAfter)
	s.metrics.Requests.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
	if err := resp.Write(st.conn); err != nil {
		log.Debug("write failed", "handle", sess.Handle(), "session", sess.ID(), "error", err)
		return false, control.CloseReasonError
	}
	s.table.Touch(sess)

	if closeAfter {
		if herr != nil {
			return false, control.CloseReasonError
		}
		return false, control.CloseReasonKeepOff
	}
	sess.SetPending(st.buffered() > 0)
	return true, ""
}

// writeError sends a bodiless status line before the connection is dropped.
func (s *Server) writeError(st *stream, code int) {
	resp := &http.Response{
		StatusCode: code,
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     http.Header{"Connection": {"close"}},
		Close:      true,
	}
	if resp.Write(st.conn) == nil {
		s.metrics.Requests.WithLabelValues(strconv.Itoa(code)).Inc()
	}
}

// drainBody discards what the handler left unread. It reports false when the
// body could not be consumed entirely.
func drainBody(body io.ReadCloser) bool {
	if body == nil || body == http.NoBody {
		return true
	}
	defer body.Close()
	_, err := io.CopyN(io.Discard, body, maxDrainBody+1)
	return errors.Is(err, io.EOF)
}
