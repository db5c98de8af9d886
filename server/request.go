// File: server/request.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"bytes"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/momentics/hioload-httpd/api"
	"github.com/momentics/hioload-httpd/internal/session"
)

// HandlerFunc serves one request on the loop goroutine. Returning an error
// answers 500 and closes the connection. Handlers must not block: every other
// session waits while one runs.
type HandlerFunc func(*Request) error

// Request is the request/response handle passed to a HandlerFunc. It is only
// valid for the duration of the call.
type Request struct {
	srv     *Server
	sess    *session.Session
	req     *http.Request
	userCtx any

	status         int
	header         http.Header
	body           bytes.Buffer
	closeRequested bool
	err            error
}

func newRequest(s *Server, sess *session.Session, req *http.Request) *Request {
	return &Request{
		srv:    s,
		sess:   sess,
		req:    req,
		status: http.StatusOK,
		header: make(http.Header),
	}
}

// Method returns the request method.
func (r *Request) Method() string { return r.req.Method }

// URI returns the raw request target.
func (r *Request) URI() string { return r.req.RequestURI }

// Path returns the decoded URL path.
func (r *Request) Path() string { return r.req.URL.Path }

// Header returns the request headers.
func (r *Request) Header() http.Header { return r.req.Header }

// Param returns a URL parameter captured by the route pattern.
func (r *Request) Param(name string) string { return chi.URLParam(r.req, name) }

// Query returns the first value of a query parameter.
func (r *Request) Query(name string) string { return r.req.URL.Query().Get(name) }

// Body streams the request body.
func (r *Request) Body() io.Reader { return r.req.Body }

// Raw exposes the parsed request.
func (r *Request) Raw() *http.Request { return r.req }

// UserContext returns the value given to Register for this route.
func (r *Request) UserContext() any { return r.userCtx }

// Handle identifies the connection.
func (r *Request) Handle() api.Handle { return r.sess.Handle() }

// SessionID is the connection's unique log identifier.
func (r *Request) SessionID() string { return r.sess.ID() }

// SessionContext returns the per-connection value, kept across keep-alive requests.
func (r *Request) SessionContext() any { return r.sess.Context() }

// SetSessionContext replaces the per-connection value. A value implementing
// io.Closer is closed when the session ends.
func (r *Request) SetSessionContext(v any) { r.sess.SetContext(v) }

// CloseSession closes the connection once the response is written.
func (r *Request) CloseSession() { r.closeRequested = true }

// Server returns the owning server, e.g. for SendTo or QueueWork.
func (r *Request) Server() *Server { return r.srv }

// SetStatus sets the response status code.
func (r *Request) SetStatus(code int) { r.status = code }

// ResponseHeader returns the response headers.
func (r *Request) ResponseHeader() http.Header { return r.header }

// Write appends to the response body.
func (r *Request) Write(p []byte) (int, error) { return r.body.Write(p) }

// WriteString appends to the response body.
func (r *Request) WriteString(s string) (int, error) { return r.body.WriteString(s) }

// ResponseWriter adapts the response to net/http handlers.
func (r *Request) ResponseWriter() http.ResponseWriter { return responseWriter{r} }

// fail discards the partial response and answers with code.
func (r *Request) fail(code int) {
	r.status = code
	r.header = make(http.Header)
	r.body.Reset()
	r.body.WriteString(http.StatusText(code))
}

func (r *Request) response(closeAfter bool) *http.Response {
	if r.header.Get("Content-Type") == "" && r.body.Len() > 0 {
		r.header.Set("Content-Type", http.DetectContentType(r.body.Bytes()))
	}
	resp := &http.Response{
		StatusCode:    r.status,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        r.header,
		ContentLength: int64(r.body.Len()),
		Body:          io.NopCloser(bytes.NewReader(r.body.Bytes())),
		Close:         closeAfter,
		Request:       r.req,
	}
	if !r.req.ProtoAtLeast(1, 1) {
		resp.ProtoMinor = 0
		if !closeAfter {
			resp.Header.Set("Connection", "keep-alive")
		}
	}
	return resp
}

// Adapt wraps a net/http handler, e.g. promhttp.Handler().
func Adapt(h http.Handler) HandlerFunc {
	return func(r *Request) error {
		h.ServeHTTP(r.ResponseWriter(), r.req)
		return nil
	}
}

type responseWriter struct{ r *Request }

func (w responseWriter) Header() http.Header         { return w.r.header }
func (w responseWriter) Write(p []byte) (int, error) { return w.r.body.Write(p) }
func (w responseWriter) WriteHeader(code int)        { w.r.status = code }
