// File: server/server.go
// Package server implements the embedded HTTP server: a single loop goroutine that
// owns the listen socket, the session table and the control channel.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/momentics/hioload-httpd/api"
	"github.com/momentics/hioload-httpd/control"
	"github.com/momentics/hioload-httpd/internal/session"
	"github.com/momentics/hioload-httpd/internal/transport"
	"github.com/momentics/hioload-httpd/reactor"
)

// stopPollInterval bounds each sleep of Stop while it waits for STOPPED.
const stopPollInterval = time.Millisecond

var _ api.Control = (*Server)(nil)

// Server is one embedded HTTP server instance. Create it with New, register
// handlers, then Start. After Stop it cannot be started again.
type Server struct {
	cfg      Config
	log      hclog.Logger
	registry prometheus.Registerer
	metrics  *control.Metrics
	probes   *control.DebugProbes
	router   *router
	onOpen   OpenHook
	onClose  CloseHook

	state atomic.Int32

	// mu guards the lifecycle fields below against concurrent Start/Stop/accessors.
	mu          sync.Mutex
	poller      api.Poller
	ownPoller   bool
	listen      api.Handle
	ctrl        *control.Channel
	table       *session.Table
	addr        netip.AddrPort
	done        chan struct{}
	releaseOnce sync.Once

	// loop-owned
	streams  []stream
	set      *api.WaitSet
	stopping bool
	backoff  time.Duration
}

// New builds a server in the CREATED state. The configuration is copied and
// validated by Start.
func New(cfg *Config, opts ...ServerOption) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &Server{
		cfg:    *cfg,
		listen: api.InvalidHandle,
		router: newRouter(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = hclog.New(&hclog.LoggerOptions{Name: "httpd", Level: hclog.Info})
	}
	s.metrics = control.NewMetrics(control.WithRegistry(s.registry))
	if s.probes == nil {
		s.probes = control.NewDebugProbes()
	}
	s.registerProbes()
	s.state.Store(int32(api.StateCreated))
	return s
}

// Register binds fn to method and pattern (chi syntax, e.g. "/users/{id}").
// An empty method or "*" matches every method. userCtx is handed to fn through
// Request.UserContext. Handlers can only be registered before Start.
func (s *Server) Register(method, pattern string, fn HandlerFunc, userCtx any) error {
	if fn == nil {
		return fmt.Errorf("register %s %s: nil handler: %w", method, pattern, api.ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State() != api.StateCreated {
		return fmt.Errorf("register %s %s: %w", method, pattern, api.ErrAlreadyRunning)
	}
	return s.router.add(method, pattern, fn, userCtx)
}

// Start validates the configuration, opens the endpoints and launches the loop.
// On failure every partially opened resource is released and the server stays CREATED.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.State() {
	case api.StateCreated:
	case api.StateStopped:
		return fmt.Errorf("start: server was stopped: %w", api.ErrNotRunning)
	default:
		return api.ErrAlreadyRunning
	}
	if err := s.cfg.Validate(); err != nil {
		return err
	}

	table, err := session.NewTable(s.cfg.MaxSessions)
	if err != nil {
		return err
	}
	var cleanup []func()
	fail := func(err error) error {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
		s.log.Error("server start failed", "error", err)
		return err
	}

	poller, own := s.poller, false
	if poller == nil {
		kind, _ := reactor.ParseKind(s.cfg.Poller)
		if poller, err = reactor.New(kind); err != nil {
			return fail(err)
		}
		own = true
		cleanup = append(cleanup, func() { poller.Close() })
	}

	listen, err := transport.Listen(transport.ListenConfig{Port: s.cfg.ListenPort, Backlog: s.cfg.Backlog})
	if err != nil {
		return fail(err)
	}
	cleanup = append(cleanup, func() { transport.Close(listen) })
	addr, err := transport.LocalAddr(listen)
	if err != nil {
		return fail(err)
	}

	ctrl, err := control.NewChannel(s.cfg.ControlPort, s.cfg.ControlQueue, s.log.Named("control"))
	if err != nil {
		return fail(err)
	}

	s.poller, s.ownPoller = poller, own
	s.listen = listen
	s.addr = addr
	s.ctrl = ctrl
	s.table = table
	s.streams = make([]stream, s.cfg.MaxSessions)
	s.set = api.NewWaitSet(s.cfg.MaxSessions + 2)
	s.done = make(chan struct{})
	s.state.Store(int32(api.StateRunning))

	s.log.Info("server started",
		"addr", addr.String(),
		"control", ctrl.Addr().String(),
		"max_sessions", s.cfg.MaxSessions,
		"lru_purge", s.cfg.LRUPurgeEnabled,
	)
	go s.run()
	return nil
}

// Stop requests shutdown and blocks until the loop reports STOPPED, then releases
// the remaining resources. Stopping a stopped server is a no-op. Stop must not be
// called from the loop goroutine (a handler or queued work).
func (s *Server) Stop() error {
	switch s.State() {
	case api.StateCreated:
		return fmt.Errorf("stop: %w", api.ErrNotRunning)
	case api.StateStopped:
		s.release()
		return nil
	}

	var deadline time.Time
	if s.cfg.ShutdownTimeout > 0 {
		deadline = time.Now().Add(s.cfg.ShutdownTimeout)
	}
	expired := func() bool { return !deadline.IsZero() && time.Now().After(deadline) }

	for s.State() == api.StateRunning {
		err := s.ctrl.Send(control.Message{Kind: control.KindShutdown})
		if err == nil || errors.Is(err, api.ErrNotRunning) {
			break
		}
		if !errors.Is(err, api.ErrQueueFull) {
			return fmt.Errorf("stop: %w", err)
		}
		if expired() {
			return fmt.Errorf("stop: control queue full: %w", api.ErrTimeout)
		}
		time.Sleep(stopPollInterval)
	}
	for s.State() != api.StateStopped {
		if expired() {
			return fmt.Errorf("stop: loop still running after %v: %w", s.cfg.ShutdownTimeout, api.ErrTimeout)
		}
		time.Sleep(stopPollInterval)
	}
	s.release()
	return nil
}

// release frees what the loop leaves behind once it is STOPPED.
func (s *Server) release() {
	s.releaseOnce.Do(func() {
		<-s.done
		s.mu.Lock()
		defer s.mu.Unlock()
		s.ctrl.Close()
		if n := s.ctrl.Discard(); n > 0 {
			s.log.Warn("dropped control messages queued after shutdown", "count", n)
		}
		if s.ownPoller {
			s.poller.Close()
		}
		s.log.Info("server stopped")
	})
}

// QueueWork hands fn(arg) to the loop goroutine and returns immediately. fn runs
// exactly once, in submission order with other queued work, unless the server stops
// first. arg must stay valid until fn has run.
func (s *Server) QueueWork(fn api.WorkFunc, arg any) error {
	if s == nil || fn == nil {
		return fmt.Errorf("queue work: %w", api.ErrInvalidArgument)
	}
	ctrl, err := s.channel()
	if err != nil {
		return err
	}
	return ctrl.Send(control.Message{Kind: control.KindWork, Fn: fn, Arg: arg})
}

// TriggerClose asks the loop to close the session owning h at the time of the
// call. A session that has since been replaced on the same descriptor is left
// open, and a handle that is not open is ignored.
func (s *Server) TriggerClose(h api.Handle) error {
	if !h.Valid() {
		return fmt.Errorf("trigger close %v: %w", h, api.ErrInvalidArgument)
	}
	ctrl, err := s.channel()
	if err != nil {
		return err
	}
	id, ok := s.sessions().SessionID(h)
	if !ok {
		return nil
	}
	return ctrl.Send(control.Message{
		Kind: control.KindWork,
		Fn:   func(any) { s.closeHandle(h, id, control.CloseReasonTrigger) },
	})
}

// SendTo queues data for the session owning h; the loop writes it on its next
// iteration. It must be called on the loop goroutine, from queued work or a handler.
func (s *Server) SendTo(h api.Handle, data []byte) error {
	if s.table == nil || s.State() != api.StateRunning {
		return fmt.Errorf("send to %v: %w", h, api.ErrNotRunning)
	}
	sess, ok := s.table.Get(h)
	if !ok || sess.State() == api.SessionPendingClose {
		return fmt.Errorf("send to %v: %w", h, api.ErrNotFound)
	}
	sess.Enqueue(append([]byte(nil), data...))
	return nil
}

// OpenConnections returns the handles of all open sessions in slot order.
func (s *Server) OpenConnections() []api.Handle {
	t := s.sessions()
	if t == nil {
		return nil
	}
	return t.Handles()
}

// CopyOpenConnections copies the open handles into dst and returns their count.
// It fails with api.ErrInvalidArgument when dst is shorter than the open count.
func (s *Server) CopyOpenConnections(dst []api.Handle) (int, error) {
	t := s.sessions()
	if t == nil {
		return 0, nil
	}
	return t.CopyHandles(dst)
}

// State returns the lifecycle state.
func (s *Server) State() api.State { return api.State(s.state.Load()) }

// Addr returns the bound listen address; valid after Start.
func (s *Server) Addr() netip.AddrPort {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// ControlAddr returns the loopback address of the control channel; valid after Start.
func (s *Server) ControlAddr() netip.AddrPort {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctrl == nil {
		return netip.AddrPort{}
	}
	return s.ctrl.Addr()
}

// Metrics exposes the server's collectors.
func (s *Server) Metrics() *control.Metrics { return s.metrics }

// Probes exposes the debug probes the server registered itself on.
func (s *Server) Probes() *control.DebugProbes { return s.probes }

func (s *Server) channel() (*control.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctrl == nil || s.State() == api.StateStopped {
		return nil, api.ErrNotRunning
	}
	return s.ctrl, nil
}

func (s *Server) sessions() *session.Table {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table
}

func (s *Server) registerProbes() {
	s.probes.RegisterProbe("server.state", func() any { return s.State().String() })
	s.probes.RegisterProbe("server.sessions", func() any { return len(s.OpenConnections()) })
	s.probes.RegisterProbe("server.max_sessions", func() any { return s.cfg.MaxSessions })
	s.probes.RegisterProbe("server.addr", func() any { return s.Addr().String() })
	s.probes.RegisterProbe("server.control_backlog", func() any {
		if ctrl, err := s.channel(); err == nil {
			return ctrl.Backlog()
		}
		return 0
	})
}
