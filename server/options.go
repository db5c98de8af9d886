// File: server/options.go
// Package server defines functional options for the Server.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/momentics/hioload-httpd/api"
	"github.com/momentics/hioload-httpd/control"
)

// ServerOption customizes server initialization.
type ServerOption func(*Server)

// OpenHook runs on the loop for every accepted connection before it is registered.
// A non-nil error closes the connection without creating a session.
type OpenHook func(h api.Handle, peer string) error

// CloseHook runs on the loop for every deleted session, before its socket is closed.
type CloseHook func(h api.Handle, sessionCtx any)

// WithLogger sets the logger; sub-loggers are derived with Named.
func WithLogger(l hclog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithRegistry registers the server metrics with r instead of a private registry.
func WithRegistry(r prometheus.Registerer) ServerOption {
	return func(s *Server) {
		s.registry = r
	}
}

// WithPoller replaces the readiness multiplexer chosen by Config.Poller.
// The server does not close a poller it did not create.
func WithPoller(p api.Poller) ServerOption {
	return func(s *Server) {
		s.poller = p
	}
}

// WithOpenHook installs a connection admission hook.
func WithOpenHook(fn OpenHook) ServerOption {
	return func(s *Server) {
		s.onOpen = fn
	}
}

// WithCloseHook installs a session teardown hook.
func WithCloseHook(fn CloseHook) ServerOption {
	return func(s *Server) {
		s.onClose = fn
	}
}

// WithDebugProbes registers the server's probes on dp.
func WithDebugProbes(dp *control.DebugProbes) ServerOption {
	return func(s *Server) {
		if dp != nil {
			s.probes = dp
		}
	}
}
