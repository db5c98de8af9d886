// Package control
// Author: momentics <momentics@gmail.com>
//
// Out-of-band control of a running server: the loopback control channel that carries
// deferred work and shutdown requests into the server loop, Prometheus metrics,
// file/env configuration loading with hot reload, and debug probes.
//
// Channel.Send is safe from any goroutine; every other Channel method belongs to the
// server loop.
package control
