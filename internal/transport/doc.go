// File: internal/transport/doc.go
// Package transport
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Thin socket layer for the server loop: listen/accept on a TCP endpoint, per-socket
// receive/send timeouts, the loopback UDP control endpoint, and an io.ReadWriter over a
// descriptor. Endpoints are raw descriptors (api.Handle) so every one of them can sit in
// the same readiness wait-set. Unix implementations live behind build tags; other
// platforms get a stub that reports api.ErrNotSupported.

package transport
