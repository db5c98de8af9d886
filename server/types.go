// File: server/types.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/momentics/hioload-httpd/api"
	"github.com/momentics/hioload-httpd/control"
	"github.com/momentics/hioload-httpd/reactor"
)

// Config holds the static server configuration. It is validated by Start and
// never changes while the server runs.
type Config struct {
	MaxSessions     int           `koanf:"max_sessions"`     // session table capacity, > 0
	LRUPurgeEnabled bool          `koanf:"lru_purge"`        // evict the least recently used session when full
	RejectOverflow  bool          `koanf:"reject_overflow"`  // accept-and-close when full without purge
	ListenPort      uint16        `koanf:"listen_port"`      // TCP port on all interfaces, 0 = ephemeral
	ControlPort     uint16        `koanf:"control_port"`     // loopback UDP port, 0 = ephemeral
	RecvTimeout     time.Duration `koanf:"recv_timeout"`     // per-session SO_RCVTIMEO, 0 = none
	SendTimeout     time.Duration `koanf:"send_timeout"`     // per-session SO_SNDTIMEO, 0 = none
	Backlog         int           `koanf:"backlog"`          // listen backlog, <= 0 = SOMAXCONN
	ControlQueue    int           `koanf:"control_queue"`    // undelivered control messages
	ReadBufferSize  int           `koanf:"read_buffer"`      // per-session request buffer
	Poller          string        `koanf:"poller"`           // "", "poll" or "epoll"
	LoopCPU         int           `koanf:"loop_cpu"`         // pin the loop thread, -1 = no pinning
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"` // Stop gives up after this, 0 = wait forever
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxSessions:     16,
		LRUPurgeEnabled: false,
		RejectOverflow:  true,
		ListenPort:      8080,
		ControlPort:     0,
		RecvTimeout:     5 * time.Second,
		SendTimeout:     5 * time.Second,
		Backlog:         16,
		ControlQueue:    control.DefaultQueueDepth,
		ReadBufferSize:  4096,
		Poller:          "",
		LoopCPU:         -1,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Validate reports every invalid field; the error wraps api.ErrInvalidArgument.
func (c *Config) Validate() error {
	var errs []error
	if c.MaxSessions <= 0 {
		errs = append(errs, fmt.Errorf("max_sessions must be positive, got %d", c.MaxSessions))
	}
	if c.RecvTimeout < 0 || c.SendTimeout < 0 {
		errs = append(errs, fmt.Errorf("timeouts must not be negative"))
	}
	if c.ControlQueue <= 0 {
		errs = append(errs, fmt.Errorf("control_queue must be positive, got %d", c.ControlQueue))
	}
	if c.ReadBufferSize < 16 {
		errs = append(errs, fmt.Errorf("read_buffer must be at least 16, got %d", c.ReadBufferSize))
	}
	if _, err := reactor.ParseKind(c.Poller); err != nil {
		errs = append(errs, err)
	}
	if c.LoopCPU < -1 {
		errs = append(errs, fmt.Errorf("loop_cpu must be -1 or a cpu index, got %d", c.LoopCPU))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("invalid config: %w: %w", api.ErrInvalidArgument, errors.Join(errs...))
}
