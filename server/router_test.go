// File: server/router_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/momentics/hioload-httpd/api"
)

func TestRegisterValidation(t *testing.T) {
	s := New(DefaultConfig(), WithLogger(hclog.NewNullLogger()))
	ok := func(*Request) error { return nil }

	if err := s.Register("GET", "/a", ok, nil); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Register("get", "/a", ok, nil); !errors.Is(err, api.ErrAlreadyExists) {
		t.Errorf("duplicate err = %v", err)
	}
	if err := s.Register("POST", "/a", ok, nil); err != nil {
		t.Errorf("same pattern, other method: %v", err)
	}
	if err := s.Register("", "/b", ok, nil); err != nil {
		t.Errorf("any method: %v", err)
	}
	if err := s.Register("*", "/b", ok, nil); !errors.Is(err, api.ErrAlreadyExists) {
		t.Errorf("'*' should alias the empty method, err = %v", err)
	}

	bad := []struct{ method, pattern string }{
		{"GET", "no-slash"},
		{"GET", "/{id"},
		{"BREW", "/coffee"},
	}
	for _, b := range bad {
		if err := s.Register(b.method, b.pattern, ok, nil); !errors.Is(err, api.ErrInvalidArgument) {
			t.Errorf("Register(%q, %q) err = %v", b.method, b.pattern, err)
		}
	}
	if err := s.Register("GET", "/nil", nil, nil); !errors.Is(err, api.ErrInvalidArgument) {
		t.Errorf("nil handler err = %v", err)
	}
}

func TestRegisterAfterStart(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ListenPort = 0
	cfg.ShutdownTimeout = 5 * time.Second
	s := New(cfg, WithLogger(hclog.NewNullLogger()))
	if err := s.Start(); err != nil {
		t.Skipf("cannot start: %v", err)
	}
	defer s.Stop()
	if err := s.Register("GET", "/late", func(*Request) error { return nil }, nil); !errors.Is(err, api.ErrAlreadyRunning) {
		t.Errorf("err = %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	cases := map[string]func(*Config){
		"max_sessions":  func(c *Config) { c.MaxSessions = 0 },
		"timeouts":      func(c *Config) { c.RecvTimeout = -time.Second },
		"control_queue": func(c *Config) { c.ControlQueue = 0 },
		"read_buffer":   func(c *Config) { c.ReadBufferSize = 8 },
		"poller":        func(c *Config) { c.Poller = "kqueue" },
		"loop_cpu":      func(c *Config) { c.LoopCPU = -2 },
	}
	for name, mutate := range cases {
		c := DefaultConfig()
		mutate(c)
		if err := c.Validate(); !errors.Is(err, api.ErrInvalidArgument) {
			t.Errorf("%s: err = %v", name, err)
		}
	}

	c := DefaultConfig()
	c.MaxSessions, c.ControlQueue = -1, -1
	err := c.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"max_sessions", "control_queue"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

