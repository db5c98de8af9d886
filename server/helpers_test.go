//go:build linux || darwin

// File: server/helpers_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server_test

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/http"
	"runtime"
	"runtime/pprof"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/momentics/hioload-httpd/server"
)

func testConfig() *server.Config {
	cfg := server.DefaultConfig()
	cfg.ListenPort = 0
	cfg.RecvTimeout = 2 * time.Second
	cfg.SendTimeout = 2 * time.Second
	cfg.ShutdownTimeout = 5 * time.Second
	return cfg
}

// startServer registers an echo-ish "/" handler plus whatever setup adds, starts
// the server and stops it at cleanup.
func startServer(t *testing.T, cfg *server.Config, setup func(*server.Server), opts ...server.ServerOption) *server.Server {
	t.Helper()
	opts = append([]server.ServerOption{server.WithLogger(hclog.NewNullLogger())}, opts...)
	srv := server.New(cfg, opts...)
	err := srv.Register("GET", "/", func(r *server.Request) error {
		_, err := r.WriteString("ok")
		return err
	}, nil)
	if err != nil {
		t.Fatalf("Register /: %v", err)
	}
	if setup != nil {
		setup(srv)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		if err := srv.Stop(); err != nil {
			t.Errorf("Stop: %v", err)
		}
	})
	return srv
}

type client struct {
	t    *testing.T
	conn net.Conn
	rd   *bufio.Reader
}

func dial(t *testing.T, srv *server.Server) *client {
	t.Helper()
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(int(srv.Addr().Port())))
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial %s: %v", addr, err)
	}
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	t.Cleanup(func() { conn.Close() })
	return &client{t: t, conn: conn, rd: bufio.NewReader(conn)}
}

func rawRequest(method, path string, headers ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\nHost: test\r\n", method, path)
	for _, h := range headers {
		b.WriteString(h)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	return b.String()
}

func (c *client) send(raw string) {
	c.t.Helper()
	if _, err := io.WriteString(c.conn, raw); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

func (c *client) read() (*http.Response, string) {
	c.t.Helper()
	resp, err := http.ReadResponse(c.rd, nil)
	if err != nil {
		c.t.Fatalf("read response: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		c.t.Fatalf("read body: %v", err)
	}
	return resp, string(body)
}

func (c *client) do(method, path string, headers ...string) (*http.Response, string) {
	c.t.Helper()
	c.send(rawRequest(method, path, headers...))
	return c.read()
}

// closed reports whether the server closed the connection.
func (c *client) closed() bool {
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := c.rd.ReadByte()
	return err != nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// signalStorm keeps signals arriving at every thread, the loop thread included,
// so blocking calls in the loop see EINTR.
func signalStorm(t *testing.T) {
	t.Helper()
	if err := pprof.StartCPUProfile(io.Discard); err == nil {
		t.Cleanup(pprof.StopCPUProfile)
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < runtime.GOMAXPROCS(0); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
			}
		}()
	}
	t.Cleanup(func() {
		close(done)
		wg.Wait()
	})
}
