// File: cmd/hioload-httpd/main_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func runConfig(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	err := app.Run(append([]string{"hioload-httpd"}, args...))
	return out.String(), err
}

func TestConfigCommand_Defaults(t *testing.T) {
	out, err := runConfig(t, "config")
	if err != nil {
		t.Fatalf("config: %v\n%s", err, out)
	}
	for _, want := range []string{"max_sessions: 16", "listen_port: 8080", "level: info", "recv_timeout: 5s"} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}
}

func TestConfigCommand_Layers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "httpd.yaml")
	if err := os.WriteFile(path, []byte("server:\n  max_sessions: 4\n  lru_purge: true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HTTPD_LOG__LEVEL", "debug")

	out, err := runConfig(t, "--config", path, "--max-sessions", "9", "config")
	if err != nil {
		t.Fatalf("config: %v\n%s", err, out)
	}
	for _, want := range []string{"max_sessions: 9", "lru_purge: true", "level: debug"} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}
}

func TestConfigCommand_Invalid(t *testing.T) {
	if _, err := runConfig(t, "--max-sessions", "0", "config"); err == nil {
		t.Fatal("expected validation error")
	}
	if _, err := runConfig(t, "--poller", "kqueue", "config"); err == nil {
		t.Fatal("expected poller error")
	}
}

func TestNewLogger(t *testing.T) {
	if l := newLogger(logConfig{Level: "bogus"}); !l.IsInfo() || l.IsDebug() {
		t.Error("unknown level should fall back to info")
	}
	if l := newLogger(logConfig{Level: "trace", JSON: true}); !l.IsTrace() {
		t.Error("trace not applied")
	}
}
